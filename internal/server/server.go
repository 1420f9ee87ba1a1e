// Package server exposes sessions over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/dispatcher"
	"github.com/dinorun/posecontrol/internal/logging"
	"github.com/dinorun/posecontrol/internal/session"
	"github.com/dinorun/posecontrol/internal/storage"
	"github.com/dinorun/posecontrol/pkg/core"
	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Dependencies holds all dependencies for the server.
type Dependencies struct {
	Server     config.ServerConfig
	Gesture    config.GestureConfig
	Storage    storage.Backend
	TimeSeries session.TimeSeries
	Logger     *slog.Logger
	Active     *logging.ActiveSessions

	DispatchLogger dispatcher.Logger
}

// Server serves the REST API and the pose WebSocket.
type Server struct {
	deps     Dependencies
	sessions *session.Registry
	engine   *gin.Engine
	upgrader ws.Upgrader
	logger   *slog.Logger
}

// New builds the server and its router.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		deps:     deps,
		sessions: session.NewRegistry(),
		logger:   deps.Logger,
		upgrader: ws.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.engine = s.router()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Sessions returns the registry of live sessions.
func (s *Server) Sessions() *session.Registry {
	return s.sessions
}

// Run listens on the configured address until ctx is cancelled, then stops
// all sessions and shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.deps.Server.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.sessions.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	if dir := s.deps.Server.StaticDir; dir != "" {
		r.Static("/client", dir)
		r.StaticFile("/", filepath.Join(dir, "index.html"))
	}

	api := r.Group("/api")
	api.GET("/healthz", s.handleHealth)
	api.GET("/ws", s.handleWS)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.POST("/sessions/:id/recalibrate", s.handleRecalibrate)
	api.POST("/scores", s.handlePostScore)
	api.GET("/scores/high", s.handleHighScore)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		s.logger.Debug("HTTP request",
			"method", ctx.Request.Method,
			"path", ctx.FullPath(),
			"status", ctx.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleListSessions(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"sessions": s.sessions.IDs()})
}

// liveSession is the view of a session that is still connected.
type liveSession struct {
	Session     core.Session          `json:"session"`
	State       core.CalibrationState `json:"state"`
	ReferenceY  *float64              `json:"referenceY,omitempty"`
	LastGesture core.Gesture          `json:"lastGesture"`
	Live        bool                  `json:"live"`
}

func (s *Server) handleGetSession(ctx *gin.Context) {
	id := ctx.Param("id")

	if sess, ok := s.sessions.Get(id); ok {
		view := liveSession{
			Session:     sess.Info(),
			State:       sess.Calibration().State(),
			LastGesture: sess.Last(),
			Live:        true,
		}
		if b, ok := sess.Calibration().Baseline(); ok {
			view.ReferenceY = &b.ReferenceY
		}
		ctx.JSON(http.StatusOK, view)
		return
	}

	reader, ok := s.deps.Storage.(storage.SessionReader)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	sum, err := reader.LoadSession(id)
	if errors.Is(err, core.ErrNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to load session", "session", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	ctx.JSON(http.StatusOK, sum)
}

type recalibrateRequest struct {
	DelayMs int64 `json:"delayMs"`
}

func (s *Server) handleRecalibrate(ctx *gin.Context) {
	sess, ok := s.sessions.Get(ctx.Param("id"))
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req recalibrateRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	tok := sess.Recalibrate(time.Duration(req.DelayMs) * time.Millisecond)
	ctx.JSON(http.StatusAccepted, gin.H{
		"sessionId": sess.ID(),
		"token":     uint64(tok),
		"state":     sess.Calibration().State(),
	})
}

type scoreRequest struct {
	SessionID string `json:"sessionId"`
	Score     *uint  `json:"score" binding:"required"`
}

func (s *Server) handlePostScore(ctx *gin.Context) {
	var req scoreRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.deps.Storage == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "no storage configured"})
		return
	}

	score := core.Score{SessionID: req.SessionID, Time: time.Now(), Value: *req.Score}
	if err := s.deps.Storage.RecordScore(&score); err != nil {
		s.logger.Error("Failed to record score", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record score"})
		return
	}
	ctx.JSON(http.StatusCreated, score)
}

func (s *Server) handleHighScore(ctx *gin.Context) {
	if s.deps.Storage == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "no storage configured"})
		return
	}
	best, ok, err := s.deps.Storage.HighScore()
	if err != nil {
		s.logger.Error("Failed to query high score", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query high score"})
		return
	}
	if !ok {
		ctx.JSON(http.StatusOK, gin.H{"highScore": nil})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"highScore": best})
}
