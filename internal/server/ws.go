package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dinorun/posecontrol/internal/dispatcher"
	"github.com/dinorun/posecontrol/internal/posenet"
	"github.com/dinorun/posecontrol/internal/session"
	"github.com/dinorun/posecontrol/pkg/core"
	"github.com/dinorun/posecontrol/pkg/streaming"
	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
)

// gestureQueueSize bounds the per-connection gesture queue so a slow socket
// never stalls the tick loop.
const gestureQueueSize = 64

// handleWS upgrades the request and runs one session for the lifetime of
// the connection.
func (s *Server) handleWS(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", ctx.Request.RemoteAddr, "error", err)
		return
	}

	sess, err := session.New(session.Dependencies{
		Config:     s.deps.Gesture,
		Storage:    s.deps.Storage,
		TimeSeries: s.deps.TimeSeries,
		Logger:     s.logger,
		Active:     s.deps.Active,

		DispatchLogger: s.deps.DispatchLogger,
	}, ctx.Request.RemoteAddr)
	if err != nil {
		s.logger.Error("Failed to create session", "error", err)
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseInternalServerErr, "session setup failed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := newConnection(conn, s.logger.With("session", sess.ID()))
	s.sessions.Add(sess)
	defer func() {
		sess.Stop()
		s.sessions.Remove(sess.ID())
		_ = c.close()
	}()

	_ = c.sendEnvelope(streaming.TypeHello, streaming.HelloPayload{
		SessionID:           sess.ID(),
		CalibrationDelayMs:  s.deps.Gesture.CalibrationDelay.Milliseconds(),
		ThresholdPx:         s.deps.Gesture.ThresholdPx,
		ConfidenceThreshold: s.deps.Gesture.ConfidenceThreshold,
	})

	store := sess.Calibration()
	store.OnStateChange(func(st core.CalibrationState) {
		p := streaming.CalibrationPayload{SessionID: sess.ID(), State: st}
		if b, ok := store.Baseline(); ok && st == core.Calibrated {
			p.ReferenceY = &b.ReferenceY
		}
		_ = c.sendEnvelope(streaming.TypeCalibration, p)
	})
	sess.Dispatcher().RegisterAll(func(e dispatcher.Event) error {
		return c.sendEnvelope(streaming.TypeGesture, streaming.GesturePayload{
			SessionID: e.SessionID,
			Seq:       e.FrameSeq,
			Gesture:   e.Gesture,
		})
	}, dispatcher.Buffered(gestureQueueSize), dispatcher.Logged())
	if err := sess.WatchPosture(func(p session.Posture) {
		_ = c.sendEnvelope(streaming.TypePosture, posturePayload(sess.ID(), p))
	}); err != nil {
		s.logger.Error("Failed to watch posture", "session", sess.ID(), "error", err)
		return
	}

	if err := sess.Start(ctx.Request.Context()); err != nil {
		s.logger.Error("Failed to start session", "error", err)
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				s.logger.Warn("WebSocket read error", "session", sess.ID(), "error", err)
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.sendError("", fmt.Errorf("invalid envelope: %w", err))
			continue
		}
		s.handleMessage(sess, c, env)
	}
}

func (s *Server) handleMessage(sess *session.Session, c *connection, env streaming.Envelope) {
	switch env.Type {
	case streaming.TypePoseFrame:
		f, err := posenet.ParseFrame(0, env.Payload)
		if err != nil {
			c.sendError(env.Type, err)
			return
		}
		sess.Submit(f)

	case streaming.TypeRecalibrate:
		var p streaming.RecalibratePayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				c.sendError(env.Type, err)
				return
			}
		}
		sess.Recalibrate(time.Duration(p.DelayMs) * time.Millisecond)
		c.ack(env.Type)

	case streaming.TypeScore:
		var p streaming.ScorePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.sendError(env.Type, err)
			return
		}
		if _, err := sess.RecordScore(p.Score); err != nil {
			s.logger.Error("Failed to record score", "session", sess.ID(), "error", err)
			c.sendError(env.Type, fmt.Errorf("failed to record score"))
			return
		}
		c.ack(env.Type)

	default:
		c.sendError(env.Type, fmt.Errorf("unknown message type %q", env.Type))
	}
}

func posturePayload(sessionID string, p session.Posture) streaming.PosturePayload {
	out := streaming.PosturePayload{
		SessionID: sessionID,
		Seq:       p.Frame.Seq,
		Gesture:   core.Neutral,
		Skipped:   p.Skipped,
	}
	if p.Err != nil {
		out.Reason = p.Err.Error()
		return out
	}
	cur, ref := p.Reading.CurrentY, p.Reading.ReferenceY
	out.Gesture = p.Reading.Gesture
	out.CurrentY = &cur
	out.ReferenceY = &ref
	return out
}
