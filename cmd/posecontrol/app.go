package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/influx"
	"github.com/dinorun/posecontrol/internal/logging"
	intOtel "github.com/dinorun/posecontrol/internal/otel"
	"github.com/dinorun/posecontrol/internal/replay"
	"github.com/dinorun/posecontrol/internal/server"
	"github.com/dinorun/posecontrol/internal/session"
	"github.com/dinorun/posecontrol/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const appName = "posecontrol"

// app holds the process-wide services shared by all commands.
type app struct {
	start   time.Time
	logsDir string

	logFile  *os.File
	otelFile *os.File
	slogs    *logging.SlogManager
	logger   *slog.Logger
	zlog     zerolog.Logger
	otel     *intOtel.Provider
	active   *logging.ActiveSessions

	storage storage.Backend
	influx  *influx.Manager

	closeOnce sync.Once
}

func setup(configDir string) (*app, error) {
	a := &app{
		start:  time.Now(),
		slogs:  logging.NewSlogManager(),
		active: &logging.ActiveSessions{},
	}

	cfgErr := config.Load(configDir)

	a.logsDir = viper.GetString("logsDir")
	if err := os.MkdirAll(a.logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}

	logPath := logging.LogFilePath(a.logsDir, appName, a.start)
	var err error
	a.logFile, err = os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}

	otelCfg := config.GetOTelConfig()
	var otelWriter io.Writer
	if otelCfg.Enabled {
		otelPath := logging.LogFilePath(a.logsDir, appName+".otel", a.start)
		a.otelFile, err = os.OpenFile(otelPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("opening otel log file %s: %w", otelPath, err)
		}
		otelWriter = a.otelFile
	}
	a.otel, err = intOtel.New(intOtel.FromConfig(otelCfg, otelWriter))
	if err != nil {
		return nil, fmt.Errorf("initializing OpenTelemetry: %w", err)
	}

	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := gelf.NewWriter(gl.Address)
		if err != nil {
			return nil, fmt.Errorf("connecting to graylog at %s: %w", gl.Address, err)
		}
		a.slogs.SetGraylog(w)
	}

	level := viper.GetString("logLevel")
	a.slogs.SetContextProvider(a.active.Provider())
	a.slogs.Setup(a.logFile, level, a.otel.LoggerProvider())
	a.logger = a.slogs.Logger()
	intOtel.RouteErrors(a.logger)

	if cfgErr != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	} else {
		a.logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}

	zlevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || zlevel == zerolog.NoLevel {
		zlevel = zerolog.InfoLevel
	}
	a.zlog = zerolog.New(a.logFile).Level(zlevel).With().Timestamp().Logger()

	storageCfg := config.GetStorageConfig()
	a.storage, err = storage.NewBackend(storageCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating storage backend: %w", err)
	}
	if err := a.storage.Init(); err != nil {
		return nil, fmt.Errorf("initializing %s storage: %w", storageCfg.Type, err)
	}
	a.logger.Info("Storage backend initialized", "type", storageCfg.Type)

	a.influx = influx.NewManager(
		config.GetInfluxConfig(),
		a.zlog.With().Str("component", "influx").Logger(),
		logging.LogFilePath(a.logsDir, "influx_backup", a.start)+".gz",
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.influx.Connect(ctx); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			a.logger.Warn("InfluxDB unavailable", "error", err)
		}
		a.influx = nil
	}

	return a, nil
}

func (a *app) timeSeries() session.TimeSeries {
	if a.influx == nil {
		return nil
	}
	return a.influx
}

func (a *app) close() {
	a.closeOnce.Do(func() {
		if a.storage != nil {
			if err := a.storage.Close(); err != nil {
				a.logger.Error("Failed to close storage", "error", err)
			}
		}
		if a.influx != nil {
			if err := a.influx.Close(); err != nil {
				a.logger.Error("Failed to close influx", "error", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.slogs.Flush(ctx)
		if err := a.otel.Flush(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "otel flush: %v\n", err)
		}
		if err := a.otel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "otel shutdown: %v\n", err)
		}
		if a.otelFile != nil {
			_ = a.otelFile.Close()
		}
		if a.logFile != nil {
			_ = a.logFile.Close()
		}
	})
}

func (a *app) serve(ctx context.Context) error {
	srv := server.New(server.Dependencies{
		Server:     config.GetServerConfig(),
		Gesture:    config.GetGestureConfig(),
		Storage:    a.storage,
		TimeSeries: a.timeSeries(),
		Logger:     a.logger,
		Active:     a.active,

		DispatchLogger: logging.NewDispatcherLogger(a.zlog.With().Str("component", "dispatcher").Logger()),
	})
	a.logger.Info("Starting server", "version", Version, "build", BuildDate)
	return srv.Run(ctx)
}

func (a *app) replay(ctx context.Context, path string, asJSON bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := replay.Options{Storage: a.storage, Logger: a.logger}
	if !asJSON {
		opts.OnTransition = func(t replay.Transition) {
			fmt.Printf("%8dms  frame %-6d %-8s -> %s\n", t.Offset.Milliseconds(), t.FrameSeq, t.From, t.To)
		}
	}

	res, err := replay.Run(ctx, f, config.GetGestureConfig(), opts)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(res)
	}
	if res.Baseline != nil {
		fmt.Printf("baseline: %.1f px\n", res.Baseline.ReferenceY)
	} else {
		fmt.Println("baseline: not captured")
	}
	fmt.Printf("frames: %d  ticks: %d  jumps: %d  ducks: %d  score: %d\n",
		res.Frames, res.Ticks, res.Runner.Jumps, res.Runner.Ducks, res.Runner.Score)
	return nil
}

func (a *app) highScore() error {
	best, ok, err := a.storage.HighScore()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no high score recorded")
		return nil
	}
	fmt.Printf("Highest Score: %d\n", best.Value)
	return nil
}

func (a *app) session(id string) error {
	reader, ok := a.storage.(storage.SessionReader)
	if !ok {
		return fmt.Errorf("storage backend cannot load sessions")
	}
	sum, err := reader.LoadSession(id)
	if err != nil {
		return err
	}
	return printJSON(sum)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
