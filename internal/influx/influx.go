// Package influx writes gesture transitions and calibration captures to
// InfluxDB. When the server is unreachable points go to a gzip line-protocol
// backup file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/pkg/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

const (
	MeasurementGesture     = "gesture_transition"
	MeasurementCalibration = "calibration"

	retentionSeconds = 60 * 60 * 24 * 90 // 90 days
)

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx is disabled")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	cfg    config.InfluxConfig
	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	backupFile   *os.File
	backupWriter *gzip.Writer
	backupPath   string

	valid  bool
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		cfg:        cfg,
		logger:     log,
		backupPath: backupPath,
	}
}

// Connect establishes a connection to InfluxDB. A failed ping switches the
// manager to the backup file.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(
		m.cfg.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.logger.Info().Str("backupPath", m.backupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		m.client.Close()
		m.client = nil
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.valid = true
	m.logger.Info().Str("url", m.cfg.URL()).Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backupWriter != nil {
		return nil
	}
	if m.backupPath == "" {
		return fmt.Errorf("influx unreachable and no backup path configured")
	}

	file, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.backupWriter = gzip.NewWriter(file)
	m.logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()

	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			m.logger.Error().Err(err).Str("org", m.cfg.Org).Msg("Error creating organization")
			return err
		}
	}

	if _, err = m.client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.client.BucketsAPI().CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: retentionSeconds,
		})
		if err != nil {
			m.logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

func (m *Manager) createWriter() {
	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)

	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.writer.Errors())
}

// Valid reports whether points go to a live server.
func (m *Manager) Valid() bool {
	return m.valid
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.valid {
		m.writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := m.backupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// WriteGesture records a gesture transition.
func (m *Manager) WriteGesture(e core.GestureEvent) error {
	return m.WritePoint(GesturePoint(e))
}

// WriteCalibration records a captured baseline.
func (m *Manager) WriteCalibration(b core.Baseline) error {
	return m.WritePoint(CalibrationPoint(b))
}

// Close flushes pending writes and releases the client or backup file.
func (m *Manager) Close() error {
	if m.writer != nil {
		m.writer.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backupWriter == nil {
		return nil
	}
	err := errors.Join(m.backupWriter.Close(), m.backupFile.Close())
	m.backupWriter = nil
	m.backupFile = nil
	return err
}

// GesturePoint builds the point for one gesture transition.
func GesturePoint(e core.GestureEvent) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(
		MeasurementGesture,
		map[string]string{
			"session":  e.SessionID,
			"gesture":  e.Gesture.String(),
			"previous": e.Previous.String(),
		},
		map[string]interface{}{
			"frameSeq": int64(e.FrameSeq),
			"currentY": e.CurrentY,
		},
		e.Time,
	)
}

// CalibrationPoint builds the point for one captured baseline.
func CalibrationPoint(b core.Baseline) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementCalibration).
		AddTag("session", b.SessionID).
		AddField("referenceY", b.ReferenceY).
		AddField("keypoints", len(b.Keypoints)).
		SetTime(b.CapturedAt)
	if b.HasNose {
		p.AddField("noseY", b.NoseY)
	}
	return p
}
