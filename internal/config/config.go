package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the JSON config file looked up in the config directory.
const ConfigFileName = "posecontrol.cfg.json"

// GestureConfig holds calibration and classification settings.
type GestureConfig struct {
	CalibrationDelay    time.Duration
	ThresholdPx         float64
	ConfidenceThreshold float64
	ConfidenceGating    bool
	Mode                string
	NoseThresholdPx     float64
	CaptureRetry        time.Duration
	TickInterval        time.Duration
	FrameStale          time.Duration
	PlayZone            PlayZoneConfig
}

// PlayZoneConfig is the image rectangle the nose must be inside for a
// frame to be classified.
type PlayZoneConfig struct {
	Enabled bool    `json:"enabled" mapstructure:"enabled"`
	MinX    float64 `json:"minX" mapstructure:"minX"`
	MaxX    float64 `json:"maxX" mapstructure:"maxX"`
	MinY    float64 `json:"minY" mapstructure:"minY"`
	MaxY    float64 `json:"maxY" mapstructure:"maxY"`
}

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Address   string
	StaticDir string
}

// SQLiteConfig holds SQLite storage backend settings.
type SQLiteConfig struct {
	Path         string
	DumpInterval time.Duration
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// MemoryConfig holds in-memory storage settings. A non-empty OutputDir
// exports each finished session as JSON.
type MemoryConfig struct {
	OutputDir      string
	CompressOutput bool
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Type     string
	Memory   MemoryConfig
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Bucket   string
}

// URL returns the InfluxDB server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig holds GELF output settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// SetDefaults registers default values for every known key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("gesture.calibrationDelayMs", 3000)
	viper.SetDefault("gesture.thresholdPx", 50)
	viper.SetDefault("gesture.confidenceThreshold", 0.3)
	viper.SetDefault("gesture.confidenceGating", false)
	viper.SetDefault("gesture.mode", "shoulders")
	viper.SetDefault("gesture.noseThresholdPx", 70)
	viper.SetDefault("gesture.captureRetryMs", 0)
	viper.SetDefault("gesture.tickIntervalMs", 16)
	viper.SetDefault("gesture.frameStaleMs", 0)
	viper.SetDefault("gesture.playZone.enabled", false)
	viper.SetDefault("gesture.playZone.minX", 100)
	viper.SetDefault("gesture.playZone.maxX", 550)
	viper.SetDefault("gesture.playZone.minY", 0)
	viper.SetDefault("gesture.playZone.maxY", 480)

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.staticDir", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "posecontrol")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "posecontrol")
	viper.SetDefault("influx.bucket", "gestures")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "posecontrol")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func millis(key string) time.Duration {
	return time.Duration(viper.GetInt64(key)) * time.Millisecond
}

// GetGestureConfig returns the calibration and classification settings.
func GetGestureConfig() GestureConfig {
	return GestureConfig{
		CalibrationDelay:    millis("gesture.calibrationDelayMs"),
		ThresholdPx:         viper.GetFloat64("gesture.thresholdPx"),
		ConfidenceThreshold: viper.GetFloat64("gesture.confidenceThreshold"),
		ConfidenceGating:    viper.GetBool("gesture.confidenceGating"),
		Mode:                viper.GetString("gesture.mode"),
		NoseThresholdPx:     viper.GetFloat64("gesture.noseThresholdPx"),
		CaptureRetry:        millis("gesture.captureRetryMs"),
		TickInterval:        millis("gesture.tickIntervalMs"),
		FrameStale:          millis("gesture.frameStaleMs"),
		PlayZone: PlayZoneConfig{
			Enabled: viper.GetBool("gesture.playZone.enabled"),
			MinX:    viper.GetFloat64("gesture.playZone.minX"),
			MaxX:    viper.GetFloat64("gesture.playZone.maxX"),
			MinY:    viper.GetFloat64("gesture.playZone.minY"),
			MaxY:    viper.GetFloat64("gesture.playZone.maxY"),
		},
	}
}

// GetServerConfig returns the HTTP server settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Address:   viper.GetString("server.address"),
		StaticDir: viper.GetString("server.staticDir"),
	}
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF output settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
