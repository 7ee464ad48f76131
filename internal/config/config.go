// Package config provides configuration management for rebroadcastr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "REBROADCASTR"

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultPrebufferWindow   = 10 * time.Second
	defaultStartDelay        = 5 * time.Second
	defaultRestartBackoff    = 5 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultAcceptTimeout     = 30 * time.Second
	defaultRefreshLead       = 30 * time.Second
	defaultSessionTimeout    = 60 * time.Second
	defaultMaxBufferedBytes  = 100_000_000
	defaultOptionsCacheTTL   = 10 * time.Second
	defaultWorkerPoolSize    = 32
	defaultRestartCron       = "0 0 2 * * *"
	defaultAlertPruneCron    = "0 30 3 * * *"
	defaultAlertRetention    = 30 * 24 * time.Hour
	defaultCameraAPITimeout  = 15 * time.Second
	defaultCameraAPIRateRPS  = 5
	defaultProtectRTSPPort   = 7447
	defaultMaxHTTPConnection = 512
)

// Camera adapter types.
const (
	CameraTypeProtect = "protect"
	CameraTypeRemote  = "remote"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Prebuffer PrebufferConfig `mapstructure:"prebuffer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cameras   []CameraConfig  `mapstructure:"cameras"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxConnections  int           `mapstructure:"max_connections"` // 0 = unlimited
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// Redact masks credentials embedded in URLs and secret-looking fields.
	Redact bool `mapstructure:"redact"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect
	LogLevel   string `mapstructure:"log_level"`
	// StartTimeout bounds how long a demux session may take to report its inputs.
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

// PrebufferConfig holds the rebroadcast engine defaults.
type PrebufferConfig struct {
	// Window is the default retained history per container. Cameras may
	// override it through the prebufferDuration setting.
	Window         time.Duration `mapstructure:"window"`
	StartDelay     time.Duration `mapstructure:"start_delay"`
	RestartBackoff time.Duration `mapstructure:"restart_backoff"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AcceptTimeout  time.Duration `mapstructure:"accept_timeout"`
	RefreshLead    time.Duration `mapstructure:"refresh_lead"`
	// MaxBufferedBytes is the outstanding bytes a viewer may queue before it is dropped.
	MaxBufferedBytes ByteSize      `mapstructure:"max_buffered_bytes"`
	OptionsCacheTTL  time.Duration `mapstructure:"options_cache_ttl"`
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
}

// SchedulerConfig holds scheduled maintenance configuration.
type SchedulerConfig struct {
	// RestartCron is a 6-field cron expression for the daily cold restart (empty disables).
	RestartCron string `mapstructure:"restart_cron"`
	// AlertPruneCron removes alerts older than AlertRetention (empty disables).
	AlertPruneCron string        `mapstructure:"alert_prune_cron"`
	AlertRetention time.Duration `mapstructure:"alert_retention"`
	Timezone       string        `mapstructure:"timezone"`
}

// CameraConfig describes one camera and the adapter used to reach it.
type CameraConfig struct {
	ID             string          `mapstructure:"id"`
	Name           string          `mapstructure:"name"`
	Type           string          `mapstructure:"type"` // protect, remote
	BatteryPowered bool            `mapstructure:"battery_powered"`
	Host           string          `mapstructure:"host"`
	RTSPPort       int             `mapstructure:"rtsp_port"`
	Channels       []ChannelConfig `mapstructure:"channels"`
	BaseURL        string          `mapstructure:"base_url"`
	Token          string          `mapstructure:"token"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	RateLimit      int             `mapstructure:"rate_limit"` // requests per second
}

// ChannelConfig describes one stream profile of a protect camera.
type ChannelConfig struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	RTSPAlias   string `mapstructure:"rtsp_alias"`
	Enabled     bool   `mapstructure:"enabled"`
	Default     bool   `mapstructure:"default"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	Bitrate     int    `mapstructure:"bitrate"`
	MinBitrate  int    `mapstructure:"min_bitrate"`
	MaxBitrate  int    `mapstructure:"max_bitrate"`
	FPS         int    `mapstructure:"fps"`
	IDRInterval int    `mapstructure:"idr_interval"` // seconds
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Example: REBROADCASTR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rebroadcastr")
		v.AddConfigPath("$HOME/.rebroadcastr")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Unmarshal(v)
}

// Unmarshal decodes and validates the configuration held by v.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyCameraDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	// Raw stream responses are long lived; no write deadline by default.
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.max_connections", defaultMaxHTTPConnection)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "rebroadcastr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact", true)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.log_level", "info")
	v.SetDefault("ffmpeg.start_timeout", defaultSessionTimeout)

	v.SetDefault("prebuffer.window", defaultPrebufferWindow)
	v.SetDefault("prebuffer.start_delay", defaultStartDelay)
	v.SetDefault("prebuffer.restart_backoff", defaultRestartBackoff)
	v.SetDefault("prebuffer.idle_timeout", defaultIdleTimeout)
	v.SetDefault("prebuffer.accept_timeout", defaultAcceptTimeout)
	v.SetDefault("prebuffer.refresh_lead", defaultRefreshLead)
	v.SetDefault("prebuffer.max_buffered_bytes", defaultMaxBufferedBytes)
	v.SetDefault("prebuffer.options_cache_ttl", defaultOptionsCacheTTL)
	v.SetDefault("prebuffer.worker_pool_size", defaultWorkerPoolSize)

	v.SetDefault("scheduler.restart_cron", defaultRestartCron)
	v.SetDefault("scheduler.alert_prune_cron", defaultAlertPruneCron)
	v.SetDefault("scheduler.alert_retention", defaultAlertRetention)
	v.SetDefault("scheduler.timezone", "Local")
}

// applyCameraDefaults fills adapter specific defaults that viper cannot
// express for list entries.
func (c *Config) applyCameraDefaults() {
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Type == "" {
			cam.Type = CameraTypeProtect
		}
		if cam.Name == "" {
			cam.Name = cam.ID
		}
		if cam.RTSPPort == 0 {
			cam.RTSPPort = defaultProtectRTSPPort
		}
		if cam.Timeout == 0 {
			cam.Timeout = defaultCameraAPITimeout
		}
		if cam.RateLimit == 0 {
			cam.RateLimit = defaultCameraAPIRateRPS
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Prebuffer.Window <= 0 {
		return fmt.Errorf("prebuffer.window must be positive")
	}
	if c.Prebuffer.MaxBufferedBytes <= 0 {
		return fmt.Errorf("prebuffer.max_buffered_bytes must be positive")
	}
	if c.Prebuffer.WorkerPoolSize < 1 {
		return fmt.Errorf("prebuffer.worker_pool_size must be at least 1")
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d].id is required", i)
		}
		if seen[cam.ID] {
			return fmt.Errorf("cameras[%d].id %q is duplicated", i, cam.ID)
		}
		seen[cam.ID] = true

		switch cam.Type {
		case CameraTypeProtect:
			if cam.Host == "" {
				return fmt.Errorf("cameras[%d].host is required for protect cameras", i)
			}
		case CameraTypeRemote:
			if cam.BaseURL == "" {
				return fmt.Errorf("cameras[%d].base_url is required for remote cameras", i)
			}
		default:
			return fmt.Errorf("cameras[%d].type must be one of: %s, %s", i, CameraTypeProtect, CameraTypeRemote)
		}
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
