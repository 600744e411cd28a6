// Package config loads the service configuration.
//
// Sources are layered with koanf, later layers overriding earlier ones:
//  1. built-in defaults
//  2. an optional YAML file (CONFIG_PATH, config.yaml, config.yml)
//  3. environment variables: CLAB_<SECTION>_<KEY>, e.g. CLAB_SERVER_PORT,
//     CLAB_UPLOAD_MAX_FILE_SIZE, plus the legacy PORT, DATABASE_URL and SECRET_KEY.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is stripped from environment variable names.
const EnvPrefix = "CLAB_"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Security  SecurityConfig  `koanf:"security"`
	Upload    UploadConfig    `koanf:"upload"`
	AI        AIConfig        `koanf:"ai"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Progress  ProgressConfig  `koanf:"progress"`
	Video     VideoConfig     `koanf:"video"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	AppName         string        `koanf:"app_name"`
	Version         string        `koanf:"version"`
	Environment     string        `koanf:"environment"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the relational store. URL is sqlite://path or postgres://...
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// SecurityConfig configures token issuance.
type SecurityConfig struct {
	SecretKey         string        `koanf:"secret_key"`
	AccessTokenExpiry time.Duration `koanf:"access_token_expiry"`
}

// UploadConfig configures image uploads.
type UploadConfig struct {
	Dir         string `koanf:"dir"`
	MaxFileSize int64  `koanf:"max_file_size"`
}

// AIConfig selects the analysis backend. An empty Endpoint uses the local stub.
type AIConfig struct {
	Endpoint  string        `koanf:"endpoint"`
	APIKey    string        `koanf:"api_key"`
	Timeout   time.Duration `koanf:"timeout"`
	StepDelay time.Duration `koanf:"step_delay"`
}

// WebSocketConfig configures connection keepalive and buffering.
type WebSocketConfig struct {
	WriteWait      time.Duration `koanf:"write_wait"`
	PongWait       time.Duration `koanf:"pong_wait"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	SendBuffer     int           `koanf:"send_buffer"`
	PollInterval   time.Duration `koanf:"poll_interval"`
}

// ProgressConfig configures eviction of finished progress records.
type ProgressConfig struct {
	EvictionSchedule string        `koanf:"eviction_schedule"`
	Retention        time.Duration `koanf:"retention"`
}

// VideoConfig configures the generation worker pool.
type VideoConfig struct {
	Workers               int `koanf:"workers"`
	QueueSize             int `koanf:"queue_size"`
	MaxActiveTasksPerUser int `koanf:"max_active_tasks_per_user"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			AppName:         "Character Lab",
			Version:         "0.1.0",
			Environment:     "development",
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			URL:             "sqlite://data/characterlab.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Security: SecurityConfig{
			SecretKey:         "change-me-in-production-change-me",
			AccessTokenExpiry: 30 * time.Minute,
		},
		Upload: UploadConfig{
			Dir:         "uploads",
			MaxFileSize: 10 * 1024 * 1024,
		},
		AI: AIConfig{
			Timeout:   30 * time.Second,
			StepDelay: 500 * time.Millisecond,
		},
		WebSocket: WebSocketConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			MaxMessageSize: 8192,
			SendBuffer:     256,
			PollInterval:   2 * time.Second,
		},
		Progress: ProgressConfig{
			EvictionSchedule: "@every 10m",
			Retention:        24 * time.Hour,
		},
		Video: VideoConfig{
			Workers:               4,
			QueueSize:             100,
			MaxActiveTasksPerUser: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration from defaults, the config file and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var legacyEnv = map[string]string{
	"port":         "server.port",
	"host":         "server.host",
	"environment":  "server.environment",
	"database_url": "database.url",
	"secret_key":   "security.secret_key",
	"log_level":    "logging.level",
	"log_format":   "logging.format",
}

// envTransformFunc maps an environment variable to a koanf path. Variables that
// are neither prefixed nor legacy names map to "" and are ignored.
func envTransformFunc(key string) string {
	lower := strings.ToLower(key)
	if path, ok := legacyEnv[lower]; ok {
		return path
	}
	prefix := strings.ToLower(EnvPrefix)
	if !strings.HasPrefix(lower, prefix) {
		return ""
	}
	// First underscore separates the section; the rest is the key.
	return strings.Replace(strings.TrimPrefix(lower, prefix), "_", ".", 1)
}

var sliceConfigPaths = []string{"server.cors_origins"}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if len(c.Security.SecretKey) < 32 {
		errs = append(errs, errors.New("security.secret_key must be at least 32 characters"))
	}
	if c.Security.AccessTokenExpiry <= 0 {
		errs = append(errs, errors.New("security.access_token_expiry must be positive"))
	}
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, errors.New("upload.max_file_size must be positive"))
	}
	if c.WebSocket.PongWait <= 0 || c.WebSocket.WriteWait <= 0 {
		errs = append(errs, errors.New("websocket.pong_wait and websocket.write_wait must be positive"))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}
	if c.Progress.Retention <= 0 {
		errs = append(errs, errors.New("progress.retention must be positive"))
	}
	if c.Video.Workers <= 0 {
		errs = append(errs, errors.New("video.workers must be positive"))
	}
	return errors.Join(errs...)
}
