package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the sync engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	History  HistoryConfig  `yaml:"history"`
	View     ViewConfig     `yaml:"view"`
	Logging  LoggingConfig  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig controls the dashboard HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// UpstreamConfig configures the websocket session against the event source.
type UpstreamConfig struct {
	URL                  string        `yaml:"url"`
	ProjectID            string        `yaml:"projectID"`
	HandshakeTimeout     time.Duration `yaml:"handshakeTimeout"`
	ReconnectMinDelay    time.Duration `yaml:"reconnectMinDelay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnectMaxDelay"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
}

// HistoryConfig configures the REST backfill client.
type HistoryConfig struct {
	BaseURL  string        `yaml:"baseURL"`
	LogsPath string        `yaml:"logsPath"`
	Timeout  time.Duration `yaml:"timeout"`
	Limit    int           `yaml:"limit"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ViewConfig bounds the in-memory view collections.
type ViewConfig struct {
	LogCap      int           `yaml:"logCap"`
	TimelineCap int           `yaml:"timelineCap"`
	ChatCap     int           `yaml:"chatCap"`
	TypingTTL   time.Duration `yaml:"typingTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Redis-backed caching of history backfills.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OUTAGEX_SYNC_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			HandshakeTimeout:     5 * time.Second,
			ReconnectMinDelay:    time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			MaxReconnectAttempts: 10,
		},
		History: HistoryConfig{
			LogsPath: "/api/v1/history/logs",
			Timeout:  5 * time.Second,
			Limit:    500,
			CacheTTL: 30 * time.Second,
		},
		View: ViewConfig{
			LogCap:      1000,
			TimelineCap: 200,
			ChatCap:     500,
			TypingTTL:   3 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.View.LogCap <= 0 {
		return fmt.Errorf("view.logCap must be positive, got %d", cfg.View.LogCap)
	}
	if cfg.View.TimelineCap <= 0 {
		return fmt.Errorf("view.timelineCap must be positive, got %d", cfg.View.TimelineCap)
	}
	if cfg.Upstream.ReconnectMinDelay > cfg.Upstream.ReconnectMaxDelay {
		return fmt.Errorf("upstream.reconnectMinDelay exceeds reconnectMaxDelay")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OUTAGEX_SYNC_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("OUTAGEX_SYNC_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OUTAGEX_UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("OUTAGEX_PROJECT_ID"); v != "" {
		cfg.Upstream.ProjectID = v
	}
	if v := os.Getenv("OUTAGEX_UPSTREAM_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Upstream.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("OUTAGEX_UPSTREAM_RECONNECT_MIN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.ReconnectMinDelay = d
		}
	}
	if v := os.Getenv("OUTAGEX_UPSTREAM_RECONNECT_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.ReconnectMaxDelay = d
		}
	}
	if v := os.Getenv("OUTAGEX_HISTORY_BASE_URL"); v != "" {
		cfg.History.BaseURL = v
	}
	if v := os.Getenv("OUTAGEX_HISTORY_LOGS_PATH"); v != "" {
		cfg.History.LogsPath = v
	}
	if v := os.Getenv("OUTAGEX_HISTORY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.History.Timeout = d
		}
	}
	if v := os.Getenv("OUTAGEX_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.Limit = n
		}
	}
	if v := os.Getenv("OUTAGEX_VIEW_LOG_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.View.LogCap = n
		}
	}
	if v := os.Getenv("OUTAGEX_VIEW_TYPING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.View.TypingTTL = d
		}
	}
	if v := os.Getenv("OUTAGEX_SYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OUTAGEX_SYNC_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("OUTAGEX_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("OUTAGEX_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("OUTAGEX_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("OUTAGEX_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("OUTAGEX_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
}
