package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Portal  PortalConfig  `mapstructure:"portal"`
	Status  StatusConfig  `mapstructure:"status"`
	QR      QRConfig      `mapstructure:"qr"`
	I18n    I18nConfig    `mapstructure:"i18n"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig defines listener ports and HTTP timeouts
type ServerConfig struct {
	BindAddress     string `mapstructure:"bind_address"`
	HTTPPort        int    `mapstructure:"http_port"`
	MetricsPort     int    `mapstructure:"metrics_port"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
	ScanRateLimit   int    `mapstructure:"scan_rate_limit"`
}

// PortalConfig mirrors the configuration the hosting page injects before
// the runtime initializes.
type PortalConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
	APISession string `mapstructure:"api_session"`
	DebugMode  bool   `mapstructure:"debug_mode"`
}

// StatusConfig tunes the status reconciler
type StatusConfig struct {
	TickInterval string `mapstructure:"tick_interval"`
	FetchTimeout string `mapstructure:"fetch_timeout"`
}

// QRConfig defines the capture settings forwarded to the camera
type QRConfig struct {
	FPS           int    `mapstructure:"fps"`
	BoxSize       int    `mapstructure:"box_size"`
	DefaultFacing string `mapstructure:"default_facing"`
}

// I18nConfig defines where locale catalogs come from
type I18nConfig struct {
	LocalesDir      string `mapstructure:"locales_dir"`
	DefaultLanguage string `mapstructure:"default_language"`
	CacheSize       int    `mapstructure:"cache_size"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the redis connection used when storage.type is redis
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level                string `mapstructure:"level"`
	Format               string `mapstructure:"format"`
	ScanLogRetentionDays int    `mapstructure:"scan_log_retention_days"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("MIVO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration populated only from defaults.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// ValidKeys returns the set of every recognised configuration key.
func ValidKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)

	keys := make(map[string]bool)
	for _, k := range v.AllKeys() {
		keys[k] = true
	}
	return keys
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 4<<20)
	v.SetDefault("server.scan_rate_limit", 60)

	// Portal defaults
	v.SetDefault("portal.api_base_url", "")
	v.SetDefault("portal.api_session", "")
	v.SetDefault("portal.debug_mode", false)

	// Status defaults
	v.SetDefault("status.tick_interval", "1s")
	v.SetDefault("status.fetch_timeout", "10s")

	// QR defaults
	v.SetDefault("qr.fps", 10)
	v.SetDefault("qr.box_size", 250)
	v.SetDefault("qr.default_facing", "environment")

	// I18n defaults
	v.SetDefault("i18n.locales_dir", "/usr/share/mivoportal/lang")
	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.cache_size", 16)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/mivoportal/mivoportal.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "mivo")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.scan_log_retention_days", 30)
}

// Duration parses one of the string durations held in the configuration,
// falling back to def when the value is empty.
func Duration(value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	return time.ParseDuration(value)
}

// isMissingFile reports whether err is viper failing to open an explicitly
// configured path, which SetConfigFile surfaces as a plain fs error.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if cfg.Server.ScanRateLimit < 0 {
		return fmt.Errorf("server.scan_rate_limit cannot be negative")
	}

	durations := map[string]string{
		"server.read_timeout":         cfg.Server.ReadTimeout,
		"server.write_timeout":        cfg.Server.WriteTimeout,
		"server.shutdown_timeout":     cfg.Server.ShutdownTimeout,
		"status.tick_interval":        cfg.Status.TickInterval,
		"status.fetch_timeout":        cfg.Status.FetchTimeout,
		"storage.redis.dial_timeout":  cfg.Storage.Redis.DialTimeout,
		"storage.redis.read_timeout":  cfg.Storage.Redis.ReadTimeout,
		"storage.redis.write_timeout": cfg.Storage.Redis.WriteTimeout,
	}
	for key, value := range durations {
		if _, err := Duration(value, 0); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if d, _ := Duration(cfg.Status.TickInterval, time.Second); d <= 0 {
		return fmt.Errorf("status.tick_interval must be positive")
	}

	if cfg.Portal.APIBaseURL != "" {
		u, err := url.Parse(cfg.Portal.APIBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("portal.api_base_url must be an absolute URL: %q", cfg.Portal.APIBaseURL)
		}
	}

	switch cfg.QR.DefaultFacing {
	case "environment", "user":
	default:
		return fmt.Errorf("qr.default_facing must be environment or user, got %q", cfg.QR.DefaultFacing)
	}
	if cfg.QR.FPS <= 0 {
		return fmt.Errorf("qr.fps must be positive")
	}
	if cfg.QR.BoxSize <= 0 {
		return fmt.Errorf("qr.box_size must be positive")
	}

	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "en"
	}
	if cfg.I18n.CacheSize <= 0 {
		return fmt.Errorf("i18n.cache_size must be positive")
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	return nil
}
