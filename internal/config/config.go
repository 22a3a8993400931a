// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/seriesview/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Download  DownloadConfig  `mapstructure:"download"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Staging   StagingConfig   `mapstructure:"staging"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
	Viewer    ViewerConfig    `mapstructure:"viewer"`
	History   HistoryConfig   `mapstructure:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["http://localhost:3000", "*.hospital.local"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// BackendConfig describes the REST backend serving the series files.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"` // joined to relative locators
}

// DownloadConfig holds per-file fetch configuration.
type DownloadConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"` // 0 = no timeout
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	UserAgent      string        `mapstructure:"user_agent"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
}

// StorageConfig holds the optional non-HTTP fetch backends.
type StorageConfig struct {
	S3    S3Config    `mapstructure:"s3"`
	Azure AzureConfig `mapstructure:"azure"`
	Local LocalConfig `mapstructure:"local"`
}

// S3Config holds AWS S3 configuration for s3:// locators.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration for azblob:// locators.
type AzureConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
}

// LocalConfig holds configuration for file:// locators.
type LocalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Root    string `mapstructure:"root"` // file:// locators must resolve below Root
}

// StagingConfig holds staging directory configuration.
type StagingConfig struct {
	Root   string `mapstructure:"root"`   // default: OS temp dir
	Prefix string `mapstructure:"prefix"` // directory name prefix
}

// ReadinessConfig holds the readiness poll budget.
type ReadinessConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	Watch       bool          `mapstructure:"watch"`    // wake early on filesystem events
	Debounce    time.Duration `mapstructure:"debounce"` // event coalescing when Watch is set
}

// ViewerConfig describes the external viewer.
type ViewerConfig struct {
	Executable  string        `mapstructure:"executable"`
	ImageName   string        `mapstructure:"image_name"` // default: base name of Executable
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	KillCommand []string      `mapstructure:"kill_command"` // "{image}" is replaced by ImageName
}

// HistoryConfig holds the invocation journal configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8765)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})

	viper.SetDefault("backend.base_url", "http://localhost:8000")

	// Download defaults
	viper.SetDefault("download.timeout", time.Duration(0))
	viper.SetDefault("download.max_concurrency", 0)
	viper.SetDefault("download.user_agent", "seriesview/1.0")

	// Storage defaults
	viper.SetDefault("storage.s3.enabled", false)
	viper.SetDefault("storage.azure.enabled", false)
	viper.SetDefault("storage.local.enabled", false)

	// Staging defaults
	viper.SetDefault("staging.root", os.TempDir())
	viper.SetDefault("staging.prefix", "series-")

	// Readiness defaults: 40 x 200ms bounds the wait at 8 seconds
	viper.SetDefault("readiness.max_attempts", 40)
	viper.SetDefault("readiness.delay", 200*time.Millisecond)
	viper.SetDefault("readiness.watch", false)
	viper.SetDefault("readiness.debounce", 50*time.Millisecond)

	// Viewer defaults
	viper.SetDefault("viewer.executable", DefaultViewerExecutable(runtime.GOOS))
	viper.SetDefault("viewer.image_name", "")
	viper.SetDefault("viewer.settle_delay", 300*time.Millisecond)
	viper.SetDefault("viewer.kill_command", DefaultKillCommand(runtime.GOOS))

	// History defaults
	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.path", "./seriesview.db")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// DefaultViewerExecutable returns the usual Mango install location.
func DefaultViewerExecutable(goos string) string {
	switch goos {
	case "windows":
		return `C:\Program Files\Mango\Mango.exe`
	case "darwin":
		return "/Applications/Mango.app/Contents/MacOS/Mango"
	default:
		return "/opt/Mango/Mango"
	}
}

// DefaultKillCommand returns the platform command that force-kills a
// process by image name.
func DefaultKillCommand(goos string) []string {
	if goos == "windows" {
		return []string{"taskkill", "/IM", "{image}", "/F"}
	}
	return []string{"pkill", "-x", "{image}"}
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("SERIESVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(dir + "/seriesview")
		}
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}

	if c.Download.MaxConcurrency < 0 {
		return &domain.ConfigError{Field: "download.max_concurrency", Message: "must not be negative"}
	}

	if c.Staging.Root == "" {
		return &domain.ConfigError{Field: "staging.root", Message: "staging root is required"}
	}

	if c.Readiness.MaxAttempts < 1 {
		return &domain.ConfigError{Field: "readiness.max_attempts", Message: "at least one attempt is required"}
	}
	if c.Readiness.Delay < 0 {
		return &domain.ConfigError{Field: "readiness.delay", Message: "must not be negative"}
	}

	if c.Viewer.Executable == "" {
		return &domain.ConfigError{Field: "viewer.executable", Message: "viewer executable is required"}
	}
	if len(c.Viewer.KillCommand) == 0 {
		return &domain.ConfigError{Field: "viewer.kill_command", Message: "kill command is required"}
	}

	if c.Storage.S3.Enabled && c.Storage.S3.Region == "" {
		return &domain.ConfigError{Field: "storage.s3.region", Message: "S3 region is required"}
	}
	if c.Storage.Azure.Enabled && c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
		return &domain.ConfigError{Field: "storage.azure", Message: "azure account name or connection string is required"}
	}

	if c.History.Enabled && c.History.Path == "" {
		return &domain.ConfigError{Field: "history.path", Message: "history path is required"}
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ResolvedImageName returns the process image name used to terminate
// earlier viewer instances.
func (c *ViewerConfig) ResolvedImageName() string {
	if c.ImageName != "" {
		return c.ImageName
	}
	exe := c.Executable
	if i := strings.LastIndexAny(exe, `/\`); i >= 0 {
		exe = exe[i+1:]
	}
	return exe
}
