package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Web     WebConfig     `yaml:"web" mapstructure:"web"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Port       int    `yaml:"port" mapstructure:"port"`
	Host       string `yaml:"host" mapstructure:"host"`
	MockPrefix string `yaml:"mock_prefix" mapstructure:"mock_prefix"`
	AdminPath  string `yaml:"admin_path" mapstructure:"admin_path"`
	// MaxBodyBytes limits the size of accepted request bodies (0 = unlimited)
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig log configuration
type LogConfig struct {
	Level       string        `yaml:"level" mapstructure:"level"`
	FileLogging FileLogConfig `yaml:"file_logging" mapstructure:"file_logging"`
}

// FileLogConfig file log configuration
type FileLogConfig struct {
	Enable     bool   `yaml:"enable" mapstructure:"enable"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// WebConfig admin surface configuration
type WebConfig struct {
	// LiveEnable exposes the websocket hit stream under the admin path
	LiveEnable bool `yaml:"live_enable" mapstructure:"live_enable"`
}

// OutputConfig controls CLI output style
type OutputConfig struct {
	Mode    string `yaml:"mode" mapstructure:"mode"`
	Silence bool   `yaml:"silence" mapstructure:"silence"`
}

// StorageConfig persistence settings
type StorageConfig struct {
	Driver        string        `yaml:"driver" mapstructure:"driver"`
	Path          string        `yaml:"path" mapstructure:"path"`
	RetentionDays int           `yaml:"retention_days" mapstructure:"retention_days"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// LoadConfig load configuration
// If v is nil, a new viper instance will be created
func LoadConfig(configPath string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	// Set default values
	setDefaults(v)

	// Set environment variable prefix
	v.SetEnvPrefix("MOCKTAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set configuration file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Configuration file search paths
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mocktap")
		v.AddConfigPath("/etc/mocktap")
	}

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Printf("Config file loaded: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Unmarshal doesn't apply defaults to zero-value fields
	applyDefaults(&config, v)

	return &config, nil
}

// applyDefaults apply default values to zero-value fields in the struct.
// Command line flags are bound to viper in main.go so they already win here.
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = v.GetString("server.host")
	}
	if cfg.Server.MockPrefix == "" {
		cfg.Server.MockPrefix = v.GetString("server.mock_prefix")
	}
	if cfg.Server.AdminPath == "" {
		cfg.Server.AdminPath = v.GetString("server.admin_path")
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = v.GetInt64("server.max_body_bytes")
	}
	cfg.Server.MockPrefix = normalizePrefix(cfg.Server.MockPrefix)
	cfg.Server.AdminPath = normalizePrefix(cfg.Server.AdminPath)

	if cfg.Log.Level == "" {
		cfg.Log.Level = v.GetString("log.level")
	}
	if cfg.Log.FileLogging.Path == "" {
		cfg.Log.FileLogging.Path = v.GetString("log.file_logging.path")
	}
	if cfg.Log.FileLogging.MaxSizeMB == 0 {
		cfg.Log.FileLogging.MaxSizeMB = v.GetInt("log.file_logging.max_size_mb")
	}
	if cfg.Log.FileLogging.MaxBackups == 0 {
		cfg.Log.FileLogging.MaxBackups = v.GetInt("log.file_logging.max_backups")
	}
	if cfg.Log.FileLogging.MaxAgeDays == 0 {
		cfg.Log.FileLogging.MaxAgeDays = v.GetInt("log.file_logging.max_age_days")
	}

	if cfg.Output.Mode == "" {
		cfg.Output.Mode = v.GetString("output.mode")
	}
	cfg.Output.Mode = strings.ToLower(strings.TrimSpace(cfg.Output.Mode))

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = v.GetString("storage.driver")
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = v.GetString("storage.path")
	}
}

// setDefaults set default configuration values
func setDefaults(v *viper.Viper) {
	// Server default configuration
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mock_prefix", "/mock")
	v.SetDefault("server.admin_path", "/admin/api")
	v.SetDefault("server.max_body_bytes", int64(10*1024*1024))

	// Log default configuration
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_logging.enable", false)
	v.SetDefault("log.file_logging.path", "./mocktap.log")
	v.SetDefault("log.file_logging.max_size_mb", 10)
	v.SetDefault("log.file_logging.max_backups", 5)
	v.SetDefault("log.file_logging.max_age_days", 30)
	v.SetDefault("log.file_logging.compress", true)

	// Web defaults
	v.SetDefault("web.live_enable", true)

	// Output defaults
	v.SetDefault("output.mode", "console")
	v.SetDefault("output.silence", false)

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "./database/mocks.db")
	v.SetDefault("storage.retention_days", 30)
	v.SetDefault("storage.sweep_interval", "0s")
}

// Validate checks the configuration and fills in the remaining defaults.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server max body bytes cannot be negative")
	}
	if err := validatePrefix("server mock_prefix", c.Server.MockPrefix); err != nil {
		return err
	}
	if err := validatePrefix("server admin_path", c.Server.AdminPath); err != nil {
		return err
	}
	if overlaps(c.Server.MockPrefix, c.Server.AdminPath) {
		return fmt.Errorf("server mock_prefix %q and admin_path %q must not overlap", c.Server.MockPrefix, c.Server.AdminPath)
	}
	if c.Server.MockPrefix == "/health" || c.Server.AdminPath == "/health" {
		return fmt.Errorf("/health is reserved")
	}

	switch c.Output.Mode {
	case "", "console", "json":
		if c.Output.Mode == "" {
			c.Output.Mode = "console"
		}
	default:
		return fmt.Errorf("output mode must be 'console' or 'json'")
	}

	switch c.Storage.Driver {
	case "", "sqlite", "sqlite3", "memory":
		if c.Storage.Driver == "" {
			c.Storage.Driver = "sqlite"
		}
	default:
		return fmt.Errorf("storage driver must be sqlite or memory")
	}
	if c.Storage.Driver != "memory" && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage path cannot be empty")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage retention_days cannot be negative")
	}
	if c.Storage.SweepInterval < 0 {
		return fmt.Errorf("storage sweep_interval cannot be negative")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	// Validate file log configuration
	if c.Log.FileLogging.Enable {
		if c.Log.FileLogging.Path == "" {
			return fmt.Errorf("log file path cannot be empty when file logging is enabled")
		}
		if c.Log.FileLogging.MaxSizeMB < 1 {
			return fmt.Errorf("log file max size must be at least 1MB")
		}
		if c.Log.FileLogging.MaxBackups < 0 {
			return fmt.Errorf("log file max backups cannot be negative")
		}
		if c.Log.FileLogging.MaxAgeDays < 0 {
			return fmt.Errorf("log file max age cannot be negative")
		}
	}

	return nil
}

func validatePrefix(name, prefix string) error {
	if prefix == "" || prefix == "/" {
		return fmt.Errorf("%s cannot be empty or '/'", name)
	}
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("%s must start with '/'", name)
	}
	return nil
}

// overlaps reports whether one prefix routes into the other.
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// normalizePrefix trims whitespace and trailing slashes.
func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		return prefix
	}
	trimmed := strings.TrimRight(prefix, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
