package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Wiki         WikiConfig     `mapstructure:"wiki" yaml:"wiki" validate:"required"`
	Database     DatabaseConfig `mapstructure:"database" yaml:"database" validate:"required"`
	Sync         SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Daemon       DaemonConfig   `mapstructure:"daemon" yaml:"daemon"`
	Log          LogConfig      `mapstructure:"log" yaml:"log"`
	IgnoreTitles []string       `mapstructure:"ignore_titles" yaml:"ignore_titles"`

	// path of the file the config was read from, empty when env-only
	source string
}

// WikiConfig describes the remote wiki being archived
type WikiConfig struct {
	APIURL          string `mapstructure:"api_url" yaml:"api_url" validate:"required,url"`
	UserAgent       string `mapstructure:"user_agent" yaml:"user_agent" validate:"required"`
	Namespaces      []int  `mapstructure:"namespaces" yaml:"namespaces" validate:"required,min=1,dive,min=0"`
	RequestTimeoutS int    `mapstructure:"request_timeout_s" yaml:"request_timeout_s" validate:"min=1"`
	MaxLag          int    `mapstructure:"max_lag" yaml:"max_lag" validate:"min=0"`
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size" validate:"min=1,max=500"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host" validate:"required"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
	User     string `mapstructure:"user" yaml:"user" validate:"required"`
	Password string `mapstructure:"password" yaml:"password" validate:"required"`
	Database string `mapstructure:"database" yaml:"database" validate:"required"`
	Schema   string `mapstructure:"schema" yaml:"schema"` // Optional: derived from the wiki host if not specified
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	RetryAttempts    int     `mapstructure:"retry_attempts" yaml:"retry_attempts" validate:"min=0,max=10"`
	RetryBaseDelayMs int     `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms" validate:"min=1"`
	Workers          int     `mapstructure:"workers" yaml:"workers" validate:"min=1,max=32"`
	FailureThreshold float64 `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"min=0,max=1"`
	ErrorSampleSize  int     `mapstructure:"error_sample_size" yaml:"error_sample_size" validate:"min=1"`
	PageBatchSize    int     `mapstructure:"page_batch_size" yaml:"page_batch_size" validate:"min=1"`
}

// DaemonConfig controls the recurring scheduler
type DaemonConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes" yaml:"interval_minutes" validate:"min=1"`
	Bootstrap       bool `mapstructure:"bootstrap" yaml:"bootstrap"`
	DebounceMs      int  `mapstructure:"debounce_ms" yaml:"debounce_ms" validate:"min=0"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Database, sslMode,
	)
	// Keep every archive in its own schema
	if d.Schema != "" {
		connStr += "&search_path=" + d.Schema + ",public"
	}
	return connStr
}

// RequestTimeout returns the per-request HTTP timeout
func (w *WikiConfig) RequestTimeout() time.Duration {
	return time.Duration(w.RequestTimeoutS) * time.Second
}

// RetryBaseDelay returns the first backoff step
func (s *SyncConfig) RetryBaseDelay() time.Duration {
	return time.Duration(s.RetryBaseDelayMs) * time.Millisecond
}

// Interval returns the pause between scheduled runs
func (d *DaemonConfig) Interval() time.Duration {
	return time.Duration(d.IntervalMinutes) * time.Minute
}

// Source returns the config file path that was loaded, if any
func (c *Config) Source() string {
	return c.source
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Wiki: WikiConfig{
			UserAgent:       "wikiarchive/1.0 (archival crawler)",
			Namespaces:      []int{0},
			RequestTimeoutS: 60,
			MaxLag:          5,
			BatchSize:       50,
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "require",
		},
		Sync: SyncConfig{
			RetryAttempts:    3,
			RetryBaseDelayMs: 1000,
			Workers:          1,
			FailureThreshold: 0.10,
			ErrorSampleSize:  20,
			PageBatchSize:    2000,
		},
		Daemon: DaemonConfig{
			IntervalMinutes: 60,
			Bootstrap:       true,
			DebounceMs:      500,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("wiki.user_agent", defaults.Wiki.UserAgent)
	v.SetDefault("wiki.namespaces", defaults.Wiki.Namespaces)
	v.SetDefault("wiki.request_timeout_s", defaults.Wiki.RequestTimeoutS)
	v.SetDefault("wiki.max_lag", defaults.Wiki.MaxLag)
	v.SetDefault("wiki.batch_size", defaults.Wiki.BatchSize)
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("sync.retry_attempts", defaults.Sync.RetryAttempts)
	v.SetDefault("sync.retry_base_delay_ms", defaults.Sync.RetryBaseDelayMs)
	v.SetDefault("sync.workers", defaults.Sync.Workers)
	v.SetDefault("sync.failure_threshold", defaults.Sync.FailureThreshold)
	v.SetDefault("sync.error_sample_size", defaults.Sync.ErrorSampleSize)
	v.SetDefault("sync.page_batch_size", defaults.Sync.PageBatchSize)
	v.SetDefault("daemon.interval_minutes", defaults.Daemon.IntervalMinutes)
	v.SetDefault("daemon.bootstrap", defaults.Daemon.Bootstrap)
	v.SetDefault("daemon.debounce_ms", defaults.Daemon.DebounceMs)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age_days", defaults.Log.MaxAgeDays)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(GetConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("WIKIARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Environment-only configuration is fine
	}

	// Environment is read at unmarshal time, so .env values still apply
	envFiles := []string{".env"}
	if used := v.ConfigFileUsed(); used != "" {
		envFiles = append(envFiles, filepath.Join(filepath.Dir(used), ".env"))
	}
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.source = v.ConfigFileUsed()

	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Log.File = expandPath(cfg.Log.File)

	if cfg.Database.Schema == "" {
		cfg.Database.Schema = SchemaFromAPIURL(cfg.Wiki.APIURL)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

var (
	processEnvOnce sync.Once
	processEnv     map[string]bool
)

// loadEnvFiles applies .env files in order, later files winning. Variables
// set in the process environment before the first load are never replaced,
// while values that came from a .env follow the file when it is reloaded.
func loadEnvFiles(paths ...string) error {
	processEnvOnce.Do(func() {
		processEnv = make(map[string]bool)
		for _, kv := range os.Environ() {
			if k, _, ok := strings.Cut(kv, "="); ok {
				processEnv[k] = true
			}
		}
	})

	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true

		values, err := godotenv.Read(abs)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading %s: %w", abs, err)
		}
		for k, val := range values {
			if processEnv[k] {
				continue
			}
			if err := os.Setenv(k, val); err != nil {
				return fmt.Errorf("error setting %s from %s: %w", k, abs, err)
			}
		}
	}
	return nil
}

// Validate checks struct constraints on a loaded config
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Database.Schema != "" && SanitizeIdentifier(cfg.Database.Schema) != cfg.Database.Schema {
		return fmt.Errorf("config validation failed: schema %q is not a valid identifier", cfg.Database.Schema)
	}
	return nil
}

// GetConfigDir returns the appropriate config directory for the OS
func GetConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "wikiarchive")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "wikiarchive")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "wikiarchive")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "wikiarchive")
	}
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

// SchemaFromAPIURL derives the archive schema name from the wiki host,
// e.g. https://en.wikipedia.org/w/api.php -> en_wikipedia_org
func SchemaFromAPIURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Hostname() == "" {
		return SanitizeIdentifier("")
	}
	return SanitizeIdentifier(u.Hostname())
}

var (
	invalidIdentChars = regexp.MustCompile(`[^a-z0-9_]`)
	repeatedUnderline = regexp.MustCompile(`_+`)
)

// SanitizeIdentifier converts a name into a valid PostgreSQL identifier (schema name)
// Rules:
// - Lowercase only
// - Starts with a letter
// - Contains only letters, digits, underscores
// - Spaces, dots and hyphens become underscores
// - Max 63 characters (PostgreSQL limit)
func SanitizeIdentifier(name string) string {
	name = strings.ToLower(name)
	name = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(name)
	name = invalidIdentChars.ReplaceAllString(name, "")
	name = repeatedUnderline.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if len(name) == 0 {
		name = "wiki"
	} else if unicode.IsDigit(rune(name[0])) {
		name = "wiki_" + name
	}

	if len(name) > 63 {
		name = name[:63]
		name = strings.TrimRight(name, "_")
	}

	return name
}
