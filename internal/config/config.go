// Package config provides configuration loading for memeops.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then the process environment. Secrets have no defaults.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	opserrors "github.com/memeplatform/memeops/internal/errors"
)

// Config holds the application configuration.
type Config struct {
	// Source is the MongoDB document store being migrated from.
	Source SourceConfig `mapstructure:"source" yaml:"source"`

	// Destination is the PostgreSQL database being migrated into.
	Destination DatabaseConfig `mapstructure:"destination" yaml:"destination"`

	// Migration tunes the runner.
	Migration MigrationConfig `mapstructure:"migration" yaml:"migration"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configuration for the SPA web server
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	placeholders []string
}

// SourceConfig holds MongoDB configuration.
type SourceConfig struct {
	URI string `mapstructure:"uri" yaml:"uri"`

	// Database overrides the database named in the URI path.
	Database       string `mapstructure:"database" yaml:"database"`
	ConnectTimeout string `mapstructure:"connectTimeout" yaml:"connectTimeout"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Name     string `mapstructure:"name" yaml:"name"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// MigrationConfig holds runner settings.
type MigrationConfig struct {
	// InsertsPerSecond throttles destination writes. Zero disables throttling.
	InsertsPerSecond float64 `mapstructure:"insertsPerSecond" yaml:"insertsPerSecond"`

	// Timeout bounds a whole run. Empty or "0" means no timeout.
	Timeout string `mapstructure:"timeout" yaml:"timeout"`

	// ApplySchema runs the embedded schema migrations before copying.
	ApplySchema bool `mapstructure:"applySchema" yaml:"applySchema"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig holds static web server configuration.
type ServerConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	Root            string `mapstructure:"root" yaml:"root"`
	ShutdownTimeout string `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// Placeholder destination values. They let a developer point at a local
// database without a config file, and are reported by Warnings.
const (
	PlaceholderHost = "localhost"
	PlaceholderPort = 5432
	PlaceholderUser = "postgres"
	PlaceholderName = "memeplatform"
)

// envBindings maps config keys to the environment variable names the platform
// already uses. The MEMEOPS_ prefixed form is accepted for every key as well.
var envBindings = map[string][]string{
	"source.uri":           {"MONGODB_URI", "MONGO_URI"},
	"source.database":      {"MONGODB_DATABASE"},
	"destination.host":     {"POSTGRES_HOST", "PGHOST"},
	"destination.port":     {"POSTGRES_PORT", "PGPORT"},
	"destination.user":     {"POSTGRES_USER", "PGUSER"},
	"destination.password": {"POSTGRES_PASSWORD", "PGPASSWORD"},
	"destination.name":     {"POSTGRES_DB", "PGDATABASE"},
	"destination.sslmode":  {"POSTGRES_SSLMODE", "PGSSLMODE"},
	"server.addr":          {"WEB_ADDR"},
	"server.root":          {"WEB_ROOT"},
}

// DefaultConfig returns a configuration with default values. Secrets and
// placeholder destination values are left empty.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			ConnectTimeout: "10s",
		},
		Destination: DatabaseConfig{
			SSLMode: "disable",
		},
		Migration: MigrationConfig{
			InsertsPerSecond: 0,
			Timeout:          "0",
			ApplySchema:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:            ":3000",
			Root:            "dist",
			ShutdownTimeout: "10s",
		},
	}
}

// Load loads configuration from file and environment. envFiles are dotenv
// files loaded before the environment is read; a missing ".env" is ignored.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".memeops"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("memeops")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MEMEOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		prefixed := "MEMEOPS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("error binding environment for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional unless named explicitly
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.applyPlaceholders()

	return &cfg, nil
}

func loadDotEnv(files []string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			if os.IsNotExist(err) && filepath.Base(f) == ".env" {
				continue
			}
			return fmt.Errorf("error reading env file %s: %w", f, err)
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("error loading env file %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("source.uri", "")
	v.SetDefault("source.database", "")
	v.SetDefault("source.connectTimeout", d.Source.ConnectTimeout)
	v.SetDefault("destination.host", "")
	v.SetDefault("destination.port", 0)
	v.SetDefault("destination.user", "")
	v.SetDefault("destination.password", "")
	v.SetDefault("destination.name", "")
	v.SetDefault("destination.sslmode", d.Destination.SSLMode)
	v.SetDefault("migration.insertsPerSecond", d.Migration.InsertsPerSecond)
	v.SetDefault("migration.timeout", d.Migration.Timeout)
	v.SetDefault("migration.applySchema", d.Migration.ApplySchema)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.root", d.Server.Root)
	v.SetDefault("server.shutdownTimeout", d.Server.ShutdownTimeout)
}

// applyPlaceholders fills unset non-secret destination fields and records which
// ones were filled so they can be flagged.
func (c *Config) applyPlaceholders() {
	c.placeholders = nil
	if c.Destination.Host == "" {
		c.Destination.Host = PlaceholderHost
		c.placeholders = append(c.placeholders, "destination.host")
	}
	if c.Destination.Port == 0 {
		c.Destination.Port = PlaceholderPort
		c.placeholders = append(c.placeholders, "destination.port")
	}
	if c.Destination.User == "" {
		c.Destination.User = PlaceholderUser
		c.placeholders = append(c.placeholders, "destination.user")
	}
	if c.Destination.Name == "" {
		c.Destination.Name = PlaceholderName
		c.placeholders = append(c.placeholders, "destination.name")
	}
}

// Warnings lists placeholder values in use. They are never fit for production.
func (c *Config) Warnings() []string {
	warnings := make([]string, 0, len(c.placeholders))
	for _, key := range c.placeholders {
		warnings = append(warnings, fmt.Sprintf("%s not configured, using placeholder %q", key, c.placeholderValue(key)))
	}
	return warnings
}

func (c *Config) placeholderValue(key string) string {
	switch key {
	case "destination.host":
		return PlaceholderHost
	case "destination.port":
		return strconv.Itoa(PlaceholderPort)
	case "destination.user":
		return PlaceholderUser
	case "destination.name":
		return PlaceholderName
	}
	return ""
}

// Validate checks everything a migration run needs. It fails fast on missing
// secrets rather than falling back to a usable default.
func (c *Config) Validate() error {
	if c.Source.URI == "" {
		return opserrors.NewConfigInvalid("source.uri", "is required (MONGODB_URI)")
	}
	if !strings.HasPrefix(c.Source.URI, "mongodb://") && !strings.HasPrefix(c.Source.URI, "mongodb+srv://") {
		return opserrors.NewConfigInvalid("source.uri", "must use the mongodb:// or mongodb+srv:// scheme")
	}
	if _, err := parseDuration(c.Source.ConnectTimeout); err != nil {
		return opserrors.NewConfigInvalid("source.connectTimeout", err.Error())
	}
	if err := c.ValidateDestination(); err != nil {
		return err
	}
	if r := c.Migration.InsertsPerSecond; math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return opserrors.NewConfigInvalid("migration.insertsPerSecond", fmt.Sprintf("must be a finite, non-negative number, got %v", r))
	}
	if _, err := parseDuration(c.Migration.Timeout); err != nil {
		return opserrors.NewConfigInvalid("migration.timeout", err.Error())
	}
	return nil
}

// ValidateDestination checks what the destination-only commands need.
func (c *Config) ValidateDestination() error {
	if c.Destination.Password == "" {
		return opserrors.NewConfigInvalid("destination.password", "is required (POSTGRES_PASSWORD); there is no default")
	}
	if c.Destination.Port < 1 || c.Destination.Port > 65535 {
		return opserrors.NewConfigInvalid("destination.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Destination.Port))
	}
	switch c.Destination.SSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return opserrors.NewConfigInvalid("destination.sslmode", fmt.Sprintf("unsupported value %q", c.Destination.SSLMode))
	}
	return c.validateLogging()
}

// ValidateServer checks the settings needed by the static web server.
func (c *Config) ValidateServer() error {
	if c.Server.Addr == "" {
		return opserrors.NewConfigInvalid("server.addr", "is required")
	}
	if c.Server.Root == "" {
		return opserrors.NewConfigInvalid("server.root", "is required")
	}
	if _, err := parseDuration(c.Server.ShutdownTimeout); err != nil {
		return opserrors.NewConfigInvalid("server.shutdownTimeout", err.Error())
	}
	return c.validateLogging()
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return opserrors.NewConfigInvalid("logging.level", fmt.Sprintf("unsupported level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return opserrors.NewConfigInvalid("logging.format", fmt.Sprintf("must be json or console, got %q", c.Logging.Format))
	}
	return nil
}

// DSN returns the lib/pq connection URL for the destination.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns the DSN with the password masked, for logs.
func (d DatabaseConfig) Redacted() string {
	masked := d
	if masked.Password != "" {
		masked.Password = "xxxxx"
	}
	return masked.DSN()
}

// Timeout returns the parsed source connect timeout.
func (s SourceConfig) Timeout() time.Duration {
	d, _ := parseDuration(s.ConnectTimeout)
	return d
}

// RunTimeout returns the parsed run timeout; zero means unbounded.
func (m MigrationConfig) RunTimeout() time.Duration {
	d, _ := parseDuration(m.Timeout)
	return d
}

// Shutdown returns the parsed graceful shutdown deadline.
func (s ServerConfig) Shutdown() time.Duration {
	d, _ := parseDuration(s.ShutdownTimeout)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}
