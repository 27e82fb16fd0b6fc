// Package config loads the plughost configuration.
//
// Configuration is read from a TOML or YAML file chosen by extension,
// then PLUGHOST_* environment variables override individual settings.
// Settings missing from both keep the values of Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/plughost/internal/statestore"
)

// Config is the complete host configuration.
type Config struct {
	Plugins PluginsConfig `toml:"plugins" yaml:"plugins"`
	Store   StoreConfig   `toml:"store" yaml:"store"`
	Events  EventsConfig  `toml:"events" yaml:"events"`
	Admin   AdminConfig   `toml:"admin" yaml:"admin"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

// PluginsConfig controls where plugins come from and how they start.
type PluginsConfig struct {
	// Dir is the hot deploy directory.
	Dir string `toml:"dir" yaml:"dir"`
	// TempDir receives nested archives extracted from plugins. It is
	// created at startup when missing.
	TempDir string `toml:"temp_dir" yaml:"temp_dir"`
	// Bundled lists plugin artifacts loaded once at startup.
	Bundled []string `toml:"bundled" yaml:"bundled"`
	// PollInterval is the time between directory scans; zero disables
	// periodic scans.
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	// Watch wakes the scanner on directory change notifications.
	Watch bool `toml:"watch" yaml:"watch"`
	// Debounce is how long the directory must be quiet after a change.
	Debounce Duration `toml:"debounce" yaml:"debounce"`
	// DescriptorName is the descriptor entry inside archives.
	DescriptorName string `toml:"descriptor_name" yaml:"descriptor_name"`
	// RuntimeVersion is compared against module minimum versions.
	RuntimeVersion float64 `toml:"runtime_version" yaml:"runtime_version"`
	// EnableTimeout bounds the wait for asynchronously enabling plugins.
	EnableTimeout Duration `toml:"enable_timeout" yaml:"enable_timeout"`
	// ScriptTimeout bounds each call into a Lua module.
	ScriptTimeout Duration `toml:"script_timeout" yaml:"script_timeout"`
}

// StoreConfig selects where enablement state is persisted.
type StoreConfig struct {
	Driver   string `toml:"driver" yaml:"driver"`
	Path     string `toml:"path" yaml:"path"`
	RedisURL string `toml:"redis_url" yaml:"redis_url"`
	RedisKey string `toml:"redis_key" yaml:"redis_key"`
	DSN      string `toml:"dsn" yaml:"dsn"`
	Table    string `toml:"table" yaml:"table"`
}

// Options converts the settings for statestore.Open.
func (s StoreConfig) Options() statestore.Options {
	return statestore.Options{
		Driver:   s.Driver,
		Path:     s.Path,
		RedisURL: s.RedisURL,
		RedisKey: s.RedisKey,
		DSN:      s.DSN,
		Table:    s.Table,
	}
}

// EventsConfig controls lifecycle event forwarding. Events are always
// delivered to in-process subscribers; AMQPURL adds a broker.
type EventsConfig struct {
	AMQPURL  string `toml:"amqp_url" yaml:"amqp_url"`
	Exchange string `toml:"exchange" yaml:"exchange"`
}

// AdminConfig controls the HTTP admin API.
type AdminConfig struct {
	// Addr is the listen address; empty disables the API.
	Addr string `toml:"addr" yaml:"addr"`
	// ShutdownTimeout bounds the graceful shutdown of the server.
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" yaml:"level"`
	// Format is text or json.
	Format string `toml:"format" yaml:"format"`
	// Output is stdout, stderr or a file path.
	Output string `toml:"output" yaml:"output"`
	// MaxSizeMB, MaxBackups, MaxAgeDays and Compress control rotation
	// of file output.
	MaxSizeMB  int  `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" yaml:"compress"`
}

// Default returns the configuration used for unset settings.
func Default() *Config {
	return &Config{
		Plugins: PluginsConfig{
			Dir:            "plugins",
			TempDir:        filepath.Join(os.TempDir(), "plughost"),
			PollInterval:   Duration(5 * time.Second),
			Watch:          true,
			Debounce:       Duration(250 * time.Millisecond),
			DescriptorName: "plugin.xml",
			EnableTimeout:  Duration(60 * time.Second),
			ScriptTimeout:  Duration(5 * time.Second),
		},
		Store: StoreConfig{
			Driver:   statestore.DriverFile,
			Path:     "plugin-state.properties",
			RedisKey: "plughost:plugin-state",
			Table:    "plugin_state",
		},
		Events: EventsConfig{
			Exchange: "plughost.events",
		},
		Admin: AdminConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the file at path over Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode merges the file contents into c. Unknown keys are errors.
func (c *Config) decode(path string, data []byte) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			perr := &ParseError{Path: path, Message: err.Error(), Err: err}
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				perr.Line, perr.Column = derr.Position()
			}
			return perr
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
	drivers    = []string{statestore.DriverMemory, statestore.DriverFile, statestore.DriverRedis, statestore.DriverMySQL}
)

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(path, msg string, v any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: v})
	}

	if c.Plugins.Dir == "" {
		invalid("plugins.dir", "is required", c.Plugins.Dir)
	}
	if c.Plugins.TempDir == "" {
		invalid("plugins.temp_dir", "is required", c.Plugins.TempDir)
	}
	if c.Plugins.PollInterval < 0 {
		invalid("plugins.poll_interval", "must not be negative", c.Plugins.PollInterval)
	}
	if c.Plugins.Debounce < 0 {
		invalid("plugins.debounce", "must not be negative", c.Plugins.Debounce)
	}
	if c.Plugins.EnableTimeout <= 0 {
		invalid("plugins.enable_timeout", "must be positive", c.Plugins.EnableTimeout)
	}
	if c.Plugins.DescriptorName == "" {
		invalid("plugins.descriptor_name", "is required", c.Plugins.DescriptorName)
	}
	if c.Plugins.RuntimeVersion < 0 {
		invalid("plugins.runtime_version", "must not be negative", c.Plugins.RuntimeVersion)
	}

	switch c.Store.Driver {
	case statestore.DriverFile:
		if c.Store.Path == "" {
			invalid("store.path", "is required by the file driver", c.Store.Path)
		}
	case statestore.DriverRedis:
		if c.Store.RedisURL == "" {
			invalid("store.redis_url", "is required by the redis driver", c.Store.RedisURL)
		}
	case statestore.DriverMySQL:
		if c.Store.DSN == "" {
			invalid("store.dsn", "is required by the mysql driver", c.Store.DSN)
		}
	default:
		if !slices.Contains(drivers, c.Store.Driver) {
			invalid("store.driver", "must be one of "+strings.Join(drivers, ", "), c.Store.Driver)
		}
	}

	if c.Events.AMQPURL != "" && c.Events.Exchange == "" {
		invalid("events.exchange", "is required with amqp_url", c.Events.Exchange)
	}
	if c.Admin.ShutdownTimeout < 0 {
		invalid("admin.shutdown_timeout", "must not be negative", c.Admin.ShutdownTimeout)
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		invalid("logging.level", "must be one of "+strings.Join(logLevels, ", "), c.Logging.Level)
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Logging.Format)) {
		invalid("logging.format", "must be one of "+strings.Join(logFormats, ", "), c.Logging.Format)
	}
	if c.Logging.Output == "" {
		invalid("logging.output", "is required", c.Logging.Output)
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration written as a string such as "5s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats d like time.Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
