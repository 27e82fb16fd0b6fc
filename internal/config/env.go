package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLUGHOST_"

// LookupFunc looks up an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envSetter applies one environment value to a config.
type envSetter func(c *Config, v string) error

// envMapping maps environment variables to settings.
func envMapping() map[string]envSetter {
	return map[string]envSetter{
		"PLUGHOST_PLUGINS_DIR":            str(func(c *Config) *string { return &c.Plugins.Dir }),
		"PLUGHOST_PLUGINS_TEMP_DIR":       str(func(c *Config) *string { return &c.Plugins.TempDir }),
		"PLUGHOST_PLUGINS_BUNDLED":        list(func(c *Config) *[]string { return &c.Plugins.Bundled }),
		"PLUGHOST_PLUGINS_POLL_INTERVAL":  duration(func(c *Config) *Duration { return &c.Plugins.PollInterval }),
		"PLUGHOST_PLUGINS_WATCH":          boolean(func(c *Config) *bool { return &c.Plugins.Watch }),
		"PLUGHOST_PLUGINS_DEBOUNCE":       duration(func(c *Config) *Duration { return &c.Plugins.Debounce }),
		"PLUGHOST_PLUGINS_DESCRIPTOR":     str(func(c *Config) *string { return &c.Plugins.DescriptorName }),
		"PLUGHOST_PLUGINS_RUNTIME":        float(func(c *Config) *float64 { return &c.Plugins.RuntimeVersion }),
		"PLUGHOST_PLUGINS_ENABLE_TIMEOUT": duration(func(c *Config) *Duration { return &c.Plugins.EnableTimeout }),
		"PLUGHOST_PLUGINS_SCRIPT_TIMEOUT": duration(func(c *Config) *Duration { return &c.Plugins.ScriptTimeout }),
		"PLUGHOST_STORE_DRIVER":           str(func(c *Config) *string { return &c.Store.Driver }),
		"PLUGHOST_STORE_PATH":             str(func(c *Config) *string { return &c.Store.Path }),
		"PLUGHOST_STORE_REDIS_URL":        str(func(c *Config) *string { return &c.Store.RedisURL }),
		"PLUGHOST_STORE_REDIS_KEY":        str(func(c *Config) *string { return &c.Store.RedisKey }),
		"PLUGHOST_STORE_DSN":              str(func(c *Config) *string { return &c.Store.DSN }),
		"PLUGHOST_STORE_TABLE":            str(func(c *Config) *string { return &c.Store.Table }),
		"PLUGHOST_EVENTS_AMQP_URL":        str(func(c *Config) *string { return &c.Events.AMQPURL }),
		"PLUGHOST_EVENTS_EXCHANGE":        str(func(c *Config) *string { return &c.Events.Exchange }),
		"PLUGHOST_ADMIN_ADDR":             str(func(c *Config) *string { return &c.Admin.Addr }),
		"PLUGHOST_LOG_LEVEL":              str(func(c *Config) *string { return &c.Logging.Level }),
		"PLUGHOST_LOG_FORMAT":             str(func(c *Config) *string { return &c.Logging.Format }),
		"PLUGHOST_LOG_OUTPUT":             str(func(c *Config) *string { return &c.Logging.Output }),
	}
}

// EnvVars returns the names of the supported environment overrides.
func EnvVars() []string {
	m := envMapping()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyEnv overrides settings from environment variables found by
// lookup. Empty values count as set.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, name := range EnvVars() {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := envMapping()[name](c, v); err != nil {
			return &ParseError{Path: name, Message: err.Error(), Err: err}
		}
	}
	return nil
}

func str(field func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func list(field func(*Config) *[]string) envSetter {
	return func(c *Config, v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*field(c) = out
		return nil
	}
}

func duration(field func(*Config) *Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = Duration(d)
		return nil
	}
}

func float(field func(*Config) *float64) envSetter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

// boolean accepts true, yes, on and 1, and their negations.
func boolean(field func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		switch strings.ToLower(v) {
		case "true", "yes", "on", "1":
			*field(c) = true
		case "false", "no", "off", "0":
			*field(c) = false
		default:
			return fmt.Errorf("invalid boolean %q", v)
		}
		return nil
	}
}
