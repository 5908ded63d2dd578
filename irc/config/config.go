package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrNoSource is returned when a reload has no source to read from.
var ErrNoSource = errors.New("no configuration source")

// Peer is a server allowed to link with us.
type Peer struct {
	Name     string `yaml:"name" toml:"name" json:"name" validate:"required"`
	SID      string `yaml:"sid" toml:"sid" json:"sid" validate:"required,sid"`
	Password string `yaml:"password" toml:"password" json:"password" validate:"required"`
	// Hidden peers are never named as the origin of lines shown to users.
	Hidden bool `yaml:"hidden" toml:"hidden" json:"hidden"`
	// Address is dialed when the peer is listed under links.connect.
	Address string `yaml:"address" toml:"address" json:"address" validate:"omitempty,hostname_port"`
}

// Config represents the daemon configuration
type Config struct {
	// Server identity
	Server struct {
		Name          string `yaml:"name" toml:"name" json:"name" env:"CHANSYNC_SERVER_NAME" validate:"required"`
		SID           string `yaml:"sid" toml:"sid" json:"sid" env:"CHANSYNC_SERVER_SID" validate:"required,sid"`
		Description   string `yaml:"description" toml:"description" json:"description" env:"CHANSYNC_SERVER_DESCRIPTION"`
		HideServers   bool   `yaml:"hide_servers" toml:"hide_servers" json:"hide_servers" env:"CHANSYNC_HIDE_SERVERS"`
		IgnoreBogusTS bool   `yaml:"ignore_bogus_ts" toml:"ignore_bogus_ts" json:"ignore_bogus_ts" env:"CHANSYNC_IGNORE_BOGUS_TS"`
	} `yaml:"server" toml:"server" json:"server"`

	// Protocol limits
	Limits struct {
		MaxLineLength int `yaml:"max_line_length" toml:"max_line_length" json:"max_line_length" env:"CHANSYNC_MAX_LINE_LENGTH" validate:"gte=128,lte=8192"`
		MaxModeParams int `yaml:"max_mode_params" toml:"max_mode_params" json:"max_mode_params" env:"CHANSYNC_MAX_MODE_PARAMS" validate:"gte=1,lte=64"`
		ChannelLength int `yaml:"channel_length" toml:"channel_length" json:"channel_length" env:"CHANSYNC_CHANNEL_LENGTH" validate:"gte=2,lte=200"`
		KeyLength     int `yaml:"key_length" toml:"key_length" json:"key_length" env:"CHANSYNC_KEY_LENGTH" validate:"gte=1,lte=100"`
		IDLength      int `yaml:"id_length" toml:"id_length" json:"id_length" env:"CHANSYNC_ID_LENGTH" validate:"gte=4,lte=32"`
	} `yaml:"limits" toml:"limits" json:"limits"`

	// Server links
	Links struct {
		Listen  string   `yaml:"listen" toml:"listen" json:"listen" env:"CHANSYNC_LINKS_LISTEN" validate:"omitempty,hostname_port"`
		Peers   []Peer   `yaml:"peers" toml:"peers" json:"peers" validate:"dive"`
		Connect []string `yaml:"connect" toml:"connect" json:"connect" env:"CHANSYNC_LINKS_CONNECT"`
		// Redial backoff for outbound links, in seconds.
		ReconnectMin      int    `yaml:"reconnect_min" toml:"reconnect_min" json:"reconnect_min" env:"CHANSYNC_RECONNECT_MIN" validate:"gte=1"`
		ReconnectMax      int    `yaml:"reconnect_max" toml:"reconnect_max" json:"reconnect_max" env:"CHANSYNC_RECONNECT_MAX" validate:"gtefield=ReconnectMin"`
		ReconnectStrategy string `yaml:"reconnect_strategy" toml:"reconnect_strategy" json:"reconnect_strategy" env:"CHANSYNC_RECONNECT_STRATEGY" validate:"oneof=exponential decorrelated"`
	} `yaml:"links" toml:"links" json:"links"`

	// Local client sessions
	Clients struct {
		Listen string `yaml:"listen" toml:"listen" json:"listen" env:"CHANSYNC_CLIENTS_LISTEN" validate:"omitempty,hostname_port"`
	} `yaml:"clients" toml:"clients" json:"clients"`

	// Operator HTTP API
	Admin struct {
		Listen    string `yaml:"listen" toml:"listen" json:"listen" env:"CHANSYNC_ADMIN_LISTEN" validate:"omitempty,hostname_port"`
		TokenHash string `yaml:"token_hash" toml:"token_hash" json:"token_hash" env:"CHANSYNC_ADMIN_TOKEN_HASH"`
	} `yaml:"admin" toml:"admin" json:"admin"`

	// Reconciliation journal
	Journal struct {
		DSN       string `yaml:"dsn" toml:"dsn" json:"dsn" env:"CHANSYNC_JOURNAL_DSN"`
		QueueSize int    `yaml:"queue_size" toml:"queue_size" json:"queue_size" env:"CHANSYNC_JOURNAL_QUEUE_SIZE" validate:"gte=0"`
	} `yaml:"journal" toml:"journal" json:"journal"`

	// Logging
	Log struct {
		Level  string `yaml:"level" toml:"level" json:"level" env:"CHANSYNC_LOG_LEVEL" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" toml:"format" json:"format" env:"CHANSYNC_LOG_FORMAT" validate:"oneof=console json"`
	} `yaml:"log" toml:"log" json:"log"`

	// Configuration source for reloading
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Default returns a configuration holding every default value.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	c.Server.Name = "chansync.local"
	c.Server.SID = "0CS"
	c.Server.Description = "chansync"

	c.Limits.MaxLineLength = 512
	c.Limits.MaxModeParams = 6
	c.Limits.ChannelLength = 50
	c.Limits.KeyLength = 23
	c.Limits.IDLength = 9

	c.Links.ReconnectMin = 5
	c.Links.ReconnectMax = 300
	c.Links.ReconnectStrategy = "decorrelated"

	c.Log.Level = "info"
	c.Log.Format = "console"
}

// Load loads configuration from a file or URL. An empty source yields the
// defaults with environment overrides applied.
func Load(source string) (*Config, error) {
	cfg := Default()
	cfg.Source = source

	if source != "" {
		if err := cfg.loadFromSource(source); err != nil {
			return nil, err
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload reloads the configuration from the original source or a new source
func (c *Config) Reload(newSource string) error {
	source := c.Source
	if newSource != "" {
		source = newSource
	}
	if source == "" {
		return ErrNoSource
	}

	newCfg := Default()
	if err := newCfg.loadFromSource(source); err != nil {
		return err
	}
	applyEnvOverrides(newCfg)
	if err := newCfg.Validate(); err != nil {
		return err
	}

	// Copy the new configuration to the current one
	*c = *newCfg
	return nil
}

// loadFromSource loads configuration from a file or URL
func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	// Check if the source is a URL
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return fmt.Errorf("failed to load config from URL: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read config from URL: %w", err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Determine the format based on file extension
	switch {
	case strings.HasSuffix(source, ".yaml") || strings.HasSuffix(source, ".yml"):
		err = yaml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		// Default to YAML
		err = yaml.Unmarshal(data, c)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	c.Source = source
	return nil
}

// Peer returns the configured peer called name.
func (c *Config) Peer(name string) (Peer, bool) {
	for _, p := range c.Links.Peers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Peer{}, false
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

// applyEnvOverridesRecursive recursively applies environment variable overrides
func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}

		if envTag := field.Tag.Get("env"); envTag != "" {
			if envValue, exists := os.LookupEnv(envTag); exists {
				setFieldFromEnv(fieldValue, envValue)
			}
		} else if field.Type.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(fieldValue)
		}
	}
}

// setFieldFromEnv sets a field's value from an environment variable
func setFieldFromEnv(field reflect.Value, envValue string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := parseInt(envValue); err == nil {
			field.SetInt(v)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v, err := parseUint(envValue); err == nil {
			field.SetUint(v)
		}
	case reflect.Bool:
		field.SetBool(parseBool(envValue))
	case reflect.Slice:
		// Handle string slices
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(envValue, ",")
			slice := reflect.MakeSlice(field.Type(), len(values), len(values))
			for i, v := range values {
				slice.Index(i).SetString(strings.TrimSpace(v))
			}
			field.Set(slice)
		}
	}
}

// Helper functions for parsing different types
func parseInt(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseUint(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "y"
}
