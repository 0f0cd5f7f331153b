package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	Patterns        PatternsConfig `yaml:"patterns"`
	Lights          []LightConfig  `yaml:"lights"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// MQTTConfig contains MQTT broker connection settings
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"` // Topic prefix (default: colornotify)
	QoS      byte   `yaml:"qos"`

	ConnectTimeout  Duration `yaml:"connect_timeout"`   // Initial connect timeout (default: 10s)
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// PatternsConfig contains the Lua pattern script settings
type PatternsConfig struct {
	Dir string `yaml:"dir"` // Directory of *.lua pattern scripts ("" = disabled)
}

// LightConfig describes one notification light and its wrapped device
type LightConfig struct {
	Name          string `yaml:"name"`
	WrappedEntity string `yaml:"wrapped_entity"`

	OnPriority      float64  `yaml:"on_priority"`      // Priority of the base "on" entry (default: 1000)
	OnRGB           []int    `yaml:"on_rgb"`           // Default on color (default: warm white)
	DynamicPriority bool     `yaml:"dynamic_priority"` // Keep base "on" above current top
	RestorePower    bool     `yaml:"restore_power"`    // Allow commands before the first notification
	PeekTime        Duration `yaml:"peek_time"`        // Peek boost window (0 = disabled)
	CycleTime       Duration `yaml:"cycle_time"`       // Same-priority cycling interval (0 = disabled)
	SupportsRGB     bool     `yaml:"supports_rgb"`     // Wrapped device accepts rgb_color directly
	RateLimitRPS    float64  `yaml:"rate_limit_rps"`   // Outbound command rate limit (default: 10)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./colornotifyd.sqlite"
	}

	// MQTT defaults
	if cfg.MQTT.Host == "" {
		cfg.MQTT.Host = "localhost"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "colornotifyd"
	}
	if cfg.MQTT.Prefix == "" {
		cfg.MQTT.Prefix = "colornotify"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.MinRetryBackoff == 0 {
		cfg.MQTT.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.MQTT.MaxRetryBackoff == 0 {
		cfg.MQTT.MaxRetryBackoff = Duration(2 * time.Minute)
	}

	// Light defaults and validation
	seen := make(map[string]bool, len(cfg.Lights))
	for i := range cfg.Lights {
		l := &cfg.Lights[i]
		if l.Name == "" {
			return nil, fmt.Errorf("lights[%d]: name is required", i)
		}
		if l.WrappedEntity == "" {
			return nil, fmt.Errorf("light %q: wrapped_entity is required", l.Name)
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("light %q: duplicate name", l.Name)
		}
		seen[l.Name] = true
		if l.OnPriority == 0 {
			l.OnPriority = 1000
		}
		if l.RateLimitRPS == 0 {
			l.RateLimitRPS = 10.0 // 10 requests per second
		}
		if len(l.OnRGB) != 0 && len(l.OnRGB) != 3 {
			return nil, fmt.Errorf("light %q: on_rgb must have 3 components", l.Name)
		}
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
