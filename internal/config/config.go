// Package config loads the device server configuration from a YAML file,
// expands ${VAR} references before parsing, and applies environment
// variable overrides on top of the file values.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/edgemcp/device-server-go/transport"
)

// Config is the full deviced configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Serial  SerialSection `yaml:"serial"`
	TCP     TCPSection    `yaml:"tcp"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig identifies the server and bounds its message processing.
type ServerConfig struct {
	Name           string `yaml:"name" env:"DEVICED_NAME"`
	Version        string `yaml:"version" env:"DEVICED_VERSION"`
	QueueDepth     int    `yaml:"queue_depth"`
	MaxResultBytes int    `yaml:"max_result_bytes"`
}

// SerialSection configures the framed serial transport. Device is a path
// to a character device, or "stdio" to run over the process streams.
type SerialSection struct {
	Enabled    bool   `yaml:"enabled"`
	Device     string `yaml:"device" env:"DEVICED_SERIAL_DEVICE"`
	MaxPayload int    `yaml:"max_payload"`
	QueueDepth int    `yaml:"queue_depth"`

	SendTimeout    time.Duration `yaml:"-"`
	SendTimeoutRaw string        `yaml:"send_timeout"`
}

// TCPSection configures the newline-delimited TCP transport.
type TCPSection struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr" env:"DEVICED_TCP_ADDR"`
	MaxClients   int    `yaml:"max_clients"`
	MaxLineBytes int    `yaml:"max_line_bytes"`

	WriteTimeout    time.Duration `yaml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout"`
}

// ToolsConfig switches individual device tools on or off. All tools are
// enabled by default.
type ToolsConfig struct {
	Echo    bool `yaml:"echo"`
	Display bool `yaml:"display"`
	GPIO    bool `yaml:"gpio"`
	System  bool `yaml:"system"`
	Status  bool `yaml:"status"`
}

// LoggingConfig selects log verbosity and output encoding.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"DEVICED_LOG_LEVEL"`
	Format string `yaml:"format" env:"DEVICED_LOG_FORMAT"`
}

// Default returns the configuration used when the file omits a section.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "edge-device",
			Version: "dev",
		},
		Serial: SerialSection{
			Device: "stdio",
		},
		TCP: TCPSection{
			Enabled: true,
			Addr:    ":9090",
		},
		Tools: ToolsConfig{
			Echo:    true,
			Display: true,
			GPIO:    true,
			System:  true,
			Status:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file at path and returns the parsed Config. Environment
// variables written as ${VAR_NAME} are expanded in the raw YAML before
// parsing, and env overrides are applied after.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse behaves like Load but takes the raw YAML directly.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Env overrides are best effort; an empty environment is not an error.
	_ = envdecode.Decode(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with the variable's value. Unset
// variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Serial.SendTimeoutRaw != "" {
		cfg.Serial.SendTimeout, err = time.ParseDuration(cfg.Serial.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing serial.send_timeout %q: %w", cfg.Serial.SendTimeoutRaw, err)
		}
	}
	if cfg.TCP.WriteTimeoutRaw != "" {
		cfg.TCP.WriteTimeout, err = time.ParseDuration(cfg.TCP.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tcp.write_timeout %q: %w", cfg.TCP.WriteTimeoutRaw, err)
		}
	}
	return nil
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if !c.Serial.Enabled && !c.TCP.Enabled {
		return fmt.Errorf("at least one transport must be enabled")
	}
	if c.Serial.Enabled && c.Serial.Device == "" {
		return fmt.Errorf("serial.device is required when serial is enabled")
	}
	if c.TCP.Enabled && c.TCP.Addr == "" {
		return fmt.Errorf("tcp.addr is required when tcp is enabled")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not json or text", c.Logging.Format)
	}
	return nil
}

// SerialTransportConfig converts the serial section into the transport
// package's config type.
func (c *Config) SerialTransportConfig() *transport.SerialConfig {
	return &transport.SerialConfig{
		MaxPayload:  c.Serial.MaxPayload,
		QueueDepth:  c.Serial.QueueDepth,
		SendTimeout: c.Serial.SendTimeout,
	}
}

// TCPTransportConfig converts the tcp section into the transport
// package's config type.
func (c *Config) TCPTransportConfig() *transport.TCPConfig {
	return &transport.TCPConfig{
		Addr:         c.TCP.Addr,
		MaxClients:   c.TCP.MaxClients,
		MaxLineBytes: c.TCP.MaxLineBytes,
		WriteTimeout: c.TCP.WriteTimeout,
	}
}
