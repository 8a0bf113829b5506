package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default file names and parameters.
const (
	// DefaultConfigFilename is used when no explicit config path is given.
	DefaultConfigFilename = "config.yaml"

	// DefaultDataFilename is where the alarm snapshot lives unless configured.
	DefaultDataFilename = "alarms.json"

	// DefaultBoardInterval is the period between dashboard refresh passes.
	DefaultBoardInterval = 30 * time.Second

	// DefaultGatewayTimeout bounds each messaging API request.
	DefaultGatewayTimeout = 10 * time.Second

	// DefaultLogLevel is applied when the config does not set one.
	DefaultLogLevel = "info"

	// DefaultFilePermissions restricts the saved config to the owner,
	// since it may carry the gateway token.
	DefaultFilePermissions = 0o600
)

// Gateway modes.
const (
	// GatewayModeREST talks to a messaging platform over its HTTP API.
	GatewayModeREST = "rest"

	// GatewayModeMemory keeps views and messages in process, for tests
	// and dry runs.
	GatewayModeMemory = "memory"
)

var (
	errConfigIsNotSet     = errors.New("config is not set")
	errGatewayModeUnknown = errors.New("unknown gateway mode")
	errBaseURLRequired    = errors.New("gateway base URL is required in rest mode")
	errTokenRequired      = errors.New("gateway token is required in rest mode")
	errLeadTimeNegative   = errors.New("lead times must not be negative")
)

// Config holds the settings for the alarm board service.
type Config struct {
	// DataFile is the path to the JSON snapshot that carries tenants and
	// scheduled alarms across restarts.
	DataFile string `yaml:"data_file"`

	// Gateway selects and configures the messaging backend.
	Gateway Gateway `yaml:"gateway"`

	// BoardInterval is the period between dashboard refresh passes.
	BoardInterval time.Duration `yaml:"board_interval"`

	// LeadTimes are the warning offsets before each deadline. The zero
	// lead is the final alarm notification; it is appended when missing.
	LeadTimes []time.Duration `yaml:"lead_times"`

	// OpsAddress is the listen socket for the read-only introspection
	// HTTP server. Empty disables the server.
	OpsAddress string `yaml:"ops_address"`

	// LogLevel sets the minimum level for log output.
	LogLevel string `yaml:"log_level"`
}

// Gateway configures the messaging backend behind the gateway boundary.
type Gateway struct {
	// Mode selects the backend, either "rest" or "memory".
	Mode string `yaml:"mode"`

	// BaseURL is the root URL of the messaging HTTP API, rest mode only.
	BaseURL string `yaml:"base_url"`

	// Token authenticates requests against the messaging HTTP API,
	// rest mode only.
	Token string `yaml:"token"`

	// Timeout bounds each messaging API request.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultLeadTimes returns the warning schedule applied when the config
// does not set one: warnings at ten, five and one minute, then the alarm.
func DefaultLeadTimes() []time.Duration {
	return []time.Duration{10 * time.Minute, 5 * time.Minute, time.Minute, 0}
}

// Load reads the config from path, falling back to DefaultConfigFilename
// when path is empty, and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := new(Config)
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save validates the config and writes it to path in YAML format.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err = os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks required fields and fills in defaults for the rest.
// It mutates cfg, so a validated config is ready to use as is.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.DataFile == "" {
		cfg.DataFile = DefaultDataFilename
	}

	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = GatewayModeREST
	}

	switch cfg.Gateway.Mode {
	case GatewayModeREST:
		if cfg.Gateway.BaseURL == "" {
			return errBaseURLRequired
		}

		if _, err := url.ParseRequestURI(cfg.Gateway.BaseURL); err != nil {
			return fmt.Errorf("invalid gateway base URL: %w", err)
		}

		if cfg.Gateway.Token == "" {
			return errTokenRequired
		}
	case GatewayModeMemory:
	default:
		return fmt.Errorf("%w: %q", errGatewayModeUnknown, cfg.Gateway.Mode)
	}

	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = DefaultGatewayTimeout
	}

	if cfg.BoardInterval <= 0 {
		cfg.BoardInterval = DefaultBoardInterval
	}

	if len(cfg.LeadTimes) == 0 {
		cfg.LeadTimes = DefaultLeadTimes()
	}

	for _, lead := range cfg.LeadTimes {
		if lead < 0 {
			return fmt.Errorf("%w: %v", errLeadTimeNegative, lead)
		}
	}

	if cfg.OpsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.OpsAddress); err != nil {
			return fmt.Errorf("invalid ops address: %w", err)
		}
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	return nil
}
