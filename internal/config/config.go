// ABOUTME: Configuration loading and parsing for concierge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default timing parameters, used when the config file leaves them unset.
const (
	DefaultMailboxTTL     = 300 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultPollAttempts   = 30
	DefaultReconnectDelay = 5 * time.Second
	DefaultRequestTimeout = 120 * time.Second
)

// Config represents the complete concierge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Hook      HookConfig      `yaml:"hook"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Widget    WidgetConfig    `yaml:"widget"`
	Database  DatabaseConfig  `yaml:"database"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// GatewayConfig holds the agent gateway WebSocket connection settings.
// An empty URL disables the WebSocket path entirely.
type GatewayConfig struct {
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`
	ClientID   string `yaml:"client_id"`
	SessionKey string `yaml:"session_key"`

	ReconnectDelay time.Duration `yaml:"-"`
	RequestTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReconnectDelayRaw string `yaml:"reconnect_delay"`
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// HookConfig holds the out-of-band agent trigger settings for the HTTP
// fallback path. An empty URL disables the mailbox path.
type HookConfig struct {
	URL           string `yaml:"url"`
	Secret        string `yaml:"secret"`
	RequireSecret bool   `yaml:"require_secret"`
}

// MailboxConfig holds mailbox entry expiry configuration
type MailboxConfig struct {
	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// WidgetConfig holds visitor-facing widget behavior configuration
type WidgetConfig struct {
	Greeting     string `yaml:"greeting"`
	ContactLine  string `yaml:"contact_line"`
	PollAttempts int    `yaml:"poll_attempts"`

	PollInterval time.Duration `yaml:"-"`

	PollIntervalRaw string `yaml:"poll_interval"`
}

// DatabaseConfig holds transcript database configuration.
// An empty path disables transcript persistence.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes. Split from Load for testability.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued timing and identity fields.
func (c *Config) applyDefaults() {
	if c.Mailbox.TTL == 0 {
		c.Mailbox.TTL = DefaultMailboxTTL
	}
	if c.Widget.PollInterval == 0 {
		c.Widget.PollInterval = DefaultPollInterval
	}
	if c.Widget.PollAttempts == 0 {
		c.Widget.PollAttempts = DefaultPollAttempts
	}
	if c.Gateway.ReconnectDelay == 0 {
		c.Gateway.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Gateway.RequestTimeout == 0 {
		c.Gateway.RequestTimeout = DefaultRequestTimeout
	}
	if c.Gateway.ClientID == "" {
		c.Gateway.ClientID = "concierge-widget"
	}
	if c.Gateway.SessionKey == "" {
		c.Gateway.SessionKey = "concierge:web"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Hook.RequireSecret && c.Hook.Secret == "" {
		return fmt.Errorf("hook.secret is required when hook.require_secret is set")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Mailbox.TTLRaw != "" {
		cfg.Mailbox.TTL, err = time.ParseDuration(cfg.Mailbox.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing mailbox ttl %q: %w", cfg.Mailbox.TTLRaw, err)
		}
	}

	if cfg.Widget.PollIntervalRaw != "" {
		cfg.Widget.PollInterval, err = time.ParseDuration(cfg.Widget.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Widget.PollIntervalRaw, err)
		}
	}

	if cfg.Gateway.ReconnectDelayRaw != "" {
		cfg.Gateway.ReconnectDelay, err = time.ParseDuration(cfg.Gateway.ReconnectDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_delay %q: %w", cfg.Gateway.ReconnectDelayRaw, err)
		}
	}

	if cfg.Gateway.RequestTimeoutRaw != "" {
		cfg.Gateway.RequestTimeout, err = time.ParseDuration(cfg.Gateway.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Gateway.RequestTimeoutRaw, err)
		}
	}

	return nil
}
