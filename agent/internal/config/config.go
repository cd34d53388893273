package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval          = time.Hour
	DefaultShipInterval      = 15 * time.Second
	DefaultBufferSize        = 1000
	DefaultConcurrency       = 4
	DefaultRateRequests      = 40
	DefaultRateWindow        = time.Minute
	DefaultRequestTimeout    = 30 * time.Second
	DefaultMaxAttempts       = 3
	DefaultMaxConnsPerHost   = 10
	DefaultMaxIdleConns      = 5
	DefaultIdleTimeout       = 90 * time.Second
	DefaultProjectConditions = "status/name='Active'"
	DefaultMaxActiveTickets  = 20
	DefaultAPIKeyHeader      = "X-API-Key"
)

// Config is the top-level agent configuration file.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the base URL of projectlens-server. Empty disables
	// shipping; reports are then only exported and logged.
	ServerEndpoint string `yaml:"server_endpoint"`

	// Interval controls how often every project is re-analysed.
	Interval time.Duration `yaml:"interval"`

	// ShipInterval controls how often buffered reports are sent to the server.
	ShipInterval time.Duration `yaml:"ship_interval"`

	// BufferSize is the maximum number of reports held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// ServerAuth configures how the agent authenticates to projectlens-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	ConnectWise ConnectWiseConfig `yaml:"connectwise"`

	// Projects pins the analysed project ids. When empty, the agent lists
	// projects matching ProjectConditions every cycle.
	Projects          []int  `yaml:"projects"`
	ProjectConditions string `yaml:"project_conditions"`

	// Concurrency bounds parallel ticket-detail fetches within one project.
	Concurrency int `yaml:"concurrency"`

	Insight InsightConfig `yaml:"insight"`
	Metrics MetricsConfig `yaml:"metrics"`

	// BundleDir, when set, receives the collected bundle of every project as
	// JSON for offline re-analysis with analyze-file.
	BundleDir string `yaml:"bundle_dir"`

	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields: used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields: used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	return fromEnv(a.KeyEnv)
}

// ConnectWiseConfig locates the project-management API and its credentials.
type ConnectWiseConfig struct {
	// BaseURL is the REST root, e.g. https://api-na.myconnectwise.net/v4_6_release/apis/3.0
	BaseURL string `yaml:"base_url"`

	// Company is the login company id. Not a secret.
	Company string `yaml:"company"`

	PublicKeyEnv  string `yaml:"public_key_env"`
	PrivateKeyEnv string `yaml:"private_key_env"`
	ClientIDEnv   string `yaml:"client_id_env"`

	// Timeout bounds each request attempt.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is the shared budget for 5xx responses and timeouts.
	MaxAttempts int `yaml:"max_attempts"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Pool      PoolConfig      `yaml:"pool"`
}

// PublicKey returns the API public key resolved from the environment.
func (c ConnectWiseConfig) PublicKey() string { return fromEnv(c.PublicKeyEnv) }

// PrivateKey returns the API private key resolved from the environment.
func (c ConnectWiseConfig) PrivateKey() string { return fromEnv(c.PrivateKeyEnv) }

// ClientID returns the integration client id resolved from the environment.
func (c ConnectWiseConfig) ClientID() string { return fromEnv(c.ClientIDEnv) }

// RateLimitConfig is the token bucket budget: Requests per Window.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// PoolConfig sizes the shared HTTP connection pool.
type PoolConfig struct {
	MaxConnsPerHost    int           `yaml:"max_conns_per_host"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// InsightConfig selects the optional language-model assessment.
type InsightConfig struct {
	// Provider is one of: none | gemini.
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`

	// CacheDir holds one cached document per project per day. Empty
	// disables caching.
	CacheDir string `yaml:"cache_dir"`

	MaxActiveTickets int `yaml:"max_active_tickets"`
}

// APIKey returns the provider API key resolved from the environment.
func (c InsightConfig) APIKey() string { return fromEnv(c.APIKeyEnv) }

// Enabled reports whether a provider is configured.
func (c InsightConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none"
}

// MetricsConfig configures the node_exporter textfile output.
type MetricsConfig struct {
	// TextfilePath is the .prom file to write. Empty disables export.
	TextfilePath string `yaml:"textfile_path"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Interval:          DefaultInterval,
			ShipInterval:      DefaultShipInterval,
			BufferSize:        DefaultBufferSize,
			ProjectConditions: DefaultProjectConditions,
			Concurrency:       DefaultConcurrency,
			ServerAuth:        AuthConfig{Header: DefaultAPIKeyHeader},
			ConnectWise: ConnectWiseConfig{
				Timeout:     DefaultRequestTimeout,
				MaxAttempts: DefaultMaxAttempts,
				RateLimit: RateLimitConfig{
					Requests: DefaultRateRequests,
					Window:   DefaultRateWindow,
				},
				Pool: PoolConfig{
					MaxConnsPerHost: DefaultMaxConnsPerHost,
					MaxIdleConns:    DefaultMaxIdleConns,
					IdleTimeout:     DefaultIdleTimeout,
				},
			},
			Insight: InsightConfig{
				Provider:         "none",
				MaxActiveTickets: DefaultMaxActiveTickets,
			},
			LogLevel: "info",
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := &cfg.Agent
	if a.ServerEndpoint != "" {
		u, err := url.Parse(a.ServerEndpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("agent.server_endpoint must be an http(s) URL, got %q", a.ServerEndpoint)
		}
	}
	if a.Interval <= 0 {
		return fmt.Errorf("agent.interval must be positive")
	}
	if a.ShipInterval <= 0 {
		return fmt.Errorf("agent.ship_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.Concurrency <= 0 {
		return fmt.Errorf("agent.concurrency must be positive")
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}
	for i, id := range a.Projects {
		if id <= 0 {
			return fmt.Errorf("agent.projects[%d]: id must be positive, got %d", i, id)
		}
	}

	cw := &a.ConnectWise
	if cw.BaseURL == "" {
		return fmt.Errorf("agent.connectwise.base_url is required")
	}
	if _, err := url.Parse(cw.BaseURL); err != nil {
		return fmt.Errorf("agent.connectwise.base_url: %w", err)
	}
	if cw.Company == "" {
		return fmt.Errorf("agent.connectwise.company is required")
	}
	if cw.PublicKeyEnv == "" || cw.PrivateKeyEnv == "" || cw.ClientIDEnv == "" {
		return fmt.Errorf("agent.connectwise: public_key_env, private_key_env and client_id_env are required")
	}
	if cw.Timeout <= 0 {
		return fmt.Errorf("agent.connectwise.timeout must be positive")
	}
	if cw.MaxAttempts <= 0 {
		return fmt.Errorf("agent.connectwise.max_attempts must be positive")
	}
	if cw.RateLimit.Requests <= 0 || cw.RateLimit.Window <= 0 {
		return fmt.Errorf("agent.connectwise.rate_limit: requests and window must be positive")
	}

	switch a.Insight.Provider {
	case "none", "":
	case "gemini":
		if a.Insight.APIKeyEnv == "" {
			return fmt.Errorf("agent.insight.api_key_env is required for provider %q", a.Insight.Provider)
		}
	default:
		return fmt.Errorf("agent.insight: unknown provider %q", a.Insight.Provider)
	}
	if a.Insight.MaxActiveTickets < 0 {
		return fmt.Errorf("agent.insight.max_active_tickets must not be negative")
	}

	if _, err := ParseLevel(a.LogLevel); err != nil {
		return fmt.Errorf("agent.log_level: %w", err)
	}
	return nil
}

// ParseLevel maps a log_level string to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}

func fromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
