package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimal = `
agent:
  connectwise:
    base_url: "https://api-na.myconnectwise.net/v4_6_release/apis/3.0"
    company: "acme"
    public_key_env: CW_PUBLIC
    private_key_env: CW_PRIVATE
    client_id_env: CW_CLIENT
`

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  server_endpoint: "https://lens.internal:8080"
  interval: 30m
  ship_interval: 5s
  buffer_size: 500
  server_auth:
    mode: apikey
    header: X-Lens-Key
    key_env: LENS_KEY
  connectwise:
    base_url: "https://api-na.myconnectwise.net/v4_6_release/apis/3.0"
    company: "acme"
    public_key_env: CW_PUBLIC
    private_key_env: CW_PRIVATE
    client_id_env: CW_CLIENT
    timeout: 10s
    rate_limit:
      requests: 20
      window: 30s
    pool:
      max_conns_per_host: 4
  projects: [101, 202]
  concurrency: 8
  insight:
    provider: gemini
    model: gemini-2.0-flash
    api_key_env: GEMINI_KEY
    cache_dir: /var/cache/projectlens
  metrics:
    textfile_path: /var/lib/node_exporter/projectlens.prom
  log_level: debug
`
	cfg := loadFromString(t, yaml)
	a := cfg.Agent

	if a.ServerEndpoint != "https://lens.internal:8080" {
		t.Errorf("server_endpoint: got %q", a.ServerEndpoint)
	}
	if a.Interval != 30*time.Minute {
		t.Errorf("interval: got %v", a.Interval)
	}
	if a.BufferSize != 500 {
		t.Errorf("buffer_size: got %d", a.BufferSize)
	}
	if a.ServerAuth.Header != "X-Lens-Key" {
		t.Errorf("server_auth.header: got %q", a.ServerAuth.Header)
	}
	if a.ConnectWise.RateLimit.Requests != 20 || a.ConnectWise.RateLimit.Window != 30*time.Second {
		t.Errorf("rate_limit: got %+v", a.ConnectWise.RateLimit)
	}
	if a.ConnectWise.Pool.MaxConnsPerHost != 4 {
		t.Errorf("pool.max_conns_per_host: got %d", a.ConnectWise.Pool.MaxConnsPerHost)
	}
	// Unset pool fields keep their defaults.
	if a.ConnectWise.Pool.MaxIdleConns != DefaultMaxIdleConns {
		t.Errorf("pool.max_idle_conns: got %d, want default %d", a.ConnectWise.Pool.MaxIdleConns, DefaultMaxIdleConns)
	}
	if len(a.Projects) != 2 || a.Projects[1] != 202 {
		t.Errorf("projects: got %v", a.Projects)
	}
	if !a.Insight.Enabled() {
		t.Error("insight should be enabled")
	}
	if a.Metrics.TextfilePath == "" {
		t.Error("metrics.textfile_path not parsed")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, minimal)
	a := cfg.Agent

	if a.ServerEndpoint != "" {
		t.Errorf("server_endpoint default: got %q, want empty", a.ServerEndpoint)
	}
	if a.Interval != DefaultInterval {
		t.Errorf("default interval: got %v, want %v", a.Interval, DefaultInterval)
	}
	if a.ShipInterval != DefaultShipInterval {
		t.Errorf("default ship_interval: got %v, want %v", a.ShipInterval, DefaultShipInterval)
	}
	if a.BufferSize != DefaultBufferSize {
		t.Errorf("default buffer_size: got %d, want %d", a.BufferSize, DefaultBufferSize)
	}
	if a.ProjectConditions != DefaultProjectConditions {
		t.Errorf("default project_conditions: got %q", a.ProjectConditions)
	}
	if a.ConnectWise.RateLimit.Requests != DefaultRateRequests {
		t.Errorf("default rate_limit.requests: got %d", a.ConnectWise.RateLimit.Requests)
	}
	if a.ConnectWise.Timeout != DefaultRequestTimeout {
		t.Errorf("default timeout: got %v", a.ConnectWise.Timeout)
	}
	if a.ServerAuth.Header != DefaultAPIKeyHeader {
		t.Errorf("default server_auth.header: got %q", a.ServerAuth.Header)
	}
	if a.Insight.Enabled() {
		t.Error("insight should default to disabled")
	}
	if a.Insight.MaxActiveTickets != DefaultMaxActiveTickets {
		t.Errorf("default max_active_tickets: got %d", a.Insight.MaxActiveTickets)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		replace [2]string
		wantErr string
	}{
		{name: "missing base url", replace: [2]string{`base_url: "https://api-na.myconnectwise.net/v4_6_release/apis/3.0"`, ""}, wantErr: "base_url"},
		{name: "missing company", replace: [2]string{`company: "acme"`, ""}, wantErr: "company"},
		{name: "missing credential env", replace: [2]string{"client_id_env: CW_CLIENT", ""}, wantErr: "client_id_env"},
		{name: "bad server endpoint", extra: "  server_endpoint: \"localhost:50051\"\n", wantErr: "server_endpoint"},
		{name: "zero interval", extra: "  interval: 0s\n", wantErr: "interval"},
		{name: "negative project", extra: "  projects: [5, -1]\n", wantErr: "projects[1]"},
		{name: "unknown auth mode", extra: "  server_auth:\n    mode: magictoken\n", wantErr: "server_auth"},
		{name: "unknown provider", extra: "  insight:\n    provider: oracle\n", wantErr: "provider"},
		{name: "gemini without key", extra: "  insight:\n    provider: gemini\n", wantErr: "api_key_env"},
		{name: "bad log level", extra: "  log_level: loud\n", wantErr: "log_level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			content := minimal + tc.extra
			if tc.replace[0] != "" {
				content = strings.Replace(content, tc.replace[0], tc.replace[1], 1)
			}
			_, err := loadStringErr(t, content)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	a := AuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
}

func TestAuthConfig_Key_Empty(t *testing.T) {
	a := AuthConfig{Mode: "apikey"}
	if got := a.Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestConnectWiseCredentials(t *testing.T) {
	t.Setenv("CW_PUBLIC", "pub")
	t.Setenv("CW_PRIVATE", "priv")
	t.Setenv("CW_CLIENT", "client-123")
	cfg := loadFromString(t, minimal)
	cw := cfg.Agent.ConnectWise
	if cw.PublicKey() != "pub" || cw.PrivateKey() != "priv" || cw.ClientID() != "client-123" {
		t.Errorf("credentials: got %q %q %q", cw.PublicKey(), cw.PrivateKey(), cw.ClientID())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { reloaded <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid write is ignored.
	if err := os.WriteFile(path, []byte("agent: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(minimal+"  projects: [42]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-reloaded:
			if len(c.Agent.Projects) == 1 && c.Agent.Projects[0] == 42 {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("Watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
