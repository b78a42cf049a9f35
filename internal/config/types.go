package config

import "time"

// Config is the complete herd configuration.
type Config struct {
	Service     ServiceConfig          `yaml:"service"`
	API         APIConfig              `yaml:"api,omitempty"`
	Journal     JournalConfig          `yaml:"journal"`
	Workers     []WorkerConf           `yaml:"workers,omitempty"`
	Constraints []ConstraintConf       `yaml:"constraints,omitempty"`
	Handlers    map[string]HandlerConf `yaml:"handlers,omitempty"`
	Webhooks    *WebhooksConfig        `yaml:"webhooks,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	TickInterval time.Duration `yaml:"tick_interval"`
	BatchSize    int           `yaml:"batch_size"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access. Prefer Tokens for
	// scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// JournalConfig controls the SQLite job history. An empty path disables it.
type JournalConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// WorkerConf declares a worker to log in at startup.
type WorkerConf struct {
	Account string            `yaml:"account"`
	Secret  string            `yaml:"secret,omitempty"`
	Kind    string            `yaml:"kind,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// ConstraintConf declares an expression-backed constraint.
type ConstraintConf struct {
	Name      string       `yaml:"name"`
	Engine    string       `yaml:"engine"` // cel | js
	Test      string       `yaml:"test"`
	Initial   float64      `yaml:"initial"`
	OnSuccess *float64     `yaml:"on_success,omitempty"`
	OnFailure *float64     `yaml:"on_failure,omitempty"`
	Reset     *ResetConfig `yaml:"reset,omitempty"`
}

// ResetConfig periodically overwrites every initialized value.
type ResetConfig struct {
	Every  string        `yaml:"every"` // e.g. "5m", "hourly", "daily", "2d"
	Jitter time.Duration `yaml:"jitter,omitempty"`
	Value  float64       `yaml:"value"`
}

// HandlerConf declares an exec handler.
type HandlerConf struct {
	Command string         `yaml:"command"`
	Args    []string       `yaml:"args,omitempty"`
	Timeout time.Duration  `yaml:"timeout,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// WebhooksConfig defines the signed webhook listener. Each verified request
// enqueues one job.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint maps a path to the job it enqueues.
type WebhookEndpoint struct {
	Path            string   `yaml:"path"`
	JobType         string   `yaml:"job_type"`
	Multi           bool     `yaml:"multi,omitempty"`
	Constraints     []string `yaml:"constraints,omitempty"`
	Bots            []int    `yaml:"bots,omitempty"` // empty selects every worker
	Secret          string   `yaml:"secret"`
	SignatureHeader string   `yaml:"signature_header"`
	MaxBodySize     string   `yaml:"max_body_size,omitempty"` // e.g. "1MB", "2048"
}

// Defaults returns a Config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "herd",
			TickInterval: 1 * time.Second,
			BatchSize:    10,
			LogLevel:     "info",
			LogFormat:    "json",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Journal: JournalConfig{
			Path:      "./data/herd.db",
			Retention: 30 * 24 * time.Hour,
		},
		Handlers: make(map[string]HandlerConf),
	}
}

// DefaultHandlerTimeout applies to exec handlers without a timeout.
const DefaultHandlerTimeout = 60 * time.Second
