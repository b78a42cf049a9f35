package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
service:
  name: test
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "test" {
					t.Errorf("name = %q", cfg.Service.Name)
				}
				if cfg.Service.TickInterval != time.Second {
					t.Errorf("tick_interval = %v, want 1s", cfg.Service.TickInterval)
				}
				if cfg.Service.BatchSize != 10 {
					t.Errorf("batch_size = %d, want 10", cfg.Service.BatchSize)
				}
				if cfg.Journal.Path != "./data/herd.db" {
					t.Errorf("journal.path = %q", cfg.Journal.Path)
				}
				if cfg.SourcePath == "" {
					t.Error("SourcePath not set")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  tick_interval: 250ms
  batch_size: 4
  log_level: debug
  log_format: text
journal:
  path: ""
workers:
  - account: alice
    secret: ${HERD_TEST_SECRET}
    kind: trader
constraints:
  - name: cooldown
    test: value < 3.0
    on_success: 1
    reset:
      every: hourly
      jitter: 1m
      value: 0
  - name: even
    engine: js
    test: worker_index % 2 === 0
    on_failure: 0
handlers:
  trade:
    command: /usr/local/bin/trade
    config:
      region: eu
`,
			env: map[string]string{"HERD_TEST_SECRET": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.TickInterval != 250*time.Millisecond || cfg.Service.BatchSize != 4 {
					t.Errorf("service not parsed: %+v", cfg.Service)
				}
				if cfg.Journal.Path != "" {
					t.Errorf("journal.path = %q, want disabled", cfg.Journal.Path)
				}
				if len(cfg.Workers) != 1 || cfg.Workers[0].Secret != "s3cret" {
					t.Errorf("workers not interpolated: %+v", cfg.Workers)
				}
				if cfg.Constraints[0].Engine != "cel" {
					t.Errorf("default engine = %q, want cel", cfg.Constraints[0].Engine)
				}
				if cfg.Constraints[0].OnSuccess == nil || *cfg.Constraints[0].OnSuccess != 1 {
					t.Error("on_success not parsed")
				}
				if cfg.Constraints[0].Reset == nil || cfg.Constraints[0].Reset.Jitter != time.Minute {
					t.Error("reset not parsed")
				}
				if cfg.Handlers["trade"].Timeout != DefaultHandlerTimeout {
					t.Errorf("handler timeout = %v", cfg.Handlers["trade"].Timeout)
				}
			},
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "api enabled without auth",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api.auth",
		},
		{
			name: "unknown scope",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: abc
        scopes: [jobs:admin]
`,
			wantErr: "api.auth.tokens[0].scopes[0]",
		},
		{
			name: "unresolved api key",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${HERD_TEST_UNSET_KEY}
`,
			wantErr: "HERD_TEST_UNSET_KEY",
		},
		{
			name:    "constraint without deltas",
			yaml:    "constraints:\n  - name: c\n    test: \"true\"\n",
			wantErr: "constraints[0]: at least one of on_success or on_failure",
		},
		{
			name: "duplicate constraint",
			yaml: `
constraints:
  - {name: c, test: "true", on_success: 1}
  - {name: c, test: "true", on_success: 1}
`,
			wantErr: "constraints[1].name",
		},
		{
			name:    "bad reset interval",
			yaml:    "constraints:\n  - {name: c, test: \"true\", on_success: 1, reset: {every: soon}}\n",
			wantErr: "constraints[0].reset.every",
		},
		{
			name:    "bad engine",
			yaml:    "constraints:\n  - {name: c, engine: lua, test: \"true\", on_success: 1}\n",
			wantErr: "constraints[0].engine",
		},
		{
			name:    "worker without account",
			yaml:    "workers:\n  - kind: trader\n",
			wantErr: "workers[0].account",
		},
		{
			name:    "handler without command",
			yaml:    "handlers:\n  trade: {}\n",
			wantErr: "handlers.trade.command",
		},
		{
			name: "webhook endpoint",
			yaml: `
webhooks:
  listen: 127.0.0.1:8081
  endpoints:
    - path: /hooks/offer
      job_type: accept_offer
      bots: [0, 2]
      secret: ${HOOK_SECRET}
      signature_header: X-Hub-Signature-256
      max_body_size: 64KB
`,
			env: map[string]string{"HOOK_SECRET": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				ep := cfg.Webhooks.Endpoints[0]
				if ep.Secret != "s3cret" {
					t.Errorf("secret = %q", ep.Secret)
				}
				if len(ep.Bots) != 2 || ep.Bots[1] != 2 {
					t.Errorf("bots = %v", ep.Bots)
				}
			},
		},
		{
			name:    "webhook secret unset",
			yaml:    "webhooks:\n  listen: :8081\n  endpoints:\n    - {path: /h, job_type: t, secret: \"${HERD_MISSING_SECRET}\", signature_header: X-Sig}\n",
			wantErr: "webhooks.endpoints[0].secret",
		},
		{
			name:    "webhook duplicate path",
			yaml:    "webhooks:\n  listen: :8081\n  endpoints:\n    - {path: /h, job_type: t, secret: s, signature_header: X}\n    - {path: /h, job_type: u, secret: s, signature_header: X}\n",
			wantErr: "webhooks.endpoints[1].path",
		},
		{
			name:    "webhook bad size",
			yaml:    "webhooks:\n  listen: :8081\n  endpoints:\n    - {path: /h, job_type: t, secret: s, signature_header: X, max_body_size: lots}\n",
			wantErr: "max_body_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "herd.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "herd.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: a\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteLock(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked file failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("service:\n  name: b\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected integrity error")
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"5m", 5 * time.Minute, false},
		{"hourly", time.Hour, false},
		{"daily", 24 * time.Hour, false},
		{"weekly", 7 * 24 * time.Hour, false},
		{"2d", 48 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"0d", 0, true},
		{"-5m", 0, true},
		{"", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInterval(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"1KB", 1024, false},
		{"2mb", 2 << 20, false},
		{"1GB", 1 << 30, false},
		{"0", 0, true},
		{"-1KB", 0, true},
		{"big", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseByteSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
