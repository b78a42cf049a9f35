package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/herd/internal/auth"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, verifies and validates the config at configPath.
// When a BLAKE3 sidecar (<config>.b3) exists the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if err := VerifyLock(absPath); err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes YAML over Defaults, then applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.BatchSize == 0 {
		cfg.Service.BatchSize = defaults.Service.BatchSize
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = defaults.Journal.Retention
	}
	if cfg.Handlers == nil {
		cfg.Handlers = make(map[string]HandlerConf)
	}
	for name, h := range cfg.Handlers {
		if h.Timeout == 0 {
			h.Timeout = DefaultHandlerTimeout
			cfg.Handlers[name] = h
		}
	}
	for i := range cfg.Constraints {
		if cfg.Constraints[i].Engine == "" {
			cfg.Constraints[i].Engine = "cel"
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and caught by validation where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	if cfg.Service.BatchSize < 0 {
		return fmt.Errorf("service.batch_size must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}
	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}

	if cfg.API.Enabled {
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth: api_key or tokens required when api is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must be non-empty", field)
			}
			for j, s := range tok.Scopes {
				if !auth.ValidScope(s) {
					return fmt.Errorf("%s.scopes[%d]: unknown scope %q", field, j, s)
				}
			}
		}
	}

	accounts := make(map[string]bool, len(cfg.Workers))
	for i, w := range cfg.Workers {
		field := fmt.Sprintf("workers[%d]", i)
		if w.Account == "" {
			return fmt.Errorf("%s.account is required", field)
		}
		if accounts[w.Account] {
			return fmt.Errorf("%s.account: duplicate account %q", field, w.Account)
		}
		accounts[w.Account] = true
		if err := unresolved(field+".secret", w.Secret); err != nil {
			return err
		}
	}

	names := make(map[string]bool, len(cfg.Constraints))
	for i, c := range cfg.Constraints {
		field := fmt.Sprintf("constraints[%d]", i)
		if c.Name == "" {
			return fmt.Errorf("%s.name is required", field)
		}
		if names[c.Name] {
			return fmt.Errorf("%s.name: duplicate constraint %q", field, c.Name)
		}
		names[c.Name] = true
		if c.Engine != "cel" && c.Engine != "js" {
			return fmt.Errorf("%s.engine must be cel or js (got %q)", field, c.Engine)
		}
		if strings.TrimSpace(c.Test) == "" {
			return fmt.Errorf("%s.test is required", field)
		}
		if c.OnSuccess == nil && c.OnFailure == nil {
			return fmt.Errorf("%s: at least one of on_success or on_failure is required", field)
		}
		if c.Reset != nil {
			if _, err := ParseInterval(c.Reset.Every); err != nil {
				return fmt.Errorf("%s.reset.every: %w", field, err)
			}
			if c.Reset.Jitter < 0 {
				return fmt.Errorf("%s.reset.jitter must not be negative", field)
			}
		}
	}

	handlerNames := make([]string, 0, len(cfg.Handlers))
	for name := range cfg.Handlers {
		handlerNames = append(handlerNames, name)
	}
	sort.Strings(handlerNames)
	for _, name := range handlerNames {
		h := cfg.Handlers[name]
		field := fmt.Sprintf("handlers.%s", name)
		if h.Command == "" {
			return fmt.Errorf("%s.command is required", field)
		}
		if h.Timeout < 0 {
			return fmt.Errorf("%s.timeout must not be negative", field)
		}
		if err := checkUnresolvedEnvVars(h.Config, field+".config"); err != nil {
			return err
		}
	}

	if wh := cfg.Webhooks; wh != nil && len(wh.Endpoints) > 0 {
		if wh.Listen == "" {
			return fmt.Errorf("webhooks.listen is required")
		}
		paths := make(map[string]bool, len(wh.Endpoints))
		for i, ep := range wh.Endpoints {
			field := fmt.Sprintf("webhooks.endpoints[%d]", i)
			if !strings.HasPrefix(ep.Path, "/") {
				return fmt.Errorf("%s.path must start with / (got %q)", field, ep.Path)
			}
			if paths[ep.Path] {
				return fmt.Errorf("%s.path: duplicate path %q", field, ep.Path)
			}
			paths[ep.Path] = true
			if ep.JobType == "" {
				return fmt.Errorf("%s.job_type is required", field)
			}
			if ep.Secret == "" {
				return fmt.Errorf("%s.secret is required", field)
			}
			if err := unresolved(field+".secret", ep.Secret); err != nil {
				return err
			}
			if ep.SignatureHeader == "" {
				return fmt.Errorf("%s.signature_header is required", field)
			}
			if _, err := ParseByteSize(ep.MaxBodySize); err != nil {
				return fmt.Errorf("%s.max_body_size: %w", field, err)
			}
		}
	}

	return nil
}

// DefaultMaxBodySize applies to webhook endpoints without max_body_size.
const DefaultMaxBodySize = 1 << 20

// ParseByteSize parses sizes like "1MB", "512KB" or "2048". Empty means
// DefaultMaxBodySize.
func ParseByteSize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", size)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive (got %q)", size)
	}
	if value > (1<<62)/multiplier {
		return 0, fmt.Errorf("size too large (got %q)", size)
	}
	return value * multiplier, nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]any, field string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if err := unresolved(field+"."+key, v); err != nil {
				return err
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, field+"."+key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParseInterval converts a schedule string to a duration. It accepts Go
// durations ("90s", "5m"), hourly, daily, weekly, and day or week counts
// ("2d", "1w").
func ParseInterval(interval string) (time.Duration, error) {
	switch interval {
	case "":
		return 0, fmt.Errorf("interval is empty")
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	if n := len(interval); n > 1 && (interval[n-1] == 'd' || interval[n-1] == 'w') {
		count, err := strconv.Atoi(interval[:n-1])
		if err == nil {
			if count <= 0 {
				return 0, fmt.Errorf("schedule interval must be positive: %q", interval)
			}
			unit := 24 * time.Hour
			if interval[n-1] == 'w' {
				unit *= 7
			}
			return time.Duration(count) * unit, nil
		}
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule interval %q: %w", interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule interval must be positive: %q", interval)
	}
	return d, nil
}
