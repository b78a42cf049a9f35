// Package doctor runs deeper checks on a loaded herd configuration than the
// loader does: expressions compile, handler commands exist, and references
// between sections resolve.
package doctor

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/constraint"
	"github.com/mattjoyce/herd/internal/handler"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConstraints(r)
	d.validateHandlers(r)
	d.validateWebhooks(r)
	d.warnNoWorkers(r)
	d.warnJournal(r)
	d.warnAuth(r)
	d.warnSuspiciousResets(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConstraints compiles every expression with its engine.
func (d *Doctor) validateConstraints(r *Result) {
	for i, c := range d.cfg.Constraints {
		_, err := constraint.Compile(constraint.ExprSpec{
			Name:      c.Name,
			Engine:    c.Engine,
			Test:      c.Test,
			Initial:   c.Initial,
			OnSuccess: c.OnSuccess,
			OnFailure: c.OnFailure,
		})
		if err != nil {
			d.addError(r, "constraints", fmt.Sprintf("constraints[%d].test", i), err.Error())
		}
	}
}

// validateHandlers checks exec handler commands resolve and names do not
// shadow built-ins.
func (d *Doctor) validateHandlers(r *Result) {
	for _, name := range d.handlerNames() {
		h := d.cfg.Handlers[name]
		field := fmt.Sprintf("handlers.%s", name)

		if name == handler.Noop || name == handler.Fail {
			d.addError(r, "handlers", field, fmt.Sprintf("handler %q shadows a built-in handler", name))
		}
		if _, err := d.lookPath(h.Command); err != nil {
			d.addError(r, "handlers", field+".command",
				fmt.Sprintf("command %q not found: %v", h.Command, err))
		}
		if h.Timeout > 0 && h.Timeout < time.Second {
			d.addWarning(r, "handlers", field+".timeout",
				fmt.Sprintf("timeout %s is very short (< 1s)", h.Timeout))
		}
	}
}

// validateWebhooks checks each endpoint's job type resolves and its
// constraints are declared.
func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}

	declared := make(map[string]bool, len(d.cfg.Constraints))
	for _, c := range d.cfg.Constraints {
		declared[c.Name] = true
	}

	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !d.handlerExists(ep.JobType) {
			d.addError(r, "webhooks", field+".job_type",
				fmt.Sprintf("webhook %q targets job type %q which has no handler", ep.Path, ep.JobType))
		}
		for j, name := range ep.Constraints {
			if !declared[name] {
				d.addWarning(r, "webhooks", fmt.Sprintf("%s.constraints[%d]", field, j),
					fmt.Sprintf("constraint %q is not declared; every worker passes it", name))
			}
		}
		if ep.SignatureHeader != "" && !strings.HasPrefix(strings.ToLower(ep.SignatureHeader), "x-") {
			d.addWarning(r, "webhooks", field+".signature_header",
				fmt.Sprintf("signature header %q is unusual; senders typically use an X- header", ep.SignatureHeader))
		}
	}
}

func (d *Doctor) warnNoWorkers(r *Result) {
	if len(d.cfg.Workers) == 0 {
		d.addWarning(r, "workers", "workers",
			"no workers configured; every job is rejected until one registers")
	}
}

func (d *Doctor) warnJournal(r *Result) {
	if d.cfg.Journal.Path == "" {
		d.addWarning(r, "journal", "journal.path", "journal disabled; job history will not be recorded")
	}
}

// warnAuth flags credentials that grant full access.
func (d *Doctor) warnAuth(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey != "" {
		d.addWarning(r, "api", "api.auth.api_key",
			"api_key grants full access; prefer tokens with scopes")
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		for _, s := range tok.Scopes {
			if s == "*" {
				d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes", i),
					"token has the * scope and grants full access")
				break
			}
		}
	}
}

// warnSuspiciousResets flags reset intervals that churn values.
func (d *Doctor) warnSuspiciousResets(r *Result) {
	for i, c := range d.cfg.Constraints {
		if c.Reset == nil {
			continue
		}
		field := fmt.Sprintf("constraints[%d].reset.every", i)
		interval, err := config.ParseInterval(c.Reset.Every)
		if err != nil {
			d.addError(r, "constraints", field, fmt.Sprintf("invalid reset interval %q: %v", c.Reset.Every, err))
			continue
		}
		if interval < time.Minute {
			d.addWarning(r, "constraints", field,
				fmt.Sprintf("reset interval %q is very short (< 1m)", c.Reset.Every))
		}
		if c.Reset.Jitter >= interval {
			d.addWarning(r, "constraints", fmt.Sprintf("constraints[%d].reset.jitter", i),
				"jitter is not shorter than the reset interval")
		}
	}
}

func (d *Doctor) handlerExists(name string) bool {
	if name == handler.Noop || name == handler.Fail {
		return true
	}
	_, ok := d.cfg.Handlers[name]
	return ok
}

func (d *Doctor) handlerNames() []string {
	names := make([]string, 0, len(d.cfg.Handlers))
	for name := range d.cfg.Handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
