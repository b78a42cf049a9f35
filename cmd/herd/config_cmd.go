package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/doctor"
)

const redacted = "<redacted>"

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate, lock and print configuration",
	}
	cmd.AddCommand(
		newConfigCheckCmd(opts),
		newConfigLockCmd(opts),
		newConfigShowCmd(opts),
	)
	return cmd
}

func newConfigCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration syntax, integrity and references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "human" && format != "json" {
				return fmt.Errorf("--format must be human or json (got %q)", format)
			}

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()

			if format == "json" {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), doctor.FormatHuman(result))
			}

			if !result.Valid {
				return errors.New("configuration invalid")
			}
			if strict && len(result.Warnings) > 0 {
				return fmt.Errorf("%d warning(s) in strict mode", len(result.Warnings))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "human", "Output format: human or json")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	return cmd
}

func newConfigLockCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Write the BLAKE3 integrity sidecar for the config file",
		Long: "Hash the config file and write <config>.b3 beside it. While the sidecar\n" +
			"exists, herd refuses to load a config whose contents no longer match.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Parse without the sidecar check so an edited file can be
			// re-locked, but a broken one never is.
			data, err := os.ReadFile(opts.configPath)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			if _, err := config.Parse(data); err != nil {
				return err
			}
			hash, err := config.WriteLock(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Locked %s (blake3 %s)\n", opts.configPath, hash)
			return nil
		},
	}
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(redactSecrets(cfg))
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

// redactSecrets returns a copy of cfg with credentials masked.
func redactSecrets(cfg *config.Config) *config.Config {
	c := *cfg
	if c.API.Auth.APIKey != "" {
		c.API.Auth.APIKey = redacted
	}
	c.API.Auth.Tokens = make([]config.APIToken, len(cfg.API.Auth.Tokens))
	for i, t := range cfg.API.Auth.Tokens {
		c.API.Auth.Tokens[i] = config.APIToken{Token: redacted, Scopes: t.Scopes}
	}
	c.Workers = make([]config.WorkerConf, len(cfg.Workers))
	for i, w := range cfg.Workers {
		if w.Secret != "" {
			w.Secret = redacted
		}
		c.Workers[i] = w
	}
	if cfg.Webhooks != nil {
		wh := *cfg.Webhooks
		wh.Endpoints = make([]config.WebhookEndpoint, len(cfg.Webhooks.Endpoints))
		for i, ep := range cfg.Webhooks.Endpoints {
			ep.Secret = redacted
			wh.Endpoints[i] = ep
		}
		c.Webhooks = &wh
	}
	return &c
}
