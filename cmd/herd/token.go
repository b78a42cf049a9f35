package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/herd/internal/auth"
	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/tui/tokenmgr"
)

const tokenBytes = 32

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokenNewCmd())
	return cmd
}

func newTokenNewCmd() *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a scoped API token and print its config snippet",
		Long: "Generate a random bearer token. Without --scope an interactive picker\n" +
			"lists every scope. Paste the printed YAML under api.auth in the config.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(scopes) == 0 {
				picked, err := pickScopes()
				if err != nil {
					return err
				}
				scopes = picked
			}
			for _, s := range scopes {
				if !auth.ValidScope(s) {
					return fmt.Errorf("unknown scope %q", s)
				}
			}

			token, err := generateToken()
			if err != nil {
				return err
			}
			snippet, err := tokenSnippet(token, scopes)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), snippet)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to grant (repeatable); skips the picker")
	return cmd
}

func pickScopes() ([]string, error) {
	final, err := tea.NewProgram(tokenmgr.New()).Run()
	if err != nil {
		return nil, fmt.Errorf("scope picker: %w", err)
	}
	m, ok := final.(tokenmgr.Model)
	if !ok {
		return nil, errors.New("scope picker returned an unexpected model")
	}
	selected := m.Selected()
	if len(selected) == 0 {
		return nil, errors.New("no scopes selected")
	}
	return selected, nil
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// tokenSnippet renders the tokens list entry for the config file.
func tokenSnippet(token string, scopes []string) (string, error) {
	out, err := yaml.Marshal([]config.APIToken{{Token: token, Scopes: scopes}})
	if err != nil {
		return "", fmt.Errorf("marshal token: %w", err)
	}
	return string(out), nil
}
