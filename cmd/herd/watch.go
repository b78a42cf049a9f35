package main

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/herd/internal/tui/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live terminal monitor for a running instance",
		Long: "Stream events from the API and show health, workers, jobs and the\n" +
			"event log. Needs a token with events:ro and workers:ro.\n\n" +
			"Keybindings:\n  q, Ctrl+C   Quit\n  up/down     Scroll workers",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.apiKey == "" {
				return errors.New("API key required: use --api-key or HERD_API_KEY")
			}
			if _, err := tea.NewProgram(watch.New(opts.server, opts.apiKey), tea.WithAltScreen()).Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}
}
