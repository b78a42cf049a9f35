package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/herd/internal/api"
	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/inspect"
	"github.com/mattjoyce/herd/internal/journal"
	"github.com/mattjoyce/herd/internal/queue"
	"github.com/mattjoyce/herd/internal/storage"
)

func newJobCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit, process and inspect jobs",
	}
	cmd.AddCommand(
		newJobSubmitCmd(opts),
		newJobProcessCmd(opts),
		newJobHistoryCmd(opts),
		newJobInspectCmd(opts),
	)
	return cmd
}

// parseBots turns "" into all workers and "2,0,3" into an explicit list.
func parseBots(s string) (queue.Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return queue.AllWorkers(), nil
	}
	parts := strings.Split(s, ",")
	indices := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return queue.Selector{}, fmt.Errorf("invalid worker index %q", p)
		}
		indices = append(indices, n)
	}
	if len(indices) == 1 {
		return queue.OneWorker(indices[0]), nil
	}
	return queue.Workers(indices...), nil
}

func newJobSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		jobType     string
		multi       bool
		constraints []string
		argsJSON    string
		bots        string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Enqueue a job on a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseBots(bots)
			if err != nil {
				return err
			}
			req := api.JobRequest{Type: jobType, Multi: multi, Constraints: constraints, Bots: sel}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &req.Args); err != nil {
					return fmt.Errorf("--args must be JSON: %w", err)
				}
			}

			var resp api.EnqueueResponse
			if err := newClient(opts.server, opts.apiKey).do("POST", "/jobs", req, &resp); err != nil {
				return err
			}
			for _, id := range resp.JobIDs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "", "Job type (handler name)")
	cmd.Flags().BoolVar(&multi, "multi", false, "Run on every eligible worker instead of one")
	cmd.Flags().StringSliceVar(&constraints, "constraint", nil, "Constraint to check (repeatable)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Job arguments as JSON")
	cmd.Flags().StringVar(&bots, "bots", "", "Worker indices, comma separated (default: all)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newJobProcessCmd(opts *rootOptions) *cobra.Command {
	var (
		count int
		wait  bool
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Submit up to --count queued jobs for dispatch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.ProcessResponse
			req := api.ProcessRequest{Count: count, Wait: wait}
			if err := newClient(opts.server, opts.apiKey).do("POST", "/jobs/process", req, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !wait {
				fmt.Fprintf(out, "submitted %d job(s), %d still queued\n", resp.Submitted, resp.OpenJobs)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tTYPE\tSTATUS\tWORKERS\tERROR")
			for _, r := range resp.Results {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", r.JobID, r.Type, r.Status, r.Workers, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "Maximum number of jobs to submit")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the submitted jobs and print their results")
	return cmd
}

func newJobHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently settled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Jobs []journal.Entry `json:"jobs"`
			}
			path := fmt.Sprintf("/jobs/history?limit=%d", limit)
			if err := newClient(opts.server, opts.apiKey).do("GET", path, nil, &resp); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tTYPE\tSTATUS\tWORKERS\tCOMPLETED")
			for _, e := range resp.Jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", e.JobID, e.Type, e.Status, e.Workers, e.CompletedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")
	return cmd
}

func newJobInspectCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "inspect <job-id>",
		Short: "Show the journal entry for one job",
		Long: "Read the job from the local journal database named in the config.\n" +
			"Worker identities are resolved from the order of the workers section.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return fmt.Errorf("journal is disabled in %s", cfg.SourcePath)
			}

			ctx := context.Background()
			db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			identities := make([]string, len(cfg.Workers))
			for i, w := range cfg.Workers {
				identities[i] = w.Account
			}

			var out string
			if jsonOut {
				out, err = inspect.BuildJSONReport(ctx, journal.New(db), args[0], identities)
			} else {
				out, err = inspect.BuildReport(ctx, journal.New(db), args[0], identities)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(out, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	return cmd
}
