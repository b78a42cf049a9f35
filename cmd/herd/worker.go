package main

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/herd/internal/api"
)

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Query pool workers",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Workers []api.WorkerResponse `json:"workers"`
			}
			if err := newClient(opts.server, opts.apiKey).do("GET", "/workers", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tIDENTITY\tKIND\tREGISTERED")
			for _, w := range resp.Workers {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", w.Index, w.Identity, w.Kind, w.RegisteredAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}

	lookup := &cobra.Command{
		Use:   "lookup <identity>",
		Short: "Print the index of the worker with this identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w api.WorkerResponse
			path := "/workers/lookup?identity=" + url.QueryEscape(args[0])
			if err := newClient(opts.server, opts.apiKey).do("GET", path, nil, &w); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), w.Index)
			return nil
		},
	}

	cmd.AddCommand(list, lookup)
	return cmd
}

func newConstraintCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "constraint",
		Short: "Read and overwrite constraint values",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show every constraint with its per-worker values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Constraints []api.ConstraintResponse `json:"constraints"`
			}
			if err := newClient(opts.server, opts.apiKey).do("GET", "/constraints", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONSTRAINT\tWORKER\tVALUE")
			for _, c := range resp.Constraints {
				indices := make([]int, 0, len(c.Values))
				for i := range c.Values {
					indices = append(indices, i)
				}
				sort.Ints(indices)
				for _, i := range indices {
					fmt.Fprintf(tw, "%s\t%d\t%g\n", c.Name, i, c.Values[i])
				}
			}
			return tw.Flush()
		},
	}

	set := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Overwrite every initialized value of a constraint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("value must be a number: %w", err)
			}
			var resp api.ConstraintResponse
			path := "/constraints/" + url.PathEscape(args[0]) + "/values"
			if err := newClient(opts.server, opts.apiKey).do("PUT", path, api.SetValueRequest{Value: &v}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set to %g on %d worker(s)\n", resp.Name, v, len(resp.Values))
			return nil
		},
	}

	cmd.AddCommand(list, set)
	return cmd
}
