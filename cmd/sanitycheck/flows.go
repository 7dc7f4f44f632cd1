package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/sanitycheck/internal/reconcile"
)

func flowsCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Inspect E2E flows",
	}
	cmd.AddCommand(flowsStatusCmd(rf))
	return cmd
}

func flowsStatusCmd(rf *rootFlags) *cobra.Command {
	var (
		user   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare server flows with the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), rf)
			if err != nil {
				return err
			}
			defer a.Close()

			listing, err := a.flows.ListFlows(cmd.Context(), user)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			}
			return printListing(cmd.OutOrStdout(), listing)
		},
	}
	cmd.Flags().StringVar(&user, "user", envOr("SANITYCHECK_USER", "cli"), "user whose settings apply")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the listing as JSON")
	return cmd
}

func printListing(w io.Writer, listing reconcile.Listing) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTOR\tNAME\tSTATE\tSYNC\tPATH")
	for _, f := range listing.Flows {
		state := "stopped"
		if f.Running {
			state = "running"
		}
		path := "-"
		if f.GitHubPath != nil {
			path = *f.GitHubPath
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.Connector, f.Name, state, f.SyncStatus, path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	s := listing.Stats
	_, err := fmt.Fprintf(w, "\n%d flows: %d running, %d match, %d modified, %d server only, %d error\n",
		s.Total, s.Running, s.Match, s.Modified, s.ServerOnly, s.Error)
	return err
}
