package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/sanitycheck/internal/store"
)

func dbCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}
	cmd.AddCommand(dbInitCmd(rf))
	return cmd
}

func dbInitCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the schema if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			st, err := store.Open(rf.DSN)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Init(ctx); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: schema applied (%s)\n", st.Driver())
			return nil
		},
	}
}
