package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	DSN          string
	DefaultsFile string
	LogFormat    string
	LogLevel     string
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	rootCmd := &cobra.Command{
		Use:           "sanitycheck",
		Short:         "Connector sanity-check tracker and E2E flow reconciler",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), rf.LogFormat, rf.LogLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&rf.DSN, "dsn", envOr("DATABASE_URL", "sqlite://sanitycheck.db"),
		"database DSN: postgres://, sqlite://, file: or memory:// (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&rf.DefaultsFile, "defaults", os.Getenv("SANITYCHECK_DEFAULTS_FILE"),
		"optional YAML file with appmixer/github defaults, reloaded on change")
	rootCmd.PersistentFlags().StringVar(&rf.LogFormat, "log-format", envOr("SANITYCHECK_LOG_FORMAT", "text"), "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&rf.LogLevel, "log-level", envOr("SANITYCHECK_LOG_LEVEL", "info"), "log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd(&rf))
	rootCmd.AddCommand(dbCmd(&rf))
	rootCmd.AddCommand(flowsCmd(&rf))
	return rootCmd
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}
