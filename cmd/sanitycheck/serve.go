package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/sanitycheck/internal/httpapi"
)

func serveCmd(rf *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tracker and flow API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, rf)
			if err != nil {
				return err
			}
			defer a.Close()

			jwtSecret := os.Getenv("SANITYCHECK_JWT_SECRET")
			if jwtSecret == "" {
				a.logger.Warn("SANITYCHECK_JWT_SECRET is not set, using the development secret")
			}
			handler := httpapi.NewServer(httpapi.Deps{
				Tracker:  a.tracker,
				Flows:    a.flows,
				Settings: a.store,
				Defaults: a.defaults,
				Tokens:   a.tokens,
				Trees:    a.trees,
			}, httpapi.ServerConfig{
				JWTSecret:       jwtSecret,
				RateLimitMax:    intEnv("SANITYCHECK_RATE_LIMIT_MAX", 0),
				RateLimitWindow: durationEnv("SANITYCHECK_RATE_LIMIT_WINDOW", time.Minute),
				MaxBodyBytes:    int64Env("SANITYCHECK_MAX_BODY_BYTES", 0),
				OriginPatterns:  listEnv("SANITYCHECK_WS_ORIGINS"),
				Logger:          a.logger,
			})

			go func() {
				if err := a.defaults.Watch(ctx); err != nil {
					a.logger.Error("defaults watcher stopped", "error", err)
				}
			}()

			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("sanitycheck listening", "addr", addr, "store", a.store.Driver())
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), durationEnv("SANITYCHECK_SHUTDOWN_TIMEOUT", 15*time.Second))
			defer cancel()
			a.logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("SANITYCHECK_ADDR", ":8080"), "listen address")
	return cmd
}
