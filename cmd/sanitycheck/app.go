package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/cache"
	"github.com/agentworkforce/sanitycheck/internal/catalog"
	"github.com/agentworkforce/sanitycheck/internal/config"
	"github.com/agentworkforce/sanitycheck/internal/flowserver"
	"github.com/agentworkforce/sanitycheck/internal/reconcile"
	"github.com/agentworkforce/sanitycheck/internal/repo"
	"github.com/agentworkforce/sanitycheck/internal/store"
	"github.com/agentworkforce/sanitycheck/internal/tracker"
)

// app is the wired process: one store, the shared caches and the services
// built on them.
type app struct {
	logger   *slog.Logger
	store    *store.Store
	defaults *config.Provider
	tokens   *flowserver.TokenCache
	trees    *repo.TreeCache
	tracker  *tracker.Service
	flows    *reconcile.Service
}

func buildApp(ctx context.Context, rf *rootFlags) (*app, error) {
	logger := slog.Default()
	if rf.DSN == "" {
		return nil, errors.New("missing --dsn (or set DATABASE_URL)")
	}
	st, err := store.Open(rf.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	provider, err := config.NewProvider(rf.DefaultsFile, config.WithLogger(logger))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	resolver := config.NewResolver(st, provider)

	tokens := flowserver.NewTokenCache()
	trees := repo.NewTreeCache()
	provider.OnChange(func(config.Defaults) {
		tokens.Reset()
		trees.Reset()
		logger.Info("defaults changed, dropped cached tokens and trees")
	})

	httpClient := &http.Client{Timeout: durationEnv("SANITYCHECK_HTTP_TIMEOUT", 30*time.Second)}
	retries := intEnv("SANITYCHECK_HTTP_RETRIES", 2)
	retryBase := durationEnv("SANITYCHECK_HTTP_RETRY_DELAY", 200*time.Millisecond)
	retryMax := durationEnv("SANITYCHECK_HTTP_RETRY_MAX_DELAY", 2*time.Second)

	server := flowserver.NewClient(resolver, tokens,
		flowserver.WithHTTPClient(httpClient),
		flowserver.WithLogger(logger),
		flowserver.WithRetries(retries, retryBase, retryMax),
	)
	repository := repo.NewClient(resolver, trees,
		repo.WithAPIBase(envOr("GITHUB_API_URL", repo.DefaultAPIBase)),
		repo.WithWebBase(envOr("GITHUB_WEB_URL", repo.DefaultWebBase)),
		repo.WithHTTPClient(httpClient),
		repo.WithLogger(logger),
		repo.WithRetries(retries, retryBase, retryMax),
	)
	modules := catalog.NewClient(os.Getenv("SANITYCHECK_CATALOG_URL"), httpClient, catalog.WithLogger(logger))

	ttl := durationEnv("SANITYCHECK_CACHE_TTL", cache.DefaultTTL)
	return &app{
		logger:   logger,
		store:    st,
		defaults: provider,
		tokens:   tokens,
		trees:    trees,
		tracker: tracker.NewService(st, tracker.Options{
			Cache:       cache.New(cache.WithDefaultTTL(ttl)),
			Catalog:     modules,
			Logger:      logger,
			IngestLimit: intEnv("SANITYCHECK_INGEST_LIMIT", 5),
			CacheTTL:    ttl,
		}),
		flows: reconcile.NewService(reconcile.ClientSessions{Server: server, Repo: repository}, reconcile.Options{
			Logger: logger,
			Limit:  intEnv("SANITYCHECK_FLOW_LIMIT", 5),
		}),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
