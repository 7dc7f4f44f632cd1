package tracker

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/cache"
	"github.com/agentworkforce/sanitycheck/internal/catalog"
	"github.com/agentworkforce/sanitycheck/internal/store"
)

var issueRefPattern = regexp.MustCompile(`^https://github\.com/[\w.-]+/[\w.-]+/issues/\d+$`)

// Store is the persistence the tracker needs.
type Store interface {
	ListTestRuns(ctx context.Context) ([]store.TestRun, error)
	GetTestRun(ctx context.Context, id string) (store.TestRun, error)
	CreateTestRun(ctx context.Context, id, name string) (store.TestRun, error)
	UpdateTestRunStatus(ctx context.Context, id string, status store.TestRunStatus) error
	DeleteTestRun(ctx context.Context, id string) error

	AddConnector(ctx context.Context, c store.Connector, components []store.Component) error
	ListConnectors(ctx context.Context, testRunID string) ([]store.Connector, error)
	GetConnector(ctx context.Context, id string) (store.Connector, error)
	SetConnectorStatus(ctx context.Context, id string, status store.ConnectorStatus, reason string) error
	SetConnectorNotes(ctx context.Context, id, notes string) error
	ApplyDerivedStatus(ctx context.Context, id string, status store.ConnectorStatus) (bool, error)
	ComponentCounts(ctx context.Context, connectorID string) (store.ComponentCounts, error)

	ListComponents(ctx context.Context, connectorID string) ([]store.Component, error)
	GetComponent(ctx context.Context, id string) (store.Component, error)
	SetComponentStatus(ctx context.Context, id string, status store.ComponentStatus, issueRefs []string, testedAt time.Time) error
	ComponentLineage(ctx context.Context, componentID string) (connectorID, testRunID string, err error)

	DailyReport(ctx context.Context, testRunID string) ([]store.ReportDay, error)
}

// Catalog is the source of connectors snapshotted into a new run.
type Catalog interface {
	ListConnectors(ctx context.Context) ([]catalog.Connector, error)
	ListComponents(ctx context.Context, connector, version string) ([]catalog.Component, error)
}

type Options struct {
	Cache       *cache.Store
	Catalog     Catalog
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
	IngestLimit int
	CacheTTL    time.Duration
}

// Service owns test-run tracking: cached reads, status writes with the
// connector rollup, and cache invalidation of every dependent view.
type Service struct {
	store       Store
	cache       *cache.Store
	catalog     Catalog
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
	ingestLimit int
	ttl         time.Duration
	connLocks   *keyedMutex
}

func NewService(st Store, opts Options) *Service {
	s := &Service{
		store:       st,
		cache:       opts.Cache,
		catalog:     opts.Catalog,
		logger:      opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
		ingestLimit: opts.IngestLimit,
		ttl:         opts.CacheTTL,
		connLocks:   newKeyedMutex(),
	}
	if s.cache == nil {
		s.cache = cache.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = newID
	}
	if s.ingestLimit <= 0 {
		s.ingestLimit = 5
	}
	return s
}

func (s *Service) ListTestRuns(ctx context.Context) ([]store.TestRun, error) {
	return cache.Load(ctx, s.cache, cache.KeyTestRuns, s.ttl, s.store.ListTestRuns)
}

func (s *Service) GetTestRun(ctx context.Context, id string) (store.TestRun, error) {
	return cache.Load(ctx, s.cache, cache.TestRunKey(id), s.ttl, func(ctx context.Context) (store.TestRun, error) {
		return s.store.GetTestRun(ctx, id)
	})
}

// ListConnectors returns the connectors of a run, or not-found when the run
// does not exist.
func (s *Service) ListConnectors(ctx context.Context, testRunID string) ([]store.Connector, error) {
	if _, err := s.GetTestRun(ctx, testRunID); err != nil {
		return nil, err
	}
	return cache.Load(ctx, s.cache, cache.ConnectorsKey(testRunID), s.ttl, func(ctx context.Context) ([]store.Connector, error) {
		return s.store.ListConnectors(ctx, testRunID)
	})
}

func (s *Service) GetConnector(ctx context.Context, id string) (store.Connector, error) {
	return cache.Load(ctx, s.cache, cache.ConnectorKey(id), s.ttl, func(ctx context.Context) (store.Connector, error) {
		return s.store.GetConnector(ctx, id)
	})
}

func (s *Service) ListComponents(ctx context.Context, connectorID string) ([]store.Component, error) {
	return cache.Load(ctx, s.cache, cache.ComponentsKey(connectorID), s.ttl, func(ctx context.Context) ([]store.Component, error) {
		return s.store.ListComponents(ctx, connectorID)
	})
}

type Report struct {
	TestRun store.TestRun     `json:"testRun"`
	Days    []store.ReportDay `json:"days"`
}

func (s *Service) Report(ctx context.Context, testRunID string) (Report, error) {
	run, err := s.GetTestRun(ctx, testRunID)
	if err != nil {
		return Report{}, err
	}
	days, err := cache.Load(ctx, s.cache, cache.ReportKey(testRunID), s.ttl, func(ctx context.Context) ([]store.ReportDay, error) {
		return s.store.DailyReport(ctx, testRunID)
	})
	if err != nil {
		return Report{}, err
	}
	return Report{TestRun: run, Days: days}, nil
}

// ComponentUpdate is a status write on one component. IssueRef is only
// kept for fail.
type ComponentUpdate struct {
	Status   store.ComponentStatus
	IssueRef string
}

type ComponentResult struct {
	Component       store.Component       `json:"component"`
	ConnectorStatus store.ConnectorStatus `json:"connectorStatus"`
}

// UpdateComponentStatus validates and stores a component status, recomputes
// the parent connector unless it is blocked, and invalidates every cached
// view that embeds either.
func (s *Service) UpdateComponentStatus(ctx context.Context, id string, update ComponentUpdate) (ComponentResult, error) {
	if !update.Status.Valid() {
		return ComponentResult{}, apperr.Validation("status", "must be one of pending, ok, fail")
	}
	issueRef := strings.TrimSpace(update.IssueRef)
	if issueRef != "" && !issueRefPattern.MatchString(issueRef) {
		return ComponentResult{}, apperr.Validation("githubIssue", "must look like https://github.com/<owner>/<repo>/issues/<number>")
	}

	current, err := s.store.GetComponent(ctx, id)
	if err != nil {
		return ComponentResult{}, err
	}

	var refs []string
	if update.Status == store.ComponentFail {
		refs = slices.Clone(current.IssueRefs)
		if issueRef != "" && !slices.Contains(refs, issueRef) {
			refs = append(refs, issueRef)
		}
	}

	unlock := s.connLocks.Lock(current.ConnectorID)
	testedAt := s.now()
	err = s.store.SetComponentStatus(ctx, id, update.Status, refs, testedAt)
	var connectorStatus store.ConnectorStatus
	if err == nil {
		connectorStatus, err = s.recompute(ctx, current.ConnectorID)
	}
	unlock()

	s.invalidateComponent(ctx, id, current.ConnectorID)
	if err != nil {
		return ComponentResult{}, err
	}

	current.Status = update.Status
	current.IssueRefs = refs
	if current.IssueRefs == nil {
		current.IssueRefs = []string{}
	}
	current.TestedAt = &testedAt
	return ComponentResult{Component: current, ConnectorStatus: connectorStatus}, nil
}

// recompute applies the rollup and returns the status the connector holds
// afterwards. Callers hold the connector lock.
func (s *Service) recompute(ctx context.Context, connectorID string) (store.ConnectorStatus, error) {
	counts, err := s.store.ComponentCounts(ctx, connectorID)
	if err != nil {
		return "", err
	}
	derived := RollupCounts(counts)
	applied, err := s.store.ApplyDerivedStatus(ctx, connectorID, derived)
	if err != nil {
		return "", err
	}
	if applied {
		return derived, nil
	}
	return store.ConnectorBlocked, nil
}

// UpdateConnectorStatus is the manual transition. Blocked requires a reason;
// any other status clears it.
func (s *Service) UpdateConnectorStatus(ctx context.Context, id string, status store.ConnectorStatus, reason string) (store.Connector, error) {
	if !status.Valid() {
		return store.Connector{}, apperr.Validation("status", "must be one of pending, ok, fail, blocked")
	}
	reason = strings.TrimSpace(reason)
	if status == store.ConnectorBlocked && reason == "" {
		return store.Connector{}, apperr.Validation("blockedReason", "is required when blocking a connector")
	}
	if status != store.ConnectorBlocked {
		reason = ""
	}

	conn, err := s.store.GetConnector(ctx, id)
	if err != nil {
		return store.Connector{}, err
	}
	unlock := s.connLocks.Lock(id)
	err = s.store.SetConnectorStatus(ctx, id, status, reason)
	unlock()
	s.cache.InvalidateLineage(cache.Lineage{TestRunID: conn.TestRunID, ConnectorID: id})
	if err != nil {
		return store.Connector{}, err
	}
	return s.store.GetConnector(ctx, id)
}

func (s *Service) UpdateConnectorNotes(ctx context.Context, id, notes string) (store.Connector, error) {
	conn, err := s.store.GetConnector(ctx, id)
	if err != nil {
		return store.Connector{}, err
	}
	err = s.store.SetConnectorNotes(ctx, id, strings.TrimSpace(notes))
	s.cache.InvalidateLineage(cache.Lineage{TestRunID: conn.TestRunID, ConnectorID: id})
	if err != nil {
		return store.Connector{}, err
	}
	return s.store.GetConnector(ctx, id)
}

func (s *Service) UpdateTestRunStatus(ctx context.Context, id string, status store.TestRunStatus) (store.TestRun, error) {
	if !status.Valid() {
		return store.TestRun{}, apperr.Validation("status", "must be one of in_progress, completed")
	}
	err := s.store.UpdateTestRunStatus(ctx, id, status)
	s.cache.InvalidateLineage(cache.Lineage{TestRunID: id})
	if err != nil {
		return store.TestRun{}, err
	}
	return s.store.GetTestRun(ctx, id)
}

// DeleteTestRun removes the run and drops every cached view of it, its
// connectors and their components.
func (s *Service) DeleteTestRun(ctx context.Context, id string) error {
	connectors, err := s.store.ListConnectors(ctx, id)
	if err != nil {
		s.logger.Warn("list connectors before delete failed", "testRunId", id, "error", err)
	}
	if err := s.store.DeleteTestRun(ctx, id); err != nil {
		return err
	}
	for _, c := range connectors {
		s.cache.InvalidateLineage(cache.Lineage{ConnectorID: c.ID})
	}
	s.cache.InvalidateLineage(cache.Lineage{TestRunID: id})
	return nil
}

// invalidateComponent drops the component's views. A failed ancestor lookup
// is logged and the views that are known are still dropped.
func (s *Service) invalidateComponent(ctx context.Context, componentID, connectorID string) {
	lineage := cache.Lineage{ConnectorID: connectorID}
	resolvedConnector, testRunID, err := s.store.ComponentLineage(ctx, componentID)
	if err != nil {
		s.logger.Warn("resolve component lineage failed", "componentId", componentID, "error", err)
	} else {
		lineage.ConnectorID = resolvedConnector
		lineage.TestRunID = testRunID
	}
	s.cache.InvalidateLineage(lineage)
}
