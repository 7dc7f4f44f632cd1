package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/batch"
	"github.com/agentworkforce/sanitycheck/internal/cache"
	"github.com/agentworkforce/sanitycheck/internal/catalog"
	"github.com/agentworkforce/sanitycheck/internal/store"
)

// Steps reported while a run is created.
const (
	StepInit     = "init"
	StepFetching = "fetching"
	StepFetched  = "fetched"
	StepProgress = "progress"
	StepDone     = "done"
	StepError    = "error"
)

// Event is one progress notification of CreateTestRun.
type Event struct {
	Step           string `json:"step"`
	Message        string `json:"message,omitempty"`
	ID             string `json:"id,omitempty"`
	Completed      int    `json:"completed,omitempty"`
	Total          int    `json:"total,omitempty"`
	Current        string `json:"current,omitempty"`
	ComponentCount int    `json:"componentCount,omitempty"`
	ConnectorCount int    `json:"connectorCount,omitempty"`

	Failed []apperr.ItemError `json:"failed,omitempty"`
}

// CreateResult describes a created run. Failed lists the connectors that
// could not be stored; the run exists as long as ID is set.
type CreateResult struct {
	ID             string             `json:"id"`
	ConnectorCount int                `json:"connectorCount"`
	ComponentCount int                `json:"componentCount"`
	Failed         []apperr.ItemError `json:"failed,omitempty"`
}

// CreateTestRun snapshots the catalog into a new run. Connectors are
// fetched in groups; a connector whose components cannot be fetched is
// stored without components. Connectors the store rejects are reported in
// the result; the call fails only when none could be stored. emit may be
// nil.
func (s *Service) CreateTestRun(ctx context.Context, name string, emit func(Event)) (CreateResult, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return CreateResult{}, apperr.Validation("name", "is required")
	}
	if s.catalog == nil {
		return CreateResult{}, &apperr.ConfigurationError{Service: "catalog"}
	}
	result, err := s.createTestRun(ctx, name, emit)
	if err != nil {
		emit(Event{Step: StepError, ID: result.ID, Message: err.Error(), Failed: result.Failed})
		return result, err
	}
	emit(Event{
		Step:           StepDone,
		ID:             result.ID,
		ConnectorCount: result.ConnectorCount,
		ComponentCount: result.ComponentCount,
		Failed:         result.Failed,
	})
	return result, nil
}

func (s *Service) createTestRun(ctx context.Context, name string, emit func(Event)) (CreateResult, error) {
	runID := s.newID()
	emit(Event{Step: StepInit, Message: "Creating test run..."})
	if _, err := s.store.CreateTestRun(ctx, runID, name); err != nil {
		return CreateResult{}, err
	}
	s.cache.Invalidate(cache.KeyTestRuns)

	result := CreateResult{ID: runID}

	emit(Event{Step: StepFetching, Message: "Fetching connectors from catalog..."})
	connectors, err := s.catalog.ListConnectors(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch connectors: %w", err)
	}
	total := len(connectors)
	emit(Event{Step: StepFetched, Message: fmt.Sprintf("Found %d connectors", total), Total: total})

	var countsMu sync.Mutex
	componentCounts := map[string]int{}

	outcomes, err := batch.Run(ctx, connectors, func(ctx context.Context, c catalog.Connector) (int, error) {
		components, fetchErr := s.catalog.ListComponents(ctx, c.Name, c.Version)
		if fetchErr != nil {
			s.logger.Warn("fetch components failed", "connector", c.Name, "version", c.Version, "error", fetchErr)
			components = nil
		}
		connectorID := s.newID()
		rows := make([]store.Component, 0, len(components))
		for _, comp := range components {
			rows = append(rows, store.Component{
				ID:          s.newID(),
				ConnectorID: connectorID,
				Name:        comp.Name,
				Label:       comp.Label,
				Description: comp.Description,
				Icon:        comp.Icon,
				Version:     comp.Version,
				IsPrivate:   comp.Private,
			})
		}
		if err := s.store.AddConnector(ctx, store.Connector{
			ID:          connectorID,
			TestRunID:   runID,
			Name:        c.Name,
			Version:     c.Version,
			Label:       c.Label,
			Description: c.Description,
			Icon:        c.Icon,
		}, rows); err != nil {
			return 0, err
		}
		countsMu.Lock()
		componentCounts[displayName(c)] = len(rows)
		countsMu.Unlock()
		return len(rows), nil
	}, batch.Options[catalog.Connector]{
		Limit:  s.ingestLimit,
		Name:   "ingest",
		Logger: s.logger,
		Label:  displayName,
		OnProgress: func(p batch.Progress) {
			countsMu.Lock()
			count := componentCounts[p.Current]
			countsMu.Unlock()
			emit(Event{Step: StepProgress, Completed: p.Completed, Total: p.Total, Current: p.Current, ComponentCount: count})
		},
	})
	s.cache.InvalidateLineage(cache.Lineage{TestRunID: runID})

	for _, out := range outcomes {
		if out.Err != nil {
			result.Failed = append(result.Failed, apperr.ItemError{Name: connectors[out.Index].Name, Message: out.Err.Error()})
			continue
		}
		result.ConnectorCount++
		result.ComponentCount += out.Value
	}
	if err != nil {
		return result, err
	}
	if len(result.Failed) > 0 {
		s.logger.Warn("some connectors were not stored", "testRun", runID, "stored", result.ConnectorCount, "failed", len(result.Failed))
		if result.ConnectorCount == 0 {
			return result, fmt.Errorf("store connectors of run %s: %w", runID, &apperr.PartialFailure{Failed: result.Failed})
		}
	}
	return result, nil
}

func displayName(c catalog.Connector) string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}

func newID() string {
	return uuid.NewString()
}
