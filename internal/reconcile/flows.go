package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/batch"
	"github.com/agentworkforce/sanitycheck/internal/flowdiff"
	"github.com/agentworkforce/sanitycheck/internal/flowserver"
	"github.com/agentworkforce/sanitycheck/internal/repo"
)

// FlowRef names a flow on the execution server.
type FlowRef struct {
	FlowID string `json:"flowId"`
	Name   string `json:"name"`
}

// SyncState is the drift of one flow and where its file lives.
type SyncState struct {
	SyncStatus flowdiff.Status `json:"syncStatus"`
	GitHubURL  *string         `json:"githubUrl"`
	GitHubPath *string         `json:"githubPath"`
}

type FlowView struct {
	FlowID    string `json:"flowId"`
	Name      string `json:"name"`
	Connector string `json:"connector"`
	URL       string `json:"url"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	Running   bool   `json:"running"`
	SyncState
}

type Stats struct {
	Total      int `json:"total"`
	Running    int `json:"running"`
	Stopped    int `json:"stopped"`
	Match      int `json:"match"`
	Modified   int `json:"modified"`
	ServerOnly int `json:"serverOnly"`
	Error      int `json:"error"`
}

type Listing struct {
	Flows           []FlowView `json:"flows"`
	Stats           Stats      `json:"stats"`
	DesignerBaseURL string     `json:"designerBaseUrl"`
}

// ListFlows lists the E2E flows of the server with their drift against the
// repository, sorted by connector then name. An unreadable repository makes
// every flow server_only.
func (s *Service) ListFlows(ctx context.Context, user string) (Listing, error) {
	server, err := s.sessions.FlowServer(ctx, user)
	if err != nil {
		return Listing{}, err
	}
	flows, err := server.ListE2EFlows(ctx)
	if err != nil {
		return Listing{}, err
	}
	index := s.flowIndex(ctx, user)

	outcomes, err := batch.Run(ctx, flows, func(ctx context.Context, f flowserver.Flow) (SyncState, error) {
		return s.classify(ctx, server, index, FlowRef{FlowID: f.ID, Name: f.Name}), nil
	}, batch.Options[flowserver.Flow]{Limit: s.limit, Name: "list-flows", Logger: s.logger})
	states := classified(len(flows), outcomes)

	listing := Listing{Flows: make([]FlowView, 0, len(flows)), DesignerBaseURL: server.DesignerURL("")}
	for i, f := range flows {
		view := FlowView{
			FlowID:    f.ID,
			Name:      f.Name,
			Connector: flowdiff.ExtractConnector(f.Name),
			URL:       server.DesignerURL(f.ID),
			CreatedAt: f.BTime,
			UpdatedAt: f.MTime,
			Running:   f.Running(),
			SyncState: states[i],
		}
		listing.Flows = append(listing.Flows, view)
		listing.Stats.add(view)
	}
	sort.SliceStable(listing.Flows, func(i, j int) bool {
		a, b := listing.Flows[i], listing.Flows[j]
		if a.Connector != b.Connector {
			return connectorSortKey(a.Connector) < connectorSortKey(b.Connector)
		}
		return a.Name < b.Name
	})
	return listing, err
}

// classified spreads batch outcomes over n flows. Flows the batch never
// reached are marked error.
func classified(n int, outcomes []batch.Outcome[SyncState]) []SyncState {
	states := make([]SyncState, n)
	for i := range states {
		states[i] = SyncState{SyncStatus: flowdiff.StatusError}
	}
	for _, out := range outcomes {
		states[out.Index] = out.Value
	}
	return states
}

func (st *Stats) add(v FlowView) {
	st.Total++
	if v.Running {
		st.Running++
	} else {
		st.Stopped++
	}
	switch v.SyncStatus {
	case flowdiff.StatusMatch:
		st.Match++
	case flowdiff.StatusModified:
		st.Modified++
	case flowdiff.StatusServerOnly:
		st.ServerOnly++
	case flowdiff.StatusError:
		st.Error++
	}
}

// connectorSortKey puts flows without a known connector last.
func connectorSortKey(connector string) string {
	if connector == flowdiff.UnknownConnector {
		return "\uffff"
	}
	return connector
}

// SyncStatuses classifies the given flows, keyed by flow id.
func (s *Service) SyncStatuses(ctx context.Context, user string, refs []FlowRef) (map[string]SyncState, error) {
	server, err := s.sessions.FlowServer(ctx, user)
	if err != nil {
		return nil, err
	}
	index := s.flowIndex(ctx, user)
	outcomes, err := batch.Run(ctx, refs, func(ctx context.Context, ref FlowRef) (SyncState, error) {
		return s.classify(ctx, server, index, ref), nil
	}, batch.Options[FlowRef]{Limit: s.limit, Name: "sync-status", Logger: s.logger})
	states := classified(len(refs), outcomes)
	statuses := make(map[string]SyncState, len(refs))
	for i, ref := range refs {
		statuses[ref.FlowID] = states[i]
	}
	return statuses, err
}

func (s *Service) flowIndex(ctx context.Context, user string) map[string]repo.FlowFile {
	repository, err := s.sessions.Repository(ctx, user)
	if err != nil {
		s.logger.Warn("repository unavailable for flow comparison", "user", user, "error", err)
		return map[string]repo.FlowFile{}
	}
	index, err := repository.FlowIndex(ctx)
	if err != nil {
		s.logger.Warn("index repository flows failed", "user", user, "error", err)
		return map[string]repo.FlowFile{}
	}
	return index
}

func (s *Service) classify(ctx context.Context, server FlowServer, index map[string]repo.FlowFile, ref FlowRef) SyncState {
	file, ok := index[ref.Name]
	if !ok {
		return SyncState{SyncStatus: flowdiff.StatusServerOnly}
	}
	state := SyncState{GitHubURL: optional(file.URL), GitHubPath: optional(file.Path)}
	serverDef, repoDef, err := s.loadPair(ctx, server, ref.FlowID, file)
	if err != nil {
		s.logger.Warn("compare flow failed", "flowId", ref.FlowID, "name", ref.Name, "error", err)
	}
	state.SyncStatus = flowdiff.Classify(serverDef, repoDef, err)
	return state
}

func (s *Service) loadPair(ctx context.Context, server FlowServer, flowID string, file repo.FlowFile) (map[string]any, map[string]any, error) {
	raw, err := server.GetFlow(ctx, flowID)
	if err != nil {
		return nil, nil, err
	}
	return parsePair(raw, file)
}

// Diff is the canonical server definition next to the repository file,
// both rendered with sorted keys.
type Diff struct {
	Server     string `json:"server"`
	GitHub     string `json:"github"`
	GitHubPath string `json:"githubPath"`
}

func (s *Service) Diff(ctx context.Context, user string, ref FlowRef) (Diff, error) {
	if err := ref.validate(); err != nil {
		return Diff{}, err
	}
	server, err := s.sessions.FlowServer(ctx, user)
	if err != nil {
		return Diff{}, err
	}
	repository, err := s.sessions.Repository(ctx, user)
	if err != nil {
		return Diff{}, err
	}

	var (
		raw   json.RawMessage
		index map[string]repo.FlowFile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raw, err = server.GetFlow(gctx, ref.FlowID)
		return err
	})
	g.Go(func() error {
		var err error
		index, err = repository.FlowIndex(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Diff{}, err
	}

	file, ok := index[ref.Name]
	if !ok {
		return Diff{}, apperr.NotFound("repository flow", ref.Name)
	}
	serverDef, repoDef, err := parsePair(raw, file)
	if err != nil {
		return Diff{}, err
	}
	serverText, err := flowdiff.Serialize(flowdiff.Canonicalize(serverDef), "  ")
	if err != nil {
		return Diff{}, err
	}
	repoText, err := flowdiff.Serialize(flowdiff.Canonicalize(repoDef), "  ")
	if err != nil {
		return Diff{}, err
	}
	return Diff{Server: string(serverText), GitHub: string(repoText), GitHubPath: file.Path}, nil
}

func parsePair(raw json.RawMessage, file repo.FlowFile) (map[string]any, map[string]any, error) {
	serverDef, err := flowdiff.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	repoDef, err := flowdiff.Parse(file.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", file.Path, err)
	}
	return serverDef, repoDef, nil
}

// Revert overwrites the server's definition with the repository file.
func (s *Service) Revert(ctx context.Context, user string, ref FlowRef) error {
	if err := ref.validate(); err != nil {
		return err
	}
	repository, err := s.sessions.Repository(ctx, user)
	if err != nil {
		return err
	}
	index, err := repository.FlowIndex(ctx)
	if err != nil {
		return err
	}
	file, ok := index[ref.Name]
	if !ok || len(file.Content) == 0 {
		return apperr.NotFound("repository flow", ref.Name)
	}
	def, err := flowdiff.Parse(file.Content)
	if err != nil {
		return fmt.Errorf("%s: %w", file.Path, err)
	}
	if err := flowdiff.Validate(def); err != nil {
		return err
	}
	server, err := s.sessions.FlowServer(ctx, user)
	if err != nil {
		return err
	}
	if err := server.UpdateFlow(ctx, ref.FlowID, def); err != nil {
		return err
	}
	s.logger.Info("reverted flow to repository version", "user", user, "flowId", ref.FlowID, "path", file.Path)
	return nil
}

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Toggle starts or stops a flow.
func (s *Service) Toggle(ctx context.Context, user, flowID, action string) error {
	if strings.TrimSpace(flowID) == "" {
		return apperr.Validation("flowId", "is required")
	}
	if action != ActionStart && action != ActionStop {
		return apperr.Validation("action", `must be "start" or "stop"`)
	}
	server, err := s.sessions.FlowServer(ctx, user)
	if err != nil {
		return err
	}
	if action == ActionStart {
		return server.StartFlow(ctx, flowID)
	}
	return server.StopFlow(ctx, flowID)
}

func (s *Service) Start(ctx context.Context, user, flowID string) error {
	return s.Toggle(ctx, user, flowID, ActionStart)
}

func (s *Service) Stop(ctx context.Context, user, flowID string) error {
	return s.Toggle(ctx, user, flowID, ActionStop)
}

type Deleted struct {
	FlowID  string `json:"flowId"`
	Success bool   `json:"success"`
}

type DeleteResult struct {
	Success bool               `json:"success"`
	Deleted []Deleted          `json:"deleted"`
	Errors  []apperr.ItemError `json:"errors,omitempty"`
}

// Delete removes flows one by one. Failures are reported per flow; the
// call only fails as a whole when no flow was deleted.
func (s *Service) Delete(ctx context.Context, user string, flowIDs []string) (DeleteResult, error) {
	if len(flowIDs) == 0 {
		return DeleteResult{}, apperr.Validation("flowIds", "no flow ids provided")
	}
	server, err := s.sessions.FlowServer(ctx, user)
	if err != nil {
		return DeleteResult{}, err
	}
	outcomes, err := batch.Run(ctx, flowIDs, func(ctx context.Context, id string) (struct{}, error) {
		return struct{}{}, server.DeleteFlow(ctx, id)
	}, batch.Options[string]{Limit: s.limit, Name: "delete-flows", Logger: s.logger, Label: func(id string) string { return id }})
	result := DeleteResult{Deleted: []Deleted{}}
	for _, out := range outcomes {
		id := flowIDs[out.Index]
		if out.Err != nil {
			result.Errors = append(result.Errors, apperr.ItemError{ID: id, Message: out.Err.Error()})
			continue
		}
		result.Deleted = append(result.Deleted, Deleted{FlowID: id, Success: true})
	}
	if err != nil {
		for _, id := range flowIDs[len(outcomes):] {
			result.Errors = append(result.Errors, apperr.ItemError{ID: id, Message: err.Error()})
		}
		return result, err
	}
	result.Success = len(result.Errors) == 0
	if len(result.Deleted) == 0 {
		return result, &apperr.PartialFailure{Failed: result.Errors}
	}
	return result, nil
}

type ResultStores struct {
	FailedStoreID    string  `json:"failedStoreId"`
	SuccessStoreID   string  `json:"successStoreId"`
	FailedRecordKey  *string `json:"failedRecordKey"`
	SuccessRecordKey *string `json:"successRecordKey"`
}

// Results is the latest E2E run of a flow as recorded in its data stores.
type Results struct {
	Name string `json:"name"`
	flowdiff.ResultSummary
	Details []flowdiff.ResultDetail `json:"details"`
	Stores  ResultStores            `json:"stores"`
}

func (s *Service) Results(ctx context.Context, user string, ref FlowRef) (Results, error) {
	if err := ref.validate(); err != nil {
		return Results{}, err
	}
	server, err := s.sessions.FlowServer(ctx, user)
	if err != nil {
		return Results{}, err
	}
	raw, err := server.GetFlow(ctx, ref.FlowID)
	if err != nil {
		return Results{}, err
	}
	def, err := flowdiff.Parse(raw)
	if err != nil {
		return Results{}, err
	}
	failedStore, successStore := flowdiff.ResultStoreIDs(def)
	if failedStore == "" && successStore == "" {
		return Results{}, apperr.NotFound("result stores of flow", ref.FlowID)
	}

	var failedRecords, successRecords []flowserver.StoreRecord
	g, gctx := errgroup.WithContext(ctx)
	if failedStore != "" {
		g.Go(func() error {
			var err error
			failedRecords, err = server.StoreRecords(gctx, failedStore)
			return err
		})
	}
	if successStore != "" {
		g.Go(func() error {
			var err error
			successRecords, err = server.StoreRecords(gctx, successStore)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Results{}, err
	}

	recordKey := func(r flowserver.StoreRecord) string { return r.Key }
	failedRecord, failedFound := flowdiff.MatchRecord(failedRecords, recordKey, ref.Name)
	successRecord, successFound := flowdiff.MatchRecord(successRecords, recordKey, ref.Name)
	if !failedFound && !successFound {
		return Results{}, apperr.NotFound("E2E results of flow", ref.Name)
	}

	stores := ResultStores{FailedStoreID: failedStore, SuccessStoreID: successStore}
	var failedItems, successItems []map[string]any
	if failedFound {
		failedItems = flowdiff.NormalizeResults(failedRecord.Value)
		stores.FailedRecordKey = optional(failedRecord.Key)
	}
	if successFound {
		successItems = flowdiff.NormalizeResults(successRecord.Value)
		stores.SuccessRecordKey = optional(successRecord.Key)
	}
	details := flowdiff.MergeResults(failedItems, successItems)
	return Results{
		Name:          ref.Name,
		ResultSummary: flowdiff.Summarize(details),
		Details:       details,
		Stores:        stores,
	}, nil
}

func (r FlowRef) validate() error {
	if strings.TrimSpace(r.FlowID) == "" || strings.TrimSpace(r.Name) == "" {
		return apperr.Validation("flowId", "flowId and flowName are required")
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
