package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/flowdiff"
	"github.com/agentworkforce/sanitycheck/internal/flowserver"
	"github.com/agentworkforce/sanitycheck/internal/repo"
)

type fakeServer struct {
	mu       sync.Mutex
	flows    []flowserver.Flow
	defs     map[string]string
	fail     map[string]error
	stores   map[string][]flowserver.StoreRecord
	updated  map[string]any
	started  []string
	stopped  []string
	deleted  []string
	onDelete func(id string)
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		defs:    map[string]string{},
		fail:    map[string]error{},
		stores:  map[string][]flowserver.StoreRecord{},
		updated: map[string]any{},
	}
}

func (f *fakeServer) add(id, name, stage, def string) {
	f.flows = append(f.flows, flowserver.Flow{ID: id, Name: name, Stage: stage, BTime: "2026-01-01T00:00:00Z", MTime: "2026-02-01T00:00:00Z"})
	f.defs[id] = def
}

func (f *fakeServer) ListE2EFlows(context.Context) ([]flowserver.Flow, error) {
	return f.flows, nil
}

func (f *fakeServer) GetFlow(_ context.Context, id string) (json.RawMessage, error) {
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	def, ok := f.defs[id]
	if !ok {
		return nil, apperr.NotFound("flow", id)
	}
	return json.RawMessage(def), nil
}

func (f *fakeServer) UpdateFlow(_ context.Context, id string, def any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = def
	return nil
}

func (f *fakeServer) StartFlow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeServer) StopFlow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeServer) DeleteFlow(_ context.Context, id string) error {
	if err := f.fail[id]; err != nil {
		return err
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	if f.onDelete != nil {
		f.onDelete(id)
	}
	return nil
}

func (f *fakeServer) StoreRecords(_ context.Context, storeID string) ([]flowserver.StoreRecord, error) {
	return f.stores[storeID], nil
}

func (f *fakeServer) DesignerURL(id string) string {
	if id == "" {
		return "https://my.example.com"
	}
	return "https://my.example.com/designer/" + id
}

type fakeRepo struct {
	mu       sync.Mutex
	index    map[string]repo.FlowFile
	indexErr error
	denied   bool
	writing  int
	overlap  bool
	branches map[string]string
	puts     []string
	content  map[string]string
	putFail  map[string]error
	pulls    []string
	prTitle  string
	onPut    func(path string)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		index:    map[string]repo.FlowFile{},
		branches: map[string]string{},
		content:  map[string]string{},
		putFail:  map[string]error{},
	}
}

func (f *fakeRepo) track(name, path, content string) {
	f.index[name] = repo.FlowFile{Path: path, Name: name, URL: "https://github.com/o/r/blob/dev/" + path, Content: json.RawMessage(content)}
}

func (f *fakeRepo) FlowIndex(context.Context) (map[string]repo.FlowFile, error) {
	return f.index, f.indexErr
}

func (f *fakeRepo) VerifyWriteAccess(context.Context) error {
	if f.denied {
		return apperr.Authorization("no push access to o/r")
	}
	return nil
}

func (f *fakeRepo) CreateBranch(_ context.Context, name, from string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[name] = from
	return "sha-" + from, nil
}

func (f *fakeRepo) PutFile(_ context.Context, path string, content []byte, message, branch string) (repo.Commit, error) {
	f.mu.Lock()
	f.writing++
	if f.writing > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writing--
	if err := f.putFail[path]; err != nil {
		return repo.Commit{}, err
	}
	f.puts = append(f.puts, fmt.Sprintf("%s@%s:%s", path, branch, message))
	f.content[path] = string(content)
	if f.onPut != nil {
		f.onPut(path)
	}
	return repo.Commit{Path: path, SHA: "c-" + path}, nil
}

func (f *fakeRepo) CreatePullRequest(_ context.Context, title, body, head, base string) (repo.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prTitle = title
	f.pulls = append(f.pulls, head+"->"+base+"\n"+body)
	return repo.PullRequest{Number: 7, URL: "https://github.com/o/r/pull/7"}, nil
}

func (f *fakeRepo) FullName() string { return "o/r" }

type fakeSessions struct {
	server  *fakeServer
	repo    *fakeRepo
	repoErr error
}

func (s fakeSessions) FlowServer(context.Context, string) (FlowServer, error) {
	return s.server, nil
}

func (s fakeSessions) Repository(context.Context, string) (Repository, error) {
	if s.repoErr != nil {
		return nil, s.repoErr
	}
	return s.repo, nil
}

func newTestService(server *fakeServer, repository *fakeRepo) *Service {
	return NewService(fakeSessions{server: server, repo: repository}, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.UnixMilli(1700000000000) },
		Limit:  2,
	})
}

const (
	boxServer = `{"flowId":"f1","name":"E2E box - Upload","stage":"running","mtime":"x","flow":{"s1":{"type":"appmixer.box.files.UploadFile","x":1}}}`
	boxRepo   = `{"name":"E2E box - Upload","flow":{"s1":{"x":1,"type":"appmixer.box.files.UploadFile"}}}`
)

func TestListFlowsClassifiesAndSorts(t *testing.T) {
	server := newFakeServer()
	server.add("f1", "E2E box - Upload", "running", boxServer)
	server.add("f2", "E2E asana - Create", "stopped", `{"name":"E2E asana - Create","flow":{"s":{"type":"a","v":2}}}`)
	server.add("f3", "Nightly", "stopped", `{"name":"Nightly","flow":{}}`)
	server.add("f4", "E2E asana - Broken", "stopped", `{}`)
	server.fail["f4"] = errors.New("server down")
	server.add("f5", "E2E asana - Attach", "stopped", `{"name":"E2E asana - Attach","flow":{}}`)

	repository := newFakeRepo()
	repository.track("E2E box - Upload", "src/appmixer/box/test-flow-upload.json", boxRepo)
	repository.track("E2E asana - Create", "src/appmixer/asana/test-flow-create.json", `{"name":"E2E asana - Create","flow":{"s":{"type":"a","v":1}}}`)
	repository.track("E2E asana - Broken", "src/appmixer/asana/test-flow-broken.json", `{"name":"E2E asana - Broken","flow":{}}`)

	listing, err := newTestService(server, repository).ListFlows(context.Background(), "alice")
	require.NoError(t, err)

	var order []string
	statuses := map[string]flowdiff.Status{}
	for _, f := range listing.Flows {
		order = append(order, f.FlowID)
		statuses[f.FlowID] = f.SyncStatus
	}
	assert.Equal(t, []string{"f5", "f4", "f2", "f1", "f3"}, order)
	assert.Equal(t, map[string]flowdiff.Status{
		"f1": flowdiff.StatusMatch,
		"f2": flowdiff.StatusModified,
		"f3": flowdiff.StatusServerOnly,
		"f4": flowdiff.StatusError,
		"f5": flowdiff.StatusServerOnly,
	}, statuses)
	assert.Equal(t, Stats{Total: 5, Running: 1, Stopped: 4, Match: 1, Modified: 1, ServerOnly: 2, Error: 1}, listing.Stats)

	box := listing.Flows[3]
	assert.Equal(t, "box", box.Connector)
	assert.True(t, box.Running)
	assert.Equal(t, "https://my.example.com/designer/f1", box.URL)
	require.NotNil(t, box.GitHubPath)
	assert.Equal(t, "src/appmixer/box/test-flow-upload.json", *box.GitHubPath)
	assert.Nil(t, listing.Flows[4].GitHubPath)
}

func TestListFlowsWithoutRepository(t *testing.T) {
	server := newFakeServer()
	server.add("f1", "E2E box - Upload", "running", boxServer)
	svc := NewService(fakeSessions{server: server, repoErr: &apperr.ConfigurationError{Service: "github"}}, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	listing, err := svc.ListFlows(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, listing.Flows, 1)
	assert.Equal(t, flowdiff.StatusServerOnly, listing.Flows[0].SyncStatus)
}

func TestSyncStatuses(t *testing.T) {
	server := newFakeServer()
	server.add("f1", "E2E box - Upload", "running", boxServer)
	repository := newFakeRepo()
	repository.track("E2E box - Upload", "src/appmixer/box/test-flow-upload.json", boxRepo)

	statuses, err := newTestService(server, repository).SyncStatuses(context.Background(), "alice", []FlowRef{
		{FlowID: "f1", Name: "E2E box - Upload"},
		{FlowID: "f9", Name: "E2E box - Gone"},
	})
	require.NoError(t, err)
	assert.Equal(t, flowdiff.StatusMatch, statuses["f1"].SyncStatus)
	assert.Equal(t, flowdiff.StatusServerOnly, statuses["f9"].SyncStatus)
}

func TestDiffRendersBothSidesSorted(t *testing.T) {
	server := newFakeServer()
	server.add("f1", "E2E box - Upload", "running", boxServer)
	repository := newFakeRepo()
	repository.track("E2E box - Upload", "src/appmixer/box/test-flow-upload.json", boxRepo)
	svc := newTestService(server, repository)

	diff, err := svc.Diff(context.Background(), "alice", FlowRef{FlowID: "f1", Name: "E2E box - Upload"})
	require.NoError(t, err)
	assert.Equal(t, diff.Server, diff.GitHub)
	assert.NotContains(t, diff.Server, "flowId")
	assert.Contains(t, diff.Server, "\n  \"flow\": {")
	assert.Equal(t, "src/appmixer/box/test-flow-upload.json", diff.GitHubPath)

	_, err = svc.Diff(context.Background(), "alice", FlowRef{FlowID: "f1", Name: "E2E box - Other"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Diff(context.Background(), "alice", FlowRef{FlowID: "f1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDiffIgnoresVolatileRepositoryFields(t *testing.T) {
	server := newFakeServer()
	server.add("f1", "E2E box - Upload", "running", boxServer)
	repository := newFakeRepo()
	repository.track("E2E box - Upload", "src/appmixer/box/test-flow-upload.json",
		`{"flowId":"old","stage":"stopped","mtime":"y","name":"E2E box - Upload","flow":{"s1":{"x":1,"type":"appmixer.box.files.UploadFile"}}}`)
	svc := newTestService(server, repository)

	statuses, err := svc.SyncStatuses(context.Background(), "alice", []FlowRef{{FlowID: "f1", Name: "E2E box - Upload"}})
	require.NoError(t, err)
	require.Equal(t, flowdiff.StatusMatch, statuses["f1"].SyncStatus)

	diff, err := svc.Diff(context.Background(), "alice", FlowRef{FlowID: "f1", Name: "E2E box - Upload"})
	require.NoError(t, err)
	assert.Equal(t, diff.Server, diff.GitHub)
	assert.NotContains(t, diff.GitHub, "stage")
}

func TestRevertWritesRepositoryVersion(t *testing.T) {
	server := newFakeServer()
	server.add("f1", "E2E box - Upload", "running", boxServer)
	repository := newFakeRepo()
	repository.track("E2E box - Upload", "src/appmixer/box/test-flow-upload.json", boxRepo)
	repository.track("E2E box - Invalid", "src/appmixer/box/test-flow-invalid.json", `{"name":"E2E box - Invalid"}`)
	svc := newTestService(server, repository)

	require.NoError(t, svc.Revert(context.Background(), "alice", FlowRef{FlowID: "f1", Name: "E2E box - Upload"}))
	def, ok := server.updated["f1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "E2E box - Upload", def["name"])

	err := svc.Revert(context.Background(), "alice", FlowRef{FlowID: "f2", Name: "E2E box - Invalid"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	err = svc.Revert(context.Background(), "alice", FlowRef{FlowID: "f3", Name: "E2E box - Missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Len(t, server.updated, 1)
}

func TestToggle(t *testing.T) {
	server := newFakeServer()
	svc := newTestService(server, newFakeRepo())
	ctx := context.Background()

	require.NoError(t, svc.Toggle(ctx, "alice", "f1", ActionStart))
	require.NoError(t, svc.Stop(ctx, "alice", "f2"))
	assert.ErrorIs(t, svc.Toggle(ctx, "alice", "f1", "pause"), apperr.ErrValidation)
	assert.ErrorIs(t, svc.Start(ctx, "alice", " "), apperr.ErrValidation)
	assert.Equal(t, []string{"f1"}, server.started)
	assert.Equal(t, []string{"f2"}, server.stopped)
}

func TestDeleteReportsPerFlow(t *testing.T) {
	server := newFakeServer()
	server.fail["f2"] = errors.New("locked")
	svc := newTestService(server, newFakeRepo())
	ctx := context.Background()

	result, err := svc.Delete(ctx, "alice", []string{"f1", "f2", "f3"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []Deleted{{FlowID: "f1", Success: true}, {FlowID: "f3", Success: true}}, result.Deleted)
	assert.Equal(t, []apperr.ItemError{{ID: "f2", Message: "locked"}}, result.Errors)

	result, err = svc.Delete(ctx, "alice", []string{"f2"})
	var partial *apperr.PartialFailure
	require.ErrorAs(t, err, &partial)
	assert.Empty(t, result.Deleted)

	_, err = svc.Delete(ctx, "alice", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteKeepsCompletedFlowsWhenCancelled(t *testing.T) {
	server := newFakeServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.onDelete = func(id string) {
		if id == "b" {
			cancel()
		}
	}
	svc := newTestService(server, newFakeRepo())

	result, err := svc.Delete(ctx, "alice", []string{"a", "b", "c"})
	require.ErrorIs(t, err, context.Canceled)
	assert.ElementsMatch(t, []string{"a", "b"}, server.deleted)
	assert.Equal(t, []Deleted{{FlowID: "a", Success: true}, {FlowID: "b", Success: true}}, result.Deleted)
	assert.Equal(t, []apperr.ItemError{{ID: "c", Message: context.Canceled.Error()}}, result.Errors)
	assert.False(t, result.Success)
}

func TestResults(t *testing.T) {
	server := newFakeServer()
	server.add("f1", "E2E box - Upload", "stopped", `{"name":"E2E box - Upload","flow":{"r":{"type":"appmixer.utils.test.ProcessE2EResults","config":{"properties":{"failedStoreId":"sf","successStoreId":"ss"}}}}}`)
	server.add("f2", "E2E box - Plain", "stopped", `{"name":"E2E box - Plain","flow":{}}`)
	server.stores["sf"] = []flowserver.StoreRecord{
		{Key: "E2E drive - Upload", Value: json.RawMessage(`[]`)},
		{Key: "e2e box - upload", Value: json.RawMessage(`"[{\"componentId\":\"c1\",\"componentName\":\"Upload\",\"error\":[\"boom\"]}]"`)},
	}
	server.stores["ss"] = []flowserver.StoreRecord{
		{Key: "E2E box - Upload", Value: json.RawMessage(`[{"componentId":"c2","componentName":"List","success":["ok"]}]`)},
	}
	svc := newTestService(server, newFakeRepo())
	ctx := context.Background()

	results, err := svc.Results(ctx, "alice", FlowRef{FlowID: "f1", Name: "E2E box - Upload"})
	require.NoError(t, err)
	assert.Equal(t, flowdiff.ResultFailed, results.Status)
	assert.Equal(t, 1, results.FailedAsserts)
	assert.Equal(t, 2, results.TotalAsserts)
	require.Len(t, results.Details, 2)
	assert.Equal(t, "c1", results.Details[0].ComponentID)
	require.NotNil(t, results.Stores.FailedRecordKey)
	assert.Equal(t, "e2e box - upload", *results.Stores.FailedRecordKey)
	assert.Equal(t, "sf", results.Stores.FailedStoreID)

	_, err = svc.Results(ctx, "alice", FlowRef{FlowID: "f2", Name: "E2E box - Plain"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Results(ctx, "alice", FlowRef{FlowID: "f1", Name: "E2E jira - Other"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func syncFixture() (*fakeServer, *fakeRepo) {
	server := newFakeServer()
	server.add("a", "E2E box - Upload", "running", `{"flowId":"a","name":"E2E box - Upload","userId":"u","flow":{"s":{"type":"appmixer.box.files.UploadFile"}}}`)
	server.add("b", "E2E slack - Send", "running", `{"flowId":"b","name":"E2E slack - Send","flow":{"s":{"type":"appmixer.slack.messages.Send"}}}`)
	server.add("c", "E2E asana - Create", "running", `{"flowId":"c","name":"E2E asana - Create","flow":{"s":{"type":"appmixer.asana.tasks.Create"}}}`)
	return server, newFakeRepo()
}

func TestSyncOpensOnePullRequest(t *testing.T) {
	server, repository := syncFixture()
	svc := newTestService(server, repository)

	result, err := svc.Sync(context.Background(), "alice", SyncRequest{
		Flows: []SyncFlow{
			{FlowID: "a", Name: "E2E box - Upload", Connector: "box"},
			{FlowID: "b", Name: "E2E slack - Send", GitHubPath: "src/appmixer/slack/test-flow-send.json"},
			{FlowID: "c", Name: "E2E asana - Create"},
		},
		Title:        "Nightly sync",
		TargetBranch: " dev ",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "sync-e2e-flows-1700000000000", result.Branch)
	assert.Equal(t, map[string]string{"sync-e2e-flows-1700000000000": "dev"}, repository.branches)
	assert.Equal(t, 7, result.PRNumber)
	assert.Equal(t, "https://github.com/o/r/pull/7", result.PRURL)
	assert.Len(t, result.Synced, 3)
	assert.Empty(t, result.Errors)
	assert.False(t, repository.overlap)

	assert.Contains(t, repository.puts, "src/appmixer/box/test-flow-e2e-box-upload.json@sync-e2e-flows-1700000000000:Sync E2E flow: E2E box - Upload")
	assert.Contains(t, repository.puts, "src/appmixer/slack/test-flow-send.json@sync-e2e-flows-1700000000000:Sync E2E flow: E2E slack - Send")
	assert.Contains(t, repository.puts, "src/appmixer/unknown/test-flow-e2e-asana-create.json@sync-e2e-flows-1700000000000:Sync E2E flow: E2E asana - Create")

	written := repository.content["src/appmixer/box/test-flow-e2e-box-upload.json"]
	assert.NotContains(t, written, "flowId")
	assert.NotContains(t, written, "userId")
	assert.Contains(t, written, "\n    \"flow\"")
	require.Len(t, repository.pulls, 1)
	assert.True(t, strings.HasPrefix(repository.pulls[0], "sync-e2e-flows-1700000000000->dev\n"))
}

func TestSyncReportsFailedFlows(t *testing.T) {
	server, repository := syncFixture()
	server.fail["b"] = errors.New("flow fetch failed")
	repository.putFail["src/appmixer/unknown/test-flow-e2e-asana-create.json"] = errors.New("conflict")
	svc := newTestService(server, repository)

	result, err := svc.Sync(context.Background(), "alice", SyncRequest{
		Flows:        []SyncFlow{{FlowID: "a", Name: "E2E box - Upload", Connector: "box"}, {FlowID: "b", Name: "E2E slack - Send"}, {FlowID: "c", Name: "E2E asana - Create"}},
		TargetBranch: "dev",
	})
	require.NoError(t, err)
	assert.Equal(t, defaultPRTitle, repository.prTitle)
	require.Len(t, result.Synced, 1)
	assert.Equal(t, "a", result.Synced[0].FlowID)
	assert.Equal(t, []apperr.ItemError{
		{ID: "b", Name: "E2E slack - Send", Message: "flow fetch failed"},
		{ID: "c", Name: "E2E asana - Create", Message: "conflict"},
	}, result.Errors)
	assert.Contains(t, repository.pulls[0], "## Errors")
}

func TestSyncWithNoWritesOpensNoPullRequest(t *testing.T) {
	server, repository := syncFixture()
	server.fail["a"] = errors.New("gone")
	svc := newTestService(server, repository)

	result, err := svc.Sync(context.Background(), "alice", SyncRequest{
		Flows:        []SyncFlow{{FlowID: "a", Name: "E2E box - Upload"}},
		Title:        "t",
		TargetBranch: "dev",
	})
	var partial *apperr.PartialFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 0, partial.Succeeded)
	assert.Empty(t, repository.pulls)
	assert.Len(t, repository.branches, 1)
	assert.Equal(t, "sync-e2e-flows-1700000000000", result.Branch)
}

func TestSyncKeepsWrittenFlowsWhenCancelled(t *testing.T) {
	server, repository := syncFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repository.onPut = func(string) { cancel() }
	svc := newTestService(server, repository)

	result, err := svc.Sync(ctx, "alice", SyncRequest{
		Flows: []SyncFlow{
			{FlowID: "a", Name: "E2E box - Upload", Connector: "box"},
			{FlowID: "b", Name: "E2E slack - Send", Connector: "slack"},
			{FlowID: "c", Name: "E2E asana - Create", Connector: "asana"},
		},
		TargetBranch: "dev",
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
	assert.Equal(t, "sync-e2e-flows-1700000000000", result.Branch)
	require.Len(t, result.Synced, 2)
	assert.Equal(t, "a", result.Synced[0].FlowID)
	assert.Equal(t, "b", result.Synced[1].FlowID)
	assert.Len(t, repository.puts, 2)
	assert.Equal(t, []apperr.ItemError{{ID: "c", Name: "E2E asana - Create", Message: context.Canceled.Error()}}, result.Errors)
	assert.Empty(t, repository.pulls)
}

func TestSyncRejectsBeforeWriting(t *testing.T) {
	server, repository := syncFixture()
	svc := newTestService(server, repository)
	ctx := context.Background()

	_, err := svc.Sync(ctx, "alice", SyncRequest{TargetBranch: "dev"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Sync(ctx, "alice", SyncRequest{Flows: []SyncFlow{{FlowID: "a", Name: "n"}}, TargetBranch: "  "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	repository.denied = true
	_, err = svc.Sync(ctx, "alice", SyncRequest{Flows: []SyncFlow{{FlowID: "a", Name: "n"}}, TargetBranch: "dev"})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	assert.Empty(t, repository.branches)
	assert.Empty(t, repository.puts)
}

func TestPRBodyGolden(t *testing.T) {
	body := PRBody("Weekly refresh of the E2E suite.",
		[]SyncedFlow{
			{FlowID: "a", Name: "E2E box - Upload", Path: "src/appmixer/box/test-flow-e2e-box-upload.json", Success: true},
			{FlowID: "b", Name: "E2E slack - Send", Path: "src/appmixer/slack/test-flow-send.json", Success: true},
		},
		[]apperr.ItemError{{ID: "c", Name: "E2E asana - Create", Message: "conflict"}},
		"clientIO/appmixer-connectors",
	)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "pr_body", []byte(body))
}
