package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/batch"
	"github.com/agentworkforce/sanitycheck/internal/flowdiff"
)

const (
	syncBranchPrefix = "sync-e2e-flows-"
	defaultPRTitle   = "Sync E2E flows"
)

// SyncFlow selects a server flow to write. GitHubPath, when set, is the
// file the flow already lives in.
type SyncFlow struct {
	FlowID     string `json:"flowId"`
	Name       string `json:"name"`
	Connector  string `json:"connector,omitempty"`
	GitHubPath string `json:"githubPath,omitempty"`
}

type SyncRequest struct {
	Flows        []SyncFlow `json:"flows"`
	Title        string     `json:"prTitle"`
	Description  string     `json:"prDescription"`
	TargetBranch string     `json:"targetBranch"`
}

type SyncedFlow struct {
	FlowID  string `json:"flowId"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Success bool   `json:"success"`
}

type SyncResult struct {
	Success  bool               `json:"success"`
	PRURL    string             `json:"prUrl,omitempty"`
	PRNumber int                `json:"prNumber,omitempty"`
	Branch   string             `json:"branch"`
	Synced   []SyncedFlow       `json:"synced"`
	Errors   []apperr.ItemError `json:"errors,omitempty"`
}

func (r *SyncRequest) normalize() error {
	if len(r.Flows) == 0 {
		return apperr.Validation("flows", "no flows selected")
	}
	r.TargetBranch = strings.TrimSpace(r.TargetBranch)
	if r.TargetBranch == "" {
		return apperr.Validation("targetBranch", "is required")
	}
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		r.Title = defaultPRTitle
	}
	for _, f := range r.Flows {
		if strings.TrimSpace(f.FlowID) == "" || strings.TrimSpace(f.Name) == "" {
			return apperr.Validation("flows", "every flow needs flowId and name")
		}
	}
	return nil
}

// Sync writes the canonical form of each selected flow to a fresh branch
// cut from the target branch and opens one pull request for all of them.
// Flows that fail are reported next to the ones written; when none could
// be written no pull request is opened and the branch stays behind.
func (s *Service) Sync(ctx context.Context, user string, req SyncRequest) (SyncResult, error) {
	if err := req.normalize(); err != nil {
		return SyncResult{}, err
	}
	repository, err := s.sessions.Repository(ctx, user)
	if err != nil {
		return SyncResult{}, err
	}
	if err := repository.VerifyWriteAccess(ctx); err != nil {
		return SyncResult{}, err
	}
	server, err := s.sessions.FlowServer(ctx, user)
	if err != nil {
		return SyncResult{}, err
	}

	branch := fmt.Sprintf("%s%d", syncBranchPrefix, s.now().UnixMilli())
	if _, err := repository.CreateBranch(ctx, branch, req.TargetBranch); err != nil {
		return SyncResult{}, fmt.Errorf("create branch %s: %w", branch, err)
	}
	s.logger.Info("created sync branch", "user", user, "branch", branch, "base", req.TargetBranch, "flows", len(req.Flows))

	// Commits on one branch must not race.
	var writeMu sync.Mutex
	outcomes, err := batch.Run(ctx, req.Flows, func(ctx context.Context, f SyncFlow) (SyncedFlow, error) {
		raw, err := server.GetFlow(ctx, f.FlowID)
		if err != nil {
			return SyncedFlow{}, err
		}
		def, err := flowdiff.Parse(raw)
		if err != nil {
			return SyncedFlow{}, err
		}
		canonical := flowdiff.Canonicalize(def)
		if err := flowdiff.Validate(canonical); err != nil {
			return SyncedFlow{}, err
		}
		content, err := flowdiff.Serialize(canonical, flowdiff.HashIndent)
		if err != nil {
			return SyncedFlow{}, err
		}
		path := f.GitHubPath
		if path == "" {
			path = flowdiff.FlowPath(f.Connector, f.Name)
		}

		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := repository.PutFile(ctx, path, content, "Sync E2E flow: "+f.Name, branch); err != nil {
			return SyncedFlow{}, err
		}
		return SyncedFlow{FlowID: f.FlowID, Name: f.Name, Path: path, Success: true}, nil
	}, batch.Options[SyncFlow]{
		Limit:  s.limit,
		Name:   "sync-flows",
		Logger: s.logger,
		Label:  func(f SyncFlow) string { return f.Name },
	})

	result := SyncResult{Branch: branch, Synced: []SyncedFlow{}}
	for _, out := range outcomes {
		if out.Err != nil {
			f := req.Flows[out.Index]
			result.Errors = append(result.Errors, apperr.ItemError{ID: f.FlowID, Name: f.Name, Message: out.Err.Error()})
			continue
		}
		result.Synced = append(result.Synced, out.Value)
	}
	if err != nil {
		// Cancelled: flows already on the branch stay reported, no pull request.
		for _, f := range req.Flows[len(outcomes):] {
			result.Errors = append(result.Errors, apperr.ItemError{ID: f.FlowID, Name: f.Name, Message: err.Error()})
		}
		return result, err
	}
	if len(result.Synced) == 0 {
		return result, &apperr.PartialFailure{Failed: result.Errors}
	}

	body := PRBody(req.Description, result.Synced, result.Errors, repository.FullName())
	pr, err := repository.CreatePullRequest(ctx, req.Title, body, branch, req.TargetBranch)
	if err != nil {
		return result, fmt.Errorf("open pull request: %w", err)
	}
	result.Success = true
	result.PRURL = pr.URL
	result.PRNumber = pr.Number
	s.logger.Info("opened sync pull request", "user", user, "number", pr.Number, "synced", len(result.Synced), "failed", len(result.Errors))
	return result, nil
}

// PRBody renders the pull request description of a sync.
func PRBody(description string, synced []SyncedFlow, failed []apperr.ItemError, repository string) string {
	var b strings.Builder
	if d := strings.TrimSpace(description); d != "" {
		b.WriteString(d)
		b.WriteString("\n\n")
	}
	b.WriteString("## Synced Flows\n\n")
	for _, f := range synced {
		fmt.Fprintf(&b, "- `%s` - %s\n", f.Path, f.Name)
	}
	if len(failed) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range failed {
			fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Message)
		}
	}
	fmt.Fprintf(&b, "\n---\n*Synced from %s via Appmixer Sanity Check*\n", repository)
	return b.String()
}
