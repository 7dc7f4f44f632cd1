package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/flowserver"
	"github.com/agentworkforce/sanitycheck/internal/repo"
)

// FlowServer is the execution-server view of one user.
type FlowServer interface {
	ListE2EFlows(ctx context.Context) ([]flowserver.Flow, error)
	GetFlow(ctx context.Context, flowID string) (json.RawMessage, error)
	UpdateFlow(ctx context.Context, flowID string, definition any) error
	StartFlow(ctx context.Context, flowID string) error
	StopFlow(ctx context.Context, flowID string) error
	DeleteFlow(ctx context.Context, flowID string) error
	StoreRecords(ctx context.Context, storeID string) ([]flowserver.StoreRecord, error)
	DesignerURL(flowID string) string
}

// Repository is the source-control view of one user.
type Repository interface {
	FlowIndex(ctx context.Context) (map[string]repo.FlowFile, error)
	VerifyWriteAccess(ctx context.Context) error
	CreateBranch(ctx context.Context, name, from string) (string, error)
	PutFile(ctx context.Context, path string, content []byte, message, branch string) (repo.Commit, error)
	CreatePullRequest(ctx context.Context, title, body, head, base string) (repo.PullRequest, error)
	FullName() string
}

// Sessions opens the per-user views the service works through.
type Sessions interface {
	FlowServer(ctx context.Context, user string) (FlowServer, error)
	Repository(ctx context.Context, user string) (Repository, error)
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	// Limit bounds concurrent flow fetches.
	Limit int
}

// Service reconciles E2E flows between the execution server and the
// repository.
type Service struct {
	sessions Sessions
	logger   *slog.Logger
	now      func() time.Time
	limit    int
}

func NewService(sessions Sessions, opts Options) *Service {
	s := &Service{
		sessions: sessions,
		logger:   opts.Logger,
		now:      opts.Now,
		limit:    opts.Limit,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.limit <= 0 {
		s.limit = 5
	}
	return s
}

// ClientSessions adapts the REST clients to Sessions.
type ClientSessions struct {
	Server *flowserver.Client
	Repo   *repo.Client
}

func (c ClientSessions) FlowServer(ctx context.Context, user string) (FlowServer, error) {
	session, err := c.Server.Session(ctx, user)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c ClientSessions) Repository(ctx context.Context, user string) (Repository, error) {
	session, err := c.Repo.Session(ctx, user)
	if err != nil {
		return nil, err
	}
	return repoSession{session}, nil
}

type repoSession struct {
	*repo.Session
}

func (r repoSession) FullName() string {
	return r.Config().FullName()
}
