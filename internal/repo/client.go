package repo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/config"
	"github.com/agentworkforce/sanitycheck/internal/restclient"
)

const (
	DefaultAPIBase = "https://api.github.com"
	DefaultWebBase = "https://github.com"

	serviceName = "github"
	userAgent   = "appmixer-sanity-check"
)

// ConfigSource resolves the repository a user works against.
type ConfigSource interface {
	Repository(ctx context.Context, userID string) (config.Repository, error)
}

// Client talks to the source-control REST API on behalf of users.
type Client struct {
	resolver   ConfigSource
	trees      *TreeCache
	apiBase    string
	webBase    string
	httpClient *http.Client
	logger     *slog.Logger
	retries    []restclient.Option
}

type Option func(*Client)

func WithAPIBase(apiBase string) Option {
	return func(c *Client) {
		if apiBase != "" {
			c.apiBase = strings.TrimRight(apiBase, "/")
		}
	}
}

func WithWebBase(webBase string) Option {
	return func(c *Client) {
		if webBase != "" {
			c.webBase = strings.TrimRight(webBase, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retries = []restclient.Option{restclient.WithRetries(maxRetries, baseDelay, maxDelay)}
	}
}

func NewClient(resolver ConfigSource, trees *TreeCache, opts ...Option) *Client {
	c := &Client{
		resolver:   resolver,
		trees:      trees,
		apiBase:    DefaultAPIBase,
		webBase:    DefaultWebBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	if c.trees == nil {
		c.trees = NewTreeCache()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Trees() *TreeCache {
	return c.trees
}

// Session is a client bound to one user's resolved repository.
type Session struct {
	client *Client
	user   string
	cfg    config.Repository
	rest   *restclient.Client
}

func (c *Client) Session(ctx context.Context, user string) (*Session, error) {
	cfg, err := c.resolver.Repository(ctx, user)
	if err != nil {
		return nil, err
	}
	httpClient := c.httpClient
	if cfg.Token != "" {
		httpClient = &http.Client{
			Timeout: c.httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
				Base:   c.httpClient.Transport,
			},
		}
	}
	opts := append([]restclient.Option{
		restclient.WithHTTPClient(httpClient),
		restclient.WithHeader("Accept", "application/vnd.github.v3+json"),
		restclient.WithHeader("User-Agent", userAgent),
	}, c.retries...)
	return &Session{
		client: c,
		user:   user,
		cfg:    cfg,
		rest:   restclient.New(serviceName, c.apiBase, opts...),
	}, nil
}

func (s *Session) Config() config.Repository {
	return s.cfg
}

// BlobURL is the browser URL of path on the configured branch.
func (s *Session) BlobURL(path string) string {
	return fmt.Sprintf("%s/%s/blob/%s/%s", s.client.webBase, s.cfg.FullName(), s.cfg.Branch, path)
}

func (s *Session) repoPath(suffix string) string {
	return "/repos/" + url.PathEscape(s.cfg.Owner) + "/" + url.PathEscape(s.cfg.Repo) + suffix
}

// Tree lists the configured branch recursively, served from the tree cache.
func (s *Session) Tree(ctx context.Context) ([]TreeEntry, error) {
	return s.client.trees.Tree(ctx, s.user, s.cfg, func(ctx context.Context) ([]TreeEntry, error) {
		var out struct {
			Tree      []TreeEntry `json:"tree"`
			Truncated bool        `json:"truncated"`
		}
		path := s.repoPath("/git/trees/" + escapePath(s.cfg.Branch) + "?recursive=1")
		if err := s.rest.Do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
			return nil, fmt.Errorf("list tree of %s@%s: %w", s.cfg.FullName(), s.cfg.Branch, err)
		}
		if out.Truncated {
			s.client.logger.Warn("repository tree listing truncated", "repo", s.cfg.FullName(), "branch", s.cfg.Branch)
		}
		return out.Tree, nil
	})
}

// File is a decoded file of the repository.
type File struct {
	Path    string
	SHA     string
	Content []byte
}

// GetFile reads path at ref. An empty ref reads the configured branch.
func (s *Session) GetFile(ctx context.Context, path, ref string) (File, error) {
	if ref == "" {
		ref = s.cfg.Branch
	}
	var out struct {
		Path     string `json:"path"`
		SHA      string `json:"sha"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := s.rest.Do(ctx, http.MethodGet, s.contentsPath(path)+"?ref="+url.QueryEscape(ref), nil, nil, &out); err != nil {
		return File{}, fmt.Errorf("get %s@%s: %w", path, ref, err)
	}
	content := []byte(out.Content)
	if out.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
		if err != nil {
			return File{}, fmt.Errorf("decode %s: %w", path, err)
		}
		content = decoded
	}
	return File{Path: path, SHA: out.SHA, Content: content}, nil
}

// Commit is the outcome of a file write.
type Commit struct {
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	FileSHA string `json:"fileSha"`
}

// PutFile creates path on branch or updates it when it already exists there.
func (s *Session) PutFile(ctx context.Context, path string, content []byte, message, branch string) (Commit, error) {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  branch,
	}
	existing, err := s.GetFile(ctx, path, branch)
	switch {
	case err == nil:
		body["sha"] = existing.SHA
	case errors.Is(err, apperr.ErrNotFound):
	default:
		return Commit{}, err
	}

	var out struct {
		Content struct {
			Path string `json:"path"`
			SHA  string `json:"sha"`
		} `json:"content"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := s.rest.Do(ctx, http.MethodPut, s.contentsPath(path), nil, body, &out); err != nil {
		return Commit{}, fmt.Errorf("write %s on %s: %w", path, branch, err)
	}
	// The branch listing changed for everyone reading it.
	s.client.trees.InvalidateRepository(s.cfg.Owner, s.cfg.Repo, branch)
	return Commit{Path: path, SHA: out.Commit.SHA, FileSHA: out.Content.SHA}, nil
}

// BranchHead returns the commit the branch points at.
func (s *Session) BranchHead(ctx context.Context, branch string) (string, error) {
	var out struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := s.rest.Do(ctx, http.MethodGet, s.repoPath("/git/ref/heads/"+escapePath(branch)), nil, nil, &out); err != nil {
		return "", fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	return out.Object.SHA, nil
}

// CreateBranch creates name at the head of from and returns that commit.
func (s *Session) CreateBranch(ctx context.Context, name, from string) (string, error) {
	sha, err := s.BranchHead(ctx, from)
	if err != nil {
		return "", err
	}
	body := map[string]string{"ref": "refs/heads/" + name, "sha": sha}
	if err := s.rest.Do(ctx, http.MethodPost, s.repoPath("/git/refs"), nil, body, nil); err != nil {
		return "", fmt.Errorf("create branch %s: %w", name, err)
	}
	return sha, nil
}

type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

func (s *Session) CreatePullRequest(ctx context.Context, title, body, head, base string) (PullRequest, error) {
	var pr PullRequest
	payload := map[string]string{"title": title, "body": body, "head": head, "base": base}
	if err := s.rest.Do(ctx, http.MethodPost, s.repoPath("/pulls"), nil, payload, &pr); err != nil {
		return PullRequest{}, fmt.Errorf("open pull request %s -> %s: %w", head, base, err)
	}
	return pr, nil
}

// Permissions is the caller's access to the repository.
type Permissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

// RepositoryInfo is the public description of the configured repository.
type RepositoryInfo struct {
	FullName      string      `json:"full_name"`
	DefaultBranch string      `json:"default_branch"`
	Private       bool        `json:"private"`
	Permissions   Permissions `json:"permissions"`
}

func (s *Session) Repository(ctx context.Context) (RepositoryInfo, error) {
	var info RepositoryInfo
	if err := s.rest.Do(ctx, http.MethodGet, s.repoPath(""), nil, nil, &info); err != nil {
		return RepositoryInfo{}, fmt.Errorf("get repository %s: %w", s.cfg.FullName(), err)
	}
	return info, nil
}

// VerifyWriteAccess fails with an authorization error unless the configured
// token may push to the repository.
func (s *Session) VerifyWriteAccess(ctx context.Context) error {
	if s.cfg.Token == "" {
		return apperr.Authorization("a GitHub token is required to write to " + s.cfg.FullName())
	}
	info, err := s.Repository(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrAuthentication) || errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("%w: %w", apperr.Authorization("cannot access "+s.cfg.FullName()), err)
		}
		return err
	}
	if !info.Permissions.Push && !info.Permissions.Admin {
		return apperr.Authorization("no write access to " + s.cfg.FullName())
	}
	return nil
}

func (s *Session) contentsPath(path string) string {
	return s.repoPath("/contents/" + escapePath(path))
}

func escapePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
