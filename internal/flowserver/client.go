package flowserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/config"
	"github.com/agentworkforce/sanitycheck/internal/restclient"
)

const (
	serviceName = "appmixer"

	// E2EFilter selects the flows tagged as end-to-end test flows.
	E2EFilter = "customFields.category:E2E_test_flow"

	flowProjection = "-thumbnail,-stageChangeInfo,-started,-stopped"
)

// ConfigSource resolves the execution-server credentials of a user.
type ConfigSource interface {
	ExecServer(ctx context.Context, userID string) (config.ExecServer, error)
}

// Flow is the listing form of a flow.
type Flow struct {
	ID    string `json:"flowId"`
	Name  string `json:"name"`
	Stage string `json:"stage"`
	BTime string `json:"btime"`
	MTime string `json:"mtime"`
}

func (f Flow) Running() bool {
	return f.Stage == "running"
}

// StoreRecord is one key/value record of a data store.
type StoreRecord struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Client talks to the flow execution server on behalf of users.
type Client struct {
	resolver   ConfigSource
	tokens     *TokenCache
	httpClient *http.Client
	logger     *slog.Logger
	retries    *retryPolicy
}

type retryPolicy struct {
	max       int
	baseDelay time.Duration
	maxDelay  time.Duration
}

type Option func(*Client)

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

// WithRetries overrides the transport retry policy of every request.
func WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retries = &retryPolicy{max: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
	}
}

func NewClient(resolver ConfigSource, tokens *TokenCache, opts ...Option) *Client {
	c := &Client{
		resolver:   resolver,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	if c.tokens == nil {
		c.tokens = NewTokenCache()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

// Session is a client bound to one user's resolved credentials.
type Session struct {
	client *Client
	user   string
	cfg    config.ExecServer
	rest   *restclient.Client
}

// Session resolves the user's server configuration.
func (c *Client) Session(ctx context.Context, user string) (*Session, error) {
	cfg, err := c.resolver.ExecServer(ctx, user)
	if err != nil {
		return nil, err
	}
	opts := []restclient.Option{restclient.WithHTTPClient(c.httpClient)}
	if c.retries != nil {
		opts = append(opts, restclient.WithRetries(c.retries.max, c.retries.baseDelay, c.retries.maxDelay))
	}
	return &Session{
		client: c,
		user:   user,
		cfg:    cfg,
		rest:   restclient.New(serviceName, cfg.BaseURL, opts...),
	}, nil
}

func (s *Session) Config() config.ExecServer {
	return s.cfg
}

// DesignerURL is the browser URL of the flow designer for the server.
func (s *Session) DesignerURL(flowID string) string {
	base := strings.Replace(s.cfg.BaseURL, "api.", "my.", 1)
	if flowID == "" {
		return base
	}
	return base + "/designer/" + flowID
}

func (s *Session) authenticate(ctx context.Context, cfg config.ExecServer) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := s.rest.Do(ctx, http.MethodPost, "/user/auth", nil, map[string]string{
		"username": cfg.Username,
		"password": cfg.Password,
	}, &out)
	if err != nil {
		var upstream *apperr.UpstreamError
		if errors.As(err, &upstream) && (upstream.StatusCode == http.StatusUnauthorized || upstream.StatusCode == http.StatusForbidden) {
			return "", &apperr.AuthenticationError{Service: serviceName, Cause: err}
		}
		return "", err
	}
	if out.Token == "" {
		return "", &apperr.AuthenticationError{Service: serviceName, Cause: errors.New("empty token in auth response")}
	}
	s.client.logger.Debug("authenticated with flow server", "user", s.user, "baseUrl", s.cfg.BaseURL)
	return out.Token, nil
}

// do sends an authenticated request. A 401 drops the cached token and the
// request is sent once more with a fresh one.
func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := s.client.tokens.Token(ctx, s.user, s.cfg, s.authenticate)
		if err != nil {
			return err
		}
		err = s.rest.Do(ctx, method, path, map[string]string{"Authorization": "Bearer " + token}, body, out)
		if err == nil {
			return nil
		}
		var upstream *apperr.UpstreamError
		if attempt == 0 && errors.As(err, &upstream) && upstream.StatusCode == http.StatusUnauthorized {
			s.client.logger.Info("flow server rejected cached token", "user", s.user)
			s.client.tokens.Invalidate(s.user)
			continue
		}
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusUnauthorized {
			return &apperr.AuthenticationError{Service: serviceName, Cause: err}
		}
		return err
	}
}

// ListE2EFlows lists the flows tagged as end-to-end tests.
func (s *Session) ListE2EFlows(ctx context.Context) ([]Flow, error) {
	query := url.Values{}
	query.Set("filter", E2EFilter)
	query.Set("projection", "-thumbnail")
	var flows []Flow
	if err := s.do(ctx, http.MethodGet, "/flows?"+query.Encode(), nil, &flows); err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return flows, nil
}

// GetFlow returns the full definition of a flow as sent by the server.
func (s *Session) GetFlow(ctx context.Context, flowID string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := flowPath(flowID) + "?projection=" + url.QueryEscape(flowProjection)
	if err := s.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("get flow %s: %w", flowID, err)
	}
	return raw, nil
}

// UpdateFlow replaces the flow's definition.
func (s *Session) UpdateFlow(ctx context.Context, flowID string, definition any) error {
	if err := s.do(ctx, http.MethodPut, flowPath(flowID), definition, nil); err != nil {
		return fmt.Errorf("update flow %s: %w", flowID, err)
	}
	return nil
}

func (s *Session) StartFlow(ctx context.Context, flowID string) error {
	return s.coordinate(ctx, flowID, "start")
}

func (s *Session) StopFlow(ctx context.Context, flowID string) error {
	return s.coordinate(ctx, flowID, "stop")
}

func (s *Session) coordinate(ctx context.Context, flowID, command string) error {
	if err := s.do(ctx, http.MethodPost, flowPath(flowID)+"/coordinator", map[string]string{"command": command}, nil); err != nil {
		return fmt.Errorf("%s flow %s: %w", command, flowID, err)
	}
	return nil
}

func (s *Session) DeleteFlow(ctx context.Context, flowID string) error {
	if err := s.do(ctx, http.MethodDelete, flowPath(flowID), nil, nil); err != nil {
		return fmt.Errorf("delete flow %s: %w", flowID, err)
	}
	return nil
}

// StoreRecords lists the records of a data store.
func (s *Session) StoreRecords(ctx context.Context, storeID string) ([]StoreRecord, error) {
	var records []StoreRecord
	if err := s.do(ctx, http.MethodGet, "/store?storeId="+url.QueryEscape(storeID), nil, &records); err != nil {
		return nil, fmt.Errorf("store %s records: %w", storeID, err)
	}
	return records, nil
}

func flowPath(flowID string) string {
	return "/flows/" + url.PathEscape(flowID)
}
