package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/config"
	"github.com/agentworkforce/sanitycheck/internal/reconcile"
	"github.com/agentworkforce/sanitycheck/internal/tracker"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// OriginPatterns are the hosts allowed to open the progress websocket
	// from a browser on another origin.
	OriginPatterns []string
	Logger         *slog.Logger
}

// SettingsStore persists per-user overrides.
type SettingsStore interface {
	UserSettings(ctx context.Context, userID string) (map[string]string, error)
	SaveSettings(ctx context.Context, userID string, values map[string]string) error
}

type DefaultsSource interface {
	Defaults() config.Defaults
	EnvSet(envName string) bool
}

type TokenInvalidator interface {
	Invalidate(user string)
}

type TreeInvalidator interface {
	InvalidateUser(user string) int
}

// Deps are the services behind the API. Tokens and Trees are dropped for a
// user whenever that user's settings change.
type Deps struct {
	Tracker  *tracker.Service
	Flows    *reconcile.Service
	Settings SettingsStore
	Defaults DefaultsSource
	Tokens   TokenInvalidator
	Trees    TreeInvalidator
}

type Server struct {
	deps        Deps
	cfg         ServerConfig
	logger      *slog.Logger
	rateLimiter *rateLimiter
	now         func() time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(deps Deps, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		deps:        deps,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
		now:         time.Now,
	}
}

type request struct {
	user          string
	correlationID string
	args          []string
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	correlationID := getCorrelationID(r)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set("X-Correlation-Id", correlationID)

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	route, args := matchRoute(r.Method, parts[1:])
	if route == "" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" && route == "create_stream" {
		// Browsers cannot set headers on a websocket handshake.
		if token := r.URL.Query().Get("access_token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	claims, authErr := parseBearer(authHeader, s.cfg.JWTSecret, s.now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(claims.Subject, s.now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	req := request{user: claims.Subject, correlationID: correlationID, args: args}
	switch route {
	case "list_runs":
		s.handleListTestRuns(w, r, req)
	case "create_run":
		s.handleCreateTestRun(w, r, req)
	case "create_stream":
		s.handleCreateStream(w, r, req)
	case "get_run":
		s.handleGetTestRun(w, r, req)
	case "patch_run":
		s.handlePatchTestRun(w, r, req)
	case "delete_run":
		s.handleDeleteTestRun(w, r, req)
	case "run_connectors":
		s.handleRunConnectors(w, r, req)
	case "run_report":
		s.handleRunReport(w, r, req)
	case "get_connector":
		s.handleGetConnector(w, r, req)
	case "patch_connector":
		s.handlePatchConnector(w, r, req)
	case "patch_component":
		s.handlePatchComponent(w, r, req)
	case "get_appmixer_settings":
		s.handleGetAppmixerSettings(w, r, req)
	case "save_appmixer_settings":
		s.handleSaveAppmixerSettings(w, r, req)
	case "get_github_settings":
		s.handleGetGitHubSettings(w, r, req)
	case "save_github_settings":
		s.handleSaveGitHubSettings(w, r, req)
	case "list_flows":
		s.handleListFlows(w, r, req)
	case "flow_op":
		s.handleFlowOperation(w, r, req)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

// matchRoute resolves the path below /api to a route name and its path
// arguments.
func matchRoute(method string, parts []string) (string, []string) {
	switch {
	case len(parts) == 1 && parts[0] == "test-runs" && method == http.MethodGet:
		return "list_runs", nil
	case len(parts) == 1 && parts[0] == "test-runs" && method == http.MethodPost:
		return "create_run", nil
	case len(parts) == 2 && parts[0] == "test-runs" && parts[1] == "create-stream" && method == http.MethodGet:
		return "create_stream", nil
	case len(parts) == 2 && parts[0] == "test-runs" && method == http.MethodGet:
		return "get_run", parts[1:]
	case len(parts) == 2 && parts[0] == "test-runs" && method == http.MethodPatch:
		return "patch_run", parts[1:]
	case len(parts) == 2 && parts[0] == "test-runs" && method == http.MethodDelete:
		return "delete_run", parts[1:]
	case len(parts) == 3 && parts[0] == "test-runs" && parts[2] == "connectors" && method == http.MethodGet:
		return "run_connectors", parts[1:2]
	case len(parts) == 3 && parts[0] == "test-runs" && parts[2] == "report" && method == http.MethodGet:
		return "run_report", parts[1:2]
	case len(parts) == 2 && parts[0] == "connectors" && method == http.MethodGet:
		return "get_connector", parts[1:]
	case len(parts) == 2 && parts[0] == "connectors" && method == http.MethodPatch:
		return "patch_connector", parts[1:]
	case len(parts) == 2 && parts[0] == "components" && method == http.MethodPatch:
		return "patch_component", parts[1:]
	case len(parts) == 2 && parts[0] == "settings" && parts[1] == "appmixer" && method == http.MethodGet:
		return "get_appmixer_settings", nil
	case len(parts) == 2 && parts[0] == "settings" && parts[1] == "appmixer" && method == http.MethodPost:
		return "save_appmixer_settings", nil
	case len(parts) == 2 && parts[0] == "settings" && parts[1] == "github" && method == http.MethodGet:
		return "get_github_settings", nil
	case len(parts) == 2 && parts[0] == "settings" && parts[1] == "github" && method == http.MethodPost:
		return "save_github_settings", nil
	case len(parts) == 1 && parts[0] == "e2e-flows" && method == http.MethodGet:
		return "list_flows", nil
	case len(parts) == 2 && parts[0] == "e2e-flows" && method == http.MethodPost:
		return "flow_op", parts[1:]
	}
	return "", nil
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

// writeServiceError maps a service error onto the API error body. Batch
// failures carry their per-item errors.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, correlationID string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "correlationId", correlationID, "status", status, "error", err)
	}
	body := map[string]any{
		"code":          apperr.Code(err),
		"message":       err.Error(),
		"correlationId": correlationID,
	}
	var partial *apperr.PartialFailure
	if errors.As(err, &partial) {
		body["errors"] = partial.Failed
	}
	var configErr *apperr.ConfigurationError
	if errors.As(err, &configErr) {
		body["service"] = configErr.Service
		body["missing"] = configErr.Missing
	}
	writeJSON(w, status, body)
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
