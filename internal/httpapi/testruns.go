package httpapi

import (
	"net/http"
	"strings"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/store"
	"github.com/agentworkforce/sanitycheck/internal/tracker"
)

func (s *Server) handleListTestRuns(w http.ResponseWriter, r *http.Request, req request) {
	runs, err := s.deps.Tracker.ListTestRuns(r.Context())
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	if runs == nil {
		runs = []store.TestRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"testRuns": runs})
}

func (s *Server) handleCreateTestRun(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	result, err := s.deps.Tracker.CreateTestRun(r.Context(), body.Name, nil)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	payload := map[string]any{
		"success":        true,
		"id":             result.ID,
		"connectorCount": result.ConnectorCount,
		"componentCount": result.ComponentCount,
	}
	if len(result.Failed) > 0 {
		payload["failed"] = result.Failed
	}
	writeJSON(w, http.StatusCreated, payload)
}

// handleCreateStream creates a test run and streams its progress events
// over a websocket. The connection closes after the done or error event.
func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request, req request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required", req.correlationID)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "correlationId", req.correlationID, "error", err)
		return
	}
	// Reads are discarded; ctx ends when the client goes away.
	ctx := conn.CloseRead(r.Context())

	var writeMu sync.Mutex
	emit := func(ev tracker.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			s.logger.Debug("progress event dropped", "correlationId", req.correlationID, "step", ev.Step, "error", err)
		}
	}
	result, err := s.deps.Tracker.CreateTestRun(ctx, name, emit)
	if err != nil {
		s.logger.Warn("create test run failed", "user", req.user, "name", name, "error", err)
		_ = conn.Close(websocket.StatusInternalError, truncateReason(apperr.Code(err)))
		return
	}
	s.logger.Info("test run created", "user", req.user, "id", result.ID, "connectors", result.ConnectorCount, "components", result.ComponentCount)
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

// truncateReason keeps a close reason inside the 123 bytes a control frame
// allows.
func truncateReason(reason string) string {
	if len(reason) > 123 {
		return reason[:123]
	}
	return reason
}

func (s *Server) handleGetTestRun(w http.ResponseWriter, r *http.Request, req request) {
	run, err := s.deps.Tracker.GetTestRun(r.Context(), req.args[0])
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handlePatchTestRun(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		Status store.TestRunStatus `json:"status"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	run, err := s.deps.Tracker.UpdateTestRunStatus(r.Context(), req.args[0], body.Status)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "testRun": run})
}

func (s *Server) handleDeleteTestRun(w http.ResponseWriter, r *http.Request, req request) {
	if err := s.deps.Tracker.DeleteTestRun(r.Context(), req.args[0]); err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRunConnectors(w http.ResponseWriter, r *http.Request, req request) {
	ctx := r.Context()
	if _, err := s.deps.Tracker.GetTestRun(ctx, req.args[0]); err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	connectors, err := s.deps.Tracker.ListConnectors(ctx, req.args[0])
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	if connectors == nil {
		connectors = []store.Connector{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectors": connectors})
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request, req request) {
	report, err := s.deps.Tracker.Report(r.Context(), req.args[0])
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetConnector(w http.ResponseWriter, r *http.Request, req request) {
	ctx := r.Context()
	connector, err := s.deps.Tracker.GetConnector(ctx, req.args[0])
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	components, err := s.deps.Tracker.ListComponents(ctx, connector.ID)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	if components == nil {
		components = []store.Component{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connector": connector, "components": components})
}

// handlePatchConnector applies a manual status transition, a notes edit, or
// both in one request.
func (s *Server) handlePatchConnector(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		Status        *store.ConnectorStatus `json:"status"`
		BlockedReason string                 `json:"blockedReason"`
		Notes         *string                `json:"notes"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	if body.Status == nil && body.Notes == nil {
		s.writeServiceError(w, apperr.Validation("status", "status or notes is required"), req.correlationID)
		return
	}
	ctx := r.Context()
	var (
		connector store.Connector
		err       error
	)
	if body.Status != nil {
		connector, err = s.deps.Tracker.UpdateConnectorStatus(ctx, req.args[0], *body.Status, body.BlockedReason)
		if err != nil {
			s.writeServiceError(w, err, req.correlationID)
			return
		}
	}
	if body.Notes != nil {
		connector, err = s.deps.Tracker.UpdateConnectorNotes(ctx, req.args[0], *body.Notes)
		if err != nil {
			s.writeServiceError(w, err, req.correlationID)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "connector": connector})
}

func (s *Server) handlePatchComponent(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		Status      store.ComponentStatus `json:"status"`
		GitHubIssue string                `json:"githubIssue"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	result, err := s.deps.Tracker.UpdateComponentStatus(r.Context(), req.args[0], tracker.ComponentUpdate{
		Status:   body.Status,
		IssueRef: body.GitHubIssue,
	})
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"component":       result.Component,
		"connectorStatus": result.ConnectorStatus,
	})
}
