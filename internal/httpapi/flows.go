package httpapi

import (
	"net/http"

	"github.com/agentworkforce/sanitycheck/internal/reconcile"
)

type flowRequest struct {
	FlowID   string `json:"flowId"`
	FlowName string `json:"flowName"`
}

func (f flowRequest) ref() reconcile.FlowRef {
	return reconcile.FlowRef{FlowID: f.FlowID, Name: f.FlowName}
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request, req request) {
	listing, err := s.deps.Flows.ListFlows(r.Context(), req.user)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleFlowOperation(w http.ResponseWriter, r *http.Request, req request) {
	switch req.args[0] {
	case "sync-status":
		s.handleSyncStatus(w, r, req)
	case "diff":
		s.handleDiff(w, r, req)
	case "sync":
		s.handleSync(w, r, req)
	case "revert":
		s.handleRevert(w, r, req)
	case "toggle":
		s.handleToggle(w, r, req)
	case "start":
		s.handleStartStop(w, r, req, reconcile.ActionStart)
	case "stop":
		s.handleStartStop(w, r, req, reconcile.ActionStop)
	case "delete":
		s.handleDeleteFlows(w, r, req)
	case "results":
		s.handleResults(w, r, req)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", req.correlationID)
	}
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		Flows []reconcile.FlowRef `json:"flows"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	if body.Flows == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "flows array is required", req.correlationID)
		return
	}
	statuses, err := s.deps.Flows.SyncStatuses(r.Context(), req.user, body.Flows)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request, req request) {
	var body flowRequest
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	diff, err := s.deps.Flows.Diff(r.Context(), req.user, body.ref())
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, req request) {
	var body reconcile.SyncRequest
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	result, err := s.deps.Flows.Sync(r.Context(), req.user, body)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request, req request) {
	var body flowRequest
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	if err := s.deps.Flows.Revert(r.Context(), req.user, body.ref()); err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		FlowID string `json:"flowId"`
		Action string `json:"action"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	if err := s.deps.Flows.Toggle(r.Context(), req.user, body.FlowID, body.Action); err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "action": body.Action})
}

func (s *Server) handleStartStop(w http.ResponseWriter, r *http.Request, req request, action string) {
	var body struct {
		FlowID string `json:"flowId"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	if err := s.deps.Flows.Toggle(r.Context(), req.user, body.FlowID, action); err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDeleteFlows(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		FlowIDs []string `json:"flowIds"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	result, err := s.deps.Flows.Delete(r.Context(), req.user, body.FlowIDs)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, req request) {
	var body flowRequest
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	results, err := s.deps.Flows.Results(r.Context(), req.user, body.ref())
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
