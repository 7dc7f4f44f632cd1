package httpapi

import (
	"net/http"
	"strings"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/config"
)

// Secrets are never returned; the settings views only say whether a value
// comes from the environment or from the user's overrides.

func (s *Server) handleGetAppmixerSettings(w http.ResponseWriter, r *http.Request, req request) {
	overrides, err := s.deps.Settings.UserSettings(r.Context(), req.user)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	defaults := s.deps.Defaults.Defaults().ExecServer
	writeJSON(w, http.StatusOK, map[string]any{
		"baseUrl":  firstNonEmpty(overrides[config.KeyAppmixerBaseURL], defaults.BaseURL),
		"username": firstNonEmpty(overrides[config.KeyAppmixerUsername], defaults.Username),
		"hasEnvCredentials": s.deps.Defaults.EnvSet(config.EnvAppmixerBaseURL) &&
			s.deps.Defaults.EnvSet(config.EnvAppmixerUsername) &&
			s.deps.Defaults.EnvSet(config.EnvAppmixerPassword),
		"hasCustomCredentials": allSet(overrides, config.ExecServerKeys...),
		"defaults": map[string]string{
			"baseUrl":  defaults.BaseURL,
			"username": defaults.Username,
		},
	})
}

func (s *Server) handleSaveAppmixerSettings(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		BaseURL          string `json:"baseUrl"`
		Username         string `json:"username"`
		Password         string `json:"password"`
		ClearCredentials bool   `json:"clearCredentials"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}

	values := map[string]string{}
	if body.ClearCredentials {
		for _, key := range config.ExecServerKeys {
			values[key] = ""
		}
	} else {
		baseURL := strings.TrimSpace(body.BaseURL)
		username := strings.TrimSpace(body.Username)
		if baseURL == "" || username == "" {
			s.writeServiceError(w, apperr.Validation("baseUrl", "base URL and username are required"), req.correlationID)
			return
		}
		values[config.KeyAppmixerBaseURL] = strings.TrimRight(baseURL, "/")
		values[config.KeyAppmixerUsername] = username
		// An empty password keeps the stored one.
		if password := strings.TrimSpace(body.Password); password != "" {
			values[config.KeyAppmixerPassword] = password
		}
	}
	if err := s.deps.Settings.SaveSettings(r.Context(), req.user, values); err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	if s.deps.Tokens != nil {
		s.deps.Tokens.Invalidate(req.user)
	}
	s.logger.Info("appmixer settings saved", "user", req.user, "cleared", body.ClearCredentials)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetGitHubSettings(w http.ResponseWriter, r *http.Request, req request) {
	overrides, err := s.deps.Settings.UserSettings(r.Context(), req.user)
	if err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	defaults := s.deps.Defaults.Defaults().Repository
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":          firstNonEmpty(overrides[config.KeyGitHubOwner], defaults.Owner),
		"repo":           firstNonEmpty(overrides[config.KeyGitHubRepo], defaults.Repo),
		"branch":         firstNonEmpty(overrides[config.KeyGitHubBranch], defaults.Branch),
		"hasEnvToken":    s.deps.Defaults.EnvSet(config.EnvGitHubToken),
		"hasCustomToken": allSet(overrides, config.KeyGitHubToken),
		"defaults": map[string]string{
			"owner":  defaults.Owner,
			"repo":   defaults.Repo,
			"branch": defaults.Branch,
		},
	})
}

func (s *Server) handleSaveGitHubSettings(w http.ResponseWriter, r *http.Request, req request) {
	var body struct {
		Owner      string `json:"owner"`
		Repo       string `json:"repo"`
		Branch     string `json:"branch"`
		Token      string `json:"token"`
		ClearToken bool   `json:"clearToken"`
	}
	if !s.decodeJSONBody(w, r, req.correlationID, &body) {
		return
	}
	values := map[string]string{
		config.KeyGitHubOwner:  strings.TrimSpace(body.Owner),
		config.KeyGitHubRepo:   strings.TrimSpace(body.Repo),
		config.KeyGitHubBranch: strings.TrimSpace(body.Branch),
	}
	for _, key := range []string{config.KeyGitHubOwner, config.KeyGitHubRepo, config.KeyGitHubBranch} {
		if values[key] == "" {
			s.writeServiceError(w, apperr.Validation("owner", "owner, repo, and branch are required"), req.correlationID)
			return
		}
	}
	if body.ClearToken {
		values[config.KeyGitHubToken] = ""
	} else if token := strings.TrimSpace(body.Token); token != "" {
		values[config.KeyGitHubToken] = token
	}
	if err := s.deps.Settings.SaveSettings(r.Context(), req.user, values); err != nil {
		s.writeServiceError(w, err, req.correlationID)
		return
	}
	if s.deps.Trees != nil {
		dropped := s.deps.Trees.InvalidateUser(req.user)
		s.logger.Debug("repository trees invalidated", "user", req.user, "entries", dropped)
	}
	s.logger.Info("github settings saved", "user", req.user, "repository", values[config.KeyGitHubOwner]+"/"+values[config.KeyGitHubRepo])
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func allSet(values map[string]string, keys ...string) bool {
	for _, key := range keys {
		if strings.TrimSpace(values[key]) == "" {
			return false
		}
	}
	return true
}
