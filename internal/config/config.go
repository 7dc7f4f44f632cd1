package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
)

// Per-user setting keys persisted in the settings table.
const (
	KeyAppmixerBaseURL  = "appmixer_base_url"
	KeyAppmixerUsername = "appmixer_username"
	KeyAppmixerPassword = "appmixer_password"
	KeyGitHubOwner      = "github_repo_owner"
	KeyGitHubRepo       = "github_repo_name"
	KeyGitHubBranch     = "github_repo_branch"
	KeyGitHubToken      = "github_token"
)

const (
	DefaultGitHubOwner  = "clientIO"
	DefaultGitHubRepo   = "appmixer-connectors"
	DefaultGitHubBranch = "dev"
)

var (
	ExecServerKeys = []string{KeyAppmixerBaseURL, KeyAppmixerUsername, KeyAppmixerPassword}
	RepositoryKeys = []string{KeyGitHubOwner, KeyGitHubRepo, KeyGitHubBranch, KeyGitHubToken}
)

// ExecServer holds the credentials of the flow execution server.
type ExecServer struct {
	BaseURL  string `yaml:"baseUrl"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Fingerprint identifies the server and principal; it changes whenever a
// cached token for the previous values must not be reused.
func (c ExecServer) Fingerprint() string {
	return fingerprint(strings.TrimRight(c.BaseURL, "/"), c.Username)
}

// Repository locates the source-control repository holding flow files.
type Repository struct {
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
	Token  string `yaml:"token"`
}

func (c Repository) Fingerprint() string {
	return fingerprint(c.Owner, c.Repo, c.Branch)
}

// FullName is "owner/repo".
func (c Repository) FullName() string {
	return c.Owner + "/" + c.Repo
}

type Defaults struct {
	ExecServer ExecServer `yaml:"appmixer"`
	Repository Repository `yaml:"github"`
}

// SettingsSource yields the per-user overrides stored by the settings API.
type SettingsSource interface {
	UserSettings(ctx context.Context, userID string) (map[string]string, error)
}

// DefaultsSource yields the process-wide defaults.
type DefaultsSource interface {
	Defaults() Defaults
}

// ResolveExecServer merges overrides over defaults field by field. An empty
// or whitespace override falls back to the default.
func ResolveExecServer(overrides map[string]string, defaults ExecServer) (ExecServer, error) {
	resolved := ExecServer{
		BaseURL:  strings.TrimRight(pick(overrides[KeyAppmixerBaseURL], defaults.BaseURL), "/"),
		Username: pick(overrides[KeyAppmixerUsername], defaults.Username),
		Password: pick(overrides[KeyAppmixerPassword], defaults.Password),
	}
	var missing []string
	if resolved.BaseURL == "" {
		missing = append(missing, "baseUrl")
	}
	if resolved.Username == "" {
		missing = append(missing, "username")
	}
	if resolved.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return ExecServer{}, &apperr.ConfigurationError{Service: "appmixer", Missing: missing}
	}
	return resolved, nil
}

// ResolveRepository merges overrides over defaults. The token is optional;
// reads of public repositories work without it.
func ResolveRepository(overrides map[string]string, defaults Repository) (Repository, error) {
	resolved := Repository{
		Owner:  pick(overrides[KeyGitHubOwner], defaults.Owner),
		Repo:   pick(overrides[KeyGitHubRepo], defaults.Repo),
		Branch: pick(overrides[KeyGitHubBranch], defaults.Branch),
		Token:  pick(overrides[KeyGitHubToken], defaults.Token),
	}
	var missing []string
	if resolved.Owner == "" {
		missing = append(missing, "owner")
	}
	if resolved.Repo == "" {
		missing = append(missing, "repo")
	}
	if resolved.Branch == "" {
		missing = append(missing, "branch")
	}
	if len(missing) > 0 {
		return Repository{}, &apperr.ConfigurationError{Service: "github", Missing: missing}
	}
	return resolved, nil
}

// Resolver binds per-user overrides to process defaults.
type Resolver struct {
	settings SettingsSource
	defaults DefaultsSource
}

func NewResolver(settings SettingsSource, defaults DefaultsSource) *Resolver {
	return &Resolver{settings: settings, defaults: defaults}
}

func (r *Resolver) ExecServer(ctx context.Context, userID string) (ExecServer, error) {
	overrides, err := r.overrides(ctx, userID)
	if err != nil {
		return ExecServer{}, err
	}
	return ResolveExecServer(overrides, r.defaultValues().ExecServer)
}

func (r *Resolver) Repository(ctx context.Context, userID string) (Repository, error) {
	overrides, err := r.overrides(ctx, userID)
	if err != nil {
		return Repository{}, err
	}
	return ResolveRepository(overrides, r.defaultValues().Repository)
}

func (r *Resolver) Defaults() Defaults {
	return r.defaultValues()
}

func (r *Resolver) overrides(ctx context.Context, userID string) (map[string]string, error) {
	if r.settings == nil || userID == "" {
		return nil, nil
	}
	return r.settings.UserSettings(ctx, userID)
}

func (r *Resolver) defaultValues() Defaults {
	if r.defaults == nil {
		return Defaults{}
	}
	return r.defaults.Defaults()
}

func pick(override, fallback string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(fallback)
}

func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
