package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Environment variables read for the process defaults.
const (
	EnvAppmixerBaseURL  = "APPMIXER_BASE_URL"
	EnvAppmixerUsername = "APPMIXER_USERNAME"
	EnvAppmixerPassword = "APPMIXER_PASSWORD"
	EnvGitHubOwner      = "GITHUB_REPO_OWNER"
	EnvGitHubRepo       = "GITHUB_REPO_NAME"
	EnvGitHubBranch     = "GITHUB_REPO_BRANCH"
	EnvGitHubToken      = "GITHUB_TOKEN"
)

// Provider serves defaults layered as environment over an optional YAML
// file over the built-in repository defaults.
type Provider struct {
	path   string
	lookup func(string) string
	logger *slog.Logger

	mu       sync.RWMutex
	file     Defaults
	onChange []func(Defaults)
}

type ProviderOption func(*Provider)

// WithLookup replaces os.Getenv, used by tests.
func WithLookup(lookup func(string) string) ProviderOption {
	return func(p *Provider) {
		if lookup != nil {
			p.lookup = lookup
		}
	}
}

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider loads the YAML file at path when path is set. A missing file
// is not an error; it is picked up once it appears.
func NewProvider(path string, opts ...ProviderOption) (*Provider, error) {
	p := &Provider{
		path:   strings.TrimSpace(path),
		lookup: os.Getenv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Path() string {
	return p.path
}

func (p *Provider) Defaults() Defaults {
	p.mu.RLock()
	file := p.file
	p.mu.RUnlock()

	return Defaults{
		ExecServer: ExecServer{
			BaseURL:  p.env(EnvAppmixerBaseURL, file.ExecServer.BaseURL, ""),
			Username: p.env(EnvAppmixerUsername, file.ExecServer.Username, ""),
			Password: p.env(EnvAppmixerPassword, file.ExecServer.Password, ""),
		},
		Repository: Repository{
			Owner:  p.env(EnvGitHubOwner, file.Repository.Owner, DefaultGitHubOwner),
			Repo:   p.env(EnvGitHubRepo, file.Repository.Repo, DefaultGitHubRepo),
			Branch: p.env(EnvGitHubBranch, file.Repository.Branch, DefaultGitHubBranch),
			Token:  p.env(EnvGitHubToken, file.Repository.Token, ""),
		},
	}
}

// EnvSet reports whether the environment (not the file) provides key.
func (p *Provider) EnvSet(envName string) bool {
	return strings.TrimSpace(p.lookup(envName)) != ""
}

// OnChange registers fn to run after every successful reload.
func (p *Provider) OnChange(fn func(Defaults)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.onChange = append(p.onChange, fn)
	p.mu.Unlock()
}

// Reload re-reads the YAML file and notifies listeners.
func (p *Provider) Reload() error {
	file, err := loadFile(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.file = file
	listeners := append([]func(Defaults){}, p.onChange...)
	p.mu.Unlock()

	defaults := p.Defaults()
	for _, fn := range listeners {
		fn(defaults)
	}
	return nil
}

func (p *Provider) env(name, fileValue, builtin string) string {
	if value := strings.TrimSpace(p.lookup(name)); value != "" {
		return value
	}
	if value := strings.TrimSpace(fileValue); value != "" {
		return value
	}
	return builtin
}

func loadFile(path string) (Defaults, error) {
	if path == "" {
		return Defaults{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults{}, nil
	}
	if err != nil {
		return Defaults{}, fmt.Errorf("read defaults file: %w", err)
	}
	var out Defaults
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Defaults{}, fmt.Errorf("parse defaults file %s: %w", path, err)
	}
	return out, nil
}
