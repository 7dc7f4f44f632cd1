package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
	"github.com/agentworkforce/sanitycheck/internal/restclient"
)

const DefaultBaseURL = "https://hbca2f6qck.execute-api.eu-central-1.amazonaws.com/prod/modules"

const defaultComponentVersion = "1.0.0"

type Connector struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type Component struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Version     string `json:"version"`
	Private     bool   `json:"private"`
}

type versionInfo struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type componentInfo struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Version     string `json:"version"`
	Private     bool   `json:"private"`
}

// Client reads the public connector catalog.
type Client struct {
	rest   *restclient.Client
	logger *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		rest:   restclient.New("catalog", baseURL, restclient.WithHTTPClient(httpClient)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListConnectors returns the latest version of every connector, sorted by
// name.
func (c *Client) ListConnectors(ctx context.Context) ([]Connector, error) {
	var payload map[string]map[string]versionInfo
	if err := c.rest.Do(ctx, http.MethodGet, "?latest=true", nil, nil, &payload); err != nil {
		return nil, err
	}
	connectors := make([]Connector, 0, len(payload))
	for name, versions := range payload {
		if len(versions) == 0 {
			c.logger.Warn("catalog connector has no versions", "connector", name)
			continue
		}
		keys := make([]string, 0, len(versions))
		for key := range versions {
			keys = append(keys, key)
		}
		version := SelectVersion(keys)
		info := versions[version]
		connectors = append(connectors, Connector{
			Name:        name,
			Version:     version,
			Label:       defaultLabel(info.Label, name),
			Description: info.Description,
			Icon:        info.Icon,
		})
	}
	sort.Slice(connectors, func(i, j int) bool { return connectors[i].Name < connectors[j].Name })
	return connectors, nil
}

// ListComponents returns the components of one connector version. A
// connector without components answers 404, which yields an empty list.
func (c *Client) ListComponents(ctx context.Context, connector, version string) ([]Component, error) {
	path := "/" + url.PathEscape(connector) + "/components?version=" + url.QueryEscape(version)
	var payload map[string]componentInfo
	err := c.rest.Do(ctx, http.MethodGet, path, nil, nil, &payload)
	if errors.Is(err, apperr.ErrNotFound) {
		return []Component{}, nil
	}
	if err != nil {
		return nil, err
	}
	components := make([]Component, 0, len(payload))
	for name, info := range payload {
		v := info.Version
		if v == "" {
			v = defaultComponentVersion
		}
		components = append(components, Component{
			Name:        name,
			Label:       defaultLabel(info.Label, name),
			Description: info.Description,
			Icon:        info.Icon,
			Version:     v,
			Private:     info.Private,
		})
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })
	return components, nil
}

// SelectVersion picks the greatest semantic version. Keys that do not
// parse only win when none parse, by lexical order.
func SelectVersion(keys []string) string {
	var best *semver.Version
	bestKey := ""
	lexical := ""
	for _, key := range keys {
		if key > lexical {
			lexical = key
		}
		v, err := semver.NewVersion(key)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestKey = key
		}
	}
	if best != nil {
		return bestKey
	}
	return lexical
}

func defaultLabel(label, name string) string {
	if strings.TrimSpace(label) != "" {
		return label
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
