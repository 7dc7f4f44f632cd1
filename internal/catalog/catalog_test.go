package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectVersion(t *testing.T) {
	cases := []struct {
		name string
		keys []string
		want string
	}{
		{"semver beats lexical", []string{"1.9.0", "1.10.0", "1.2.3"}, "1.10.0"},
		{"single", []string{"2.0.0"}, "2.0.0"},
		{"prerelease loses", []string{"2.0.0-beta.1", "1.9.9", "2.0.0"}, "2.0.0"},
		{"non semver ignored when any parse", []string{"latest", "1.0.0"}, "1.0.0"},
		{"lexical fallback", []string{"beta", "alpha"}, "beta"},
		{"empty", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SelectVersion(tc.keys))
		})
	}
}

func TestListConnectorsAppliesDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("latest"))
		_, _ = w.Write([]byte(`{
			"appmixer.slack": {"1.2.0": {"label": "Slack", "icon": "i"}, "1.10.0": {"label": "Slack New"}},
			"appmixer.asana": {"3.0.0": {"description": "Tasks"}},
			"appmixer.empty": {}
		}`))
	}))
	defer server.Close()

	connectors, err := NewClient(server.URL, server.Client()).ListConnectors(context.Background())
	require.NoError(t, err)
	require.Len(t, connectors, 2)
	assert.Equal(t, Connector{Name: "appmixer.asana", Version: "3.0.0", Label: "asana", Description: "Tasks"}, connectors[0])
	assert.Equal(t, "1.10.0", connectors[1].Version)
	assert.Equal(t, "Slack New", connectors[1].Label)
}

func TestListComponentsDefaultsAndNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/appmixer.slack/components":
			assert.Equal(t, "1.2.0", r.URL.Query().Get("version"))
			_, _ = w.Write([]byte(`{
				"appmixer.slack.messages.SendMessage": {"label": "Send", "private": true, "version": "1.2.0"},
				"appmixer.slack.list.ListChannels": {}
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	client := NewClient(server.URL, server.Client())

	components, err := client.ListComponents(context.Background(), "appmixer.slack", "1.2.0")
	require.NoError(t, err)
	require.Len(t, components, 2)
	assert.Equal(t, Component{Name: "appmixer.slack.list.ListChannels", Label: "ListChannels", Version: "1.0.0"}, components[0])
	assert.True(t, components[1].Private)
	assert.Equal(t, "Send", components[1].Label)

	empty, err := client.ListComponents(context.Background(), "appmixer.none", "1.0.0")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
