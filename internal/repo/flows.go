package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentworkforce/sanitycheck/internal/batch"
)

const (
	flowRoot = "src/appmixer/"

	// IndexLimit bounds concurrent file reads while indexing flows.
	IndexLimit = 10
)

// FlowFile is a test-flow file tracked in the repository.
type FlowFile struct {
	Path      string          `json:"path"`
	SHA       string          `json:"sha"`
	Connector string          `json:"connector"`
	URL       string          `json:"url"`
	Name      string          `json:"name,omitempty"`
	Content   json.RawMessage `json:"-"`
}

// IsFlowFile reports whether path holds a test flow:
// src/appmixer/<connector>/.../*test-flow*.json.
func IsFlowFile(path string) bool {
	return strings.HasPrefix(path, flowRoot) &&
		strings.Contains(path, "test-flow") &&
		strings.HasSuffix(path, ".json")
}

// FlowFiles lists the test-flow files of the configured branch.
func (s *Session) FlowFiles(ctx context.Context) ([]FlowFile, error) {
	tree, err := s.Tree(ctx)
	if err != nil {
		return nil, err
	}
	var files []FlowFile
	for _, entry := range tree {
		if entry.Type != "blob" || !IsFlowFile(entry.Path) {
			continue
		}
		connector := "unknown"
		if parts := strings.Split(entry.Path, "/"); len(parts) > 3 && parts[2] != "" {
			connector = parts[2]
		}
		files = append(files, FlowFile{
			Path:      entry.Path,
			SHA:       entry.SHA,
			Connector: connector,
			URL:       s.BlobURL(entry.Path),
		})
	}
	return files, nil
}

// FlowIndex reads every test-flow file and indexes it by the flow name it
// declares. Unreadable or nameless files are logged and left out; the first
// file declaring a name wins.
func (s *Session) FlowIndex(ctx context.Context) (map[string]FlowFile, error) {
	files, err := s.FlowFiles(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := batch.Run(ctx, files, func(ctx context.Context, f FlowFile) (FlowFile, error) {
		file, err := s.GetFile(ctx, f.Path, "")
		if err != nil {
			return FlowFile{}, err
		}
		var head struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(file.Content, &head); err != nil {
			return FlowFile{}, fmt.Errorf("parse %s: %w", f.Path, err)
		}
		f.Name = head.Name
		f.Content = json.RawMessage(file.Content)
		return f, nil
	}, batch.Options[FlowFile]{
		Limit:  IndexLimit,
		Name:   "flow-index",
		Logger: s.client.logger,
		Label:  func(f FlowFile) string { return f.Path },
	})
	if err != nil {
		return nil, err
	}
	index := make(map[string]FlowFile, len(outcomes))
	for _, out := range outcomes {
		if out.Err != nil || out.Value.Name == "" {
			continue
		}
		if _, seen := index[out.Value.Name]; seen {
			s.client.logger.Warn("duplicate flow name in repository", "name", out.Value.Name, "path", out.Value.Path)
			continue
		}
		index[out.Value.Name] = out.Value
	}
	return index, nil
}
