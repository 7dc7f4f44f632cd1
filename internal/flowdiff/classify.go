package flowdiff

import (
	"regexp"
	"strings"
)

// Status is the drift classification of one flow.
type Status string

const (
	StatusMatch      Status = "match"
	StatusModified   Status = "modified"
	StatusServerOnly Status = "server_only"
	StatusError      Status = "error"
)

// Classify compares the server's definition of a flow with the repository's.
// A nil repo means the repository has no file for the flow; fetchErr reports
// that a required fetch failed.
func Classify(server, repo map[string]any, fetchErr error) Status {
	if fetchErr != nil {
		return StatusError
	}
	if repo == nil {
		return StatusServerOnly
	}
	if server == nil {
		return StatusError
	}
	serverHash, err := Hash(server)
	if err != nil {
		return StatusError
	}
	repoHash, err := Hash(repo)
	if err != nil {
		return StatusError
	}
	if serverHash == repoHash {
		return StatusMatch
	}
	return StatusModified
}

// UnknownConnector is returned when no connector can be read from a name.
const UnknownConnector = "unknown"

var connectorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)e2e[_\s-]+(\w+)`),
	regexp.MustCompile(`(?i)(\w+)[_\s-]+e2e`),
	regexp.MustCompile(`(?i)appmixer\.(\w+)`),
}

// ExtractConnector guesses the connector a flow tests from its name, e.g.
// "E2E box - Upload File" gives "box". It is a heuristic for grouping and
// display only.
func ExtractConnector(name string) string {
	for _, pattern := range connectorPatterns {
		if m := pattern.FindStringSubmatch(name); len(m) > 1 && m[1] != "" {
			return strings.ToLower(m[1])
		}
	}
	return UnknownConnector
}
