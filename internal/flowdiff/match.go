package flowdiff

import "strings"

// MatchRecord finds the record whose key names the flow. Rules are tried in
// order and the first that matches wins: exact key, case-insensitive trimmed
// key, then either string containing the other.
func MatchRecord[R any](records []R, key func(R) string, name string) (R, bool) {
	for _, r := range records {
		if key(r) == name {
			return r, true
		}
	}
	wanted := strings.ToLower(strings.TrimSpace(name))
	for _, r := range records {
		if strings.ToLower(strings.TrimSpace(key(r))) == wanted {
			return r, true
		}
	}
	if wanted != "" {
		for _, r := range records {
			candidate := strings.ToLower(strings.TrimSpace(key(r)))
			if candidate == "" {
				continue
			}
			if strings.Contains(candidate, wanted) || strings.Contains(wanted, candidate) {
				return r, true
			}
		}
	}
	var zero R
	return zero, false
}
