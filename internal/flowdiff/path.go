package flowdiff

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FlowPath is where a flow without a tracked file is written:
// src/appmixer/<connector>/test-flow-<slug>.json.
func FlowPath(connector, name string) string {
	dir := Slug(connector)
	if dir == "" {
		dir = UnknownConnector
	}
	file := Slug(name)
	if file == "" {
		file = "flow"
	}
	return "src/appmixer/" + dir + "/test-flow-" + file + ".json"
}

// Slug lowercases s, folds diacritics and joins the remaining letter and
// digit runs with single dashes.
func Slug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
