package flowdiff

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
)

// ResultStepType is the step that records E2E outcomes into data stores.
const ResultStepType = "appmixer.utils.test.ProcessE2EResults"

// HashIndent is the indentation flow files are written and hashed with.
const HashIndent = "    "

// serverFields are assigned by the execution server and carry no authoring
// intent.
var serverFields = []string{
	"flowId",
	"btime",
	"mtime",
	"userId",
	"runtimeErrors",
	"customFields",
	"stage",
	"description",
}

var resultStoreFields = []string{"failedStoreId", "successStoreId"}

// Parse decodes a flow definition keeping numbers as json.Number.
func Parse(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var def map[string]any
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode flow definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("decode flow definition: not an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode flow definition: trailing data")
	}
	return def, nil
}

// Canonicalize returns a deep copy of def without server-assigned fields and
// without the store identifiers of result-processing steps. The input is not
// modified and Canonicalize(Canonicalize(x)) equals Canonicalize(x).
func Canonicalize(def map[string]any) map[string]any {
	out, _ := deepCopy(def).(map[string]any)
	if out == nil {
		return map[string]any{}
	}
	for _, field := range serverFields {
		delete(out, field)
	}
	for _, step := range resultSteps(out) {
		properties := nestedMap(step, "config", "properties")
		for _, field := range resultStoreFields {
			delete(properties, field)
		}
	}
	return out
}

// Serialize renders def with sorted keys, the given indentation and no HTML
// escaping. Numbers decoded by Parse keep their original text.
func Serialize(def any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(def); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash is the hex sha256 of the canonical form of def.
func Hash(def map[string]any) (string, error) {
	body, err := Serialize(Canonicalize(def), HashIndent)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// resultSteps returns the result-processing steps of the flow in key order.
func resultSteps(def map[string]any) []map[string]any {
	flow, ok := def["flow"].(map[string]any)
	if !ok {
		return nil
	}
	var steps []map[string]any
	for _, key := range slices.Sorted(maps.Keys(flow)) {
		step, ok := flow[key].(map[string]any)
		if ok && step["type"] == ResultStepType {
			steps = append(steps, step)
		}
	}
	return steps
}

func nestedMap(m map[string]any, path ...string) map[string]any {
	current := m
	for _, key := range path {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = deepCopy(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = deepCopy(elem)
		}
		return out
	default:
		return val
	}
}
