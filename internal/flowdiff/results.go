package flowdiff

import (
	"encoding/json"
	"strings"
)

const (
	ResultPassed = "passed"
	ResultFailed = "failed"
)

// ResultStoreIDs returns the data stores the flow's result step writes
// failed and successful outcomes to.
func ResultStoreIDs(def map[string]any) (failedStoreID, successStoreID string) {
	for _, step := range resultSteps(def) {
		properties := nestedMap(step, "config", "properties")
		failed, _ := properties["failedStoreId"].(string)
		success, _ := properties["successStoreId"].(string)
		if failed != "" || success != "" {
			return failed, success
		}
	}
	return "", ""
}

// NormalizeResults reads a stored result value, which is either a JSON array
// or a string holding one. Anything else yields no results.
func NormalizeResults(value json.RawMessage) []map[string]any {
	var items []map[string]any
	if err := json.Unmarshal(value, &items); err == nil {
		return items
	}
	var encoded string
	if err := json.Unmarshal(value, &encoded); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(encoded)), &items); err != nil {
		return nil
	}
	return items
}

// ResultDetail is the outcome of one tested component.
type ResultDetail struct {
	ComponentID   string `json:"componentId"`
	ComponentName string `json:"componentName"`
	Success       []any  `json:"success"`
	Errors        []any  `json:"errors"`
	Status        string `json:"status"`
	Asserts       int    `json:"asserts"`
}

func toResultDetail(item map[string]any) ResultDetail {
	success, _ := item["success"].([]any)
	errs, _ := item["error"].([]any)
	if success == nil {
		success = []any{}
	}
	if errs == nil {
		errs = []any{}
	}
	id, _ := item["componentId"].(string)
	name, _ := item["componentName"].(string)
	if name == "" {
		name = "Unknown component"
	}
	detail := ResultDetail{ComponentID: id, ComponentName: name, Success: success, Errors: errs, Status: ResultPassed}
	if len(errs) > 0 {
		detail.Status = ResultFailed
		detail.Asserts = len(errs)
	}
	return detail
}

// MergeResults joins failed and successful result items per component,
// keeping first-seen order. A later item only replaces the success or error
// lists it actually carries.
func MergeResults(failed, succeeded []map[string]any) []ResultDetail {
	var order []string
	byKey := map[string]ResultDetail{}
	upsert := func(d ResultDetail) {
		key := d.ComponentID
		if key == "" {
			key = d.ComponentName
		}
		current, seen := byKey[key]
		if !seen {
			order = append(order, key)
			byKey[key] = d
			return
		}
		if len(d.Success) > 0 {
			current.Success = d.Success
		}
		if len(d.Errors) > 0 {
			current.Errors = d.Errors
			current.Status = ResultFailed
			current.Asserts = len(d.Errors)
		}
		if d.ComponentID != "" {
			current.ComponentID = d.ComponentID
		}
		current.ComponentName = d.ComponentName
		byKey[key] = current
	}
	for _, item := range failed {
		upsert(toResultDetail(item))
	}
	for _, item := range succeeded {
		upsert(toResultDetail(item))
	}
	details := make([]ResultDetail, 0, len(order))
	for _, key := range order {
		details = append(details, byKey[key])
	}
	return details
}

// ResultSummary rolls merged details up into a flow verdict.
type ResultSummary struct {
	Status        string `json:"status"`
	FailedAsserts int    `json:"failedAsserts"`
	TotalAsserts  int    `json:"totalAsserts"`
}

func Summarize(details []ResultDetail) ResultSummary {
	summary := ResultSummary{Status: ResultPassed, TotalAsserts: len(details)}
	for _, d := range details {
		if d.Status == ResultFailed {
			summary.FailedAsserts++
		}
	}
	if summary.FailedAsserts > 0 {
		summary.Status = ResultFailed
	}
	return summary
}
