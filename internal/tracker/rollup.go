package tracker

import "github.com/agentworkforce/sanitycheck/internal/store"

// Rollup derives a connector status from its component statuses: fail if
// any component failed, ok if there is at least one component and all are
// ok, pending otherwise. Blocked is never derived.
func Rollup(statuses []store.ComponentStatus) store.ConnectorStatus {
	counts := store.ComponentCounts{Total: len(statuses)}
	for _, status := range statuses {
		switch status {
		case store.ComponentOK:
			counts.OK++
		case store.ComponentFail:
			counts.Fail++
		}
	}
	return RollupCounts(counts)
}

func RollupCounts(counts store.ComponentCounts) store.ConnectorStatus {
	switch {
	case counts.Fail > 0:
		return store.ConnectorFail
	case counts.Total > 0 && counts.OK == counts.Total:
		return store.ConnectorOK
	default:
		return store.ConnectorPending
	}
}
