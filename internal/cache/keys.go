package cache

const (
	prefixTestRun    = "test-run:"
	prefixConnectors = "connectors:"
	prefixConnector  = "connector:"
	prefixComponents = "components:"
	prefixReport     = "report:"

	KeyTestRuns = "test-runs"
)

func TestRunKey(id string) string { return prefixTestRun + id }

func ConnectorsKey(testRunID string) string { return prefixConnectors + testRunID }

func ConnectorKey(id string) string { return prefixConnector + id }

func ComponentsKey(connectorID string) string { return prefixComponents + connectorID }

func ReportKey(testRunID string) string { return prefixReport + testRunID }

// Lineage identifies the ancestors of a mutated entity. Empty fields are
// skipped, which happens when an ancestor could not be resolved.
type Lineage struct {
	TestRunID   string
	ConnectorID string
}

// Keys returns every cached view that embeds data from the lineage: the
// component list and detail of the connector, the run's connector list,
// the run detail, its report and the run list.
func (l Lineage) Keys() []string {
	keys := make([]string, 0, 6)
	if l.ConnectorID != "" {
		keys = append(keys, ComponentsKey(l.ConnectorID), ConnectorKey(l.ConnectorID))
	}
	if l.TestRunID != "" {
		keys = append(keys, ConnectorsKey(l.TestRunID), TestRunKey(l.TestRunID), ReportKey(l.TestRunID))
	}
	return append(keys, KeyTestRuns)
}

// InvalidateLineage drops all views affected by a change under l.
func (s *Store) InvalidateLineage(l Lineage) {
	s.Invalidate(l.Keys()...)
}
