package store

import "time"

type TestRunStatus string

const (
	TestRunInProgress TestRunStatus = "in_progress"
	TestRunCompleted  TestRunStatus = "completed"
)

func (s TestRunStatus) Valid() bool {
	return s == TestRunInProgress || s == TestRunCompleted
}

type ConnectorStatus string

const (
	ConnectorPending ConnectorStatus = "pending"
	ConnectorOK      ConnectorStatus = "ok"
	ConnectorFail    ConnectorStatus = "fail"
	ConnectorBlocked ConnectorStatus = "blocked"
)

func (s ConnectorStatus) Valid() bool {
	switch s {
	case ConnectorPending, ConnectorOK, ConnectorFail, ConnectorBlocked:
		return true
	}
	return false
}

type ComponentStatus string

const (
	ComponentPending ComponentStatus = "pending"
	ComponentOK      ComponentStatus = "ok"
	ComponentFail    ComponentStatus = "fail"
)

func (s ComponentStatus) Valid() bool {
	return s == ComponentPending || s == ComponentOK || s == ComponentFail
}

type TestRun struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    TestRunStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`

	ConnectorCount int `json:"connectorCount"`
	OKCount        int `json:"okCount"`
	FailCount      int `json:"failCount"`
	BlockedCount   int `json:"blockedCount"`
}

type Connector struct {
	ID            string          `json:"id"`
	TestRunID     string          `json:"testRunId"`
	Name          string          `json:"connectorName"`
	Version       string          `json:"version"`
	Label         string          `json:"label"`
	Description   string          `json:"description"`
	Icon          string          `json:"icon"`
	Status        ConnectorStatus `json:"status"`
	BlockedReason *string         `json:"blockedReason"`
	Notes         *string         `json:"notes"`
	CreatedAt     time.Time       `json:"createdAt"`

	ComponentCount int `json:"componentCount"`
	OKCount        int `json:"okCount"`
	FailCount      int `json:"failCount"`
}

type Component struct {
	ID          string          `json:"id"`
	ConnectorID string          `json:"connectorId"`
	Name        string          `json:"componentName"`
	Label       string          `json:"label"`
	Description string          `json:"description"`
	Icon        string          `json:"icon"`
	Version     string          `json:"version"`
	IsPrivate   bool            `json:"isPrivate"`
	Status      ComponentStatus `json:"status"`
	IssueRefs   []string        `json:"githubIssues"`
	TestedAt    *time.Time      `json:"testedAt"`
}

// ComponentCounts is the aggregate the connector rollup is derived from.
type ComponentCounts struct {
	Total int
	OK    int
	Fail  int
}

// ReportEntry is one tested component as shown in the daily report.
type ReportEntry struct {
	ComponentID    string          `json:"componentId"`
	ComponentName  string          `json:"componentName"`
	ComponentLabel string          `json:"componentLabel"`
	ConnectorID    string          `json:"connectorId"`
	ConnectorName  string          `json:"connectorName"`
	Status         ComponentStatus `json:"status"`
	IssueRefs      []string        `json:"githubIssues"`
	TestedAt       time.Time       `json:"testedAt"`
}

type ReportDay struct {
	Date       string        `json:"date"`
	OK         int           `json:"ok"`
	Fail       int           `json:"fail"`
	Pending    int           `json:"pending"`
	Components []ReportEntry `json:"components"`
}

type Setting struct {
	UserID    string    `json:"-"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}
