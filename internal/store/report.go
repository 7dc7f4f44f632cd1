package store

import (
	"context"
	"database/sql"
	"sort"
)

// DailyReport groups every tested component of a run by the UTC day it was
// last tested, newest day first.
func (s *Store) DailyReport(ctx context.Context, testRunID string) ([]ReportDay, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT comp.id, comp.component_name, comp.label, c.id, c.connector_name,
			comp.status, comp.github_issues, comp.tested_at
		FROM components comp
		JOIN connectors c ON c.id = comp.connector_id
		WHERE c.test_run_id = $1 AND comp.tested_at IS NOT NULL
		ORDER BY comp.tested_at DESC, c.connector_name, comp.component_name`, testRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDay := map[string]*ReportDay{}
	for rows.Next() {
		var entry ReportEntry
		var status, issues string
		var testedAt sql.NullTime
		if err := rows.Scan(&entry.ComponentID, &entry.ComponentName, &entry.ComponentLabel,
			&entry.ConnectorID, &entry.ConnectorName, &status, &issues, &testedAt); err != nil {
			return nil, err
		}
		if !testedAt.Valid {
			continue
		}
		entry.Status = ComponentStatus(status)
		entry.IssueRefs = decodeIssueRefs(issues)
		entry.TestedAt = testedAt.Time.UTC()

		date := entry.TestedAt.Format("2006-01-02")
		day, ok := byDay[date]
		if !ok {
			day = &ReportDay{Date: date, Components: []ReportEntry{}}
			byDay[date] = day
		}
		switch entry.Status {
		case ComponentOK:
			day.OK++
		case ComponentFail:
			day.Fail++
		default:
			day.Pending++
		}
		day.Components = append(day.Components, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	days := make([]ReportDay, 0, len(byDay))
	for _, day := range byDay {
		days = append(days, *day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })
	return days, nil
}
