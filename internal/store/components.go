package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
)

const componentSelect = `
	SELECT id, connector_id, component_name, label, description, icon, version, is_private,
		status, github_issues, tested_at
	FROM components`

func scanComponent(row rowScanner) (Component, error) {
	var c Component
	var status, issues string
	var testedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.ConnectorID, &c.Name, &c.Label, &c.Description, &c.Icon, &c.Version, &c.IsPrivate,
		&status, &issues, &testedAt); err != nil {
		return Component{}, err
	}
	c.Status = ComponentStatus(status)
	c.IssueRefs = decodeIssueRefs(issues)
	if testedAt.Valid {
		t := testedAt.Time.UTC()
		c.TestedAt = &t
	}
	return c, nil
}

func (s *Store) ListComponents(ctx context.Context, connectorID string) ([]Component, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx, componentSelect+` WHERE connector_id = $1 ORDER BY component_name`, connectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Component{}
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetComponent(ctx context.Context, id string) (Component, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return Component{}, err
	}
	defer cancel()

	c, err := scanComponent(s.db.QueryRowContext(ctx, componentSelect+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Component{}, apperr.NotFound("component", id)
	}
	return c, err
}

// SetComponentStatus stores status, issue references and the test time.
func (s *Store) SetComponentStatus(ctx context.Context, id string, status ComponentStatus, issueRefs []string, testedAt time.Time) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	issues, err := encodeIssueRefs(issueRefs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE components SET status = $1, github_issues = $2, tested_at = $3 WHERE id = $4`,
		string(status), issues, testedAt.UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "component", id)
}

// ComponentLineage resolves the connector and run a component belongs to.
func (s *Store) ComponentLineage(ctx context.Context, componentID string) (connectorID, testRunID string, err error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return "", "", err
	}
	defer cancel()

	err = s.db.QueryRowContext(ctx, `
		SELECT c.id, c.test_run_id
		FROM components comp
		JOIN connectors c ON c.id = comp.connector_id
		WHERE comp.id = $1`, componentID).Scan(&connectorID, &testRunID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", apperr.NotFound("component", componentID)
	}
	return connectorID, testRunID, err
}
