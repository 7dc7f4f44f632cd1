package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
)

const connectorSelect = `
	SELECT
		c.id, c.test_run_id, c.connector_name, c.version, c.label, c.description, c.icon,
		c.status, c.blocked_reason, c.notes, c.created_at,
		(SELECT COUNT(*) FROM components WHERE connector_id = c.id) AS component_count,
		(SELECT COUNT(*) FROM components WHERE connector_id = c.id AND status = 'ok') AS ok_count,
		(SELECT COUNT(*) FROM components WHERE connector_id = c.id AND status = 'fail') AS fail_count
	FROM connectors c`

func scanConnector(row rowScanner) (Connector, error) {
	var c Connector
	var status string
	var reason, notes sql.NullString
	if err := row.Scan(&c.ID, &c.TestRunID, &c.Name, &c.Version, &c.Label, &c.Description, &c.Icon,
		&status, &reason, &notes, &c.CreatedAt,
		&c.ComponentCount, &c.OKCount, &c.FailCount); err != nil {
		return Connector{}, err
	}
	c.Status = ConnectorStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	if reason.Valid {
		c.BlockedReason = &reason.String
	}
	if notes.Valid {
		c.Notes = &notes.String
	}
	return c, nil
}

// AddConnector inserts a connector and its components atomically.
func (s *Store) AddConnector(ctx context.Context, c Connector, components []Component) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if c.Status == "" {
		c.Status = ConnectorPending
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO connectors (id, test_run_id, connector_name, version, label, description, icon, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.TestRunID, c.Name, c.Version, c.Label, c.Description, c.Icon, string(c.Status), s.now())
		if err != nil {
			return fmt.Errorf("insert connector %s: %w", c.Name, err)
		}
		for _, comp := range components {
			if comp.Status == "" {
				comp.Status = ComponentPending
			}
			issues, err := encodeIssueRefs(comp.IssueRefs)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO components (id, connector_id, component_name, label, description, icon, version, is_private, status, github_issues)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				comp.ID, c.ID, comp.Name, comp.Label, comp.Description, comp.Icon, comp.Version, comp.IsPrivate, string(comp.Status), issues)
			if err != nil {
				return fmt.Errorf("insert component %s: %w", comp.Name, err)
			}
		}
		return nil
	})
}

func (s *Store) ListConnectors(ctx context.Context, testRunID string) ([]Connector, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx, connectorSelect+` WHERE c.test_run_id = $1 ORDER BY c.connector_name`, testRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Connector{}
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetConnector(ctx context.Context, id string) (Connector, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return Connector{}, err
	}
	defer cancel()

	c, err := scanConnector(s.db.QueryRowContext(ctx, connectorSelect+` WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Connector{}, apperr.NotFound("connector", id)
	}
	return c, err
}

// SetConnectorStatus writes a manual transition. reason is stored as given;
// callers clear it for any status other than blocked.
func (s *Store) SetConnectorStatus(ctx context.Context, id string, status ConnectorStatus, reason string) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE connectors SET status = $1, blocked_reason = $2 WHERE id = $3`,
		string(status), nullIfEmpty(reason), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "connector", id)
}

func (s *Store) SetConnectorNotes(ctx context.Context, id, notes string) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE connectors SET notes = $1 WHERE id = $2`, nullIfEmpty(notes), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "connector", id)
}

// ApplyDerivedStatus stores a rolled-up status unless the connector is
// blocked. It reports whether a row changed.
func (s *Store) ApplyDerivedStatus(ctx context.Context, id string, status ConnectorStatus) (bool, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE connectors SET status = $1 WHERE id = $2 AND status <> 'blocked'`,
		string(status), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ComponentCounts aggregates the component statuses of a connector.
func (s *Store) ComponentCounts(ctx context.Context, connectorID string) (ComponentCounts, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return ComponentCounts{}, err
	}
	defer cancel()

	var counts ComponentCounts
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'fail' THEN 1 ELSE 0 END), 0)
		FROM components
		WHERE connector_id = $1`, connectorID).Scan(&counts.Total, &counts.OK, &counts.Fail)
	return counts, err
}

func encodeIssueRefs(refs []string) (string, error) {
	if len(refs) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeIssueRefs(raw string) []string {
	refs := []string{}
	if raw == "" {
		return refs
	}
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return []string{}
	}
	return refs
}
