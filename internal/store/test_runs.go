package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
)

const testRunSelect = `
	SELECT
		tr.id, tr.name, tr.status, tr.created_at,
		(SELECT COUNT(*) FROM connectors WHERE test_run_id = tr.id) AS connector_count,
		(SELECT COUNT(*) FROM connectors WHERE test_run_id = tr.id AND status = 'ok') AS ok_count,
		(SELECT COUNT(*) FROM connectors WHERE test_run_id = tr.id AND status = 'fail') AS fail_count,
		(SELECT COUNT(*) FROM connectors WHERE test_run_id = tr.id AND status = 'blocked') AS blocked_count
	FROM test_runs tr`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTestRun(row rowScanner) (TestRun, error) {
	var run TestRun
	var status string
	if err := row.Scan(&run.ID, &run.Name, &status, &run.CreatedAt,
		&run.ConnectorCount, &run.OKCount, &run.FailCount, &run.BlockedCount); err != nil {
		return TestRun{}, err
	}
	run.Status = TestRunStatus(status)
	run.CreatedAt = run.CreatedAt.UTC()
	return run, nil
}

// ListTestRuns returns all runs newest first with connector counts.
func (s *Store) ListTestRuns(ctx context.Context) ([]TestRun, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx, testRunSelect+` ORDER BY tr.created_at DESC, tr.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := []TestRun{}
	for rows.Next() {
		run, err := scanTestRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) GetTestRun(ctx context.Context, id string) (TestRun, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return TestRun{}, err
	}
	defer cancel()

	run, err := scanTestRun(s.db.QueryRowContext(ctx, testRunSelect+` WHERE tr.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return TestRun{}, apperr.NotFound("test run", id)
	}
	return run, err
}

// CreateTestRun inserts an empty run in progress.
func (s *Store) CreateTestRun(ctx context.Context, id, name string) (TestRun, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return TestRun{}, err
	}
	defer cancel()

	run := TestRun{ID: id, Name: name, Status: TestRunInProgress, CreatedAt: s.now()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO test_runs (id, name, status, created_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Name, string(run.Status), run.CreatedAt)
	if err != nil {
		return TestRun{}, fmt.Errorf("insert test run: %w", err)
	}
	return run, nil
}

func (s *Store) UpdateTestRunStatus(ctx context.Context, id string, status TestRunStatus) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE test_runs SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "test run", id)
}

// DeleteTestRun removes the run with its connectors and components in one
// transaction.
func (s *Store) DeleteTestRun(ctx context.Context, id string) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM components WHERE connector_id IN (SELECT id FROM connectors WHERE test_run_id = $1)`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM connectors WHERE test_run_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM test_runs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return requireAffected(res, "test run", id)
	})
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(kind, id)
	}
	return nil
}
