package store

import (
	"context"
	"database/sql"
	"strings"
)

// UserSettings returns the stored overrides of a user keyed by setting key.
func (s *Store) UserSettings(ctx context.Context, userID string) (map[string]string, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SaveSettings upserts values for a user. Empty values delete the key so
// the process default applies again.
func (s *Store) SaveSettings(ctx context.Context, userID string, values map[string]string) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			if strings.TrimSpace(value) == "" {
				if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE user_id = $1 AND key = $2`, userID, key); err != nil {
					return err
				}
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO settings (user_id, key, value, updated_at) VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_id, key)
				DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
				userID, key, value, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteSettings(ctx context.Context, userID string, keys ...string) error {
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		values[key] = ""
	}
	return s.SaveSettings(ctx, userID, values)
}
