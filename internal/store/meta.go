package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Meta keys are namespaced by purpose: "cursor:<owner>" holds the pull
// cursor, "migrated:<owner>" the one-time legacy migration flag.

// Cursor returns the per-owner pull cursor, the maximum remote
// updated_at observed so far. A zero time means no pull has happened.
func (s *Store) Cursor(ctx context.Context, owner string) (time.Time, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, "cursor:"+owner).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cursor: %w", err)
	}
	cursor, err := parseTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt cursor for owner %s: %w", owner, err)
	}
	return cursor, nil
}

// SetCursor advances the per-owner pull cursor.
func (s *Store) SetCursor(ctx context.Context, owner string, cursor time.Time) error {
	return s.setMeta(ctx, "cursor:"+owner, formatTime(cursor))
}

// MigrationDone reports whether the one-time legacy migration has run
// for this owner.
func (s *Store) MigrationDone(ctx context.Context, owner string) (bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, "migrated:"+owner).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read migration flag: %w", err)
	}
	return value == "1", nil
}

// MarkMigrationDone records that the legacy migration completed for this
// owner so it never reruns.
func (s *Store) MarkMigrationDone(ctx context.Context, owner string) error {
	return s.setMeta(ctx, "migrated:"+owner, "1")
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta key %s: %w", key, err)
	}
	return nil
}

// BackupLegacyRow preserves one raw pre-migration record.
func (s *Store) BackupLegacyRow(ctx context.Context, owner, raw string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO legacy_backup (owner, raw, imported_at) VALUES (?, ?, ?)`,
		owner, raw, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to back up legacy row: %w", err)
	}
	return nil
}
