// Package blocklist records releases and release groups that must not
// be grabbed again.
package blocklist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a blocklist entry does not exist.
var ErrNotFound = errors.New("blocklist entry not found")

// DefaultAutoBlockAfter is how many recorded failures deny a release
// group outright.
const DefaultAutoBlockAfter = 3

// Entry is one blocked release.
type Entry struct {
	ID           int64     `json:"id"`
	ReleaseTitle string    `json:"releaseTitle"`
	ReleaseGroup string    `json:"releaseGroup,omitempty"`
	MediaID      int64     `json:"mediaId,omitempty"`
	MediaType    string    `json:"mediaType,omitempty"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GroupFailure is the running failure count for one release group.
type GroupFailure struct {
	ReleaseGroup string    `json:"releaseGroup"`
	FailureCount int       `json:"failureCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists blocklist entries and release group failure counts.
type Store struct {
	db             *sql.DB
	autoBlockAfter int
	logger         zerolog.Logger
}

func NewStore(db *sql.DB, autoBlockAfter int, logger zerolog.Logger) *Store {
	if autoBlockAfter <= 0 {
		autoBlockAfter = DefaultAutoBlockAfter
	}
	return &Store{
		db:             db,
		autoBlockAfter: autoBlockAfter,
		logger:         logger.With().Str("component", "blocklist").Logger(),
	}
}

const entryColumns = "id, release_title, release_group, media_id, media_type, reason, created_at"

// Add records a blocked release. Duplicate titles are allowed; callers
// that care should consult IsBlocked first.
func (s *Store) Add(ctx context.Context, entry Entry) (*Entry, error) {
	entry.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO blocklist (release_title, release_group, media_id, media_type, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ReleaseTitle, nullStr(entry.ReleaseGroup), nullInt(entry.MediaID),
		nullStr(entry.MediaType), entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting blocklist entry: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	s.logger.Info().
		Str("title", entry.ReleaseTitle).
		Str("group", entry.ReleaseGroup).
		Str("reason", entry.Reason).
		Msg("Release blocklisted")
	return &entry, nil
}

// IsBlocked reports whether a release title is blocklisted, either
// exactly or through its release group. A group is blocked when it has
// an explicit entry or its failure count reached the auto-block
// threshold.
func (s *Store) IsBlocked(ctx context.Context, title, group string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocklist WHERE release_title = ?`, title).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking blocklist title: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if group == "" {
		return false, nil
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocklist WHERE release_group = ?`, group).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking blocklist group: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT failure_count FROM release_group_failures WHERE release_group = ?`, group).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking group failures: %w", err)
	}
	return count >= s.autoBlockAfter, nil
}

// RecordGroupFailure bumps the failure count for a release group and
// returns the new count. Empty groups are ignored.
func (s *Store) RecordGroupFailure(ctx context.Context, group string) (int, error) {
	if group == "" {
		return 0, nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO release_group_failures (release_group, failure_count, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT (release_group) DO UPDATE SET
			failure_count = failure_count + 1,
			updated_at = excluded.updated_at`,
		group, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("recording group failure: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT failure_count FROM release_group_failures WHERE release_group = ?`, group).Scan(&count); err != nil {
		return 0, fmt.Errorf("reading group failure count: %w", err)
	}
	if count == s.autoBlockAfter {
		s.logger.Warn().Str("group", group).Int("failures", count).
			Msg("Release group reached auto-block threshold")
	}
	return count, nil
}

// List returns blocklist entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM blocklist ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing blocklist: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Remove deletes one blocklist entry.
func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocklist WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting blocklist entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune drops entries older than retention. Run periodically by the
// scheduler; group failure counts are kept.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocklist WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning blocklist: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("removed", n).Msg("Pruned blocklist")
	}
	return n, nil
}

func scanEntry(row interface{ Scan(...interface{}) error }) (*Entry, error) {
	var e Entry
	var group, mediaType sql.NullString
	var mediaID sql.NullInt64
	if err := row.Scan(&e.ID, &e.ReleaseTitle, &group, &mediaID, &mediaType, &e.Reason, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("scanning blocklist entry: %w", err)
	}
	e.ReleaseGroup = group.String
	e.MediaID = mediaID.Int64
	e.MediaType = mediaType.String
	return &e, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
