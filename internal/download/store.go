package download

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/parser"
)

// Store persists tracked downloads and their event log. Every state
// transition is validated against the FSM and written atomically with
// its event row.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a tracked download store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "download-store").Logger(),
	}
}

const downloadColumns = `id, download_client_id, external_id, request_id, media_id, media_type,
	state, previous_state, state_changed_at, title, parsed_info, size, downloaded, progress,
	speed, eta, seeders, ratio, seeding_time, download_path, import_path, quality,
	custom_format_score, import_block_reason, warnings, errors,
	grabbed_at, completed_at, imported_at, updated_at`

// Create inserts a new tracked download in the queued state and logs
// the initial event. A duplicate (client, external id) pair fails with
// ErrAlreadyExists; callers treat a duplicate grab as an update.
func (s *Store) Create(ctx context.Context, td *TrackedDownload) (*TrackedDownload, error) {
	if td.State == "" {
		td.State = StateQueued
	}
	now := time.Now().UTC()

	parsedInfo, err := marshalParsed(td.ParsedInfo)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO tracked_downloads (download_client_id, external_id, request_id, media_id,
			media_type, state, state_changed_at, title, parsed_info, size, downloaded, progress,
			speed, eta, seeders, ratio, seeding_time, download_path, quality, custom_format_score,
			warnings, errors, grabbed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', '[]', ?, ?)`,
		td.DownloadClientID, td.ExternalID, td.RequestID, td.MediaID,
		nullStr(td.MediaType), string(td.State), now, td.Title, parsedInfo,
		td.Size, td.Downloaded, td.Progress, td.Speed, td.ETA, td.Seeders,
		td.Ratio, td.SeedingTime, nullStr(td.DownloadPath), nullStr(td.Quality),
		td.CustomFormatScore, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create tracked download: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked download id: %w", err)
	}

	if err := insertEvent(ctx, tx, id, "", td.State, "grabbed", ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info().Int64("id", id).Str("title", td.Title).
		Str("externalId", td.ExternalID).Msg("Tracking download")
	return s.Get(ctx, id)
}

// Get retrieves a tracked download by ID.
func (s *Store) Get(ctx context.Context, id int64) (*TrackedDownload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM tracked_downloads WHERE id = ?`, id)
	td, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracked download: %w", err)
	}
	return td, nil
}

// GetByExternal retrieves a tracked download by its client-local ID.
func (s *Store) GetByExternal(ctx context.Context, clientID int64, externalID string) (*TrackedDownload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM tracked_downloads
		WHERE download_client_id = ? AND external_id = ?`, clientID, externalID)
	td, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracked download: %w", err)
	}
	return td, nil
}

// ListActive returns downloads the monitor still needs to poll.
func (s *Store) ListActive(ctx context.Context) ([]*TrackedDownload, error) {
	return s.list(ctx,
		`SELECT `+downloadColumns+` FROM tracked_downloads
		WHERE state IN (?, ?, ?, ?) ORDER BY id`,
		string(StateQueued), string(StateDownloading), string(StatePaused), string(StateStalled))
}

// ListPendingImport returns downloads waiting for the import pipeline.
func (s *Store) ListPendingImport(ctx context.Context) ([]*TrackedDownload, error) {
	return s.list(ctx,
		`SELECT `+downloadColumns+` FROM tracked_downloads WHERE state = ? ORDER BY id`,
		string(StateImportPending))
}

// ListImported returns imported downloads, the candidates for seeding
// threshold removal.
func (s *Store) ListImported(ctx context.Context) ([]*TrackedDownload, error) {
	return s.list(ctx,
		`SELECT `+downloadColumns+` FROM tracked_downloads WHERE state = ? ORDER BY id`,
		string(StateImported))
}

// ListReadyToRemove returns imported downloads whose seeding
// obligations are met under cfg.
func (s *Store) ListReadyToRemove(ctx context.Context, cfg SeedingConfig) ([]*TrackedDownload, error) {
	imported, err := s.ListImported(ctx)
	if err != nil {
		return nil, err
	}
	ready := imported[:0]
	for _, td := range imported {
		if CanRemoveFromClient(td, cfg) {
			ready = append(ready, td)
		}
	}
	return ready, nil
}

// List returns all tracked downloads, optionally filtered by state.
func (s *Store) List(ctx context.Context, states ...State) ([]*TrackedDownload, error) {
	if len(states) == 0 {
		return s.list(ctx, `SELECT `+downloadColumns+` FROM tracked_downloads ORDER BY id DESC`)
	}
	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return s.list(ctx,
		`SELECT `+downloadColumns+` FROM tracked_downloads
		WHERE state IN (`+strings.Join(placeholders, ", ")+`) ORDER BY id DESC`, args...)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*TrackedDownload, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*TrackedDownload
	for rows.Next() {
		td, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked download: %w", err)
		}
		downloads = append(downloads, td)
	}
	return downloads, rows.Err()
}

// UpdateProgress applies a progress snapshot without a state change.
func (s *Store) UpdateProgress(ctx context.Context, id int64, m ProgressMetrics) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tracked_downloads
		SET size = ?, downloaded = ?, progress = ?, speed = ?, eta = ?, seeders = ?,
			ratio = ?, seeding_time = ?,
			download_path = COALESCE(NULLIF(?, ''), download_path),
			updated_at = ?
		WHERE id = ?`,
		m.Size, m.Downloaded, m.Progress, m.Speed, m.ETA, m.Seeders,
		m.Ratio, m.SeedingTime, m.DownloadPath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Transition moves a download to a new state, validating against the
// FSM and writing the event row in the same transaction. Completed and
// imported timestamps are set on first entry into those states.
func (s *Store) Transition(ctx context.Context, id int64, to State, reason, details string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fromStr string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM tracked_downloads WHERE id = ?`, id).Scan(&fromStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read current state: %w", err)
	}
	from := State(fromStr)
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	sets := `state = ?, previous_state = ?, state_changed_at = ?, updated_at = ?`
	args := []interface{}{string(to), string(from), now, now}
	switch to {
	case StateCompleted:
		sets += `, completed_at = COALESCE(completed_at, ?)`
		args = append(args, now)
	case StateImported:
		sets += `, imported_at = COALESCE(imported_at, ?)`
		args = append(args, now)
	case StateImportBlocked:
		sets += `, import_block_reason = ?`
		args = append(args, reason)
	}
	args = append(args, id)

	if _, err := tx.ExecContext(ctx,
		`UPDATE tracked_downloads SET `+sets+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	if err := insertEvent(ctx, tx, id, from, to, reason, details); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	s.logger.Info().Int64("id", id).Str("from", string(from)).Str("to", string(to)).
		Str("reason", reason).Msg("Download state changed")
	return nil
}

// AppendWarning adds a warning string to the download's warning list.
func (s *Store) AppendWarning(ctx context.Context, id int64, warning string) error {
	return s.appendTo(ctx, id, "warnings", warning)
}

// AppendError adds an error string to the download's error list.
func (s *Store) AppendError(ctx context.Context, id int64, errMsg string) error {
	return s.appendTo(ctx, id, "errors", errMsg)
}

func (s *Store) appendTo(ctx context.Context, id int64, column, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT `+column+` FROM tracked_downloads WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", column, err)
	}

	var values []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return fmt.Errorf("failed to parse %s: %w", column, err)
		}
	}
	values = append(values, value)
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", column, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tracked_downloads SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	return tx.Commit()
}

// Delete removes a tracked download; its events cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tracked_downloads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tracked download: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Events returns the transition log for a download, oldest first.
func (s *Store) Events(ctx context.Context, downloadID int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, download_id, from_state, to_state, reason, details, created_at
		FROM download_events WHERE download_id = ? ORDER BY id`, downloadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e                     Event
			from, reason, details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DownloadID, &from, &e.ToState, &reason, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.FromState = State(from.String)
		e.Reason = reason.String
		e.Details = details.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, tx *sql.Tx, downloadID int64, from, to State, reason, details string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO download_events (download_id, from_state, to_state, reason, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		downloadID, nullStr(string(from)), string(to), nullStr(reason), nullStr(details), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDownload(row rowScanner) (*TrackedDownload, error) {
	var (
		td                                TrackedDownload
		stateStr                          string
		prevState, mediaType, parsedInfo  sql.NullString
		downloadPath, importPath, quality sql.NullString
		blockReason                       sql.NullString
		warnings, errorsRaw               string
		requestID, mediaID                sql.NullInt64
		completedAt, importedAt           sql.NullTime
	)
	err := row.Scan(&td.ID, &td.DownloadClientID, &td.ExternalID, &requestID, &mediaID,
		&mediaType, &stateStr, &prevState, &td.StateChangedAt, &td.Title, &parsedInfo,
		&td.Size, &td.Downloaded, &td.Progress, &td.Speed, &td.ETA, &td.Seeders,
		&td.Ratio, &td.SeedingTime, &downloadPath, &importPath, &quality,
		&td.CustomFormatScore, &blockReason, &warnings, &errorsRaw,
		&td.GrabbedAt, &completedAt, &importedAt, &td.UpdatedAt)
	if err != nil {
		return nil, err
	}

	td.State = State(stateStr)
	td.PreviousState = State(prevState.String)
	td.MediaType = mediaType.String
	td.DownloadPath = downloadPath.String
	td.ImportPath = importPath.String
	td.Quality = quality.String
	td.ImportBlockReason = blockReason.String
	if requestID.Valid {
		td.RequestID = &requestID.Int64
	}
	if mediaID.Valid {
		td.MediaID = &mediaID.Int64
	}
	if completedAt.Valid {
		t := completedAt.Time
		td.CompletedAt = &t
	}
	if importedAt.Valid {
		t := importedAt.Time
		td.ImportedAt = &t
	}
	if parsedInfo.Valid && parsedInfo.String != "" {
		var parsed parser.ParsedRelease
		if err := json.Unmarshal([]byte(parsedInfo.String), &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse parsed_info: %w", err)
		}
		td.ParsedInfo = &parsed
	}
	if err := json.Unmarshal([]byte(warnings), &td.Warnings); err != nil {
		return nil, fmt.Errorf("failed to parse warnings: %w", err)
	}
	if err := json.Unmarshal([]byte(errorsRaw), &td.Errors); err != nil {
		return nil, fmt.Errorf("failed to parse errors: %w", err)
	}
	return &td, nil
}

// SetImportPath records where the main file landed.
func (s *Store) SetImportPath(ctx context.Context, id int64, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracked_downloads SET import_path = ?, updated_at = ? WHERE id = ?`,
		path, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set import path: %w", err)
	}
	return nil
}

// UpdateBinding refreshes intent fields on a duplicate grab of the
// same (client, external id) pair.
func (s *Store) UpdateBinding(ctx context.Context, id int64, requestID, mediaID *int64, mediaType string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracked_downloads
		SET request_id = COALESCE(?, request_id),
			media_id = COALESCE(?, media_id),
			media_type = COALESCE(NULLIF(?, ''), media_type),
			updated_at = ?
		WHERE id = ?`,
		requestID, mediaID, mediaType, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update binding: %w", err)
	}
	return nil
}

func marshalParsed(p *parser.ParsedRelease) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode parsed info: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
