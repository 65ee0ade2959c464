// Package history records grab and import events for display and
// troubleshooting.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Event types recorded in history.
const (
	EventGrabbed      = "grabbed"
	EventImported     = "imported"
	EventImportFailed = "import_failed"
	EventDeleted      = "deleted"
)

// Record is one history row.
type Record struct {
	ID             int64             `json:"id"`
	EventType      string            `json:"eventType"`
	MediaID        int64             `json:"mediaId,omitempty"`
	MediaType      string            `json:"mediaType,omitempty"`
	ReleaseTitle   string            `json:"releaseTitle"`
	IndexerName    string            `json:"indexerName,omitempty"`
	DownloadClient string            `json:"downloadClient,omitempty"`
	Quality        string            `json:"quality,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Store persists history rows.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "history").Logger()}
}

const historyColumns = "id, event_type, media_id, media_type, release_title, indexer_name, download_client, quality, data, created_at"

// Add appends a history record.
func (s *Store) Add(ctx context.Context, rec Record) (*Record, error) {
	rec.CreatedAt = time.Now().UTC()

	var data interface{}
	if len(rec.Data) > 0 {
		raw, err := json.Marshal(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("encoding history data: %w", err)
		}
		data = string(raw)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history (event_type, media_id, media_type, release_title, indexer_name, download_client, quality, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventType, nullInt(rec.MediaID), nullStr(rec.MediaType), rec.ReleaseTitle,
		nullStr(rec.IndexerName), nullStr(rec.DownloadClient), nullStr(rec.Quality),
		data, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting history record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return &rec, nil
}

// List returns recent history, newest first, optionally filtered by
// event type ("" for all).
func (s *Store) List(ctx context.Context, eventType string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + historyColumns + ` FROM history`
	args := []interface{}{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ForMedia returns the history of one media item, newest first.
func (s *Store) ForMedia(ctx context.Context, mediaID int64, mediaType string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM history WHERE media_id = ? AND media_type = ?
		ORDER BY created_at DESC, id DESC`,
		mediaID, mediaType)
	if err != nil {
		return nil, fmt.Errorf("listing media history: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var mediaID sql.NullInt64
		var mediaType, indexer, client, quality, data sql.NullString
		if err := rows.Scan(&rec.ID, &rec.EventType, &mediaID, &mediaType, &rec.ReleaseTitle,
			&indexer, &client, &quality, &data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history record: %w", err)
		}
		rec.MediaID = mediaID.Int64
		rec.MediaType = mediaType.String
		rec.IndexerName = indexer.String
		rec.DownloadClient = client.String
		rec.Quality = quality.String
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &rec.Data); err != nil {
				return nil, fmt.Errorf("decoding history data: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
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
