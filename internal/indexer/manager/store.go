package manager

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/halyard/halyard/internal/indexer/types"
)

// ErrNotFound is returned when an indexer definition does not exist.
var ErrNotFound = errors.New("indexer not found")

// Store persists indexer definitions.
type Store struct {
	db *sql.DB
}

// NewStore creates an indexer definition store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const indexerColumns = `id, name, type, url, api_key, categories, priority, enabled,
	supports_movies, supports_tv, supports_search, supports_rss, created_at, updated_at`

// Create inserts a new indexer definition and returns it with its ID.
func (s *Store) Create(ctx context.Context, def *types.IndexerDefinition) (*types.IndexerDefinition, error) {
	cats, err := json.Marshal(def.Categories)
	if err != nil {
		return nil, fmt.Errorf("failed to encode categories: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO indexers (name, type, url, api_key, categories, priority, enabled,
			supports_movies, supports_tv, supports_search, supports_rss, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.Name, string(def.Type), def.URL, def.APIKey, string(cats), def.Priority,
		def.Enabled, def.SupportsMovies, def.SupportsTV, def.SupportsSearch,
		def.SupportsRSS, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert indexer: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns one indexer definition by ID.
func (s *Store) Get(ctx context.Context, id int64) (*types.IndexerDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+indexerColumns+` FROM indexers WHERE id = ?`, id)
	return scanIndexer(row)
}

// List returns all indexer definitions ordered by priority.
func (s *Store) List(ctx context.Context) ([]*types.IndexerDefinition, error) {
	return s.list(ctx, `SELECT `+indexerColumns+` FROM indexers ORDER BY priority, id`)
}

// ListEnabled returns enabled indexer definitions ordered by priority.
func (s *Store) ListEnabled(ctx context.Context) ([]*types.IndexerDefinition, error) {
	return s.list(ctx, `SELECT `+indexerColumns+` FROM indexers WHERE enabled = 1 ORDER BY priority, id`)
}

func (s *Store) list(ctx context.Context, query string) ([]*types.IndexerDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexers: %w", err)
	}
	defer rows.Close()

	var defs []*types.IndexerDefinition
	for rows.Next() {
		def, err := scanIndexer(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Update replaces the mutable fields of an indexer definition.
func (s *Store) Update(ctx context.Context, def *types.IndexerDefinition) error {
	cats, err := json.Marshal(def.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE indexers
		SET name = ?, type = ?, url = ?, api_key = ?, categories = ?, priority = ?,
			enabled = ?, supports_movies = ?, supports_tv = ?, supports_search = ?,
			supports_rss = ?, updated_at = ?
		WHERE id = ?`,
		def.Name, string(def.Type), def.URL, def.APIKey, string(cats), def.Priority,
		def.Enabled, def.SupportsMovies, def.SupportsTV, def.SupportsSearch,
		def.SupportsRSS, time.Now().UTC(), def.ID)
	if err != nil {
		return fmt.Errorf("failed to update indexer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an indexer definition.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete indexer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndexer(row rowScanner) (*types.IndexerDefinition, error) {
	var def types.IndexerDefinition
	var typeStr, cats string
	var apiKey sql.NullString

	err := row.Scan(&def.ID, &def.Name, &typeStr, &def.URL, &apiKey, &cats,
		&def.Priority, &def.Enabled, &def.SupportsMovies, &def.SupportsTV,
		&def.SupportsSearch, &def.SupportsRSS, &def.CreatedAt, &def.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan indexer: %w", err)
	}

	def.Type = types.IndexerType(typeStr)
	def.APIKey = apiKey.String
	if cats != "" {
		if err := json.Unmarshal([]byte(cats), &def.Categories); err != nil {
			return nil, fmt.Errorf("failed to decode categories: %w", err)
		}
	}
	return &def, nil
}
