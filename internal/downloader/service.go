// Package downloader manages download client configurations and
// builds protocol clients from them.
package downloader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/crypto"
	"github.com/halyard/halyard/internal/downloader/nzbget"
	"github.com/halyard/halyard/internal/downloader/qbittorrent"
	"github.com/halyard/halyard/internal/downloader/sabnzbd"
	"github.com/halyard/halyard/internal/downloader/transmission"
	"github.com/halyard/halyard/internal/downloader/types"
)

var (
	ErrClientNotFound    = errors.New("download client not found")
	ErrInvalidClient     = errors.New("invalid download client")
	ErrUnsupportedClient = errors.New("unsupported client type")
)

// DownloadClient is a stored download client configuration.
type DownloadClient struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	Type      types.ClientType `json:"type"`
	Kind      types.Kind       `json:"kind"`
	URL       string           `json:"url"`
	Username  string           `json:"username,omitempty"`
	Password  string           `json:"password,omitempty"`
	APIKey    string           `json:"apiKey,omitempty"`
	Category  string           `json:"category,omitempty"`
	Priority  int              `json:"priority"`
	Enabled   bool             `json:"enabled"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// TestResult reports the outcome of a connection test.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Service provides download client CRUD and client construction.
// Passwords and API keys are encrypted at rest when a secret store is
// configured.
type Service struct {
	db      *sql.DB
	secrets *crypto.SecretStore
	logger  zerolog.Logger

	// buildClient is swapped in tests to avoid real network clients.
	buildClient func(cfg types.ClientConfig) (types.Client, error)
}

// NewService creates a download client service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	s := &Service{
		db:     db,
		logger: logger.With().Str("component", "downloader").Logger(),
	}
	s.buildClient = s.newClient
	return s
}

// SetSecretStore enables credential encryption for stored clients.
func (s *Service) SetSecretStore(secrets *crypto.SecretStore) {
	s.secrets = secrets
}

// SetClientFactory replaces protocol client construction. Used by
// tests to substitute in-memory clients.
func (s *Service) SetClientFactory(build func(cfg types.ClientConfig) (types.Client, error)) {
	s.buildClient = build
}

// newClient constructs a protocol client for a configuration.
func (s *Service) newClient(cfg types.ClientConfig) (types.Client, error) {
	switch cfg.Type {
	case types.ClientTypeQBittorrent:
		return qbittorrent.New(cfg, s.logger)
	case types.ClientTypeTransmission:
		return transmission.New(cfg, s.logger)
	case types.ClientTypeSABnzbd:
		return sabnzbd.New(cfg, s.logger)
	case types.ClientTypeNZBGet:
		return nzbget.New(cfg, s.logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedClient, cfg.Type)
	}
}

// Client builds a protocol client for a stored configuration.
func (s *Service) Client(ctx context.Context, id int64) (types.Client, error) {
	dc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildClient(s.configFor(dc))
}

// ClientFor builds a protocol client directly from a stored row.
func (s *Service) ClientFor(dc *DownloadClient) (types.Client, error) {
	return s.buildClient(s.configFor(dc))
}

func (s *Service) configFor(dc *DownloadClient) types.ClientConfig {
	return types.ClientConfig{
		Name:     dc.Name,
		Type:     dc.Type,
		URL:      dc.URL,
		Username: dc.Username,
		Password: dc.Password,
		APIKey:   dc.APIKey,
		Category: dc.Category,
	}
}

const clientColumns = `id, name, type, kind, url, username, password, api_key, category,
	priority, enabled, created_at, updated_at`

// Get retrieves a download client by ID.
func (s *Service) Get(ctx context.Context, id int64) (*DownloadClient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM download_clients WHERE id = ?`, id)
	dc, err := s.scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get download client: %w", err)
	}
	return dc, nil
}

// List returns all download clients ordered by priority.
func (s *Service) List(ctx context.Context) ([]*DownloadClient, error) {
	return s.list(ctx, `SELECT `+clientColumns+` FROM download_clients ORDER BY priority, id`)
}

// ListEnabled returns enabled download clients ordered by priority.
func (s *Service) ListEnabled(ctx context.Context) ([]*DownloadClient, error) {
	return s.list(ctx, `SELECT `+clientColumns+` FROM download_clients WHERE enabled = 1 ORDER BY priority, id`)
}

// ListEnabledByKind returns enabled clients for one protocol kind,
// ordered by priority. The acquisition service uses the first match.
func (s *Service) ListEnabledByKind(ctx context.Context, kind types.Kind) ([]*DownloadClient, error) {
	return s.list(ctx,
		`SELECT `+clientColumns+` FROM download_clients WHERE enabled = 1 AND kind = ? ORDER BY priority, id`,
		string(kind))
}

func (s *Service) list(ctx context.Context, query string, args ...interface{}) ([]*DownloadClient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list download clients: %w", err)
	}
	defer rows.Close()

	var clients []*DownloadClient
	for rows.Next() {
		dc, err := s.scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download client: %w", err)
		}
		clients = append(clients, dc)
	}
	return clients, rows.Err()
}

// Create stores a new download client. Kind is derived from the type.
func (s *Service) Create(ctx context.Context, dc *DownloadClient) (*DownloadClient, error) {
	if dc.Name == "" || dc.URL == "" {
		return nil, ErrInvalidClient
	}
	kind := types.KindForType(dc.Type)
	if kind == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedClient, dc.Type)
	}
	if dc.Priority == 0 {
		dc.Priority = 25
	}

	password, err := s.encrypt(dc.Password)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.encrypt(dc.APIKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO download_clients (name, type, kind, url, username, password, api_key,
			category, priority, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dc.Name, string(dc.Type), string(kind), dc.URL,
		nullString(dc.Username), nullString(password), nullString(apiKey),
		nullString(dc.Category), dc.Priority, boolToInt(dc.Enabled), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create download client: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get download client id: %w", err)
	}

	s.logger.Info().Int64("id", id).Str("name", dc.Name).Str("type", string(dc.Type)).
		Msg("Created download client")
	return s.Get(ctx, id)
}

// Update rewrites a stored download client.
func (s *Service) Update(ctx context.Context, dc *DownloadClient) (*DownloadClient, error) {
	if dc.Name == "" || dc.URL == "" {
		return nil, ErrInvalidClient
	}
	kind := types.KindForType(dc.Type)
	if kind == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedClient, dc.Type)
	}

	password, err := s.encrypt(dc.Password)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.encrypt(dc.APIKey)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE download_clients
		SET name = ?, type = ?, kind = ?, url = ?, username = ?, password = ?, api_key = ?,
			category = ?, priority = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		dc.Name, string(dc.Type), string(kind), dc.URL,
		nullString(dc.Username), nullString(password), nullString(apiKey),
		nullString(dc.Category), dc.Priority, boolToInt(dc.Enabled), time.Now().UTC(), dc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update download client: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return nil, ErrClientNotFound
	}

	s.logger.Info().Int64("id", dc.ID).Str("name", dc.Name).Msg("Updated download client")
	return s.Get(ctx, dc.ID)
}

// Delete removes a stored download client.
func (s *Service) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM download_clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete download client: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrClientNotFound
	}
	s.logger.Info().Int64("id", id).Msg("Deleted download client")
	return nil
}

// Test verifies connectivity for a stored client.
func (s *Service) Test(ctx context.Context, id int64) (*TestResult, error) {
	dc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.TestConfig(ctx, s.configFor(dc)), nil
}

// TestConfig verifies connectivity for an unsaved configuration.
func (s *Service) TestConfig(ctx context.Context, cfg types.ClientConfig) *TestResult {
	client, err := s.buildClient(cfg)
	if err != nil {
		return &TestResult{Message: fmt.Sprintf("Failed to create client: %s", err)}
	}
	if err := client.Test(ctx); err != nil {
		return &TestResult{Message: fmt.Sprintf("Connection failed: %s", err)}
	}
	return &TestResult{Success: true, Message: fmt.Sprintf("Successfully connected to %s", cfg.Type)}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Service) scanClient(row rowScanner) (*DownloadClient, error) {
	var (
		dc                                   DownloadClient
		clientType, kind                     string
		username, password, apiKey, category sql.NullString
		enabled                              int
	)
	err := row.Scan(&dc.ID, &dc.Name, &clientType, &kind, &dc.URL,
		&username, &password, &apiKey, &category,
		&dc.Priority, &enabled, &dc.CreatedAt, &dc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	dc.Type = types.ClientType(clientType)
	dc.Kind = types.Kind(kind)
	dc.Username = username.String
	dc.Category = category.String
	dc.Enabled = enabled == 1

	if dc.Password, err = s.decrypt(password.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt client password: %w", err)
	}
	if dc.APIKey, err = s.decrypt(apiKey.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt client api key: %w", err)
	}
	return &dc, nil
}

func (s *Service) encrypt(value string) (string, error) {
	if s.secrets == nil || value == "" {
		return value, nil
	}
	return s.secrets.Encrypt(value)
}

func (s *Service) decrypt(value string) (string, error) {
	if s.secrets == nil || !crypto.IsEncrypted(value) {
		return value, nil
	}
	return s.secrets.Decrypt(value)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
