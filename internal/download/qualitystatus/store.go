// Package qualitystatus records the best imported quality per media
// item. Rows are written only after a successful import and are read
// by the upgrade checker.
package qualitystatus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/parser"
	"github.com/halyard/halyard/internal/quality"
)

var ErrNotFound = errors.New("quality status not found")

// Status is the recorded quality of a media item's current file.
type Status struct {
	ID          int64             `json:"id"`
	MediaID     int64             `json:"mediaId"`
	MediaType   string            `json:"mediaType"`
	Tier        quality.Tier      `json:"tier"`
	Resolution  parser.Resolution `json:"resolution"`
	Source      parser.Source     `json:"source"`
	HDR         parser.HDR        `json:"hdr"`
	AudioFormat string            `json:"audioFormat"`
	IsProper    bool              `json:"isProper"`
	IsRepack    bool              `json:"isRepack"`
	TargetMet   bool              `json:"targetMet"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Store persists media quality status keyed on (media_id, media_type).
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a quality status store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "quality-status").Logger(),
	}
}

// Get returns the recorded status for a media item.
func (s *Store) Get(ctx context.Context, mediaID int64, mediaType string) (*Status, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, media_id, media_type, tier, resolution, source, hdr, audio_format,
			is_proper, is_repack, target_met, updated_at
		FROM media_quality_status WHERE media_id = ? AND media_type = ?`,
		mediaID, mediaType)

	var (
		st                            Status
		tier, resolution, source, hdr string
		isProper, isRepack, targetMet int
	)
	err := row.Scan(&st.ID, &st.MediaID, &st.MediaType, &tier, &resolution, &source, &hdr,
		&st.AudioFormat, &isProper, &isRepack, &targetMet, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quality status: %w", err)
	}
	st.Tier = quality.ParseTier(tier)
	st.Resolution = parser.ParseResolution(resolution)
	st.Source = parser.ParseSource(source)
	st.HDR = parser.ParseHDR(hdr)
	st.IsProper = isProper == 1
	st.IsRepack = isRepack == 1
	st.TargetMet = targetMet == 1
	return &st, nil
}

// Record upserts the status for a media item from a parsed release.
// target_met reflects whether the tier reaches the profile cutoff.
func (s *Store) Record(ctx context.Context, mediaID int64, mediaType string, parsed parser.ParsedRelease, profile *quality.Profile) error {
	tier := quality.TierFor(parsed)
	targetMet := tier >= profile.CutoffTier

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_quality_status (media_id, media_type, tier, resolution, source, hdr,
			audio_format, is_proper, is_repack, target_met, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (media_id, media_type) DO UPDATE SET
			tier = excluded.tier,
			resolution = excluded.resolution,
			source = excluded.source,
			hdr = excluded.hdr,
			audio_format = excluded.audio_format,
			is_proper = excluded.is_proper,
			is_repack = excluded.is_repack,
			target_met = excluded.target_met,
			updated_at = excluded.updated_at`,
		mediaID, mediaType, tier.String(), parsed.Resolution.String(), parsed.Source.String(),
		parsed.HDR.String(), parsed.AudioFormat, boolToInt(parsed.IsProper),
		boolToInt(parsed.IsRepack), boolToInt(targetMet), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record quality status: %w", err)
	}

	s.logger.Info().Int64("mediaId", mediaID).Str("mediaType", mediaType).
		Str("tier", tier.String()).Bool("targetMet", targetMet).
		Msg("Recorded media quality")
	return nil
}

// Delete removes the status row, used when media is removed.
func (s *Store) Delete(ctx context.Context, mediaID int64, mediaType string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM media_quality_status WHERE media_id = ? AND media_type = ?`,
		mediaID, mediaType)
	if err != nil {
		return fmt.Errorf("failed to delete quality status: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
