package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/download/qualitystatus"
	"github.com/halyard/halyard/internal/parser"
	"github.com/halyard/halyard/internal/quality"
)

// Upgrade reasons.
const (
	UpgradeHigherTier  = "higher_tier"
	UpgradeProper      = "proper"
	UpgradeRepack      = "repack"
	UpgradeBetterAudio = "better_audio"
)

// UpgradeDecision is the outcome of comparing a new release against
// the recorded quality of the current file.
type UpgradeDecision struct {
	Upgrade bool   `json:"upgrade"`
	Reason  string `json:"reason,omitempty"`
}

// ShouldUpgrade compares recorded quality against a new parsed
// release. A higher tier always upgrades; within the same tier a
// better source (remux over encode), a proper, a repack, or better
// audio does.
func ShouldUpgrade(existing *qualitystatus.Status, parsed parser.ParsedRelease) UpgradeDecision {
	if existing == nil {
		return UpgradeDecision{Upgrade: true, Reason: UpgradeHigherTier}
	}

	newTier := quality.TierFor(parsed)
	switch {
	case newTier > existing.Tier:
		return UpgradeDecision{Upgrade: true, Reason: UpgradeHigherTier}
	case newTier < existing.Tier:
		return UpgradeDecision{}
	}

	if quality.SourceRank(parsed.Source) > quality.SourceRank(existing.Source) {
		return UpgradeDecision{Upgrade: true, Reason: UpgradeHigherTier}
	}
	if parsed.IsProper && !existing.IsProper {
		return UpgradeDecision{Upgrade: true, Reason: UpgradeProper}
	}
	if parsed.IsRepack && !existing.IsRepack {
		return UpgradeDecision{Upgrade: true, Reason: UpgradeRepack}
	}
	if quality.AudioRank(parsed.AudioFormat) > quality.AudioRank(existing.AudioFormat) {
		return UpgradeDecision{Upgrade: true, Reason: UpgradeBetterAudio}
	}
	return UpgradeDecision{}
}

// recycleTimestampLayout names recycled files by local move time.
const recycleTimestampLayout = "2006-01-02_15-04-05"

// OldFileConfig controls what happens to replaced files.
type OldFileConfig struct {
	KeepOldFiles   bool
	RecycleBinPath string
}

// HandleOldFile disposes of a replaced file after a successful
// upgrade: keep it, move it to the recycle bin, or delete it.
func HandleOldFile(path string, cfg OldFileConfig, logger zerolog.Logger) error {
	if cfg.KeepOldFiles {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return dispose(path, filepath.Base(path), cfg, logger)
}

// replacedSuffix tags an old file set aside during replacement.
const replacedSuffix = ".replaced~"

// ReplaceFile swaps the file at dst for src. The old file is set
// aside before the move so a failed move leaves the library intact,
// and only disposed of once src is in place.
func ReplaceFile(src, dst string, cfg OldFileConfig, logger zerolog.Logger) error {
	aside := dst + replacedSuffix
	if err := os.Rename(dst, aside); err != nil {
		return fmt.Errorf("setting aside %s: %w", dst, err)
	}
	if err := MoveFile(src, dst); err != nil {
		if restoreErr := os.Rename(aside, dst); restoreErr != nil {
			logger.Error().Err(restoreErr).Str("path", dst).Msg("Failed to restore replaced file")
		}
		return fmt.Errorf("moving replacement into place: %w", err)
	}

	if cfg.KeepOldFiles {
		kept := dst + ".old"
		if err := os.Rename(aside, kept); err != nil {
			return fmt.Errorf("keeping replaced file: %w", err)
		}
		logger.Info().Str("path", kept).Msg("Kept replaced file")
		return nil
	}
	return dispose(aside, filepath.Base(dst), cfg, logger)
}

// dispose recycles or deletes path. displayName is the name recorded
// in the recycle bin, stripped of any set-aside suffix.
func dispose(path, displayName string, cfg OldFileConfig, logger zerolog.Logger) error {
	if cfg.RecycleBinPath != "" {
		if err := os.MkdirAll(cfg.RecycleBinPath, 0o755); err != nil {
			return fmt.Errorf("creating recycle bin: %w", err)
		}
		dest := filepath.Join(cfg.RecycleBinPath,
			time.Now().Format(recycleTimestampLayout)+"_"+displayName)
		if err := MoveFile(path, dest); err != nil {
			return fmt.Errorf("recycling %s: %w", path, err)
		}
		logger.Info().Str("path", path).Str("recycled", dest).Msg("Recycled replaced file")
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("Deleted replaced file")
	return nil
}

// CleanRecycleBin removes recycle bin entries older than maxAge by
// modification time. Run periodically by the scheduler.
func CleanRecycleBin(binPath string, maxAge time.Duration, logger zerolog.Logger) error {
	if binPath == "" {
		return nil
	}
	entries, err := os.ReadDir(binPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading recycle bin: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		full := filepath.Join(binPath, entry.Name())
		if err := os.RemoveAll(full); err != nil {
			logger.Warn().Err(err).Str("path", full).Msg("Failed to remove recycled file")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("Cleaned recycle bin")
	}
	return nil
}
