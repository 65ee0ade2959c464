// Package importer decides which downloaded files become library
// files and moves them into place.
package importer

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrNoValidVideo means a completed download contained no importable
// video file. It is permanent for the release.
var ErrNoValidVideo = errors.New("no valid video file found")

// DefaultSampleThreshold is the minimum size for a non-sample video.
const DefaultSampleThreshold = 100 * 1024 * 1024 // 100 MiB

// Rejection reasons attached to file decisions.
const (
	RejectSample    = "sample_detected"
	RejectExtension = "invalid_extension"
)

// videoExtensions is the allow-list for importable video files.
var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".m4v": true, ".webm": true, ".ts": true, ".m2ts": true, ".flv": true,
}

// subtitleExtensions are picked up alongside the main file.
var subtitleExtensions = map[string]bool{
	".srt": true, ".sub": true, ".ass": true, ".ssa": true, ".vtt": true,
}

var sampleKeywords = []string{"sample", "trailer", "preview", "teaser"}

var extraKeywords = []string{
	"extras", "bonus", "featurette", "behind the scenes", "deleted scene", "interview",
}

// FileDecision is the verdict on one file found in a download.
type FileDecision struct {
	Path            string `json:"path"`
	Size            int64  `json:"size"`
	Approved        bool   `json:"approved"`
	IsExtra         bool   `json:"isExtra"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// DecisionConfig tunes file scanning.
type DecisionConfig struct {
	SampleThresholdBytes int64
}

// ScanDecisions walks a download directory (or single file) and
// produces a decision per video file. Samples are rejected
// permanently; extras stay approved but are flagged for the Extras
// subfolder.
func ScanDecisions(root string, cfg DecisionConfig) ([]FileDecision, error) {
	threshold := cfg.SampleThresholdBytes
	if threshold <= 0 {
		threshold = DefaultSampleThreshold
	}

	var decisions []FileDecision
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !videoExtensions[ext] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		decisions = append(decisions, decideFile(path, info.Size(), threshold))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return decisions, nil
}

func decideFile(path string, size, sampleThreshold int64) FileDecision {
	d := FileDecision{Path: path, Size: size, Approved: true}

	name := keywordForm(filepath.Base(path))
	for _, kw := range sampleKeywords {
		if strings.Contains(name, kw) {
			d.Approved = false
			d.RejectionReason = RejectSample
			return d
		}
	}
	if size < sampleThreshold {
		d.Approved = false
		d.RejectionReason = RejectSample
		return d
	}

	parent := keywordForm(filepath.Base(filepath.Dir(path)))
	for _, kw := range extraKeywords {
		if strings.Contains(name, kw) || strings.Contains(parent, kw) {
			d.IsExtra = true
			break
		}
	}
	return d
}

// keywordForm lowercases and collapses release-name separators so
// keywords with spaces match dotted names.
func keywordForm(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return s
}

// GetMainFile returns the largest approved non-extra file, or
// ErrNoValidVideo when none qualifies.
func GetMainFile(decisions []FileDecision) (*FileDecision, error) {
	var main *FileDecision
	for i := range decisions {
		d := &decisions[i]
		if !d.Approved || d.IsExtra {
			continue
		}
		if main == nil || d.Size > main.Size {
			main = d
		}
	}
	if main == nil {
		return nil, ErrNoValidVideo
	}
	return main, nil
}

// GetExtras returns all approved extras.
func GetExtras(decisions []FileDecision) []FileDecision {
	var extras []FileDecision
	for _, d := range decisions {
		if d.Approved && d.IsExtra {
			extras = append(extras, d)
		}
	}
	return extras
}

// FindSubtitles returns subtitle files discovered under root.
func FindSubtitles(root string) ([]string, error) {
	var subtitles []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if subtitleExtensions[strings.ToLower(filepath.Ext(path))] {
			subtitles = append(subtitles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning subtitles in %s: %w", root, err)
	}
	return subtitles, nil
}
