package importer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeFile creates a file of the given size filled with zeroes.
func writeFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			t.Fatalf("truncate %s: %v", path, err)
		}
	}
}

const gib = 1024 * 1024 * 1024

func TestScanDecisionsSampleRejection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Movie.2024.1080p.mkv"), 8*gib)
	writeFile(t, filepath.Join(dir, "Movie-sample.mkv"), 60*1024*1024)

	decisions, err := ScanDecisions(dir, DecisionConfig{})
	if err != nil {
		t.Fatalf("ScanDecisions() error: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(decisions))
	}

	main, err := GetMainFile(decisions)
	if err != nil {
		t.Fatalf("GetMainFile() error: %v", err)
	}
	if filepath.Base(main.Path) != "Movie.2024.1080p.mkv" {
		t.Errorf("main file = %s", main.Path)
	}

	for _, d := range decisions {
		if filepath.Base(d.Path) == "Movie-sample.mkv" {
			if d.Approved {
				t.Error("sample file was approved")
			}
			if d.RejectionReason != RejectSample {
				t.Errorf("rejection = %q, want sample_detected", d.RejectionReason)
			}
		}
	}
}

func TestScanDecisionsSmallFileIsSample(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Movie.2024.mkv"), 50*1024*1024)

	decisions, err := ScanDecisions(dir, DecisionConfig{})
	if err != nil {
		t.Fatalf("ScanDecisions() error: %v", err)
	}
	if decisions[0].Approved {
		t.Error("file below sample threshold was approved")
	}
	if _, err := GetMainFile(decisions); !errors.Is(err, ErrNoValidVideo) {
		t.Fatalf("GetMainFile() error = %v, want ErrNoValidVideo", err)
	}
}

func TestScanDecisionsExtras(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Movie.2024.mkv"), 8*gib)
	writeFile(t, filepath.Join(dir, "Featurettes", "Making.Of.mkv"), 500*1024*1024)
	writeFile(t, filepath.Join(dir, "Movie.Deleted.Scene.mkv"), 200*1024*1024)

	decisions, err := ScanDecisions(dir, DecisionConfig{})
	if err != nil {
		t.Fatalf("ScanDecisions() error: %v", err)
	}

	main, err := GetMainFile(decisions)
	if err != nil {
		t.Fatalf("GetMainFile() error: %v", err)
	}
	if filepath.Base(main.Path) != "Movie.2024.mkv" {
		t.Errorf("main = %s", main.Path)
	}

	extras := GetExtras(decisions)
	if len(extras) != 2 {
		t.Fatalf("extras = %d, want 2", len(extras))
	}
	for _, e := range extras {
		if !e.Approved || !e.IsExtra {
			t.Errorf("extra not approved+flagged: %+v", e)
		}
	}
}

func TestScanDecisionsIgnoresNonVideo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Movie.2024.mkv"), 8*gib)
	writeFile(t, filepath.Join(dir, "Movie.2024.nfo"), 1024)
	writeFile(t, filepath.Join(dir, "Movie.2024.en.srt"), 40*1024)

	decisions, err := ScanDecisions(dir, DecisionConfig{})
	if err != nil {
		t.Fatalf("ScanDecisions() error: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1 (video only)", len(decisions))
	}

	subs, err := FindSubtitles(dir)
	if err != nil {
		t.Fatalf("FindSubtitles() error: %v", err)
	}
	if len(subs) != 1 || filepath.Base(subs[0]) != "Movie.2024.en.srt" {
		t.Errorf("subtitles = %v", subs)
	}
}

func TestGetMainFilePrefersLargest(t *testing.T) {
	decisions := []FileDecision{
		{Path: "a.mkv", Size: 2 * gib, Approved: true},
		{Path: "b.mkv", Size: 8 * gib, Approved: true},
		{Path: "c.mkv", Size: 15 * gib, Approved: true, IsExtra: true},
		{Path: "d.mkv", Size: 20 * gib, Approved: false, RejectionReason: RejectSample},
	}
	main, err := GetMainFile(decisions)
	if err != nil {
		t.Fatalf("GetMainFile() error: %v", err)
	}
	if main.Path != "b.mkv" {
		t.Errorf("main = %s, want b.mkv (largest approved non-extra)", main.Path)
	}
}
