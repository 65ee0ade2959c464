package blocklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/halyard/halyard/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	return NewStore(tdb.Conn, 3, tdb.Logger)
}

func TestAddAndIsBlockedByTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry, err := store.Add(ctx, Entry{
		ReleaseTitle: "Movie.2024.1080p.WEB-DL.x264-BADGRP",
		ReleaseGroup: "BADGRP",
		MediaID:      42,
		MediaType:    "movie",
		Reason:       "import_failed",
	})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if entry.ID == 0 {
		t.Error("entry id not set")
	}

	blocked, err := store.IsBlocked(ctx, "Movie.2024.1080p.WEB-DL.x264-BADGRP", "")
	if err != nil {
		t.Fatalf("IsBlocked() error: %v", err)
	}
	if !blocked {
		t.Error("exact title not blocked")
	}

	blocked, err = store.IsBlocked(ctx, "Other.Release.2024.720p-GRP", "")
	if err != nil {
		t.Fatalf("IsBlocked() error: %v", err)
	}
	if blocked {
		t.Error("unrelated title blocked")
	}
}

func TestIsBlockedByGroupEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, Entry{
		ReleaseTitle: "Movie.2024.1080p-BADGRP",
		ReleaseGroup: "BADGRP",
		Reason:       "download_failed",
	}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	// A different release from the same group is denied.
	blocked, err := store.IsBlocked(ctx, "Another.Movie.2023.2160p-BADGRP", "BADGRP")
	if err != nil {
		t.Fatalf("IsBlocked() error: %v", err)
	}
	if !blocked {
		t.Error("release from blocked group not denied")
	}
}

func TestGroupFailuresAutoBlock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 2; want++ {
		count, err := store.RecordGroupFailure(ctx, "FLAKY")
		if err != nil {
			t.Fatalf("RecordGroupFailure() error: %v", err)
		}
		if count != want {
			t.Fatalf("failure count = %d, want %d", count, want)
		}
		blocked, err := store.IsBlocked(ctx, "Some.Release-FLAKY", "FLAKY")
		if err != nil {
			t.Fatalf("IsBlocked() error: %v", err)
		}
		if blocked {
			t.Fatalf("group blocked after %d failures, threshold is 3", count)
		}
	}

	count, err := store.RecordGroupFailure(ctx, "FLAKY")
	if err != nil {
		t.Fatalf("RecordGroupFailure() error: %v", err)
	}
	if count != 3 {
		t.Fatalf("failure count = %d, want 3", count)
	}
	blocked, err := store.IsBlocked(ctx, "Some.Release-FLAKY", "FLAKY")
	if err != nil {
		t.Fatalf("IsBlocked() error: %v", err)
	}
	if !blocked {
		t.Error("group not auto-blocked at threshold")
	}
}

func TestRecordGroupFailureEmptyGroup(t *testing.T) {
	store := newTestStore(t)
	count, err := store.RecordGroupFailure(context.Background(), "")
	if err != nil {
		t.Fatalf("RecordGroupFailure(\"\") error: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 for empty group", count)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		if _, err := store.Add(ctx, Entry{ReleaseTitle: title, Reason: "import_failed"}); err != nil {
			t.Fatalf("Add(%s) error: %v", title, err)
		}
	}

	entries, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].ReleaseTitle != "third" {
		t.Errorf("first listed = %s, want third (newest)", entries[0].ReleaseTitle)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry, err := store.Add(ctx, Entry{ReleaseTitle: "gone", Reason: "manual"})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := store.Remove(ctx, entry.ID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := store.Remove(ctx, entry.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove() twice = %v, want ErrNotFound", err)
	}
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old, err := store.Add(ctx, Entry{ReleaseTitle: "stale", Reason: "import_failed"})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := store.db.ExecContext(ctx,
		`UPDATE blocklist SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-90*24*time.Hour), old.ID); err != nil {
		t.Fatalf("backdating entry: %v", err)
	}
	if _, err := store.Add(ctx, Entry{ReleaseTitle: "recent", Reason: "import_failed"}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	removed, err := store.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	entries, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 1 || entries[0].ReleaseTitle != "recent" {
		t.Errorf("surviving entries = %+v", entries)
	}
}
