package qualitystatus

import (
	"context"
	"errors"
	"testing"

	"github.com/halyard/halyard/internal/parser"
	"github.com/halyard/halyard/internal/quality"
	"github.com/halyard/halyard/internal/testutil"
)

func TestRecordAndGet(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)
	ctx := context.Background()
	profile := quality.DefaultProfile()

	parsed := parser.Parse("Dune.Part.Two.2024.2160p.BluRay.REMUX.TrueHD.Atmos-GROUP")
	if err := store.Record(ctx, 42, "movie", parsed, profile); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	st, err := store.Get(ctx, 42, "movie")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if st.Tier != quality.Tier2160p {
		t.Errorf("tier = %s, want 2160p", st.Tier)
	}
	if st.Source != parser.SourceRemux {
		t.Errorf("source = %s, want remux", st.Source)
	}
	if !st.TargetMet {
		t.Error("2160p does not meet 1080p cutoff")
	}
}

func TestRecordUpsertsOnConflict(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)
	ctx := context.Background()
	profile := quality.DefaultProfile()

	first := parser.Parse("Movie.2024.720p.WEB-DL.AC3-GRP")
	if err := store.Record(ctx, 7, "movie", first, profile); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	st, _ := store.Get(ctx, 7, "movie")
	if st.TargetMet {
		t.Error("720p meets 1080p cutoff, want target_met false")
	}

	second := parser.Parse("Movie.2024.1080p.BluRay.DTS-GRP")
	if err := store.Record(ctx, 7, "movie", second, profile); err != nil {
		t.Fatalf("second Record() error: %v", err)
	}

	st, err := store.Get(ctx, 7, "movie")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if st.Tier != quality.Tier1080p || !st.TargetMet {
		t.Errorf("after upgrade: tier = %s targetMet = %v", st.Tier, st.TargetMet)
	}
}

func TestMediaTypeKeysAreIndependent(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)
	ctx := context.Background()
	profile := quality.DefaultProfile()

	if err := store.Record(ctx, 1, "movie", parser.Parse("A.2024.1080p.WEB-DL-X"), profile); err != nil {
		t.Fatalf("Record(movie) error: %v", err)
	}
	if err := store.Record(ctx, 1, "episode", parser.Parse("B.S01E01.720p.HDTV-X"), profile); err != nil {
		t.Fatalf("Record(episode) error: %v", err)
	}

	movie, _ := store.Get(ctx, 1, "movie")
	episode, _ := store.Get(ctx, 1, "episode")
	if movie.Tier == episode.Tier {
		t.Errorf("rows collided: movie %s episode %s", movie.Tier, episode.Tier)
	}
}

func TestGetMissing(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)

	_, err := store.Get(context.Background(), 999, "movie")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}
