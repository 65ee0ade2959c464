package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/indexer/types"
	"github.com/halyard/halyard/internal/quality"
	"github.com/halyard/halyard/internal/testutil"
)

type fakeIndexer struct {
	results []types.SearchResult
	err     error
}

func (f *fakeIndexer) Test(ctx context.Context) error { return f.err }

func (f *fakeIndexer) Capabilities(ctx context.Context) (*types.Capabilities, error) {
	return &types.Capabilities{}, f.err
}

func (f *fakeIndexer) Search(ctx context.Context, criteria types.SearchCriteria) ([]types.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeBlocklist struct {
	titles map[string]bool
	groups map[string]bool
}

func (f *fakeBlocklist) IsBlocked(ctx context.Context, title, group string) (bool, error) {
	return f.titles[title] || f.groups[group], nil
}

func newTestManager(t *testing.T, fakes map[string]*fakeIndexer, defs ...*types.IndexerDefinition) *Manager {
	t.Helper()

	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn)
	for _, def := range defs {
		if _, err := store.Create(context.Background(), def); err != nil {
			t.Fatalf("failed to seed indexer: %v", err)
		}
	}

	m := NewManager(store, zerolog.Nop())
	m.buildClient = func(def types.IndexerDefinition, _ zerolog.Logger) (types.Indexer, error) {
		fake, ok := fakes[def.Name]
		if !ok {
			t.Fatalf("no fake registered for indexer %q", def.Name)
		}
		return fake, nil
	}
	return m
}

func enabledDef(name string, priority int) *types.IndexerDefinition {
	return &types.IndexerDefinition{
		Name:           name,
		Type:           types.IndexerTypeTorznab,
		URL:            "http://" + name,
		Priority:       priority,
		Enabled:        true,
		SupportsMovies: true,
		SupportsTV:     true,
		SupportsSearch: true,
	}
}

func torrentResult(title string, size int64, seeders int, indexerID int64) types.SearchResult {
	return types.SearchResult{
		Title:       title,
		GUID:        title,
		Link:        "http://dl/" + title,
		Size:        size,
		Seeders:     seeders,
		IndexerID:   indexerID,
		Protocol:    types.ProtocolTorrent,
		PublishDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStoreCRUD(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn)
	ctx := context.Background()

	created, err := store.Create(ctx, &types.IndexerDefinition{
		Name:           "tracker",
		Type:           types.IndexerTypeTorznab,
		URL:            "http://tracker",
		APIKey:         "k",
		Categories:     []int{2000, 5000},
		Priority:       10,
		Enabled:        true,
		SupportsSearch: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if len(created.Categories) != 2 {
		t.Errorf("categories = %v", created.Categories)
	}

	created.Priority = 5
	created.Enabled = false
	if err := store.Update(ctx, created); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Priority != 5 || got.Enabled {
		t.Errorf("update not persisted: %+v", got)
	}

	enabled, err := store.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("disabled indexer listed as enabled")
	}

	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSearchFanOutMergesAndReportsErrors(t *testing.T) {
	fakes := map[string]*fakeIndexer{
		"good": {results: []types.SearchResult{
			torrentResult("Movie.2024.1080p.WEB-DL-GRP", 8<<30, 10, 1),
		}},
		"bad": {err: errors.New("connection refused")},
	}
	m := newTestManager(t, fakes, enabledDef("good", 1), enabledDef("bad", 2))

	resp, err := m.Search(context.Background(), types.SearchCriteria{Query: "Movie", Type: "movie"}, nil, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.IndexersUsed != 1 {
		t.Errorf("IndexersUsed = %d, want 1", resp.IndexersUsed)
	}
	if len(resp.IndexerErrors) != 1 || resp.IndexerErrors[0].IndexerName != "bad" {
		t.Errorf("IndexerErrors = %+v", resp.IndexerErrors)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}
	if resp.Results[0].Rejected {
		t.Error("result should be accepted under default profile")
	}
	if resp.Results[0].TotalScore == 0 {
		t.Error("result should carry a score")
	}
}

func TestSearchDeduplicatesBySizeBucket(t *testing.T) {
	// Same normalized title, sizes within 5%: one survivor with the
	// higher seeder count. Third entry differs by >5% and stays.
	fakes := map[string]*fakeIndexer{
		"a": {results: []types.SearchResult{
			torrentResult("Movie.2024.1080p.WEB-DL-GRP", 8<<30, 10, 1),
			torrentResult("movie 2024 1080p WEB-DL GRP", (8<<30)+(8<<30)/50, 99, 1),
		}},
		"b": {results: []types.SearchResult{
			torrentResult("Movie.2024.1080p.WEB-DL-GRP", 12<<30, 3, 2),
		}},
	}
	m := newTestManager(t, fakes, enabledDef("a", 1), enabledDef("b", 2))

	resp, err := m.Search(context.Background(), types.SearchCriteria{Query: "Movie", Type: "movie"}, nil, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results after dedupe, got %d", len(resp.Results))
	}

	var foundWinner bool
	for _, r := range resp.Results {
		if r.Seeders == 99 {
			foundWinner = true
		}
		if r.Seeders == 10 {
			t.Error("lower-seeded duplicate should have been dropped")
		}
	}
	if !foundWinner {
		t.Error("duplicate with most seeders should survive")
	}
}

func TestSearchFiltersBlocklisted(t *testing.T) {
	fakes := map[string]*fakeIndexer{
		"a": {results: []types.SearchResult{
			torrentResult("Movie.2024.1080p.WEB-DL-GOODGRP", 8<<30, 10, 1),
			torrentResult("Movie.2024.720p.WEB-DL-BADGRP", 4<<30, 50, 1),
		}},
	}
	m := newTestManager(t, fakes, enabledDef("a", 1))
	m.SetBlocklist(&fakeBlocklist{groups: map[string]bool{"BADGRP": true}})

	resp, err := m.Search(context.Background(), types.SearchCriteria{Query: "Movie", Type: "movie"}, nil, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result after blocklist filter, got %d", len(resp.Results))
	}
	if resp.Results[0].Parsed.ReleaseGroup != "GOODGRP" {
		t.Errorf("wrong survivor: %+v", resp.Results[0].Parsed)
	}
}

func TestSearchRankingDeterministic(t *testing.T) {
	results := []types.SearchResult{
		torrentResult("Movie.2024.2160p.BluRay.REMUX.TrueHD-A", 30<<30, 5, 1),
		torrentResult("Movie.2024.1080p.WEB-DL-B", 8<<30, 100, 1),
		torrentResult("Movie.2024.1080p.WEB-DL-C", 9<<30, 100, 1),
		torrentResult("Movie.2024.720p.HDTV-D", 2<<30, 1, 1),
	}
	fakes := map[string]*fakeIndexer{"a": {results: results}}
	m := newTestManager(t, fakes, enabledDef("a", 1))

	var previous []string
	for run := 0; run < 3; run++ {
		resp, err := m.Search(context.Background(), types.SearchCriteria{Query: "Movie", Type: "movie"}, nil, 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}

		order := make([]string, len(resp.Results))
		for i, r := range resp.Results {
			order[i] = r.Title
		}

		if run == 0 {
			previous = order
			// Highest tier first; among equal scores more seeders,
			// then smaller size.
			if order[0] != "Movie.2024.2160p.BluRay.REMUX.TrueHD-A" {
				t.Errorf("top result = %q", order[0])
			}
			if order[1] != "Movie.2024.1080p.WEB-DL-B" || order[2] != "Movie.2024.1080p.WEB-DL-C" {
				t.Errorf("tie-break order wrong: %v", order)
			}
			continue
		}
		for i := range order {
			if order[i] != previous[i] {
				t.Fatalf("run %d order differs: %v vs %v", run, order, previous)
			}
		}
	}
}

func TestSearchRetainsRejectedResults(t *testing.T) {
	fakes := map[string]*fakeIndexer{
		"a": {results: []types.SearchResult{
			torrentResult("Movie.2024.2160p.WEB-DL-GRP", 20<<30, 5, 1),
			torrentResult("Movie.2024.CAM-GRP", 1<<30, 500, 1),
		}},
	}
	m := newTestManager(t, fakes, enabledDef("a", 1))

	profile := &quality.Profile{
		AllowedTiers: []quality.Tier{quality.Tier1080p, quality.Tier2160p},
	}
	resp, err := m.Search(context.Background(), types.SearchCriteria{Query: "Movie", Type: "movie"}, profile, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("rejected results must be retained, got %d results", len(resp.Results))
	}

	var sawRejected bool
	for _, r := range resp.Results {
		if r.Rejected {
			sawRejected = true
			if len(r.RejectionReasons) == 0 {
				t.Error("rejected result missing reasons")
			}
		}
	}
	if !sawRejected {
		t.Error("CAM release should be rejected by profile")
	}
}

func TestSearchProgressEvents(t *testing.T) {
	fakes := map[string]*fakeIndexer{
		"good": {results: []types.SearchResult{
			torrentResult("Movie.2024.1080p.WEB-DL-GRP", 8<<30, 10, 1),
		}},
		"bad": {err: errors.New("timeout")},
	}
	m := newTestManager(t, fakes, enabledDef("good", 1), enabledDef("bad", 2))

	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	if _, err := m.Search(context.Background(), types.SearchCriteria{Query: "Movie", Type: "movie"}, nil, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}

	counts := make(map[string]int)
	var searchID string
	for {
		var ev ProgressEvent
		select {
		case ev = <-events:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
		if searchID == "" {
			searchID = ev.SearchID
		} else if ev.SearchID != searchID {
			t.Errorf("event search id mismatch: %q vs %q", ev.SearchID, searchID)
		}
		counts[ev.Type]++
		if ev.Type == EventSearchComplete {
			if ev.ResultCount != 1 {
				t.Errorf("complete event result count = %d", ev.ResultCount)
			}
			break
		}
	}

	if counts[EventSearchStarted] != 1 {
		t.Errorf("search_started count = %d", counts[EventSearchStarted])
	}
	if counts[EventIndexerPending] != 2 {
		t.Errorf("indexer_pending count = %d", counts[EventIndexerPending])
	}
	if counts[EventIndexerResult] != 1 || counts[EventIndexerFailed] != 1 {
		t.Errorf("result/failed counts = %d/%d", counts[EventIndexerResult], counts[EventIndexerFailed])
	}
}
