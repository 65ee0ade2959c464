package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/halyard/halyard/internal/parser"
	"github.com/halyard/halyard/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, int64) {
	t.Helper()
	tdb := testutil.NewTestDB(t)

	// Tracked downloads reference a client row.
	result, err := tdb.Conn.Exec(
		`INSERT INTO download_clients (name, type, kind, url, enabled, created_at, updated_at)
		VALUES ('qbt', 'qbittorrent', 'torrent', 'http://localhost:8080', 1, ?, ?)`,
		time.Now().UTC(), time.Now().UTC())
	if err != nil {
		t.Fatalf("seeding download client: %v", err)
	}
	clientID, _ := result.LastInsertId()
	return NewStore(tdb.Conn, tdb.Logger), clientID
}

func mustCreate(t *testing.T, store *Store, clientID int64, externalID string) *TrackedDownload {
	t.Helper()
	parsed := parser.Parse("Dune.Part.Two.2024.2160p.BluRay.REMUX.TrueHD.Atmos-GROUP")
	td, err := store.Create(context.Background(), &TrackedDownload{
		DownloadClientID: clientID,
		ExternalID:       externalID,
		Title:            "Dune.Part.Two.2024.2160p.BluRay.REMUX.TrueHD.Atmos-GROUP",
		ParsedInfo:       &parsed,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return td
}

func TestCreateStartsQueuedWithEvent(t *testing.T) {
	store, clientID := newTestStore(t)
	td := mustCreate(t, store, clientID, "hash1")

	if td.State != StateQueued {
		t.Errorf("initial state = %s, want queued", td.State)
	}
	if td.ParsedInfo == nil || td.ParsedInfo.Year != 2024 {
		t.Errorf("parsed info not round-tripped: %+v", td.ParsedInfo)
	}

	events, err := store.Events(context.Background(), td.ID)
	if err != nil {
		t.Fatalf("Events() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].FromState != "" || events[0].ToState != StateQueued {
		t.Errorf("initial event = %+v, want null -> queued", events[0])
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	store, clientID := newTestStore(t)
	mustCreate(t, store, clientID, "hash1")

	_, err := store.Create(context.Background(), &TrackedDownload{
		DownloadClientID: clientID,
		ExternalID:       "hash1",
		Title:            "same hash again",
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Create() error = %v, want ErrAlreadyExists", err)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateQueued, StateDownloading, true},
		{StateQueued, StateFailed, true},
		{StateQueued, StateCompleted, false},
		{StateDownloading, StateCompleted, true},
		{StateDownloading, StateStalled, true},
		{StateDownloading, StateImported, false},
		{StateStalled, StateIgnored, true},
		{StateCompleted, StateImportPending, true},
		{StateCompleted, StateImporting, false},
		{StateImportPending, StateImporting, true},
		{StateImportPending, StateImportBlocked, true},
		{StateImporting, StateImported, true},
		{StateImporting, StateFailed, true},
		{StateImportBlocked, StateImporting, true},
		{StateImported, StateQueued, false},
		{StateIgnored, StateQueued, false},
		{StateFailed, StateQueued, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	if !IsTerminal(StateImported) || !IsTerminal(StateIgnored) {
		t.Error("imported and ignored must be terminal")
	}
	if IsTerminal(StateFailed) {
		t.Error("failed must allow retry")
	}
}

func TestTransitionWritesEventAndTimestamps(t *testing.T) {
	store, clientID := newTestStore(t)
	td := mustCreate(t, store, clientID, "hash1")
	ctx := context.Background()

	steps := []State{StateDownloading, StateCompleted, StateImportPending, StateImporting, StateImported}
	for _, to := range steps {
		if err := store.Transition(ctx, td.ID, to, "", ""); err != nil {
			t.Fatalf("Transition(%s) error: %v", to, err)
		}
	}

	got, err := store.Get(ctx, td.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.State != StateImported || got.PreviousState != StateImporting {
		t.Errorf("state = %s prev = %s", got.State, got.PreviousState)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set after completed")
	}
	if got.ImportedAt == nil {
		t.Error("imported_at not set after imported")
	}

	events, err := store.Events(ctx, td.ID)
	if err != nil {
		t.Fatalf("Events() error: %v", err)
	}
	if len(events) != len(steps)+1 {
		t.Fatalf("events = %d, want %d", len(events), len(steps)+1)
	}
	// Every logged edge must be a valid FSM transition.
	for _, e := range events[1:] {
		if !CanTransition(e.FromState, e.ToState) {
			t.Errorf("event records invalid edge %s -> %s", e.FromState, e.ToState)
		}
	}
}

func TestInvalidTransitionLeavesNoTrace(t *testing.T) {
	store, clientID := newTestStore(t)
	td := mustCreate(t, store, clientID, "hash1")
	ctx := context.Background()

	err := store.Transition(ctx, td.ID, StateImported, "", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition() error = %v, want ErrInvalidTransition", err)
	}

	got, err := store.Get(ctx, td.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.State != StateQueued {
		t.Errorf("state changed to %s after rejected transition", got.State)
	}
	events, _ := store.Events(ctx, td.ID)
	if len(events) != 1 {
		t.Errorf("rejected transition wrote an event: %d events", len(events))
	}
}

func TestImportBlockedRecordsReason(t *testing.T) {
	store, clientID := newTestStore(t)
	td := mustCreate(t, store, clientID, "hash1")
	ctx := context.Background()

	for _, to := range []State{StateDownloading, StateCompleted, StateImportPending} {
		if err := store.Transition(ctx, td.ID, to, "", ""); err != nil {
			t.Fatalf("Transition(%s) error: %v", to, err)
		}
	}
	if err := store.Transition(ctx, td.ID, StateImportBlocked, "not_an_upgrade", ""); err != nil {
		t.Fatalf("Transition(import_blocked) error: %v", err)
	}

	got, _ := store.Get(ctx, td.ID)
	if got.ImportBlockReason != "not_an_upgrade" {
		t.Errorf("import_block_reason = %q, want not_an_upgrade", got.ImportBlockReason)
	}
}

func TestUpdateProgressKeepsState(t *testing.T) {
	store, clientID := newTestStore(t)
	td := mustCreate(t, store, clientID, "hash1")
	ctx := context.Background()

	err := store.UpdateProgress(ctx, td.ID, ProgressMetrics{
		Size: 1000, Downloaded: 372, Progress: 37.2, Speed: 0,
		DownloadPath: "/downloads/dune",
	})
	if err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}

	got, _ := store.Get(ctx, td.ID)
	if got.Progress != 37.2 || got.DownloadPath != "/downloads/dune" {
		t.Errorf("progress not applied: %+v", got)
	}
	if got.State != StateQueued {
		t.Errorf("UpdateProgress changed state to %s", got.State)
	}
	events, _ := store.Events(ctx, td.ID)
	if len(events) != 1 {
		t.Errorf("UpdateProgress wrote an event")
	}
}

func TestAppendWarningAndError(t *testing.T) {
	store, clientID := newTestStore(t)
	td := mustCreate(t, store, clientID, "hash1")
	ctx := context.Background()

	if err := store.AppendWarning(ctx, td.ID, "slow tracker"); err != nil {
		t.Fatalf("AppendWarning() error: %v", err)
	}
	if err := store.AppendError(ctx, td.ID, "disk full"); err != nil {
		t.Fatalf("AppendError() error: %v", err)
	}
	if err := store.AppendError(ctx, td.ID, "still full"); err != nil {
		t.Fatalf("AppendError() error: %v", err)
	}

	got, _ := store.Get(ctx, td.ID)
	if len(got.Warnings) != 1 || got.Warnings[0] != "slow tracker" {
		t.Errorf("warnings = %v", got.Warnings)
	}
	if len(got.Errors) != 2 || got.Errors[1] != "still full" {
		t.Errorf("errors = %v", got.Errors)
	}
}

func TestListActiveAndPendingImport(t *testing.T) {
	store, clientID := newTestStore(t)
	ctx := context.Background()

	active := mustCreate(t, store, clientID, "active")
	pending := mustCreate(t, store, clientID, "pending")
	for _, to := range []State{StateDownloading, StateCompleted, StateImportPending} {
		if err := store.Transition(ctx, pending.ID, to, "", ""); err != nil {
			t.Fatalf("Transition(%s) error: %v", to, err)
		}
	}

	got, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Errorf("ListActive() = %v", got)
	}

	got, err = store.ListPendingImport(ctx)
	if err != nil {
		t.Fatalf("ListPendingImport() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Errorf("ListPendingImport() = %v", got)
	}
}

func TestCanRemoveFromClient(t *testing.T) {
	cfg := SeedingConfig{
		MinRatio:    1.0,
		MinSeedTime: 24 * time.Hour,
		MaxSeedTime: 7 * 24 * time.Hour,
	}
	hours := func(h int) int64 { return int64(h) * 3600 }

	tests := []struct {
		name    string
		state   State
		ratio   float64
		seeding int64
		want    bool
	}{
		{"not imported", StateDownloading, 5.0, hours(200), false},
		{"past max seed time", StateImported, 0.1, hours(7 * 24), true},
		{"ratio met, min time met", StateImported, 1.2, hours(25), true},
		{"ratio met, min time not met", StateImported, 1.2, hours(2), false},
		{"ratio unmet, under max", StateImported, 0.5, hours(48), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := &TrackedDownload{State: tt.state, Ratio: tt.ratio, SeedingTime: tt.seeding}
			if got := CanRemoveFromClient(td, cfg); got != tt.want {
				t.Errorf("CanRemoveFromClient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListReadyToRemove(t *testing.T) {
	store, clientID := newTestStore(t)
	ctx := context.Background()
	cfg := SeedingConfig{MinRatio: 1.0, MinSeedTime: 24 * time.Hour, MaxSeedTime: 7 * 24 * time.Hour}

	ready := mustCreate(t, store, clientID, "ready")
	for _, to := range []State{StateDownloading, StateCompleted, StateImportPending, StateImporting, StateImported} {
		if err := store.Transition(ctx, ready.ID, to, "", ""); err != nil {
			t.Fatalf("Transition(%s) error: %v", to, err)
		}
	}
	if err := store.UpdateProgress(ctx, ready.ID, ProgressMetrics{Ratio: 1.5, SeedingTime: 100000}); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}

	stillSeeding := mustCreate(t, store, clientID, "seeding")
	for _, to := range []State{StateDownloading, StateCompleted, StateImportPending, StateImporting, StateImported} {
		if err := store.Transition(ctx, stillSeeding.ID, to, "", ""); err != nil {
			t.Fatalf("Transition(%s) error: %v", to, err)
		}
	}

	got, err := store.ListReadyToRemove(ctx, cfg)
	if err != nil {
		t.Fatalf("ListReadyToRemove() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != ready.ID {
		t.Errorf("ListReadyToRemove() = %v, want only the seeded download", got)
	}
}

func TestGetByExternal(t *testing.T) {
	store, clientID := newTestStore(t)
	td := mustCreate(t, store, clientID, "hash1")

	got, err := store.GetByExternal(context.Background(), clientID, "hash1")
	if err != nil {
		t.Fatalf("GetByExternal() error: %v", err)
	}
	if got.ID != td.ID {
		t.Errorf("GetByExternal() id = %d, want %d", got.ID, td.ID)
	}
	if _, err := store.GetByExternal(context.Background(), clientID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByExternal(missing) error = %v, want ErrNotFound", err)
	}
}
