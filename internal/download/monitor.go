package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/halyard/halyard/internal/downloader"
	clienttypes "github.com/halyard/halyard/internal/downloader/types"
	"github.com/halyard/halyard/internal/pathutil"
)

const (
	defaultPollInterval     = 5 * time.Second
	defaultStalledThreshold = 6 * time.Hour
	defaultCallbackWorkers  = 4

	// disappearedAfter is how long a download may be missing from its
	// client before it is declared failed.
	disappearedAfter = 10 * time.Minute
)

// Transition reasons written by the monitor.
const (
	ReasonStalledNoProgress     = "stalled_no_progress"
	ReasonDisappearedFromClient = "disappeared_from_client"
	ReasonClientError           = "client_error"
)

// ClientRegistry is the slice of the downloader service the monitor
// needs: enumerate enabled clients and build protocol adapters.
type ClientRegistry interface {
	ListEnabled(ctx context.Context) ([]*downloader.DownloadClient, error)
	ClientFor(dc *downloader.DownloadClient) (clienttypes.Client, error)
}

// MonitorConfig tunes the polling loop.
type MonitorConfig struct {
	PollInterval     time.Duration
	StalledThreshold time.Duration
	Seeding          SeedingConfig
	CallbackWorkers  int
}

// progressMark remembers when a download's progress last moved, for
// stall detection across ticks.
type progressMark struct {
	progress float64
	since    time.Time
}

// Monitor polls download clients and drives tracked download state.
// Callbacks are set once at startup; the monitor never calls back into
// the orchestrator through any other path.
type Monitor struct {
	store   *Store
	clients ClientRegistry
	cfg     MonitorConfig
	logger  zerolog.Logger

	// OnReadyForImport fires when a download reaches import_pending.
	OnReadyForImport func(ctx context.Context, td *TrackedDownload)
	// OnReadyToRemove fires when an imported torrent has met its
	// seeding thresholds and the client still holds it.
	OnReadyToRemove func(ctx context.Context, td *TrackedDownload)

	mu       sync.Mutex
	inFlight map[int64]bool         // per-client tick guard
	marks    map[int64]progressMark // download id -> stall tracking
	lastSeen map[int64]time.Time    // download id -> last client sighting

	callbacks *errgroup.Group
	tickWG    sync.WaitGroup
}

// NewMonitor creates a monitor. Zero config values get defaults.
func NewMonitor(store *Store, clients ClientRegistry, cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StalledThreshold <= 0 {
		cfg.StalledThreshold = defaultStalledThreshold
	}
	if cfg.CallbackWorkers <= 0 {
		cfg.CallbackWorkers = defaultCallbackWorkers
	}
	callbacks := &errgroup.Group{}
	callbacks.SetLimit(cfg.CallbackWorkers)
	return &Monitor{
		store:     store,
		clients:   clients,
		cfg:       cfg,
		logger:    logger.With().Str("component", "download-monitor").Logger(),
		inFlight:  make(map[int64]bool),
		marks:     make(map[int64]progressMark),
		lastSeen:  make(map[int64]time.Time),
		callbacks: callbacks,
	}
}

// Run polls until the context is cancelled, then finishes the current
// tick and drains in-flight callbacks.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().Dur("interval", m.cfg.PollInterval).Msg("Download monitor started")
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.tickWG.Wait()
			if err := m.callbacks.Wait(); err != nil {
				m.logger.Warn().Err(err).Msg("Callback finished with error during shutdown")
			}
			m.logger.Info().Msg("Download monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick polls every enabled client once. Clients whose previous tick is
// still running are skipped, so ticks never overlap per client.
func (m *Monitor) Tick(ctx context.Context) {
	clients, err := m.clients.ListEnabled(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list download clients")
		return
	}

	for _, dc := range clients {
		m.mu.Lock()
		if m.inFlight[dc.ID] {
			m.mu.Unlock()
			continue
		}
		m.inFlight[dc.ID] = true
		m.mu.Unlock()

		m.tickWG.Add(1)
		go func(dc *downloader.DownloadClient) {
			defer m.tickWG.Done()
			defer func() {
				m.mu.Lock()
				delete(m.inFlight, dc.ID)
				m.mu.Unlock()
			}()
			if err := m.pollClient(ctx, dc); err != nil {
				m.logger.Warn().Err(err).Str("client", dc.Name).Msg("Poll failed")
			}
		}(dc)
	}
}

// Wait blocks until in-flight ticks and callbacks finish. Used by
// tests and the graceful stop path.
func (m *Monitor) Wait() {
	m.tickWG.Wait()
	m.callbacks.Wait() //nolint:errcheck
}

func (m *Monitor) pollClient(ctx context.Context, dc *downloader.DownloadClient) error {
	client, err := m.clients.ClientFor(dc)
	if err != nil {
		return fmt.Errorf("building client %s: %w", dc.Name, err)
	}
	items, err := client.List(ctx)
	if err != nil {
		return fmt.Errorf("listing downloads on %s: %w", dc.Name, err)
	}
	byExternal := make(map[string]clienttypes.DownloadItem, len(items))
	for _, item := range items {
		byExternal[item.ExternalID] = item
	}

	active, err := m.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active downloads: %w", err)
	}
	now := time.Now()

	for _, td := range active {
		if td.DownloadClientID != dc.ID {
			continue
		}
		item, present := byExternal[td.ExternalID]
		if !present {
			m.handleMissing(ctx, td, now)
			continue
		}
		m.noteSeen(td.ID, now)
		m.reconcile(ctx, td, item, now)
	}

	m.checkSeeding(ctx, dc, byExternal)
	return nil
}

// reconcile applies one client report to one tracked download.
func (m *Monitor) reconcile(ctx context.Context, td *TrackedDownload, item clienttypes.DownloadItem, now time.Time) {
	metrics := ProgressMetrics{
		Size:         item.Size,
		Downloaded:   item.Downloaded,
		Progress:     item.Progress,
		Speed:        item.Speed,
		ETA:          item.ETA,
		Seeders:      td.Seeders,
		Ratio:        item.Ratio,
		SeedingTime:  item.SeedingTime,
		DownloadPath: pathutil.NormalizePath(item.SavePath),
	}
	if err := m.store.UpdateProgress(ctx, td.ID, metrics); err != nil {
		m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to update progress")
	}

	switch item.Status {
	case clienttypes.StatusCompleted:
		m.completeDownload(ctx, td)
		return
	case clienttypes.StatusError:
		m.failDownload(ctx, td, ReasonClientError, item.ErrorMessage)
		return
	}

	desired := stateForStatus(item.Status)
	if desired != "" && desired != td.State && CanTransition(td.State, desired) {
		if err := m.store.Transition(ctx, td.ID, desired, "", ""); err != nil {
			m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to reconcile state")
		} else {
			td.State = desired
		}
	}

	if td.State == StateDownloading {
		m.checkStall(ctx, td, item, now)
	}
}

// stateForStatus maps client statuses to FSM states by matching name.
func stateForStatus(status clienttypes.Status) State {
	switch status {
	case clienttypes.StatusDownloading:
		return StateDownloading
	case clienttypes.StatusPaused:
		return StatePaused
	case clienttypes.StatusQueued:
		return StateQueued
	default:
		return ""
	}
}

// checkStall transitions a zero-speed download whose progress has not
// moved within the stalled threshold.
func (m *Monitor) checkStall(ctx context.Context, td *TrackedDownload, item clienttypes.DownloadItem, now time.Time) {
	m.mu.Lock()
	mark, ok := m.marks[td.ID]
	if !ok || mark.progress != item.Progress || item.Speed > 0 {
		m.marks[td.ID] = progressMark{progress: item.Progress, since: now}
		m.mu.Unlock()
		return
	}
	stalledFor := now.Sub(mark.since)
	m.mu.Unlock()

	if stalledFor <= m.cfg.StalledThreshold {
		return
	}
	if err := m.store.Transition(ctx, td.ID, StateStalled, ReasonStalledNoProgress,
		fmt.Sprintf("no progress for %s", stalledFor.Round(time.Minute))); err != nil {
		m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to mark stalled")
	}
}

// handleMissing fails downloads absent from their client for too long.
func (m *Monitor) handleMissing(ctx context.Context, td *TrackedDownload, now time.Time) {
	m.mu.Lock()
	last, ok := m.lastSeen[td.ID]
	if !ok {
		// Never observed: measure from the grab.
		last = td.GrabbedAt
		m.lastSeen[td.ID] = last
	}
	m.mu.Unlock()

	if now.Sub(last) <= disappearedAfter {
		return
	}
	m.failDownload(ctx, td, ReasonDisappearedFromClient, "download no longer reported by client")
}

func (m *Monitor) noteSeen(id int64, now time.Time) {
	m.mu.Lock()
	m.lastSeen[id] = now
	m.mu.Unlock()
}

// completeDownload chains completed -> import_pending and fires the
// import callback.
func (m *Monitor) completeDownload(ctx context.Context, td *TrackedDownload) {
	if td.State != StateCompleted {
		// queued or paused rows have to pass through downloading first;
		// the client can finish a download between polls.
		if !CanTransition(td.State, StateCompleted) {
			if err := m.store.Transition(ctx, td.ID, StateDownloading, "", ""); err != nil {
				m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to mark downloading")
				return
			}
		}
		if err := m.store.Transition(ctx, td.ID, StateCompleted, "", ""); err != nil {
			m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to mark completed")
			return
		}
	}
	if err := m.store.Transition(ctx, td.ID, StateImportPending, "", ""); err != nil {
		m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to mark import pending")
		return
	}
	m.forget(td.ID)

	if m.OnReadyForImport == nil {
		return
	}
	fresh, err := m.store.Get(ctx, td.ID)
	if err != nil {
		m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to reload download for import")
		return
	}
	m.dispatch(ctx, fresh, m.OnReadyForImport)
}

func (m *Monitor) failDownload(ctx context.Context, td *TrackedDownload, reason, details string) {
	if details != "" {
		if err := m.store.AppendError(ctx, td.ID, details); err != nil {
			m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to record error")
		}
	}
	if err := m.store.Transition(ctx, td.ID, StateFailed, reason, details); err != nil {
		m.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to mark failed")
		return
	}
	m.forget(td.ID)
}

// checkSeeding fires the removal callback for imported downloads the
// client still holds once their seeding thresholds are met.
func (m *Monitor) checkSeeding(ctx context.Context, dc *downloader.DownloadClient, byExternal map[string]clienttypes.DownloadItem) {
	imported, err := m.store.ListImported(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list imported downloads")
		return
	}
	for _, td := range imported {
		if td.DownloadClientID != dc.ID {
			continue
		}
		item, present := byExternal[td.ExternalID]
		if !present {
			continue
		}
		// Refresh ratio and seeding time from the client before the
		// threshold check.
		td.Ratio = item.Ratio
		td.SeedingTime = item.SeedingTime
		if !CanRemoveFromClient(td, m.cfg.Seeding) {
			continue
		}
		if m.OnReadyToRemove != nil {
			m.dispatch(ctx, td, m.OnReadyToRemove)
		}
	}
}

// dispatch runs a callback on the bounded pool, capturing panics onto
// the download's error list.
func (m *Monitor) dispatch(ctx context.Context, td *TrackedDownload, fn func(context.Context, *TrackedDownload)) {
	m.callbacks.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprintf("callback panic: %v", r)
				m.logger.Error().Int64("id", td.ID).Str("panic", msg).Msg("Callback panicked")
				if appendErr := m.store.AppendError(context.WithoutCancel(ctx), td.ID, msg); appendErr != nil {
					m.logger.Warn().Err(appendErr).Int64("id", td.ID).Msg("Failed to record panic")
				}
			}
		}()
		fn(ctx, td)
		return nil
	})
}

func (m *Monitor) forget(id int64) {
	m.mu.Lock()
	delete(m.marks, id)
	delete(m.lastSeen, id)
	m.mu.Unlock()
}
