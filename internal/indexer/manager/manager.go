// Package manager orchestrates fan-out searches across the configured
// indexers: dispatch, merge, de-duplicate, blocklist-filter, score and
// rank.
package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/indexer/types"
	"github.com/halyard/halyard/internal/parser"
	"github.com/halyard/halyard/internal/quality"
)

const (
	// perIndexerTimeout bounds each adapter call; the overall search
	// deadline is this plus one second.
	perIndexerTimeout = 30 * time.Second

	// perIndexerLimit caps results taken from a single indexer before
	// the merge.
	perIndexerLimit = 100

	// progressBuffer is the capacity of subscriber event channels.
	progressBuffer = 64
)

// Broadcaster mirrors progress events to connected UI clients.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// BlocklistChecker filters out releases known to fail.
type BlocklistChecker interface {
	IsBlocked(ctx context.Context, title, group string) (bool, error)
}

// ScoredSearchResult is a search result with parsed attributes and its
// score against the request's quality profile. Rejected results are
// retained so UIs can show why.
type ScoredSearchResult struct {
	types.SearchResult
	Parsed            parser.ParsedRelease `json:"parsed"`
	BaseScore         int                  `json:"baseScore"`
	CustomFormatScore int                  `json:"customFormatScore"`
	TotalScore        int                  `json:"totalScore"`
	Rejected          bool                 `json:"rejected"`
	RejectionReasons  []string             `json:"rejectionReasons,omitempty"`

	indexerPriority int
}

// IndexerError reports a per-indexer failure from a fan-out search.
type IndexerError struct {
	IndexerID   int64  `json:"indexerId"`
	IndexerName string `json:"indexerName"`
	Error       string `json:"error"`
}

// SearchResponse is the aggregated outcome of one search.
type SearchResponse struct {
	SearchID      string               `json:"searchId"`
	Results       []ScoredSearchResult `json:"results"`
	TotalResults  int                  `json:"total"`
	IndexersUsed  int                  `json:"indexersSearched"`
	IndexerErrors []IndexerError       `json:"errors,omitempty"`
}

// Manager coordinates searches across all configured indexers.
type Manager struct {
	store       *Store
	blocklist   BlocklistChecker
	broadcaster Broadcaster
	logger      zerolog.Logger

	// buildClient is swappable for tests.
	buildClient func(types.IndexerDefinition, zerolog.Logger) (types.Indexer, error)

	mu          sync.Mutex
	subscribers map[chan ProgressEvent]struct{}
}

// NewManager creates an indexer manager backed by the given store.
func NewManager(store *Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store:       store,
		logger:      logger.With().Str("component", "indexer-manager").Logger(),
		buildClient: buildClient,
		subscribers: make(map[chan ProgressEvent]struct{}),
	}
}

// SetBlocklist sets the blocklist consulted during result filtering.
func (m *Manager) SetBlocklist(b BlocklistChecker) {
	m.blocklist = b
}

// SetBroadcaster sets the WebSocket broadcaster for progress events.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.broadcaster = b
}

// SetIndexerFactory replaces adapter construction. Used by tests to
// substitute in-memory indexers.
func (m *Manager) SetIndexerFactory(build func(types.IndexerDefinition, zerolog.Logger) (types.Indexer, error)) {
	m.buildClient = build
}

// Store exposes the definition store for CRUD handlers.
func (m *Manager) Store() *Store {
	return m.store
}

// Subscribe returns a bounded channel of progress events plus an
// unsubscribe function. Events are dropped, not blocked on, when a
// subscriber falls behind.
func (m *Manager) Subscribe() (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, progressBuffer)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) emit(event ProgressEvent) {
	m.mu.Lock()
	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	m.mu.Unlock()

	if m.broadcaster != nil {
		m.broadcaster.Broadcast("search:progress", event)
	}
}

// Test builds the adapter for a definition and runs its connection test.
func (m *Manager) Test(ctx context.Context, def types.IndexerDefinition) error {
	client, err := m.buildClient(def, m.logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, perIndexerTimeout)
	defer cancel()
	return client.Test(ctx)
}

type searchTaskResult struct {
	def     *types.IndexerDefinition
	results []types.SearchResult
	err     error
}

// Search fans out the criteria to every enabled indexer that supports
// it, then merges, de-duplicates, filters, scores and ranks the
// results. Per-indexer failures are reported, never fatal.
func (m *Manager) Search(ctx context.Context, criteria types.SearchCriteria, profile *quality.Profile, runtimeMinutes int) (*SearchResponse, error) {
	searchID := uuid.NewString()
	start := time.Now()

	defs, err := m.store.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexers: %w", err)
	}
	defs = filterBySupport(defs, criteria)

	response := &SearchResponse{SearchID: searchID, Results: []ScoredSearchResult{}}
	if len(defs) == 0 {
		return response, nil
	}

	m.emit(ProgressEvent{SearchID: searchID, Type: EventSearchStarted, Query: criteria.Query})
	for _, def := range defs {
		m.emit(ProgressEvent{
			SearchID:    searchID,
			Type:        EventIndexerPending,
			IndexerID:   def.ID,
			IndexerName: def.Name,
		})
	}

	m.logger.Info().
		Str("searchId", searchID).
		Str("query", criteria.Query).
		Str("type", criteria.Type).
		Int("indexerCount", len(defs)).
		Msg("starting search across indexers")

	// Overall deadline: the per-indexer timeout plus one second of
	// aggregation slack.
	searchCtx, cancel := context.WithTimeout(ctx, perIndexerTimeout+time.Second)
	defer cancel()

	var wg sync.WaitGroup
	resultsChan := make(chan searchTaskResult, len(defs))
	for _, def := range defs {
		wg.Add(1)
		go func(def *types.IndexerDefinition) {
			defer wg.Done()
			resultsChan <- m.searchIndexer(searchCtx, searchID, def, criteria)
		}(def)
	}
	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	priorities := make(map[int64]int, len(defs))
	for _, def := range defs {
		priorities[def.ID] = def.Priority
	}

	var merged []types.SearchResult
	for task := range resultsChan {
		if task.err != nil {
			response.IndexerErrors = append(response.IndexerErrors, IndexerError{
				IndexerID:   task.def.ID,
				IndexerName: task.def.Name,
				Error:       task.err.Error(),
			})
			continue
		}
		response.IndexersUsed++
		merged = append(merged, task.results...)
	}

	merged = m.deduplicate(merged, priorities)
	merged = m.filterBlocklisted(ctx, merged)

	response.Results = m.score(merged, profile, priorities, runtimeMinutes)
	rank(response.Results)
	response.TotalResults = len(response.Results)

	m.emit(ProgressEvent{
		SearchID:    searchID,
		Type:        EventSearchComplete,
		Query:       criteria.Query,
		ResultCount: response.TotalResults,
		ElapsedMs:   time.Since(start).Milliseconds(),
	})

	m.logger.Info().
		Str("searchId", searchID).
		Int("totalResults", response.TotalResults).
		Int("indexersUsed", response.IndexersUsed).
		Int("errors", len(response.IndexerErrors)).
		Msg("search completed")

	return response, nil
}

func (m *Manager) searchIndexer(ctx context.Context, searchID string, def *types.IndexerDefinition, criteria types.SearchCriteria) searchTaskResult {
	task := searchTaskResult{def: def}

	client, err := m.buildClient(*def, m.logger)
	if err != nil {
		task.err = fmt.Errorf("failed to build client: %w", err)
		m.emit(ProgressEvent{
			SearchID:    searchID,
			Type:        EventIndexerFailed,
			IndexerID:   def.ID,
			IndexerName: def.Name,
			Error:       task.err.Error(),
		})
		return task
	}

	if criteria.Limit == 0 || criteria.Limit > perIndexerLimit {
		criteria.Limit = perIndexerLimit
	}

	start := time.Now()
	results, err := client.Search(ctx, criteria)
	elapsed := time.Since(start)

	if err != nil {
		task.err = fmt.Errorf("search failed: %w", err)
		m.logger.Error().Err(err).
			Int64("indexerId", def.ID).
			Str("indexerName", def.Name).
			Dur("elapsed", elapsed).
			Msg("indexer search failed")
		m.emit(ProgressEvent{
			SearchID:    searchID,
			Type:        EventIndexerFailed,
			IndexerID:   def.ID,
			IndexerName: def.Name,
			Error:       err.Error(),
			ElapsedMs:   elapsed.Milliseconds(),
		})
		return task
	}

	if len(results) > perIndexerLimit {
		results = results[:perIndexerLimit]
	}
	task.results = results

	m.emit(ProgressEvent{
		SearchID:    searchID,
		Type:        EventIndexerResult,
		IndexerID:   def.ID,
		IndexerName: def.Name,
		ResultCount: len(results),
		ElapsedMs:   elapsed.Milliseconds(),
	})

	return task
}

// deduplicate groups results by normalized title and ±5% size bucket.
// Within a group torrents with more seeders win; usenet entries fall
// back to indexer priority (lower number wins).
func (m *Manager) deduplicate(results []types.SearchResult, priorities map[int64]int) []types.SearchResult {
	type group struct {
		indexes []int
	}
	groups := make(map[string]*group)
	kept := make([]types.SearchResult, 0, len(results))

	for _, result := range results {
		key := normalizeTitle(result.Title)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}

		duplicateOf := -1
		for _, idx := range g.indexes {
			if sizesWithinTolerance(kept[idx].Size, result.Size) {
				duplicateOf = idx
				break
			}
		}

		if duplicateOf == -1 {
			g.indexes = append(g.indexes, len(kept))
			kept = append(kept, result)
			continue
		}

		if preferResult(result, kept[duplicateOf], priorities) {
			kept[duplicateOf] = result
		}
	}

	return kept
}

func preferResult(candidate, existing types.SearchResult, priorities map[int64]int) bool {
	if candidate.Protocol == types.ProtocolTorrent || existing.Protocol == types.ProtocolTorrent {
		return candidate.Seeders > existing.Seeders
	}
	return priorities[candidate.IndexerID] < priorities[existing.IndexerID]
}

// sizesWithinTolerance reports whether two sizes differ by at most 5%
// of the larger.
func sizesWithinTolerance(a, b int64) bool {
	if a == 0 || b == 0 {
		return a == b
	}
	larger := a
	diff := a - b
	if diff < 0 {
		diff = -diff
		larger = b
	}
	return diff*20 <= larger
}

func normalizeTitle(title string) string {
	title = strings.ToLower(title)
	var b strings.Builder
	b.Grow(len(title))
	lastSpace := true
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func (m *Manager) filterBlocklisted(ctx context.Context, results []types.SearchResult) []types.SearchResult {
	if m.blocklist == nil {
		return results
	}

	kept := make([]types.SearchResult, 0, len(results))
	for _, result := range results {
		group := parser.Parse(result.Title).ReleaseGroup
		blocked, err := m.blocklist.IsBlocked(ctx, result.Title, group)
		if err != nil {
			m.logger.Warn().Err(err).Str("title", result.Title).Msg("blocklist check failed")
			kept = append(kept, result)
			continue
		}
		if blocked {
			m.logger.Debug().Str("title", result.Title).Msg("dropping blocklisted release")
			continue
		}
		kept = append(kept, result)
	}
	return kept
}

func (m *Manager) score(results []types.SearchResult, profile *quality.Profile, priorities map[int64]int, runtimeMinutes int) []ScoredSearchResult {
	if profile == nil {
		profile = quality.DefaultProfile()
	}

	scored := make([]ScoredSearchResult, 0, len(results))
	for _, result := range results {
		parsed := parser.Parse(result.Title)
		verdict := quality.Score(parsed, profile, result.Size, runtimeMinutes)
		scored = append(scored, ScoredSearchResult{
			SearchResult:      result,
			Parsed:            parsed,
			BaseScore:         verdict.BaseScore,
			CustomFormatScore: verdict.CustomFormatScore,
			TotalScore:        verdict.TotalScore,
			Rejected:          !verdict.Accepted,
			RejectionReasons:  verdict.RejectionReasons,
			indexerPriority:   priorities[result.IndexerID],
		})
	}
	return scored
}

// rank orders results by total score, then seeders, then smaller size,
// then indexer priority (lower number first), then publish date. The
// sort is stable so equal results keep their arrival order.
func rank(results []ScoredSearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.Seeders != b.Seeders {
			return a.Seeders > b.Seeders
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		if a.indexerPriority != b.indexerPriority {
			return a.indexerPriority < b.indexerPriority
		}
		return a.PublishDate.After(b.PublishDate)
	})
}

func filterBySupport(defs []*types.IndexerDefinition, criteria types.SearchCriteria) []*types.IndexerDefinition {
	filtered := make([]*types.IndexerDefinition, 0, len(defs))
	for _, def := range defs {
		if !def.SupportsSearch {
			continue
		}
		switch criteria.Type {
		case "movie":
			if !def.SupportsMovies {
				continue
			}
		case "tvsearch":
			if !def.SupportsTV {
				continue
			}
		}
		filtered = append(filtered, def)
	}
	return filtered
}
