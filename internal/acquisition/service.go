// Package acquisition orchestrates the pipeline from grabbed release
// to imported library file: client selection, tracked download
// lifecycle, import decisions, upgrades and failure policy.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/blocklist"
	"github.com/halyard/halyard/internal/download"
	"github.com/halyard/halyard/internal/download/qualitystatus"
	"github.com/halyard/halyard/internal/downloader"
	dltypes "github.com/halyard/halyard/internal/downloader/types"
	"github.com/halyard/halyard/internal/history"
	"github.com/halyard/halyard/internal/importer"
	"github.com/halyard/halyard/internal/indexer/manager"
	"github.com/halyard/halyard/internal/indexer/types"
	"github.com/halyard/halyard/internal/parser"
	"github.com/halyard/halyard/internal/quality"
	"github.com/halyard/halyard/internal/request"
)

// Media types as stored on tracked downloads.
const (
	MediaTypeMovie   = "movie"
	MediaTypeEpisode = "episode"
	MediaTypeSeason  = "season"
)

// LibraryResolver maps a media type to its destination library root.
type LibraryResolver interface {
	// LibraryPath returns the root directory for "movie" or "tv".
	LibraryPath(ctx context.Context, class string) (string, error)
}

// MediaResolver supplies naming, episode candidates and the quality
// profile for a media item. All methods may return ErrMediaUnknown;
// the pipeline then falls back to parsed release attributes.
type MediaResolver interface {
	MediaTitle(ctx context.Context, mediaID int64, mediaType string) (title string, year int, err error)
	EpisodeCandidates(ctx context.Context, mediaID int64) ([]importer.Episode, error)
	QualityProfile(ctx context.Context, mediaID int64, mediaType string) (*quality.Profile, error)
}

// ErrMediaUnknown is returned by MediaResolver implementations when no
// record exists for the referenced media item.
var ErrMediaUnknown = errors.New("media item not found")

// Service is the orchestrator. The monitoring loop calls
// OnReadyForImport and OnReadyToRemove; the API layer calls the
// inbound operations.
type Service struct {
	store     *download.Store
	clients   *downloader.Service
	indexers  *manager.Manager
	blocklist *blocklist.Store
	history   *history.Store
	quality   *qualitystatus.Store
	notifier  request.Notifier
	libraries LibraryResolver
	media     MediaResolver
	cfg       Config
	logger    zerolog.Logger

	mu         sync.Mutex
	lastRetry  map[string]time.Time // media key -> last searchAlternative
	retryAfter time.Duration
}

func NewService(
	store *download.Store,
	clients *downloader.Service,
	indexers *manager.Manager,
	bl *blocklist.Store,
	hist *history.Store,
	qs *qualitystatus.Store,
	libraries LibraryResolver,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		store:      store,
		clients:    clients,
		indexers:   indexers,
		blocklist:  bl,
		history:    hist,
		quality:    qs,
		notifier:   request.NopNotifier{},
		libraries:  libraries,
		cfg:        cfg,
		logger:     logger.With().Str("component", "acquisition").Logger(),
		lastRetry:  make(map[string]time.Time),
		retryAfter: time.Hour,
	}
}

// SetNotifier attaches the request lifecycle collaborator.
func (s *Service) SetNotifier(n request.Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// SetMediaResolver attaches the library metadata source.
func (s *Service) SetMediaResolver(m MediaResolver) {
	s.media = m
}

// SearchReleases fans a search out across all enabled indexers and
// returns scored, ranked results.
func (s *Service) SearchReleases(ctx context.Context, criteria types.SearchCriteria, profile *quality.Profile, runtimeMinutes int) (*manager.SearchResponse, error) {
	return s.indexers.Search(ctx, criteria, profile, runtimeMinutes)
}

// SubscribeSearchProgress returns a stream of search progress events
// and a cancel function.
func (s *Service) SubscribeSearchProgress() (<-chan manager.ProgressEvent, func()) {
	return s.indexers.Subscribe()
}

// ListTracked returns tracked downloads, optionally filtered by state.
func (s *Service) ListTracked(ctx context.Context, states ...download.State) ([]*download.TrackedDownload, error) {
	return s.store.List(ctx, states...)
}

// GrabRelease submits a scored result to a matching download client
// and starts tracking it. A duplicate grab updates the existing row's
// media binding and returns it without error.
func (s *Service) GrabRelease(ctx context.Context, result manager.ScoredSearchResult, mediaID *int64, mediaType string, requestID *int64) (*download.TrackedDownload, error) {
	kind := dltypes.KindTorrent
	if result.Protocol == types.ProtocolUsenet {
		kind = dltypes.KindUsenet
	}

	candidates, err := s.clients.ListEnabledByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("listing download clients: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoClientAvailable, kind)
	}
	dc := candidates[0]

	client, err := s.clients.ClientFor(dc)
	if err != nil {
		return nil, fmt.Errorf("building client %s: %w", dc.Name, err)
	}

	var externalID string
	err = withRetry(ctx, func() error {
		var addErr error
		if kind == dltypes.KindTorrent {
			url := result.MagnetLink
			if url == "" {
				url = result.Link
			}
			externalID, addErr = client.AddTorrent(ctx, url, dc.Category)
		} else {
			externalID, addErr = client.AddNZB(ctx, result.Link, dc.Category)
		}
		return addErr
	})
	if err != nil {
		return nil, fmt.Errorf("submitting to %s: %w", dc.Name, err)
	}
	if externalID == "" {
		externalID = strings.ToLower(result.InfoHash)
	}
	if externalID == "" {
		externalID = result.GUID
	}

	parsed := result.Parsed
	if parsed.Title == "" {
		parsed = parser.Parse(result.Title)
	}

	td, err := s.store.Create(ctx, &download.TrackedDownload{
		DownloadClientID:  dc.ID,
		ExternalID:        externalID,
		RequestID:         requestID,
		MediaID:           mediaID,
		MediaType:         mediaType,
		Title:             result.Title,
		ParsedInfo:        &parsed,
		Size:              result.Size,
		Quality:           quality.TierFor(parsed).String(),
		CustomFormatScore: result.CustomFormatScore,
	})
	if errors.Is(err, download.ErrAlreadyExists) {
		existing, getErr := s.store.GetByExternal(ctx, dc.ID, externalID)
		if getErr != nil {
			return nil, fmt.Errorf("loading duplicate grab: %w", getErr)
		}
		if err := s.store.UpdateBinding(ctx, existing.ID, requestID, mediaID, mediaType); err != nil {
			return nil, fmt.Errorf("rebinding duplicate grab: %w", err)
		}
		s.logger.Info().Str("title", result.Title).Msg("Duplicate grab, reusing tracked download")
		return s.store.Get(ctx, existing.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("tracking download: %w", err)
	}

	if _, err := s.history.Add(ctx, history.Record{
		EventType:      history.EventGrabbed,
		MediaID:        int64Value(mediaID),
		MediaType:      mediaType,
		ReleaseTitle:   result.Title,
		IndexerName:    result.IndexerName,
		DownloadClient: dc.Name,
		Quality:        td.Quality,
		Data:           map[string]string{"protocol": string(result.Protocol)},
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record grab history")
	}

	if requestID != nil {
		if err := s.notifier.MarkProcessing(ctx, *requestID); err != nil {
			s.logger.Warn().Err(err).Int64("request_id", *requestID).Msg("Request notify failed")
		}
	}

	s.logger.Info().
		Str("title", result.Title).
		Str("client", dc.Name).
		Str("external_id", externalID).
		Msg("Release grabbed")
	return td, nil
}

// OnReadyForImport drives a completed download through the import
// pipeline. Safe to invoke more than once: the FSM guard makes the
// second call a no-op.
func (s *Service) OnReadyForImport(ctx context.Context, td *download.TrackedDownload) error {
	err := s.store.Transition(ctx, td.ID, download.StateImporting, "", "")
	if errors.Is(err, download.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("starting import: %w", err)
	}

	importCtx, cancel := context.WithTimeout(ctx, s.cfg.ImportTimeout)
	defer cancel()

	importPath, pipeErr := s.runImportPipeline(importCtx, td)
	if pipeErr == nil {
		if err := s.store.SetImportPath(ctx, td.ID, importPath); err != nil {
			s.logger.Warn().Err(err).Int64("id", td.ID).Msg("Failed to record import path")
		}
		if err := s.store.Transition(ctx, td.ID, download.StateImported, "", importPath); err != nil {
			return fmt.Errorf("finishing import: %w", err)
		}
		if td.RequestID != nil {
			if err := s.notifier.MarkAvailable(ctx, *td.RequestID); err != nil {
				s.logger.Warn().Err(err).Msg("Request notify failed")
			}
		}
		s.logger.Info().Str("title", td.Title).Str("path", importPath).Msg("Import complete")
		return nil
	}

	if importCtx.Err() != nil && errors.Is(pipeErr, context.DeadlineExceeded) {
		s.failDownload(ctx, td, ReasonImportTimeout, pipeErr)
		return pipeErr
	}
	if reason := blockReason(pipeErr); reason != "" {
		if err := s.store.Transition(ctx, td.ID, download.StateImportBlocked, reason, pipeErr.Error()); err != nil {
			s.logger.Error().Err(err).Int64("id", td.ID).Msg("Failed to block import")
		}
		s.logger.Warn().Str("title", td.Title).Str("reason", reason).Msg("Import blocked")
		return pipeErr
	}
	s.failDownload(ctx, td, ReasonImportFailed, pipeErr)
	return pipeErr
}

// OnReadyToRemove removes a fully seeded, imported torrent from its
// client, keeping the downloaded files on disk.
func (s *Service) OnReadyToRemove(ctx context.Context, td *download.TrackedDownload) error {
	dc, err := s.clients.Get(ctx, td.DownloadClientID)
	if err != nil {
		return fmt.Errorf("loading client: %w", err)
	}
	client, err := s.clients.ClientFor(dc)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}
	if err := withRetry(ctx, func() error {
		return client.Remove(ctx, td.ExternalID, false)
	}); err != nil {
		return fmt.Errorf("removing from %s: %w", dc.Name, err)
	}
	s.logger.Info().Str("title", td.Title).Str("client", dc.Name).Msg("Seeding complete, removed from client")
	return nil
}

// CancelTracked stops tracking a download, optionally deleting it from
// the client. Downloads in a cancellable state move to ignored;
// otherwise the row is removed.
func (s *Service) CancelTracked(ctx context.Context, id int64, deleteFromClient, deleteFiles bool) error {
	td, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if deleteFromClient {
		if dc, err := s.clients.Get(ctx, td.DownloadClientID); err == nil {
			if client, err := s.clients.ClientFor(dc); err == nil {
				if err := client.Remove(ctx, td.ExternalID, deleteFiles); err != nil {
					s.logger.Warn().Err(err).Str("title", td.Title).Msg("Failed to remove from client on cancel")
				}
			}
		}
	}

	err = s.store.Transition(ctx, id, download.StateIgnored, "cancelled", "")
	if errors.Is(err, download.ErrInvalidTransition) {
		return s.store.Delete(ctx, id)
	}
	return err
}

// runImportPipeline performs steps 1-8 of the import. Errors wrapped
// with blocked() land in import_blocked; everything else fails the
// download.
func (s *Service) runImportPipeline(ctx context.Context, td *download.TrackedDownload) (string, error) {
	if td.DownloadPath == "" {
		return "", blocked(ReasonNoValidVideo, errors.New("download path unknown"))
	}

	class := "tv"
	if td.MediaType == MediaTypeMovie || (td.ParsedInfo != nil && !td.ParsedInfo.IsTV()) {
		class = "movie"
	}
	library, err := s.libraries.LibraryPath(ctx, class)
	if err != nil {
		return "", blocked(ReasonDestinationGone, err)
	}

	decisions, err := importer.ScanDecisions(td.DownloadPath, importer.DecisionConfig{
		SampleThresholdBytes: s.cfg.SampleThresholdBytes,
	})
	if err != nil {
		return "", fmt.Errorf("scanning download: %w", err)
	}
	main, err := importer.GetMainFile(decisions)
	if err != nil {
		return "", blocked(ReasonNoValidVideo, err)
	}

	parsed := td.ParsedInfo
	if parsed == nil {
		p := parser.Parse(td.Title)
		parsed = &p
	}

	var importPath string
	if class == "movie" {
		importPath, err = s.importMovie(ctx, td, library, main, decisions, parsed)
	} else {
		importPath, err = s.importEpisodes(ctx, td, library, decisions, parsed)
	}
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if _, err := s.history.Add(ctx, history.Record{
		EventType:    history.EventImported,
		MediaID:      int64Value(td.MediaID),
		MediaType:    td.MediaType,
		ReleaseTitle: td.Title,
		Quality:      quality.TierFor(*parsed).String(),
		Data:         map[string]string{"import_path": importPath},
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record import history")
	}

	if td.MediaID != nil {
		if err := s.quality.Record(ctx, *td.MediaID, td.MediaType, *parsed, s.profileFor(ctx, td)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record quality status")
		}
	}

	if err := os.RemoveAll(td.DownloadPath); err != nil {
		s.logger.Warn().Err(err).Str("path", td.DownloadPath).Msg("Failed to clean up download path")
	}
	return importPath, nil
}

func (s *Service) importMovie(ctx context.Context, td *download.TrackedDownload, library string, main *importer.FileDecision, decisions []importer.FileDecision, parsed *parser.ParsedRelease) (string, error) {
	title, year := s.titleFor(ctx, td, parsed)
	dest := importer.MoviePath(library, title, year, filepath.Ext(main.Path))

	replaced := false
	if td.MediaID != nil {
		existing, err := s.quality.Get(ctx, *td.MediaID, td.MediaType)
		if err != nil && !errors.Is(err, qualitystatus.ErrNotFound) {
			return "", fmt.Errorf("reading quality status: %w", err)
		}
		if existing != nil {
			decision := importer.ShouldUpgrade(existing, *parsed)
			if !decision.Upgrade {
				if _, statErr := os.Stat(dest); statErr == nil {
					return "", blocked(ReasonNotAnUpgrade, nil)
				}
			} else if _, statErr := os.Stat(dest); statErr == nil {
				// Old file is only disposed of after the new one lands.
				if err := importer.ReplaceFile(main.Path, dest, s.oldFilePolicy(), s.logger); err != nil {
					return "", fmt.Errorf("replacing existing file: %w", err)
				}
				replaced = true
			}
		}
	}

	if !replaced {
		if err := importer.MoveFile(main.Path, dest); err != nil {
			return "", fmt.Errorf("moving main file: %w", err)
		}
	}

	extrasDir := importer.MovieExtrasDir(library, title, year)
	for _, extra := range importer.GetExtras(decisions) {
		target := filepath.Join(extrasDir, filepath.Base(extra.Path))
		if err := importer.MoveFile(extra.Path, target); err != nil {
			s.appendWarning(ctx, td.ID, fmt.Sprintf("extra not moved: %v", err))
		}
	}
	s.placeSubtitles(ctx, td, dest)
	return filepath.Dir(dest), nil
}

func (s *Service) importEpisodes(ctx context.Context, td *download.TrackedDownload, library string, decisions []importer.FileDecision, parsed *parser.ParsedRelease) (string, error) {
	show, year := s.titleFor(ctx, td, parsed)

	var files []string
	for _, d := range decisions {
		if d.Approved && !d.IsExtra {
			files = append(files, d.Path)
		}
	}

	seasonHint := 0
	if parsed.IsSeasonPack {
		seasonHint = parsed.Season
	}

	var candidates []importer.Episode
	if s.media != nil && td.MediaID != nil {
		eps, err := s.media.EpisodeCandidates(ctx, *td.MediaID)
		if err != nil && !errors.Is(err, ErrMediaUnknown) {
			return "", fmt.Errorf("loading episode candidates: %w", err)
		}
		candidates = eps
	}

	type placement struct {
		src             string
		season, episode int
	}
	var placements []placement

	if len(candidates) > 0 {
		result := importer.MatchEpisodes(files, candidates, seasonHint)
		for _, m := range result.Matches {
			placements = append(placements, placement{src: m.File, season: m.SeasonNumber, episode: m.EpisodeNumber})
		}
		for _, u := range result.Unmatched {
			s.appendWarning(ctx, td.ID, fmt.Sprintf("unmatched file: %s", filepath.Base(u)))
		}
	} else {
		// No episode records available: trust filename numbering.
		for _, f := range files {
			p := parser.Parse(filepath.Base(f))
			if p.Season > 0 && p.Episode > 0 {
				placements = append(placements, placement{src: f, season: p.Season, episode: p.Episode})
			} else {
				s.appendWarning(ctx, td.ID, fmt.Sprintf("unmatched file: %s", filepath.Base(f)))
			}
		}
	}

	if len(placements) == 0 {
		return "", blocked(ReasonNoValidVideo, errors.New("no file matched an episode"))
	}

	season := placements[0].season
	for _, p := range placements {
		dest := importer.EpisodePath(library, show, year, p.season, p.episode, filepath.Ext(p.src))
		if err := importer.MoveFile(p.src, dest); err != nil {
			return "", fmt.Errorf("moving %s: %w", filepath.Base(p.src), err)
		}
		s.placeSubtitles(ctx, td, dest)
	}
	return importer.SeasonDir(library, show, year, season), nil
}

// placeSubtitles moves subtitles found beside the source next to the
// imported video, preserving language suffixes.
func (s *Service) placeSubtitles(ctx context.Context, td *download.TrackedDownload, videoDest string) {
	subs, err := importer.FindSubtitles(td.DownloadPath)
	if err != nil {
		s.appendWarning(ctx, td.ID, fmt.Sprintf("subtitle scan failed: %v", err))
		return
	}
	for _, sub := range subs {
		target := importer.SubtitlePath(videoDest, sub)
		if err := importer.MoveFile(sub, target); err != nil {
			s.appendWarning(ctx, td.ID, fmt.Sprintf("subtitle not moved: %v", err))
		}
	}
}

// failDownload applies the permanent-at-source policy: failed state,
// blocklist entry, group failure count, optional client delete and
// alternative search.
func (s *Service) failDownload(ctx context.Context, td *download.TrackedDownload, reason string, cause error) {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	if err := s.store.Transition(ctx, td.ID, download.StateFailed, reason, details); err != nil {
		s.logger.Error().Err(err).Int64("id", td.ID).Msg("Failed to mark download failed")
	}

	group := ""
	if td.ParsedInfo != nil {
		group = td.ParsedInfo.ReleaseGroup
	}
	if _, err := s.blocklist.Add(ctx, blocklist.Entry{
		ReleaseTitle: td.Title,
		ReleaseGroup: group,
		MediaID:      int64Value(td.MediaID),
		MediaType:    td.MediaType,
		Reason:       reason,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to blocklist release")
	}
	if _, err := s.blocklist.RecordGroupFailure(ctx, group); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record group failure")
	}

	if s.cfg.DeleteOnFail {
		if dc, err := s.clients.Get(ctx, td.DownloadClientID); err == nil {
			if client, err := s.clients.ClientFor(dc); err == nil {
				if err := client.Remove(ctx, td.ExternalID, true); err != nil {
					s.logger.Warn().Err(err).Str("title", td.Title).Msg("Failed to delete failed download from client")
				}
			}
		}
	}

	if td.RequestID != nil {
		if err := s.notifier.MarkFailed(ctx, *td.RequestID, reason); err != nil {
			s.logger.Warn().Err(err).Msg("Request notify failed")
		}
	}

	s.searchAlternative(ctx, td)
}

// searchAlternative re-searches for the failed media item and grabs
// the best non-blocklisted release. At most one retry per media item
// per hour.
func (s *Service) searchAlternative(ctx context.Context, td *download.TrackedDownload) {
	if !s.cfg.SearchAlternative || td.MediaID == nil || td.ParsedInfo == nil {
		return
	}

	key := fmt.Sprintf("%s:%d", td.MediaType, *td.MediaID)
	s.mu.Lock()
	if last, ok := s.lastRetry[key]; ok && time.Since(last) < s.retryAfter {
		s.mu.Unlock()
		s.logger.Debug().Str("media", key).Msg("Alternative search rate-limited")
		return
	}
	s.lastRetry[key] = time.Now()
	s.mu.Unlock()

	criteria := types.SearchCriteria{Query: td.ParsedInfo.Title, Type: "search"}
	if td.MediaType == MediaTypeMovie {
		criteria.Type = "movie"
		criteria.Year = td.ParsedInfo.Year
	} else if td.ParsedInfo.IsTV() {
		criteria.Type = "tvsearch"
		criteria.Season = td.ParsedInfo.Season
		criteria.Episode = td.ParsedInfo.Episode
	}

	resp, err := s.indexers.Search(ctx, criteria, s.profileFor(ctx, td), 0)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Alternative search failed")
		return
	}

	for _, result := range resp.Results {
		if result.Rejected || result.Title == td.Title {
			continue
		}
		isBlocked, err := s.blocklist.IsBlocked(ctx, result.Title, result.Parsed.ReleaseGroup)
		if err != nil || isBlocked {
			continue
		}
		s.logger.Info().Str("title", result.Title).Msg("Grabbing alternative release")
		if _, err := s.GrabRelease(ctx, result, td.MediaID, td.MediaType, td.RequestID); err != nil {
			s.logger.Warn().Err(err).Str("title", result.Title).Msg("Alternative grab failed")
			continue
		}
		return
	}
	s.logger.Info().Str("title", td.Title).Msg("No alternative release available")
}

func (s *Service) titleFor(ctx context.Context, td *download.TrackedDownload, parsed *parser.ParsedRelease) (string, int) {
	if s.media != nil && td.MediaID != nil {
		title, year, err := s.media.MediaTitle(ctx, *td.MediaID, td.MediaType)
		if err == nil && title != "" {
			return title, year
		}
		if err != nil && !errors.Is(err, ErrMediaUnknown) {
			s.logger.Warn().Err(err).Msg("Media title lookup failed, using parsed title")
		}
	}
	return parsed.Title, parsed.Year
}

func (s *Service) profileFor(ctx context.Context, td *download.TrackedDownload) *quality.Profile {
	if s.media != nil && td.MediaID != nil {
		if p, err := s.media.QualityProfile(ctx, *td.MediaID, td.MediaType); err == nil && p != nil {
			return p
		}
	}
	return quality.DefaultProfile()
}

func (s *Service) oldFilePolicy() importer.OldFileConfig {
	return importer.OldFileConfig{
		KeepOldFiles:   s.cfg.KeepOldFiles,
		RecycleBinPath: s.cfg.RecycleBinPath,
	}
}

func (s *Service) appendWarning(ctx context.Context, id int64, warning string) {
	if err := s.store.AppendWarning(ctx, id, warning); err != nil {
		s.logger.Warn().Err(err).Int64("id", id).Msg("Failed to append warning")
	}
}

func int64Value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
