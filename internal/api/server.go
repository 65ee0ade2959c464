//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/acquisition"
	"github.com/halyard/halyard/internal/blocklist"
	"github.com/halyard/halyard/internal/config"
	"github.com/halyard/halyard/internal/crypto"
	"github.com/halyard/halyard/internal/download"
	"github.com/halyard/halyard/internal/download/qualitystatus"
	"github.com/halyard/halyard/internal/downloader"
	"github.com/halyard/halyard/internal/history"
	"github.com/halyard/halyard/internal/indexer/manager"
	"github.com/halyard/halyard/internal/quality"
	"github.com/halyard/halyard/internal/request"
	"github.com/halyard/halyard/internal/websocket"
)

// Server handles HTTP requests for the Halyard API.
type Server struct {
	echo   *echo.Echo
	db     *sql.DB
	hub    *websocket.Hub
	logger zerolog.Logger
	cfg    *config.Config

	startTime time.Time

	// Services
	downloaderService  *downloader.Service
	indexerStore       *manager.Store
	indexerManager     *manager.Manager
	downloadStore      *download.Store
	blocklistStore     *blocklist.Store
	historyStore       *history.Store
	qualityStatusStore *qualitystatus.Store
	acquisitionService *acquisition.Service

	profile *quality.Profile
	logs    LogsProvider
}

// NewServer creates a new API server instance and wires the service
// graph behind it.
func NewServer(db *sql.DB, hub *websocket.Hub, cfg *config.Config, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		db:        db,
		hub:       hub,
		logger:    logger,
		cfg:       cfg,
		startTime: time.Now(),
	}

	// Initialize download client service
	s.downloaderService = downloader.NewService(db, logger)

	// Initialize blocklist ahead of the indexer manager so searches can
	// filter blocked releases
	s.blocklistStore = blocklist.NewStore(db, cfg.Acquisition.AutoBlockAfter, logger)

	// Initialize indexer manager with blocklist filtering and WebSocket
	// progress events
	s.indexerStore = manager.NewStore(db)
	s.indexerManager = manager.NewManager(s.indexerStore, logger)
	s.indexerManager.SetBlocklist(s.blocklistStore)
	s.indexerManager.SetBroadcaster(hub)

	// Initialize tracked download, history and quality status stores
	s.downloadStore = download.NewStore(db, logger)
	s.historyStore = history.NewStore(db, logger)
	s.qualityStatusStore = qualitystatus.NewStore(db, logger)

	// Initialize the acquisition orchestrator
	s.acquisitionService = acquisition.NewService(
		s.downloadStore,
		s.downloaderService,
		s.indexerManager,
		s.blocklistStore,
		s.historyStore,
		s.qualityStatusStore,
		acquisition.Libraries{
			Movies: cfg.Libraries.MoviesPath,
			TV:     cfg.Libraries.TVPath,
		},
		AcquisitionConfig(&cfg.Acquisition),
		logger,
	)
	s.acquisitionService.SetNotifier(request.NewLoggingNotifier(logger))

	// Search scoring profile, with user-supplied custom formats when
	// configured.
	s.profile = quality.DefaultProfile()
	if cfg.Quality.FormatsPath != "" {
		formats, err := quality.LoadFormats(cfg.Quality.FormatsPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.Quality.FormatsPath).
				Msg("Failed to load custom formats, using defaults")
		} else {
			s.profile.CustomFormats = formats
			logger.Info().Int("count", len(formats)).Msg("Loaded custom formats")
		}
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// AcquisitionConfig maps file configuration onto pipeline tunables.
func AcquisitionConfig(cfg *config.AcquisitionConfig) acquisition.Config {
	return acquisition.Config{
		PollInterval:     cfg.PollInterval,
		StalledThreshold: cfg.StalledThreshold,
		Seeding: download.SeedingConfig{
			MinRatio:    cfg.Seeding.MinRatio,
			MinSeedTime: cfg.Seeding.MinSeedTime,
			MaxSeedTime: cfg.Seeding.MaxSeedTime,
		},
		AutoBlockAfter:         cfg.AutoBlockAfter,
		DeleteOnFail:           cfg.DeleteOnFail,
		SearchAlternative:      cfg.SearchAlternative,
		SampleThresholdBytes:   cfg.SampleThresholdBytes,
		ImportTimeout:          cfg.ImportTimeout,
		RecycleBinPath:         cfg.RecycleBinPath,
		KeepOldFiles:           cfg.KeepOldFiles,
		SplitMultiEpisodeFiles: cfg.SplitMultiEpisodeFiles,
	}
}

// SetSecretStore enables encryption-at-rest for download client
// credentials. Must be called before the first client is built.
func (s *Server) SetSecretStore(secrets *crypto.SecretStore) {
	s.downloaderService.SetSecretStore(secrets)
}

// SetLogsProvider attaches the log ring buffer behind /api/v1/logs.
func (s *Server) SetLogsProvider(p LogsProvider) {
	s.logs = p
}

// AcquisitionService exposes the orchestrator for monitor wiring.
func (s *Server) AcquisitionService() *acquisition.Service {
	return s.acquisitionService
}

// DownloaderService exposes the download client registry for monitor wiring.
func (s *Server) DownloaderService() *downloader.Service {
	return s.downloaderService
}

// DownloadStore exposes the tracked download store for monitor wiring.
func (s *Server) DownloadStore() *download.Store {
	return s.downloadStore
}

// BlocklistStore exposes the blocklist for scheduled pruning.
func (s *Server) BlocklistStore() *blocklist.Store {
	return s.blocklistStore
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Request ID
	s.echo.Use(middleware.RequestID())

	// Request body size limit (2MB)
	s.echo.Use(middleware.BodyLimit("2M"))

	// CORS
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	// Gzip compression
	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// Skip compression for WebSocket
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// Start begins serving HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// --- Handler implementations ---

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()

	active, _ := s.downloadStore.ListActive(ctx)
	pending, _ := s.downloadStore.ListPendingImport(ctx)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":        config.Version,
		"startTime":      s.startTime.Format(time.RFC3339),
		"activeCount":    len(active),
		"pendingImports": len(pending),
		"wsClients":      s.hub.ClientCount(),
	})
}
