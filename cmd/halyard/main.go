package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/halyard/halyard/internal/api"
	"github.com/halyard/halyard/internal/config"
	"github.com/halyard/halyard/internal/crypto"
	"github.com/halyard/halyard/internal/database"
	"github.com/halyard/halyard/internal/download"
	"github.com/halyard/halyard/internal/logger"
	"github.com/halyard/halyard/internal/scheduler"
	"github.com/halyard/halyard/internal/scheduler/tasks"
	"github.com/halyard/halyard/internal/websocket"
)

func main() {
	// .env is optional; real deployments use config file or env vars
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	log.Info().
		Str("version", config.Version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting Halyard")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// WebSocket hub for progress and state change events
	hub := websocket.NewHub()
	go hub.Run()

	server := api.NewServer(db.Conn(), hub, cfg, log.Logger)

	// Stream buffered log entries over the hub and the logs endpoint
	if b := log.Broadcaster(); b != nil {
		b.SetHub(hub)
		server.SetLogsProvider(log)
	}

	// Credential encryption at rest, keyed from config
	if cfg.Server.SecretKey != "" {
		salt, err := loadOrCreateSalt(cfg.Database.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize credential salt")
		}
		server.SetSecretStore(crypto.NewSecretStore(cfg.Server.SecretKey, salt))
	}

	// Monitoring loop: polls download clients and drives tracked
	// download state; the acquisition service handles the callbacks.
	acq := server.AcquisitionService()
	monitor := download.NewMonitor(
		server.DownloadStore(),
		server.DownloaderService(),
		download.MonitorConfig{
			PollInterval:     cfg.Acquisition.PollInterval,
			StalledThreshold: cfg.Acquisition.StalledThreshold,
			Seeding: download.SeedingConfig{
				MinRatio:    cfg.Acquisition.Seeding.MinRatio,
				MinSeedTime: cfg.Acquisition.Seeding.MinSeedTime,
				MaxSeedTime: cfg.Acquisition.Seeding.MaxSeedTime,
			},
		},
		log.Logger,
	)
	monitor.OnReadyForImport = func(ctx context.Context, td *download.TrackedDownload) {
		if err := acq.OnReadyForImport(ctx, td); err != nil {
			log.Error().Err(err).Int64("id", td.ID).Msg("import failed")
		}
	}
	monitor.OnReadyToRemove = func(ctx context.Context, td *download.TrackedDownload) {
		if err := acq.OnReadyToRemove(ctx, td); err != nil {
			log.Warn().Err(err).Int64("id", td.ID).Msg("seeding removal failed")
		}
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go monitor.Run(monitorCtx)

	// Background maintenance
	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	if err := tasks.RegisterRecycleBinCleanup(sched, &cfg.Acquisition, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register recycle bin cleanup")
	}
	if err := tasks.RegisterBlocklistPrune(sched, server.BlocklistStore(), &cfg.Acquisition); err != nil {
		log.Fatal().Err(err).Msg("failed to register blocklist prune")
	}
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	go func() {
		if err := server.Start(cfg.Server.Address()); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	stopMonitor()
	monitor.Wait()

	if err := sched.Stop(); err != nil {
		log.Warn().Err(err).Msg("scheduler stop failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("stopped")
}

// loadOrCreateSalt persists the key derivation salt next to the
// database so encrypted credentials survive restarts.
func loadOrCreateSalt(dbPath string) ([]byte, error) {
	saltPath := filepath.Join(filepath.Dir(dbPath), "secret.salt")

	salt, err := os.ReadFile(saltPath)
	if err == nil && len(salt) > 0 {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	salt, err = crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}
