package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/droneai/review-agent/internal/acquire"
	"github.com/droneai/review-agent/internal/api"
	"github.com/droneai/review-agent/internal/classify"
	"github.com/droneai/review-agent/internal/cloud"
	"github.com/droneai/review-agent/internal/config"
	"github.com/droneai/review-agent/internal/db"
	"github.com/droneai/review-agent/internal/extract"
	"github.com/droneai/review-agent/internal/labels"
	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/metrics"
	"github.com/droneai/review-agent/internal/pipeline"
	"github.com/droneai/review-agent/internal/review"
	"github.com/droneai/review-agent/internal/store"
	"github.com/droneai/review-agent/internal/ui"
	"github.com/droneai/review-agent/internal/watcher"
)

const (
	downloadTimeout   = 30 * time.Minute
	checkpointEvery   = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
	classifierTimeout = 30 * time.Second
	bucketTimeout     = 10 * time.Second
)

func runServe(ctx context.Context) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.DownloadsDir(), cfg.ResultsDir(), cfg.LabelsDir(), cfg.MetadataDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting review agent", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 DRONE REVIEW AGENT v%-21s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	collector := metrics.NewCollector(prometheus.NewRegistry())
	ffmpeg := pipeline.NewRealFFmpeg(cfg.FFmpegPath(), cfg.FFprobePath(), logger)

	acquirer := acquire.Auto{
		Local: acquire.Local{},
		Remote: &acquire.YTDLP{
			Binary:     cfg.YTDLPPath(),
			FFmpegPath: cfg.FFmpegPath(),
			Dir:        cfg.DownloadsDir(),
			Timeout:    downloadTimeout,
			Logger:     logging.WithComponent(logger, "acquire"),
		},
	}

	classifier, doctor := setupClassifier(ctx, cfg, logger)
	uploader := setupUploader(ctx, cfg, logger)

	catalog, err := labels.NewCatalog(cfg.LabelsDir(), logging.WithComponent(logger, "labels"))
	if err != nil {
		return fmt.Errorf("failed to load label groups: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	labelWatcher := watcher.NewFSWatcher(logger)
	labelWatcher.OnChange(func(path string, ev watcher.EventType) {
		if !labels.IsGroupFile(path) {
			return
		}
		logger.Debug("label group file changed", "file", filepath.Base(path), "event", ev.String())
		if err := catalog.Reload(); err != nil {
			logger.Warn("label group reload failed", "error", err)
		}
	})
	if err := labelWatcher.Watch(ctx, cfg.LabelsDir()); err != nil {
		logger.Warn("label directory watch unavailable", "error", err)
	}
	defer labelWatcher.Stop()

	extractor := extract.New(extract.Config{
		FFmpeg:      ffmpeg,
		JPEGQuality: cfg.JPEGQuality(),
		Classifier:  classifier,
		Threshold:   cfg.ClassifierThreshold(),
		Metrics:     collector,
		Logger:      logging.WithComponent(logger, "extract"),
	})

	manager := review.NewManager(review.Options{
		Store:           repo,
		Metadata:        store.NewMetadataStore(cfg.MetadataDir()),
		FFmpeg:          ffmpeg,
		Acquirer:        acquirer,
		Extractor:       extractor,
		Uploader:        uploader,
		Metrics:         collector,
		ResultsDir:      cfg.ResultsDir(),
		ModelName:       cfg.ClassifierModule(),
		Window:          cfg.Window(),
		Capture:         cfg.Capture(),
		Realtime:        cfg.Realtime(),
		AutoFinalize:    cfg.AutoFinalize(),
		CheckpointEvery: checkpointEvery,
		Logger:          logging.WithComponent(logger, "review"),
	})

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		Manager:     manager,
		Repository:  repo,
		Labels:      catalog,
		Metrics:     collector,
		Doctor:      doctor,
		FFmpeg:      ffmpeg,
		JPEGQuality: cfg.JPEGQuality(),
		Logger:      logger,
		StartTime:   startTime,
		DeviceID:    deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	quit := sync.OnceFunc(func() { close(quitCh) })

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Manager: manager,
			Logger:  logger,
			OnQuit:  quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	if tray != nil {
		tray.UpdateStatus("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to save active session", "error", err)
	}
	cancel()
	if tray != nil {
		tray.Quit()
	}

	logger.Info("shutdown complete")
	return nil
}

// setupClassifier falls back to a no-op classifier when the Python
// environment is missing. The doctor is nil in that case.
func setupClassifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (classify.Classifier, *classify.CachedDoctor) {
	ccfg := classify.DefaultConfig(cfg.DataDir(), cfg.ClassifierModule(), logging.WithComponent(logger, "classify"))
	ccfg.PythonPath = cfg.ClassifierPython()

	sc, err := classify.NewSubprocessClassifier(ccfg)
	if err != nil {
		logger.Warn("classifier unavailable, predictions disabled", "error", err)
		return classify.Noop{}, nil
	}

	doctor := classify.NewCachedDoctor(sc, logger)
	probeCtx, cancel := context.WithTimeout(ctx, classifierTimeout)
	defer cancel()
	caps, err := doctor.Refresh(probeCtx)
	if err != nil {
		logger.Warn("initial classifier probe failed", "error", err)
		return classify.Noop{}, doctor
	}
	logger.Info("classifier capabilities detected",
		"model", caps.ModelVersion,
		"labels", len(caps.Labels),
		"gpu", caps.GPU,
	)
	return sc, doctor
}

func setupUploader(ctx context.Context, cfg config.Config, logger *slog.Logger) cloud.Uploader {
	if !cfg.UploadEnabled() {
		return cloud.NewStubUpload(logger)
	}
	s3 := cfg.S3()
	u, err := cloud.NewMinioUploader(cloud.MinioConfig{
		Endpoint:  s3.Endpoint,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		UseSSL:    s3.UseSSL,
		Bucket:    s3.Bucket,
	}, logging.WithComponent(logger, "cloud"))
	if err != nil {
		logger.Warn("object store unavailable, uploads disabled", "error", err)
		return cloud.NewStubUpload(logger)
	}
	bucketCtx, cancel := context.WithTimeout(ctx, bucketTimeout)
	defer cancel()
	if err := u.EnsureBucket(bucketCtx); err != nil {
		logger.Warn("bucket check failed, uploads will be retried per artifact", "bucket", s3.Bucket, "error", err)
	}
	logger.Info("artifact upload enabled", "endpoint", s3.Endpoint, "bucket", u.Bucket())
	return u
}
