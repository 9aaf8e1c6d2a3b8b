package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/editstack/cutcore/internal/assets"
	"github.com/editstack/cutcore/internal/cache"
	"github.com/editstack/cutcore/internal/captions"
	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/database"
	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/middleware"
	"github.com/editstack/cutcore/internal/queue"
	"github.com/editstack/cutcore/internal/scheduler"
	"github.com/editstack/cutcore/internal/session"
	"github.com/editstack/cutcore/internal/storage"
	"github.com/editstack/cutcore/internal/timeline"
	"github.com/editstack/cutcore/internal/tracing"
	"github.com/editstack/cutcore/internal/webhook"
)

type API struct {
	cfg       *config.Config
	repo      *database.Repository
	projects  session.Store
	db        *database.DB
	cache     *cache.Cache
	storage   *storage.Storage
	parallel  *storage.OptimizedStorage
	queue     *queue.Queue
	webhooks  *webhook.Service
	scheduler *scheduler.ExportScheduler
	sessions  *session.Manager
	registry  *assets.Registry
	captions  *captions.Manager
	auth      *middleware.Auth
	logger    *logging.Logger
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		Output: "stdout",
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if endpoint := os.Getenv("JAEGER_ENDPOINT"); endpoint != "" {
		_, closer, err := tracing.InitTracer("cutcore-api", endpoint)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize tracer, continuing without tracing")
		} else {
			defer closer.Close()
		}
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize cache
	redis, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redis.Close()

	// Initialize storage
	stor, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if err := q.SetupDeadLetterQueue(); err != nil {
		logger.WithError(err).Warn("Failed to setup dead letter queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Webhook delivery with background retries
	webhooks := webhook.NewService(repo)
	go webhooks.RetryWorker(ctx)

	// Export scheduler
	jobScheduler := scheduler.NewScheduler(repo, q, cfg.Render.MaxConcurrent, queue.MaxRetries)
	if err := jobScheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer jobScheduler.Stop()

	// Media registry probes uploads and builds waveforms
	registry := assets.NewRegistry(assets.Options{
		Prober:         assets.NewFFprobe(cfg.Render.FFprobePath),
		Waveform:       assets.NewFFmpegWaveform(cfg.Render.FFmpegPath, cfg.Render.TempDir),
		Logger:         logger,
		ProbeTimeout:   cfg.Assets.ProbeTimeout,
		WaveformBlocks: cfg.Assets.WaveformBlocks,
	})

	// Editing sessions fan change events out to webhooks and keep the
	// cached version counter fresh for polling clients.
	notifier := &timelineNotifier{webhooks: webhooks, cache: redis}
	sessions := session.NewManager(repo, registry, cfg.Session, notifier, logger)
	sessions.Start()

	// Transcription jobs install finished caption tracks through the
	// session layer so they land in history like any other edit.
	transcriber, err := captions.NewTranscriber(cfg.Transcribe, logger)
	if err != nil {
		log.Fatalf("Failed to create transcriber: %v", err)
	}
	capman := captions.NewManager(captions.ManagerOptions{
		Transcriber:   transcriber,
		Installer:     sessions,
		Locker:        redis,
		Sink:          repo,
		Logger:        logger,
		MaxConcurrent: cfg.Transcribe.MaxConcurrent,
		JobTimeout:    cfg.Transcribe.JobTimeout,
	})

	auth := middleware.NewAuth(cfg.Auth)

	rateLimiter := middleware.NewRateLimiter(10, 20)
	go rateLimiter.Cleanup(ctx)

	api := &API{
		cfg:       cfg,
		repo:      repo,
		projects:  repo,
		db:        db,
		cache:     redis,
		storage:   stor,
		parallel:  storage.NewOptimizedStorage(stor, cfg.Storage.UploadPartSize),
		queue:     q,
		webhooks:  webhooks,
		scheduler: jobScheduler,
		sessions:  sessions,
		registry:  registry,
		captions:  capman,
		auth:      auth,
		logger:    logger,
	}

	router := setupRouter(api, rateLimiter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Flush dirty timelines before the process exits.
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to flush sessions on shutdown")
	}
	capman.Wait()
	registry.Wait()

	logger.Info("Server stopped")
}

// timelineNotifier forwards session change events to webhook subscribers
// and bumps the cached version counter. Both paths are best effort; a
// failed notification never blocks an edit.
type timelineNotifier struct {
	webhooks *webhook.Service
	cache    *cache.Cache
}

func (n *timelineNotifier) TimelineChanged(evt timeline.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if evt.Version >= 0 {
		_ = n.cache.SetTimelineVersion(ctx, evt.ProjectID, uint64(evt.Version))
	}
	_ = n.webhooks.NotifyTimelineChanged(ctx, evt.ProjectID, evt.Version)
}

func setupRouter(api *API, rl *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(api.logger))
	router.Use(middleware.RateLimit(rl))

	router.GET("/health", api.healthCheck)

	// Public routes
	public := router.Group("/api/v1")
	{
		public.POST("/auth/register", api.register)
		public.POST("/auth/login", api.login)
	}

	// Protected routes accept a JWT bearer token or an API key.
	protected := router.Group("/api/v1")
	protected.Use(api.auth.Any(api.repo))
	{
		// Projects
		protected.POST("/projects", api.createProject)
		protected.GET("/projects", api.listProjects)
		protected.GET("/projects/:id", api.getProject)
		protected.PATCH("/projects/:id", api.renameProject)
		protected.DELETE("/projects/:id", api.deleteProject)

		// Timeline editing
		protected.GET("/projects/:id/timeline", api.getTimeline)
		protected.POST("/projects/:id/commands", api.applyCommand)
		protected.POST("/projects/:id/undo", api.undo)
		protected.POST("/projects/:id/redo", api.redo)
		protected.GET("/projects/:id/history", api.getHistory)
		protected.POST("/projects/:id/transaction/begin", api.beginTransaction)
		protected.POST("/projects/:id/transaction/commit", api.commitTransaction)
		protected.POST("/projects/:id/transaction/abort", api.abortTransaction)
		protected.PUT("/projects/:id/playhead", api.setPlayhead)
		protected.PUT("/projects/:id/selection", api.setSelection)

		// Media assets
		protected.POST("/projects/:id/assets", api.uploadAsset)
		protected.GET("/projects/:id/assets", api.listAssets)
		protected.GET("/assets/:id", api.getAsset)
		protected.GET("/assets/:id/waveform", api.getWaveform)
		protected.DELETE("/assets/:id", api.deleteAsset)

		// Captions and transcription
		protected.POST("/projects/:id/transcriptions", api.startTranscription)
		protected.GET("/projects/:id/transcriptions", api.listTranscriptions)
		protected.GET("/transcriptions/:id", api.getTranscription)
		protected.POST("/transcriptions/:id/cancel", api.cancelTranscription)
		protected.POST("/projects/:id/captions/import", api.importCaptions)
		protected.GET("/projects/:id/captions/:track_id/srt", api.exportCaptions)

		// Exports
		protected.POST("/projects/:id/exports", middleware.ExportQuota(api.repo), api.submitExport)
		protected.GET("/projects/:id/exports", api.listExports)
		protected.GET("/exports/:id", api.getExport)
		protected.GET("/exports/:id/progress", api.getExportProgress)
		protected.POST("/exports/:id/cancel", api.cancelExport)
		protected.GET("/projects/:id/outputs", api.listOutputs)

		// Webhooks
		protected.POST("/webhooks", api.createWebhook)
		protected.GET("/webhooks", api.listWebhooks)
		protected.DELETE("/webhooks/:id", api.deleteWebhook)

		// Stats
		protected.GET("/stats", api.getStats)
		protected.GET("/queue/stats", api.getQueueStats)
	}

	return router
}
