package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/editstack/cutcore/internal/cache"
	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/database"
	"github.com/editstack/cutcore/internal/exporter"
	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/metrics"
	"github.com/editstack/cutcore/internal/queue"
	"github.com/editstack/cutcore/internal/storage"
	"github.com/editstack/cutcore/internal/tracing"
	"github.com/editstack/cutcore/internal/webhook"
	"github.com/editstack/cutcore/pkg/models"
)

const metricsInterval = 15 * time.Second

func main() {
	// Load configuration
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
		_, closer, err := tracing.InitTracer("cutcore-worker", endpoint)
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
	parallel := storage.NewOptimizedStorage(stor, cfg.Storage.UploadPartSize)

	// Initialize queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if err := q.SetupDeadLetterQueue(); err != nil {
		logger.WithError(err).Warn("Failed to set up dead letter queue, retries disabled")
	}

	// The worker only sends webhooks; failed deliveries are queued in the
	// database and retried by the API process.
	webhooks := webhook.NewService(repo)

	svc := exporter.NewService(repo, parallel, redis, q, webhooks, cfg.Render, logger)
	logger = logger.WithWorkerID(svc.WorkerID())

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully. In-flight renders are aborted and the
	// scheduler's stale-export sweep requeues them.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	// Job handler. ProcessJob failures are routed through RetryOrPark,
	// which schedules a backoff retry or parks the job; it returns an
	// error only when even that failed, requeueing the delivery as-is.
	jobHandler := func(job *models.ExportJob) error {
		if err := svc.ProcessJob(gctx, job); err != nil {
			logger.WithJobID(job.ID).WithError(err).Warn("Export attempt failed")
			return svc.RetryOrPark(gctx, job, err)
		}
		return nil
	}

	workers := cfg.Render.WorkerCount
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		if err := q.ConsumeExportJobs(gctx, jobHandler); err != nil {
			log.Fatalf("Failed to consume export jobs: %v", err)
		}
	}

	// Jobs that reach the dead letter queue were already marked failed
	// before parking; the consumer only reconciles rows the worker did
	// not get to settle before crashing.
	if err := q.ConsumeDLQ(gctx, func(job *models.ExportJob, reason string) error {
		return reconcileParked(gctx, repo, logger, job, reason)
	}); err != nil {
		log.Fatalf("Failed to consume dead letter queue: %v", err)
	}

	// Cancellation requests fan out over redis pub/sub so whichever
	// worker holds the job aborts it.
	g.Go(func() error {
		cancels, stop := redis.SubscribeExportCancels(gctx)
		defer stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case jobID, ok := <-cancels:
				if !ok {
					return nil
				}
				logger.WithJobID(jobID).Info("Cancel requested")
				svc.CancelActive(jobID)
			}
		}
	})

	// Periodically publish queue gauges alongside the per-job metrics
	// recorded by the exporter.
	g.Go(func() error {
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if depth, err := q.GetQueueDepth(); err == nil {
					metrics.UpdateExportMetrics(svc.ActiveCount(), depth)
				}
				if parked, err := q.GetDLQDepth(); err == nil {
					metrics.ExportDLQDepth.Set(float64(parked))
				}
			}
		}
	})

	metricsPort := 9091
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			metricsPort = p
		}
	}
	metricsSrv := metrics.NewServer(metricsPort, logger)

	g.Go(func() error {
		return metricsSrv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	logger.Info("Worker started, waiting for export jobs...")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorWithErr("Worker exited with error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}

// reconcileParked settles the database row for a dead-lettered export.
// RetryOrPark marks jobs failed before publishing them, so finding a
// non-terminal row here means the worker died between the two steps.
func reconcileParked(ctx context.Context, repo *database.Repository, logger *logging.Logger, job *models.ExportJob, reason string) error {
	jobLog := logger.WithJobID(job.ID)

	fresh, err := repo.GetExportJob(ctx, job.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			jobLog.Warn("Dead-lettered export no longer exists, dropping")
			return nil
		}
		return err
	}
	if fresh.Terminal() {
		return nil
	}

	if reason == "" {
		reason = "parked in dead letter queue"
	}
	jobLog.Warnf("Reconciling dead-lettered export as failed: %s", reason)
	return repo.MarkExportFinished(ctx, fresh.ID, models.ExportStateFailed, reason)
}
