package exporter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/cache"
	"github.com/editstack/cutcore/internal/captions"
	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/database"
	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/metrics"
	"github.com/editstack/cutcore/internal/queue"
	"github.com/editstack/cutcore/internal/render"
	"github.com/editstack/cutcore/internal/storage"
	"github.com/editstack/cutcore/internal/tracing"
	"github.com/editstack/cutcore/internal/webhook"
	"github.com/editstack/cutcore/pkg/models"
)

const (
	// progressTTL keeps live progress entries around long enough for
	// polling clients without letting orphaned keys pile up.
	progressTTL = time.Hour

	// terminalProgressTTL absorbs the poll burst that follows a job
	// reaching a final state; after that the database row is the record.
	terminalProgressTTL = 10 * time.Minute

	// dbProgressInterval is how many frames pass between database
	// progress writes. The cache gets every update.
	dbProgressInterval = 30

	// webhookPercentStep throttles progress webhooks to coarse steps.
	webhookPercentStep = 10
)

// Service renders export jobs delivered by the queue. Each job is
// processed start to finish on one worker: sources are pulled down from
// object storage, the timeline is composited frame by frame, and the
// encoded file is uploaded back before the job is marked completed.
type Service struct {
	repo     *database.Repository
	storage  *storage.OptimizedStorage
	cache    *cache.Cache
	queue    *queue.Queue
	webhooks *webhook.Service
	cfg      config.RenderConfig
	logger   *logging.Logger
	workerID string

	mu     sync.Mutex
	active map[string]*render.Pipeline
}

// NewService creates an export service
func NewService(repo *database.Repository, store *storage.OptimizedStorage, c *cache.Cache, q *queue.Queue, webhooks *webhook.Service, cfg config.RenderConfig, logger *logging.Logger) *Service {
	workerID := uuid.New().String()[:8]
	return &Service{
		repo:     repo,
		storage:  store,
		cache:    c,
		queue:    q,
		webhooks: webhooks,
		cfg:      cfg,
		logger:   logger.WithWorkerID(workerID),
		workerID: workerID,
		active:   make(map[string]*render.Pipeline),
	}
}

// WorkerID returns the identifier this service stamps on its log lines.
func (s *Service) WorkerID() string {
	return s.workerID
}

// ActiveCount returns the number of pipelines currently rendering.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// CancelActive asks a pipeline running on this worker to stop at the
// next frame boundary. Unknown ids are ignored: every worker receives
// every cancel signal.
func (s *Service) CancelActive(jobID string) {
	s.mu.Lock()
	p := s.active[jobID]
	s.mu.Unlock()

	if p != nil {
		p.RequestCancel()
		s.logger.WithJobID(jobID).Info("Cancel signal delivered to running pipeline")
	}
}

// ProcessJob runs one export end to end. A nil return consumes the
// delivery; an error means the attempt failed and the caller should
// route it through RetryOrPark.
func (s *Service) ProcessJob(ctx context.Context, job *models.ExportJob) error {
	span, ctx := tracing.StartJobSpan(ctx, "export.process", job.ID, job.ProjectID)
	defer tracing.FinishSpan(span)

	err := s.processJob(ctx, job)
	tracing.LogError(span, err)
	return err
}

func (s *Service) processJob(ctx context.Context, job *models.ExportJob) error {
	log := s.logger.WithJobID(job.ID).WithProjectID(job.ProjectID)

	// The queue copy goes stale whenever a cancel or retry raced the
	// delivery; the row is authoritative.
	fresh, err := s.repo.GetExportJob(ctx, job.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Warn("Export job no longer exists, dropping delivery")
			return nil
		}
		return fmt.Errorf("failed to load export job: %w", err)
	}

	if fresh.State != models.ExportStatePending {
		log.WithField("state", fresh.State).Info("Skipping delivery, export no longer pending")
		return nil
	}

	tempDir := filepath.Join(s.cfg.TempDir, fresh.ID)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := s.localizeSources(ctx, fresh, tempDir); err != nil {
		return err
	}

	localOutput := filepath.Join(tempDir, "output."+fresh.Settings.Container)
	encoder := render.NewFFmpegEncoder(s.cfg.FFmpegPath, tempDir, localOutput, fresh.Settings, s.logger)
	renderer := render.NewFFmpegRenderer(s.cfg.FFmpegPath, s.logger)

	pipeline, err := render.NewPipeline(render.PipelineOptions{
		Job:                    fresh,
		Renderer:               renderer,
		Encoder:                encoder,
		Logger:                 s.logger,
		Progress:               s.progressSink(fresh.ID),
		FrameRetryLimit:        s.cfg.FrameRetryLimit,
		MaxConsecutiveFailures: s.cfg.MaxConsecutiveFailures,
		ETAWindow:              s.cfg.ETAWindow,
	})
	if err != nil {
		// A job the pipeline rejects will never render; no point retrying.
		return s.failJob(ctx, fresh, err)
	}

	if err := s.repo.MarkExportStarted(ctx, fresh.ID, fresh.TotalFrames); err != nil {
		if errors.Is(err, database.ErrAlreadyClaimed) {
			log.Info("Export already claimed, dropping delivery")
			return nil
		}
		return fmt.Errorf("failed to claim export job: %w", err)
	}

	s.register(fresh.ID, pipeline)
	defer s.unregister(fresh.ID)

	// A cancel request can land between the claim and this worker
	// registering for signals; one re-read closes the window.
	if current, err := s.repo.GetExportJob(ctx, fresh.ID); err == nil && current.State == models.ExportStateCancelling {
		pipeline.RequestCancel()
	}

	metrics.ExportQueueTime.Observe(time.Since(fresh.CreatedAt).Seconds())
	s.webhooks.NotifyExportStarted(ctx, pipeline.Job())
	log.WithField("total_frames", fresh.TotalFrames).Info("Export render started")

	runErr := pipeline.Run(ctx)
	final := pipeline.Job()

	switch {
	case runErr != nil:
		// The row stays rendering; retry routing owns failure state.
		return runErr
	case final.State == models.ExportStateCancelled:
		return s.settleCancelled(ctx, final)
	default:
		return s.settleCompleted(ctx, final, localOutput, tempDir)
	}
}

// RetryOrPark routes a failed attempt: jobs with attempts left go back
// through the delayed retry queue, exhausted ones are failed and parked
// in the dead letter queue. A nil return consumes the delivery.
func (s *Service) RetryOrPark(ctx context.Context, job *models.ExportJob, cause error) error {
	log := s.logger.WithJobID(job.ID).WithProjectID(job.ProjectID)

	fresh, err := s.repo.GetExportJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load export job for retry routing: %w", err)
	}

	// A cancel that raced the failure wins: settle instead of requeueing.
	if fresh.State == models.ExportStateCancelling {
		return s.settleCancelled(ctx, fresh)
	}
	if fresh.Terminal() {
		log.WithField("state", fresh.State).Info("Export already settled, dropping failed delivery")
		return nil
	}

	if fresh.RetryCount >= queue.MaxRetries {
		if err := s.repo.MarkExportFinished(ctx, fresh.ID, models.ExportStateFailed, cause.Error()); err != nil {
			return fmt.Errorf("failed to record export failure: %w", err)
		}
		fresh.State = models.ExportStateFailed
		fresh.ErrorMsg = cause.Error()
		s.cacheTerminal(fresh)

		if err := s.queue.PublishToDeadLetterQueue(ctx, fresh, cause.Error()); err != nil {
			log.WithError(err).Error("Failed to park export in dead letter queue")
		}
		s.webhooks.NotifyExportFailed(ctx, fresh)
		metrics.RecordExportCompleted(models.ExportStateFailed, renderDuration(fresh), fresh.Settings.Container, fresh.Settings.VideoCodec)
		log.WithError(cause).WithField("retries", fresh.RetryCount).Error("Export failed permanently")
		return nil
	}

	if err := s.repo.IncrementExportRetry(ctx, fresh.ID); err != nil {
		return fmt.Errorf("failed to increment export retry: %w", err)
	}
	if err := s.queue.PublishToRetryQueue(ctx, fresh, fresh.RetryCount); err != nil {
		return fmt.Errorf("failed to schedule export retry: %w", err)
	}

	log.WithError(cause).WithField("attempt", fresh.RetryCount+1).Warn("Export attempt failed, retry scheduled")
	return nil
}

// localizeSources downloads bucket-backed sources into the job's temp
// directory and repoints the snapshot at the local copies. Plain paths
// and external URLs go to ffmpeg as-is.
func (s *Service) localizeSources(ctx context.Context, job *models.ExportJob, tempDir string) error {
	span, ctx := tracing.StartSpan(ctx, "export.localize")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "asset_count", len(job.Snapshot.Assets))

	srcDir := filepath.Join(tempDir, "sources")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}

	for id, asset := range job.Snapshot.Assets {
		if !storage.IsObjectKey(asset.SourceURL) {
			continue
		}

		localPath := filepath.Join(srcDir, id+filepath.Ext(asset.Filename))
		if err := s.storage.DownloadFileParallel(ctx, asset.SourceURL, localPath); err != nil {
			return fmt.Errorf("failed to pull source %s: %w", id, err)
		}
		asset.SourceURL = localPath
	}

	return nil
}

func (s *Service) settleCompleted(ctx context.Context, job *models.ExportJob, localOutput, tempDir string) error {
	log := s.logger.WithJobID(job.ID).WithProjectID(job.ProjectID)

	info, err := os.Stat(localOutput)
	if err != nil {
		return s.failJob(ctx, job, fmt.Errorf("encoded output missing: %w", err))
	}

	if err := s.storage.UploadFileParallel(ctx, job.OutputPath, localOutput); err != nil {
		return fmt.Errorf("failed to upload output: %w", err)
	}

	url, err := s.storage.GetURL(ctx, job.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to presign output: %w", err)
	}

	output := &models.Output{
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		Container: job.Settings.Container,
		Width:     job.Settings.Width,
		Height:    job.Settings.Height,
		Codec:     job.Settings.VideoCodec,
		Size:      info.Size(),
		Duration:  models.SecondsFromTicks(job.Settings.FrameRate.TickForFrame(job.TotalFrames)),
		URL:       url,
		Path:      job.OutputPath,
	}
	if err := s.repo.CreateOutput(ctx, output); err != nil {
		return fmt.Errorf("failed to record output: %w", err)
	}

	s.uploadCaptionSidecars(ctx, job, tempDir)
	s.cache.DeleteOutputs(ctx, job.ProjectID)

	if err := s.repo.MarkExportFinished(ctx, job.ID, models.ExportStateCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark export completed: %w", err)
	}
	s.cacheTerminal(job)
	s.webhooks.NotifyExportCompleted(ctx, job)
	metrics.RecordExportCompleted(models.ExportStateCompleted, renderDuration(job), job.Settings.Container, job.Settings.VideoCodec)

	log.WithFields(map[string]interface{}{
		"output_size": info.Size(),
		"duration":    output.Duration,
	}).Info("Export completed")
	return nil
}

func (s *Service) settleCancelled(ctx context.Context, job *models.ExportJob) error {
	// Persist the exact frame the render stopped on.
	if err := s.repo.UpdateExportProgress(ctx, job.ID, job.CurrentFrame, job.TotalFrames); err != nil {
		s.logger.WithJobID(job.ID).WithError(err).Warn("Failed to persist final frame for cancelled export")
	}

	if err := s.repo.MarkExportFinished(ctx, job.ID, models.ExportStateCancelled, ""); err != nil {
		return fmt.Errorf("failed to mark export cancelled: %w", err)
	}

	job.State = models.ExportStateCancelled
	s.cacheTerminal(job)
	s.webhooks.NotifyExportCancelled(ctx, job)
	metrics.RecordExportCompleted(models.ExportStateCancelled, renderDuration(job), job.Settings.Container, job.Settings.VideoCodec)

	s.logger.WithJobID(job.ID).WithField("frame", job.CurrentFrame).Info("Export cancelled")
	return nil
}

// failJob settles a job that will never render and consumes the
// delivery. Attempt failures go through RetryOrPark instead.
func (s *Service) failJob(ctx context.Context, job *models.ExportJob, cause error) error {
	if err := s.repo.MarkExportFinished(ctx, job.ID, models.ExportStateFailed, cause.Error()); err != nil {
		return fmt.Errorf("failed to record export failure: %w (cause: %v)", err, cause)
	}

	job.State = models.ExportStateFailed
	job.ErrorMsg = cause.Error()
	s.cacheTerminal(job)
	s.webhooks.NotifyExportFailed(ctx, job)
	metrics.RecordExportCompleted(models.ExportStateFailed, renderDuration(job), job.Settings.Container, job.Settings.VideoCodec)

	s.logger.WithJobID(job.ID).WithError(cause).Error("Export rejected")
	return nil
}

// uploadCaptionSidecars writes each caption track in the snapshot as an
// SRT object next to the export. Sidecar failures never fail the job.
func (s *Service) uploadCaptionSidecars(ctx context.Context, job *models.ExportJob, tempDir string) {
	if job.Snapshot.Timeline == nil {
		return
	}

	for _, track := range job.Snapshot.Timeline.CaptionTracks {
		if len(track.Cues) == 0 {
			continue
		}

		path := filepath.Join(tempDir, track.ID+".srt")
		if err := writeSRTFile(path, track); err != nil {
			s.logger.WithJobID(job.ID).WithError(err).Warn("Failed to write caption sidecar")
			continue
		}

		key := storage.CaptionKey(job.ProjectID, track.ID)
		if err := s.storage.UploadFile(ctx, key, path); err != nil {
			s.logger.WithJobID(job.ID).WithError(err).Warn("Failed to upload caption sidecar")
		}
	}
}

// progressSink fans one pipeline's progress out to the cache on every
// event, the database on a frame interval, and webhooks on coarse
// percent steps.
func (s *Service) progressSink(jobID string) render.ProgressFunc {
	lastHookStep := 0

	return func(evt models.ExportProgress) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := s.cache.SetExportProgress(ctx, &evt, progressTTL); err != nil {
			s.logger.WithJobID(jobID).WithError(err).Debug("Failed to cache export progress")
		}

		if evt.CurrentFrame%dbProgressInterval == 0 || evt.CurrentFrame == evt.TotalFrames {
			if err := s.repo.UpdateExportProgress(ctx, jobID, evt.CurrentFrame, evt.TotalFrames); err != nil {
				s.logger.WithJobID(jobID).WithError(err).Debug("Failed to persist export progress")
			}
		}

		// The completion webhook covers 100%.
		step := int(evt.Percent) / webhookPercentStep
		if step > lastHookStep && evt.CurrentFrame < evt.TotalFrames {
			lastHookStep = step
			s.webhooks.NotifyExportProgress(ctx, &evt)
		}
	}
}

// cacheTerminal leaves a short-lived terminal progress entry so clients
// polling right after the finish see the final state without a DB read.
func (s *Service) cacheTerminal(job *models.ExportJob) {
	progress := &models.ExportProgress{
		JobID:        job.ID,
		CurrentFrame: job.CurrentFrame,
		TotalFrames:  job.TotalFrames,
		State:        job.State,
	}
	if job.TotalFrames > 0 {
		progress.Percent = float64(job.CurrentFrame) / float64(job.TotalFrames) * 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.cache.SetExportProgress(ctx, progress, terminalProgressTTL); err != nil {
		s.logger.WithJobID(job.ID).WithError(err).Warn("Failed to cache terminal export progress")
	}
}

func (s *Service) register(jobID string, p *render.Pipeline) {
	s.mu.Lock()
	s.active[jobID] = p
	s.mu.Unlock()
}

func (s *Service) unregister(jobID string) {
	s.mu.Lock()
	delete(s.active, jobID)
	s.mu.Unlock()
}

func renderDuration(job *models.ExportJob) float64 {
	if job.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	return end.Sub(*job.StartedAt).Seconds()
}

func writeSRTFile(path string, track *models.CaptionTrack) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := captions.WriteSRT(f, track); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
