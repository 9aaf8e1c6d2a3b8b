package captions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/metrics"
	"github.com/editstack/cutcore/pkg/models"
)

// ErrJobAlreadyActive is returned when an asset already has a queued or
// running transcription.
var ErrJobAlreadyActive = errors.New("transcription already active for this asset")

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("transcription job not found")

// Locker guards a per-asset transcription slot across instances. The
// cache package implements it with redis SetNX.
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

// Installer places a finished caption track into the project timeline.
// The session layer implements it with a history-wrapped track command,
// which keeps caption installation undoable like any other edit.
type Installer interface {
	InstallCaptionTrack(ctx context.Context, projectID string, track *models.CaptionTrack) error
}

// Sink persists job rows as they change state. The database package
// implements it with an upsert. Persistence is best effort and never
// blocks a transition.
type Sink interface {
	SaveTranscriptionJob(ctx context.Context, job *models.TranscriptionJob) error
}

// StartRequest asks for a transcription of one asset.
type StartRequest struct {
	ProjectID string
	AssetID   string
	Source    string
	Language  string
}

// Manager owns transcription jobs: one queued-or-running job per asset,
// bounded engine concurrency, timeline installation on completion. Failure
// records the reason on the job and leaves the timeline untouched.
type Manager struct {
	mu      sync.Mutex
	jobs    map[string]*models.TranscriptionJob
	active  map[string]string
	cancels map[string]context.CancelFunc

	transcriber Transcriber
	installer   Installer
	locker      Locker
	sink        Sink
	logger      *logging.Logger

	sem        *semaphore.Weighted
	jobTimeout time.Duration

	wg sync.WaitGroup
}

// ManagerOptions configures a Manager. Locker and Sink are optional;
// without a Locker the single-active guarantee holds per instance only,
// and without a Sink jobs live in memory alone.
type ManagerOptions struct {
	Transcriber   Transcriber
	Installer     Installer
	Locker        Locker
	Sink          Sink
	Logger        *logging.Logger
	MaxConcurrent int
	JobTimeout    time.Duration
}

// NewManager creates a job manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	return &Manager{
		jobs:        make(map[string]*models.TranscriptionJob),
		active:      make(map[string]string),
		cancels:     make(map[string]context.CancelFunc),
		transcriber: opts.Transcriber,
		installer:   opts.Installer,
		locker:      opts.Locker,
		sink:        opts.Sink,
		logger:      opts.Logger,
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		jobTimeout:  opts.JobTimeout,
	}
}

// Start enqueues a transcription for an asset. It fails with
// ErrJobAlreadyActive while another job for the same asset is queued or
// running, here or on another instance.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*models.TranscriptionJob, error) {
	m.mu.Lock()
	if _, busy := m.active[req.AssetID]; busy {
		m.mu.Unlock()
		return nil, ErrJobAlreadyActive
	}

	job := &models.TranscriptionJob{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		AssetID:   req.AssetID,
		Language:  req.Language,
		Status:    models.TranscriptionStatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	m.active[req.AssetID] = job.ID
	m.mu.Unlock()

	if m.locker != nil {
		ok, err := m.locker.AcquireLock(ctx, "transcribe:"+req.AssetID, m.jobTimeout)
		if err != nil || !ok {
			m.mu.Lock()
			delete(m.jobs, job.ID)
			delete(m.active, req.AssetID)
			m.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, ErrJobAlreadyActive
		}
	}

	runCtx, cancel := context.WithTimeout(context.Background(), m.jobTimeout)
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	rec := *job
	m.mu.Unlock()

	// The queued row lands before the goroutine can transition it.
	m.persist(rec)

	m.wg.Add(1)
	go m.run(runCtx, job.ID, req)

	return m.snapshot(job.ID)
}

func (m *Manager) run(ctx context.Context, jobID string, req StartRequest) {
	defer m.wg.Done()
	defer m.release(jobID, req.AssetID)

	start := time.Now()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(jobID, models.TranscriptionStatusFailed, err.Error(), "", nil, start)
		return
	}
	defer m.sem.Release(1)

	events, err := m.transcriber.Transcribe(ctx, Request{
		AssetID:  req.AssetID,
		Source:   req.Source,
		Language: req.Language,
	})
	if err != nil {
		m.finish(jobID, models.TranscriptionStatusFailed, err.Error(), "", nil, start)
		return
	}

	terminal := false
	for evt := range events {
		switch evt.Kind {
		case EventRunning:
			m.setStatus(jobID, models.TranscriptionStatusRunning, "")
		case EventCompleted:
			terminal = true
			m.complete(ctx, jobID, req, evt.Cues, start)
		case EventFailed:
			terminal = true
			m.finish(jobID, models.TranscriptionStatusFailed, evt.Reason, "", nil, start)
		}
	}

	if !terminal {
		m.finish(jobID, models.TranscriptionStatusFailed, "transcription engine closed its event stream", "", nil, start)
	}
}

func (m *Manager) complete(ctx context.Context, jobID string, req StartRequest, cues []CueInput, start time.Time) {
	track := BuildTrack(req.Language, jobID, cues)

	if m.installer != nil {
		if err := m.installer.InstallCaptionTrack(ctx, req.ProjectID, track); err != nil {
			m.logger.WithProjectID(req.ProjectID).WithError(err).Error("Caption track installation failed")
			m.finish(jobID, models.TranscriptionStatusFailed, "caption installation failed: "+err.Error(), "", nil, start)
			return
		}
	}

	m.finish(jobID, models.TranscriptionStatusCompleted, "", track.ID, track.Cues, start)
}

func (m *Manager) release(jobID, assetID string) {
	m.mu.Lock()
	if cancel, ok := m.cancels[jobID]; ok {
		cancel()
		delete(m.cancels, jobID)
	}
	if m.active[assetID] == jobID {
		delete(m.active, assetID)
	}
	m.mu.Unlock()

	if m.locker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.locker.ReleaseLock(ctx, "transcribe:"+assetID); err != nil {
			m.logger.WithError(err).Warn("Failed to release transcription lock")
		}
	}
}

// setStatus transitions a job unless it already reached a terminal state.
// Cancel wins over a late engine result.
func (m *Manager) setStatus(jobID, status, reason string) bool {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Terminal() {
		m.mu.Unlock()
		return false
	}
	job.Status = status
	job.ErrorMsg = reason
	job.UpdatedAt = time.Now()
	rec := *job
	m.mu.Unlock()

	m.persist(rec)
	return true
}

func (m *Manager) finish(jobID, status, reason, trackID string, cues []*models.Cue, start time.Time) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Terminal() {
		m.mu.Unlock()
		return
	}
	job.Status = status
	job.ErrorMsg = reason
	job.CaptionTrackID = trackID
	job.Cues = models.CueList(cues)
	job.UpdatedAt = time.Now()
	rec := *job
	m.mu.Unlock()

	m.persist(rec)

	metrics.RecordTranscriptionCompleted(status, time.Since(start).Seconds(), len(cues))

	entry := m.logger.WithField("job_id", jobID)
	if status == models.TranscriptionStatusFailed {
		entry.WithField("reason", reason).Warn("Transcription failed")
	} else {
		entry.WithField("cues", len(cues)).Info("Transcription finished")
	}
}

// Cancel stops a queued or running job. The engine context is cancelled
// and the job is marked cancelled immediately.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Terminal() {
		m.mu.Unlock()
		return nil
	}
	job.Status = models.TranscriptionStatusCancelled
	job.UpdatedAt = time.Now()
	cancel := m.cancels[jobID]
	rec := *job
	m.mu.Unlock()

	m.persist(rec)
	if cancel != nil {
		cancel()
	}
	return nil
}

// Get returns a copy of a job.
func (m *Manager) Get(jobID string) (*models.TranscriptionJob, error) {
	return m.snapshot(jobID)
}

// List returns copies of all jobs for a project, oldest first.
func (m *Manager) List(projectID string) []*models.TranscriptionJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.TranscriptionJob, 0)
	for _, job := range m.jobs {
		if job.ProjectID == projectID {
			c := *job
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveForAsset reports the non-terminal job for an asset, if any.
func (m *Manager) ActiveForAsset(assetID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[assetID]
	return id, ok
}

func (m *Manager) persist(job models.TranscriptionJob) {
	if m.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.sink.SaveTranscriptionJob(ctx, &job); err != nil {
		m.logger.WithField("job_id", job.ID).WithError(err).Warn("Failed to persist transcription job")
	}
}

func (m *Manager) snapshot(jobID string) (*models.TranscriptionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	c := *job
	return &c, nil
}

// Wait blocks until all running jobs settle, for tests and shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}
