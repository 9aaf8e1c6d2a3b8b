package render

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/metrics"
	"github.com/editstack/cutcore/pkg/models"
)

// ProgressFunc receives one event per encoded frame, never after the job
// reaches a terminal state.
type ProgressFunc func(models.ExportProgress)

// Pipeline renders one export job: it walks the snapshot frame by frame,
// delegates compositing and encoding to the collaborators, and keeps the
// job's state machine honest. The snapshot is private to the pipeline, so
// concurrent timeline edits cannot interfere with a running render.
type Pipeline struct {
	mu  sync.Mutex
	job *models.ExportJob

	renderer Renderer
	encoder  Encoder
	logger   *logging.Logger
	progress ProgressFunc

	cancelRequested atomic.Bool

	retryLimit   int
	failureLimit int
	etaWindow    int
}

// PipelineOptions configures a Pipeline run.
type PipelineOptions struct {
	Job      *models.ExportJob
	Renderer Renderer
	Encoder  Encoder
	Logger   *logging.Logger
	Progress ProgressFunc

	// FrameRetryLimit is the number of re-attempts after a failed frame
	// composite before the black/silence fallback is used.
	FrameRetryLimit int

	// MaxConsecutiveFailures escalates the job to failed once this many
	// frames in a row could not be composited.
	MaxConsecutiveFailures int

	// ETAWindow is the number of recent frames averaged for the
	// time-remaining estimate.
	ETAWindow int
}

// NewPipeline validates the job and computes its frame count.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	job := opts.Job
	if job == nil {
		return nil, fmt.Errorf("export job is required")
	}
	if job.State != models.ExportStatePending {
		return nil, fmt.Errorf("export job %s is %s, expected %s", job.ID, job.State, models.ExportStatePending)
	}
	if job.Snapshot.Timeline == nil {
		return nil, fmt.Errorf("export job %s has no timeline snapshot", job.ID)
	}
	if !job.Settings.FrameRate.Valid() {
		return nil, fmt.Errorf("export job %s has an invalid frame rate", job.ID)
	}

	if opts.FrameRetryLimit < 0 {
		opts.FrameRetryLimit = 0
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 3
	}
	if opts.ETAWindow <= 0 {
		opts.ETAWindow = 60
	}

	job.TotalFrames = job.Settings.FrameRate.FrameCount(job.Snapshot.Timeline.EndTick())

	return &Pipeline{
		job:          job,
		renderer:     opts.Renderer,
		encoder:      opts.Encoder,
		logger:       opts.Logger,
		progress:     opts.Progress,
		retryLimit:   opts.FrameRetryLimit,
		failureLimit: opts.MaxConsecutiveFailures,
		etaWindow:    opts.ETAWindow,
	}, nil
}

// RequestCancel asks the run loop to stop at the next frame boundary.
// Safe from any goroutine; frames are never interrupted mid-composite.
func (p *Pipeline) RequestCancel() {
	p.cancelRequested.Store(true)
}

// Job returns a copy of the job's current state. The embedded snapshot is
// shared; it is immutable for the lifetime of the pipeline.
func (p *Pipeline) Job() *models.ExportJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := *p.job
	return &c
}

// Run executes the export to a terminal state. The returned error is the
// failure cause when the job ends failed; completed and cancelled runs
// return nil.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.cancelRequested.Load() {
		// Cancelled before the first frame: nothing buffered, nothing
		// to flush.
		p.setTerminal(models.ExportStateCancelled, "")
		return nil
	}

	p.begin()

	settings := p.job.Settings
	snapshot := &p.job.Snapshot
	total := p.job.TotalFrames
	log := p.logger.WithJobID(p.job.ID)

	window := newFrameWindow(p.etaWindow)
	consecutive := 0
	var lastErr error
	cancelled := false

	for i := int64(0); i < total; i++ {
		if p.cancelRequested.Load() || ctx.Err() != nil {
			p.setState(models.ExportStateCancelling)
			cancelled = true
			break
		}

		frameStart := time.Now()
		req := frameRequest(i, &settings)
		active := activeElements(snapshot, req.Tick, settings.BurnCaptions)

		buf, err := p.renderWithRetry(ctx, active, req)
		if err != nil {
			consecutive++
			lastErr = err
			log.WithField("frame", i).WithError(err).Warn("Frame composite failed, substituting black frame")
			metrics.FrameFallbacksTotal.Inc()

			if consecutive >= p.failureLimit {
				finalErr := fmt.Errorf("%d consecutive frame failures, last: %w", consecutive, lastErr)
				p.finalizeQuiet(ctx, log)
				p.setTerminal(models.ExportStateFailed, finalErr.Error())
				return finalErr
			}
			buf = p.renderer.BlackFrame(req)
		} else {
			consecutive = 0
		}

		if err := p.encoder.Encode(ctx, buf); err != nil {
			encodeErr := fmt.Errorf("encode failed at frame %d: %w", i, err)
			p.setTerminal(models.ExportStateFailed, encodeErr.Error())
			return encodeErr
		}
		metrics.FramesRenderedTotal.Inc()

		window.add(time.Since(frameStart))
		p.advance(i + 1)
		p.emitProgress(i+1, total, window)
	}

	if cancelled {
		// Flush whatever the encoder buffered so the partial output is
		// well formed, then settle.
		if err := p.encoder.Finalize(ctx); err != nil {
			log.WithError(err).Warn("Encoder flush after cancellation failed")
		}
		p.setTerminal(models.ExportStateCancelled, "")
		log.WithField("frame", p.Job().CurrentFrame).Info("Export cancelled")
		return nil
	}

	if err := p.encoder.Finalize(ctx); err != nil {
		finalErr := fmt.Errorf("finalize failed: %w", err)
		p.setTerminal(models.ExportStateFailed, finalErr.Error())
		return finalErr
	}

	p.setTerminal(models.ExportStateCompleted, "")
	p.recordCompletion(total, &settings)
	return nil
}

func (p *Pipeline) renderWithRetry(ctx context.Context, active []ActiveElement, req *FrameRequest) (*FrameBuffer, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retryLimit; attempt++ {
		if attempt > 0 {
			metrics.FrameRetriesTotal.Inc()
		}
		buf, err := p.renderer.RenderFrame(ctx, active, req)
		if err == nil {
			return buf, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Pipeline) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.job.State = models.ExportStateRendering
	p.job.StartedAt = &now
	p.job.UpdatedAt = now
}

func (p *Pipeline) setState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.State = state
	p.job.UpdatedAt = time.Now()
}

func (p *Pipeline) setTerminal(state, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.job.State = state
	p.job.ErrorMsg = errMsg
	p.job.CompletedAt = &now
	p.job.UpdatedAt = now
}

func (p *Pipeline) advance(frame int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.CurrentFrame = frame
	p.job.UpdatedAt = time.Now()
}

func (p *Pipeline) emitProgress(current, total int64, window *frameWindow) {
	if p.progress == nil {
		return
	}

	evt := models.ExportProgress{
		JobID:        p.job.ID,
		CurrentFrame: current,
		TotalFrames:  total,
		Percent:      float64(current) / float64(total) * 100,
		State:        models.ExportStateRendering,
	}
	if avg := window.average(); avg > 0 {
		evt.FPS = float64(time.Second) / float64(avg)
		evt.ETASeconds = avg.Seconds() * float64(total-current)
	}
	p.progress(evt)
}

func (p *Pipeline) finalizeQuiet(ctx context.Context, log *logging.Logger) {
	if err := p.encoder.Finalize(ctx); err != nil {
		log.WithError(err).Warn("Encoder flush after failure also failed")
	}
}

func (p *Pipeline) recordCompletion(total int64, settings *models.RenderSettings) {
	p.mu.Lock()
	started := p.job.StartedAt
	completed := p.job.CompletedAt
	p.mu.Unlock()

	outputSeconds := models.SecondsFromTicks(settings.FrameRate.TickForFrame(total))
	metrics.OutputDurationRendered.Add(outputSeconds)

	if started != nil && completed != nil {
		wall := completed.Sub(*started).Seconds()
		if wall > 0 {
			resolution := fmt.Sprintf("%dx%d", settings.Width, settings.Height)
			metrics.RecordRenderSpeed(settings.VideoCodec, resolution, outputSeconds/wall)
		}
	}
}

// frameWindow is a ring of recent per-frame wall costs for the ETA
// estimate.
type frameWindow struct {
	costs []time.Duration
	next  int
	count int
	sum   time.Duration
}

func newFrameWindow(size int) *frameWindow {
	return &frameWindow{costs: make([]time.Duration, size)}
}

func (w *frameWindow) add(d time.Duration) {
	if w.count == len(w.costs) {
		w.sum -= w.costs[w.next]
	} else {
		w.count++
	}
	w.costs[w.next] = d
	w.sum += d
	w.next = (w.next + 1) % len(w.costs)
}

func (w *frameWindow) average() time.Duration {
	if w.count == 0 {
		return 0
	}
	return w.sum / time.Duration(w.count)
}
