package exporter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/render"
	"github.com/editstack/cutcore/pkg/models"
)

type stubRenderer struct{}

func (stubRenderer) RenderFrame(ctx context.Context, active []render.ActiveElement, frame *render.FrameRequest) (*render.FrameBuffer, error) {
	return &render.FrameBuffer{Index: frame.Index, Tick: frame.Tick}, nil
}

func (stubRenderer) BlackFrame(frame *render.FrameRequest) *render.FrameBuffer {
	return &render.FrameBuffer{Index: frame.Index, Tick: frame.Tick, Fallback: true}
}

type stubEncoder struct{}

func (stubEncoder) Encode(ctx context.Context, frame *render.FrameBuffer) error { return nil }

func (stubEncoder) Finalize(ctx context.Context) error { return nil }

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)

	cfg := config.RenderConfig{
		TempDir:                t.TempDir(),
		FrameRetryLimit:        1,
		MaxConsecutiveFailures: 3,
		ETAWindow:              30,
	}
	return NewService(nil, nil, nil, nil, nil, cfg, logger)
}

func testExportJob() *models.ExportJob {
	duration := int64(2 * models.TicksPerSecond)
	tl := models.NewTimeline()
	tl.Tracks = []*models.Track{
		{
			ID:      "v1",
			Kind:    models.TrackKindVideo,
			Enabled: true,
			Elements: []*models.Element{
				{
					ID:            "e1",
					TrackID:       "v1",
					AssetID:       "a1",
					StartTick:     0,
					DurationTicks: duration,
					TrimInTicks:   0,
					TrimOutTicks:  duration,
				},
			},
		},
	}

	return &models.ExportJob{
		ID:        "job1",
		ProjectID: "p1",
		State:     models.ExportStatePending,
		Snapshot: models.ExportSnapshot{
			Timeline: tl,
			Assets: map[string]*models.MediaAsset{
				"a1": {
					ID:            "a1",
					Kind:          models.AssetKindVideo,
					SourceURL:     "/media/a1.mp4",
					DurationTicks: duration,
					LoadState:     models.LoadStateReady,
				},
			},
		},
		Settings: models.DefaultRenderSettings(),
	}
}

func TestNewServiceAssignsWorkerID(t *testing.T) {
	s := newTestService(t)

	assert.Len(t, s.WorkerID(), 8)
	assert.Equal(t, 0, s.ActiveCount())
}

func TestCancelActiveIgnoresUnknownJob(t *testing.T) {
	s := newTestService(t)

	s.CancelActive("no-such-job")

	assert.Equal(t, 0, s.ActiveCount())
}

func TestCancelActiveStopsRegisteredPipeline(t *testing.T) {
	s := newTestService(t)
	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)

	job := testExportJob()
	pipeline, err := render.NewPipeline(render.PipelineOptions{
		Job:      job,
		Renderer: stubRenderer{},
		Encoder:  stubEncoder{},
		Logger:   logger,
	})
	require.NoError(t, err)

	s.register(job.ID, pipeline)
	assert.Equal(t, 1, s.ActiveCount())

	s.CancelActive(job.ID)

	require.NoError(t, pipeline.Run(context.Background()))
	assert.Equal(t, models.ExportStateCancelled, pipeline.Job().State)

	s.unregister(job.ID)
	assert.Equal(t, 0, s.ActiveCount())
}

func TestRenderDuration(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	assert.Equal(t, float64(0), renderDuration(&models.ExportJob{}))
	assert.Equal(t, float64(90), renderDuration(&models.ExportJob{
		StartedAt:   &started,
		CompletedAt: &completed,
	}))

	recent := time.Now().Add(-time.Second)
	assert.InDelta(t, 1.0, renderDuration(&models.ExportJob{StartedAt: &recent}), 0.5)
}

func TestWriteSRTFile(t *testing.T) {
	track := &models.CaptionTrack{
		ID: "ct1",
		Cues: []*models.Cue{
			{ID: "c1", StartTick: 90000, EndTick: 225000, Text: "Hello world."},
			{ID: "c2", StartTick: 270000, EndTick: 382500, Text: "Second cue."},
		},
	}

	path := filepath.Join(t.TempDir(), "ct1.srt")
	require.NoError(t, writeSRTFile(path, track))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "00:00:01,000 --> 00:00:02,500")
	assert.Contains(t, string(data), "Hello world.")
	assert.Contains(t, string(data), "Second cue.")

	err = writeSRTFile(filepath.Join(t.TempDir(), "missing", "x.srt"), track)
	assert.Error(t, err)
}
