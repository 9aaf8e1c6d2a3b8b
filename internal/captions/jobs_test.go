package captions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/pkg/models"
)

type scriptedTranscriber struct {
	mu       sync.Mutex
	events   []Event
	err      error
	release  chan struct{}
	requests []Request
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, req Request) (<-chan Event, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	ch := make(chan Event, len(s.events)+1)
	go func() {
		defer close(ch)
		for i, evt := range s.events {
			if s.release != nil && i == len(s.events)-1 {
				select {
				case <-s.release:
				case <-ctx.Done():
					return
				}
			}
			ch <- evt
		}
	}()
	return ch, nil
}

type recordingInstaller struct {
	mu       sync.Mutex
	installs []*models.CaptionTrack
	projects []string
	err      error
}

func (r *recordingInstaller) InstallCaptionTrack(ctx context.Context, projectID string, track *models.CaptionTrack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.installs = append(r.installs, track)
	r.projects = append(r.projects, projectID)
	return nil
}

type denyingLocker struct{}

func (denyingLocker) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	return false, nil
}

func (denyingLocker) ReleaseLock(ctx context.Context, resource string) error { return nil }

func newTestManager(t *testing.T, tr Transcriber, inst Installer, lk Locker) *Manager {
	t.Helper()
	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)
	return NewManager(ManagerOptions{
		Transcriber:   tr,
		Installer:     inst,
		Locker:        lk,
		Logger:        logger,
		MaxConcurrent: 2,
		JobTimeout:    5 * time.Second,
	})
}

func completedScript(cues ...CueInput) []Event {
	return []Event{
		{Kind: EventQueued},
		{Kind: EventRunning},
		{Kind: EventCompleted, Cues: cues},
	}
}

func TestStartCompletesAndInstalls(t *testing.T) {
	tr := &scriptedTranscriber{events: completedScript(
		CueInput{StartSeconds: 0, EndSeconds: 1, Text: "Hello"},
		CueInput{StartSeconds: 1, EndSeconds: 2, Text: "World"},
	)}
	inst := &recordingInstaller{}
	mgr := newTestManager(t, tr, inst, nil)

	job, err := mgr.Start(context.Background(), StartRequest{
		ProjectID: "p1", AssetID: "a1", Source: "/media/a1.mp4", Language: "en",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusQueued, job.Status)

	mgr.Wait()

	final, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusCompleted, final.Status)
	assert.NotEmpty(t, final.CaptionTrackID)
	assert.Empty(t, final.ErrorMsg)

	require.Len(t, inst.installs, 1)
	assert.Equal(t, "p1", inst.projects[0])
	assert.Equal(t, final.CaptionTrackID, inst.installs[0].ID)
	assert.Len(t, inst.installs[0].Cues, 2)
	assert.Equal(t, job.ID, inst.installs[0].SourceJob)

	require.Len(t, tr.requests, 1)
	assert.Equal(t, "a1", tr.requests[0].AssetID)
	assert.Equal(t, "/media/a1.mp4", tr.requests[0].Source)
}

func TestSecondJobForSameAssetRejected(t *testing.T) {
	tr := &scriptedTranscriber{
		events:  completedScript(CueInput{StartSeconds: 0, EndSeconds: 1, Text: "x"}),
		release: make(chan struct{}),
	}
	mgr := newTestManager(t, tr, &recordingInstaller{}, nil)

	first, err := mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	require.NoError(t, err)

	_, err = mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	assert.ErrorIs(t, err, ErrJobAlreadyActive)

	// A different asset is unaffected.
	_, err = mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a2", Source: "s"})
	require.NoError(t, err)

	close(tr.release)
	mgr.Wait()

	final, err := mgr.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusCompleted, final.Status)

	// Once the first job settles the asset frees up.
	_, err = mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	assert.NoError(t, err)
	mgr.Wait()
}

func TestFailureRecordsReasonOnly(t *testing.T) {
	tr := &scriptedTranscriber{events: []Event{
		{Kind: EventQueued},
		{Kind: EventRunning},
		{Kind: EventFailed, Reason: "model not found"},
	}}
	inst := &recordingInstaller{}
	mgr := newTestManager(t, tr, inst, nil)

	job, err := mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	require.NoError(t, err)
	mgr.Wait()

	final, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusFailed, final.Status)
	assert.Equal(t, "model not found", final.ErrorMsg)
	assert.Empty(t, final.CaptionTrackID)
	assert.Empty(t, inst.installs)
}

func TestInstallerFailureFailsJob(t *testing.T) {
	tr := &scriptedTranscriber{events: completedScript(CueInput{StartSeconds: 0, EndSeconds: 1, Text: "x"})}
	inst := &recordingInstaller{err: errors.New("track id already in use")}
	mgr := newTestManager(t, tr, inst, nil)

	job, err := mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	require.NoError(t, err)
	mgr.Wait()

	final, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMsg, "caption installation failed")
}

func TestTranscriberStartupError(t *testing.T) {
	tr := &scriptedTranscriber{err: errors.New("binary not found")}
	mgr := newTestManager(t, tr, &recordingInstaller{}, nil)

	job, err := mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	require.NoError(t, err)
	mgr.Wait()

	final, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMsg, "binary not found")
}

func TestStreamClosedWithoutTerminal(t *testing.T) {
	tr := &scriptedTranscriber{events: []Event{{Kind: EventQueued}, {Kind: EventRunning}}}
	mgr := newTestManager(t, tr, &recordingInstaller{}, nil)

	job, err := mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	require.NoError(t, err)
	mgr.Wait()

	final, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMsg, "event stream")
}

func TestCancelMarksJobCancelled(t *testing.T) {
	tr := &scriptedTranscriber{
		events:  completedScript(CueInput{StartSeconds: 0, EndSeconds: 1, Text: "x"}),
		release: make(chan struct{}),
	}
	inst := &recordingInstaller{}
	mgr := newTestManager(t, tr, inst, nil)

	job, err := mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	require.NoError(t, err)

	require.NoError(t, mgr.Cancel(job.ID))
	mgr.Wait()

	final, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusCancelled, final.Status)
	assert.Empty(t, inst.installs)

	// Cancelling a settled job is a no-op.
	assert.NoError(t, mgr.Cancel(job.ID))
}

func TestCancelUnknownJob(t *testing.T) {
	mgr := newTestManager(t, &scriptedTranscriber{}, nil, nil)
	assert.ErrorIs(t, mgr.Cancel("missing"), ErrJobNotFound)
}

func TestGetUnknownJob(t *testing.T) {
	mgr := newTestManager(t, &scriptedTranscriber{}, nil, nil)
	_, err := mgr.Get("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestLockerDeniesStart(t *testing.T) {
	tr := &scriptedTranscriber{events: completedScript()}
	mgr := newTestManager(t, tr, nil, denyingLocker{})

	_, err := mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	assert.ErrorIs(t, err, ErrJobAlreadyActive)

	// The local reservation must roll back when the lock is denied.
	_, active := mgr.ActiveForAsset("a1")
	assert.False(t, active)
}

func TestListByProject(t *testing.T) {
	tr := &scriptedTranscriber{events: completedScript(CueInput{StartSeconds: 0, EndSeconds: 1, Text: "x"})}
	mgr := newTestManager(t, tr, &recordingInstaller{}, nil)

	_, err := mgr.Start(context.Background(), StartRequest{ProjectID: "p1", AssetID: "a1", Source: "s"})
	require.NoError(t, err)
	_, err = mgr.Start(context.Background(), StartRequest{ProjectID: "p2", AssetID: "a2", Source: "s"})
	require.NoError(t, err)
	mgr.Wait()

	jobs := mgr.List("p1")
	require.Len(t, jobs, 1)
	assert.Equal(t, "a1", jobs[0].AssetID)
}
