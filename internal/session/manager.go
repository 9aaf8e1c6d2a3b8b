package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/editstack/cutcore/internal/assets"
	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/history"
	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/metrics"
	"github.com/editstack/cutcore/internal/timeline"
	"github.com/editstack/cutcore/pkg/models"
)

// Store loads and saves project documents for the session manager.
type Store interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	SaveTimeline(ctx context.Context, projectID string, doc models.TimelineDocument) error
	ListProjectAssets(ctx context.Context, projectID string) ([]*models.MediaAsset, error)
}

// Notifier receives timeline change events for delivery outside the
// process, such as webhooks.
type Notifier interface {
	TimelineChanged(evt timeline.Event)
}

// installRetryInterval is how often a caption install retries while an
// edit transaction holds the session.
const installRetryInterval = 200 * time.Millisecond

// Manager keys live sessions by project id. It lazily loads the timeline
// document and the project's assets on first open, autosaves dirty sessions
// on an interval, and evicts sessions idle past the configured timeout.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store    Store
	registry *assets.Registry
	notifier Notifier
	cfg      config.SessionConfig
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager. notifier may be nil.
func NewManager(store Store, registry *assets.Registry, cfg config.SessionConfig, notifier Notifier, logger *logging.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		registry: registry,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the autosave and idle eviction loop.
func (m *Manager) Start() {
	if m.cfg.AutosaveInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go m.housekeepingLoop()
}

// Open returns the live session for a project, loading the timeline
// document and installing the project's persisted assets on first use.
func (m *Manager) Open(ctx context.Context, projectID string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[projectID]; ok {
		m.mu.Unlock()
		sess.touch()
		return sess, nil
	}
	m.mu.Unlock()

	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	assetRows, err := m.store.ListProjectAssets(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assets for project %s: %w", projectID, err)
	}
	for _, a := range assetRows {
		m.registry.Install(a)
	}

	tl := project.Timeline.Timeline.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another opener may have won the race while we were loading.
	if sess, ok := m.sessions[projectID]; ok {
		return sess, nil
	}

	sess := NewSession(projectID, tl, m.registry, m.cfg.HistoryLimit, m.logger)
	m.sessions[projectID] = sess
	metrics.UpdateActiveSessions(len(m.sessions))

	if m.notifier != nil {
		ch, _ := sess.Subscribe()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for evt := range ch {
				m.notifier.TimelineChanged(evt)
			}
		}()
	}

	m.logger.WithProjectID(projectID).Infof("Editing session opened with %d assets", len(assetRows))
	return sess, nil
}

// Get returns an already-open session without loading.
func (m *Manager) Get(projectID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[projectID]
	return sess, ok
}

// InstallCaptionTrack installs a finished transcription result into the
// project's timeline. A session busy with an open edit transaction is
// retried until the transaction closes or ctx expires.
func (m *Manager) InstallCaptionTrack(ctx context.Context, projectID string, track *models.CaptionTrack) error {
	sess, err := m.Open(ctx, projectID)
	if err != nil {
		return err
	}

	for {
		err := sess.InstallCaptionTrack(track)
		if !errors.Is(err, history.ErrTransactionActive) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(installRetryInterval):
		}
	}
}

// Discard drops a project's session without flushing. Callers use it when
// the project itself is being deleted and a pending save would only
// resurrect the row.
func (m *Manager) Discard(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[projectID]
	if !ok {
		return
	}
	delete(m.sessions, projectID)
	sess.close()
	metrics.UpdateActiveSessions(len(m.sessions))
}

// Close stops housekeeping, flushes every dirty session, and shuts the
// sessions down.
func (m *Manager) Close(ctx context.Context) error {
	m.cancel()

	err := m.flushAll(ctx)

	m.mu.Lock()
	for id, sess := range m.sessions {
		delete(m.sessions, id)
		sess.close()
	}
	metrics.UpdateActiveSessions(0)
	m.mu.Unlock()

	m.wg.Wait()
	return err
}

func (m *Manager) housekeepingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.flushAll(m.ctx); err != nil {
				m.logger.WithError(err).Error("Autosave pass failed")
			}
			m.evictIdle()
		}
	}
}

// flushAll saves every dirty session and returns the first save error.
func (m *Manager) flushAll(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		open = append(open, sess)
	}
	m.mu.Unlock()

	var firstErr error
	for _, sess := range open {
		saved, err := sess.Flush(ctx, m.store)
		if err != nil {
			m.logger.WithError(err).WithProjectID(sess.ProjectID()).Error("Failed to autosave timeline")
			metrics.RecordError("session", "autosave")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if saved {
			m.logger.WithProjectID(sess.ProjectID()).Debugf("Timeline autosaved at version %d", sess.Version())
		}
	}
	return firstErr
}

// evictIdle drops sessions unused past the idle timeout. Dirty sessions and
// sessions holding an open transaction stay resident.
func (m *Manager) evictIdle() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.IdleSince().After(cutoff) || sess.Dirty() || sess.InTransaction() {
			continue
		}
		delete(m.sessions, id)
		sess.close()
		m.logger.WithProjectID(id).Info("Idle editing session evicted")
	}
	metrics.UpdateActiveSessions(len(m.sessions))
}
