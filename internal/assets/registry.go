package assets

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/metrics"
	"github.com/editstack/cutcore/pkg/models"
)

// ErrNotReady is returned by Get for an asset still loading or failed.
var ErrNotReady = errors.New("asset not ready")

// ErrNotFound is returned for an unknown asset id.
var ErrNotFound = errors.New("asset not found")

// Descriptor names a source to register.
type Descriptor struct {
	ProjectID string
	Filename  string
	Source    string
}

// LoadEvent announces an asset load-state change.
type LoadEvent struct {
	AssetID   string
	LoadState string
	Err       string
}

// Registry owns the media assets of one project. Registration is
// asynchronous: Register returns an id immediately with the asset in
// LoadStateLoading, runs the decode collaborator in the background, and
// flips the asset to Ready or Failed. Once Ready an asset never changes;
// readers receive clones, so no caller can mutate registry state.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]*models.MediaAsset
	order  []string

	subMu sync.Mutex
	subs  map[int]chan LoadEvent
	next  int

	prober   Prober
	waveform WaveformBuilder
	logger   *logging.Logger

	probeTimeout   time.Duration
	waveformBlocks int

	wg sync.WaitGroup
}

// Options configures a Registry.
type Options struct {
	Prober         Prober
	Waveform       WaveformBuilder
	Logger         *logging.Logger
	ProbeTimeout   time.Duration
	WaveformBlocks int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 30 * time.Second
	}
	if opts.WaveformBlocks <= 0 {
		opts.WaveformBlocks = 2000
	}
	return &Registry{
		assets:         make(map[string]*models.MediaAsset),
		subs:           make(map[int]chan LoadEvent),
		prober:         opts.Prober,
		waveform:       opts.Waveform,
		logger:         opts.Logger,
		probeTimeout:   opts.ProbeTimeout,
		waveformBlocks: opts.WaveformBlocks,
	}
}

// Register adds a source and starts loading it. The returned id is valid
// immediately; the asset stays in LoadStateLoading until the probe
// finishes.
func (r *Registry) Register(desc Descriptor) string {
	asset := &models.MediaAsset{
		ID:        uuid.New().String(),
		ProjectID: desc.ProjectID,
		Filename:  desc.Filename,
		SourceURL: desc.Source,
		LoadState: models.LoadStateLoading,
		Metadata:  make(models.Metadata),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	r.mu.Lock()
	r.assets[asset.ID] = asset
	r.order = append(r.order, asset.ID)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.load(asset.ID, desc.Source)

	return asset.ID
}

func (r *Registry) load(id, source string) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.probeTimeout)
	defer cancel()

	start := time.Now()
	result, err := r.prober.Probe(ctx, source)
	metrics.ProbeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.WithAssetID(id).WithError(err).Error("Asset probe failed")
		r.failAsset(id, err)
		return
	}

	var peaks models.Waveform
	if r.waveform != nil && (result.Kind == models.AssetKindAudio || result.Channels > 0) {
		peaks, err = r.waveform.Peaks(ctx, source, r.waveformBlocks)
		if err != nil {
			// A missing envelope only degrades the waveform view.
			r.logger.WithAssetID(id).WithError(err).Warn("Waveform extraction failed")
			peaks = nil
		}
	}

	r.mu.Lock()
	asset, ok := r.assets[id]
	if !ok {
		// Removed while loading.
		r.mu.Unlock()
		return
	}
	asset.Kind = result.Kind
	asset.DurationTicks = result.DurationTicks
	asset.Width = result.Width
	asset.Height = result.Height
	asset.FrameRate = result.FrameRate
	asset.SampleRate = result.SampleRate
	asset.Channels = result.Channels
	asset.SizeBytes = result.SizeBytes
	asset.Waveform = peaks
	for k, v := range result.Metadata {
		asset.Metadata[k] = v
	}
	asset.LoadState = models.LoadStateReady
	asset.UpdatedAt = time.Now()
	kind := asset.Kind
	size := asset.SizeBytes
	r.mu.Unlock()

	metrics.RecordAssetRegistered(kind, models.LoadStateReady, size)
	r.publish(LoadEvent{AssetID: id, LoadState: models.LoadStateReady})
}

func (r *Registry) failAsset(id string, err error) {
	r.mu.Lock()
	asset, ok := r.assets[id]
	if ok {
		asset.LoadState = models.LoadStateFailed
		asset.ErrorMsg = err.Error()
		asset.UpdatedAt = time.Now()
	}
	r.mu.Unlock()

	if ok {
		metrics.RecordAssetRegistered("", models.LoadStateFailed, 0)
		r.publish(LoadEvent{AssetID: id, LoadState: models.LoadStateFailed, Err: err.Error()})
	}
}

// Install adds an already-probed asset, for loading persisted projects and
// for export workers rebuilding a snapshot's registry.
func (r *Registry) Install(asset *models.MediaAsset) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[asset.ID]; !exists {
		r.order = append(r.order, asset.ID)
	}
	r.assets[asset.ID] = asset.Clone()
}

// Get returns a Ready asset. It fails with ErrNotFound for unknown ids and
// ErrNotReady for assets still loading or failed.
func (r *Registry) Get(id string) (*models.MediaAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !asset.Ready() {
		return nil, ErrNotReady
	}
	return asset.Clone(), nil
}

// Lookup returns the asset in any load state.
func (r *Registry) Lookup(id string) (*models.MediaAsset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	if !ok {
		return nil, false
	}
	return asset.Clone(), true
}

// IsReady reports whether the asset exists and finished loading.
func (r *Registry) IsReady(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	return ok && asset.Ready()
}

// Remove drops an asset. The caller is responsible for ensuring no
// timeline element still references it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[id]; !ok {
		return ErrNotFound
	}
	delete(r.assets, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all assets in registration order.
func (r *Registry) List() []*models.MediaAsset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.MediaAsset, 0, len(r.order))
	for _, id := range r.order {
		if asset, ok := r.assets[id]; ok {
			out = append(out, asset.Clone())
		}
	}
	return out
}

// Subscribe registers a load-event listener. The returned cancel function
// removes the subscription and closes the channel.
func (r *Registry) Subscribe() (<-chan LoadEvent, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.next
	r.next++
	ch := make(chan LoadEvent, 16)
	r.subs[id] = ch

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (r *Registry) publish(evt LoadEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Wait blocks until all in-flight loads finish, for tests and shutdown.
func (r *Registry) Wait() {
	r.wg.Wait()
}
