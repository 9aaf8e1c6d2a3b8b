package timeline

import (
	"sync"
)

// Event announces one applied mutation. Observers use Version to decide
// whether they are stale; the payload deliberately carries no timeline
// state.
type Event struct {
	ProjectID string `json:"project_id"`
	Op        string `json:"op"`
	Origin    string `json:"origin"`
	Version   int64  `json:"version"`
}

// Event origins
const (
	OriginApply = "apply"
	OriginUndo  = "undo"
	OriginRedo  = "redo"
)

// Broadcaster fans out change events to subscribers. Sends never block the
// editing thread: a subscriber that falls behind loses intermediate events
// and resynchronizes from the version counter.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel function removes the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Broadcaster) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Close removes all subscribers and closes their channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
