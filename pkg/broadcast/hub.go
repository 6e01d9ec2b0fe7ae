// Package broadcast fans session snapshots out to connected observers.
// Delivery is best-effort and non-blocking: each observer owns a bounded
// queue with a drop-oldest overflow policy. Every message carries a full
// snapshot, so a dropped intermediate message is harmless; the next one
// supersedes it.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// Kind discriminates observer messages.
type Kind string

// Message kinds.
const (
	// KindStatusUpdate announces a committed state change (and is also the
	// kind of the initial snapshot a new observer receives).
	KindStatusUpdate Kind = "status_update"

	// KindSessionRemoved announces that a session was deleted. The payload
	// is still the full remaining snapshot.
	KindSessionRemoved Kind = "session_removed"
)

const (
	// DefaultBuffer is the per-observer queue depth.
	DefaultBuffer = 16

	// kickBuffer bounds pending publish signals; excess signals coalesce.
	kickBuffer = 64
)

// Message is one push to an observer: a kind tag and a consistent full
// snapshot of all sessions.
type Message struct {
	Kind Kind                      `json:"type"`
	Data []session.SessionSnapshot `json:"data"`
}

// Observer is one subscribed connection. Read messages from C; the channel
// is closed on unsubscribe or hub shutdown.
type Observer struct {
	id      string
	ch      chan Message
	dropped atomic.Uint64
}

// C returns the observer's message channel.
func (o *Observer) C() <-chan Message { return o.ch }

// Dropped reports how many messages were discarded because the observer
// fell behind.
func (o *Observer) Dropped() uint64 { return o.dropped.Load() }

// push enqueues msg, discarding the oldest queued message when full. Only
// ever called while holding a hub lock, so there is a single pusher.
func (o *Observer) push(msg Message) {
	for {
		select {
		case o.ch <- msg:
			return
		default:
			select {
			case <-o.ch:
				o.dropped.Add(1)
			default:
			}
		}
	}
}

// Hub keeps the set of observers and pushes snapshots to all of them on
// every committed state change. Publishing never blocks the caller: the
// snapshot build and fan-out run on the hub's own goroutine.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Observer

	source func() []session.SessionSnapshot
	buffer int
	log    *slog.Logger

	kick      chan Kind
	published atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub reading snapshots from source. buffer <= 0 uses
// DefaultBuffer.
func NewHub(source func() []session.SessionSnapshot, buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		observers: make(map[string]*Observer),
		source:    source,
		buffer:    buffer,
		log:       log,
		kick:      make(chan Kind, kickBuffer),
	}
}

// Start launches the fan-out goroutine. It must be called once before
// Publish has any effect.
func (h *Hub) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				return
			case kind := <-h.kick:
				h.fanout(kind)
			}
		}
	}()
}

// Publish signals that observable state changed. The call never blocks;
// when the signal buffer is full the notification coalesces into one
// already pending.
func (h *Hub) Publish(kind Kind) {
	select {
	case h.kick <- kind:
	default:
	}
}

// fanout builds one snapshot and delivers it to every observer.
func (h *Hub) fanout(kind Kind) {
	msg := Message{Kind: kind, Data: h.source()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	for _, o := range h.observers {
		o.push(msg)
	}
}

// Subscribe registers a new observer. The observer's first message is the
// current full snapshot, delivered before any subsequent push.
func (h *Hub) Subscribe() *Observer {
	o := &Observer{
		id: uuid.NewString(),
		ch: make(chan Message, h.buffer),
	}
	initial := Message{Kind: KindStatusUpdate, Data: h.source()}

	h.mu.Lock()
	h.observers[o.id] = o
	o.push(initial)
	h.mu.Unlock()

	h.log.Debug("observer subscribed", "observer_id", o.id)
	return o
}

// Unsubscribe removes an observer and closes its channel. Unsubscribing
// twice is safe.
func (h *Hub) Unsubscribe(o *Observer) {
	if o == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.observers[o.id]; !ok {
		return
	}
	delete(h.observers, o.id)
	close(o.ch)

	if d := o.Dropped(); d > 0 {
		h.log.Debug("observer unsubscribed", "observer_id", o.id, "dropped", d)
	}
}

// Observers returns the current number of subscribed observers.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Published returns the number of fan-outs performed.
func (h *Hub) Published() uint64 { return h.published.Load() }

// Close stops the fan-out goroutine and disconnects every observer.
func (h *Hub) Close() error {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, o := range h.observers {
		delete(h.observers, id)
		close(o.ch)
	}
	return nil
}
