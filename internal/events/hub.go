package events

import (
	"errors"
	"sync"

	"grimm.is/aclsync/internal/clock"
)

// ErrHubClosed is returned by Subscribe and Publish after Close.
var ErrHubClosed = errors.New("event hub closed")

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

// Subscription is a cancellation token returned by Subscribe.
type Subscription struct {
	hub  *Hub
	id   uint64
	mask KindMask
	fn   Handler
}

// Mask returns the kinds this subscription receives.
func (s *Subscription) Mask() KindMask {
	return s.mask
}

// Cancel removes the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.remove(s.id)
}

// Hub is the attach-point event bus.
// Publish delivers to every matching subscriber in subscription order before
// returning, so one event is fully processed before the next is dispatched.
type Hub struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID uint64
	closed bool

	// serializes dispatch so handlers never run concurrently
	dispatch sync.Mutex

	// Metrics
	published uint64
	delivered uint64
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers fn for every event whose kind is in mask.
func (h *Hub) Subscribe(mask KindMask, fn Handler) (*Subscription, error) {
	if mask == 0 {
		return nil, errors.New("empty event mask")
	}
	if fn == nil {
		return nil, errors.New("nil event handler")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	s := &Subscription{hub: h, id: h.nextID, mask: mask, fn: fn}
	h.subs = append(h.subs, s)
	return s, nil
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.id != id {
			result = append(result, s)
		}
	}
	h.subs = result
}

// Publish validates the event payload and delivers it synchronously.
// Handlers must not publish on the same hub.
func (h *Hub) Publish(e Event) error {
	if err := checkPayload(e); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = clock.Now()
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	targets := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.mask.Has(e.Kind) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	h.dispatch.Lock()
	defer h.dispatch.Unlock()

	for _, s := range targets {
		s.fn(e)
	}

	h.mu.Lock()
	h.published++
	h.delivered += uint64(len(targets))
	h.mu.Unlock()
	return nil
}

// Close drops all subscriptions and rejects further use.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = nil
}

// Stats returns publish/delivery counts for monitoring.
func (h *Hub) Stats() (published, delivered uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.published, h.delivered
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ──────────────────────────────────────────────────────────────────────────────
// Convenience Methods
// ──────────────────────────────────────────────────────────────────────────────

// EmitPoint publishes an attach-point up or down event.
func (h *Hub) EmitPoint(up bool, typ PointType, name string) error {
	kind := KindAttachPointDown
	if up {
		kind = KindAttachPointUp
	}
	return h.Publish(Event{
		Kind:   kind,
		Source: "attach",
		Data:   PointData{Type: typ, Name: name},
	})
}

// EmitFeatureMode publishes a feature-mode change for an interface.
func (h *Hub) EmitFeatureMode(ifname string, mode FeatureMode) error {
	return h.Publish(Event{
		Kind:   KindFeatureMode,
		Source: "link",
		Data:   FeatureModeData{Interface: ifname, Mode: mode},
	})
}
