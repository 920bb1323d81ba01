package sink

import (
	"context"
	"sync"

	"ForgeLedger/internal/event"
)

// Recorder is an in-memory endpoint. It keeps every delivered notification
// in arrival order.
type Recorder struct {
	name  string
	kinds KindSet

	mu       sync.Mutex
	received []event.Outgoing
}

// NewRecorder accepts the given kinds, or every kind when none are given.
func NewRecorder(name string, kinds ...event.Kind) *Recorder {
	set := AllKinds()
	if len(kinds) > 0 {
		set = Kinds(kinds...)
	}
	return &Recorder{name: name, kinds: set}
}

func (r *Recorder) Name() string {
	return r.name
}

func (r *Recorder) Accepts(kind event.Kind) bool {
	return r.kinds.Contains(kind)
}

func (r *Recorder) Deliver(_ context.Context, out event.Outgoing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, out)
	return nil
}

// Received returns a copy of the delivered notifications.
func (r *Recorder) Received() []event.Outgoing {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Outgoing, len(r.received))
	copy(out, r.received)
	return out
}

// Kinds returns the kinds of the delivered notifications.
func (r *Recorder) Kinds() []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]event.Kind, len(r.received))
	for i, o := range r.received {
		kinds[i] = o.Notification.Kind()
	}
	return kinds
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = nil
}
