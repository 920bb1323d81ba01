package sink

import (
	"context"
	"errors"
	"fmt"

	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
)

// ErrKindNotAccepted is returned when an endpoint does not expose the
// entrypoint for a notification kind.
var ErrKindNotAccepted = errors.New("event sink does not accept notification kind")

// Endpoint receives notifications for one event sink address.
// Implementations must be safe for concurrent use: the engine resolves
// endpoints while the dispatcher delivers to them.
type Endpoint interface {
	Name() string
	Accepts(kind event.Kind) bool
	Deliver(ctx context.Context, out event.Outgoing) error
}

// Resolver maps an event sink address to the endpoint serving kind.
type Resolver interface {
	ResolveEventSink(addr ledger.Address, kind event.Kind) (Endpoint, error)
}

// Delivery is a notification whose endpoint was resolved before commit.
type Delivery struct {
	Endpoint Endpoint
	Outgoing event.Outgoing
}

// KindSet is the set of notification kinds an endpoint accepts.
type KindSet map[event.Kind]struct{}

// AllKinds accepts every notification kind.
func AllKinds() KindSet {
	return Kinds(event.AllKinds...)
}

func Kinds(kinds ...event.Kind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

func (s KindSet) Contains(kind event.Kind) bool {
	_, ok := s[kind]
	return ok
}

// Outbox collects the notifications of one operation. Every Stage call
// resolves its endpoint immediately so that a bad sink address fails the
// operation before anything is committed.
type Outbox struct {
	resolver   Resolver
	deliveries []Delivery
}

func NewOutbox(resolver Resolver) *Outbox {
	return &Outbox{resolver: resolver}
}

// Stage resolves the endpoint for n at sinkAddr and queues the notification.
func (o *Outbox) Stage(sinkAddr, emitter ledger.Address, n event.Notification) error {
	ep, err := o.resolver.ResolveEventSink(sinkAddr, n.Kind())
	if err != nil {
		return fmt.Errorf("stage %s: %w", n.Kind(), err)
	}

	o.deliveries = append(o.deliveries, Delivery{
		Endpoint: ep,
		Outgoing: event.Outgoing{Sink: sinkAddr, Emitter: emitter, Notification: n},
	})
	return nil
}

// Merge appends the deliveries staged by a collaborator call.
func (o *Outbox) Merge(ds []Delivery) {
	o.deliveries = append(o.deliveries, ds...)
}

// Deliveries returns the staged deliveries in staging order.
func (o *Outbox) Deliveries() []Delivery {
	return o.deliveries
}

// Notifications returns the staged notifications in staging order.
func (o *Outbox) Notifications() []event.Outgoing {
	out := make([]event.Outgoing, len(o.deliveries))
	for i, d := range o.deliveries {
		out[i] = d.Outgoing
	}
	return out
}
