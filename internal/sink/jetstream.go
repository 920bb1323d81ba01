package sink

import (
	"context"
	"fmt"
	"time"

	"ForgeLedger/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStreamName    = "FORGE_EVENTS"
	EventSubjectPrefix = "forge.events"
)

// JetStreamEndpoint publishes notifications to NATS JetStream.
// Subjects follow the pattern: forge.events.{kind}.{emitter}
type JetStreamEndpoint struct {
	js    jetstream.JetStream
	kinds KindSet
}

func NewJetStreamEndpoint(js jetstream.JetStream, kinds KindSet) *JetStreamEndpoint {
	if len(kinds) == 0 {
		kinds = AllKinds()
	}
	return &JetStreamEndpoint{js: js, kinds: kinds}
}

func (e *JetStreamEndpoint) Name() string {
	return "nats"
}

func (e *JetStreamEndpoint) Accepts(kind event.Kind) bool {
	return e.kinds.Contains(kind)
}

func (e *JetStreamEndpoint) Deliver(ctx context.Context, out event.Outgoing) error {
	data, err := encode(out)
	if err != nil {
		return err
	}

	_, err = e.js.Publish(ctx, Subject(out), data)
	return err
}

// Subject returns the JetStream subject of a notification.
func Subject(out event.Outgoing) string {
	return fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, out.Notification.Kind(), out.Emitter)
}

// EnsureEventStream creates the outbound notifications stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      EventStreamName,
		Subjects:  []string{EventSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	logger.Info().Str("stream", EventStreamName).Msg("ensured event stream")
	return nil
}
