package sink_test

import (
	"context"
	"errors"
	"testing"

	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/observability"
	"ForgeLedger/internal/sink"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sinkAddr = ledger.Address("KT1sink")

// staticResolver serves one endpoint at sinkAddr.
type staticResolver struct {
	ep sink.Endpoint
}

func (r staticResolver) ResolveEventSink(addr ledger.Address, kind event.Kind) (sink.Endpoint, error) {
	if addr != sinkAddr {
		return nil, errors.New("unknown address")
	}
	if !r.ep.Accepts(kind) {
		return nil, sink.ErrKindNotAccepted
	}
	return r.ep, nil
}

type failingEndpoint struct{ *sink.Recorder }

func (failingEndpoint) Deliver(context.Context, event.Outgoing) error {
	return errors.New("broker down")
}

// ============================================================================
// Test: Outbox
// ============================================================================

func TestOutbox_StagesInOrder(t *testing.T) {
	rec := sink.NewRecorder("memory")
	out := sink.NewOutbox(staticResolver{ep: rec})

	require.NoError(t, out.Stage(sinkAddr, "KT1bond", event.Transfer{From: "tz1o", To: "tz1i", Value: 200}))
	require.NoError(t, out.Stage(sinkAddr, "KT1bond", event.PaymentReceived{SettlementID: 1}))

	ns := out.Notifications()
	require.Len(t, ns, 2)
	assert.Equal(t, event.KindTransfer, ns[0].Notification.Kind())
	assert.Equal(t, event.KindPaymentReceived, ns[1].Notification.Kind())
	assert.Empty(t, rec.Received(), "staging must not deliver")
}

func TestOutbox_RejectsUnacceptedKind(t *testing.T) {
	rec := sink.NewRecorder("memory", event.KindTransfer)
	out := sink.NewOutbox(staticResolver{ep: rec})

	err := out.Stage(sinkAddr, "KT1bond", event.SubscriptionInitiated{SettlementID: 1})
	assert.ErrorIs(t, err, sink.ErrKindNotAccepted)
	assert.Empty(t, out.Deliveries())
}

// ============================================================================
// Test: Dispatcher
// ============================================================================

func TestDispatcher_FireAndForget(t *testing.T) {
	good := sink.NewRecorder("memory")
	bad := failingEndpoint{sink.NewRecorder("broken")}

	batch := []sink.Delivery{
		{Endpoint: bad, Outgoing: event.Outgoing{Sink: sinkAddr, Notification: event.SubscriptionInitiated{SettlementID: 1}}},
		{Endpoint: good, Outgoing: event.Outgoing{Sink: sinkAddr, Notification: event.SubscriptionInitiated{SettlementID: 2}}},
	}

	d := sink.NewDispatcher(nil, zerolog.Nop(), (*observability.Metrics)(nil))
	d.Deliver(context.Background(), batch)

	got := good.Received()
	require.Len(t, got, 1)
	assert.Equal(t, event.SubscriptionInitiated{SettlementID: 2}, got[0].Notification)
}

func TestDispatcher_RunDrainsChannel(t *testing.T) {
	rec := sink.NewRecorder("memory")
	ch := make(chan []sink.Delivery, 1)
	ch <- []sink.Delivery{{Endpoint: rec, Outgoing: event.Outgoing{Notification: event.Transfer{Value: 1}}}}
	close(ch)

	d := sink.NewDispatcher(ch, zerolog.Nop(), nil)
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []event.Kind{event.KindTransfer}, rec.Kinds())
}

func TestSubject(t *testing.T) {
	out := event.Outgoing{Emitter: "KT1bond", Notification: event.PaymentTransferred{SettlementID: 3}}
	assert.Equal(t, "forge.events.PaymentTransferred.KT1bond", sink.Subject(out))
}
