package core_test

import (
	"context"
	"testing"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/command"
	"ForgeLedger/internal/core"
	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/factory"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/operator"
	"ForgeLedger/internal/registry"
	"ForgeLedger/internal/settlement"
	"ForgeLedger/internal/sink"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	regOwner  = ledger.Address("tz1regowner")
	admin     = ledger.Address("tz1admin")
	registrar = ledger.Address("tz1registrar")
	settler   = ledger.Address("tz1settler")
	issuer    = ledger.Address("tz1issuer")
	investor  = ledger.Address("tz1investor")
)

var genesis = core.Genesis{RegistryOwner: regOwner, FactoryAdmin: admin, FactoryRegistrar: registrar}

type harness struct {
	engine     *core.Engine
	deploy     core.Deployment
	recorder   *sink.Recorder
	persist    chan core.CoreOutput
	projection chan core.CoreOutput
	deliveries chan []sink.Delivery
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		recorder:   sink.NewRecorder("memory"),
		persist:    make(chan core.CoreOutput, 64),
		projection: make(chan core.CoreOutput, 64),
		deliveries: make(chan []sink.Delivery, 64),
	}
	dir := directory.New()
	d, err := core.Deploy(dir, h.recorder, genesis, nil)
	require.NoError(t, err)
	h.deploy = d
	h.engine = core.NewEngine(0, dir, h.persist, h.projection, h.deliveries, nil, 1024, nil, zerolog.Nop())
	return h
}

func (h *harness) process(t *testing.T, cmd command.Command) *core.Result {
	t.Helper()
	res, err := h.engine.Process(context.Background(), cmd)
	require.NoError(t, err)
	return res
}

// ts is a versioned command timestamp; commands never carry wall-clock time.
func ts(n int) time.Time {
	return time.Date(2024, time.March, 1, 9, 0, n, 0, time.UTC)
}

func header(id int, caller ledger.Address) command.Header {
	return command.Header{
		CommandID: uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(id)}).String(),
		From:      caller,
		At:        ts(id),
	}
}

func createCmd(d core.Deployment) *command.CreateInstrument {
	return &command.CreateInstrument{
		Header:  header(1, registrar),
		Factory: d.Factory,
		Request: factory.CreateRequest{
			Registry:      d.Registry,
			Owner:         issuer,
			Registrar:     registrar,
			Settler:       settler,
			InitialSupply: 1000,
			ISIN:          "FR0000000001",
			Name:          "Forge Bond 2027",
			Symbol:        "FB27",
			Currency:      "EUR",
			Terms: bond.Terms{
				Denomination:            100_000,
				Divisor:                 100,
				StartDate:               time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
				InitialMaturityDate:     time.Date(2027, time.January, 15, 0, 0, 0, 0, time.UTC),
				FirstCouponDate:         time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC),
				CouponFrequencyInMonths: 6,
				InterestRateInBips:      350,
			},
		},
	}
}

// lifecycle returns the commands of one full subscription on inst.
func lifecycle(inst ledger.Address) []command.Command {
	return []command.Command{
		&command.InitiateSubscription{
			Header:     header(2, registrar),
			Instrument: inst,
			Request: bond.SubscriptionRequest{
				TxID: 1, OperationID: 1, Sender: issuer, Receiver: investor, Quantity: 200, TxHash: "0xabc",
			},
		},
		&command.ConfirmPaymentReceived{Header: header(3, settler), Instrument: inst, TxID: 1},
		&command.ConfirmPaymentTransferred{Header: header(4, settler), Instrument: inst, TxID: 1},
	}
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// ============================================================================
// Test: full subscription lifecycle through the engine
// ============================================================================

func TestEngine_SubscriptionLifecycle(t *testing.T) {
	h := newHarness(t)

	created := h.process(t, createCmd(h.deploy))
	require.False(t, created.Created.IsZero())
	assert.Equal(t, int64(0), created.Sequence)

	for _, cmd := range lifecycle(created.Created) {
		h.process(t, cmd)
	}
	assert.Equal(t, int64(4), h.engine.Sequence())

	outputs := drain(h.persist)
	require.Len(t, outputs, 4)

	prev := core.GenesisHash()
	for i, o := range outputs {
		assert.Equal(t, int64(i), o.Envelope.Sequence)
		assert.Equal(t, prev, o.Envelope.PrevHash, "hash chain broken at seq %d", i)
		prev = o.Envelope.StateHash
	}
	assert.Equal(t, prev, h.engine.StateHash())

	create := outputs[0]
	assert.Equal(t, "create_instrument", create.Envelope.CommandKind)
	require.Len(t, create.Journals, 1)
	assert.Equal(t, ledger.JournalTypeIssue, create.Journals[0].JournalType)

	settle := outputs[2]
	balances := make(map[ledger.Address]ledger.Balance)
	for _, b := range settle.Balances {
		balances[b.Account] = b.Balance
	}
	assert.Equal(t, ledger.Balance{Balance: 800, Locked: 0}, balances[issuer])
	assert.Equal(t, ledger.Balance{Balance: 200, Locked: 0}, balances[investor])

	final := outputs[3]
	require.Len(t, final.Settlements, 1)
	assert.Equal(t, settlement.StatusCashSent, final.Settlements[0].Transaction.Status)
	assert.Equal(t, settlement.OperationSubscription, final.Settlements[0].OperationType)

	var kinds []event.Kind
	for _, o := range outputs {
		for _, n := range o.Notifications {
			kinds = append(kinds, n.Notification.Kind())
		}
	}
	assert.Equal(t, []event.Kind{
		event.KindInstrumentListed,
		event.KindForgeBondCreated,
		event.KindSubscriptionInitiated,
		event.KindTransfer,
		event.KindPaymentReceived,
		event.KindPaymentTransferred,
	}, kinds)

	assert.Len(t, drain(h.projection), 4)
	assert.Len(t, h.deliveries, 4)
}

// ============================================================================
// Test: idempotency and rejection
// ============================================================================

func TestEngine_DuplicateCommand(t *testing.T) {
	h := newHarness(t)
	cmd := createCmd(h.deploy)
	h.process(t, cmd)

	res := h.process(t, cmd)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(1), h.engine.Sequence())
	assert.Len(t, drain(h.persist), 1)
}

func TestEngine_RejectedCommandEmitsNothing(t *testing.T) {
	h := newHarness(t)
	created := h.process(t, createCmd(h.deploy))
	drain(h.persist)
	tip := h.engine.StateHash()

	cmds := lifecycle(created.Created)
	_, err := h.engine.Process(context.Background(), cmds[1])
	assert.ErrorIs(t, err, settlement.ErrUnknownTransactionID)

	bad := &command.ConfirmPaymentReceived{Header: header(9, settler), Instrument: "KT1missing", TxID: 1}
	_, err = h.engine.Process(context.Background(), bad)
	assert.ErrorIs(t, err, directory.ErrBadInstrumentAddress)
	assert.Equal(t, bond.CategoryNotFound, bond.Classify(err))

	assert.Equal(t, int64(1), h.engine.Sequence())
	assert.Equal(t, tip, h.engine.StateHash())
	assert.Empty(t, drain(h.persist))
}

func TestEngine_RegistryAndOperatorCommands(t *testing.T) {
	h := newHarness(t)
	created := h.process(t, createCmd(h.deploy))

	res := h.process(t, &command.RunOperator{
		Header:     header(5, registrar),
		Instrument: created.Created,
		Entrypoint: string(bond.EntrypointAuthorizeOperator),
		Operator:   "tz1settler2",
		Role:       operator.RoleSettler,
	})
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, event.KindNewOperator, res.Notifications[0].Notification.Kind())

	_, err := h.engine.Process(context.Background(), &command.UnlistInstrument{
		Header:   header(6, registrar),
		Registry: h.deploy.Registry,
		ISIN:     "FR0000000001",
	})
	assert.ErrorIs(t, err, registry.ErrUnauthorizedFactory)

	h.process(t, &command.AuthorizeFactory{
		Header:      header(7, regOwner),
		Registry:    h.deploy.Registry,
		FactoryType: "desk",
		Factory:     "tz1desk",
	})
	res = h.process(t, &command.UnlistInstrument{
		Header:   header(8, "tz1desk"),
		Registry: h.deploy.Registry,
		ISIN:     "FR0000000001",
	})
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, event.KindInstrumentUnlisted, res.Notifications[0].Notification.Kind())

	h.process(t, &command.UnAuthorizeFactory{Header: header(10, regOwner), Registry: h.deploy.Registry, Factory: "tz1desk"})
	h.process(t, &command.UnAuthorizeFactory{Header: header(11, regOwner), Registry: h.deploy.Registry, Factory: "tz1desk"})
}

// ============================================================================
// Test: determinism, snapshot and replay
// ============================================================================

func runAll(t *testing.T, h *harness) {
	t.Helper()
	created := h.process(t, createCmd(h.deploy))
	for _, cmd := range lifecycle(created.Created) {
		h.process(t, cmd)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	a, b := newHarness(t), newHarness(t)
	runAll(t, a)
	runAll(t, b)

	assert.Equal(t, a.engine.StateHash(), b.engine.StateHash())
	assert.NotEqual(t, core.GenesisHash(), a.engine.StateHash())
}

func TestEngine_SnapshotRestore(t *testing.T) {
	h := newHarness(t)
	created := h.process(t, createCmd(h.deploy))
	cmds := lifecycle(created.Created)
	h.process(t, cmds[0])

	snap := h.engine.CreateSnapshotState()
	assert.Equal(t, int64(1), snap.Sequence)
	assert.Len(t, snap.Instruments, 1)
	assert.Len(t, snap.Registries, 1)
	assert.Len(t, snap.Factories, 1)
	assert.Equal(t, []ledger.Address{h.deploy.EventSink}, snap.EventSinks)

	restored := core.NewEngine(0, directory.New(), nil, nil, nil, nil, 1024, nil, zerolog.Nop())
	require.NoError(t, restored.RestoreFromSnapshot(snap, sink.NewRecorder("memory"), nil))
	assert.Equal(t, h.engine.Sequence(), restored.Sequence())
	assert.Equal(t, h.engine.StateHash(), restored.StateHash())

	dup, err := restored.Process(context.Background(), cmds[0])
	require.NoError(t, err)
	assert.True(t, dup.Duplicate, "restored dedup cache must remember applied commands")

	for _, cmd := range cmds[1:] {
		h.process(t, cmd)
		_, err := restored.Process(context.Background(), cmd)
		require.NoError(t, err)
	}
	assert.Equal(t, h.engine.StateHash(), restored.StateHash())
}

func TestEngine_ReplayFromLog(t *testing.T) {
	h := newHarness(t)
	runAll(t, h)
	outputs := drain(h.persist)

	replica := newHarness(t)
	for _, o := range outputs {
		cmd, err := command.Decode(command.Kind(o.Envelope.CommandKind), o.Envelope.Payload)
		require.NoError(t, err)
		require.NoError(t, replica.engine.Replay(context.Background(), o.Envelope.Sequence, cmd))
	}

	assert.Equal(t, h.engine.StateHash(), replica.engine.StateHash())
	assert.Empty(t, drain(replica.persist), "replay must not re-emit outputs")
	assert.Empty(t, replica.recorder.Received())

	err := replica.engine.Replay(context.Background(), 99, lifecycle("KT1x")[0])
	assert.Error(t, err)
}

func TestEngine_RunLoop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	submissions := make(chan core.Submission)
	snapshots := make(chan core.SnapshotRequest)
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx, submissions, snapshots) }()

	reply := make(chan core.Reply, 1)
	submissions <- core.Submission{Ctx: ctx, Command: createCmd(h.deploy), Reply: reply}
	r := <-reply
	require.NoError(t, r.Err)
	assert.False(t, r.Result.Created.IsZero())

	snap, err := core.RequestSnapshot(ctx, snapshots)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Sequence)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, err = core.RequestSnapshot(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrLoopStopped)
}
