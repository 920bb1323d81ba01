package core

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/command"
	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/factory"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/observability"
	"ForgeLedger/internal/registry"
	"ForgeLedger/internal/settlement"
	"ForgeLedger/internal/sink"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = observability.Tracer("core")

// Engine is the single-threaded command processor. Every contract lives in
// the directory; the engine resolves the target of each command, applies
// it and emits one CoreOutput per committed command.
type Engine struct {
	sequence    int64
	hasher      *StateHasher
	dir         *directory.Directory
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	// replaying suppresses outputs while the log is re-applied at startup.
	replaying bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	deliveryChan   chan<- []sink.Delivery
}

// CoreOutput is everything downstream workers need about one command.
type CoreOutput struct {
	Envelope      *event.Envelope
	// Instrument owns Journals; empty for registry and factory upkeep.
	Instrument    ledger.Address
	Journals      []ledger.Journal
	Notifications []event.Outgoing
	Balances      []BalanceUpdate
	Settlements   []SettlementUpdate
}

// BalanceUpdate is the balance of an account after the command.
type BalanceUpdate struct {
	Instrument ledger.Address
	Account    ledger.Address
	Balance    ledger.Balance
}

// SettlementUpdate is a settlement transaction after the command.
type SettlementUpdate struct {
	Instrument    ledger.Address
	OperationType settlement.OperationType
	Transaction   settlement.Transaction
}

// Result is returned to the submitter of a command.
type Result struct {
	Sequence      int64
	Duplicate     bool
	StateHash     [32]byte
	Created       ledger.Address
	Notifications []event.Outgoing
}

// applied collects what a dispatched command changed.
type applied struct {
	instrument  ledger.Address
	journals    []ledger.Journal
	balances    []BalanceUpdate
	settlements []SettlementUpdate
	deliveries  []sink.Delivery
	created     ledger.Address
}

func NewEngine(
	startSequence int64,
	dir *directory.Directory,
	persistChan, projectionChan chan<- CoreOutput,
	deliveryChan chan<- []sink.Delivery,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		dir:            dir,
		idempotency:    NewIdempotencyChecker(lruCapacity, dbChecker, metrics, logger),
		metrics:        metrics,
		logger:         logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		deliveryChan:   deliveryChan,
	}
}

// Process is the command pipeline: dedup, dispatch, hash, emit.
func (e *Engine) Process(ctx context.Context, cmd command.Command) (*Result, error) {
	start := time.Now()
	kind := cmd.Kind().String()
	key := cmd.IdempotencyKey()

	ctx, span := tracer.Start(ctx, "core.Process", trace.WithAttributes(
		attribute.String("command", kind),
		attribute.String("target", cmd.Target().String()),
		attribute.String("idempotency_key", key),
	))
	defer span.End()

	// The log holds no duplicates; replay skips the lookup so the DB tier
	// does not see its own rows.
	if !e.replaying && e.idempotency.IsDuplicate(kind, key) {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		span.SetAttributes(attribute.Bool("duplicate", true))
		return &Result{Duplicate: true}, nil
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}

	a, err := e.dispatch(ctx, cmd)
	if err != nil {
		reason := bond.Classify(err).String()
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(kind, reason).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		e.logger.Debug().Err(err).
			Str("command", kind).
			Str("key", key).
			Str("target", cmd.Target().String()).
			Str("reason", reason).
			Msg("command rejected")
		return nil, err
	}

	notifications := make([]event.Outgoing, len(a.deliveries))
	for i, d := range a.deliveries {
		notifications[i] = d.Outgoing
	}

	digest := e.computeStateDigest(cmd.Target(), a, notifications)
	prevHash, stateHash := e.hasher.Link(e.sequence, digest)

	output := CoreOutput{
		Envelope: &event.Envelope{
			Sequence:       e.sequence,
			IdempotencyKey: key,
			CommandKind:    kind,
			Target:         cmd.Target().String(),
			Caller:         cmd.Caller().String(),
			Timestamp:      cmd.Timestamp(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Instrument:    a.instrument,
		Journals:      a.journals,
		Notifications: notifications,
		Balances:      a.balances,
		Settlements:   a.settlements,
	}
	result := &Result{
		Sequence:      e.sequence,
		StateHash:     stateHash,
		Created:       a.created,
		Notifications: notifications,
	}
	e.sequence++

	if !e.replaying {
		e.emit(output, a.deliveries)
	}

	e.idempotency.MarkProcessed(kind, key)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(kind).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		for _, j := range a.journals {
			e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		for _, s := range a.settlements {
			e.metrics.SettlementTransitions.WithLabelValues(s.Transaction.Status.String()).Inc()
		}
	}
	span.SetAttributes(attribute.Int64("seq", result.Sequence))

	return result, nil
}

// emit sends the output downstream. The persist send blocks, the
// projection send drops when the channel is full.
func (e *Engine) emit(output CoreOutput, deliveries []sink.Delivery) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}

	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("projection").Inc()
			}
		}
	}

	if e.deliveryChan != nil && len(deliveries) > 0 {
		e.deliveryChan <- deliveries
	}
}

func (e *Engine) dispatch(ctx context.Context, cmd command.Command) (*applied, error) {
	caller := cmd.Caller()

	switch c := cmd.(type) {
	case *command.InitiateSubscription:
		inst, err := e.instrument(c.Instrument)
		if err != nil {
			return nil, err
		}
		eff, err := inst.InitiateSubscription(ctx, caller, c.Request)
		if err != nil {
			return nil, err
		}
		return fromEffects(inst, eff), nil

	case *command.ConfirmPaymentReceived:
		inst, err := e.instrument(c.Instrument)
		if err != nil {
			return nil, err
		}
		eff, err := inst.ConfirmPaymentReceived(ctx, caller, c.TxID)
		if err != nil {
			return nil, err
		}
		return fromEffects(inst, eff), nil

	case *command.ConfirmPaymentTransferred:
		inst, err := e.instrument(c.Instrument)
		if err != nil {
			return nil, err
		}
		eff, err := inst.ConfirmPaymentTransferred(ctx, caller, c.TxID)
		if err != nil {
			return nil, err
		}
		return fromEffects(inst, eff), nil

	case *command.RunOperator:
		inst, err := e.instrument(c.Instrument)
		if err != nil {
			return nil, err
		}
		eff, err := inst.Run(ctx, caller, c.Entrypoint, c.Operator, c.Role)
		if err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.OperatorChanges.WithLabelValues(c.Entrypoint, c.Role.String()).Inc()
		}
		return fromEffects(inst, eff), nil

	case *command.UpgradeInstrument:
		inst, err := e.instrument(c.Instrument)
		if err != nil {
			return nil, err
		}
		if err := inst.Upgrade(caller, c.Scripts); err != nil {
			return nil, err
		}
		return &applied{}, nil

	case *command.CreateInstrument:
		f, err := directory.Resolve[*factory.Factory](e.dir, c.Factory, "factory", directory.ErrBadFactoryAddress)
		if err != nil {
			return nil, err
		}
		created, err := f.CreateInstrument(ctx, caller, c.Request)
		if err != nil {
			return nil, err
		}
		inst := created.Instrument
		bal, _ := inst.Balance(c.Request.Owner)
		if e.metrics != nil {
			e.metrics.InstrumentsCreated.Inc()
		}
		e.refreshListed(c.Request.Registry)
		return &applied{
			instrument: inst.Address(),
			journals:   []ledger.Journal{created.Issue},
			balances:   []BalanceUpdate{{Instrument: inst.Address(), Account: c.Request.Owner, Balance: bal}},
			deliveries: created.Deliveries,
			created:    inst.Address(),
		}, nil

	case *command.UpgradeFactory:
		f, err := directory.Resolve[*factory.Factory](e.dir, c.Factory, "factory", directory.ErrBadFactoryAddress)
		if err != nil {
			return nil, err
		}
		if err := f.Upgrade(caller, c.Scripts); err != nil {
			return nil, err
		}
		return &applied{}, nil

	case *command.ListInstrument:
		reg, err := e.registry(c.Registry)
		if err != nil {
			return nil, err
		}
		ds, err := reg.ListInstrument(caller, registry.Instrument{Name: c.Name, ISIN: c.ISIN, Address: c.Address})
		if err != nil {
			return nil, err
		}
		e.refreshListed(c.Registry)
		return &applied{deliveries: ds}, nil

	case *command.UnlistInstrument:
		reg, err := e.registry(c.Registry)
		if err != nil {
			return nil, err
		}
		ds, err := reg.UnlistInstrument(caller, c.ISIN)
		if err != nil {
			return nil, err
		}
		e.refreshListed(c.Registry)
		return &applied{deliveries: ds}, nil

	case *command.AuthorizeFactory:
		reg, err := e.registry(c.Registry)
		if err != nil {
			return nil, err
		}
		if err := reg.AuthorizeFactory(caller, c.FactoryType, c.Factory); err != nil {
			return nil, err
		}
		return &applied{}, nil

	case *command.UnAuthorizeFactory:
		reg, err := e.registry(c.Registry)
		if err != nil {
			return nil, err
		}
		if err := reg.UnAuthorizeFactory(caller, c.Factory); err != nil {
			return nil, err
		}
		return &applied{}, nil

	default:
		return nil, fmt.Errorf("%w: unhandled command %T", command.ErrInvalidCommand, cmd)
	}
}

func (e *Engine) instrument(addr ledger.Address) (*bond.Instrument, error) {
	return directory.Resolve[*bond.Instrument](e.dir, addr, "instrument", directory.ErrBadInstrumentAddress)
}

func (e *Engine) registry(addr ledger.Address) (*registry.Registry, error) {
	return directory.Resolve[*registry.Registry](e.dir, addr, "instrument registry", directory.ErrBadRegistryAddress)
}

func (e *Engine) refreshListed(addr ledger.Address) {
	if e.metrics == nil {
		return
	}
	if reg, err := e.registry(addr); err == nil {
		e.metrics.InstrumentsListed.Set(float64(len(reg.Instruments())))
	}
}

func fromEffects(inst *bond.Instrument, eff *bond.Effects) *applied {
	a := &applied{
		instrument: inst.Address(),
		journals:   eff.Journals,
		deliveries: eff.Deliveries,
	}
	for _, account := range eff.Accounts() {
		bal, _ := inst.Balance(account)
		a.balances = append(a.balances, BalanceUpdate{Instrument: inst.Address(), Account: account, Balance: bal})
	}
	for _, tx := range eff.Transactions {
		opType, _ := inst.OperationType(tx.OperationID)
		a.settlements = append(a.settlements, SettlementUpdate{Instrument: inst.Address(), OperationType: opType, Transaction: tx})
	}
	return a
}

// computeStateDigest builds canonical bytes over the target and every
// balance, settlement and notification the command produced.
func (e *Engine) computeStateDigest(target ledger.Address, a *applied, notifications []event.Outgoing) []byte {
	digest := appendString(nil, target.String())

	balances := append([]BalanceUpdate(nil), a.balances...)
	sort.Slice(balances, func(i, j int) bool {
		if balances[i].Instrument != balances[j].Instrument {
			return balances[i].Instrument < balances[j].Instrument
		}
		return balances[i].Account < balances[j].Account
	})
	for _, b := range balances {
		digest = appendString(digest, b.Instrument.String())
		digest = appendString(digest, b.Account.String())
		digest = appendUint64LE(digest, b.Balance.Balance)
		digest = appendUint64LE(digest, b.Balance.Locked)
	}

	settlements := append([]SettlementUpdate(nil), a.settlements...)
	sort.Slice(settlements, func(i, j int) bool {
		return settlements[i].Transaction.TxID < settlements[j].Transaction.TxID
	})
	for _, s := range settlements {
		digest = appendUint64LE(digest, s.Transaction.TxID)
		digest = append(digest, byte(s.Transaction.Status))
	}

	for _, n := range notifications {
		digest = appendString(digest, n.Notification.Kind().String())
		digest = appendString(digest, n.Emitter.String())
	}
	return digest
}

// appendString writes s with a uvarint length prefix, so no two strings
// share an encoding whatever their length.
func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// Replay re-applies a logged command without emitting outputs. The
// command must land on the logged sequence.
func (e *Engine) Replay(ctx context.Context, sequence int64, cmd command.Command) error {
	if sequence != e.sequence {
		return fmt.Errorf("replay: log sequence %d, core at %d", sequence, e.sequence)
	}

	e.replaying = true
	defer func() { e.replaying = false }()

	res, err := e.Process(ctx, cmd)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", sequence, err)
	}
	if res.Duplicate {
		return fmt.Errorf("replay seq=%d: command %s already applied", sequence, cmd.IdempotencyKey())
	}
	return nil
}

// Sequence returns the next sequence to assign.
func (e *Engine) Sequence() int64 {
	return e.sequence
}

// StateHash returns the chain tip.
func (e *Engine) StateHash() [32]byte {
	return e.hasher.Tip()
}

func (e *Engine) Directory() *directory.Directory {
	return e.dir
}
