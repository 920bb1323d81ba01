package bond

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/observability"
	"ForgeLedger/internal/operator"
	"ForgeLedger/internal/settlement"
	"ForgeLedger/internal/sink"

	"go.opentelemetry.io/otel/attribute"
)

var tracer = observability.Tracer("bond")

// Metadata describes an instrument. Owner and the supplies are fixed at
// creation; settlements only move tokens between accounts.
type Metadata struct {
	Name          string         `json:"name"`
	Symbol        string         `json:"symbol"`
	ISIN          string         `json:"isin"`
	Currency      string         `json:"currency"`
	Owner         ledger.Address `json:"owner"`
	InitialSupply uint64         `json:"initial_supply"`
	CurrentSupply uint64         `json:"current_supply"`
	Terms         Terms          `json:"terms"`
	EventSink     ledger.Address `json:"event_sink"`
}

func (m Metadata) validate() error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidMetadata)
	case strings.TrimSpace(m.ISIN) == "":
		return fmt.Errorf("%w: empty ISIN", ErrInvalidMetadata)
	case m.Owner.IsZero():
		return fmt.Errorf("%w: no owner", ErrInvalidMetadata)
	case m.InitialSupply == 0:
		return fmt.Errorf("%w: initial supply must be positive", ErrInvalidMetadata)
	case m.EventSink.IsZero():
		return fmt.Errorf("%w: no event sink", ErrInvalidMetadata)
	}
	return m.Terms.Validate()
}

// SubscriptionRequest is the input of InitiateSubscription.
type SubscriptionRequest struct {
	TxID        uint64         `json:"tx_id"`
	OperationID uint64         `json:"operation_id"`
	Sender      ledger.Address `json:"delivery_sender_account_number"`
	Receiver    ledger.Address `json:"delivery_receiver_account_number"`
	Quantity    uint64         `json:"delivery_quantity"`
	TxHash      string         `json:"tx_hash"`
}

// Effects is what a committed operation changed.
type Effects struct {
	Instrument   ledger.Address
	Journals     []ledger.Journal
	Transactions []settlement.Transaction
	Deliveries   []sink.Delivery
}

// Accounts returns the accounts touched by the journals, in first-seen order.
func (e *Effects) Accounts() []ledger.Address {
	seen := make(map[ledger.Address]bool)
	var out []ledger.Address
	for _, j := range e.Journals {
		for _, a := range []ledger.Address{j.From, j.To} {
			if a.IsZero() || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// Notifications returns the staged notifications in order.
func (e *Effects) Notifications() []event.Outgoing {
	out := make([]event.Outgoing, len(e.Deliveries))
	for i, d := range e.Deliveries {
		out[i] = d.Outgoing
	}
	return out
}

// Instrument is one deployed bond. It exclusively owns its balances,
// operator authorizations and settlement repository. Every operation runs
// on a clone of that state and is swapped in only on success.
type Instrument struct {
	mu sync.RWMutex

	address   ledger.Address
	meta      Metadata
	state     *State
	scripts   Table
	catalogue *Catalogue
	sinks     sink.Resolver
}

// Params configures a new instrument.
type Params struct {
	Address   ledger.Address
	Metadata  Metadata
	Registrar ledger.Address
	Settler   ledger.Address
	Scripts   Table
	Catalogue *Catalogue
	Sinks     sink.Resolver
}

// New creates an instrument whose owner holds the whole initial supply.
// The returned journal records the issuance.
func New(p Params) (*Instrument, ledger.Journal, error) {
	p.Metadata.CurrentSupply = p.Metadata.InitialSupply
	if err := p.Metadata.validate(); err != nil {
		return nil, ledger.Journal{}, err
	}
	if p.Registrar.IsZero() || p.Settler.IsZero() {
		return nil, ledger.Journal{}, fmt.Errorf("%w: registrar and settler are required", ErrInvalidMetadata)
	}
	if p.Scripts == nil {
		p.Scripts = DefaultTable()
	}
	if p.Catalogue == nil {
		p.Catalogue = DefaultCatalogue()
	}

	balances := ledger.NewBalanceTracker()
	issue, err := balances.Credit(p.Metadata.Owner, p.Metadata.InitialSupply)
	if err != nil {
		return nil, ledger.Journal{}, err
	}

	return &Instrument{
		address: p.Address,
		meta:    p.Metadata,
		state: &State{
			Owner:       p.Metadata.Owner,
			Balances:    balances,
			Operators:   operator.Seed(p.Registrar, p.Settler),
			Settlements: settlement.NewRepository(),
		},
		scripts:   p.Scripts.Clone(),
		catalogue: p.Catalogue,
		sinks:     p.Sinks,
	}, issue, nil
}

func (i *Instrument) Address() ledger.Address {
	return i.address
}

func (i *Instrument) Metadata() Metadata {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.meta
}

// commit runs op on a working copy of the state. On success the copy
// replaces the live state and the staged notifications are returned.
func (i *Instrument) commit(op func(st *State, out *sink.Outbox, eff *Effects) error) (*Effects, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	work := i.state.clone()
	out := sink.NewOutbox(i.sinks)
	eff := &Effects{Instrument: i.address}

	if err := op(work, out, eff); err != nil {
		if errors.Is(err, ledger.ErrUnderflow) {
			panic(fmt.Sprintf("FATAL: instrument %s: %v", i.address, err))
		}
		return nil, err
	}

	v := ledger.NewInvariantValidator(work.Balances)
	if err := v.ValidateLockedWithinBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: instrument %s: %v", i.address, err))
	}
	if err := v.ValidateSupply(i.meta.CurrentSupply); err != nil {
		panic(fmt.Sprintf("FATAL: instrument %s: %v", i.address, err))
	}

	i.state = work
	eff.Deliveries = out.Deliveries()
	return eff, nil
}

func (i *Instrument) script(ep Entrypoint) (Script, error) {
	s, ok := i.scripts[ep]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntrypoint, ep)
	}
	return s, nil
}

// InitiateSubscription locks the delivery quantity on the owner's account
// and records the settlement transaction as TokenLocked.
func (i *Instrument) InitiateSubscription(ctx context.Context, caller ledger.Address, req SubscriptionRequest) (*Effects, error) {
	_, span := tracer.Start(ctx, "bond.InitiateSubscription")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", i.address.String()), attribute.Int64("tx_id", int64(req.TxID)))

	return i.commit(func(st *State, out *sink.Outbox, eff *Effects) error {
		s, err := i.script(EntrypointInitiateSubscription)
		if err != nil {
			return err
		}
		script, ok := s.(SubscriptionScript)
		if !ok {
			return fmt.Errorf("%w: %s", ErrScriptSignatureMismatch, s.Ref())
		}

		tx := settlement.Transaction{
			TxID:                          req.TxID,
			OperationID:                   req.OperationID,
			DeliverySenderAccountNumber:   req.Sender,
			DeliveryReceiverAccountNumber: req.Receiver,
			DeliveryQuantity:              req.Quantity,
			TxHash:                        req.TxHash,
		}
		j, err := script.InitiateSubscription(st, caller, tx)
		if err != nil {
			return err
		}

		stored, err := st.Settlements.Get(req.TxID)
		if err != nil {
			return err
		}
		eff.Journals = append(eff.Journals, j)
		eff.Transactions = append(eff.Transactions, stored)

		return out.Stage(i.meta.EventSink, i.address, event.SubscriptionInitiated{SettlementID: req.TxID})
	})
}

// ConfirmPaymentReceived delivers the locked tokens to the investor.
// Emits Transfer then PaymentReceived.
func (i *Instrument) ConfirmPaymentReceived(ctx context.Context, caller ledger.Address, txID uint64) (*Effects, error) {
	_, span := tracer.Start(ctx, "bond.ConfirmPaymentReceived")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", i.address.String()), attribute.Int64("tx_id", int64(txID)))

	return i.commit(func(st *State, out *sink.Outbox, eff *Effects) error {
		s, err := i.script(EntrypointConfirmPaymentReceived)
		if err != nil {
			return err
		}
		script, ok := s.(PaymentReceivedScript)
		if !ok {
			return fmt.Errorf("%w: %s", ErrScriptSignatureMismatch, s.Ref())
		}

		tx, j, err := script.ConfirmPaymentReceived(st, caller, txID)
		if err != nil {
			return err
		}
		eff.Journals = append(eff.Journals, j)
		eff.Transactions = append(eff.Transactions, tx)

		opType, _ := st.Settlements.OperationType(tx.OperationID)

		if err := out.Stage(i.meta.EventSink, i.address, event.Transfer{
			From:  tx.DeliverySenderAccountNumber,
			To:    tx.DeliveryReceiverAccountNumber,
			Value: tx.DeliveryQuantity,
		}); err != nil {
			return err
		}
		return out.Stage(i.meta.EventSink, i.address, event.PaymentReceived{
			SettlementID:  txID,
			OperationType: opType,
		})
	})
}

// ConfirmPaymentTransferred closes the settlement. No tokens move.
func (i *Instrument) ConfirmPaymentTransferred(ctx context.Context, caller ledger.Address, txID uint64) (*Effects, error) {
	_, span := tracer.Start(ctx, "bond.ConfirmPaymentTransferred")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", i.address.String()), attribute.Int64("tx_id", int64(txID)))

	return i.commit(func(st *State, out *sink.Outbox, eff *Effects) error {
		s, err := i.script(EntrypointConfirmPaymentTransferred)
		if err != nil {
			return err
		}
		script, ok := s.(PaymentTransferredScript)
		if !ok {
			return fmt.Errorf("%w: %s", ErrScriptSignatureMismatch, s.Ref())
		}

		tx, err := script.ConfirmPaymentTransferred(st, caller, txID)
		if err != nil {
			return err
		}
		eff.Transactions = append(eff.Transactions, tx)

		opType, _ := st.Settlements.OperationType(tx.OperationID)
		return out.Stage(i.meta.EventSink, i.address, event.PaymentTransferred{
			SettlementID:  txID,
			OperationType: opType,
		})
	})
}

// Run dispatches an operator script by entrypoint name.
func (i *Instrument) Run(ctx context.Context, caller ledger.Address, entrypointName string, target ledger.Address, role operator.Role) (*Effects, error) {
	_, span := tracer.Start(ctx, "bond.Run")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", i.address.String()), attribute.String("entrypoint", entrypointName))

	ep := Entrypoint(entrypointName)

	return i.commit(func(st *State, out *sink.Outbox, eff *Effects) error {
		s, err := i.script(ep)
		if err != nil {
			return err
		}
		script, ok := s.(OperatorScript)
		if !ok {
			return fmt.Errorf("%w: %s is not an operator entrypoint", ErrUnknownEntrypoint, ep)
		}

		if err := script.Apply(st, caller, target, role); err != nil {
			return err
		}

		change := event.OperatorChange{By: caller, Operator: target, Role: role}
		switch ep {
		case EntrypointAuthorizeOperator:
			return out.Stage(i.meta.EventSink, i.address, event.NewOperator(change))
		case EntrypointRevokeOperatorAuthorization:
			return out.Stage(i.meta.EventSink, i.address, event.RevokeOperator(change))
		}
		return nil
	})
}

// Upgrade rebinds entrypoints to other catalogue scripts. Only the owner
// may upgrade; the table is unchanged unless every reference resolves.
func (i *Instrument) Upgrade(caller ledger.Address, refs map[Entrypoint]ScriptRef) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if caller != i.meta.Owner {
		return fmt.Errorf("%w: caller %s", ErrNotOwner, caller)
	}

	update, err := i.catalogue.Resolve(refs)
	if err != nil {
		return err
	}
	i.scripts = i.scripts.With(update)
	return nil
}

// --- read access ---

func (i *Instrument) Balance(account ledger.Address) (ledger.Balance, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.Balances.GetBalance(account)
}

func (i *Instrument) Balances() map[ledger.Address]ledger.Balance {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.Balances.Snapshot()
}

func (i *Instrument) Transaction(txID uint64) (settlement.Transaction, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.Settlements.Get(txID)
}

func (i *Instrument) Transactions() []settlement.Transaction {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.Settlements.Transactions()
}

// OperationType returns the type recorded for a settlement operation.
func (i *Instrument) OperationType(operationID uint64) (settlement.OperationType, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.Settlements.OperationType(operationID)
}

func (i *Instrument) Roles(account ledger.Address) []operator.Role {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state.Operators.Roles(account)
}

func (i *Instrument) Scripts() map[Entrypoint]ScriptRef {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.scripts.Refs()
}
