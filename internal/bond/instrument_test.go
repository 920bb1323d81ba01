package bond_test

import (
	"context"
	"strings"
	"testing"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/operator"
	"ForgeLedger/internal/settlement"
	"ForgeLedger/internal/sink"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

const (
	registrar = ledger.Address("tz1registrar")
	settler   = ledger.Address("tz1settler")
	owner     = ledger.Address("tz1owner")
	investor  = ledger.Address("tz1investor")
	stranger  = ledger.Address("tz1stranger")
)

type InstrumentSuite struct {
	suite.Suite

	ctx      context.Context
	dir      *directory.Directory
	recorder *sink.Recorder
	inst     *bond.Instrument
}

func TestInstrumentSuite(t *testing.T) {
	suite.Run(t, new(InstrumentSuite))
}

func (s *InstrumentSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = directory.New()
	s.recorder = sink.NewRecorder("memory")
	sinkAddr := s.dir.Allocate(s.recorder)

	addr := s.dir.Reserve()
	inst, issue, err := bond.New(bond.Params{
		Address: addr,
		Metadata: bond.Metadata{
			Name:          "Forge Bond 2027",
			Symbol:        "FB27",
			ISIN:          "FR0000000001",
			Currency:      "EUR",
			Owner:         owner,
			InitialSupply: 1000,
			Terms:         sampleTerms(),
			EventSink:     sinkAddr,
		},
		Registrar: registrar,
		Settler:   settler,
		Sinks:     s.dir,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.dir.Register(addr, inst))
	s.Equal(ledger.JournalTypeIssue, issue.JournalType)
	s.inst = inst
}

// deliver hands committed notifications to their endpoints.
func (s *InstrumentSuite) deliver(eff *bond.Effects) {
	sink.NewDispatcher(nil, zerolog.Nop(), nil).Deliver(s.ctx, eff.Deliveries)
}

func (s *InstrumentSuite) subscribe(txID, opID, qty uint64) (*bond.Effects, error) {
	return s.inst.InitiateSubscription(s.ctx, registrar, bond.SubscriptionRequest{
		TxID:        txID,
		OperationID: opID,
		Sender:      owner,
		Receiver:    investor,
		Quantity:    qty,
		TxHash:      "h",
	})
}

func (s *InstrumentSuite) balance(a ledger.Address) ledger.Balance {
	b, _ := s.inst.Balance(a)
	return b
}

func (s *InstrumentSuite) status(txID uint64) settlement.Status {
	tx, err := s.inst.Transaction(txID)
	s.Require().NoError(err)
	return tx.Status
}

// assertLockedWithinBalance checks locked <= balance for every account.
func (s *InstrumentSuite) assertLockedWithinBalance() {
	for a, b := range s.inst.Balances() {
		s.LessOrEqual(b.Locked, b.Balance, "account %s", a)
	}
}

// ============================================================================
// Test: full subscription lifecycle
// ============================================================================

func (s *InstrumentSuite) TestSubscriptionLifecycle() {
	eff, err := s.subscribe(1, 1, 200)
	s.Require().NoError(err)
	s.deliver(eff)
	s.Equal(ledger.Balance{Balance: 1000, Locked: 200}, s.balance(owner))
	s.Equal(settlement.StatusTokenLocked, s.status(1))
	s.Equal([]event.Kind{event.KindSubscriptionInitiated}, s.recorder.Kinds())
	s.assertLockedWithinBalance()

	s.recorder.Reset()
	eff, err = s.inst.ConfirmPaymentReceived(s.ctx, settler, 1)
	s.Require().NoError(err)
	s.deliver(eff)
	s.Equal(ledger.Balance{Balance: 800, Locked: 0}, s.balance(owner))
	s.Equal(ledger.Balance{Balance: 200, Locked: 0}, s.balance(investor))
	s.Equal(settlement.StatusCashReceived, s.status(1))
	s.Equal([]event.Kind{event.KindTransfer, event.KindPaymentReceived}, s.recorder.Kinds())
	got := s.recorder.Received()
	s.Equal(event.Transfer{From: owner, To: investor, Value: 200}, got[0].Notification)
	s.Equal(event.PaymentReceived{SettlementID: 1, OperationType: settlement.OperationSubscription}, got[1].Notification)
	s.Equal([]ledger.Address{owner, investor}, eff.Accounts())
	s.assertLockedWithinBalance()

	s.recorder.Reset()
	eff, err = s.inst.ConfirmPaymentTransferred(s.ctx, settler, 1)
	s.Require().NoError(err)
	s.deliver(eff)
	s.Equal(settlement.StatusCashSent, s.status(1))
	s.Empty(eff.Journals, "no ledger change on final confirmation")
	s.Equal(ledger.Balance{Balance: 800, Locked: 0}, s.balance(owner))
	s.Equal([]event.Kind{event.KindPaymentTransferred}, s.recorder.Kinds())

	_, err = s.inst.ConfirmPaymentTransferred(s.ctx, settler, 1)
	s.ErrorIs(err, settlement.ErrWrongStatusForTransition)
	s.Equal(settlement.StatusCashSent, s.status(1), "terminal status never changes")

	_, err = s.inst.ConfirmPaymentReceived(s.ctx, settler, 1)
	s.ErrorIs(err, settlement.ErrWrongStatusForTransition)
	s.Equal(settlement.StatusCashSent, s.status(1))
}

// ============================================================================
// Test: initiateSubscription rejections
// ============================================================================

func (s *InstrumentSuite) TestInitiate_Unauthorized() {
	_, err := s.inst.InitiateSubscription(s.ctx, settler, bond.SubscriptionRequest{
		TxID: 1, OperationID: 1, Sender: owner, Receiver: investor, Quantity: 200,
	})
	s.ErrorIs(err, operator.ErrUnauthorized)
	s.Equal(ledger.Balance{Balance: 1000}, s.balance(owner))
	s.Empty(s.inst.Transactions())
}

func (s *InstrumentSuite) TestInitiate_DuplicateTxID() {
	_, err := s.subscribe(1, 1, 200)
	s.Require().NoError(err)

	_, err = s.subscribe(1, 2, 100)
	s.ErrorIs(err, settlement.ErrDuplicateTransactionID)
	s.Equal(uint64(200), s.balance(owner).Locked)
}

func (s *InstrumentSuite) TestInitiate_DuplicateOperationID() {
	_, err := s.subscribe(1, 1, 200)
	s.Require().NoError(err)

	_, err = s.subscribe(2, 1, 100)
	s.ErrorIs(err, settlement.ErrDuplicateOperationID)
	s.Equal(uint64(200), s.balance(owner).Locked)
}

func (s *InstrumentSuite) TestInitiate_OwnerMismatch() {
	_, err := s.inst.InitiateSubscription(s.ctx, registrar, bond.SubscriptionRequest{
		TxID: 1, OperationID: 1, Sender: investor, Receiver: owner, Quantity: 1,
	})
	s.ErrorIs(err, bond.ErrOwnerMismatch)
}

func (s *InstrumentSuite) TestInitiate_ZeroQuantity() {
	_, err := s.subscribe(1, 1, 0)
	s.ErrorIs(err, ledger.ErrInvalidQuantity)
}

func (s *InstrumentSuite) TestInitiate_InsufficientDisposable() {
	_, err := s.subscribe(1, 1, 900)
	s.Require().NoError(err)

	_, err = s.subscribe(2, 2, 101)
	s.ErrorIs(err, ledger.ErrInsufficientDisposableBalance)
	s.Equal(bond.CategoryLedger, bond.Classify(err))

	_, err = s.inst.Transaction(2)
	s.ErrorIs(err, settlement.ErrUnknownTransactionID, "failed lock leaves no transaction")
}

// ============================================================================
// Test: confirm transitions
// ============================================================================

func (s *InstrumentSuite) TestConfirmReceived_WrongStatusLeavesStateUnchanged() {
	_, err := s.subscribe(1, 1, 200)
	s.Require().NoError(err)
	_, err = s.inst.ConfirmPaymentReceived(s.ctx, settler, 1)
	s.Require().NoError(err)

	before := s.inst.Snapshot()
	_, err = s.inst.ConfirmPaymentReceived(s.ctx, settler, 1)
	s.ErrorIs(err, settlement.ErrWrongStatusForTransition)
	s.Equal(before, s.inst.Snapshot())
}

func (s *InstrumentSuite) TestConfirmReceived_UnderflowIsFatal() {
	_, err := s.subscribe(1, 1, 200)
	s.Require().NoError(err)

	// Drop the lock behind the settlement's back.
	snap := s.inst.Snapshot()
	snap.Balances[owner] = ledger.Balance{Balance: 1000, Locked: 0}
	corrupted, err := bond.Restore(snap, nil, s.dir)
	s.Require().NoError(err)

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		_, _ = corrupted.ConfirmPaymentReceived(s.ctx, settler, 1)
	}()

	msg, ok := recovered.(string)
	s.Require().True(ok, "expected a string panic, got %#v", recovered)
	s.True(strings.HasPrefix(msg, "FATAL: "), msg)
	s.Contains(msg, "would underflow")

	s.Equal(snap, corrupted.Snapshot(), "panicking commit must not swap in the working copy")
	tx, err := corrupted.Transaction(1)
	s.Require().NoError(err)
	s.Equal(settlement.StatusTokenLocked, tx.Status)
}

func (s *InstrumentSuite) TestConfirmReceived_StatusCheckedBeforeRole() {
	_, err := s.inst.ConfirmPaymentReceived(s.ctx, stranger, 42)
	s.ErrorIs(err, settlement.ErrUnknownTransactionID)

	_, err = s.subscribe(1, 1, 200)
	s.Require().NoError(err)
	_, err = s.inst.ConfirmPaymentReceived(s.ctx, registrar, 1)
	s.ErrorIs(err, operator.ErrUnauthorized)
	s.Equal(settlement.StatusTokenLocked, s.status(1))
}

func (s *InstrumentSuite) TestConfirmTransferred_RoleCheckedFirst() {
	_, err := s.inst.ConfirmPaymentTransferred(s.ctx, stranger, 42)
	s.ErrorIs(err, operator.ErrUnauthorized)

	_, err = s.subscribe(1, 1, 200)
	s.Require().NoError(err)
	_, err = s.inst.ConfirmPaymentTransferred(s.ctx, settler, 1)
	s.ErrorIs(err, settlement.ErrWrongStatusForTransition)
}

// ============================================================================
// Test: operator scripts
// ============================================================================

func (s *InstrumentSuite) TestRun_AuthorizeAndRevoke() {
	eff, err := s.inst.Run(s.ctx, registrar, "authorizeOperator", stranger, operator.RoleSettler)
	s.Require().NoError(err)
	s.deliver(eff)
	s.Equal([]operator.Role{operator.RoleSettler}, s.inst.Roles(stranger))

	_, err = s.inst.Run(s.ctx, registrar, "authorizeOperator", stranger, operator.RoleSettler)
	s.ErrorIs(err, operator.ErrRoleAlreadyGranted)
	s.Equal([]operator.Role{operator.RoleSettler}, s.inst.Roles(stranger))

	eff, err = s.inst.Run(s.ctx, registrar, "revokeOperatorAuthorization", stranger, operator.RoleSettler)
	s.Require().NoError(err)
	s.deliver(eff)
	s.Empty(s.inst.Roles(stranger))

	received := s.recorder.Received()
	s.Require().Len(received, 2)
	s.Equal(event.NewOperator{By: registrar, Operator: stranger, Role: operator.RoleSettler}, received[0].Notification)
	s.Equal(event.RevokeOperator{By: registrar, Operator: stranger, Role: operator.RoleSettler}, received[1].Notification)
}

func (s *InstrumentSuite) TestRun_UnknownEntrypoint() {
	_, err := s.inst.Run(s.ctx, registrar, "mint", stranger, operator.RoleSettler)
	s.ErrorIs(err, bond.ErrUnknownEntrypoint)

	_, err = s.inst.Run(s.ctx, registrar, "initiateSubscription", stranger, operator.RoleSettler)
	s.ErrorIs(err, bond.ErrUnknownEntrypoint)
}

func (s *InstrumentSuite) TestRun_RequiresRegistrar() {
	_, err := s.inst.Run(s.ctx, owner, "authorizeOperator", stranger, operator.RoleSettler)
	s.ErrorIs(err, operator.ErrUnauthorized)
	s.Equal(bond.CategoryAuthorization, bond.Classify(err))
}

// ============================================================================
// Test: upgrade
// ============================================================================

func (s *InstrumentSuite) TestUpgrade_OwnerCanGrantWithV2() {
	v2 := bond.ScriptRef{Name: "authorizeOperator", Version: 2}

	err := s.inst.Upgrade(registrar, map[bond.Entrypoint]bond.ScriptRef{bond.EntrypointAuthorizeOperator: v2})
	s.ErrorIs(err, bond.ErrNotOwner)

	s.Require().NoError(s.inst.Upgrade(owner, map[bond.Entrypoint]bond.ScriptRef{bond.EntrypointAuthorizeOperator: v2}))
	s.Equal(v2, s.inst.Scripts()[bond.EntrypointAuthorizeOperator])

	_, err = s.inst.Run(s.ctx, owner, "authorizeOperator", stranger, operator.RoleRegistrar)
	s.Require().NoError(err)
	s.Equal([]operator.Role{operator.RoleRegistrar}, s.inst.Roles(stranger))
}

func (s *InstrumentSuite) TestUpgrade_AllOrNothing() {
	before := s.inst.Scripts()

	err := s.inst.Upgrade(owner, map[bond.Entrypoint]bond.ScriptRef{
		bond.EntrypointAuthorizeOperator:    {Name: "authorizeOperator", Version: 2},
		bond.EntrypointInitiateSubscription: {Name: "initiateSubscription", Version: 9},
	})
	s.ErrorIs(err, bond.ErrUnknownScript)
	s.Equal(before, s.inst.Scripts())

	err = s.inst.Upgrade(owner, map[bond.Entrypoint]bond.ScriptRef{
		bond.EntrypointConfirmPaymentReceived: {Name: "authorizeOperator", Version: 1},
	})
	s.ErrorIs(err, bond.ErrScriptSignatureMismatch)
	s.Equal(before, s.inst.Scripts())
}

// ============================================================================
// Test: downstream resolution
// ============================================================================

func (s *InstrumentSuite) TestBadEventSinkAbortsOperation() {
	narrow := sink.NewRecorder("narrow", event.KindTransfer)
	sinkAddr := s.dir.Allocate(narrow)

	inst, _, err := bond.New(bond.Params{
		Address: s.dir.Reserve(),
		Metadata: bond.Metadata{
			Name: "Narrow", ISIN: "FR0000000002", Owner: owner, InitialSupply: 10,
			Terms: sampleTerms(), EventSink: sinkAddr,
		},
		Registrar: registrar,
		Settler:   settler,
		Sinks:     s.dir,
	})
	s.Require().NoError(err)

	_, err = inst.InitiateSubscription(s.ctx, registrar, bond.SubscriptionRequest{
		TxID: 1, OperationID: 1, Sender: owner, Receiver: investor, Quantity: 5,
	})
	s.ErrorIs(err, directory.ErrBadEventSinkAddress)
	s.Equal(bond.CategoryDownstream, bond.Classify(err))

	b, _ := inst.Balance(owner)
	s.Equal(ledger.Balance{Balance: 10}, b, "no lock without a resolvable notification")
	s.Empty(inst.Transactions())
}

// ============================================================================
// Test: snapshot
// ============================================================================

func (s *InstrumentSuite) TestSnapshotRestore() {
	_, err := s.subscribe(1, 1, 200)
	s.Require().NoError(err)
	s.Require().NoError(s.inst.Upgrade(owner, map[bond.Entrypoint]bond.ScriptRef{
		bond.EntrypointRevokeOperatorAuthorization: {Name: "revokeOperatorAuthorization", Version: 2},
	}))

	snap := s.inst.Snapshot()
	restored, err := bond.Restore(snap, nil, s.dir)
	s.Require().NoError(err)
	s.Equal(snap, restored.Snapshot())

	_, err = restored.ConfirmPaymentReceived(s.ctx, settler, 1)
	s.Require().NoError(err)
	b, _ := restored.Balance(investor)
	s.Equal(uint64(200), b.Balance)
}

func TestNew_InvalidMetadata(t *testing.T) {
	_, _, err := bond.New(bond.Params{
		Metadata:  bond.Metadata{Name: "x", ISIN: "y", Owner: owner, EventSink: "KT1sink", Terms: sampleTerms()},
		Registrar: registrar,
		Settler:   settler,
	})
	if err == nil {
		t.Fatal("zero initial supply must be rejected")
	}
}
