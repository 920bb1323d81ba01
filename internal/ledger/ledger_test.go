package ledger_test

import (
	"errors"
	"testing"

	"ForgeLedger/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner    = ledger.Address("tz1owner")
	investor = ledger.Address("tz1investor")
)

func seeded(t *testing.T, balance uint64) *ledger.BalanceTracker {
	t.Helper()
	bt := ledger.NewBalanceTracker()
	_, err := bt.Credit(owner, balance)
	require.NoError(t, err)
	return bt
}

// ============================================================================
// Test: Address
// ============================================================================

func TestParseAddress(t *testing.T) {
	a, err := ledger.ParseAddress(" tz1alice ")
	require.NoError(t, err)
	assert.Equal(t, ledger.Address("tz1alice"), a)
	assert.False(t, a.IsContract())

	_, err = ledger.ParseAddress("0xdeadbeef")
	assert.Error(t, err)

	_, err = ledger.ParseAddress("KT1")
	assert.Error(t, err)
}

func TestDeriveContractAddress(t *testing.T) {
	a := ledger.DeriveContractAddress("KT1factory/0")
	assert.Equal(t, a, ledger.DeriveContractAddress("KT1factory/0"))
	assert.NotEqual(t, a, ledger.DeriveContractAddress("KT1factory/1"))
	assert.True(t, a.IsContract())
}

func TestNewContractAddress_Unique(t *testing.T) {
	a := ledger.NewContractAddress()
	b := ledger.NewContractAddress()
	assert.NotEqual(t, a, b)
	assert.True(t, a.IsContract())
}

// ============================================================================
// Test: Lock
// ============================================================================

func TestLock_ReservesQuantity(t *testing.T) {
	bt := seeded(t, 1000)

	j, err := bt.Lock(owner, 200)
	require.NoError(t, err)
	assert.Equal(t, ledger.JournalTypeLock, j.JournalType)

	b, ok := bt.GetBalance(owner)
	require.True(t, ok)
	assert.Equal(t, ledger.Balance{Balance: 1000, Locked: 200}, b)
	assert.Equal(t, uint64(800), b.Disposable())
}

func TestLock_UnknownAccount(t *testing.T) {
	bt := seeded(t, 1000)

	_, err := bt.Lock(investor, 1)
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)

	_, ok := bt.GetBalance(investor)
	assert.False(t, ok, "failed lock must not create the account")
}

func TestLock_InsufficientDisposable(t *testing.T) {
	bt := seeded(t, 1000)
	_, err := bt.Lock(owner, 900)
	require.NoError(t, err)

	_, err = bt.Lock(owner, 101)
	require.ErrorIs(t, err, ledger.ErrInsufficientDisposableBalance)

	var ibe *ledger.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, uint64(100), ibe.Disposable)
	assert.Equal(t, uint64(101), ibe.Requested)

	b, _ := bt.GetBalance(owner)
	assert.Equal(t, uint64(900), b.Locked)
}

func TestLock_ExactDisposable(t *testing.T) {
	bt := seeded(t, 1000)
	_, err := bt.Lock(owner, 1000)
	require.NoError(t, err)

	b, _ := bt.GetBalance(owner)
	assert.Equal(t, uint64(0), b.Disposable())
}

func TestLock_ZeroQuantity(t *testing.T) {
	bt := seeded(t, 1000)
	_, err := bt.Lock(owner, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)
}

// ============================================================================
// Test: UnlockAndSettle
// ============================================================================

func TestUnlockAndSettle_MovesTokens(t *testing.T) {
	bt := seeded(t, 1000)
	_, err := bt.Lock(owner, 200)
	require.NoError(t, err)

	j, err := bt.UnlockAndSettle(owner, investor, 200)
	require.NoError(t, err)
	assert.Equal(t, ledger.JournalTypeSettle, j.JournalType)
	assert.Equal(t, owner, j.From)
	assert.Equal(t, investor, j.To)

	o, _ := bt.GetBalance(owner)
	i, ok := bt.GetBalance(investor)
	require.True(t, ok, "receiver is created lazily")
	assert.Equal(t, ledger.Balance{Balance: 800, Locked: 0}, o)
	assert.Equal(t, ledger.Balance{Balance: 200, Locked: 0}, i)
	assert.Equal(t, uint64(1000), bt.TotalBalance())
}

func TestUnlockAndSettle_LockedUnderflow(t *testing.T) {
	bt := seeded(t, 1000)
	_, err := bt.Lock(owner, 100)
	require.NoError(t, err)

	_, err = bt.UnlockAndSettle(owner, investor, 200)
	require.ErrorIs(t, err, ledger.ErrUnderflow)

	var ue *ledger.UnderflowError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "locked", ue.Field)

	o, _ := bt.GetBalance(owner)
	assert.Equal(t, ledger.Balance{Balance: 1000, Locked: 100}, o)
	_, ok := bt.GetBalance(investor)
	assert.False(t, ok)
}

func TestUnlockAndSettle_BalanceUnderflow(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	_, err := bt.UnlockAndSettle(owner, investor, 1)
	require.ErrorIs(t, err, ledger.ErrUnderflow)
}

// ============================================================================
// Test: Clone / Snapshot
// ============================================================================

func TestClone_Independent(t *testing.T) {
	bt := seeded(t, 1000)
	c := bt.Clone()

	_, err := c.Lock(owner, 500)
	require.NoError(t, err)

	o, _ := bt.GetBalance(owner)
	assert.Equal(t, uint64(0), o.Locked, "original must not see clone mutations")
}

func TestSnapshotRestore(t *testing.T) {
	bt := seeded(t, 1000)
	_, err := bt.Lock(owner, 10)
	require.NoError(t, err)

	restored := ledger.NewBalanceTracker()
	restored.Restore(bt.Snapshot())
	assert.Equal(t, bt.Snapshot(), restored.Snapshot())
	assert.Equal(t, []ledger.Address{owner}, restored.Accounts())
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestValidator_LockedWithinBalance(t *testing.T) {
	bt := seeded(t, 1000)
	_, err := bt.Lock(owner, 1000)
	require.NoError(t, err)

	v := ledger.NewInvariantValidator(bt)
	assert.NoError(t, v.ValidateLockedWithinBalance())

	broken := ledger.NewBalanceTracker()
	broken.Restore(map[ledger.Address]ledger.Balance{owner: {Balance: 1, Locked: 2}})
	assert.Error(t, ledger.NewInvariantValidator(broken).ValidateLockedWithinBalance())
}

func TestValidator_Supply(t *testing.T) {
	bt := seeded(t, 1000)
	_, err := bt.Lock(owner, 300)
	require.NoError(t, err)
	_, err = bt.UnlockAndSettle(owner, investor, 300)
	require.NoError(t, err)

	v := ledger.NewInvariantValidator(bt)
	assert.NoError(t, v.ValidateSupply(1000))
	assert.Error(t, v.ValidateSupply(999))
}

// ============================================================================
// Test: Batch
// ============================================================================

func TestBatch_Validate(t *testing.T) {
	bt := seeded(t, 1000)
	batch := ledger.NewBatch("op-1")
	assert.NoError(t, batch.Validate(), "empty batch is valid")

	lock, err := bt.Lock(owner, 5)
	require.NoError(t, err)
	batch.Add(lock)
	settle, err := bt.UnlockAndSettle(owner, investor, 5)
	require.NoError(t, err)
	batch.Add(settle)
	assert.NoError(t, batch.Validate())

	batch.Add(ledger.Journal{JournalType: ledger.JournalTypeSettle, From: owner, To: owner, Quantity: 1})
	assert.Error(t, batch.Validate())
}
