package ledger

import (
	"sort"

	"github.com/google/uuid"
)

// BalanceTracker maintains the balances of one instrument.
// Not thread-safe: owned by a single instrument and only mutated through
// the instrument's transitions.
type BalanceTracker struct {
	balances map[Address]Balance
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[Address]Balance),
	}
}

// Credit adds quantity to the account, creating it with nothing locked if absent.
func (bt *BalanceTracker) Credit(account Address, quantity uint64) (Journal, error) {
	if quantity == 0 {
		return Journal{}, ErrInvalidQuantity
	}

	b := bt.balances[account]
	b.Balance += quantity
	bt.balances[account] = b

	return Journal{
		JournalID:   uuid.New(),
		JournalType: JournalTypeIssue,
		To:          account,
		Quantity:    quantity,
	}, nil
}

// Lock reserves quantity on account so that it cannot be spent twice
// while a settlement is pending.
func (bt *BalanceTracker) Lock(account Address, quantity uint64) (Journal, error) {
	if quantity == 0 {
		return Journal{}, ErrInvalidQuantity
	}

	b, ok := bt.balances[account]
	if !ok {
		return Journal{}, ErrUnknownAccount
	}

	if b.Disposable() < quantity {
		return Journal{}, &InsufficientBalanceError{
			Account:    account,
			Disposable: b.Disposable(),
			Requested:  quantity,
		}
	}

	b.Locked += quantity
	bt.balances[account] = b

	return Journal{
		JournalID:   uuid.New(),
		JournalType: JournalTypeLock,
		From:        account,
		To:          account,
		Quantity:    quantity,
	}, nil
}

// UnlockAndSettle releases quantity from the sender's locked amount and moves
// it to the receiver. Both subtractions are checked before anything is
// written, so an underflow leaves the tracker untouched.
func (bt *BalanceTracker) UnlockAndSettle(sender, receiver Address, quantity uint64) (Journal, error) {
	if quantity == 0 {
		return Journal{}, ErrInvalidQuantity
	}

	s := bt.balances[sender]
	if s.Balance < quantity {
		return Journal{}, &UnderflowError{Account: sender, Field: "balance", Have: s.Balance, Debit: quantity}
	}
	if s.Locked < quantity {
		return Journal{}, &UnderflowError{Account: sender, Field: "locked", Have: s.Locked, Debit: quantity}
	}

	s.Balance -= quantity
	s.Locked -= quantity
	bt.balances[sender] = s

	r := bt.balances[receiver]
	r.Balance += quantity
	bt.balances[receiver] = r

	return Journal{
		JournalID:   uuid.New(),
		JournalType: JournalTypeSettle,
		From:        sender,
		To:          receiver,
		Quantity:    quantity,
	}, nil
}

// GetBalance returns the balance of account and whether it exists.
func (bt *BalanceTracker) GetBalance(account Address) (Balance, bool) {
	b, ok := bt.balances[account]
	return b, ok
}

// Accounts returns every known account in lexical order.
func (bt *BalanceTracker) Accounts() []Address {
	accounts := make([]Address, 0, len(bt.balances))
	for a := range bt.balances {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts
}

// TotalBalance sums balances over all accounts.
func (bt *BalanceTracker) TotalBalance() uint64 {
	var total uint64
	for _, b := range bt.balances {
		total += b.Balance
	}
	return total
}

// Clone returns an independent copy used as the working state of a transition.
func (bt *BalanceTracker) Clone() *BalanceTracker {
	return &BalanceTracker{balances: bt.Snapshot()}
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[Address]Balance {
	snapshot := make(map[Address]Balance, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces the tracked balances (snapshot recovery).
func (bt *BalanceTracker) Restore(balances map[Address]Balance) {
	bt.balances = make(map[Address]Balance, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
