package ledger

import "fmt"

// InvariantValidator checks ledger invariants after a transition is applied.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateLockedWithinBalance verifies locked <= balance for every account.
func (v *InvariantValidator) ValidateLockedWithinBalance() error {
	for _, account := range v.tracker.Accounts() {
		b, _ := v.tracker.GetBalance(account)
		if b.Locked > b.Balance {
			return fmt.Errorf("account %s has locked %d above balance %d", account, b.Locked, b.Balance)
		}
	}
	return nil
}

// ValidateSupply verifies that settlements only moved tokens around:
// the sum of balances must equal the instrument's current supply.
func (v *InvariantValidator) ValidateSupply(currentSupply uint64) error {
	if total := v.tracker.TotalBalance(); total != currentSupply {
		return fmt.Errorf("sum of balances %d differs from current supply %d", total, currentSupply)
	}
	return nil
}
