package operator

import (
	"fmt"
	"sort"

	"ForgeLedger/internal/ledger"
)

// Authorizations is the per-account role set of one instrument.
// A role is present at most once per account.
type Authorizations struct {
	roles map[ledger.Address]map[Role]struct{}
}

func NewAuthorizations() *Authorizations {
	return &Authorizations{
		roles: make(map[ledger.Address]map[Role]struct{}),
	}
}

// Seed builds the initial authorization set of a new instrument.
func Seed(registrar, settler ledger.Address) *Authorizations {
	a := NewAuthorizations()
	a.add(registrar, RoleRegistrar)
	a.add(settler, RoleSettler)
	return a
}

// Require fails with ErrUnauthorized unless account holds role.
func (a *Authorizations) Require(account ledger.Address, role Role) error {
	if !a.Has(account, role) {
		return &UnauthorizedError{Account: account, Role: role}
	}
	return nil
}

// Has reports whether account holds role.
func (a *Authorizations) Has(account ledger.Address, role Role) bool {
	set, ok := a.roles[account]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// Grant adds role to target. Only a Registrar may grant.
func (a *Authorizations) Grant(caller, target ledger.Address, role Role) error {
	if err := a.Require(caller, RoleRegistrar); err != nil {
		return err
	}
	return a.Add(target, role)
}

// Revoke removes role from target. Only a Registrar may revoke.
func (a *Authorizations) Revoke(caller, target ledger.Address, role Role) error {
	if err := a.Require(caller, RoleRegistrar); err != nil {
		return err
	}
	return a.Remove(target, role)
}

// Add grants role to target without checking who asks for it.
func (a *Authorizations) Add(target ledger.Address, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}
	if a.Has(target, role) {
		return fmt.Errorf("%w: %s already has %s", ErrRoleAlreadyGranted, target, role)
	}

	a.add(target, role)
	return nil
}

// Remove revokes role from target without checking who asks for it.
func (a *Authorizations) Remove(target ledger.Address, role Role) error {
	set, ok := a.roles[target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperator, target)
	}
	if _, ok := set[role]; !ok {
		return fmt.Errorf("%w: %s does not hold %s", ErrUnknownRole, target, role)
	}

	delete(set, role)
	return nil
}

func (a *Authorizations) add(account ledger.Address, role Role) {
	set, ok := a.roles[account]
	if !ok {
		set = make(map[Role]struct{})
		a.roles[account] = set
	}
	set[role] = struct{}{}
}

// Roles returns the roles held by account, sorted.
func (a *Authorizations) Roles(account ledger.Address) []Role {
	set := a.roles[account]
	roles := make([]Role, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Operators returns every account with an entry, sorted. An account whose
// last role was revoked keeps an empty entry.
func (a *Authorizations) Operators() []ledger.Address {
	accounts := make([]ledger.Address, 0, len(a.roles))
	for acc := range a.roles {
		accounts = append(accounts, acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts
}

// Clone returns a deep copy.
func (a *Authorizations) Clone() *Authorizations {
	c := NewAuthorizations()
	for acc, set := range a.roles {
		cs := make(map[Role]struct{}, len(set))
		for r := range set {
			cs[r] = struct{}{}
		}
		c.roles[acc] = cs
	}
	return c
}

// Snapshot flattens the set for persistence.
func (a *Authorizations) Snapshot() map[ledger.Address][]Role {
	out := make(map[ledger.Address][]Role, len(a.roles))
	for acc := range a.roles {
		out[acc] = a.Roles(acc)
	}
	return out
}

// Restore rebuilds the set from a snapshot.
func (a *Authorizations) Restore(snap map[ledger.Address][]Role) {
	a.roles = make(map[ledger.Address]map[Role]struct{}, len(snap))
	for acc, roles := range snap {
		set := make(map[Role]struct{}, len(roles))
		for _, r := range roles {
			set[r] = struct{}{}
		}
		a.roles[acc] = set
	}
}
