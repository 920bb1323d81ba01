package bond

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/operator"
	"ForgeLedger/internal/settlement"
)

// Entrypoint names a replaceable operation of an instrument.
type Entrypoint string

const (
	EntrypointInitiateSubscription        Entrypoint = "initiateSubscription"
	EntrypointConfirmPaymentReceived      Entrypoint = "confirmPaymentReceived"
	EntrypointConfirmPaymentTransferred   Entrypoint = "confirmPaymentTransferred"
	EntrypointAuthorizeOperator           Entrypoint = "authorizeOperator"
	EntrypointRevokeOperatorAuthorization Entrypoint = "revokeOperatorAuthorization"
)

// Signature is the calling convention a script implements.
type Signature int

const (
	SignatureInitiateSubscription Signature = iota + 1
	SignatureConfirmPaymentReceived
	SignatureConfirmPaymentTransferred
	SignatureOperator
)

var entrypointSignatures = map[Entrypoint]Signature{
	EntrypointInitiateSubscription:        SignatureInitiateSubscription,
	EntrypointConfirmPaymentReceived:      SignatureConfirmPaymentReceived,
	EntrypointConfirmPaymentTransferred:   SignatureConfirmPaymentTransferred,
	EntrypointAuthorizeOperator:           SignatureOperator,
	EntrypointRevokeOperatorAuthorization: SignatureOperator,
}

// Signature returns the calling convention expected at e.
func (e Entrypoint) Signature() (Signature, bool) {
	s, ok := entrypointSignatures[e]
	return s, ok
}

// ScriptRef identifies one version of a script in the catalogue,
// written "name@vN".
type ScriptRef struct {
	Name    string
	Version uint32
}

func (r ScriptRef) String() string {
	return fmt.Sprintf("%s@v%d", r.Name, r.Version)
}

func (r ScriptRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ScriptRef) UnmarshalText(text []byte) error {
	ref, err := ParseScriptRef(string(text))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// ParseScriptRef parses the "name@vN" form.
func ParseScriptRef(s string) (ScriptRef, error) {
	name, version, ok := strings.Cut(s, "@v")
	if !ok || name == "" {
		return ScriptRef{}, fmt.Errorf("%w: malformed reference %q", ErrUnknownScript, s)
	}
	v, err := strconv.ParseUint(version, 10, 32)
	if err != nil {
		return ScriptRef{}, fmt.Errorf("%w: malformed version in %q", ErrUnknownScript, s)
	}
	return ScriptRef{Name: name, Version: uint32(v)}, nil
}

// State is the working copy an operation mutates. It is swapped into the
// instrument only when the whole operation succeeded.
type State struct {
	Owner       ledger.Address
	Balances    *ledger.BalanceTracker
	Operators   *operator.Authorizations
	Settlements *settlement.Repository
}

func (s *State) clone() *State {
	return &State{
		Owner:       s.Owner,
		Balances:    s.Balances.Clone(),
		Operators:   s.Operators.Clone(),
		Settlements: s.Settlements.Clone(),
	}
}

// Script is a versioned implementation of one entrypoint.
type Script interface {
	Ref() ScriptRef
	Signature() Signature
}

type SubscriptionScript interface {
	Script
	InitiateSubscription(st *State, caller ledger.Address, tx settlement.Transaction) (ledger.Journal, error)
}

type PaymentReceivedScript interface {
	Script
	ConfirmPaymentReceived(st *State, caller ledger.Address, txID uint64) (settlement.Transaction, ledger.Journal, error)
}

type PaymentTransferredScript interface {
	Script
	ConfirmPaymentTransferred(st *State, caller ledger.Address, txID uint64) (settlement.Transaction, error)
}

type OperatorScript interface {
	Script
	Apply(st *State, caller, target ledger.Address, role operator.Role) error
}

// Table binds every entrypoint of an instrument to a script.
type Table map[Entrypoint]Script

// Clone returns a copy; scripts are stateless and shared.
func (t Table) Clone() Table {
	c := make(Table, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// With returns a copy of t where the entries of update replace the old ones.
func (t Table) With(update Table) Table {
	c := t.Clone()
	for k, v := range update {
		c[k] = v
	}
	return c
}

// Refs returns the script reference bound to each entrypoint.
func (t Table) Refs() map[Entrypoint]ScriptRef {
	refs := make(map[Entrypoint]ScriptRef, len(t))
	for k, v := range t {
		refs[k] = v.Ref()
	}
	return refs
}

// Catalogue holds every script version available for upgrades.
type Catalogue struct {
	scripts map[ScriptRef]Script
}

func NewCatalogue(scripts ...Script) *Catalogue {
	c := &Catalogue{scripts: make(map[ScriptRef]Script, len(scripts))}
	for _, s := range scripts {
		c.scripts[s.Ref()] = s
	}
	return c
}

// DefaultCatalogue contains the built-in script versions.
func DefaultCatalogue() *Catalogue {
	return NewCatalogue(
		initiateSubscriptionV1{},
		confirmPaymentReceivedV1{},
		confirmPaymentTransferredV1{},
		authorizeOperatorV1{},
		revokeOperatorAuthorizationV1{},
		authorizeOperatorV2{},
		revokeOperatorAuthorizationV2{},
	)
}

// DefaultTable binds each entrypoint to its first script version.
func DefaultTable() Table {
	return Table{
		EntrypointInitiateSubscription:        initiateSubscriptionV1{},
		EntrypointConfirmPaymentReceived:      confirmPaymentReceivedV1{},
		EntrypointConfirmPaymentTransferred:   confirmPaymentTransferredV1{},
		EntrypointAuthorizeOperator:           authorizeOperatorV1{},
		EntrypointRevokeOperatorAuthorization: revokeOperatorAuthorizationV1{},
	}
}

func (c *Catalogue) Lookup(ref ScriptRef) (Script, bool) {
	s, ok := c.scripts[ref]
	return s, ok
}

// Refs lists the catalogue content, sorted.
func (c *Catalogue) Refs() []ScriptRef {
	refs := make([]ScriptRef, 0, len(c.scripts))
	for r := range c.scripts {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs
}

// Resolve turns an upgrade request into a table update. Nothing is
// returned unless every entry resolves with a matching signature.
func (c *Catalogue) Resolve(refs map[Entrypoint]ScriptRef) (Table, error) {
	entrypoints := make([]Entrypoint, 0, len(refs))
	for ep := range refs {
		entrypoints = append(entrypoints, ep)
	}
	sort.Slice(entrypoints, func(i, j int) bool { return entrypoints[i] < entrypoints[j] })

	update := make(Table, len(refs))
	for _, ep := range entrypoints {
		ref := refs[ep]

		want, ok := ep.Signature()
		if !ok {
			return nil, &ScriptError{Entrypoint: ep, Ref: ref, Err: ErrUnknownEntrypoint}
		}
		script, ok := c.Lookup(ref)
		if !ok {
			return nil, &ScriptError{Entrypoint: ep, Ref: ref, Err: ErrUnknownScript}
		}
		if script.Signature() != want {
			return nil, &ScriptError{Entrypoint: ep, Ref: ref, Err: ErrScriptSignatureMismatch}
		}
		update[ep] = script
	}
	return update, nil
}

// --- built-in scripts ---

type initiateSubscriptionV1 struct{}

func (initiateSubscriptionV1) Ref() ScriptRef {
	return ScriptRef{Name: string(EntrypointInitiateSubscription), Version: 1}
}

func (initiateSubscriptionV1) Signature() Signature { return SignatureInitiateSubscription }

func (initiateSubscriptionV1) InitiateSubscription(st *State, caller ledger.Address, tx settlement.Transaction) (ledger.Journal, error) {
	if err := st.Operators.Require(caller, operator.RoleRegistrar); err != nil {
		return ledger.Journal{}, err
	}
	if err := st.Settlements.CheckNew(tx.TxID, tx.OperationID); err != nil {
		return ledger.Journal{}, err
	}
	if tx.DeliverySenderAccountNumber != st.Owner {
		return ledger.Journal{}, fmt.Errorf("%w: sender %s, owner %s", ErrOwnerMismatch, tx.DeliverySenderAccountNumber, st.Owner)
	}
	if tx.DeliveryQuantity == 0 {
		return ledger.Journal{}, fmt.Errorf("%w: delivery quantity must be positive", ledger.ErrInvalidQuantity)
	}

	j, err := st.Balances.Lock(tx.DeliverySenderAccountNumber, tx.DeliveryQuantity)
	if err != nil {
		return ledger.Journal{}, err
	}

	tx.Status = settlement.StatusTokenLocked
	if err := st.Settlements.Insert(tx, settlement.OperationSubscription); err != nil {
		return ledger.Journal{}, err
	}
	return j, nil
}

type confirmPaymentReceivedV1 struct{}

func (confirmPaymentReceivedV1) Ref() ScriptRef {
	return ScriptRef{Name: string(EntrypointConfirmPaymentReceived), Version: 1}
}

func (confirmPaymentReceivedV1) Signature() Signature { return SignatureConfirmPaymentReceived }

// ConfirmPaymentReceived checks the status before the caller's role.
func (confirmPaymentReceivedV1) ConfirmPaymentReceived(st *State, caller ledger.Address, txID uint64) (settlement.Transaction, ledger.Journal, error) {
	tx, err := st.Settlements.Expect(txID, settlement.StatusTokenLocked)
	if err != nil {
		return settlement.Transaction{}, ledger.Journal{}, err
	}
	if err := st.Operators.Require(caller, operator.RoleSettler); err != nil {
		return settlement.Transaction{}, ledger.Journal{}, err
	}

	j, err := st.Balances.UnlockAndSettle(st.Owner, tx.DeliveryReceiverAccountNumber, tx.DeliveryQuantity)
	if err != nil {
		return settlement.Transaction{}, ledger.Journal{}, err
	}

	tx, err = st.Settlements.Advance(txID, settlement.StatusCashReceived)
	if err != nil {
		return settlement.Transaction{}, ledger.Journal{}, err
	}
	return tx, j, nil
}

type confirmPaymentTransferredV1 struct{}

func (confirmPaymentTransferredV1) Ref() ScriptRef {
	return ScriptRef{Name: string(EntrypointConfirmPaymentTransferred), Version: 1}
}

func (confirmPaymentTransferredV1) Signature() Signature { return SignatureConfirmPaymentTransferred }

func (confirmPaymentTransferredV1) ConfirmPaymentTransferred(st *State, caller ledger.Address, txID uint64) (settlement.Transaction, error) {
	if err := st.Operators.Require(caller, operator.RoleSettler); err != nil {
		return settlement.Transaction{}, err
	}
	if _, err := st.Settlements.Expect(txID, settlement.StatusCashReceived); err != nil {
		return settlement.Transaction{}, err
	}
	return st.Settlements.Advance(txID, settlement.StatusCashSent)
}

type authorizeOperatorV1 struct{}

func (authorizeOperatorV1) Ref() ScriptRef {
	return ScriptRef{Name: string(EntrypointAuthorizeOperator), Version: 1}
}

func (authorizeOperatorV1) Signature() Signature { return SignatureOperator }

func (authorizeOperatorV1) Apply(st *State, caller, target ledger.Address, role operator.Role) error {
	return st.Operators.Grant(caller, target, role)
}

type revokeOperatorAuthorizationV1 struct{}

func (revokeOperatorAuthorizationV1) Ref() ScriptRef {
	return ScriptRef{Name: string(EntrypointRevokeOperatorAuthorization), Version: 1}
}

func (revokeOperatorAuthorizationV1) Signature() Signature { return SignatureOperator }

func (revokeOperatorAuthorizationV1) Apply(st *State, caller, target ledger.Address, role operator.Role) error {
	return st.Operators.Revoke(caller, target, role)
}

// authorizeOperatorV2 also lets the instrument owner grant roles.
type authorizeOperatorV2 struct{}

func (authorizeOperatorV2) Ref() ScriptRef {
	return ScriptRef{Name: string(EntrypointAuthorizeOperator), Version: 2}
}

func (authorizeOperatorV2) Signature() Signature { return SignatureOperator }

func (authorizeOperatorV2) Apply(st *State, caller, target ledger.Address, role operator.Role) error {
	if caller != st.Owner {
		if err := st.Operators.Require(caller, operator.RoleRegistrar); err != nil {
			return err
		}
	}
	return st.Operators.Add(target, role)
}

// revokeOperatorAuthorizationV2 also lets the instrument owner revoke roles.
type revokeOperatorAuthorizationV2 struct{}

func (revokeOperatorAuthorizationV2) Ref() ScriptRef {
	return ScriptRef{Name: string(EntrypointRevokeOperatorAuthorization), Version: 2}
}

func (revokeOperatorAuthorizationV2) Signature() Signature { return SignatureOperator }

func (revokeOperatorAuthorizationV2) Apply(st *State, caller, target ledger.Address, role operator.Role) error {
	if caller != st.Owner {
		if err := st.Operators.Require(caller, operator.RoleRegistrar); err != nil {
			return err
		}
	}
	return st.Operators.Remove(target, role)
}
