package bond

import (
	"errors"

	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/operator"
	"ForgeLedger/internal/registry"
	"ForgeLedger/internal/settlement"
	"ForgeLedger/internal/sink"
)

// Category groups errors by who can fix them.
type Category int

const (
	CategoryInternal Category = iota
	CategoryAuthorization
	CategoryValidation
	CategoryNotFound
	CategoryLedger
	CategoryDownstream
)

func (c Category) String() string {
	switch c {
	case CategoryAuthorization:
		return "authorization"
	case CategoryValidation:
		return "validation"
	case CategoryNotFound:
		return "not_found"
	case CategoryLedger:
		return "ledger"
	case CategoryDownstream:
		return "downstream"
	default:
		return "internal"
	}
}

// Categorized is implemented by errors of packages that build on bond.
type Categorized interface {
	Category() Category
}

var categories = []struct {
	err error
	cat Category
}{
	{operator.ErrUnauthorized, CategoryAuthorization},
	{operator.ErrUnknownOperator, CategoryAuthorization},
	{operator.ErrUnknownRole, CategoryAuthorization},
	{operator.ErrRoleAlreadyGranted, CategoryAuthorization},
	{operator.ErrInvalidRole, CategoryValidation},
	{ErrNotOwner, CategoryAuthorization},
	{registry.ErrUnauthorizedFactory, CategoryAuthorization},
	{registry.ErrNotRegistryOwner, CategoryAuthorization},

	{settlement.ErrDuplicateTransactionID, CategoryValidation},
	{settlement.ErrDuplicateOperationID, CategoryValidation},
	{settlement.ErrWrongStatusForTransition, CategoryValidation},
	{settlement.ErrInvalidTransaction, CategoryValidation},
	{ErrOwnerMismatch, CategoryValidation},
	{ErrUnknownScript, CategoryValidation},
	{ErrScriptSignatureMismatch, CategoryValidation},
	{ErrInvalidTerms, CategoryValidation},
	{ErrInvalidMetadata, CategoryValidation},
	{ledger.ErrInvalidQuantity, CategoryValidation},
	{registry.ErrNameAlreadyListed, CategoryValidation},
	{registry.ErrISINAlreadyListed, CategoryValidation},
	{registry.ErrInvalidInstrument, CategoryValidation},

	{settlement.ErrUnknownTransactionID, CategoryNotFound},
	{ErrUnknownEntrypoint, CategoryNotFound},
	{registry.ErrISINNotListed, CategoryNotFound},
	{directory.ErrBadInstrumentAddress, CategoryNotFound},

	{ledger.ErrInsufficientDisposableBalance, CategoryLedger},
	{ledger.ErrUnknownAccount, CategoryLedger},

	{directory.ErrBadEventSinkAddress, CategoryDownstream},
	{directory.ErrBadRegistryAddress, CategoryDownstream},
	{directory.ErrBadFactoryAddress, CategoryDownstream},
	{sink.ErrKindNotAccepted, CategoryDownstream},
}

// Classify maps err to its category. Unknown errors are internal.
func Classify(err error) Category {
	if err == nil {
		return CategoryInternal
	}

	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}

	for _, entry := range categories {
		if errors.Is(err, entry.err) {
			return entry.cat
		}
	}
	return CategoryInternal
}
