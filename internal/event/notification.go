package event

import (
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/operator"
	"ForgeLedger/internal/settlement"
)

// Kind discriminates the notifications an event sink can receive.
type Kind int32

const (
	KindUnknown Kind = iota
	KindForgeBondCreated
	KindSubscriptionInitiated
	KindPaymentReceived
	KindPaymentTransferred
	KindNewOperator
	KindRevokeOperator
	KindInstrumentListed
	KindInstrumentUnlisted
	KindTransfer
)

// AllKinds lists every notification kind, in declaration order.
var AllKinds = []Kind{
	KindForgeBondCreated,
	KindSubscriptionInitiated,
	KindPaymentReceived,
	KindPaymentTransferred,
	KindNewOperator,
	KindRevokeOperator,
	KindInstrumentListed,
	KindInstrumentUnlisted,
	KindTransfer,
}

// String returns the sink entrypoint name of the kind.
func (k Kind) String() string {
	switch k {
	case KindForgeBondCreated:
		return "forgeBondCreated"
	case KindSubscriptionInitiated:
		return "SubscriptionInitiated"
	case KindPaymentReceived:
		return "PaymentReceived"
	case KindPaymentTransferred:
		return "PaymentTransferred"
	case KindNewOperator:
		return "newOperator"
	case KindRevokeOperator:
		return "revokeOperator"
	case KindInstrumentListed:
		return "InstrumentListed"
	case KindInstrumentUnlisted:
		return "InstrumentUnlisted"
	case KindTransfer:
		return "Transfer"
	default:
		return "Unknown"
	}
}

// ParseKind maps an entrypoint name back to its kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// Notification is implemented by every payload an event sink accepts.
type Notification interface {
	Kind() Kind
}

type TokenMetadata struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	InitialSupply uint64 `json:"initial_supply"`
	ISINCode      string `json:"isin_code"`
	Currency      string `json:"currency"`
}

type ForgeBondCreated struct {
	Owner         ledger.Address `json:"owner"`
	Registrar     ledger.Address `json:"registrar"`
	Settler       ledger.Address `json:"settler"`
	TokenAddress  ledger.Address `json:"token_address"`
	TokenMetadata TokenMetadata  `json:"token_metadata"`
}

func (ForgeBondCreated) Kind() Kind { return KindForgeBondCreated }

type SubscriptionInitiated struct {
	SettlementID uint64 `json:"settlement_id"`
}

func (SubscriptionInitiated) Kind() Kind { return KindSubscriptionInitiated }

type PaymentReceived struct {
	SettlementID  uint64                   `json:"settlement_id"`
	OperationType settlement.OperationType `json:"settlement_transaction_operation_type"`
}

func (PaymentReceived) Kind() Kind { return KindPaymentReceived }

type PaymentTransferred struct {
	SettlementID  uint64                   `json:"settlement_id"`
	OperationType settlement.OperationType `json:"settlement_transaction_operation_type"`
}

func (PaymentTransferred) Kind() Kind { return KindPaymentTransferred }

// OperatorChange is the payload of NewOperator and RevokeOperator.
type OperatorChange struct {
	By       ledger.Address `json:"by"`
	Operator ledger.Address `json:"operator"`
	Role     operator.Role  `json:"operator_role"`
}

type NewOperator OperatorChange

func (NewOperator) Kind() Kind { return KindNewOperator }

type RevokeOperator OperatorChange

func (RevokeOperator) Kind() Kind { return KindRevokeOperator }

// Instrument is the registry record carried by listing notifications.
type Instrument struct {
	Name    string         `json:"name"`
	ISIN    string         `json:"isin"`
	Address ledger.Address `json:"address"`
}

type InstrumentListed Instrument

func (InstrumentListed) Kind() Kind { return KindInstrumentListed }

type InstrumentUnlisted Instrument

func (InstrumentUnlisted) Kind() Kind { return KindInstrumentUnlisted }

type Transfer struct {
	From  ledger.Address `json:"from"`
	To    ledger.Address `json:"to"`
	Value uint64         `json:"value"`
}

func (Transfer) Kind() Kind { return KindTransfer }

// Outgoing is a notification bound to the sink address it is delivered to.
type Outgoing struct {
	Sink         ledger.Address `json:"sink"`
	Emitter      ledger.Address `json:"emitter"`
	Notification Notification   `json:"-"`
}
