package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/factory"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/operator"

	"github.com/google/uuid"
)

var ErrInvalidCommand = errors.New("invalid command")

// Kind discriminates inbound commands. It doubles as the NATS subject suffix.
type Kind string

const (
	KindInitiateSubscription      Kind = "initiate_subscription"
	KindConfirmPaymentReceived    Kind = "confirm_payment_received"
	KindConfirmPaymentTransferred Kind = "confirm_payment_transferred"
	KindRunOperator               Kind = "run_operator"
	KindUpgradeInstrument         Kind = "upgrade_instrument"
	KindCreateInstrument          Kind = "create_instrument"
	KindUpgradeFactory            Kind = "upgrade_factory"
	KindListInstrument            Kind = "list_instrument"
	KindUnlistInstrument          Kind = "unlist_instrument"
	KindAuthorizeFactory          Kind = "authorize_factory"
	KindUnAuthorizeFactory        Kind = "unauthorize_factory"
)

// AllKinds lists every command kind.
var AllKinds = []Kind{
	KindInitiateSubscription,
	KindConfirmPaymentReceived,
	KindConfirmPaymentTransferred,
	KindRunOperator,
	KindUpgradeInstrument,
	KindCreateInstrument,
	KindUpgradeFactory,
	KindListInstrument,
	KindUnlistInstrument,
	KindAuthorizeFactory,
	KindUnAuthorizeFactory,
}

func (k Kind) String() string {
	return string(k)
}

// Command is an operation addressed to one contract on behalf of a caller.
type Command interface {
	Kind() Kind
	IdempotencyKey() string
	Target() ledger.Address
	Caller() ledger.Address
	Timestamp() time.Time
	Validate() error

	// Authenticate replaces the caller with the identity the transport
	// vouched for.
	Authenticate(caller ledger.Address)
}

// Header carries the fields every command shares.
type Header struct {
	CommandID string         `json:"command_id"`
	From      ledger.Address `json:"caller"`
	At        time.Time      `json:"timestamp"`
}

// NewHeader stamps a header with a fresh command id.
func NewHeader(caller ledger.Address, at time.Time) Header {
	return Header{CommandID: uuid.NewString(), From: caller, At: at}
}

func (h Header) IdempotencyKey() string { return h.CommandID }
func (h Header) Caller() ledger.Address { return h.From }
func (h Header) Timestamp() time.Time   { return h.At }

func (h *Header) Authenticate(caller ledger.Address) { h.From = caller }

func (h Header) validate() error {
	if _, err := uuid.Parse(h.CommandID); err != nil {
		return fmt.Errorf("%w: command_id: %v", ErrInvalidCommand, err)
	}
	if h.From.IsZero() {
		return fmt.Errorf("%w: missing caller", ErrInvalidCommand)
	}
	if h.At.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidCommand)
	}
	return nil
}

func requireAddress(field string, a ledger.Address) error {
	if a.IsZero() {
		return fmt.Errorf("%w: missing %s", ErrInvalidCommand, field)
	}
	if _, err := ledger.ParseAddress(a.String()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidCommand, field, err)
	}
	return nil
}

// --- instrument commands ---

type InitiateSubscription struct {
	Header
	Instrument ledger.Address           `json:"instrument"`
	Request    bond.SubscriptionRequest `json:"request"`
}

func (c *InitiateSubscription) Kind() Kind             { return KindInitiateSubscription }
func (c *InitiateSubscription) Target() ledger.Address { return c.Instrument }

func (c *InitiateSubscription) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("instrument", c.Instrument); err != nil {
		return err
	}
	if err := requireAddress("delivery_sender_account_number", c.Request.Sender); err != nil {
		return err
	}
	return requireAddress("delivery_receiver_account_number", c.Request.Receiver)
}

type ConfirmPaymentReceived struct {
	Header
	Instrument ledger.Address `json:"instrument"`
	TxID       uint64         `json:"tx_id"`
}

func (c *ConfirmPaymentReceived) Kind() Kind             { return KindConfirmPaymentReceived }
func (c *ConfirmPaymentReceived) Target() ledger.Address { return c.Instrument }

func (c *ConfirmPaymentReceived) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	return requireAddress("instrument", c.Instrument)
}

type ConfirmPaymentTransferred struct {
	Header
	Instrument ledger.Address `json:"instrument"`
	TxID       uint64         `json:"tx_id"`
}

func (c *ConfirmPaymentTransferred) Kind() Kind             { return KindConfirmPaymentTransferred }
func (c *ConfirmPaymentTransferred) Target() ledger.Address { return c.Instrument }

func (c *ConfirmPaymentTransferred) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	return requireAddress("instrument", c.Instrument)
}

// RunOperator invokes an operator entrypoint (authorizeOperator,
// revokeOperatorAuthorization) by name.
type RunOperator struct {
	Header
	Instrument ledger.Address `json:"instrument"`
	Entrypoint string         `json:"entrypoint"`
	Operator   ledger.Address `json:"operator"`
	Role       operator.Role  `json:"role"`
}

func (c *RunOperator) Kind() Kind             { return KindRunOperator }
func (c *RunOperator) Target() ledger.Address { return c.Instrument }

func (c *RunOperator) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("instrument", c.Instrument); err != nil {
		return err
	}
	if c.Entrypoint == "" {
		return fmt.Errorf("%w: missing entrypoint", ErrInvalidCommand)
	}
	return requireAddress("operator", c.Operator)
}

type UpgradeInstrument struct {
	Header
	Instrument ledger.Address                     `json:"instrument"`
	Scripts    map[bond.Entrypoint]bond.ScriptRef `json:"scripts"`
}

func (c *UpgradeInstrument) Kind() Kind             { return KindUpgradeInstrument }
func (c *UpgradeInstrument) Target() ledger.Address { return c.Instrument }

func (c *UpgradeInstrument) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if len(c.Scripts) == 0 {
		return fmt.Errorf("%w: no scripts", ErrInvalidCommand)
	}
	return requireAddress("instrument", c.Instrument)
}

// --- factory commands ---

type CreateInstrument struct {
	Header
	Factory ledger.Address        `json:"factory"`
	Request factory.CreateRequest `json:"request"`
}

func (c *CreateInstrument) Kind() Kind             { return KindCreateInstrument }
func (c *CreateInstrument) Target() ledger.Address { return c.Factory }

func (c *CreateInstrument) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("factory", c.Factory); err != nil {
		return err
	}
	if err := requireAddress("registry_address", c.Request.Registry); err != nil {
		return err
	}
	if err := requireAddress("owner", c.Request.Owner); err != nil {
		return err
	}
	if err := requireAddress("registrar", c.Request.Registrar); err != nil {
		return err
	}
	return requireAddress("settler", c.Request.Settler)
}

type UpgradeFactory struct {
	Header
	Factory ledger.Address                     `json:"factory"`
	Scripts map[bond.Entrypoint]bond.ScriptRef `json:"scripts"`
}

func (c *UpgradeFactory) Kind() Kind             { return KindUpgradeFactory }
func (c *UpgradeFactory) Target() ledger.Address { return c.Factory }

func (c *UpgradeFactory) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if len(c.Scripts) == 0 {
		return fmt.Errorf("%w: no scripts", ErrInvalidCommand)
	}
	return requireAddress("factory", c.Factory)
}

// --- registry commands ---

type ListInstrument struct {
	Header
	Registry ledger.Address `json:"registry"`
	Name     string         `json:"name"`
	ISIN     string         `json:"isin"`
	Address  ledger.Address `json:"address"`
}

func (c *ListInstrument) Kind() Kind             { return KindListInstrument }
func (c *ListInstrument) Target() ledger.Address { return c.Registry }

func (c *ListInstrument) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("registry", c.Registry); err != nil {
		return err
	}
	return requireAddress("address", c.Address)
}

type UnlistInstrument struct {
	Header
	Registry ledger.Address `json:"registry"`
	ISIN     string         `json:"isin"`
}

func (c *UnlistInstrument) Kind() Kind             { return KindUnlistInstrument }
func (c *UnlistInstrument) Target() ledger.Address { return c.Registry }

func (c *UnlistInstrument) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	return requireAddress("registry", c.Registry)
}

type AuthorizeFactory struct {
	Header
	Registry    ledger.Address `json:"registry"`
	FactoryType string         `json:"factory_type"`
	Factory     ledger.Address `json:"factory"`
}

func (c *AuthorizeFactory) Kind() Kind             { return KindAuthorizeFactory }
func (c *AuthorizeFactory) Target() ledger.Address { return c.Registry }

func (c *AuthorizeFactory) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if c.FactoryType == "" {
		return fmt.Errorf("%w: missing factory_type", ErrInvalidCommand)
	}
	if err := requireAddress("registry", c.Registry); err != nil {
		return err
	}
	return requireAddress("factory", c.Factory)
}

type UnAuthorizeFactory struct {
	Header
	Registry ledger.Address `json:"registry"`
	Factory  ledger.Address `json:"factory"`
}

func (c *UnAuthorizeFactory) Kind() Kind             { return KindUnAuthorizeFactory }
func (c *UnAuthorizeFactory) Target() ledger.Address { return c.Registry }

func (c *UnAuthorizeFactory) Validate() error {
	if err := c.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("registry", c.Registry); err != nil {
		return err
	}
	return requireAddress("factory", c.Factory)
}

// New returns an empty command of kind k, ready to be decoded into.
func New(k Kind) (Command, error) {
	switch k {
	case KindInitiateSubscription:
		return &InitiateSubscription{}, nil
	case KindConfirmPaymentReceived:
		return &ConfirmPaymentReceived{}, nil
	case KindConfirmPaymentTransferred:
		return &ConfirmPaymentTransferred{}, nil
	case KindRunOperator:
		return &RunOperator{}, nil
	case KindUpgradeInstrument:
		return &UpgradeInstrument{}, nil
	case KindCreateInstrument:
		return &CreateInstrument{}, nil
	case KindUpgradeFactory:
		return &UpgradeFactory{}, nil
	case KindListInstrument:
		return &ListInstrument{}, nil
	case KindUnlistInstrument:
		return &UnlistInstrument{}, nil
	case KindAuthorizeFactory:
		return &AuthorizeFactory{}, nil
	case KindUnAuthorizeFactory:
		return &UnAuthorizeFactory{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, k)
	}
}

// Decode parses a JSON-encoded command of kind k and validates it.
func Decode(k Kind, data []byte) (Command, error) {
	cmd, err := New(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidCommand, k, err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}
