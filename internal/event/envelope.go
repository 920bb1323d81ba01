package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps every committed operation in the log.
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command kind discriminator (e.g. "initiate_subscription")
	CommandKind string

	// Contract the command was addressed to
	Target string

	// Authenticated caller identity supplied by the transport
	Caller string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command
	Payload []byte

	// SHA-256 of the target state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// wire is the JSON shape of a notification: kind name plus payload.
type wire struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes n together with its kind name.
func Marshal(n Notification) ([]byte, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", n.Kind(), err)
	}
	return json.Marshal(wire{Kind: n.Kind().String(), Payload: payload})
}

// Unmarshal decodes a notification produced by Marshal.
func Unmarshal(data []byte) (Notification, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	kind, ok := ParseKind(w.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown notification kind %q", w.Kind)
	}

	var n Notification
	switch kind {
	case KindForgeBondCreated:
		var v ForgeBondCreated
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	case KindSubscriptionInitiated:
		var v SubscriptionInitiated
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	case KindPaymentReceived:
		var v PaymentReceived
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	case KindPaymentTransferred:
		var v PaymentTransferred
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	case KindNewOperator:
		var v NewOperator
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	case KindRevokeOperator:
		var v RevokeOperator
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	case KindInstrumentListed:
		var v InstrumentListed
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	case KindInstrumentUnlisted:
		var v InstrumentUnlisted
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	case KindTransfer:
		var v Transfer
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return nil, err
		}
		n = v
	}
	return n, nil
}
