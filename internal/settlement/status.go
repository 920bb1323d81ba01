package settlement

import "fmt"

// Status is the lifecycle position of a settlement transaction.
// Transitions only move forward: Created -> TokenLocked -> CashReceived -> CashSent.
type Status uint8

const (
	StatusCreated      Status = 1
	StatusTokenLocked  Status = 2
	StatusCashReceived Status = 3
	StatusCashSent     Status = 4
	// StatusError is reserved. No transition enters it.
	StatusError Status = 255
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusTokenLocked:
		return "TOKEN_LOCKED"
	case StatusCashReceived:
		return "CASH_RECEIVED"
	case StatusCashSent:
		return "CASH_SENT"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCashSent || s == StatusError
}

// next returns the only status reachable from s.
func (s Status) next() (Status, bool) {
	switch s {
	case StatusCreated:
		return StatusTokenLocked, true
	case StatusTokenLocked:
		return StatusCashReceived, true
	case StatusCashReceived:
		return StatusCashSent, true
	default:
		return 0, false
	}
}

// OperationType classifies the operation a transaction belongs to.
type OperationType uint8

const (
	OperationSubscription OperationType = 1
	OperationRedemption   OperationType = 2
	OperationTrade        OperationType = 3
)

func (o OperationType) String() string {
	switch o {
	case OperationSubscription:
		return "SUBSCRIPTION"
	case OperationRedemption:
		return "REDEMPTION"
	case OperationTrade:
		return "TRADE"
	default:
		return fmt.Sprintf("OperationType(%d)", uint8(o))
	}
}
