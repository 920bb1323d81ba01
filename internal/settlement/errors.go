package settlement

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTransactionID   = errors.New("settlement transaction id already exists")
	ErrDuplicateOperationID     = errors.New("operation id already exists")
	ErrUnknownTransactionID     = errors.New("settlement transaction id does not exist")
	ErrWrongStatusForTransition = errors.New("wrong status for transition")
	ErrInvalidTransaction       = errors.New("invalid settlement transaction")
)

// TransitionError reports a transition attempted from the wrong status.
type TransitionError struct {
	TxID     uint64
	Current  Status
	Expected Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("settlement transaction %d is %s, expected %s", e.TxID, e.Current, e.Expected)
}

func (e *TransitionError) Unwrap() error {
	return ErrWrongStatusForTransition
}
