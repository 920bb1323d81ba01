package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAccount is returned when locking on an account that was never credited.
	ErrUnknownAccount = errors.New("attempt to lock empty balances")

	// ErrInsufficientDisposableBalance is the recoverable business rejection for a lock
	// larger than balance - locked.
	ErrInsufficientDisposableBalance = errors.New("insufficient disposable balance")

	// ErrUnderflow means a settlement would drive balance or locked below zero.
	// It can only happen if a settle was not preceded by the matching lock.
	ErrUnderflow = errors.New("ledger underflow")

	// ErrInvalidQuantity is returned for zero quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// InsufficientBalanceError carries the numbers behind a rejected lock.
type InsufficientBalanceError struct {
	Account    Address
	Disposable uint64
	Requested  uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("can not lock value on %s: disposable %d, requested %d",
		e.Account, e.Disposable, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientDisposableBalance
}

// UnderflowError describes which field of which account would go negative.
type UnderflowError struct {
	Account Address
	Field   string
	Have    uint64
	Debit   uint64
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("%s of %s would underflow: have=%d, debit=%d",
		e.Field, e.Account, e.Have, e.Debit)
}

func (e *UnderflowError) Unwrap() error {
	return ErrUnderflow
}
