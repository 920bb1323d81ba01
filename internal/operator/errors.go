package operator

import (
	"errors"
	"fmt"

	"ForgeLedger/internal/ledger"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnknownOperator    = errors.New("undefined operator")
	ErrUnknownRole        = errors.New("undefined operator role")
	ErrRoleAlreadyGranted = errors.New("role already granted")
	ErrInvalidRole        = errors.New("invalid role")
)

// UnauthorizedError names the account and the role it was missing.
type UnauthorizedError struct {
	Account ledger.Address
	Role    Role
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("only operator with %s role can perform this action (caller %s)", e.Role, e.Account)
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}
