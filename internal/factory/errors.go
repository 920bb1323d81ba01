package factory

import "ForgeLedger/internal/bond"

// Error is a factory precondition failure.
type Error string

const (
	ErrNotFactoryRegistrar Error = "calling address should match factory registrar agent"
	ErrNotBondRegistrar    Error = "calling address should match bond registrar agent"
	ErrNotFactoryAdmin     Error = "only admin can upgrade"
)

func (e Error) Error() string {
	return string(e)
}

// Category implements bond.Categorized.
func (e Error) Category() bond.Category {
	return bond.CategoryAuthorization
}
