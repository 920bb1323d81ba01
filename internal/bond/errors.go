package bond

import (
	"errors"
	"fmt"
)

var (
	ErrNotOwner                = errors.New("only owner can upgrade")
	ErrOwnerMismatch           = errors.New("delivery sender account must match token owner")
	ErrUnknownEntrypoint       = errors.New("unknown entrypoint")
	ErrUnknownScript           = errors.New("unknown script")
	ErrScriptSignatureMismatch = errors.New("script signature does not match entrypoint")
	ErrInvalidTerms            = errors.New("invalid bond terms")
	ErrInvalidMetadata         = errors.New("invalid instrument metadata")
)

// ScriptError reports a script reference rejected by Upgrade.
type ScriptError struct {
	Entrypoint Entrypoint
	Ref        ScriptRef
	Err        error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", e.Err, e.Entrypoint, e.Ref)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
