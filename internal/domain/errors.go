package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrPrecondition        = errors.New("precondition failed")
	ErrProviderUnavailable = errors.New("no eligible provider")
	ErrProviderCall        = errors.New("provider call failed")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrDuplicate           = errors.New("duplicate record")
	ErrLedgerImbalance     = errors.New("ledger entries do not balance")
	ErrIllegalTransition   = errors.New("illegal state transition")
)

// TransitionError is a programming error: some code path asked a state
// machine for an edge it does not have. It must abort the unit of work.
type TransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s status cannot transition from %q to %q", e.Machine, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}
