package escrow

import (
	"errors"
	"fmt"
)

// Kind classifies a guard failure. Every public operation fails fast: the
// first violated precondition aborts with no partial state mutation.
type Kind string

const (
	KindAccessDenied        Kind = "access_denied"
	KindEntityMissing       Kind = "entity_missing"
	KindAlreadyFinalized    Kind = "already_finalized"
	KindOperationFailure    Kind = "operation_failure"
	KindParameterInvalid    Kind = "parameter_invalid"
	KindPhaseValidation     Kind = "phase_validation_failed"
	KindTimelockViolation   Kind = "timelock_violation"
	KindBeneficiaryOverflow Kind = "beneficiary_overflow"
	KindAllocationImbalance Kind = "allocation_imbalance"
	KindProgressDuplicate   Kind = "progress_duplicate"
	KindDelegationExists    Kind = "delegation_exists"
)

// Error is a typed guard failure surfaced verbatim to the caller. There is no
// retry policy and no internal recovery; resubmission is the caller's problem.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so callers can write
// errors.Is(err, escrow.ErrTimelockViolation).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

func errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Canonical instances for errors.Is comparisons.
var (
	ErrAccessDenied        = &Error{Kind: KindAccessDenied}
	ErrEntityMissing       = &Error{Kind: KindEntityMissing}
	ErrAlreadyFinalized    = &Error{Kind: KindAlreadyFinalized}
	ErrOperationFailure    = &Error{Kind: KindOperationFailure}
	ErrParameterInvalid    = &Error{Kind: KindParameterInvalid}
	ErrPhaseValidation     = &Error{Kind: KindPhaseValidation}
	ErrTimelockViolation   = &Error{Kind: KindTimelockViolation}
	ErrBeneficiaryOverflow = &Error{Kind: KindBeneficiaryOverflow}
	ErrAllocationImbalance = &Error{Kind: KindAllocationImbalance}
	ErrProgressDuplicate   = &Error{Kind: KindProgressDuplicate}
	ErrDelegationExists    = &Error{Kind: KindDelegationExists}
)
