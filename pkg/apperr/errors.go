// Package apperr defines the failure kinds callers are expected to branch on.
//
// Errors carry stable machine codes only. Mapping them to user-facing text or
// transport status codes is the boundary's job.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the boundary layer.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindPolicyViolation
	KindRaceLost
	KindInvalidInput
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPolicyViolation:
		return "policy_violation"
	case KindRaceLost:
		return "race_lost"
	case KindInvalidInput:
		return "invalid_input"
	case KindRateLimited:
		return "rate_limited"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// Error is an expected, recoverable outcome.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

var (
	ErrNotFound               = &Error{Kind: KindNotFound, Code: "not_found"}
	ErrNameConflict           = &Error{Kind: KindConflict, Code: "name_conflict"}
	ErrHardwareIDConflict     = &Error{Kind: KindConflict, Code: "hardware_id_conflict"}
	ErrDuplicateRequest       = &Error{Kind: KindConflict, Code: "duplicate_request"}
	ErrAlreadySupervising     = &Error{Kind: KindConflict, Code: "already_supervising"}
	ErrCooldownActive         = &Error{Kind: KindPolicyViolation, Code: "cooldown_active"}
	ErrSelfSupervision        = &Error{Kind: KindPolicyViolation, Code: "self_supervision"}
	ErrRequestAlreadyResolved = &Error{Kind: KindRaceLost, Code: "request_already_resolved"}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput, Code: "invalid_input"}
	ErrRateLimited            = &Error{Kind: KindRateLimited, Code: "rate_limited"}
	ErrInternal               = &Error{Kind: KindInternal, Code: "internal"}
)

// CooldownError reports a rename attempted before the cooldown elapsed.
type CooldownError struct {
	DaysLeft int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %d days left", ErrCooldownActive.Code, e.DaysLeft)
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// Cooldown returns a CooldownError for the given remaining days.
func Cooldown(daysLeft int) error {
	return &CooldownError{DaysLeft: daysLeft}
}

// InvalidInput wraps ErrInvalidInput with the offending field name.
func InvalidInput(field string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, field)
}

type internalError struct {
	op    string
	cause error
}

func (e *internalError) Error() string {
	return ErrInternal.Code
}

func (e *internalError) Unwrap() error {
	return e.cause
}

func (e *internalError) Is(target error) bool {
	return target == ErrInternal
}

// Op returns the operation that failed.
func (e *internalError) Op() string {
	return e.op
}

// Internal hides a storage or dependency failure behind the opaque internal
// code. The cause stays reachable through errors.Unwrap for logging.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var known *Error
	if errors.As(err, &known) {
		return err
	}
	var cooldown *CooldownError
	if errors.As(err, &cooldown) {
		return err
	}
	var already *internalError
	if errors.As(err, &already) {
		return err
	}
	return &internalError{op: op, cause: err}
}

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var cooldown *CooldownError
	if errors.As(err, &cooldown) {
		return KindPolicyViolation
	}
	var known *Error
	if errors.As(err, &known) {
		return known.Kind
	}
	return KindInternal
}

// Code returns the machine code for err.
func Code(err error) string {
	var cooldown *CooldownError
	if errors.As(err, &cooldown) {
		return ErrCooldownActive.Code
	}
	var known *Error
	if errors.As(err, &known) {
		return known.Code
	}
	return ErrInternal.Code
}

// FromCode reverses Code for clients decoding a boundary response.
func FromCode(code string, daysLeft int) error {
	switch code {
	case ErrNotFound.Code:
		return ErrNotFound
	case ErrNameConflict.Code:
		return ErrNameConflict
	case ErrHardwareIDConflict.Code:
		return ErrHardwareIDConflict
	case ErrDuplicateRequest.Code:
		return ErrDuplicateRequest
	case ErrAlreadySupervising.Code:
		return ErrAlreadySupervising
	case ErrCooldownActive.Code:
		return Cooldown(daysLeft)
	case ErrSelfSupervision.Code:
		return ErrSelfSupervision
	case ErrRequestAlreadyResolved.Code:
		return ErrRequestAlreadyResolved
	case ErrInvalidInput.Code:
		return ErrInvalidInput
	case ErrRateLimited.Code:
		return ErrRateLimited
	}
	return ErrInternal
}
