package tuning

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a rejection reason. Codes are stable and safe to
// expose to callers.
type ErrorCode string

const (
	CodeUnknownParameter ErrorCode = "UNKNOWN_PARAMETER"
	CodeWrongTier        ErrorCode = "WRONG_TIER"
	CodeInvalidValue     ErrorCode = "INVALID_VALUE"
	CodeCooldownActive   ErrorCode = "COOLDOWN_ACTIVE"
	CodeInvalidToken     ErrorCode = "INVALID_TOKEN"
	CodeApprovalMismatch ErrorCode = "APPROVAL_MISMATCH"
	CodeApplyFailed      ErrorCode = "APPLY_FAILED"
	CodeSnapshotFailed   ErrorCode = "SNAPSHOT_FAILED"
	CodeAuditWriteFailed ErrorCode = "AUDIT_WRITE_FAILED"
	CodeNoSnapshot       ErrorCode = "NO_SNAPSHOT"
)

// Error is the typed failure returned by every orchestrator operation.
// It carries enough context for the caller to retry correctly.
type Error struct {
	Code    ErrorCode
	Message string

	// RemainingSeconds is set for CooldownActive.
	RemainingSeconds int
	// Min/Max are set for InvalidValue on numeric parameters.
	Min, Max float64
	// RequiredPhrase is set for ApprovalMismatch.
	RequiredPhrase string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the ErrorCode from err, or "" when err is not a
// tuning error.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

func unknownParameter(key string) *Error {
	return &Error{Code: CodeUnknownParameter, Message: fmt.Sprintf("unknown parameter %q", key)}
}

func wrongTier(key string, want, got Tier) *Error {
	return &Error{
		Code:    CodeWrongTier,
		Message: fmt.Sprintf("parameter %q is %s tier, not %s", key, got, want),
	}
}

func invalidValue(d *ParameterDescriptor, msg string) *Error {
	e := &Error{Code: CodeInvalidValue, Message: msg}
	if d != nil && d.Kind == KindNumber {
		e.Min, e.Max = d.Min, d.Max
	}
	return e
}

func cooldownActive(key string, remaining int) *Error {
	return &Error{
		Code:             CodeCooldownActive,
		Message:          fmt.Sprintf("parameter %q was adjusted recently, %ds remaining", key, remaining),
		RemainingSeconds: remaining,
	}
}

func invalidToken(msg string) *Error {
	return &Error{Code: CodeInvalidToken, Message: msg}
}

func approvalMismatch(phrase string) *Error {
	return &Error{
		Code:           CodeApprovalMismatch,
		Message:        fmt.Sprintf("approval text must be exactly %q", phrase),
		RequiredPhrase: phrase,
	}
}

func ioError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}
