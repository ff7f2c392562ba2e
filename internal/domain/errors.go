package domain

import (
	"errors"
	"fmt"
)

// Error codes. The HTTP layer maps each code to a status; callers branch on
// codes with IsCode rather than on message text.
const (
	ENOTFOUND          = "not_found"
	EINSUFFICIENTSTOCK = "insufficient_stock"
	ESTILLINSTOCK      = "still_in_stock"
	EDUPLICATEPREORDER = "duplicate_preorder"
	EALREADYSUBSCRIBED = "already_subscribed"
	EEXPIRED           = "expired"
	ENOTSTARTED        = "not_started"
	EUSAGELIMIT        = "usage_limit_exceeded"
	EBELOWMINIMUM      = "below_minimum"
	ECARTEMPTY         = "cart_empty"
	EINVALID           = "invalid"
	ECONFLICT          = "conflict"
	EUNAUTHORIZED      = "unauthorized"
	EFORBIDDEN         = "forbidden"
	EINTERNAL          = "internal"
)

// Error is an application error carrying a machine-readable code.
type Error struct {
	Code    string
	Message string
	// Op names the operation that failed, e.g. "ledger.apply". Not shown to users.
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the code from err. Non-domain errors report EINTERNAL.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns a message safe to show to users.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Code != EINTERNAL {
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// Errorf creates a domain error with a formatted message.
func Errorf(code, op, format string, args ...any) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError attaches a code and operation to err. Returns nil for a nil err.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

func Invalid(op, message string) error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

// Internal wraps an unexpected failure; the user-facing message stays generic.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
