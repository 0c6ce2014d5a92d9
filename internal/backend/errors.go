package backend

import (
	"errors"
	"fmt"
)

// Code classifies a business error. Business errors are never retried.
type Code string

const (
	CodeInvalidConfiguration Code = "invalid_configuration"
	CodeInvalidCredentials   Code = "invalid_credentials"
	CodeUnsupportedVersion   Code = "unsupported_version"
	CodeManualAction         Code = "manual_action_required"
	CodeStoreIDMismatch      Code = "store_id_mismatch"
	CodeSourceConflict       Code = "source_conflict"
	CodeBadData              Code = "bad_data"
	CodeIllegalState         Code = "illegal_state"
)

// Error is a business error: bad input, bad credentials, or a state that
// needs an operator. Anything else is treated as technical and retryable.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as a business error with the given code.
func Wrap(code Code, err error, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func IsBusiness(err error) bool {
	var be *Error
	return errors.As(err, &be)
}

func HasCode(err error, code Code) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Code == code
}

// Describe returns the message shown to operators: the classified message for
// business errors, the plain error text otherwise.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
