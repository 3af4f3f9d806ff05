package engine

import "fmt"

// ErrorCode classifies the recoverable failures of one event. All of
// them are handled inside HandleEvent; none escapes to the transport.
type ErrorCode string

const (
	ErrorInputMismatch      ErrorCode = "INPUT_MISMATCH"
	ErrorLostContext        ErrorCode = "LOST_CONTEXT"
	ErrorDeliveryFailure    ErrorCode = "DELIVERY_FAILURE"
	ErrorPersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("engine: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("engine: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
