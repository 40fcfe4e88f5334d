package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindValidation   Kind = "VALIDATION"
	KindProcessing   Kind = "PROCESSING"
)

// GenericProcessingMessage is what clients see for any processing failure
// that does not carry an exposable message.
const GenericProcessingMessage = "Processing failed! The server might be overloaded, please try again later."

// Error is the application error type. Message is for logs; ClientMessage is
// only shown to clients when Expose is set.
type Error struct {
	Kind          Kind
	Message       string
	ClientMessage string
	Expose        bool
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperror.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrProcessing   = &Error{Kind: KindProcessing}
)

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message, ClientMessage: message, Expose: true}
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "Unauthorized"
	}
	return &Error{Kind: KindUnauthorized, Message: message, ClientMessage: message, Expose: true}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message, ClientMessage: message, Expose: true}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, ClientMessage: message, Expose: true}
}

func Processing(message string, err error) *Error {
	return &Error{Kind: KindProcessing, Message: message, Err: err}
}

// Wrap attaches kind and message to err. Only NotFound, Unauthorized,
// Forbidden and Validation messages are exposed.
func Wrap(kind Kind, message string, err error) *Error {
	e := &Error{Kind: kind, Message: message, Err: err}
	if kind != KindProcessing {
		e.ClientMessage = message
		e.Expose = true
	}
	return e
}

// Exposed builds a processing error whose client message may be shown as-is,
// e.g. a provider's rate limit notice.
func Exposed(clientMessage string, err error) *Error {
	return &Error{
		Kind:          KindProcessing,
		Message:       clientMessage,
		ClientMessage: clientMessage,
		Expose:        true,
		Err:           err,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindProcessing when there is none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindProcessing
}

// ClientMessage returns the message safe to show to a client for err.
func ClientMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Expose && appErr.ClientMessage != "" {
		return appErr.ClientMessage
	}
	return GenericProcessingMessage
}
