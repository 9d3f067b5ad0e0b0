package coretypes

import (
	"fmt"
	"reflect"
)

// ErrContext is implemented by the small per-failure-site structs below so
// that Error[C] can render a stable human message without string-building
// at every call site.
type ErrContext interface {
	message() string
}

// Error wraps an underlying cause with structured context about where it
// occurred. Two Errors with the same context type satisfy errors.Is against
// each other regardless of their Inner error, which lets callers check
// "did we fail to dial" without caring about the specific network error.
type Error[C ErrContext] struct {
	Inner   error
	Context C
}

func (e Error[C]) Unwrap() error {
	return e.Inner
}

func (e Error[C]) Error() string {
	msg := e.Context.message()
	if e.Inner != nil {
		return fmt.Sprintf("%s: %v", msg, e.Inner.Error())
	} else {
		return msg
	}
}

func (e Error[C]) Is(other error) bool {
	return reflect.TypeOf(e) == reflect.TypeOf(other)
}

type ErrHandshakeFailed = Error[HandshakeFailedContext]
type HandshakeFailedContext struct {
	Remote bool
}

func (c HandshakeFailedContext) message() string {
	if c.Remote {
		return "failed to setup connection"
	} else {
		return "failed to send handshake request"
	}
}

type ErrSessionDial = Error[DialContext]
type DialContext struct {
	Addr string
}

func (c DialContext) message() string {
	return fmt.Sprintf("failed to dial distant server at %q", c.Addr)
}

type ErrHandlerDropped = Error[HandlerDroppedContext]
type HandlerDroppedContext struct{}

func (c HandlerDroppedContext) message() string {
	return "handler has been dropped"
}
