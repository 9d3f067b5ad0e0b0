package distant

import (
	"fmt"

	"github.com/distant-io/distant-go/internal/coretypes"
)

// ErrContext and the three concrete Error[C] instantiations below alias
// internal/coretypes so that internal/connection and internal/manager —
// which raise these errors — don't need to import this package (see
// destination.go's doc comment for why that would cycle). The generic
// Error[C] itself stays defined only in internal/coretypes; Go's type
// alias syntax can't parametrize over it pre-1.24, so callers needing the
// generic wrapper use coretypes.Error directly (none currently do — every
// call site names one of the three concrete aliases below).
type ErrContext = coretypes.ErrContext

type ErrHandshakeFailed = coretypes.ErrHandshakeFailed
type HandshakeFailedContext = coretypes.HandshakeFailedContext

type ErrSessionDial = coretypes.ErrSessionDial
type DialContext = coretypes.DialContext

type ErrHandlerDropped = coretypes.ErrHandlerDropped
type HandlerDroppedContext = coretypes.HandlerDroppedContext

// ErrorKind classifies a handler-level failure that is reported back to the
// client as a response payload rather than terminating the connection. The
// client decides how to react (retry, surface to a user, give up) based on
// Kind, not on the free-text message.
type ErrorKind int

const (
	ErrorKindNotFound ErrorKind = iota
	ErrorKindPermissionDenied
	ErrorKindBadRequest
	ErrorKindUnsupported
	ErrorKindInterrupted
	ErrorKindOther
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNotFound:
		return "NotFound"
	case ErrorKindPermissionDenied:
		return "PermissionDenied"
	case ErrorKindBadRequest:
		return "BadRequest"
	case ErrorKindUnsupported:
		return "Unsupported"
	case ErrorKindInterrupted:
		return "Interrupted"
	default:
		return "Other"
	}
}

// HandlerError is the payload a handler sends back through a Reply when it
// cannot satisfy a request. It never kills the connection.
type HandlerError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewHandlerError wraps err with kind. If err is already a HandlerError its
// Kind is preserved; otherwise kind is used verbatim.
func NewHandlerError(kind ErrorKind, err error) HandlerError {
	if err == nil {
		return HandlerError{Kind: kind}
	}
	if he, ok := err.(HandlerError); ok {
		return he
	}
	return HandlerError{Kind: kind, Message: err.Error()}
}
