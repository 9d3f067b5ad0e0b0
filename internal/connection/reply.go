package connection

import (
	"encoding/json"
	"errors"

	"github.com/distant-io/distant-go/internal/proto"
)

// ErrReplyClosed is returned by Reply.Send once the owning connection has
// begun terminating. It is not a failure a handler needs to report: per the
// cancellation model, a handler that sees this should simply stop producing
// more output.
var ErrReplyClosed = errors.New("connection: reply queue closed")

// Reply is bound to one request's id and lets a handler push any number of
// responses back to the peer, each tagged with that origin id. The
// underlying queue has a single slot: a handler that produces responses
// faster than the peer (or the connection's write side) can drain them
// blocks in Send, which is the connection's only backpressure mechanism.
type Reply struct {
	originID string
	queue    chan []byte
	done     <-chan struct{}
}

func newReply(originID string, queue chan []byte, done <-chan struct{}) *Reply {
	return &Reply{originID: originID, queue: queue, done: done}
}

// Send serializes payload as a Response addressed to this reply's origin
// request and enqueues it. It blocks while the single-slot queue is full,
// and returns ErrReplyClosed instead of blocking forever once the
// connection starts tearing down.
func (r *Reply) Send(payload any) error {
	resp := proto.Response[any]{Id: newID(), OriginId: r.originID, Payload: payload}
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	select {
	case r.queue <- b:
		return nil
	case <-r.done:
		return ErrReplyClosed
	}
}
