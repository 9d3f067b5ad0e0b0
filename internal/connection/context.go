package connection

import "github.com/distant-io/distant-go/internal/proto"

// Handler is implemented once per server and supplied to every connection
// task it builds. L is the per-connection local data type; Req is the
// handler's request payload type. NewLocal is called once, right after a
// successful handshake, to produce the connection's local data, which is
// then shared read-only with every spawned OnRequest invocation.
type Handler[L any, Req any] interface {
	NewLocal() L
	OnAccept(connectionID uint64, local L) error
	OnRequest(ctx *Context[L, Req])
}

// Context is handed to one OnRequest invocation. It is spawned on its own
// goroutine by the connection's read loop, so a slow or blocking handler
// never stalls frame decoding for other requests on the same connection.
type Context[L any, Req any] struct {
	ConnectionID uint64
	Request      proto.Request[Req]
	Reply        *Reply
	Local        L
}

// Registry is the slice of server state a connection task needs: a place
// to remove itself from on the way out. Implemented by internal/server's
// shared connection map.
type Registry interface {
	Remove(connectionID uint64) (remaining int)
}

// Timer is the slice of the server's shutdown timer a connection task
// needs: a way to tell it a connection count transition happened.
// Implemented by internal/server's shutdown timer.
type Timer interface {
	Cancel()
	RestartIfEmpty(remaining int)
}
