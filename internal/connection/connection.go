// Package connection implements the per-connection state machine described
// as "the hardest subsystem": a handshake, a cooperative read/write loop
// driving a single encrypted transport, and independent goroutines spawned
// per request so a slow handler never stalls frame decoding for its peers
// on the same connection.
package connection

import (
	"encoding/json"
	"net"
	"sync/atomic"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/distant-io/distant-go/internal/auth"
	distant "github.com/distant-io/distant-go/internal/coretypes"
	"github.com/distant-io/distant-go/internal/frame"
	"github.com/distant-io/distant-go/internal/keychain"
	"github.com/distant-io/distant-go/internal/proto"
	"github.com/distant-io/distant-go/internal/transport"
	"github.com/distant-io/distant-go/internal/weakref"
)

// DefaultSleep is how long the main loop parks when a pass made no read or
// write progress at all, matching the "pragmatic compromise between
// latency and CPU" the design calls for.
const DefaultSleep = time.Millisecond

// Builder collects everything a Task needs, all as weak references except
// the raw connection and the keychain, which are cheap to hold directly
// and whose lifetime is scoped to this one connection anyway.
type Builder[L any, Req any] struct {
	Conn          net.Conn
	Handler       weakref.Weak[Handler[L, Req]]
	Registry      weakref.Weak[Registry]
	Timer         weakref.Weak[Timer]
	Verifier      weakref.Weak[auth.Verifier]
	Keychain      *keychain.Keychain
	ConnectionKey string // this connection's own key, registered in Keychain for future reconnects
	Logger        log.Logger
	SleepDuration time.Duration
}

// Task is one running connection: its state, its transport, its outbound
// queue, and the local data shared read-only with every handler goroutine
// it spawns.
type Task[L any, Req any] struct {
	id       uint64
	conn     net.Conn
	tp       *transport.Transport
	handler  weakref.Weak[Handler[L, Req]]
	registry weakref.Weak[Registry]
	timer    weakref.Weak[Timer]
	verifier weakref.Weak[auth.Verifier]
	keychain *keychain.Keychain
	connKey  string

	local L

	outbound chan []byte // single-slot response queue
	done     chan struct{}

	state atomic.Int32
	sleep time.Duration
	log   log.Logger
}

// Build constructs a Task in state Pending. Call Run to drive it; Run
// blocks until the connection terminates, so callers spawn it as its own
// goroutine.
func Build[L any, Req any](b Builder[L, Req]) *Task[L, Req] {
	sleep := b.SleepDuration
	if sleep <= 0 {
		sleep = DefaultSleep
	}
	id := newConnectionID()
	logger := b.Logger
	if logger == nil {
		logger = log.Root()
	}
	logger = logger.New("conn", id)

	return &Task[L, Req]{
		id:       id,
		conn:     b.Conn,
		handler:  b.Handler,
		registry: b.Registry,
		timer:    b.Timer,
		verifier: b.Verifier,
		keychain: b.Keychain,
		connKey:  b.ConnectionKey,
		outbound: make(chan []byte, 1),
		done:     make(chan struct{}),
		sleep:    sleep,
		log:      logger,
	}
}

// ID returns the connection's identifier, stable for its whole lifetime.
func (t *Task[L, Req]) ID() uint64 { return t.id }

// State returns the task's current lifecycle state.
func (t *Task[L, Req]) State() State { return State(t.state.Load()) }

// Abort terminates the task cooperatively: the main loop notices on its
// next iteration and tears down. Safe to call from any goroutine, any
// number of times.
func (t *Task[L, Req]) Abort() {
	t.state.Store(int32(Terminating))
}

// Run drives the task through its entire lifecycle: handshake, on_accept,
// then the read/write loop, until termination. It returns the terminal
// error, if any — nil for a clean peer close or explicit Abort.
func (t *Task[L, Req]) Run() error {
	t.state.Store(int32(Authenticating))

	verifier, ok := t.verifier.Upgrade()
	if !ok {
		t.log.Debug("verifier dropped before handshake")
		return t.finish(distant.ErrHandshakeFailed{Context: distant.HandshakeFailedContext{Remote: false}})
	}

	result, err := auth.Server(frame.NewCodec(t.conn), verifier, t.keychain, t.connKey)
	if err != nil {
		t.log.Warn("handshake failed", "err", err)
		return t.finish(distant.ErrHandshakeFailed{Context: distant.HandshakeFailedContext{Remote: true}, Inner: err})
	}

	tp, err := transport.New(t.conn, result.Key)
	if err != nil {
		t.log.Error("failed to install transport", "err", err)
		return t.finish(distant.ErrHandshakeFailed{Context: distant.HandshakeFailedContext{Remote: true}, Inner: err})
	}
	t.tp = tp
	t.state.Store(int32(Accepted))

	handler, ok := t.handler.Upgrade()
	if !ok {
		t.log.Debug("handler dropped during accept")
		return t.finish(distant.ErrHandlerDropped{})
	}

	local := handler.NewLocal()
	if err := handler.OnAccept(t.id, local); err != nil {
		t.log.Warn("on_accept rejected connection", "err", err)
		return t.finish(err)
	}
	t.local = local
	t.state.Store(int32(Running))

	return t.mainLoop(handler)
}

func (t *Task[L, Req]) mainLoop(handler Handler[L, Req]) error {
	for t.State() != Terminating {
		if _, ok := t.handler.Upgrade(); !ok {
			t.log.Debug("handler dropped, terminating")
			break
		}
		readProgress := t.pollRead(handler)
		writeProgress := t.pollWrite()

		if !readProgress && !writeProgress {
			time.Sleep(t.sleep)
		}
	}
	return t.finish(nil)
}

// pollRead attempts one read-side step. It returns true if it made any
// progress (a frame arrived, even a malformed one).
func (t *Task[L, Req]) pollRead(handler Handler[L, Req]) bool {
	f, err := t.tp.TryReadFrame()
	if err != nil {
		if err == transport.ErrWouldBlock {
			return false
		}
		t.log.Warn("connection read failed", "err", err)
		t.state.Store(int32(Terminating))
		return true
	}
	if f == nil {
		t.log.Debug("peer closed connection")
		t.state.Store(int32(Terminating))
		return true
	}

	t.handleFrame(handler, f)
	return true
}

func (t *Task[L, Req]) handleFrame(handler Handler[L, Req], raw []byte) {
	var envelope proto.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.log.Error("malformed request envelope", "err", err)
		return
	}

	var payload Req
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.log.Error("malformed request payload", "id", envelope.Id, "err", err)
		return
	}

	reply := newReply(envelope.Id, t.outbound, t.done)
	ctx := &Context[L, Req]{
		ConnectionID: t.id,
		Request:      proto.Request[Req]{Id: envelope.Id, Payload: payload},
		Reply:        reply,
		Local:        t.local,
	}
	go handler.OnRequest(ctx)
}

// pollWrite attempts one write-side step: dequeue and send one response,
// or failing that, flush previously buffered bytes. It returns true if it
// made any progress.
func (t *Task[L, Req]) pollWrite() bool {
	select {
	case payload := <-t.outbound:
		if err := t.tp.TryWriteFrame(payload); err != nil && err != transport.ErrWouldBlock {
			t.log.Warn("connection write failed", "err", err)
			t.state.Store(int32(Terminating))
		}
		return true
	default:
	}

	n, err := t.tp.TryFlush()
	if err != nil {
		t.log.Warn("connection flush failed", "err", err)
		t.state.Store(int32(Terminating))
		return true
	}
	return n > 0
}

// finish runs the Terminating -> Finished transition: remove the task from
// the registry (if it still exists), restart the shutdown timer if that
// was the last connection, close the done channel so any handler blocked
// in Reply.Send unblocks, and close the connection.
func (t *Task[L, Req]) finish(cause error) error {
	t.state.Store(int32(Terminating))
	close(t.done)

	if registry, ok := t.registry.Upgrade(); ok {
		remaining := registry.Remove(t.id)
		if timer, ok := t.timer.Upgrade(); ok {
			timer.RestartIfEmpty(remaining)
		}
	}

	_ = t.conn.Close()
	t.state.Store(int32(Finished))
	return cause
}
