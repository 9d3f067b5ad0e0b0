package distant

import (
	"context"
	"net"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/distant-io/distant-go/internal/auth"
	"github.com/distant-io/distant-go/internal/connection"
	"github.com/distant-io/distant-go/internal/manager"
	"github.com/distant-io/distant-go/internal/process"
	"github.com/distant-io/distant-go/internal/server"
)

// Handler and Context re-export internal/connection's generic handler
// contract so that callers outside this module — which cannot import
// internal/... packages at all — have a public type to implement and
// receive. L is the per-connection local data type; Req is the request
// payload type a server decodes every frame into.
type Handler[L any, Req any] = connection.Handler[L, Req]
type Context[L any, Req any] = connection.Context[L, Req]

// Verifier re-exports internal/auth's handshake policy, along with its
// three stock implementations, so callers can configure a Server's
// authentication without reaching into internal/auth directly.
type Verifier = auth.Verifier

// NoAuth accepts any peer without a challenge step.
func NoAuth() Verifier { return auth.None{} }

// WithStaticKey requires a peer to prove possession of a pre-shared key.
func WithStaticKey(key []byte) Verifier { return auth.StaticKey{Key: key} }

// ProcessManager re-exports the process manager actor (component H) so a
// handler plug-in can be built against it without an internal import.
type ProcessManager = process.Manager

// NewProcessManager returns a running process manager actor, per spec.md
// §4.H. Callers typically construct one per Server and store it in their
// handler's local data (or a value shared across all connections, if
// spawned processes are meant to outlive any single connection).
func NewProcessManager() *ProcessManager { return process.NewManager() }

// serverOptions accumulates ServerOption values applied by NewServer. The
// functional-options shape mirrors the teacher's agent_options.go, adapted
// from ngrok's single flat Dialer/TunnelConfig surface to this package's
// per-server knobs (verifier, shutdown policy, logger, poll sleep).
type serverOptions struct {
	verifier Verifier
	shutdown server.ShutdownPolicy
	logger   log.Logger
	sleep    time.Duration
}

// ServerOption configures a Server built by NewServer. Options not
// supplied fall back to the same defaults internal/server.New already
// applies (no auth, never shut down on its own, root logger).
type ServerOption func(*serverOptions)

// WithVerifier sets the handshake policy new connections must satisfy.
// The default, if unset, is NoAuth().
func WithVerifier(v Verifier) ServerOption {
	return func(o *serverOptions) { o.verifier = v }
}

// WithShutdownNever disables the server's self-shutdown timer. This is
// the default.
func WithShutdownNever() ServerOption {
	return func(o *serverOptions) { o.shutdown = server.Never() }
}

// WithShutdownAfter arms a one-shot deadline the moment Serve starts,
// independent of connection activity — spec.md's shutdown timer variant
// `After(duration)`.
func WithShutdownAfter(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.shutdown = server.After(d) }
}

// WithShutdownAfterIdle arms the timer whenever the connection count
// drops to zero and cancels it on the next accept — spec.md's shutdown
// timer variant `AfterIdle(duration)`.
func WithShutdownAfterIdle(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.shutdown = server.AfterIdle(d) }
}

// WithLogger sets the root logger new connections derive their own
// contextual child loggers from.
func WithLogger(l log.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// WithSleepDuration overrides the connection main loop's fully-blocked
// poll sleep (spec.md §5's "1 ms sleep... taken only when both read and
// write were simultaneously not-ready"). Mainly useful for tests that want
// a tighter poll loop than the 1ms default.
func WithSleepDuration(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.sleep = d }
}

// Server is the public facade over the server core (component F): accept
// a listener, dispatch every connection to a Handler, shut down on
// request or on an idle/uptime timer. Construct with NewServer.
type Server[L any, Req any] struct {
	inner *server.Server[L, Req]
}

// NewServer builds a Server around handler, which is invoked once per
// connection (NewLocal/OnAccept) and once per decoded request
// (OnRequest), per spec.md §4.E.
func NewServer[L any, Req any](handler Handler[L, Req], opts ...ServerOption) *Server[L, Req] {
	o := serverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	inner := server.New[L, Req](server.Config[L, Req]{
		Handler:       handler,
		Verifier:      o.verifier,
		Shutdown:      o.shutdown,
		Logger:        o.logger,
		SleepDuration: o.sleep,
	})
	return &Server[L, Req]{inner: inner}
}

// Serve accepts connections from ln until it errors, typically because
// Shutdown closed it. It blocks; call it on its own goroutine.
func (s *Server[L, Req]) Serve(ln net.Listener) error { return s.inner.Serve(ln) }

// Shutdown stops accepting new connections and waits (bounded by ctx) for
// in-flight connections to finish, aborting them if ctx is cancelled
// first.
func (s *Server[L, Req]) Shutdown(ctx context.Context, ln net.Listener) error {
	return s.inner.Shutdown(ctx, ln)
}

// ConnectionCount reports the number of currently live connections.
func (s *Server[L, Req]) ConnectionCount() int { return s.inner.ConnectionCount() }
