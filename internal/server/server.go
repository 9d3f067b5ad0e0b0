// Package server implements the server core (component F): it accepts
// transports from a listener, builds a connection task for each, and owns
// the shared state — connection registry, shutdown timer, keychain,
// verifier, handler — that every connection task holds only weak
// references to.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/distant-io/distant-go/internal/auth"
	"github.com/distant-io/distant-go/internal/connection"
	"github.com/distant-io/distant-go/internal/keychain"
	"github.com/distant-io/distant-go/internal/weakref"
)

// Config configures a Server. L is the per-connection local data type; Req
// is the handler's request payload type — the same type parameters
// internal/connection.Handler takes.
type Config[L any, Req any] struct {
	Handler       connection.Handler[L, Req]
	Verifier      auth.Verifier // nil means auth.None{}: accept anything
	Shutdown      ShutdownPolicy
	Logger        log.Logger
	SleepDuration time.Duration
}

// Server is the server core. Construct with New, then call Serve with a
// listener; Serve blocks until the listener errors (typically because
// Shutdown closed it).
type Server[L any, Req any] struct {
	handlerStrong  *weakref.Strong[connection.Handler[L, Req]]
	verifierStrong *weakref.Strong[auth.Verifier]
	registryStrong *weakref.Strong[connection.Registry]
	timerStrong    *weakref.Strong[connection.Timer]

	registry *Registry
	timer    *ShutdownTimer
	keychain *keychain.Keychain

	log   log.Logger
	sleep time.Duration

	wg sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

// New builds a Server from cfg. It does not start accepting connections;
// call Serve for that.
func New[L any, Req any](cfg Config[L, Req]) *Server[L, Req] {
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = auth.None{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Root()
	}

	registry := NewRegistry()

	s := &Server[L, Req]{
		registry: registry,
		keychain: keychain.New(),
		log:      logger,
		sleep:    cfg.SleepDuration,
	}
	s.timer = NewShutdownTimer(cfg.Shutdown, s.shutdownExpired)

	s.handlerStrong = weakref.NewStrong[connection.Handler[L, Req]](cfg.Handler)
	s.verifierStrong = weakref.NewStrong[auth.Verifier](verifier)
	s.registryStrong = weakref.NewStrong[connection.Registry](registry)
	s.timerStrong = weakref.NewStrong[connection.Timer](s.timer)

	return s
}

// shutdownExpired is the timer's onExpire callback: the server shuts
// itself down the same way an explicit Shutdown would, closing its
// listener and aborting anything still connected.
func (s *Server[L, Req]) shutdownExpired() {
	s.log.Info("shutdown timer expired, shutting down")
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.registry.AbortAll()
}

// ConnectionCount reports the number of currently live connections.
func (s *Server[L, Req]) ConnectionCount() int {
	return s.registry.Len()
}

// Serve accepts connections from ln until Accept returns an error —
// typically because Shutdown closed ln. Each accepted connection becomes
// its own connection.Task, built with weak references to this server's
// shared state, and is driven on its own goroutine.
func (s *Server[L, Req]) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.timer.Start()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.timer.Cancel()
		s.handleConn(conn)
	}
}

func (s *Server[L, Req]) handleConn(conn net.Conn) {
	task := connection.Build[L, Req](connection.Builder[L, Req]{
		Conn:          conn,
		Handler:       s.handlerStrong.Weak(),
		Registry:      s.registryStrong.Weak(),
		Timer:         s.timerStrong.Weak(),
		Verifier:      s.verifierStrong.Weak(),
		Keychain:      s.keychain,
		ConnectionKey: newConnectionKey(),
		Logger:        s.log,
		SleepDuration: s.sleep,
	})
	s.registry.Insert(task.ID(), task)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := task.Run(); err != nil {
			s.log.Debug("connection terminated", "conn", task.ID(), "err", err)
		}
	}()
}

// Shutdown closes ln (so Serve returns), drops the server's strong
// references to its handler and verifier (new connections past the
// handshake fail fast instead of running handler code on a half-shutdown
// server), then waits for in-flight connection tasks to finish on their
// own. If ctx is cancelled first, every live connection is aborted and
// Shutdown waits for that instead.
func (s *Server[L, Req]) Shutdown(ctx context.Context, ln net.Listener) error {
	_ = ln.Close()
	s.handlerStrong.Drop()
	s.verifierStrong.Drop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.registry.AbortAll()
		<-done
		return ctx.Err()
	}
}
