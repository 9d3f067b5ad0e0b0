package server

import (
	"sync"
	"time"
)

type shutdownKind int

const (
	shutdownNever shutdownKind = iota
	shutdownAfter
	shutdownAfterIdle
)

// ShutdownPolicy is one of Never, After(duration), or AfterIdle(duration),
// per spec.md's shutdown timer data model.
type ShutdownPolicy struct {
	kind     shutdownKind
	duration time.Duration
}

// Never disables the shutdown timer entirely; the server only stops when
// told to explicitly.
func Never() ShutdownPolicy { return ShutdownPolicy{kind: shutdownNever} }

// After arms a single deadline the moment the server starts serving: the
// server shuts down d after launch, independent of connection activity.
// This is the one place this implementation resolves an ambiguity spec.md
// leaves open — see DESIGN.md.
func After(d time.Duration) ShutdownPolicy { return ShutdownPolicy{kind: shutdownAfter, duration: d} }

// AfterIdle arms the timer whenever the connection count drops to zero and
// cancels it on the next accept, so the server shuts down after d of
// sustained idleness following its last connection. It is not armed when
// the server starts, so a server that never accepts a connection does not
// shut down on its own.
func AfterIdle(d time.Duration) ShutdownPolicy {
	return ShutdownPolicy{kind: shutdownAfterIdle, duration: d}
}

// ShutdownTimer implements internal/connection.Timer and calls onExpire each
// time an armed timer elapses; under AfterIdle it is re-armed whenever the
// connection count returns to zero, so onExpire can run more than once.
type ShutdownTimer struct {
	policy   ShutdownPolicy
	onExpire func()

	mu    sync.Mutex
	timer *time.Timer
	armed bool
}

func NewShutdownTimer(policy ShutdownPolicy, onExpire func()) *ShutdownTimer {
	return &ShutdownTimer{policy: policy, onExpire: onExpire}
}

// Start arms an After(d) timer once, at server startup. No-op for Never
// and AfterIdle.
func (t *ShutdownTimer) Start() {
	if t.policy.kind != shutdownAfter {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return
	}
	t.armed = true
	t.timer = time.AfterFunc(t.policy.duration, t.onExpire)
}

// Cancel stops any pending AfterIdle timer. Called on every accept, per
// spec.md's "cancelled on first accept."
func (t *ShutdownTimer) Cancel() {
	if t.policy.kind != shutdownAfterIdle {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// RestartIfEmpty (re)arms an AfterIdle timer when remaining is zero.
// Never and After ignore this entirely.
func (t *ShutdownTimer) RestartIfEmpty(remaining int) {
	if t.policy.kind != shutdownAfterIdle || remaining != 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.policy.duration, t.onExpire)
}
