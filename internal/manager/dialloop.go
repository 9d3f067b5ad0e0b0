package manager

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	distant "github.com/distant-io/distant-go/internal/coretypes"
	"github.com/distant-io/distant-go/log"
)

// DialLoop reconnects a single manager->server leg with exponential
// backoff whenever it drops, per SPEC_FULL.md's component N. It presents
// the same ConnectExtras.ConnectionKey on every attempt so the server-side
// keychain (component D) can hand back the connection's prior Backup once
// the handshake (component C) succeeds again, giving the reconnect
// continuity spec.md §4.D describes.
//
// The backoff schedule (500ms..30s, factor 2, no jitter) is lifted
// unchanged from the teacher's reconnectingSession.connect in
// internal/tunnel/client/reconnecting.go.
type DialLoop struct {
	broker      *Broker
	destination distant.Destination
	extras      ConnectExtras

	// Log, if set, receives a warning on every failed dial attempt.
	Log log.Logger

	// OnConnect, if set, is called with the freshly (re)established
	// connection id after every successful dial, including the first.
	OnConnect func(connectionID uint64)
}

// NewDialLoop returns a DialLoop that reconnects to destination through
// broker using extras for every handshake attempt.
func NewDialLoop(broker *Broker, destination distant.Destination, extras ConnectExtras) *DialLoop {
	return &DialLoop{broker: broker, destination: destination, extras: extras}
}

// Run dials and registers the connection, then blocks monitoring it; each
// time the connection is no longer present in the broker (the caller
// closed it, or a future liveness check removes it), Run redials with
// backoff. Run returns only when ctx is cancelled or, before the first
// successful dial, when ctx is cancelled mid-backoff.
func (d *DialLoop) Run(ctx context.Context) error {
	boff := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: false,
	}

	for {
		id, err := d.broker.Connect(d.destination, d.extras)
		if err != nil {
			if d.Log != nil {
				d.Log.Log(ctx, log.LogLevelWarn, "dial loop: connect failed", map[string]interface{}{"err": err.Error()})
			}
			wait := boff.Duration()
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		boff.Reset()
		if d.OnConnect != nil {
			d.OnConnect(id)
		}

		if !d.waitForDrop(ctx, id) {
			return ctx.Err()
		}
	}
}

// waitForDrop polls until connectionID is no longer registered with the
// broker (it was closed) or ctx is cancelled. It returns false when ctx
// was the reason it stopped waiting.
func (d *DialLoop) waitForDrop(ctx context.Context, connectionID uint64) bool {
	const pollInterval = 200 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, ok := d.broker.lookup(connectionID); !ok {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}
