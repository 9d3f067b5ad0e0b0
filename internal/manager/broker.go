// Package manager implements the manager broker (component J): the local
// process that client tools (action/connect/launch/lsp/repl/select/shell,
// per spec.md's CLI surface) talk to over an IPC endpoint. It owns a
// mapping of connection id -> outbound server connection and multiplexes
// logical channels onto each one via github.com/hashicorp/yamux, adapted
// from the teacher's internal/tunnel/client session/RPC idiom (which
// layers the same kind of RPC-over-multiplexed-stream pattern on top of
// its own in-tree multiplexer).
package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/yamux"

	"github.com/distant-io/distant-go/internal/auth"
	distant "github.com/distant-io/distant-go/internal/coretypes"
	"github.com/distant-io/distant-go/internal/frame"
	"github.com/distant-io/distant-go/log"
)

// ErrUnknownConnection is returned by operations naming a connection id the
// broker has no record of.
var ErrUnknownConnection = errors.New("manager: no such connection")

// ConnectExtras carries optional handshake parameters for Connect.
type ConnectExtras struct {
	ConnectionKey string
	Respond       func(method string, challenge []byte) ([]byte, error)
	Methods       []string
}

// ConnectionInfo is what List reports about one managed server connection.
type ConnectionInfo struct {
	ID          uint64
	Destination distant.Destination
}

// serverConn is one outbound, authenticated connection to a distant
// server, with a yamux session layered on top for channel multiplexing.
type serverConn struct {
	id          uint64
	destination distant.Destination
	mux         *yamux.Session
}

// Broker is the manager's in-memory state: every connection it has dialed,
// keyed by connection id. Guarded by a RWMutex, the same shared-state
// pattern internal/server.Registry and the teacher's tunnel session maps
// both use — readers on the list/open-channel fast path, writers on
// connect/close.
type Broker struct {
	mu          sync.RWMutex
	conns       map[uint64]*serverConn
	nextID      atomic.Uint64
	log         log.Logger
	yamuxConf   *yamux.Config
	handshakeFn func(distant.Destination, ConnectExtras) (*serverConn, error)
}

// New returns an empty Broker. logger may be nil; it is stored as given,
// and no fallback logger is substituted.
func New(logger log.Logger) *Broker {
	b := &Broker{
		conns: make(map[uint64]*serverConn),
		log:   logger,
	}
	b.handshakeFn = b.dialAndHandshake
	return b
}

// List returns every connection the broker currently manages with its
// dial destination, per spec.md §4.J's "list op returns all managed server
// connections with their destinations."
func (b *Broker) List() []ConnectionInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, ConnectionInfo{ID: c.id, Destination: c.destination})
	}
	return out
}

// Connect dials destination, performs the authenticated handshake, and
// registers the resulting connection under a fresh id.
func (b *Broker) Connect(destination distant.Destination, extras ConnectExtras) (uint64, error) {
	conn, err := b.handshakeFn(destination, extras)
	if err != nil {
		return 0, distant.ErrSessionDial{Inner: err, Context: distant.DialContext{Addr: destination.String()}}
	}

	conn.id = b.nextID.Add(1)
	b.mu.Lock()
	b.conns[conn.id] = conn
	b.mu.Unlock()
	return conn.id, nil
}

func (b *Broker) dialAndHandshake(destination distant.Destination, extras ConnectExtras) (*serverConn, error) {
	raw, err := destination.Dial()
	if err != nil {
		return nil, err
	}

	_, err = auth.Client(frame.NewCodec(raw), auth.ClientConfig{
		ConnectionKey: extras.ConnectionKey,
		Respond:       extras.Respond,
		Methods:       extras.Methods,
	})
	if err != nil {
		raw.Close()
		return nil, err
	}

	conf := b.yamuxConf
	if conf == nil {
		conf = yamux.DefaultConfig()
	}
	mux, err := yamux.Client(raw, conf)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return &serverConn{
		destination: destination,
		mux:         mux,
	}, nil
}

// Channel is the write/read pair open_channel hands back: an opaque,
// bidirectional byte stream multiplexed onto one server connection.
type Channel = net.Conn

// OpenChannel returns a fresh multiplexed channel on the named connection,
// per spec.md §4.J's "open_channel(connection-id) -> channel."
func (b *Broker) OpenChannel(connectionID uint64) (Channel, error) {
	conn, ok := b.lookup(connectionID)
	if !ok {
		return nil, ErrUnknownConnection
	}
	return openTypedStream(conn.mux, streamTypeChannel)
}

// Launch asks the server at connectionID to spawn a fresh server process
// and reports its contact destination, per spec.md §4.J's
// "launch(destination, extras) -> new-destination." The RPC itself is a
// single JSON request/response over its own tagged stream, the same
// pattern as rawSession.rpc in internal/tunnel/client/raw_session.go.
func (b *Broker) Launch(connectionID uint64, req LaunchRequest) (distant.Destination, error) {
	conn, ok := b.lookup(connectionID)
	if !ok {
		return distant.Destination{}, ErrUnknownConnection
	}

	stream, err := openTypedStream(conn.mux, streamTypeLaunch)
	if err != nil {
		return distant.Destination{}, err
	}
	defer stream.Close()

	if err := json.NewEncoder(stream).Encode(req); err != nil {
		return distant.Destination{}, err
	}

	var resp LaunchResponse
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		return distant.Destination{}, err
	}
	if resp.Error != "" {
		return distant.Destination{}, fmt.Errorf("manager: launch failed: %s", resp.Error)
	}
	return distant.ParseDestination(resp.Destination)
}

// Close shuts down every connection the broker manages.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for id, c := range b.conns {
		if err := c.mux.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.conns, id)
	}
	return firstErr
}

// CloseConnection closes and forgets a single managed connection.
func (b *Broker) CloseConnection(connectionID uint64) error {
	b.mu.Lock()
	conn, ok := b.conns[connectionID]
	if ok {
		delete(b.conns, connectionID)
	}
	b.mu.Unlock()
	if !ok {
		return ErrUnknownConnection
	}
	return conn.mux.Close()
}

func (b *Broker) lookup(connectionID uint64) (*serverConn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conn, ok := b.conns[connectionID]
	return conn, ok
}
