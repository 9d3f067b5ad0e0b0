package distant

import (
	"github.com/distant-io/distant-go/internal/manager"
	"github.com/distant-io/distant-go/log"
)

// ConnectExtras carries optional handshake parameters for Client.Connect,
// re-exported from internal/manager so callers never need an internal
// import. Respond answers a challenge for one of Methods, when the
// destination's Verifier is not NoAuth().
type ConnectExtras = manager.ConnectExtras

// ConnectionInfo is what Client.List reports about one managed server
// connection.
type ConnectionInfo = manager.ConnectionInfo

// Channel is an opaque, bidirectional byte stream multiplexed onto one
// server connection, returned by Client.OpenChannel.
type Channel = manager.Channel

// LaunchRequest/LaunchResponse carry the manager broker's launch RPC
// (component J's "launch(destination, extras) -> new-destination").
type LaunchRequest = manager.LaunchRequest
type LaunchResponse = manager.LaunchResponse

// Client is the public facade over the manager broker (component J): the
// local process client tools talk to, which multiplexes logical channels
// onto one or more outbound, authenticated server connections.
type Client struct {
	broker *manager.Broker
}

// NewClient returns an empty Client with no managed connections yet.
// logger may be nil.
func NewClient(logger log.Logger) *Client {
	return &Client{broker: manager.New(logger)}
}

// List returns every connection the client currently manages with its
// dial destination.
func (c *Client) List() []ConnectionInfo { return c.broker.List() }

// Connect dials destination, performs the authenticated handshake, and
// registers the resulting connection under a fresh id.
func (c *Client) Connect(destination Destination, extras ConnectExtras) (uint64, error) {
	return c.broker.Connect(destination, extras)
}

// OpenChannel returns a fresh multiplexed channel on the named connection.
func (c *Client) OpenChannel(connectionID uint64) (Channel, error) {
	return c.broker.OpenChannel(connectionID)
}

// Launch asks the server at connectionID to spawn a fresh server process
// and reports its contact destination.
func (c *Client) Launch(connectionID uint64, req LaunchRequest) (Destination, error) {
	return c.broker.Launch(connectionID, req)
}

// CloseConnection closes and forgets a single managed connection.
func (c *Client) CloseConnection(connectionID uint64) error {
	return c.broker.CloseConnection(connectionID)
}

// Close shuts down every connection the client manages.
func (c *Client) Close() error { return c.broker.Close() }

// DialLoop returns a reconnecting dial loop (component N) that keeps a
// connection to destination alive across drops, presenting extras on
// every attempt so the server-side keychain can restore prior state. The
// caller runs Run(ctx) on its own goroutine.
func (c *Client) DialLoop(destination Destination, extras ConnectExtras) *manager.DialLoop {
	return manager.NewDialLoop(c.broker, destination, extras)
}
