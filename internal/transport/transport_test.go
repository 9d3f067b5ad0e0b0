package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func key(t *testing.T) []byte {
	t.Helper()
	return make([]byte, KeySize)
}

func writeUntilDone(t *testing.T, tr *Transport, payload []byte) {
	t.Helper()
	// A frame that would block stays queued inside the transport, so it is
	// drained with TryFlush rather than sealed and enqueued a second time.
	if err := tr.TryWriteFrame(payload); err != nil {
		require.ErrorIs(t, err, ErrWouldBlock)
	}
	require.Eventually(t, func() bool {
		_, err := tr.TryFlush()
		require.NoError(t, err)
		return !tr.Pending()
	}, time.Second, time.Millisecond)
}

func readUntilFrame(t *testing.T, tr *Transport) []byte {
	t.Helper()
	var got []byte
	require.Eventually(t, func() bool {
		f, err := tr.TryReadFrame()
		if err == ErrWouldBlock {
			return false
		}
		require.NoError(t, err)
		if f == nil {
			return false
		}
		got = f
		return true
	}, time.Second, time.Millisecond)
	return got
}

func TestSealRoundTrip(t *testing.T) {
	t.Parallel()
	a, b := pipePair(t)
	k := key(t)

	sender, err := New(a, k)
	require.NoError(t, err)
	receiver, err := New(b, k)
	require.NoError(t, err)

	writeUntilDone(t, sender, []byte("top secret"))
	require.Equal(t, []byte("top secret"), readUntilFrame(t, receiver))
}

// bitFlippingConn corrupts the byte at flipAt (relative to the start of the
// connection's byte stream) exactly once, then behaves normally.
type bitFlippingConn struct {
	net.Conn
	flipAt  int
	written int
	flipped bool
}

func (c *bitFlippingConn) Write(p []byte) (int, error) {
	if !c.flipped && c.written+len(p) > c.flipAt {
		idx := c.flipAt - c.written
		cp := append([]byte(nil), p...)
		cp[idx] ^= 0xFF
		c.flipped = true
		n, err := c.Conn.Write(cp)
		c.written += n
		return n, err
	}
	n, err := c.Conn.Write(p)
	c.written += n
	return n, err
}

func TestTamperedFrameFailsButTransportStaysUsable(t *testing.T) {
	t.Parallel()
	a, b := pipePair(t)
	k := key(t)

	// Flip a bit a few bytes into the wire stream, landing inside the
	// first sealed frame's ciphertext.
	corrupting := &bitFlippingConn{Conn: a, flipAt: 8}

	sender, err := New(corrupting, k)
	require.NoError(t, err)
	receiver, err := New(b, k)
	require.NoError(t, err)

	writeUntilDone(t, sender, []byte("tampered"))
	require.Eventually(t, func() bool {
		_, err := receiver.TryReadFrame()
		if err == ErrWouldBlock {
			return false
		}
		require.ErrorIs(t, err, ErrAuthFailed)
		return true
	}, time.Second, time.Millisecond)

	// The transport is still usable for the next frame.
	writeUntilDone(t, sender, []byte("fine"))
	require.Equal(t, []byte("fine"), readUntilFrame(t, receiver))
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	t.Parallel()
	a, b := pipePair(t)
	senderKey := key(t)
	wrongKey := make([]byte, KeySize)
	wrongKey[0] = 1

	sender, err := New(a, senderKey)
	require.NoError(t, err)
	receiver, err := New(b, wrongKey)
	require.NoError(t, err)

	writeUntilDone(t, sender, []byte("hello"))

	require.Eventually(t, func() bool {
		_, err := receiver.TryReadFrame()
		if err == ErrWouldBlock {
			return false
		}
		require.ErrorIs(t, err, ErrAuthFailed)
		return true
	}, time.Second, time.Millisecond)
}
