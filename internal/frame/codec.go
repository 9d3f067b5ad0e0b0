// Package frame implements the wire framing used by every distant
// connection: a 4-byte big-endian length header followed by that many
// payload bytes. There is no magic number; the only contract above this
// layer is confidentiality/integrity, which internal/transport provides.
//
// The codec is non-blocking: try-read/try-write never park a goroutine
// waiting on the network. Instead the underlying net.Conn is driven with a
// short read/write deadline so a call either makes progress immediately or
// returns ErrWouldBlock. This lets a single goroutine drive many frame
// codecs the way a cooperative scheduler would, matching the connection
// engine's single-driver-goroutine-per-connection model in
// internal/connection.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"
)

// ErrWouldBlock is returned by TryReadFrame/TryWriteFrame when no progress
// is currently possible. It is not a real error: the caller should retry
// after the next readiness wait.
var ErrWouldBlock = errors.New("frame: would block")

const headerSize = 4

// MaxFrameLength bounds a single frame's payload so a corrupt or hostile
// peer cannot force unbounded buffering.
const MaxFrameLength = 64 << 20 // 64 MiB

// pollDeadline is the deadline used to turn a blocking net.Conn into a
// non-blocking one for a single read or write attempt.
const pollDeadline = 1 * time.Millisecond

// Codec frames a duplex byte stream. A partially received frame is never
// returned from TryReadFrame; TryWriteFrame buffers unwritten bytes
// internally until a later TryWriteFrame or TryFlush call drains them.
type Codec struct {
	conn net.Conn

	readBuf  []byte           // accumulates partial reads across calls
	writeBuf []byte           // bytes not yet accepted by the OS write buffer
	scratch  [scratchSize]byte // reused read(2) target buffer
}

// NewCodec wraps conn. conn must support SetReadDeadline/SetWriteDeadline;
// net.TCPConn and the encrypted transport's underlying stream both do.
func NewCodec(conn net.Conn) *Codec {
	return &Codec{conn: conn}
}

// TryReadFrame returns the next complete frame, or (nil, nil) if the peer
// cleanly closed the connection, or ErrWouldBlock if fewer than a full
// frame's worth of bytes are currently available.
func (c *Codec) TryReadFrame() ([]byte, error) {
	for {
		if frame, ok, err := c.takeBufferedFrame(); err != nil {
			return nil, err
		} else if ok {
			return frame, nil
		}

		n, err := c.pollRead()
		if n > 0 {
			c.readBuf = append(c.readBuf, c.scratch[:n]...)
			continue
		}
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, err
		}
		return nil, ErrWouldBlock
	}
}

// scratchSize bounds the per-codec read(2) target buffer reused across
// pollRead calls.
const scratchSize = 32 * 1024

// takeBufferedFrame extracts one complete frame from readBuf if possible.
func (c *Codec) takeBufferedFrame() (frame []byte, ok bool, err error) {
	if len(c.readBuf) < headerSize {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(c.readBuf[:headerSize])
	if length > MaxFrameLength {
		return nil, false, io.ErrShortBuffer
	}
	total := headerSize + int(length)
	if len(c.readBuf) < total {
		return nil, false, nil
	}
	frame = make([]byte, length)
	copy(frame, c.readBuf[headerSize:total])
	c.readBuf = c.readBuf[total:]
	return frame, true, nil
}

// pollRead performs a single non-blocking-equivalent read attempt.
func (c *Codec) pollRead() (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(c.scratch[:])
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// TryWriteFrame appends payload to the outbound buffer (framed with its
// length header) and attempts to flush. It returns ErrWouldBlock if the
// socket accepted no bytes on this attempt while some remain buffered; the
// data is retained and a later TryWriteFrame or TryFlush call will keep
// draining it.
func (c *Codec) TryWriteFrame(payload []byte) error {
	if len(payload) > MaxFrameLength {
		return errors.New("frame: payload exceeds MaxFrameLength")
	}
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	c.writeBuf = append(c.writeBuf, header...)
	c.writeBuf = append(c.writeBuf, payload...)

	n, err := c.TryFlush()
	if err != nil {
		return err
	}
	if n == 0 && len(c.writeBuf) > 0 {
		return ErrWouldBlock
	}
	return nil
}

// TryFlush drains as much of the internal write buffer as the socket will
// currently accept, returning the number of bytes written.
func (c *Codec) TryFlush() (int, error) {
	if len(c.writeBuf) == 0 {
		return 0, nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, err
	}
	n, err := c.conn.Write(c.writeBuf)
	if n > 0 {
		c.writeBuf = c.writeBuf[n:]
	}
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// Pending reports whether unflushed bytes remain buffered for writing.
func (c *Codec) Pending() bool {
	return len(c.writeBuf) > 0
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
