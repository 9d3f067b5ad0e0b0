// Package transport seals every frame.Codec frame in an AEAD envelope,
// giving each connection confidentiality and integrity over an otherwise
// plaintext TCP stream. It is the "encrypted transport" of the connection
// engine: everything above this layer only ever sees plaintext bytes or a
// decrypt failure.
package transport

import (
	"crypto/rand"
	"errors"
	"net"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/distant-io/distant-go/internal/frame"
)

// KeySize is the length in bytes of the per-connection symmetric key
// established by the handshake.
const KeySize = chacha20poly1305.KeySize

// ErrWouldBlock is re-exported from frame so callers don't need to import
// both packages to check for it.
var ErrWouldBlock = frame.ErrWouldBlock

// ErrAuthFailed indicates a sealed frame failed to open — either the key is
// wrong or the frame was tampered with in transit. It is local to that one
// frame: the transport is still usable afterward.
var ErrAuthFailed = errors.New("transport: failed to open sealed frame")

// Transport wraps a frame.Codec and seals/opens every frame with a
// per-connection key. A fresh random nonce is generated for each outbound
// frame and carried alongside the ciphertext; decryption failures are
// reported to the caller without closing the underlying connection.
type Transport struct {
	codec *frame.Codec
	seal  cipherAEAD
	conn  net.Conn
}

// cipherAEAD is the subset of cipher.AEAD used here, named so tests can
// substitute a fake for tamper scenarios without pulling in crypto/cipher.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// New builds a Transport over conn using key as the shared per-connection
// secret. key must be KeySize bytes, as minted by the handshake.
func New(conn net.Conn, key []byte) (*Transport, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Transport{
		codec: frame.NewCodec(conn),
		seal:  aead,
		conn:  conn,
	}, nil
}

// TryReadFrame reads and opens the next sealed frame. It returns (nil, nil)
// on clean peer close, ErrWouldBlock if no complete frame is buffered yet,
// and ErrAuthFailed if the frame failed to decrypt — the latter is
// frame-local; the caller may keep using the transport.
func (t *Transport) TryReadFrame() ([]byte, error) {
	sealed, err := t.codec.TryReadFrame()
	if err != nil {
		return nil, err
	}
	if sealed == nil {
		return nil, nil
	}
	if len(sealed) < t.seal.NonceSize() {
		return nil, ErrAuthFailed
	}
	nonce, ciphertext := sealed[:t.seal.NonceSize()], sealed[t.seal.NonceSize():]
	plaintext, err := t.seal.Open(ciphertext[:0], nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// TryWriteFrame seals payload with a fresh nonce and queues it for write.
// Like frame.Codec.TryWriteFrame, it may return ErrWouldBlock while
// retaining the bytes internally for a later flush.
func (t *Transport) TryWriteFrame(payload []byte) error {
	nonce := make([]byte, t.seal.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := t.seal.Seal(nonce, nonce, payload, nil)
	return t.codec.TryWriteFrame(sealed)
}

// TryFlush drains any frames buffered internally by a prior WouldBlock.
func (t *Transport) TryFlush() (int, error) {
	return t.codec.TryFlush()
}

// Pending reports whether sealed bytes remain queued for write.
func (t *Transport) Pending() bool {
	return t.codec.Pending()
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
