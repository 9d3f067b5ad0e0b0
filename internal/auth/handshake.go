package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/distant-io/distant-go/internal/frame"
	"github.com/distant-io/distant-go/internal/keychain"
	"github.com/distant-io/distant-go/internal/proto"
)

// ErrTimeout is returned when a handshake does not complete within Timeout.
var ErrTimeout = errors.New("auth: handshake timed out")

// Timeout bounds how long a single handshake round trip may take before the
// connection is abandoned. The connection task treats this the same as any
// other Authenticating -> Terminating transition.
var Timeout = 10 * time.Second

// Result is what a completed handshake hands back to the connection engine:
// the derived session key for internal/transport, and this side's own
// connection key (server side: the connectionKey passed to Server; client
// side: ClientConfig.ConnectionKey), so the caller can register it in the
// keychain for future reconnects.
type Result struct {
	Key           []byte
	ConnectionKey string
	Backup        keychain.Backup // populated when reattaching to a prior connection
}

// pollInterval is how long the handshake's blocking-style read/write
// helpers sleep between non-blocking attempts on the underlying codec.
const pollInterval = time.Millisecond

func writeJSON(codec *frame.Codec, deadline time.Time, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	for {
		err := codec.TryWriteFrame(payload)
		if err == nil {
			return nil
		}
		if err != frame.ErrWouldBlock {
			return err
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

func readJSON(codec *frame.Codec, deadline time.Time, v any) error {
	for {
		f, err := codec.TryReadFrame()
		if err != nil && err != frame.ErrWouldBlock {
			return err
		}
		if err == nil && f == nil {
			return io.ErrUnexpectedEOF
		}
		if f != nil {
			return json.Unmarshal(f, v)
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

func newEphemeralKeypair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return
}

func deriveSessionKey(priv, peerPub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, err
	}
	kdf := hkdf.New(sha256.New, shared, nil, []byte("distant session key"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Server runs the server side of the handshake over codec. connectionKey is
// the key this connection will register itself under in kc for future
// reconnects; verifier may be nil, equivalent to None{}.
func Server(codec *frame.Codec, verifier Verifier, kc *keychain.Keychain, connectionKey string) (Result, error) {
	if verifier == nil {
		verifier = None{}
	}
	deadline := time.Now().Add(Timeout)

	var init proto.HandshakeInit
	if err := readJSON(codec, deadline, &init); err != nil {
		return Result{}, err
	}

	var peerPub [32]byte
	if len(init.PublicKey) != 32 {
		fail := proto.HandshakeFinish{Ok: false, Error: "malformed public key"}
		_ = writeJSON(codec, deadline, &fail)
		return Result{}, errors.New("auth: malformed public key")
	}
	copy(peerPub[:], init.PublicKey)

	priv, pub, err := newEphemeralKeypair()
	if err != nil {
		return Result{}, err
	}

	method := pickMethod(verifier.Methods(), init.Methods)
	if method == "" && len(verifier.Methods()) > 0 {
		fail := proto.HandshakeFinish{Ok: false, Error: "no supported authentication method offered"}
		_ = writeJSON(codec, deadline, &fail)
		return Result{}, errors.New("auth: no supported authentication method offered")
	}
	if method != "" {
		challenge, err := verifier.Challenge(method)
		if err != nil {
			fail := proto.HandshakeFinish{Ok: false, Error: err.Error()}
			_ = writeJSON(codec, deadline, &fail)
			return Result{}, err
		}
		if challenge != nil {
			if err := writeJSON(codec, deadline, &proto.Challenge{Method: method, Data: challenge}); err != nil {
				return Result{}, err
			}
			var resp proto.ChallengeResponse
			if err := readJSON(codec, deadline, &resp); err != nil {
				return Result{}, err
			}
			if err := verifier.Verify(method, challenge, resp.Data); err != nil {
				fail := proto.HandshakeFinish{Ok: false, Error: err.Error()}
				_ = writeJSON(codec, deadline, &fail)
				return Result{}, err
			}
		}
	}

	key, err := deriveSessionKey(priv, peerPub)
	if err != nil {
		return Result{}, err
	}

	var backup keychain.Backup
	if init.ConnectionKey != "" {
		if ch, ok := kc.Take(init.ConnectionKey); ok {
			backup = <-ch
		}
	}

	finish := proto.HandshakeFinish{Ok: true, PublicKey: pub[:]}
	if err := writeJSON(codec, deadline, &finish); err != nil {
		return Result{}, err
	}

	return Result{Key: key, ConnectionKey: connectionKey, Backup: backup}, nil
}

// ClientConfig configures the client side of the handshake.
type ClientConfig struct {
	// ConnectionKey, if set, asks the server to hand back the Backup it
	// registered under this key on a prior connection.
	ConnectionKey string

	// Respond answers a Challenge for the given method. It is only called
	// if the server issues a challenge. Implementations of StaticKey
	// typically wire this to StaticKey.Answer.
	Respond func(method string, challenge []byte) ([]byte, error)

	// Methods the client is willing to attempt. The server runs the first
	// of its own methods that appears here, so the order of this slice is
	// not taken into account. A nil or empty slice means the client has no
	// credentials to offer.
	Methods []string
}

// Client runs the client side of the handshake over codec.
func Client(codec *frame.Codec, cfg ClientConfig) (Result, error) {
	deadline := time.Now().Add(Timeout)

	priv, pub, err := newEphemeralKeypair()
	if err != nil {
		return Result{}, err
	}

	init := proto.HandshakeInit{
		ConnectionKey: cfg.ConnectionKey,
		Methods:       cfg.Methods,
		PublicKey:     pub[:],
	}
	if err := writeJSON(codec, deadline, &init); err != nil {
		return Result{}, err
	}

	for {
		f, err := readFrame(codec, deadline)
		if err != nil {
			return Result{}, err
		}

		var probe struct {
			Method string `json:"method"`
			Ok     *bool  `json:"ok"`
		}
		if err := json.Unmarshal(f, &probe); err != nil {
			return Result{}, err
		}

		if probe.Ok != nil {
			var finish proto.HandshakeFinish
			if err := json.Unmarshal(f, &finish); err != nil {
				return Result{}, err
			}
			if !finish.Ok {
				return Result{}, errors.New("auth: " + finish.Error)
			}
			var peerPub [32]byte
			copy(peerPub[:], finish.PublicKey)
			key, err := deriveSessionKey(priv, peerPub)
			if err != nil {
				return Result{}, err
			}
			return Result{Key: key, ConnectionKey: cfg.ConnectionKey}, nil
		}

		var challenge proto.Challenge
		if err := json.Unmarshal(f, &challenge); err != nil {
			return Result{}, err
		}
		if cfg.Respond == nil {
			return Result{}, errors.New("auth: server issued a challenge but client has no Respond configured")
		}
		data, err := cfg.Respond(challenge.Method, challenge.Data)
		if err != nil {
			return Result{}, err
		}
		if err := writeJSON(codec, deadline, &proto.ChallengeResponse{Data: data}); err != nil {
			return Result{}, err
		}
	}
}

func readFrame(codec *frame.Codec, deadline time.Time) ([]byte, error) {
	for {
		f, err := codec.TryReadFrame()
		if err != nil && err != frame.ErrWouldBlock {
			return nil, err
		}
		if err == nil && f == nil {
			return nil, io.ErrUnexpectedEOF
		}
		if f != nil {
			return f, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

// pickMethod returns the first verifier method that the client also offered,
// or "" if the verifier requires no method (None) or none match.
func pickMethod(serverMethods, clientMethods []string) string {
	if len(serverMethods) == 0 {
		return ""
	}
	offered := make(map[string]bool, len(clientMethods))
	for _, m := range clientMethods {
		offered[m] = true
	}
	for _, m := range serverMethods {
		if offered[m] {
			return m
		}
	}
	return ""
}
