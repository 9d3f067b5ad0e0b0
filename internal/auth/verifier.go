// Package auth implements the handshake that promotes a raw frame.Codec
// into an authenticated, encrypted session: a Verifier decides whether a
// peer may proceed, and the handshake derives the per-connection AEAD key
// that internal/transport uses afterward.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/distant-io/distant-go/internal/pb"
)

// Verifier decides whether a connecting peer is allowed to proceed, and if
// so, how. It is consulted exactly once per connection, during the
// handshake; failure here terminates the connection before any application
// request is accepted.
type Verifier interface {
	// Methods lists the authentication methods this verifier is willing to
	// run, in preference order. An empty list (None) means "accept
	// anything, no challenge needed."
	Methods() []string

	// Challenge returns the bytes to send as a Challenge for method, or
	// nil if no challenge step is required.
	Challenge(method string) ([]byte, error)

	// Verify checks a peer's response to a Challenge for method. It is
	// only called when Challenge returned non-nil data.
	Verify(method string, challenge, response []byte) error
}

// None accepts any peer without a challenge step.
type None struct{}

func (None) Methods() []string { return nil }
func (None) Challenge(string) ([]byte, error) {
	return nil, nil
}
func (None) Verify(string, []byte, []byte) error { return nil }

// ErrVerificationFailed is returned by Verify when a peer's response does
// not match what was expected.
var ErrVerificationFailed = errors.New("auth: verification failed")

// StaticKey requires the peer to prove possession of a pre-shared key by
// answering an HMAC-SHA256 challenge over a random nonce.
type StaticKey struct {
	Key []byte
}

// String implements fmt.Stringer so that logging or formatting a StaticKey
// (e.g. "%+v" on a Config that embeds one) never prints the raw secret.
func (s StaticKey) String() string {
	return fmt.Sprintf("StaticKey{Key: %s}", pb.ObfuscatedString(s.Key))
}

func (StaticKey) Methods() []string { return []string{"static_key"} }

func (s StaticKey) Challenge(method string) ([]byte, error) {
	if method != "static_key" {
		return nil, errors.New("auth: unsupported method")
	}
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

func (s StaticKey) Verify(method string, challenge, response []byte) error {
	if method != "static_key" {
		return errors.New("auth: unsupported method")
	}
	mac := hmac.New(sha256.New, s.Key)
	mac.Write(challenge)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, response) {
		return ErrVerificationFailed
	}
	return nil
}

// Answer computes the response a StaticKey-holding client sends back for a
// challenge, the mirror image of Verify.
func (s StaticKey) Answer(challenge []byte) []byte {
	mac := hmac.New(sha256.New, s.Key)
	mac.Write(challenge)
	return mac.Sum(nil)
}

// PromptMethod is one named challenge/response pair a Prompt verifier can
// offer, e.g. a password or an external token check.
type PromptMethod struct {
	Name      string
	Challenge func() ([]byte, error)
	Verify    func(challenge, response []byte) error
}

// Prompt offers the peer a choice of methods, each independently
// challenged and verified. The peer picks the first method in Methods() it
// supports.
type Prompt struct {
	methods []PromptMethod
}

func NewPrompt(methods ...PromptMethod) Prompt {
	return Prompt{methods: methods}
}

func (p Prompt) Methods() []string {
	names := make([]string, len(p.methods))
	for i, m := range p.methods {
		names[i] = m.Name
	}
	return names
}

func (p Prompt) find(method string) (PromptMethod, bool) {
	for _, m := range p.methods {
		if m.Name == method {
			return m, true
		}
	}
	return PromptMethod{}, false
}

func (p Prompt) Challenge(method string) ([]byte, error) {
	m, ok := p.find(method)
	if !ok {
		return nil, errors.New("auth: unsupported method")
	}
	return m.Challenge()
}

func (p Prompt) Verify(method string, challenge, response []byte) error {
	m, ok := p.find(method)
	if !ok {
		return errors.New("auth: unsupported method")
	}
	return m.Verify(challenge, response)
}
