package connection

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
)

// newID mints a random correlation token, used for response ids and as the
// connection id's string form where one is needed in logs.
func newID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// newConnectionID mints a 64-bit random connection identifier. It is never
// reused while the connection it names is alive; collisions across the
// lifetime of a long-running server are accepted as negligible at this
// width, same tradeoff the keychain's connection keys make.
func newConnectionID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
