package server

import (
	"crypto/rand"
	"encoding/hex"
)

// newConnectionKey mints the per-connection key a freshly-dialed
// connection registers itself under in the keychain, so a later reconnect
// can present it to recover this connection's Backup.
func newConnectionKey() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
