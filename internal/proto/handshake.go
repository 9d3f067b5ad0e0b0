package proto

// HandshakeInit is the first message a connecting peer sends. ConnectionKey
// is empty for a brand new connection and non-empty when the peer is trying
// to reattach to a connection it dropped, in which case the server consults
// its keychain for a matching Backup.
type HandshakeInit struct {
	ConnectionKey string   `json:"connection_key"`
	Methods       []string `json:"methods"`    // auth methods the peer is willing to use
	PublicKey     []byte   `json:"public_key"` // X25519 ephemeral public key
}

// Challenge is sent by the server after HandshakeInit when its verifier
// runs a challenge step (such as StaticKey's), naming the method it picked
// from the peer's offered Methods and any data needed to answer it (e.g. a
// nonce to sign).
type Challenge struct {
	Method string `json:"method"`
	Data   []byte `json:"data"`
}

// ChallengeResponse answers a Challenge.
type ChallengeResponse struct {
	Data []byte `json:"data"`
}

// HandshakeFinish is the server's final word on the handshake. On success,
// PublicKey carries the server's ephemeral key (auth.Server leaves
// ConnectionId unset) and the connection is promoted to Accepted; on
// failure Error is non-empty and the connection terminates.
type HandshakeFinish struct {
	Ok           bool   `json:"ok"`
	ConnectionId uint64 `json:"connection_id,omitempty"`
	PublicKey    []byte `json:"public_key,omitempty"` // server's X25519 ephemeral public key
	Error        string `json:"error,omitempty"`
}
