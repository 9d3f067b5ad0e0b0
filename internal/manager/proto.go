package manager

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/hashicorp/yamux"
)

// streamType tags a yamux stream so the remote side knows how to interpret
// it without a separate handshake per stream. yamux itself has no notion
// of a typed stream (unlike the in-tree multiplexer this package used to
// vendor), so openTypedStream/acceptTypedStream below write/read a 4-byte
// big-endian tag as the first bytes of the stream — the same idiom
// internal/tunnel/client/raw_session.go uses for its Auth/Listen/Unlisten
// RPCs (proto.ReqType tagging a stream), just inlined here instead of
// relying on a muxado-specific TypedStreamSession wrapper.
type streamType uint32

const (
	// streamTypeChannel is an opaque byte-stream channel opened by
	// open_channel; the manager does not interpret its contents.
	streamTypeChannel streamType = iota
	// streamTypeLaunch carries one LaunchRequest/LaunchResponse RPC.
	streamTypeLaunch
)

// openTypedStream opens a fresh stream on sess and tags it with st by
// writing a 4-byte big-endian header before any payload.
func openTypedStream(sess *yamux.Session, st streamType) (net.Conn, error) {
	stream, err := sess.OpenStream()
	if err != nil {
		return nil, err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(st))
	if _, err := stream.Write(hdr[:]); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

// acceptTypedStream accepts the next stream on sess and reads back its
// 4-byte type tag, the accept-side counterpart to openTypedStream.
func acceptTypedStream(sess *yamux.Session) (net.Conn, streamType, error) {
	stream, err := sess.AcceptStream()
	if err != nil {
		return nil, 0, err
	}
	var hdr [4]byte
	if _, err := io.ReadFull(stream, hdr[:]); err != nil {
		stream.Close()
		return nil, 0, err
	}
	return stream, streamType(binary.BigEndian.Uint32(hdr[:])), nil
}

// LaunchRequest asks a remote distant server to spawn a fresh server
// process and report where to reach it, per spec.md §4.J's "launch(destination,
// extras) -> new-destination".
type LaunchRequest struct {
	Extra map[string]string `json:"extra,omitempty"`
}

// LaunchResponse carries the newly spawned server's contact destination.
type LaunchResponse struct {
	Destination string `json:"destination"`
	Error       string `json:"error,omitempty"`
}
