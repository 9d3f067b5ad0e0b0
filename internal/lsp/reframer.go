package lsp

import "bytes"

// Reframer is a reassembly buffer for one direction of LSP traffic (stdin,
// stdout, or stderr). Feed accumulates arbitrarily chunked bytes and
// returns every complete message the buffer now contains, retaining any
// trailing partial message for the next call — matching the original
// implementation's buffer-takes-and-restores-remainder loop in
// client/lsp/mod.rs, generalized from that file's String-typed buffer to a
// plain []byte buffer so it can sit in front of any io.Reader-backed
// stdio stream, not just one assumed to be valid UTF-8.
type Reframer struct {
	buf []byte
}

// NewReframer returns an empty Reframer.
func NewReframer() *Reframer {
	return &Reframer{}
}

// Feed appends chunk to the internal buffer and extracts every complete
// message now available. A partial message at the end of the buffer is
// never returned; it remains buffered until Feed is called again with its
// continuation.
func (r *Reframer) Feed(chunk []byte) ([]Message, error) {
	r.buf = append(r.buf, chunk...)

	var out []Message
	for {
		sep := bytes.Index(r.buf, []byte(headerSep))
		if sep < 0 {
			break
		}
		headerEnd := sep + len(headerSep)
		headers, length, err := parseHeaders(r.buf[:sep])
		if err != nil {
			return out, err
		}
		if len(r.buf) < headerEnd+length {
			break
		}
		body := make([]byte, length)
		copy(body, r.buf[headerEnd:headerEnd+length])
		out = append(out, Message{Headers: headers, Body: body})
		r.buf = r.buf[headerEnd+length:]
	}
	return out, nil
}

