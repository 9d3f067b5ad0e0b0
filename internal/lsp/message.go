// Package lsp implements the reframing layer that sits between a spawned
// process's stdio and the connection that owns it (component I): it parses
// Content-Length-delimited LSP messages out of an arbitrarily chunked byte
// stream, rewrites distant:// / file:// URI schemes, and re-serializes a
// corrected Content-Length header when rewriting changes the body's byte
// length.
package lsp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const headerSep = "\r\n\r\n"

const contentLengthHeader = "Content-Length"

// Message is one parsed LSP message: its headers in parse order (the parsed
// Content-Length included; Bytes skips it and derives the value from
// len(Body) instead) and its raw JSON body.
type Message struct {
	Headers []Header
	Body    []byte
}

// Header is a single LSP frame header line, preserved verbatim except for
// Content-Length which Bytes regenerates from the body length.
type Header struct {
	Name  string
	Value string
}

// Bytes serializes the message back into wire form, recomputing
// Content-Length from the current body length so a rewrite that changes
// byte length still produces a correctly framed message.
func (m Message) Bytes() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: %d\r\n", contentLengthHeader, len(m.Body))
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, contentLengthHeader) {
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf.WriteString("\r\n")
	buf.Write(m.Body)
	return buf.Bytes()
}

// parseHeaders splits the bytes above a \r\n\r\n boundary into Header
// lines and returns the declared Content-Length.
func parseHeaders(raw []byte) ([]Header, int, error) {
	var headers []Header
	length := -1
	for _, line := range strings.Split(string(raw), "\r\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, 0, fmt.Errorf("lsp: malformed header line %q", line)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		headers = append(headers, Header{Name: name, Value: value})
		if strings.EqualFold(name, contentLengthHeader) {
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, 0, fmt.Errorf("lsp: invalid Content-Length %q: %w", value, err)
			}
			length = n
		}
	}
	if length < 0 {
		return nil, 0, fmt.Errorf("lsp: missing Content-Length header")
	}
	return headers, length, nil
}
