package lsp

// Stdin reframes and rewrites a single direction of LSP traffic: client
// bytes arriving for a spawned process's stdin. Write accumulates chunks
// and returns the exact bytes to forward to the process's real stdin —
// zero or more complete, rewritten LSP messages; never a partial one.
type Stdin struct {
	reframer *Reframer
}

// NewStdin returns a Stdin proxy with an empty reassembly buffer.
func NewStdin() *Stdin {
	return &Stdin{reframer: NewReframer()}
}

// Write feeds chunk (arbitrary-size, arbitrarily split) into the
// reassembly buffer and returns the serialized bytes of every complete
// message extracted, each with its distant:// URIs rewritten to file://.
func (s *Stdin) Write(chunk []byte) ([]byte, error) {
	messages, err := s.reframer.Feed(chunk)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, m := range messages {
		out = append(out, RewriteOutbound(m).Bytes()...)
	}
	return out, nil
}

// Stdout reframes and rewrites the process's stdout before it reaches the
// client, the mirror of Stdin.
type Stdout struct {
	reframer *Reframer
}

// NewStdout returns a Stdout proxy with an empty reassembly buffer.
func NewStdout() *Stdout {
	return &Stdout{reframer: NewReframer()}
}

// Read feeds chunk into the reassembly buffer and returns the serialized
// bytes of every complete message extracted, each with its file:// URIs
// rewritten back to distant://.
func (s *Stdout) Read(chunk []byte) ([]byte, error) {
	messages, err := s.reframer.Feed(chunk)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, m := range messages {
		out = append(out, RewriteInbound(m).Bytes()...)
	}
	return out, nil
}

// Stderr reframes and rewrites the process's stderr before it reaches the
// client. LSP servers rarely emit framed messages on stderr, but spec.md
// §4.I gives stderr its own reassembly buffer identically to stdout, so a
// server that does is still handled correctly.
type Stderr struct {
	reframer *Reframer
}

// NewStderr returns a Stderr proxy with an empty reassembly buffer.
func NewStderr() *Stderr {
	return &Stderr{reframer: NewReframer()}
}

// Read feeds chunk into the reassembly buffer and returns the serialized
// bytes of every complete message extracted, rewritten inbound.
func (s *Stderr) Read(chunk []byte) ([]byte, error) {
	messages, err := s.reframer.Feed(chunk)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, m := range messages {
		out = append(out, RewriteInbound(m).Bytes()...)
	}
	return out, nil
}
