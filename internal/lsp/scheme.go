package lsp

import "bytes"

const (
	distantScheme = "distant://"
	fileScheme    = "file://"
)

// RewriteOutbound rewrites a message body headed from the client to the
// spawned process: every distant:// URI becomes file://, the scheme the
// process's own LSP implementation expects to resolve on the local
// filesystem. Matches original_source/core/src/client/lsp/mod.rs's
// convert_distant_scheme_to_local, generalized from that file's
// JSON-model-aware rewrite to the same naive substring replacement spec.md
// §4.I and its Open Question both call out explicitly as the preserved
// upstream behavior (a JSON-aware walker would avoid false positives
// inside string literals that coincidentally contain the substring, but
// the spec follows the original's choice, not a corrected one).
func RewriteOutbound(m Message) Message {
	return rewrite(m, distantScheme, fileScheme)
}

// RewriteInbound rewrites a message body headed from the process back to
// the client: every file:// URI becomes distant://, the inverse of
// RewriteOutbound. The composition RewriteInbound(RewriteOutbound(m)) is
// the identity on m's body whenever that body contains no "file://"
// substring to begin with.
func RewriteInbound(m Message) Message {
	return rewrite(m, fileScheme, distantScheme)
}

func rewrite(m Message, from, to string) Message {
	if !bytes.Contains(m.Body, []byte(from)) {
		return m
	}
	body := bytes.ReplaceAll(m.Body, []byte(from), []byte(to))
	return Message{Headers: m.Headers, Body: body}
}
