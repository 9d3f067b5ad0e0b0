package lsp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func frame(body string) []byte {
	return Message{Body: []byte(body)}.Bytes()
}

func TestFeedCompleteMessagesInOneWriteYieldsExactCount(t *testing.T) {
	r := NewReframer()
	input := append(frame(`{"a":1}`), frame(`{"b":2}`)...)
	input = append(input, frame(`{"c":3}`)...)

	msgs, err := r.Feed(input)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, `{"a":1}`, string(msgs[0].Body))
	require.Equal(t, `{"b":2}`, string(msgs[1].Body))
	require.Equal(t, `{"c":3}`, string(msgs[2].Body))
}

func TestFeedSplitAcrossChunksYieldsOneMessage(t *testing.T) {
	r := NewReframer()
	full := frame(`{"jsonrpc":"2.0"}`)
	mid := len(full) / 2

	msgs, err := r.Feed(full[:mid])
	require.NoError(t, err)
	require.Empty(t, msgs)

	msgs, err = r.Feed(full[mid:])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, `{"jsonrpc":"2.0"}`, string(msgs[0].Body))
}

func TestFeedSplitWithDelayMirrorsScenarioS5(t *testing.T) {
	r := NewReframer()
	body := `{"jsonrpc":"2.0"}`
	full := frame(body)
	require.Equal(t, len(body), 17)

	half := len(full) / 2
	msgs, err := r.Feed(full[:half])
	require.NoError(t, err)
	require.Empty(t, msgs)

	time.Sleep(10 * time.Millisecond)

	msgs, err = r.Feed(full[half:])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, body, string(msgs[0].Body))
}

func TestFeedRetainsTrailingBytesForNextCall(t *testing.T) {
	r := NewReframer()
	first := frame(`{"a":1}`)
	second := frame(`{"b":2}`)

	input := append(append([]byte{}, first...), second[:len(second)-3]...)
	msgs, err := r.Feed(input)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, err = r.Feed(second[len(second)-3:])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, `{"b":2}`, string(msgs[0].Body))
}

func TestOtherHeadersArePreservedVerbatim(t *testing.T) {
	r := NewReframer()
	raw := "Content-Length: 2\r\nContent-Type: application/vscode-jsonrpc\r\n\r\n{}"
	msgs, err := r.Feed([]byte(raw))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Headers, 2)
	require.Equal(t, "Content-Type", msgs[0].Headers[1].Name)
	require.Equal(t, "application/vscode-jsonrpc", msgs[0].Headers[1].Value)
}
