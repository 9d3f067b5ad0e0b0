package connection

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/stretchr/testify/require"

	"github.com/distant-io/distant-go/internal/auth"
	"github.com/distant-io/distant-go/internal/frame"
	"github.com/distant-io/distant-go/internal/keychain"
	"github.com/distant-io/distant-go/internal/transport"
	"github.com/distant-io/distant-go/internal/weakref"
)

type echoRequest struct {
	Text string `json:"text"`
}

type fakeRegistry struct {
	removed chan uint64
}

func (r *fakeRegistry) Remove(id uint64) int {
	r.removed <- id
	return 0
}

type fakeTimer struct {
	restarted chan int
}

func (t *fakeTimer) Cancel()              {}
func (t *fakeTimer) RestartIfEmpty(n int) { t.restarted <- n }

type echoHandler struct {
	accepted chan uint64
}

func (h *echoHandler) NewLocal() string { return "local-data" }

func (h *echoHandler) OnAccept(id uint64, local string) error {
	h.accepted <- id
	return nil
}

func (h *echoHandler) OnRequest(ctx *Context[string, echoRequest]) {
	_ = ctx.Reply.Send(ctx.Request.Payload)
}

func netPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, client
}

func TestConnectionEchoRoundTrip(t *testing.T) {
	serverConn, clientConn := netPair(t)

	handler := &echoHandler{accepted: make(chan uint64, 1)}
	strongHandler := weakref.NewStrong[Handler[string, echoRequest]](handler)
	registry := &fakeRegistry{removed: make(chan uint64, 1)}
	strongRegistry := weakref.NewStrong[Registry](registry)
	timer := &fakeTimer{restarted: make(chan int, 1)}
	strongTimer := weakref.NewStrong[Timer](timer)
	verifier := auth.None{}
	strongVerifier := weakref.NewStrong[auth.Verifier](verifier)

	task := Build[string, echoRequest](Builder[string, echoRequest]{
		Conn:          serverConn,
		Handler:       strongHandler.Weak(),
		Registry:      strongRegistry.Weak(),
		Timer:         strongTimer.Weak(),
		Verifier:      strongVerifier.Weak(),
		Keychain:      keychain.New(),
		Logger:        log.Root(),
		SleepDuration: time.Millisecond,
	})

	runDone := make(chan error, 1)
	go func() { runDone <- task.Run() }()

	clientResult, err := auth.Client(frame.NewCodec(clientConn), auth.ClientConfig{})
	require.NoError(t, err)
	require.Len(t, clientResult.Key, 32)

	select {
	case id := <-handler.accepted:
		require.Equal(t, task.ID(), id)
	case <-time.After(time.Second):
		t.Fatal("on_accept was never called")
	}

	clientTransport, err := transport.New(clientConn, clientResult.Key)
	require.NoError(t, err)

	req := struct {
		Id      string      `json:"id"`
		Payload echoRequest `json:"payload"`
	}{Id: "r1", Payload: echoRequest{Text: "hello"}}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return clientTransport.TryWriteFrame(payload) == nil
	}, time.Second, time.Millisecond)

	var resp struct {
		Id       string      `json:"id"`
		OriginId string      `json:"origin_id"`
		Payload  echoRequest `json:"payload"`
	}
	require.Eventually(t, func() bool {
		f, err := clientTransport.TryReadFrame()
		if err == transport.ErrWouldBlock {
			return false
		}
		require.NoError(t, err)
		if f == nil {
			return false
		}
		require.NoError(t, json.Unmarshal(f, &resp))
		return true
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, "r1", resp.OriginId)
	require.Equal(t, "hello", resp.Payload.Text)

	task.Abort()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("task.Run did not return after Abort")
	}

	select {
	case id := <-registry.removed:
		require.Equal(t, task.ID(), id)
	case <-time.After(time.Second):
		t.Fatal("registry.Remove was never called")
	}
}

func TestConnectionHandlerDroppedDuringAccept(t *testing.T) {
	serverConn, clientConn := netPair(t)
	defer clientConn.Close()

	strongHandler := weakref.NewStrong[Handler[string, echoRequest]](&echoHandler{accepted: make(chan uint64, 1)})
	strongHandler.Drop() // simulate the handler already gone before accept completes

	registry := &fakeRegistry{removed: make(chan uint64, 1)}
	strongRegistry := weakref.NewStrong[Registry](registry)
	timer := &fakeTimer{restarted: make(chan int, 1)}
	strongTimer := weakref.NewStrong[Timer](timer)
	strongVerifier := weakref.NewStrong[auth.Verifier](auth.None{})

	task := Build[string, echoRequest](Builder[string, echoRequest]{
		Conn:          serverConn,
		Handler:       strongHandler.Weak(),
		Registry:      strongRegistry.Weak(),
		Timer:         strongTimer.Weak(),
		Verifier:      strongVerifier.Weak(),
		Keychain:      keychain.New(),
		Logger:        log.Root(),
		SleepDuration: time.Millisecond,
	})

	runDone := make(chan error, 1)
	go func() { runDone <- task.Run() }()

	_, err := auth.Client(frame.NewCodec(clientConn), auth.ClientConfig{})
	require.NoError(t, err)

	select {
	case err := <-runDone:
		require.Error(t, err)
		require.Contains(t, err.Error(), "handler has been dropped")
	case <-time.After(time.Second):
		t.Fatal("task.Run did not return")
	}
}
