package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distant-io/distant-go/internal/auth"
	"github.com/distant-io/distant-go/internal/connection"
	"github.com/distant-io/distant-go/internal/frame"
	"github.com/distant-io/distant-go/internal/transport"
)

type echoReq struct {
	Text string `json:"text"`
}

type echoHandler struct{}

func (echoHandler) NewLocal() struct{} { return struct{}{} }
func (echoHandler) OnAccept(uint64, struct{}) error { return nil }
func (echoHandler) OnRequest(ctx *connection.Context[struct{}, echoReq]) {
	_ = ctx.Reply.Send(ctx.Request.Payload)
}

func dialHandshake(t *testing.T, addr string) (net.Conn, []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	res, err := auth.Client(frame.NewCodec(conn), auth.ClientConfig{})
	require.NoError(t, err)
	return conn, res.Key
}

func TestServerServesOneConnectionEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New[struct{}, echoReq](Config[struct{}, echoReq]{
		Handler:       echoHandler{},
		SleepDuration: time.Millisecond,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	conn, key := dialHandshake(t, ln.Addr().String())
	defer conn.Close()

	tp, err := transport.New(conn, key)
	require.NoError(t, err)

	req := struct {
		Id      string  `json:"id"`
		Payload echoReq `json:"payload"`
	}{Id: "r1", Payload: echoReq{Text: "hi"}}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tp.TryWriteFrame(payload) == nil
	}, time.Second, time.Millisecond)

	var resp struct {
		OriginId string  `json:"origin_id"`
		Payload  echoReq `json:"payload"`
	}
	require.Eventually(t, func() bool {
		f, err := tp.TryReadFrame()
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
	require.Equal(t, "hi", resp.Payload.Text)

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx, ln))

	select {
	case err := <-serveErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestServerRejectsWrongStaticKey(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New[struct{}, echoReq](Config[struct{}, echoReq]{
		Handler:       echoHandler{},
		Verifier:      auth.StaticKey{Key: []byte("correct")},
		SleepDuration: time.Millisecond,
	})
	go srv.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	wrong := auth.StaticKey{Key: []byte("incorrect")}
	_, err = auth.Client(frame.NewCodec(conn), auth.ClientConfig{
		Methods: []string{"static_key"},
		Respond: func(method string, challenge []byte) ([]byte, error) {
			return wrong.Answer(challenge), nil
		},
	})
	require.Error(t, err)

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, time.Second, time.Millisecond)
}

func TestShutdownTimerAfterIdleFiresWhenEmpty(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New[struct{}, echoReq](Config[struct{}, echoReq]{
		Handler:       echoHandler{},
		Shutdown:      AfterIdle(50 * time.Millisecond),
		SleepDuration: time.Millisecond,
	})
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	conn, _ := dialHandshake(t, ln.Addr().String())
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, time.Second, time.Millisecond)

	select {
	case err := <-serveErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after the idle timeout elapsed")
	}
}

func TestShutdownTimerAfterIdleCancelledByNewAccept(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New[struct{}, echoReq](Config[struct{}, echoReq]{
		Handler:       echoHandler{},
		Shutdown:      AfterIdle(80 * time.Millisecond),
		SleepDuration: time.Millisecond,
	})
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	first, _ := dialHandshake(t, ln.Addr().String())
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, time.Millisecond)
	first.Close()
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, time.Second, time.Millisecond)

	// Dial again before the idle window elapses: this must cancel the
	// pending shutdown, so the server is still serving afterward.
	time.Sleep(20 * time.Millisecond)
	second, _ := dialHandshake(t, ln.Addr().String())
	defer second.Close()
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, time.Millisecond)

	select {
	case err := <-serveErr:
		t.Fatalf("server shut down even though a new connection cancelled the idle timer: %v", err)
	case <-time.After(150 * time.Millisecond):
	}
}
