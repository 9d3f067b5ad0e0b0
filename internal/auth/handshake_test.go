package auth

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distant-io/distant-go/internal/frame"
	"github.com/distant-io/distant-go/internal/keychain"
)

func codecPair(t *testing.T) (*frame.Codec, *frame.Codec) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var serverConn net.Conn
	accepted := make(chan struct{})
	go func() {
		serverConn, _ = ln.Accept()
		close(accepted)
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-accepted

	t.Cleanup(func() {
		clientConn.Close()
		if serverConn != nil {
			serverConn.Close()
		}
	})

	return frame.NewCodec(serverConn), frame.NewCodec(clientConn)
}

func TestHandshakeNoneVerifier(t *testing.T) {
	server, client := codecPair(t)
	kc := keychain.New()

	serverDone := make(chan Result, 1)
	serverErr := make(chan error, 1)
	go func() {
		res, err := Server(server, None{}, kc, "conn-1")
		serverErr <- err
		serverDone <- res
	}()

	clientRes, err := Client(client, ClientConfig{})
	require.NoError(t, err)

	require.NoError(t, <-serverErr)
	serverRes := <-serverDone

	require.Len(t, clientRes.Key, 32)
	require.Equal(t, serverRes.Key, clientRes.Key)
}

func TestHandshakeStaticKeySuccess(t *testing.T) {
	server, client := codecPair(t)
	kc := keychain.New()
	verifier := StaticKey{Key: []byte("shared-secret")}

	serverErr := make(chan error, 1)
	go func() {
		_, err := Server(server, verifier, kc, "conn-1")
		serverErr <- err
	}()

	clientRes, err := Client(client, ClientConfig{
		Methods: verifier.Methods(),
		Respond: func(method string, challenge []byte) ([]byte, error) {
			return verifier.Answer(challenge), nil
		},
	})
	require.NoError(t, err)
	require.Len(t, clientRes.Key, 32)
	require.NoError(t, <-serverErr)
}

func TestHandshakeStaticKeyWrongSecretFails(t *testing.T) {
	server, client := codecPair(t)
	kc := keychain.New()
	verifier := StaticKey{Key: []byte("shared-secret")}
	wrong := StaticKey{Key: []byte("wrong-secret")}

	serverErr := make(chan error, 1)
	go func() {
		_, err := Server(server, verifier, kc, "conn-1")
		serverErr <- err
	}()

	_, err := Client(client, ClientConfig{
		Methods: verifier.Methods(),
		Respond: func(method string, challenge []byte) ([]byte, error) {
			return wrong.Answer(challenge), nil
		},
	})
	require.Error(t, err)
	require.Error(t, <-serverErr)
}

func TestHandshakeReconnectDeliversBackup(t *testing.T) {
	server, client := codecPair(t)
	kc := keychain.New()
	send, _ := kc.Insert("returning-conn")
	send(keychain.Backup("last-seq:7"))

	serverDone := make(chan Result, 1)
	go func() {
		res, _ := Server(server, None{}, kc, "new-conn-id")
		serverDone <- res
	}()

	_, err := Client(client, ClientConfig{ConnectionKey: "returning-conn"})
	require.NoError(t, err)

	select {
	case res := <-serverDone:
		require.Equal(t, keychain.Backup("last-seq:7"), res.Backup)
	case <-time.After(time.Second):
		t.Fatal("server handshake did not complete")
	}
}
