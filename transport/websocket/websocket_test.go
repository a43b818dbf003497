package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badaboda/mochevent/internal/runtime/config"
	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	"github.com/badaboda/mochevent/transport"
)

var upgrader = websocket.Upgrader{Subprotocols: []string{Subprotocol}}

// echoServer upgrades requests carrying the right bearer token and echoes
// binary messages back.
func echoServer(t *testing.T, secret string, onConn func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+secret {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if onConn != nil {
			onConn(conn)
			return
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendRecvEcho(t *testing.T) {
	url := echoServer(t, "s3cret", nil)
	link, err := Dial(context.Background(), Options{URL: url, NodeName: "gw@host", Secret: "s3cret"}, nil)
	require.NoError(t, err)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, link.Send(ctx, []byte{131, 106}))
	frame, err := link.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{131, 106}, frame)
	assert.Equal(t, "gw@host", link.Identity().Node)
}

func TestDialRejectedUpgrade(t *testing.T) {
	url := echoServer(t, "s3cret", nil)
	_, err := Dial(context.Background(), Options{URL: url, Secret: "wrong"}, nil)
	require.ErrorIs(t, err, errspkg.ErrHandshakeFailure)
	assert.Contains(t, err.Error(), "403")
}

func TestDialRequiresURL(t *testing.T) {
	_, err := Dial(context.Background(), Options{}, nil)
	assert.ErrorIs(t, err, errspkg.ErrHandshakeFailure)
}

func TestPongIsTick(t *testing.T) {
	url := echoServer(t, "s3cret", nil)
	link, err := Dial(context.Background(), Options{URL: url, Secret: "s3cret", PingInterval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := link.Recv(ctx)
	require.NoError(t, err)
	assert.Empty(t, frame)
}

func TestTextMessagesIgnored(t *testing.T) {
	url := echoServer(t, "s3cret", func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{131, 97, 1})
		_, _, _ = conn.ReadMessage()
	})
	link, err := Dial(context.Background(), Options{URL: url, Secret: "s3cret"}, nil)
	require.NoError(t, err)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := link.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{131, 97, 1}, frame)
}

func TestRecvConnectionLost(t *testing.T) {
	url := echoServer(t, "s3cret", func(conn *websocket.Conn) {})
	link, err := Dial(context.Background(), Options{URL: url, Secret: "s3cret"}, nil)
	require.NoError(t, err)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = link.Recv(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecvHonoursContext(t *testing.T) {
	url := echoServer(t, "s3cret", nil)
	link, err := Dial(context.Background(), Options{URL: url, Secret: "s3cret"}, nil)
	require.NoError(t, err)
	defer link.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = link.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	url := echoServer(t, "s3cret", nil)
	link, err := Dial(context.Background(), Options{URL: url, Secret: "s3cret"}, nil)
	require.NoError(t, err)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())
	assert.ErrorIs(t, link.Send(context.Background(), []byte{1}), ErrClosed)
	_, err = link.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBuildFromConfig(t *testing.T) {
	url := echoServer(t, "cookie", nil)
	cfg := &config.Config{
		Backend:         TransportName,
		NodeName:        "gw@host",
		Cookie:          "cookie",
		WebSocketURL:    url,
		ConnectAttempts: 1,
	}

	link, err := transport.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer link.Close()
	assert.Equal(t, "gw@host", link.Identity().Node)
	assert.True(t, Capabilities().SupportsTicks)
}
