package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umi3d/umisync/internal/core/observability/log"
)

// echoServer sends every received frame back with the same flags.
func echoServer(t *testing.T, opts Options) string {
	t.Helper()
	up := NewWebsocketUpgrader(opts, nil, log.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx := context.Background()
		for {
			f, err := conn.Receive(ctx)
			if err != nil {
				return
			}
			if err := conn.Send(ctx, f); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketEcho(t *testing.T) {
	url := echoServer(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := DialWebsocket(ctx, url, DefaultOptions(), log.NewNop())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, TransportWebsocket, conn.Transport())
	assert.NotEmpty(t, conn.ID())

	sent := NewFrame([]byte{7, 8, 9}, true, false)
	require.NoError(t, conn.Send(ctx, sent))
	got, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent.Flags, got.Flags)
	assert.Equal(t, sent.Payload, got.Payload)
}

func TestWebsocketSkipsControlFrames(t *testing.T) {
	url := echoServer(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := DialWebsocket(ctx, url, DefaultOptions(), log.NewNop())
	require.NoError(t, err)
	defer conn.Close()

	// the server drops the control frame, so only the data frame comes back
	require.NoError(t, conn.Send(ctx, Frame{Flags: FlagControl}))
	require.NoError(t, conn.Send(ctx, NewFrame([]byte("data"), false, true)))
	got, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, got.Flags.Object())
	assert.Equal(t, []byte("data"), got.Payload)
}

func TestWebsocketSendRejectsOversizedFrame(t *testing.T) {
	url := echoServer(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := DialWebsocket(ctx, url, Options{MaxFrameSize: 8}, log.NewNop())
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send(ctx, NewFrame(make([]byte, 9), true, false))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWebsocketReceiveHonoursContext(t *testing.T) {
	url := echoServer(t, DefaultOptions())
	conn, err := DialWebsocket(context.Background(), url, DefaultOptions(), log.NewNop())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebsocketClosedConn(t *testing.T) {
	url := echoServer(t, DefaultOptions())
	conn, err := DialWebsocket(context.Background(), url, DefaultOptions(), log.NewNop())
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(context.Background(), NewFrame(nil, true, false)), ErrConnectionClosed)
	_, err = conn.Receive(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebsocketUpgraderChecksOrigin(t *testing.T) {
	up := NewWebsocketUpgrader(DefaultOptions(), []string{"https://allowed.example"}, log.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conn, err := up.Upgrade(w, r); err == nil {
			_ = conn.Close()
		}
	}))
	defer srv.Close()

	_, err := DialWebsocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), DefaultOptions(), log.NewNop())
	assert.Error(t, err)
}
