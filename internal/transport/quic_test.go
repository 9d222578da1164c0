package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umi3d/umisync/internal/core/observability/log"
)

func quicPair(t *testing.T, opts Options) (client, server *QUICConn) {
	t.Helper()
	tlsConf, err := GenerateSelfSignedTLS()
	require.NoError(t, err)

	ln, err := ListenQUIC("127.0.0.1:0", tlsConf, opts, log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan *QUICConn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = DialQUIC(ctx, ln.Addr().String(), InsecureClientTLS(), opts, log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	server, ok := <-accepted
	require.True(t, ok, "listener did not accept")
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}

func TestQUICReliableFramesKeepOrder(t *testing.T) {
	client, server := quicPair(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := byte(0); i < 10; i++ {
		require.NoError(t, client.Send(ctx, NewFrame([]byte{i}, true, false)))
	}
	for i := byte(0); i < 10; i++ {
		f, err := server.Receive(ctx)
		require.NoError(t, err)
		assert.True(t, f.Flags.Reliable())
		assert.Equal(t, []byte{i}, f.Payload)
	}
	assert.Equal(t, TransportQUIC, server.Transport())
}

func TestQUICUnreliableFrameArrives(t *testing.T) {
	client, server := quicPair(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, server.Send(ctx, NewFrame([]byte("pose"), false, false)))
	f, err := client.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, f.Flags.Reliable())
	assert.Equal(t, []byte("pose"), f.Payload)
}

func TestQUICOversizedUnreliableFrameFallsBackToStream(t *testing.T) {
	client, server := quicPair(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	big := make([]byte, 64<<10)
	big[len(big)-1] = 1
	require.NoError(t, client.Send(ctx, NewFrame(big, false, false)))
	f, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, big, f.Payload)
}

func TestQUICClose(t *testing.T) {
	client, server := quicPair(t, DefaultOptions())

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send(context.Background(), NewFrame(nil, true, false)), ErrConnectionClosed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := server.Receive(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestListenQUICNeedsCertificate(t *testing.T) {
	_, err := ListenQUIC("127.0.0.1:0", nil, DefaultOptions(), log.NewNop())
	assert.Error(t, err)
}
