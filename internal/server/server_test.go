package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/umi3d/umisync/internal/core/dto"
	"github.com/umi3d/umisync/internal/core/events/bus"
	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/operation"
	"github.com/umi3d/umisync/internal/transport"
)

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	config := DefaultConfig()
	config.SendTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&config)
	}
	s, err := New(config, log.NewNop(), bus.New())
	require.NoError(t, err)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Close(context.Background())
		hs.Close()
	})
	return s, "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *transport.WebsocketConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.DialWebsocket(ctx, url, transport.DefaultOptions(), log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receiveTx(t *testing.T, conn transport.Conn) *operation.Transaction {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := conn.Receive(ctx)
	require.NoError(t, err)
	tx, err := operation.DecodeTransaction(f.Payload)
	require.NoError(t, err)
	return tx
}

func waitPeers(t *testing.T, env *Environment, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(env.Peers()) == n }, 5*time.Second, 10*time.Millisecond)
}

func TestJoinReceivesSnapshot(t *testing.T) {
	s, url := newTestServer(t, nil)
	env, err := s.Environment("room")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, env.Publish(ctx, operation.NewTransaction(true,
		operation.Load(dto.NewEntityDto(2, dto.DtypeNode)),
		operation.Load(dto.NewEntityDto(1, dto.DtypeMaterial)),
		operation.Set(1, dto.PropertyName, dto.String("steel")),
	)))

	conn := dial(t, url+"?env=room")
	tx := receiveTx(t, conn)
	require.Equal(t, 2, tx.Len())
	assert.True(t, tx.Reliable)

	first, ok := tx.Operations[0].(*operation.LoadEntity)
	require.True(t, ok)
	assert.Equal(t, uint64(1), first.Entity.ID)
	name, ok := first.Entity.Property(dto.PropertyName)
	require.True(t, ok)
	assert.True(t, name.Equal(dto.String("steel")))

	second, ok := tx.Operations[1].(*operation.LoadEntity)
	require.True(t, ok)
	assert.Equal(t, uint64(2), second.Entity.ID)
}

func TestPublishBroadcastsToEveryPeer(t *testing.T) {
	s, url := newTestServer(t, nil)
	env, err := s.Environment("default")
	require.NoError(t, err)

	a := dial(t, url)
	b := dial(t, url)
	waitPeers(t, env, 2)

	tx := operation.NewTransaction(false, operation.Load(dto.NewEntityDto(5, dto.DtypeNode)))
	require.NoError(t, env.Publish(context.Background(), tx))

	for _, conn := range []transport.Conn{a, b} {
		got := receiveTx(t, conn)
		assert.False(t, got.Reliable)
		require.Equal(t, 1, got.Len())
		assert.Equal(t, operation.KindLoadEntity, got.Operations[0].Kind())
	}
	_, err = env.Registry().Get(5)
	assert.NoError(t, err)
}

func TestPeerTransactionIsAppliedAndRelayed(t *testing.T) {
	s, url := newTestServer(t, nil)
	env, err := s.Environment("default")
	require.NoError(t, err)
	require.NoError(t, env.Publish(context.Background(), operation.NewTransaction(true,
		operation.Load(dto.NewEntityDto(42, dto.DtypeNode)))))

	a := dial(t, url)
	b := dial(t, url)
	receiveTx(t, a)
	receiveTx(t, b)
	waitPeers(t, env, 2)

	set := operation.NewTransaction(true, operation.Set(42, 7, dto.Float32(3.14)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Send(ctx, transport.NewFrame(set.ToBytes(), true, false)))

	got := receiveTx(t, b)
	require.Equal(t, 1, got.Len())
	op, ok := got.Operations[0].(*operation.SetEntityProperty)
	require.True(t, ok)
	assert.Equal(t, uint64(42), op.EntityID)

	e, err := env.Registry().Get(42)
	require.NoError(t, err)
	v, ok := e.Property(7)
	require.True(t, ok)
	assert.True(t, v.Equal(dto.Float32(3.14)))
}

func TestObjectFormIsRelayed(t *testing.T) {
	s, url := newTestServer(t, nil)
	env, err := s.Environment("default")
	require.NoError(t, err)

	a := dial(t, url)
	b := dial(t, url)
	waitPeers(t, env, 2)

	data, err := operation.MarshalTransactionJSON(operation.NewTransaction(true,
		operation.Load(dto.NewEntityDto(9, dto.DtypeTool))))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Send(ctx, transport.NewFrame(data, true, true)))

	f, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, f.Flags.Object())
	assert.JSONEq(t, string(data), string(f.Payload))
	_, err = env.Registry().Get(9)
	assert.NoError(t, err)
}

func TestTokenAuth(t *testing.T) {
	_, url := newTestServer(t, func(c *Config) { c.AuthTokens = []string{"secret"} })

	_, err := transport.DialWebsocket(context.Background(), url, transport.DefaultOptions(), log.NewNop())
	assert.Error(t, err)
	_, err = transport.DialWebsocket(context.Background(), url+"?token=wrong", transport.DefaultOptions(), log.NewNop())
	assert.Error(t, err)

	dial(t, url+"?token=secret")
}

func TestTokenAuthHeader(t *testing.T) {
	auth := NewTokenAuth("", "secret")
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.ErrorIs(t, auth.Authenticate(r), ErrUnauthorized)

	r.Header.Set("Authorization", "Bearer secret")
	assert.NoError(t, auth.Authenticate(r))

	assert.NoError(t, NewTokenAuth().Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil)))
}

func TestMaxPeers(t *testing.T) {
	s, url := newTestServer(t, func(c *Config) { c.MaxPeers = 1 })
	env, err := s.Environment("default")
	require.NoError(t, err)

	dial(t, url)
	waitPeers(t, env, 1)
	_, err = transport.DialWebsocket(context.Background(), url, transport.DefaultOptions(), log.NewNop())
	assert.Error(t, err)
}

func TestLeavingPeerIsForgotten(t *testing.T) {
	s, url := newTestServer(t, nil)
	env, err := s.Environment("default")
	require.NoError(t, err)

	conn := dial(t, url)
	waitPeers(t, env, 1)
	require.NoError(t, conn.Close())
	waitPeers(t, env, 0)
	assert.Eventually(t, func() bool { return s.Stats().Peers == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStatsAndHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	env, err := s.Environment("room")
	require.NoError(t, err)
	require.NoError(t, env.Publish(context.Background(), operation.NewTransaction(true,
		operation.Load(dto.NewEntityDto(1, dto.DtypeNode)))))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Environments["room"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishAbortsOnMissingEntityInStrictMode(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.StrictMissingEntity = true })
	env, err := s.Environment("default")
	require.NoError(t, err)

	err = env.Publish(context.Background(), operation.NewTransaction(true, operation.Set(1, 1, dto.Bool(true))))
	assert.Error(t, err)
	assert.Error(t, env.Publish(context.Background(), nil))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.MaxPeers = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	_, err := New(Config{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStartStopWithQUIC(t *testing.T) {
	config := DefaultConfig()
	config.HTTPAddr = "127.0.0.1:0"
	config.QUICAddr = "127.0.0.1:0"
	s, err := New(config, log.NewNop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrServerAlreadyRunning)

	env, err := s.Environment(config.DefaultEnvironment)
	require.NoError(t, err)
	require.NoError(t, env.Publish(ctx, operation.NewTransaction(true,
		operation.Load(dto.NewEntityDto(3, dto.DtypeNode)))))

	conn, err := transport.DialQUIC(ctx, s.QUICAddr().String(), transport.InsecureClientTLS(), transport.DefaultOptions(), log.NewNop())
	require.NoError(t, err)
	defer conn.Close()
	tx := receiveTx(t, conn)
	require.Equal(t, 1, tx.Len())

	ws := dial(t, "ws://"+s.Addr().String()+"/ws")
	assert.Equal(t, 1, receiveTx(t, ws).Len())

	require.NoError(t, s.Stop(ctx))
	assert.ErrorIs(t, s.Stop(ctx), ErrServerNotRunning)
	require.NoError(t, s.Close(ctx))
	_, err = s.Environment("other")
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestRateLimitDropsExcessTransactions(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	config := DefaultConfig()
	config.RateLimit = 1
	config.RateWindow = time.Hour
	s, err := New(config, log.NewWithCore(core), nil)
	require.NoError(t, err)
	hs := httptest.NewServer(s.Handler())
	defer hs.Close()
	defer s.Close(context.Background())
	env, err := s.Environment(config.DefaultEnvironment)
	require.NoError(t, err)

	conn := dial(t, "ws"+strings.TrimPrefix(hs.URL, "http")+"/ws")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range []uint64{1, 2} {
		tx := operation.NewTransaction(true, operation.Load(dto.NewEntityDto(id, dto.DtypeNode)))
		require.NoError(t, conn.Send(ctx, transport.NewFrame(tx.ToBytes(), true, false)))
	}

	require.Eventually(t, func() bool {
		return logs.FilterMessage("rate limit exceeded, transaction dropped").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	_, err = env.Registry().Get(1)
	assert.NoError(t, err)
	_, err = env.Registry().Get(2)
	assert.Error(t, err)
}

func TestRejectedPeersOpenNoEnvironment(t *testing.T) {
	s, url := newTestServer(t, func(c *Config) { c.MaxPeers = 1 })
	env, err := s.Environment("default")
	require.NoError(t, err)
	dial(t, url)
	waitPeers(t, env, 1)

	for i := range 50 {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/ws?env=junk-%d", i), nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}
	assert.Equal(t, map[string]int{"default": 0}, s.Stats().Environments)
	assert.Equal(t, int64(1), s.Stats().Peers)
}

func TestEnvironmentClosedWhenLastPeerLeaves(t *testing.T) {
	s, url := newTestServer(t, nil)
	_, err := s.Environment("kept")
	require.NoError(t, err)

	hasEnv := func(id string) bool {
		_, ok := s.Stats().Environments[id]
		return ok
	}

	first := dial(t, url+"?env=room2")
	second := dial(t, url+"?env=room2")
	kept := dial(t, url+"?env=kept")
	def := dial(t, url)
	require.Eventually(t, func() bool { return s.Stats().Peers == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, hasEnv("room2"))

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.Stats().Peers == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, hasEnv("room2"), "one peer is still in room2")

	require.NoError(t, second.Close())
	require.NoError(t, kept.Close())
	require.NoError(t, def.Close())
	require.Eventually(t, func() bool { return !hasEnv("room2") }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.Stats().Peers == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, hasEnv("kept"))
	assert.True(t, hasEnv("default"))

	again := dial(t, url+"?env=room2")
	require.Eventually(t, func() bool { return hasEnv("room2") }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, again.Close())
}

func TestPeerEventsAndBusStats(t *testing.T) {
	s, url := newTestServer(t, nil)
	joined := make(chan PeerEvent, 1)
	left := make(chan PeerEvent, 1)
	_, err := s.bus.Subscribe(EventPeerJoined, func(ev bus.Event) error {
		select {
		case joined <- ev.Data().(PeerEvent):
		default:
		}
		return nil
	})
	require.NoError(t, err)
	_, err = s.bus.Subscribe(EventPeerLeft, func(ev bus.Event) error {
		select {
		case left <- ev.Data().(PeerEvent):
		default:
		}
		return nil
	})
	require.NoError(t, err)

	conn := dial(t, url+"?env=lobby")
	var ev PeerEvent
	select {
	case ev = <-joined:
	case <-time.After(5 * time.Second):
		t.Fatal("no peer.joined event")
	}
	assert.Equal(t, "lobby", ev.Environment)
	assert.Equal(t, transport.TransportWebsocket, ev.Transport)
	assert.NotEmpty(t, ev.PeerID)

	require.NoError(t, conn.Close())
	select {
	case gone := <-left:
		assert.Equal(t, ev.PeerID, gone.PeerID)
	case <-time.After(5 * time.Second):
		t.Fatal("no peer.left event")
	}

	st := s.Stats()
	require.NotNil(t, st.Events)
	assert.GreaterOrEqual(t, st.Events.Published, uint64(2))
	assert.GreaterOrEqual(t, st.Events.DeliveredHandlers, uint64(2))
	assert.NotEmpty(t, st.Topics)
}
