package server

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/umi3d/umisync/internal/core/dispatch"
	"github.com/umi3d/umisync/internal/core/events/bus"
	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/observability/metrics"
	"github.com/umi3d/umisync/internal/core/operation"
	"github.com/umi3d/umisync/internal/core/registry"
	"github.com/umi3d/umisync/internal/transport"
)

// Environment is one authoritative registry and the peers kept in sync with
// it.
type Environment struct {
	id          string
	reg         *registry.Registry
	disp        *dispatch.Dispatcher
	logger      log.Log
	sendTimeout time.Duration
	bus         bus.EventBus
	sub         bus.Subscription

	// mu orders joins against broadcasts: a joining peer receives every
	// transaction either in its snapshot or as a broadcast, exactly once.
	mu    sync.Mutex
	peers map[string]transport.Conn

	// guarded by Server.mu
	refs   int
	pinned bool
}

func newEnvironment(reg *registry.Registry, b bus.EventBus, config Config, logger log.Log) (*Environment, error) {
	logger = logger.With(log.Environment(reg.Environment()))
	disp, err := dispatch.New(reg,
		dispatch.WithStrictMissingEntity(config.StrictMissingEntity),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	e := &Environment{
		id:          reg.Environment(),
		reg:         reg,
		disp:        disp,
		logger:      logger,
		sendTimeout: config.SendTimeout,
		bus:         b,
		peers:       make(map[string]transport.Conn),
	}
	if b != nil {
		e.sub, err = b.SubscribeTopic(e.id, bus.Wildcard, e.onLifecycle)
		if err != nil {
			return nil, fmt.Errorf("subscribe lifecycle: %w", err)
		}
	}
	return e, nil
}

func (e *Environment) onLifecycle(ev bus.Event) error {
	data, _ := ev.Data().(registry.EntityEvent)
	if ev.Type() == registry.EventEntityFailed {
		e.logger.Warn("entity failed to load", log.EntityID(data.EntityID), log.Error(data.Err))
		return nil
	}
	e.logger.Debug("entity lifecycle", log.String("event", ev.Type()), log.EntityID(data.EntityID))
	return nil
}

func (e *Environment) ID() string {
	return e.id
}

func (e *Environment) Registry() *registry.Registry {
	return e.reg
}

// Peers lists the connected peer ids in ascending order.
func (e *Environment) Peers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Sorted(maps.Keys(e.peers))
}

// Publish applies tx to the authoritative registry and sends it to every
// peer. Nothing is sent when the transaction aborts.
func (e *Environment) Publish(ctx context.Context, tx *operation.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", dispatch.ErrInvalidOperation)
	}
	f := transport.NewFrame(tx.ToBytes(), tx.Reliable, false)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.disp.PerformTransaction(ctx, tx); err != nil {
		return err
	}
	e.broadcastLocked(ctx, f, "")
	return nil
}

// relay applies a frame received from a peer and forwards it unchanged to
// the other peers.
func (e *Environment) relay(ctx context.Context, from string, f transport.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if f.Flags.Object() {
		err = e.disp.PerformObject(ctx, f.Payload)
	} else {
		err = e.disp.PerformBytes(ctx, f.Payload)
	}
	if err != nil {
		return err
	}
	e.broadcastLocked(ctx, f, from)
	return nil
}

// join sends the current state to conn as one reliable transaction of loads
// and then starts broadcasting to it.
func (e *Environment) join(ctx context.Context, conn transport.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snapshot := e.reg.Snapshot(); len(snapshot) > 0 {
		tx := operation.NewTransaction(true)
		for _, d := range snapshot {
			tx.Add(operation.Load(d))
		}
		sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		defer cancel()
		if err := conn.Send(sendCtx, transport.NewFrame(tx.ToBytes(), true, false)); err != nil {
			return fmt.Errorf("send snapshot: %w", err)
		}
	}
	e.peers[conn.ID()] = conn
	metrics.PeerConnected(e.id)
	e.logger.Info("peer joined", log.Peer(conn.ID()), log.String("transport", conn.Transport()))
	return nil
}

func (e *Environment) leave(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropLocked(id)
}

func (e *Environment) dropLocked(id string) {
	conn, ok := e.peers[id]
	if !ok {
		return
	}
	delete(e.peers, id)
	_ = conn.Close()
	metrics.PeerDisconnected(e.id)
	e.logger.Info("peer left", log.Peer(id))
}

// broadcastLocked sends f to every peer except the one named by except,
// concurrently. Peers that fail are dropped.
func (e *Environment) broadcastLocked(ctx context.Context, f transport.Frame, except string) {
	var (
		g      errgroup.Group
		failMu sync.Mutex
		failed []string
	)
	for id, conn := range e.peers {
		if id == except {
			continue
		}
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
			defer cancel()
			if err := conn.Send(sendCtx, f); err != nil {
				failMu.Lock()
				failed = append(failed, id)
				failMu.Unlock()
				return fmt.Errorf("peer %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("broadcast incomplete", log.Int("failed", len(failed)), log.Error(err))
	}
	for _, id := range failed {
		e.dropLocked(id)
	}
}

func (e *Environment) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.peers {
		e.dropLocked(id)
	}
	if e.bus != nil {
		_ = e.bus.Unsubscribe(e.sub)
	}
}
