// Package registry keeps the entities of one environment, tracks their load
// lifecycle and applies property mutations to them.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/umi3d/umisync/internal/core/dto"
	"github.com/umi3d/umisync/internal/core/events/bus"
	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/observability/metrics"
)

type Option func(*Registry)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

func WithBus(b bus.EventBus) Option {
	return func(r *Registry) { r.bus = b }
}

func WithLogger(l log.Log) Option {
	return func(r *Registry) { r.logger = l }
}

// WithWaitTimeout bounds WaitUntilLoaded. Zero waits until the context ends.
func WithWaitTimeout(d time.Duration) Option {
	return func(r *Registry) { r.waitTimeout = d }
}

// Registry is the entity map of one environment. Callbacks (delete hooks,
// waiters, bus handlers) always run after the mutex is released.
type Registry struct {
	env         string
	clock       clockwork.Clock
	bus         bus.EventBus
	logger      log.Log
	waitTimeout time.Duration

	mu       sync.Mutex
	entities map[uint64]*Entity
	waiters  map[uint64][]*waiter
	closed   bool
}

func New(env string, opts ...Option) *Registry {
	r := &Registry{
		env:      env,
		clock:    clockwork.NewRealClock(),
		logger:   log.NewNop(),
		entities: make(map[uint64]*Entity),
		waiters:  make(map[uint64][]*waiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(log.Environment(env))
	return r
}

func (r *Registry) Environment() string {
	return r.env
}

// Register adds a loaded entity. Registering an id that is loading completes
// that load; registering an id that is already loaded fails with
// ErrEntityAlreadyRegistered.
func (r *Registry) Register(id uint64, decl *dto.EntityDto, instance any, onDelete func()) (*Entity, error) {
	return r.register(id, decl, instance, onDelete, false)
}

// CompleteLoad marks a loading entity as loaded with its instance. It fails
// with ErrEntityNotFound once the entity left the loading state, for example
// because it was deleted while its resource was loading; a deleted entity
// never comes back.
func (r *Registry) CompleteLoad(id uint64, instance any, onDelete func()) (*Entity, error) {
	return r.register(id, nil, instance, onDelete, true)
}

func (r *Registry) register(id uint64, decl *dto.EntityDto, instance any, onDelete func(), loading bool) (*Entity, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	e, exists := r.entities[id]
	switch {
	case loading && (!exists || e.state != StateLoading):
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: no load in progress for %d", ErrEntityNotFound, id)
	case exists && e.state == StateLoaded:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrEntityAlreadyRegistered, id)
	case exists:
		if decl != nil {
			e.decl = declFor(id, decl)
		}
		e.instance = instance
		e.state = StateLoaded
	default:
		e = &Entity{id: id, reg: r, decl: declFor(id, decl), instance: instance, state: StateLoaded}
		r.entities[id] = e
	}
	if onDelete != nil {
		e.onDelete = append(e.onDelete, onDelete)
	}
	waiting := r.takeWaitersLocked(id)
	dtype, size := e.decl.Dtype, len(r.entities)
	r.mu.Unlock()

	metrics.SetRegistrySize(r.env, size)
	for _, w := range waiting {
		w.onLoaded(e)
	}
	r.publish(EventEntityRegistered, EntityEvent{EntityID: id, Dtype: dtype})
	return e, nil
}

// BeginLoad records an entity whose resource is being loaded. Its properties
// are known and can be mutated, but waiters stay blocked until Register or
// FailLoad.
func (r *Registry) BeginLoad(id uint64, decl *dto.EntityDto) (*Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if e, exists := r.entities[id]; exists {
		return e, fmt.Errorf("%w: %d is %s", ErrEntityAlreadyRegistered, id, e.state)
	}
	e := &Entity{id: id, reg: r, decl: declFor(id, decl), state: StateLoading}
	r.entities[id] = e
	metrics.SetRegistrySize(r.env, len(r.entities))
	return e, nil
}

// FailLoad drops a loading entity and fails its waiters with cause wrapped in
// ErrDependencyMissing.
func (r *Registry) FailLoad(id uint64, cause error) error {
	r.mu.Lock()
	e, exists := r.entities[id]
	if !exists || e.state != StateLoading {
		r.mu.Unlock()
		return fmt.Errorf("%w: no load in progress for %d", ErrEntityNotFound, id)
	}
	delete(r.entities, id)
	e.state = StateDeleted
	waiting := r.takeWaitersLocked(id)
	size := len(r.entities)
	r.mu.Unlock()

	metrics.SetRegistrySize(r.env, size)
	err := fmt.Errorf("%w: entity %d: %w", ErrDependencyMissing, id, cause)
	for _, w := range waiting {
		w.onFailed(err)
	}
	r.publish(EventEntityFailed, EntityEvent{EntityID: id, Err: err})
	return nil
}

// Get returns the entity with the given id in any live state.
func (r *Registry) Get(id uint64) (*Entity, error) {
	e, ok := r.TryGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	return e, nil
}

func (r *Registry) TryGet(id uint64) (*Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	return e, ok
}

// OnDelete adds a hook fired once when the entity is deleted.
func (r *Registry) OnDelete(id uint64, hook func()) error {
	if hook == nil {
		return fmt.Errorf("%w: nil hook", ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	e.onDelete = append(e.onDelete, hook)
	return nil
}

// Delete removes the entity, fires its delete hooks in registration order and
// fails its pending waiters.
func (r *Registry) Delete(id uint64) error {
	r.mu.Lock()
	e, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	delete(r.entities, id)
	e.state = StateDeleted
	hooks := e.onDelete
	e.onDelete = nil
	waiting := r.takeWaitersLocked(id)
	dtype, size := e.decl.Dtype, len(r.entities)
	r.mu.Unlock()

	metrics.SetRegistrySize(r.env, size)
	for _, hook := range hooks {
		hook()
	}
	for _, w := range waiting {
		w.onFailed(fmt.Errorf("%w: %d", ErrEntityDeleted, id))
	}
	r.publish(EventEntityDeleted, EntityEvent{EntityID: id, Dtype: dtype})
	return nil
}

// SetProperty replaces one property of an entity. Last write wins.
func (r *Registry) SetProperty(id uint64, key dto.PropertyKey, v dto.Value) error {
	r.mu.Lock()
	e, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	e.decl.Properties[key] = v
	dtype := e.decl.Dtype
	r.mu.Unlock()

	r.publish(EventEntityUpdated, EntityEvent{EntityID: id, Dtype: dtype, Property: key})
	return nil
}

// MultiSetProperty applies one value to many entities. Present entities are
// all updated; the absent ones are reported together in the error.
func (r *Registry) MultiSetProperty(ids []uint64, key dto.PropertyKey, v dto.Value) error {
	var missing []uint64
	for _, id := range ids {
		if err := r.SetProperty(id, key, v); err != nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrEntityNotFound, missing)
	}
	return nil
}

// Snapshot returns copies of the loaded entities ordered by id.
func (r *Registry) Snapshot() []*dto.EntityDto {
	r.mu.Lock()
	out := make([]*dto.EntityDto, 0, len(r.entities))
	for _, e := range r.entities {
		if e.state == StateLoaded {
			out = append(out, e.decl.Clone())
		}
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b *dto.EntityDto) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// Close fires every delete hook, fails every pending waiter with
// ErrRegistryClosed and rejects later registrations. It is idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ids := slices.Sorted(maps.Keys(r.entities))
	var hooks []func()
	for _, id := range ids {
		e := r.entities[id]
		e.state = StateDeleted
		hooks = append(hooks, e.onDelete...)
		e.onDelete = nil
	}
	r.entities = make(map[uint64]*Entity)
	var waiting []*waiter
	for id := range r.waiters {
		waiting = append(waiting, r.takeWaitersLocked(id)...)
	}
	r.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	for _, w := range waiting {
		w.onFailed(ErrRegistryClosed)
	}
	metrics.ForgetRegistry(r.env)
	r.logger.Debug("registry closed", log.Int("entities", len(ids)))
	return nil
}

// WaitUntilLoaded blocks until the entity is loaded, the load fails, the
// entity is deleted, ctx ends or the configured wait timeout elapses.
func (r *Registry) WaitUntilLoaded(ctx context.Context, id uint64) (*Entity, error) {
	type result struct {
		e   *Entity
		err error
	}
	done := make(chan result, 1)
	cancel := r.WhenLoaded(id,
		func(e *Entity) { done <- result{e: e} },
		func(err error) { done <- result{err: err} },
	)

	var timeout <-chan time.Time
	if r.waitTimeout > 0 {
		timer := r.clock.NewTimer(r.waitTimeout)
		defer timer.Stop()
		timeout = timer.Chan()
	}

	select {
	case res := <-done:
		return res.e, res.err
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case <-timeout:
		cancel()
		return nil, fmt.Errorf("%w: %d after %s", ErrWaitTimeout, id, r.waitTimeout)
	}
}
