package registry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// NewEnvironmentID returns a fresh random environment id.
func NewEnvironmentID() string {
	return uuid.NewString()
}

// Federation holds one Registry per environment. Entity ids are only unique
// within an environment, so every lookup names both.
type Federation struct {
	opts []Option

	mu   sync.RWMutex
	envs map[string]*Registry
}

// NewFederation creates an empty federation. opts are applied to every
// registry it opens.
func NewFederation(opts ...Option) *Federation {
	return &Federation{opts: opts, envs: make(map[string]*Registry)}
}

// Open returns the registry of env, creating it when needed.
func (f *Federation) Open(env string) (*Registry, error) {
	if env == "" {
		return nil, fmt.Errorf("%w: empty environment id", ErrInvalidArgument)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.envs[env]; ok {
		return r, nil
	}
	r := New(env, f.opts...)
	f.envs[env] = r
	return r, nil
}

func (f *Federation) Environment(env string) (*Registry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.envs[env]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	return r, nil
}

// Get looks an entity up in the registry of env.
func (f *Federation) Get(env string, id uint64) (*Entity, error) {
	r, err := f.Environment(env)
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}

// Environments lists the open environment ids in ascending order.
func (f *Federation) Environments() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.envs))
}

// CloseEnvironment closes and forgets the registry of env.
func (f *Federation) CloseEnvironment(env string) error {
	f.mu.Lock()
	r, ok := f.envs[env]
	delete(f.envs, env)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	return r.Close()
}

// Close closes every registry concurrently.
func (f *Federation) Close(ctx context.Context) error {
	f.mu.Lock()
	envs := f.envs
	f.envs = make(map[string]*Registry)
	f.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for env, r := range envs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.Close(); err != nil {
				return fmt.Errorf("close environment %s: %w", env, err)
			}
			return nil
		})
	}
	return g.Wait()
}
