package registry

import "slices"

type waiter struct {
	onLoaded func(*Entity)
	onFailed func(error)
}

// WhenLoaded calls onLoaded once the entity is loaded, or onFailed if its load
// fails, it is deleted or the registry closes. Exactly one of them is called,
// at most once. An entity that is already loaded is reported synchronously.
// The returned cancel drops the waiter; it is safe to call at any time.
func (r *Registry) WhenLoaded(id uint64, onLoaded func(*Entity), onFailed func(error)) (cancel func()) {
	if onLoaded == nil {
		onLoaded = func(*Entity) {}
	}
	if onFailed == nil {
		onFailed = func(error) {}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		onFailed(ErrRegistryClosed)
		return func() {}
	}
	if e, ok := r.entities[id]; ok && e.state == StateLoaded {
		r.mu.Unlock()
		onLoaded(e)
		return func() {}
	}
	w := &waiter{onLoaded: onLoaded, onFailed: onFailed}
	r.waiters[id] = append(r.waiters[id], w)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		rest := slices.DeleteFunc(r.waiters[id], func(other *waiter) bool { return other == w })
		if len(rest) == 0 {
			delete(r.waiters, id)
			return
		}
		r.waiters[id] = rest
	}
}

// Waiting reports how many waiters are pending for id.
func (r *Registry) Waiting(id uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[id])
}

func (r *Registry) takeWaitersLocked(id uint64) []*waiter {
	ws := r.waiters[id]
	delete(r.waiters, id)
	return ws
}
