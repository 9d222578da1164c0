package registry

import (
	"fmt"
	"slices"

	"github.com/umi3d/umisync/internal/core/dto"
)

// ListAdd inserts v at index of a list property. index equal to the length
// appends. An absent property counts as an empty list.
func (r *Registry) ListAdd(id uint64, key dto.PropertyKey, index int32, v dto.Value) error {
	return r.editList(id, key, func(items []dto.Value) ([]dto.Value, error) {
		if index < 0 || int(index) > len(items) {
			return nil, fmt.Errorf("%w: add at %d, length %d", ErrIndexOutOfRange, index, len(items))
		}
		return slices.Insert(items, int(index), v), nil
	})
}

// ListRemove removes the element at index. The last argument is the value the
// sender removed; only the index is authoritative.
func (r *Registry) ListRemove(id uint64, key dto.PropertyKey, index int32, _ dto.Value) error {
	return r.editList(id, key, func(items []dto.Value) ([]dto.Value, error) {
		if index < 0 || int(index) >= len(items) {
			return nil, fmt.Errorf("%w: remove at %d, length %d", ErrIndexOutOfRange, index, len(items))
		}
		return slices.Delete(items, int(index), int(index)+1), nil
	})
}

// ListSet replaces the element at index.
func (r *Registry) ListSet(id uint64, key dto.PropertyKey, index int32, v dto.Value) error {
	return r.editList(id, key, func(items []dto.Value) ([]dto.Value, error) {
		if index < 0 || int(index) >= len(items) {
			return nil, fmt.Errorf("%w: set at %d, length %d", ErrIndexOutOfRange, index, len(items))
		}
		items[index] = v
		return items, nil
	})
}

func (r *Registry) editList(id uint64, key dto.PropertyKey, edit func([]dto.Value) ([]dto.Value, error)) error {
	r.mu.Lock()
	e, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	current, present := e.decl.Properties[key]
	if present && current.Kind() != dto.KindList && !current.IsNull() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d property %d holds %s", ErrNotAList, id, key, current.Kind())
	}
	items, err := edit(current.Items())
	if err != nil {
		r.mu.Unlock()
		return err
	}
	e.decl.Properties[key] = dto.List(items...)
	dtype := e.decl.Dtype
	r.mu.Unlock()

	r.publish(EventEntityUpdated, EntityEvent{EntityID: id, Dtype: dtype, Property: key})
	return nil
}
