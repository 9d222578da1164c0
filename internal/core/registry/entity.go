package registry

import (
	"fmt"

	"github.com/umi3d/umisync/internal/core/dto"
)

// State is the lifecycle stage of an entity.
type State uint8

const (
	StateUnregistered State = iota
	StateLoading
	StateLoaded
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Entity is a registered scene object. All fields are guarded by the owning
// registry's mutex; read them through the accessors.
type Entity struct {
	id       uint64
	reg      *Registry
	decl     *dto.EntityDto
	instance any
	state    State
	onDelete []func()
}

func (e *Entity) ID() uint64 {
	return e.id
}

func (e *Entity) Environment() string {
	return e.reg.env
}

func (e *Entity) Dtype() string {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return e.decl.Dtype
}

func (e *Entity) State() State {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return e.state
}

// Instance is the local object produced by the resource loader, if any.
func (e *Entity) Instance() any {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return e.instance
}

func (e *Entity) Property(key dto.PropertyKey) (dto.Value, bool) {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return e.decl.Property(key)
}

// Dto returns a copy of the current property snapshot.
func (e *Entity) Dto() *dto.EntityDto {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return e.decl.Clone()
}

func declFor(id uint64, d *dto.EntityDto) *dto.EntityDto {
	if d == nil {
		return dto.NewEntityDto(id, "")
	}
	out := d.Clone()
	out.ID = id
	if out.Properties == nil {
		out.Properties = make(map[dto.PropertyKey]dto.Value)
	}
	return out
}
