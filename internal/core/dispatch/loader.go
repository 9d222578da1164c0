package dispatch

import (
	"context"

	"github.com/umi3d/umisync/internal/core/dto"
)

// ResourceLoader builds the local instance of a declared entity, for example
// by fetching and instantiating its asset. Load may block; it runs on its own
// goroutine and the dispatcher waits for it before the next operation.
type ResourceLoader interface {
	Load(ctx context.Context, entity *dto.EntityDto) (any, error)
}

// ResourceUnloader is implemented by loaders that must release instances when
// their entity is deleted.
type ResourceUnloader interface {
	Unload(entityID uint64, instance any)
}

// LoaderFunc adapts a function to ResourceLoader.
type LoaderFunc func(ctx context.Context, entity *dto.EntityDto) (any, error)

func (f LoaderFunc) Load(ctx context.Context, entity *dto.EntityDto) (any, error) {
	return f(ctx, entity)
}
