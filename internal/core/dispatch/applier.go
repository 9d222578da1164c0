package dispatch

import (
	"context"
	"fmt"

	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/operation"
)

// applier routes each operation variant to the registry.
type applier struct {
	d   *Dispatcher
	ctx context.Context
}

var _ operation.Visitor = (*applier)(nil)

// VisitLoad declares the entity as loading, runs the resource loader and
// waits until the entity is registered or its load failed.
func (a *applier) VisitLoad(op *operation.LoadEntity) error {
	if op.Entity == nil {
		return fmt.Errorf("%w: load without entity", ErrInvalidOperation)
	}
	reg := a.d.reg
	decl := op.Entity
	if _, err := reg.BeginLoad(decl.ID, decl); err != nil {
		return err
	}

	loader := a.d.loader
	if loader == nil {
		_, err := reg.CompleteLoad(decl.ID, nil, nil)
		return err
	}

	go func() {
		instance, err := loader.Load(a.ctx, decl.Clone())
		if err != nil {
			if ferr := reg.FailLoad(decl.ID, err); ferr != nil {
				a.d.logger.Debug("load failed after entity left loading", log.EntityID(decl.ID), log.Error(ferr))
			}
			return
		}
		unloader, _ := loader.(ResourceUnloader)
		var onDelete func()
		if unloader != nil {
			onDelete = func() { unloader.Unload(decl.ID, instance) }
		}
		if _, err := reg.CompleteLoad(decl.ID, instance, onDelete); err != nil {
			a.d.logger.Debug("load completed after entity left loading", log.EntityID(decl.ID), log.Error(err))
			if unloader != nil {
				unloader.Unload(decl.ID, instance)
			}
		}
	}()

	_, err := reg.WaitUntilLoaded(a.ctx, decl.ID)
	return err
}

func (a *applier) VisitDelete(op *operation.DeleteEntity) error {
	return a.d.reg.Delete(op.EntityID)
}

func (a *applier) VisitSet(op *operation.SetEntityProperty) error {
	return a.d.reg.SetProperty(op.EntityID, op.Property, op.Value)
}

func (a *applier) VisitMultiSet(op *operation.MultiSetEntityProperty) error {
	return a.d.reg.MultiSetProperty(op.EntityIDs, op.Property, op.Value)
}

func (a *applier) VisitListAdd(op *operation.ListAdd) error {
	return a.d.reg.ListAdd(op.EntityID, op.Property, op.Index, op.Value)
}

func (a *applier) VisitListRemove(op *operation.ListRemove) error {
	return a.d.reg.ListRemove(op.EntityID, op.Property, op.Index, op.Value)
}

func (a *applier) VisitListSet(op *operation.ListSet) error {
	return a.d.reg.ListSet(op.EntityID, op.Property, op.Index, op.Value)
}

func (a *applier) VisitUnknown(op *operation.Unknown) error {
	if err := a.d.unknown(a.ctx, op); err != nil {
		a.d.logger.Warn("unknown operation handler failed", log.Operation(op.Kind()), log.Error(err))
	}
	return nil
}

func (a *applier) VisitMalformed(op *operation.Malformed) error {
	if err := a.d.unknown(a.ctx, op); err != nil {
		a.d.logger.Warn("unknown operation handler failed", log.Operation(op.Kind()), log.Error(err))
	}
	return nil
}
