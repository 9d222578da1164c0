// Package operation describes mutations of entities and the transactions that
// carry them, in both binary and object (Dto) forms.
package operation

import (
	"fmt"

	"github.com/umi3d/umisync/internal/core/codec"
	"github.com/umi3d/umisync/internal/core/dto"
)

// Kind is the leading wire tag of an operation.
type Kind uint32

const (
	KindUnknown     Kind = 0
	KindTransaction Kind = 1

	KindLoadEntity   Kind = 10
	KindDeleteEntity Kind = 11

	KindSetEntityProperty      Kind = 20
	KindMultiSetEntityProperty Kind = 21
	KindSetEntityListAdd       Kind = 22
	KindSetEntityListRemove    Kind = 23
	KindSetEntityListProperty  Kind = 24
)

func (k Kind) String() string {
	switch k {
	case KindTransaction:
		return "transaction"
	case KindLoadEntity:
		return "load"
	case KindDeleteEntity:
		return "delete"
	case KindSetEntityProperty:
		return "set"
	case KindMultiSetEntityProperty:
		return "multiset"
	case KindSetEntityListAdd:
		return "list_add"
	case KindSetEntityListRemove:
		return "list_remove"
	case KindSetEntityListProperty:
		return "list_set"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Operation is a single described mutation. The set of implementations is
// closed; consumers route them through a Visitor.
type Operation interface {
	Kind() Kind
	// Bytable returns the wire form, starting with the Kind tag.
	Bytable() codec.Bytable
	// ToDto returns the object form, equivalent to the wire form.
	ToDto() *Dto
	Accept(v Visitor) error

	sealed()
}

// Visitor handles every operation variant. Adding a variant adds a method,
// so every dispatcher must be updated to compile.
type Visitor interface {
	VisitLoad(op *LoadEntity) error
	VisitDelete(op *DeleteEntity) error
	VisitSet(op *SetEntityProperty) error
	VisitMultiSet(op *MultiSetEntityProperty) error
	VisitListAdd(op *ListAdd) error
	VisitListRemove(op *ListRemove) error
	VisitListSet(op *ListSet) error
	VisitUnknown(op *Unknown) error
	VisitMalformed(op *Malformed) error
}

// LoadEntity declares a new entity.
type LoadEntity struct {
	Entity *dto.EntityDto
}

func (*LoadEntity) Kind() Kind { return KindLoadEntity }
func (*LoadEntity) sealed()    {}

func (op *LoadEntity) Accept(v Visitor) error { return v.VisitLoad(op) }

func (op *LoadEntity) Bytable() codec.Bytable {
	e := op.Entity
	if e == nil {
		e = &dto.EntityDto{}
	}
	return codec.WriteEnum(KindLoadEntity).Concat(e.Bytable())
}

// DeleteEntity removes an entity and releases everything bound to it.
type DeleteEntity struct {
	EntityID uint64
}

func (*DeleteEntity) Kind() Kind { return KindDeleteEntity }
func (*DeleteEntity) sealed()    {}

func (op *DeleteEntity) Accept(v Visitor) error { return v.VisitDelete(op) }

func (op *DeleteEntity) Bytable() codec.Bytable {
	return codec.WriteEnum(KindDeleteEntity).Concat(codec.WriteUint64(op.EntityID))
}

// SetEntityProperty replaces one property of one entity.
type SetEntityProperty struct {
	EntityID uint64
	Property dto.PropertyKey
	Value    dto.Value
}

func (*SetEntityProperty) Kind() Kind { return KindSetEntityProperty }
func (*SetEntityProperty) sealed()    {}

func (op *SetEntityProperty) Accept(v Visitor) error { return v.VisitSet(op) }

func (op *SetEntityProperty) Bytable() codec.Bytable {
	return codec.WriteEnum(KindSetEntityProperty).Concat(op.body())
}

func (op *SetEntityProperty) body() codec.Bytable {
	return codec.Join(
		codec.WriteUint64(op.EntityID),
		codec.WriteEnum(op.Property),
		op.Value.Bytable(),
	)
}

// Copy returns a copy with the same entity, property and value. Types that
// embed SetEntityProperty define their own Copy so their extra fields survive.
func (op *SetEntityProperty) Copy() *SetEntityProperty {
	return &SetEntityProperty{EntityID: op.EntityID, Property: op.Property, Value: op.Value}
}

// MultiSetEntityProperty sets the same property to the same value on several
// entities.
type MultiSetEntityProperty struct {
	EntityIDs []uint64
	Property  dto.PropertyKey
	Value     dto.Value
}

func (*MultiSetEntityProperty) Kind() Kind { return KindMultiSetEntityProperty }
func (*MultiSetEntityProperty) sealed()    {}

func (op *MultiSetEntityProperty) Accept(v Visitor) error { return v.VisitMultiSet(op) }

func (op *MultiSetEntityProperty) Bytable() codec.Bytable {
	return codec.Join(
		codec.WriteEnum(KindMultiSetEntityProperty),
		codec.WriteCountArray(op.EntityIDs, codec.WriteUint64),
		codec.WriteEnum(op.Property),
		op.Value.Bytable(),
	)
}

// Sets expands the operation into one SetEntityProperty per entity.
func (op *MultiSetEntityProperty) Sets() []*SetEntityProperty {
	out := make([]*SetEntityProperty, len(op.EntityIDs))
	for i, id := range op.EntityIDs {
		out[i] = &SetEntityProperty{EntityID: id, Property: op.Property, Value: op.Value}
	}
	return out
}

// ListAdd inserts Value at Index in a list property. An Index equal to the
// list length appends.
type ListAdd struct {
	SetEntityProperty
	Index int32
}

func (*ListAdd) Kind() Kind { return KindSetEntityListAdd }

func (op *ListAdd) Accept(v Visitor) error { return v.VisitListAdd(op) }

func (op *ListAdd) Bytable() codec.Bytable {
	return codec.WriteEnum(KindSetEntityListAdd).Concat(op.SetEntityProperty.body(), codec.WriteInt32(op.Index))
}

func (op *ListAdd) Copy() *ListAdd {
	return &ListAdd{SetEntityProperty: *op.SetEntityProperty.Copy(), Index: op.Index}
}

// ListRemove removes the element at Index of a list property. Value carries
// the element the sender removed.
type ListRemove struct {
	SetEntityProperty
	Index int32
}

func (*ListRemove) Kind() Kind { return KindSetEntityListRemove }

func (op *ListRemove) Accept(v Visitor) error { return v.VisitListRemove(op) }

func (op *ListRemove) Bytable() codec.Bytable {
	return codec.WriteEnum(KindSetEntityListRemove).Concat(op.SetEntityProperty.body(), codec.WriteInt32(op.Index))
}

func (op *ListRemove) Copy() *ListRemove {
	return &ListRemove{SetEntityProperty: *op.SetEntityProperty.Copy(), Index: op.Index}
}

// ListSet replaces the element at Index of a list property.
type ListSet struct {
	SetEntityProperty
	Index int32
}

func (*ListSet) Kind() Kind { return KindSetEntityListProperty }

func (op *ListSet) Accept(v Visitor) error { return v.VisitListSet(op) }

func (op *ListSet) Bytable() codec.Bytable {
	return codec.WriteEnum(KindSetEntityListProperty).Concat(op.SetEntityProperty.body(), codec.WriteInt32(op.Index))
}

func (op *ListSet) Copy() *ListSet {
	return &ListSet{SetEntityProperty: *op.SetEntityProperty.Copy(), Index: op.Index}
}

// Unknown is an operation whose kind this build does not know. The payload
// (everything after the tag) is preserved so it can be relayed or handled by
// an application-level fallback.
type Unknown struct {
	OpKind Kind
	// Dtype is set when the operation arrived in object form; Payload then
	// holds its JSON.
	Dtype   string
	Payload []byte
}

func (op *Unknown) Kind() Kind { return op.OpKind }
func (*Unknown) sealed()       {}

func (op *Unknown) Accept(v Visitor) error { return v.VisitUnknown(op) }

func (op *Unknown) Bytable() codec.Bytable {
	return codec.WriteEnum(op.OpKind).Concat(codec.Raw(op.Payload))
}

// Malformed stands in for an operation of a transaction that could not be
// decoded. Only that operation is lost; the rest of the transaction applies.
type Malformed struct {
	Index  int
	OpKind Kind
	// Dtype is set when the operation arrived in object form; Payload then
	// holds its JSON.
	Dtype   string
	Payload []byte
	Err     error
}

func (op *Malformed) Kind() Kind { return op.OpKind }
func (*Malformed) sealed()       {}

func (op *Malformed) Accept(v Visitor) error { return v.VisitMalformed(op) }

// Bytable re-emits the original bytes so relaying is lossless.
func (op *Malformed) Bytable() codec.Bytable {
	return codec.WriteEnum(op.OpKind).Concat(codec.Raw(op.Payload))
}

var (
	_ Operation = (*LoadEntity)(nil)
	_ Operation = (*DeleteEntity)(nil)
	_ Operation = (*SetEntityProperty)(nil)
	_ Operation = (*MultiSetEntityProperty)(nil)
	_ Operation = (*ListAdd)(nil)
	_ Operation = (*ListRemove)(nil)
	_ Operation = (*ListSet)(nil)
	_ Operation = (*Unknown)(nil)
	_ Operation = (*Malformed)(nil)
)
