package dto

import (
	"maps"
	"slices"

	"github.com/umi3d/umisync/internal/core/codec"
)

// EntityDto is the declaration of an entity as sent by the environment: its
// id, concrete type and the initial value of every property.
type EntityDto struct {
	ID         uint64                `json:"id"`
	Dtype      string                `json:"dtype"`
	Properties map[PropertyKey]Value `json:"properties,omitempty"`
}

// NewEntityDto creates a declaration with an empty property set.
func NewEntityDto(id uint64, dtype string) *EntityDto {
	return &EntityDto{ID: id, Dtype: dtype, Properties: make(map[PropertyKey]Value)}
}

// With sets a property and returns the dto for chaining.
func (e *EntityDto) With(key PropertyKey, v Value) *EntityDto {
	if e.Properties == nil {
		e.Properties = make(map[PropertyKey]Value)
	}
	e.Properties[key] = v
	return e
}

// Property returns the value of key.
func (e *EntityDto) Property(key PropertyKey) (Value, bool) {
	v, ok := e.Properties[key]
	return v, ok
}

// Clone returns a copy whose property map is independent of e.
func (e *EntityDto) Clone() *EntityDto {
	if e == nil {
		return nil
	}
	out := &EntityDto{ID: e.ID, Dtype: e.Dtype, Properties: make(map[PropertyKey]Value, len(e.Properties))}
	maps.Copy(out.Properties, e.Properties)
	return out
}

// Keys returns the property keys in ascending order.
func (e *EntityDto) Keys() []PropertyKey {
	return slices.Sorted(maps.Keys(e.Properties))
}

// Equal compares ids, dtypes and every property value.
func (e *EntityDto) Equal(other *EntityDto) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.ID != other.ID || e.Dtype != other.Dtype || len(e.Properties) != len(other.Properties) {
		return false
	}
	for k, v := range e.Properties {
		ov, ok := other.Properties[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Bytable encodes id, dtype and the properties sorted by key, so equal dtos
// always produce identical bytes.
func (e *EntityDto) Bytable() codec.Bytable {
	keys := e.Keys()
	return codec.Join(
		codec.WriteUint64(e.ID),
		codec.WriteString(e.Dtype),
		codec.WriteCountArray(keys, func(k PropertyKey) codec.Bytable {
			return codec.WriteEnum(k).Concat(e.Properties[k].Bytable())
		}),
	)
}

type property struct {
	key   PropertyKey
	value Value
}

func readProperty(c *codec.ByteContainer) (property, bool) {
	key, ok := codec.ReadEnum[PropertyKey](c)
	if !ok {
		return property{}, false
	}
	v, ok := ReadValue(c)
	if !ok {
		return property{}, false
	}
	return property{key: key, value: v}, true
}

// ReadEntityDto decodes a dto written by EntityDto.Bytable.
func ReadEntityDto(c *codec.ByteContainer) (*EntityDto, bool) {
	start := c.Position()
	id, ok := codec.ReadUint64(c)
	if !ok {
		return nil, false
	}
	dtype, ok := codec.ReadString(c)
	if !ok {
		c.Rewind(start)
		return nil, false
	}
	props, ok := codec.ReadCountArray(c, readProperty)
	if !ok {
		c.Rewind(start)
		return nil, false
	}
	e := NewEntityDto(id, dtype)
	for _, p := range props {
		e.Properties[p.key] = p.value
	}
	return e, true
}
