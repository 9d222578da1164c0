package dto

import (
	"bytes"
	"fmt"

	"github.com/umi3d/umisync/internal/core/codec"
)

// Kind is the wire tag of a property value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindVector2
	KindVector3
	KindVector4
	KindQuaternion
	KindColor
	KindMatrix4x4
	KindEntity
	KindList
)

var kindNames = [...]string{
	KindNull:       "null",
	KindBool:       "bool",
	KindInt32:      "int32",
	KindInt64:      "int64",
	KindUint64:     "uint64",
	KindFloat32:    "float32",
	KindFloat64:    "float64",
	KindString:     "string",
	KindBytes:      "bytes",
	KindVector2:    "vector2",
	KindVector3:    "vector3",
	KindVector4:    "vector4",
	KindQuaternion: "quaternion",
	KindColor:      "color",
	KindMatrix4x4:  "matrix4x4",
	KindEntity:     "entity",
	KindList:       "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func kindFromString(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Value is an immutable, tagged property value. The zero Value is null.
type Value struct {
	kind Kind
	v    any
}

func Null() Value                          { return Value{} }
func Bool(v bool) Value                    { return Value{kind: KindBool, v: v} }
func Int32(v int32) Value                  { return Value{kind: KindInt32, v: v} }
func Int64(v int64) Value                  { return Value{kind: KindInt64, v: v} }
func Uint64(v uint64) Value                { return Value{kind: KindUint64, v: v} }
func Float32(v float32) Value              { return Value{kind: KindFloat32, v: v} }
func Float64(v float64) Value              { return Value{kind: KindFloat64, v: v} }
func String(v string) Value                { return Value{kind: KindString, v: v} }
func Vector2(v codec.Vector2) Value        { return Value{kind: KindVector2, v: v} }
func Vector3(v codec.Vector3) Value        { return Value{kind: KindVector3, v: v} }
func Vector4(v codec.Vector4) Value        { return Value{kind: KindVector4, v: v} }
func Quaternion(v codec.Quaternion) Value  { return Value{kind: KindQuaternion, v: v} }
func Color(v codec.Color) Value            { return Value{kind: KindColor, v: v} }
func Matrix4x4(v codec.Matrix4x4) Value    { return Value{kind: KindMatrix4x4, v: v} }
func EntityRef(id uint64) Value            { return Value{kind: KindEntity, v: id} }

// Bytes copies v.
func Bytes(v []byte) Value {
	return Value{kind: KindBytes, v: bytes.Clone(v)}
}

// List copies items.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindList, v: out}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Interface returns the underlying Go value, or nil for null.
func (v Value) Interface() any {
	if v.kind == KindList {
		return v.Items()
	}
	if v.kind == KindBytes {
		return bytes.Clone(v.v.([]byte))
	}
	return v.v
}

func as[T any](v Value, k Kind) (T, bool) {
	if v.kind != k {
		var zero T
		return zero, false
	}
	return v.v.(T), true
}

func (v Value) AsBool() (bool, bool)                   { return as[bool](v, KindBool) }
func (v Value) AsInt32() (int32, bool)                 { return as[int32](v, KindInt32) }
func (v Value) AsInt64() (int64, bool)                 { return as[int64](v, KindInt64) }
func (v Value) AsUint64() (uint64, bool)               { return as[uint64](v, KindUint64) }
func (v Value) AsFloat32() (float32, bool)             { return as[float32](v, KindFloat32) }
func (v Value) AsFloat64() (float64, bool)             { return as[float64](v, KindFloat64) }
func (v Value) AsString() (string, bool)               { return as[string](v, KindString) }
func (v Value) AsVector2() (codec.Vector2, bool)       { return as[codec.Vector2](v, KindVector2) }
func (v Value) AsVector3() (codec.Vector3, bool)       { return as[codec.Vector3](v, KindVector3) }
func (v Value) AsVector4() (codec.Vector4, bool)       { return as[codec.Vector4](v, KindVector4) }
func (v Value) AsQuaternion() (codec.Quaternion, bool) { return as[codec.Quaternion](v, KindQuaternion) }
func (v Value) AsColor() (codec.Color, bool)           { return as[codec.Color](v, KindColor) }
func (v Value) AsMatrix4x4() (codec.Matrix4x4, bool)   { return as[codec.Matrix4x4](v, KindMatrix4x4) }
func (v Value) AsEntityRef() (uint64, bool)            { return as[uint64](v, KindEntity) }

func (v Value) AsBytes() ([]byte, bool) {
	b, ok := as[[]byte](v, KindBytes)
	return bytes.Clone(b), ok
}

// Items returns a copy of the list elements, or nil when v is not a list.
func (v Value) Items() []Value {
	items, ok := as[[]Value](v, KindList)
	if !ok {
		return nil
	}
	out := make([]Value, len(items))
	copy(out, items)
	return out
}

// Len returns the number of list elements.
func (v Value) Len() int {
	items, _ := as[[]Value](v, KindList)
	return len(items)
}

// Equal compares encodings, so floats compare by bit pattern and NaN equals
// itself.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	return bytes.Equal(v.Bytable().ToBytes(), other.Bytable().ToBytes())
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindList:
		return fmt.Sprintf("list%v", v.v)
	default:
		return fmt.Sprintf("%s(%v)", v.kind, v.v)
	}
}

// Bytable encodes v as a kind byte followed by the kind's payload.
func (v Value) Bytable() codec.Bytable {
	tag := codec.WriteEnum(v.kind)
	switch v.kind {
	case KindBool:
		return tag.Concat(codec.WriteBool(v.v.(bool)))
	case KindInt32:
		return tag.Concat(codec.WriteInt32(v.v.(int32)))
	case KindInt64:
		return tag.Concat(codec.WriteInt64(v.v.(int64)))
	case KindUint64, KindEntity:
		return tag.Concat(codec.WriteUint64(v.v.(uint64)))
	case KindFloat32:
		return tag.Concat(codec.WriteFloat32(v.v.(float32)))
	case KindFloat64:
		return tag.Concat(codec.WriteFloat64(v.v.(float64)))
	case KindString:
		return tag.Concat(codec.WriteString(v.v.(string)))
	case KindBytes:
		return tag.Concat(codec.WriteBytes(v.v.([]byte)))
	case KindVector2:
		return tag.Concat(codec.WriteVector2(v.v.(codec.Vector2)))
	case KindVector3:
		return tag.Concat(codec.WriteVector3(v.v.(codec.Vector3)))
	case KindVector4:
		return tag.Concat(codec.WriteVector4(v.v.(codec.Vector4)))
	case KindQuaternion:
		return tag.Concat(codec.WriteQuaternion(v.v.(codec.Quaternion)))
	case KindColor:
		return tag.Concat(codec.WriteColor(v.v.(codec.Color)))
	case KindMatrix4x4:
		return tag.Concat(codec.WriteMatrix4x4(v.v.(codec.Matrix4x4)))
	case KindList:
		return tag.Concat(codec.WriteCountArray(v.v.([]Value), Value.Bytable))
	default:
		return tag
	}
}

// ReadValue decodes a Value written by Value.Bytable. Unknown kinds are
// unreadable; the cursor is restored on failure.
func ReadValue(c *codec.ByteContainer) (Value, bool) {
	start := c.Position()
	v, ok := readValue(c)
	if !ok {
		c.Rewind(start)
		return Value{}, false
	}
	return v, true
}

func readValue(c *codec.ByteContainer) (Value, bool) {
	kind, ok := codec.ReadEnum[Kind](c)
	if !ok {
		return Value{}, false
	}
	switch kind {
	case KindNull:
		return Null(), true
	case KindBool:
		return lift(c, codec.ReadBool, Bool)
	case KindInt32:
		return lift(c, codec.ReadInt32, Int32)
	case KindInt64:
		return lift(c, codec.ReadInt64, Int64)
	case KindUint64:
		return lift(c, codec.ReadUint64, Uint64)
	case KindEntity:
		return lift(c, codec.ReadUint64, EntityRef)
	case KindFloat32:
		return lift(c, codec.ReadFloat32, Float32)
	case KindFloat64:
		return lift(c, codec.ReadFloat64, Float64)
	case KindString:
		return lift(c, codec.ReadString, String)
	case KindBytes:
		return lift(c, codec.ReadBytes, Bytes)
	case KindVector2:
		return lift(c, codec.ReadVector2, Vector2)
	case KindVector3:
		return lift(c, codec.ReadVector3, Vector3)
	case KindVector4:
		return lift(c, codec.ReadVector4, Vector4)
	case KindQuaternion:
		return lift(c, codec.ReadQuaternion, Quaternion)
	case KindColor:
		return lift(c, codec.ReadColor, Color)
	case KindMatrix4x4:
		return lift(c, codec.ReadMatrix4x4, Matrix4x4)
	case KindList:
		items, ok := codec.ReadCountArray(c, readValue)
		if !ok {
			return Value{}, false
		}
		return Value{kind: KindList, v: items}, true
	default:
		return Value{}, false
	}
}

func lift[T any](c *codec.ByteContainer, read func(*codec.ByteContainer) (T, bool), mk func(T) Value) (Value, bool) {
	v, ok := read(c)
	if !ok {
		return Value{}, false
	}
	return mk(v), true
}
