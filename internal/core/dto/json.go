package dto

import (
	"encoding/json"
	"fmt"
)

type valueJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes v as {"kind": ..., "value": ...}. NaN and infinities
// cannot be represented in JSON and fail to marshal.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.kind.String()}
	if v.kind != KindNull {
		var payload any = v.v
		if v.kind == KindList {
			payload = v.v.([]Value)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s value: %w", v.kind, err)
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, ok := kindFromString(in.Kind)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownValueKind, in.Kind)
	}
	if kind == KindNull {
		*v = Null()
		return nil
	}

	var err error
	switch kind {
	case KindBool:
		*v, err = decodeJSON(in.Value, Bool)
	case KindInt32:
		*v, err = decodeJSON(in.Value, Int32)
	case KindInt64:
		*v, err = decodeJSON(in.Value, Int64)
	case KindUint64:
		*v, err = decodeJSON(in.Value, Uint64)
	case KindEntity:
		*v, err = decodeJSON(in.Value, EntityRef)
	case KindFloat32:
		*v, err = decodeJSON(in.Value, Float32)
	case KindFloat64:
		*v, err = decodeJSON(in.Value, Float64)
	case KindString:
		*v, err = decodeJSON(in.Value, String)
	case KindBytes:
		*v, err = decodeJSON(in.Value, Bytes)
	case KindVector2:
		*v, err = decodeJSON(in.Value, Vector2)
	case KindVector3:
		*v, err = decodeJSON(in.Value, Vector3)
	case KindVector4:
		*v, err = decodeJSON(in.Value, Vector4)
	case KindQuaternion:
		*v, err = decodeJSON(in.Value, Quaternion)
	case KindColor:
		*v, err = decodeJSON(in.Value, Color)
	case KindMatrix4x4:
		*v, err = decodeJSON(in.Value, Matrix4x4)
	case KindList:
		*v, err = decodeJSON(in.Value, func(items []Value) Value { return Value{kind: KindList, v: items} })
	}
	if err != nil {
		return fmt.Errorf("unmarshal %s value: %w", kind, err)
	}
	return nil
}

func decodeJSON[T any](raw json.RawMessage, mk func(T) Value) (Value, error) {
	var t T
	if err := json.Unmarshal(raw, &t); err != nil {
		return Value{}, err
	}
	return mk(t), nil
}
