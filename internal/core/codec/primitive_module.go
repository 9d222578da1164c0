package codec

// primitives handles the built-in scalar, string and math types.
var primitives Module = primitiveModule{}

type primitiveModule struct{}

func (primitiveModule) IsCountable(target any) (bool, bool) {
	switch target.(type) {
	case *bool, *int8, *int16, *int32, *int64, *uint8, *uint16, *uint32, *uint64,
		*float32, *float64, *Vector2, *Vector3, *Vector4, *Quaternion, *Color, *Matrix4x4:
		return true, true
	case *string, *[]byte:
		return false, true
	default:
		return false, false
	}
}

func (primitiveModule) Write(v any) (Bytable, bool) {
	switch t := v.(type) {
	case bool:
		return WriteBool(t), true
	case int8:
		return WriteInt8(t), true
	case int16:
		return WriteInt16(t), true
	case int32:
		return WriteInt32(t), true
	case int64:
		return WriteInt64(t), true
	case uint8:
		return WriteUint8(t), true
	case uint16:
		return WriteUint16(t), true
	case uint32:
		return WriteUint32(t), true
	case uint64:
		return WriteUint64(t), true
	case float32:
		return WriteFloat32(t), true
	case float64:
		return WriteFloat64(t), true
	case string:
		return WriteString(t), true
	case []byte:
		return WriteBytes(t), true
	case Vector2:
		return WriteVector2(t), true
	case Vector3:
		return WriteVector3(t), true
	case Vector4:
		return WriteVector4(t), true
	case Quaternion:
		return WriteQuaternion(t), true
	case Color:
		return WriteColor(t), true
	case Matrix4x4:
		return WriteMatrix4x4(t), true
	default:
		return Bytable{}, false
	}
}

func (primitiveModule) Read(c *ByteContainer, target any) (bool, bool) {
	var ok bool
	switch t := target.(type) {
	case *bool:
		*t, ok = ReadBool(c)
	case *int8:
		*t, ok = ReadInt8(c)
	case *int16:
		*t, ok = ReadInt16(c)
	case *int32:
		*t, ok = ReadInt32(c)
	case *int64:
		*t, ok = ReadInt64(c)
	case *uint8:
		*t, ok = ReadUint8(c)
	case *uint16:
		*t, ok = ReadUint16(c)
	case *uint32:
		*t, ok = ReadUint32(c)
	case *uint64:
		*t, ok = ReadUint64(c)
	case *float32:
		*t, ok = ReadFloat32(c)
	case *float64:
		*t, ok = ReadFloat64(c)
	case *string:
		*t, ok = ReadString(c)
	case *[]byte:
		*t, ok = ReadBytes(c)
	case *Vector2:
		*t, ok = ReadVector2(c)
	case *Vector3:
		*t, ok = ReadVector3(c)
	case *Vector4:
		*t, ok = ReadVector4(c)
	case *Quaternion:
		*t, ok = ReadQuaternion(c)
	case *Color:
		*t, ok = ReadColor(c)
	case *Matrix4x4:
		*t, ok = ReadMatrix4x4(c)
	default:
		return false, false
	}
	return ok, true
}
