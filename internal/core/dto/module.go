package dto

import "github.com/umi3d/umisync/internal/core/codec"

// Module registers Value, EntityDto and PropertyKey with a codec.Serializer.
type Module struct{}

var _ codec.Module = Module{}

func (Module) IsCountable(target any) (bool, bool) {
	switch target.(type) {
	case *Value, *PropertyKey:
		return true, true
	case *EntityDto, **EntityDto:
		return false, true
	default:
		return false, false
	}
}

func (Module) Write(v any) (codec.Bytable, bool) {
	switch t := v.(type) {
	case Value:
		return t.Bytable(), true
	case PropertyKey:
		return codec.WriteEnum(t), true
	case EntityDto:
		return t.Bytable(), true
	case *EntityDto:
		if t == nil {
			return codec.Bytable{}, false
		}
		return t.Bytable(), true
	default:
		return codec.Bytable{}, false
	}
}

func (Module) Read(c *codec.ByteContainer, target any) (bool, bool) {
	switch t := target.(type) {
	case *Value:
		v, ok := ReadValue(c)
		*t = v
		return ok, true
	case *PropertyKey:
		k, ok := codec.ReadEnum[PropertyKey](c)
		*t = k
		return ok, true
	case *EntityDto:
		e, ok := ReadEntityDto(c)
		if ok {
			*t = *e
		}
		return ok, true
	case **EntityDto:
		e, ok := ReadEntityDto(c)
		*t = e
		return ok, true
	default:
		return false, false
	}
}

// NewSerializer returns a serializer that understands the entity protocol
// values ahead of any extra modules.
func NewSerializer(extra ...codec.Module) *codec.Serializer {
	return codec.NewSerializer(append([]codec.Module{Module{}}, extra...)...)
}
