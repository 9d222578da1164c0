package operation

import (
	"fmt"

	"github.com/umi3d/umisync/internal/core/codec"
	"github.com/umi3d/umisync/internal/core/dto"
)

// Decode decodes a single operation occupying all of data.
func Decode(data []byte) (Operation, error) {
	c := codec.NewByteContainer(data)
	op, err := DecodeFrom(c)
	if err != nil {
		return nil, err
	}
	if !c.Exhausted() {
		return nil, fmt.Errorf("%w: %s has %d extra bytes", ErrTrailingBytes, op.Kind(), c.Remaining())
	}
	return op, nil
}

// DecodeFrom reads the operation tag and then the body selected by it. Unknown
// tags consume the rest of the container into an Unknown operation.
func DecodeFrom(c *codec.ByteContainer) (Operation, error) {
	start := c.Position()
	kind, ok := codec.ReadEnum[Kind](c)
	if !ok {
		return nil, fmt.Errorf("%w: missing kind tag", ErrDecodeTruncated)
	}

	var op Operation
	switch kind {
	case KindLoadEntity:
		e, readable := dto.ReadEntityDto(c)
		ok, op = readable, &LoadEntity{Entity: e}
	case KindDeleteEntity:
		id, readable := codec.ReadUint64(c)
		ok, op = readable, &DeleteEntity{EntityID: id}
	case KindSetEntityProperty:
		set, readable := readSet(c)
		ok, op = readable, &set
	case KindMultiSetEntityProperty:
		op, ok = readMultiSet(c)
	case KindSetEntityListAdd:
		set, index, readable := readIndexed(c)
		ok, op = readable, &ListAdd{SetEntityProperty: set, Index: index}
	case KindSetEntityListRemove:
		set, index, readable := readIndexed(c)
		ok, op = readable, &ListRemove{SetEntityProperty: set, Index: index}
	case KindSetEntityListProperty:
		set, index, readable := readIndexed(c)
		ok, op = readable, &ListSet{SetEntityProperty: set, Index: index}
	default:
		payload, _ := c.Next(c.Remaining())
		return &Unknown{OpKind: kind, Payload: append([]byte(nil), payload...)}, nil
	}

	if !ok {
		c.Rewind(start)
		return nil, fmt.Errorf("%w: %s", ErrDecodeTruncated, kind)
	}
	return op, nil
}

func readSet(c *codec.ByteContainer) (SetEntityProperty, bool) {
	id, ok := codec.ReadUint64(c)
	if !ok {
		return SetEntityProperty{}, false
	}
	key, ok := codec.ReadEnum[dto.PropertyKey](c)
	if !ok {
		return SetEntityProperty{}, false
	}
	v, ok := dto.ReadValue(c)
	if !ok {
		return SetEntityProperty{}, false
	}
	return SetEntityProperty{EntityID: id, Property: key, Value: v}, true
}

func readIndexed(c *codec.ByteContainer) (SetEntityProperty, int32, bool) {
	set, ok := readSet(c)
	if !ok {
		return SetEntityProperty{}, 0, false
	}
	index, ok := codec.ReadInt32(c)
	return set, index, ok
}

func readMultiSet(c *codec.ByteContainer) (*MultiSetEntityProperty, bool) {
	ids, ok := codec.ReadCountArray(c, codec.ReadUint64)
	if !ok {
		return nil, false
	}
	key, ok := codec.ReadEnum[dto.PropertyKey](c)
	if !ok {
		return nil, false
	}
	v, ok := dto.ReadValue(c)
	if !ok {
		return nil, false
	}
	return &MultiSetEntityProperty{EntityIDs: ids, Property: key, Value: v}, true
}
