package operation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umi3d/umisync/internal/core/codec"
	"github.com/umi3d/umisync/internal/core/dto"
)

func sampleOperations() []Operation {
	return []Operation{
		Load(dto.NewEntityDto(10, dto.DtypeNode).
			With(dto.PropertyName, dto.String("root")).
			With(dto.PropertyPosition, dto.Vector3(codec.Vector3{X: 1, Y: 2, Z: 3}))),
		Delete(10),
		Set(42, 7, dto.Float32(3.14)),
		MultiSet(dto.PropertyVisible, dto.Bool(false), 1, 2, 3),
		AddAt(5, dto.PropertyMaterials, 0, dto.EntityRef(9)),
		RemoveAt(5, dto.PropertyMaterials, 1, dto.EntityRef(8)),
		SetAt(5, dto.PropertyMaterials, 2, dto.EntityRef(7)),
		&Unknown{OpKind: 900, Payload: []byte{1, 2, 3}},
	}
}

func TestOperationBinaryRoundTrip(t *testing.T) {
	for _, op := range sampleOperations() {
		t.Run(op.Kind().String(), func(t *testing.T) {
			data := op.Bytable().ToBytes()
			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, op, got)
			assert.Equal(t, op.Kind(), got.Kind())
		})
	}
}

func TestOperationTruncation(t *testing.T) {
	for _, op := range sampleOperations() {
		if _, unknown := op.(*Unknown); unknown {
			continue
		}
		data := op.Bytable().ToBytes()
		for n := 0; n < len(data); n++ {
			_, err := Decode(data[:n])
			assert.ErrorIs(t, err, ErrDecodeTruncated, "%s truncated to %d", op.Kind(), n)
		}
	}
}

func TestOperationDtoEquivalence(t *testing.T) {
	for _, op := range sampleOperations() {
		t.Run(op.Kind().String(), func(t *testing.T) {
			raw, err := json.Marshal(op.ToDto())
			require.NoError(t, err)

			var d Dto
			require.NoError(t, json.Unmarshal(raw, &d))
			fromDto, err := FromDto(&d)
			require.NoError(t, err)

			fromBytes, err := Decode(op.Bytable().ToBytes())
			require.NoError(t, err)

			assert.Equal(t, fromBytes.Bytable().ToBytes(), fromDto.Bytable().ToBytes(),
				"object and binary forms must decode to the same operation")
		})
	}
}

func TestWireTagComesFirst(t *testing.T) {
	data := Delete(3).Bytable().ToBytes()
	kind, ok := codec.ReadEnum[Kind](codec.NewByteContainer(data))
	require.True(t, ok)
	assert.Equal(t, KindDeleteEntity, kind)
	assert.Len(t, data, 4+8)
}

func TestSetCopy(t *testing.T) {
	set := Set(42, 7, dto.Float32(3.14))
	cp := set.Copy()
	assert.Equal(t, set, cp)
	cp.Value = dto.Bool(true)
	assert.True(t, set.Value.Equal(dto.Float32(3.14)))

	add := AddAt(1, dto.PropertyChildren, 4, dto.EntityRef(2))
	addCopy := add.Copy()
	assert.Equal(t, int32(4), addCopy.Index, "list copies keep their index")
	assert.Equal(t, add, addCopy)

	rm := RemoveAt(1, dto.PropertyChildren, 3, dto.EntityRef(2)).Copy()
	assert.Equal(t, int32(3), rm.Index)
	ls := SetAt(1, dto.PropertyChildren, 2, dto.EntityRef(2)).Copy()
	assert.Equal(t, int32(2), ls.Index)
}

func TestMultiSetExpands(t *testing.T) {
	sets := MultiSet(dto.PropertyActive, dto.Bool(true), 4, 5).Sets()
	require.Len(t, sets, 2)
	assert.Equal(t, uint64(5), sets[1].EntityID)
	assert.Equal(t, dto.PropertyActive, sets[1].Property)
}

func TestFromDtoErrors(t *testing.T) {
	_, err := FromDto(&Dto{Dtype: "Teapot"})
	assert.ErrorIs(t, err, ErrUnknownDtype)

	_, err = FromDto(&Dto{Dtype: DtypeSetEntity, EntityID: 1})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = FromDto(&Dto{Dtype: DtypeLoadEntity})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = FromDto(nil)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestSetScenarioBytes(t *testing.T) {
	data := Set(42, 7, dto.Float32(3.14)).Bytable().ToBytes()
	op, err := Decode(data)
	require.NoError(t, err)

	set, ok := op.(*SetEntityProperty)
	require.True(t, ok)
	assert.Equal(t, uint64(42), set.EntityID)
	assert.Equal(t, dto.PropertyKey(7), set.Property)
	f, ok := set.Value.AsFloat32()
	require.True(t, ok)
	assert.Equal(t, float32(3.14), f)
}

func TestTransactionFromDtoKeepsUnknownAndMalformedElements(t *testing.T) {
	raw := []byte(`{"dtype":"TransactionDto","reliable":true,"operations":[
		{"dtype":"ProjectToolDto","toolId":4},
		{"dtype":"SetEntityPropertyDto","entityId":1,"property":3},
		{"dtype":"SetEntityPropertyDto","entityId":1,"property":3,"value":{"kind":"bool","value":true}},
		{"dtype":"DeleteEntityDto","entityId":"seven"},
		null
	]}`)
	tx, err := UnmarshalTransactionJSON(raw)
	require.NoError(t, err)
	require.Equal(t, 5, tx.Len())

	unknown, ok := tx.Operations[0].(*Unknown)
	require.True(t, ok)
	assert.Equal(t, "ProjectToolDto", unknown.Dtype)
	assert.JSONEq(t, `{"dtype":"ProjectToolDto","toolId":4}`, string(unknown.Payload))

	noValue, ok := tx.Operations[1].(*Malformed)
	require.True(t, ok)
	assert.Equal(t, 1, noValue.Index)
	assert.Equal(t, KindSetEntityProperty, noValue.OpKind)
	assert.ErrorIs(t, noValue.Err, ErrMissingField)

	assert.Equal(t, Set(1, 3, dto.Bool(true)), tx.Operations[2])

	badField, ok := tx.Operations[3].(*Malformed)
	require.True(t, ok)
	assert.Equal(t, KindDeleteEntity, badField.OpKind)
	assert.Equal(t, 3, badField.Index)

	missing, ok := tx.Operations[4].(*Malformed)
	require.True(t, ok)
	assert.Equal(t, 4, missing.Index)

	out, err := json.Marshal(unknown.ToDto())
	require.NoError(t, err)
	assert.JSONEq(t, `{"dtype":"ProjectToolDto","toolId":4}`, string(out), "unknown elements relay their original JSON")
}
