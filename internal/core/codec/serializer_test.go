package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bone struct {
	Name     string
	Position Vector3
}

type boneModule struct{}

func (boneModule) IsCountable(target any) (bool, bool) {
	if _, ok := target.(*bone); ok {
		return false, true
	}
	return false, false
}

func (boneModule) Write(v any) (Bytable, bool) {
	b, ok := v.(bone)
	if !ok {
		return Bytable{}, false
	}
	return WriteString(b.Name).Concat(WriteVector3(b.Position)), true
}

func (boneModule) Read(c *ByteContainer, target any) (bool, bool) {
	t, ok := target.(*bone)
	if !ok {
		return false, false
	}
	name, ok := ReadString(c)
	if !ok {
		return false, true
	}
	pos, ok := ReadVector3(c)
	if !ok {
		return false, true
	}
	*t = bone{Name: name, Position: pos}
	return true, true
}

// doubler claims int32 and writes it twice, to check module precedence.
type doubler struct{}

func (doubler) IsCountable(target any) (bool, bool) {
	_, ok := target.(*int32)
	return true, ok
}

func (doubler) Write(v any) (Bytable, bool) {
	i, ok := v.(int32)
	if !ok {
		return Bytable{}, false
	}
	return WriteInt32(i).Concat(WriteInt32(i)), true
}

func (doubler) Read(c *ByteContainer, target any) (bool, bool) {
	t, ok := target.(*int32)
	if !ok {
		return false, false
	}
	a, ok1 := ReadInt32(c)
	b, ok2 := ReadInt32(c)
	if !ok1 || !ok2 || a != b {
		return false, true
	}
	*t = a
	return true, true
}

func TestSerializerCustomModule(t *testing.T) {
	s := NewSerializer(boneModule{})
	in := bone{Name: "hips", Position: Vector3{Y: 1}}

	b, err := Write(s, in)
	require.NoError(t, err)

	out, ok := Read[bone](s, NewByteContainer(b.ToBytes()))
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestSerializerFirstModuleWins(t *testing.T) {
	s := NewSerializer(doubler{})
	b, err := Write(s, int32(7))
	require.NoError(t, err)
	assert.Equal(t, 8, b.Size())

	plain := NewSerializer()
	b, err = Write(plain, int32(7))
	require.NoError(t, err)
	assert.Equal(t, 4, b.Size())
}

func TestSerializerUnsupportedType(t *testing.T) {
	s := NewSerializer()
	_, err := Write(s, struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, ok := Read[bone](s, NewByteContainer([]byte{0, 0, 0, 0}))
	assert.False(t, ok)
}

func TestSerializerSlices(t *testing.T) {
	s := NewSerializer(boneModule{})

	nums := []float32{1, 2, 3}
	b, err := WriteSlice(s, nums)
	require.NoError(t, err)
	assert.Equal(t, 4+3*4, b.Size(), "countable elements carry no index table")
	gotNums, ok := ReadSlice[float32](s, NewByteContainer(b.ToBytes()))
	require.True(t, ok)
	assert.Equal(t, nums, gotNums)

	bones := []bone{{Name: "a"}, {Name: "spine", Position: Vector3{Z: 2}}}
	b, err = WriteSlice(s, bones)
	require.NoError(t, err)
	data := b.ToBytes()
	gotBones, ok := ReadSlice[bone](s, NewByteContainer(data))
	require.True(t, ok)
	assert.Equal(t, bones, gotBones)

	for n := 0; n < len(data); n++ {
		_, ok := ReadSlice[bone](s, NewByteContainer(data[:n]))
		assert.False(t, ok, "truncated to %d", n)
	}

	empty, err := WriteSlice(s, []string{})
	require.NoError(t, err)
	gotStrings, ok := ReadSlice[string](s, NewByteContainer(empty.ToBytes()))
	require.True(t, ok)
	assert.Empty(t, gotStrings)
}
