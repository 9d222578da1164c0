package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, f := range []Frame{
		NewFrame([]byte{1, 2, 3}, true, false),
		NewFrame([]byte(`{"dtype":"transaction"}`), false, true),
		NewFrame(nil, true, true),
	} {
		data := EncodeFrame(f)
		require.Len(t, data, HeaderSize+len(f.Payload))

		got, err := DecodeFrame(data, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, f.Flags, got.Flags)
		assert.Equal(t, len(f.Payload), len(got.Payload))
		if len(f.Payload) > 0 {
			assert.Equal(t, f.Payload, got.Payload)
		}
	}
}

func TestFrameFlags(t *testing.T) {
	f := NewFrame(nil, true, false)
	assert.True(t, f.Flags.Reliable())
	assert.False(t, f.Flags.Object())
	assert.False(t, f.Flags.Control())

	f = NewFrame(nil, false, true)
	assert.False(t, f.Flags.Reliable())
	assert.True(t, f.Flags.Object())
}

func TestAppendFrameMatchesEncode(t *testing.T) {
	f := NewFrame([]byte("payload"), true, false)
	prefix := []byte{0xAA}
	out := AppendFrame(prefix, f)
	assert.Equal(t, byte(0xAA), out[0])
	assert.Equal(t, EncodeFrame(f), out[1:])
}

func TestDecodeFrameRejectsDamage(t *testing.T) {
	good := EncodeFrame(NewFrame([]byte("hello"), true, false))
	damage := func(mutate func([]byte) []byte) []byte {
		return mutate(append([]byte(nil), good...))
	}

	cases := []struct {
		name string
		data []byte
		err  error
	}{
		{"short header", good[:5], ErrInvalidHeader},
		{"bad magic", damage(func(b []byte) []byte { b[0] = 'X'; return b }), ErrInvalidHeader},
		{"bad version", damage(func(b []byte) []byte { b[2] = 9; return b }), ErrInvalidHeader},
		{"truncated payload", good[:len(good)-1], ErrInvalidFrame},
		{"trailing bytes", append(append([]byte(nil), good...), 0), ErrInvalidFrame},
		{"checksum", damage(func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }), ErrChecksumMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFrame(tc.data, DefaultMaxFrameSize)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestDecodeFrameEnforcesMaxSize(t *testing.T) {
	data := EncodeFrame(NewFrame(make([]byte, 64), true, false))

	_, err := DecodeFrame(data, 32)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = DecodeFrame(data, 0)
	assert.NoError(t, err)
}

func TestWithEncodedReusesBuffers(t *testing.T) {
	f := NewFrame([]byte("abc"), false, false)
	var first []byte
	require.NoError(t, withEncoded(f, func(b []byte) error {
		first = append([]byte(nil), b...)
		return nil
	}))
	require.NoError(t, withEncoded(f, func(b []byte) error {
		assert.Equal(t, first, b)
		return nil
	}))
	assert.Equal(t, EncodeFrame(f), first)
}
