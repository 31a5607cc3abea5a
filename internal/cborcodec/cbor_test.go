package cborcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeScalars(t *testing.T) {
	// unsigned int 10 -> 0x0A
	v, err := Decode([]byte{0x0A})
	require.NoError(t, err)
	assert.Equal(t, KindUint, v.Kind)
	assert.EqualValues(t, 10, v.Uint)

	// negative int -500 -> major 1, arg 499
	v, err = Decode([]byte{0x39, 0x01, 0xF3})
	require.NoError(t, err)
	assert.Equal(t, KindNegInt, v.Kind)
	assert.EqualValues(t, -500, v.Int)

	// text string "a"
	v, err = Decode([]byte{0x61, 'a'})
	require.NoError(t, err)
	text, ok := v.AsText()
	require.True(t, ok)
	assert.Equal(t, "a", text)
}

func TestDecodeArrayAndMap(t *testing.T) {
	// array [1, 2, 3]
	v, err := Decode([]byte{0x83, 0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Equal(t, KindArray, v.Kind)
	require.Len(t, v.Array, 3)

	// map {1: "x"}
	data := append(EncodeArrayHeader(0), 0xFF) // unused, keep gofmt happy
	_ = data
	mapData := []byte{0xA1, 0x01, 0x61, 'x'}
	v, err = Decode(mapData)
	require.NoError(t, err)
	got, ok := v.MapGetInt(1)
	require.True(t, ok)
	text, _ := got.AsText()
	assert.Equal(t, "x", text)
}

func TestDecodeTag(t *testing.T) {
	// tag 18 wrapping a byte string of length 1: 0xD2 0x41 0x00
	v, err := Decode([]byte{0xD2, 0x41, 0x00})
	require.NoError(t, err)
	require.Equal(t, KindTag, v.Kind)
	assert.EqualValues(t, 18, v.Tag)
	require.NotNil(t, v.Content)
	assert.Equal(t, KindBytes, v.Content.Kind)
}

func TestEncodeBytesRoundTrip(t *testing.T) {
	encoded := EncodeBytes([]byte{1, 2, 3, 4})
	v, err := Decode(encoded)
	require.NoError(t, err)
	b, ok := v.AsBytes()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)
}

func TestDecodeIndefiniteArray(t *testing.T) {
	// indefinite array [_ 1, 2] -> 0x9F 0x01 0x02 0xFF
	v, err := Decode([]byte{0x9F, 0x01, 0x02, 0xFF})
	require.NoError(t, err)
	require.Equal(t, KindArray, v.Kind)
	require.Len(t, v.Array, 2)
}
