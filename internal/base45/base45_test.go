package base45

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownVectors(t *testing.T) {
	// Vectors from draft-faltstrom-base45.
	cases := []struct {
		encoded string
		decoded []byte
	}{
		{"BB8", []byte("AB")},
		{"%69 VD92EX0", []byte{0x48, 0x65, 0x6c, 0x6c, 0x6f, 0x21, 0x21}},
		{"UJCLQE7W581", []byte("base-45")},
	}

	for _, c := range cases {
		got, err := Decode(c.encoded)
		require.NoError(t, err)
		assert.Equal(t, c.decoded, got)
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0x01, 0x02},
		{0x01, 0x02, 0x03},
		[]byte("the quick brown fox jumps over the lazy dog"),
	}

	for _, in := range inputs {
		encoded := Encode(in)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, in, decoded)
	}
}

func TestDecodeInvalidLength(t *testing.T) {
	_, err := Decode("AAAA") // length 4 % 3 == 1
	require.Error(t, err)
}

func TestDecodeInvalidCharacter(t *testing.T) {
	_, err := Decode("AA!")
	require.Error(t, err)
}
