package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/eudgc/verifier/internal/cborcodec"
	"github.com/stretchr/testify/require"
)

func buildSigned(t *testing.T, alg Algorithm, kid []byte, payload []byte, signer any) []byte {
	t.Helper()
	protected := EncodeProtectedHeader(alg, kid)
	s := &Sign1{Protected: protected, Payload: payload}
	require.NoError(t, Sign(s, alg, signer))
	return Marshal(s)
}

func TestParseAndVerifyES256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	payload := cborcodec.EncodeText("hello")
	encoded := buildSigned(t, AlgorithmES256, []byte{1, 2, 3, 4, 5, 6, 7, 8}, payload, key)

	s, err := Parse(encoded)
	require.NoError(t, err)

	alg, ok := s.Algorithm()
	require.True(t, ok)
	require.Equal(t, AlgorithmES256, alg)

	kid, ok := s.TruncatedKeyID()
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, kid)

	require.NoError(t, Verify(s, alg, &key.PublicKey))
}

func TestParseTag18Wrapped(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	payload := cborcodec.EncodeText("hi")
	encoded := buildSigned(t, AlgorithmES256, []byte{9, 9}, payload, key)

	tagged := append([]byte{0xD2}, encoded...) // tag 18 = major 6 (0xC0), arg 18 -> 0xD2

	s, err := Parse(tagged)
	require.NoError(t, err)
	alg, _ := s.Algorithm()
	require.NoError(t, Verify(s, alg, &key.PublicKey))
}

func TestVerifyTamperedSignatureFails(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	payload := cborcodec.EncodeText("data")
	encoded := buildSigned(t, AlgorithmES256, []byte{1}, payload, key)

	s, err := Parse(encoded)
	require.NoError(t, err)
	s.Signature[0] ^= 0xFF

	alg, _ := s.Algorithm()
	require.Error(t, Verify(s, alg, &key.PublicKey))
}

func TestSigStructureChangesOnPayloadMutation(t *testing.T) {
	s1 := &Sign1{Protected: []byte{0x01}, Payload: []byte("abc")}
	s2 := &Sign1{Protected: []byte{0x01}, Payload: []byte("abd")}
	require.NotEqual(t, s1.SigStructure(), s2.SigStructure())
}

func TestUnsupportedAlgorithmFails(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s := &Sign1{Protected: EncodeProtectedHeader(-999, nil), Payload: []byte("x")}
	require.Error(t, Verify(s, Algorithm(-999), &key.PublicKey))
}
