// Package cose parses and verifies COSE_Sign1 structures (RFC 8152) as used
// to sign both EU Digital Green Certificate CWT payloads and the trust-list
// bundles that authorize their issuers.
package cose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"

	"github.com/eudgc/verifier/internal/cborcodec"
)

// Algorithm identifies a COSE algorithm label (IANA COSE Algorithms
// Registry). Only ES256 and PS256 are honored anywhere in this module.
type Algorithm int64

const (
	AlgorithmUnknown Algorithm = 0
	AlgorithmES256   Algorithm = -7
	AlgorithmPS256   Algorithm = -37
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmES256:
		return "ES256"
	case AlgorithmPS256:
		return "PS256"
	default:
		return fmt.Sprintf("unknown(%d)", int64(a))
	}
}

// labelAlg and labelKid are the COSE header parameter labels this package
// reads out of protected/unprotected header maps.
const (
	labelAlg = 1
	labelKid = 4
)

// Sign1 is a parsed, not-yet-verified COSE_Sign1 structure.
type Sign1 struct {
	Protected   []byte
	Unprotected cborcodec.Value // the raw decoded unprotected header map, may be zero Value
	Payload     []byte
	Signature   []byte

	protectedHeader cborcodec.Value
	haveProtected   bool
	payloadValue    *cborcodec.Value
}

// Parse accepts either a bare 4-element COSE_Sign1 array or the same array
// wrapped in CBOR tag 18, and unwraps a bstr-wrapped payload if present.
func Parse(data []byte) (*Sign1, error) {
	v, err := cborcodec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("cose: cbor decode: %w", err)
	}

	if v.Kind == cborcodec.KindTag {
		if v.Tag != 18 {
			return nil, fmt.Errorf("cose: unexpected CBOR tag %d, want 18 (COSE_Sign1)", v.Tag)
		}
		if v.Content == nil {
			return nil, errors.New("cose: tag 18 with no content")
		}
		v = *v.Content
	}

	if v.Kind != cborcodec.KindArray || len(v.Array) != 4 {
		return nil, errors.New("cose: COSE_Sign1 must be a 4-element array")
	}

	protectedBytes, ok := v.Array[0].AsBytes()
	if !ok {
		return nil, errors.New("cose: protected header must be a byte string")
	}

	payload, payloadValue, err := unwrapPayload(v.Array[2])
	if err != nil {
		return nil, err
	}

	signature, ok := v.Array[3].AsBytes()
	if !ok {
		return nil, errors.New("cose: signature must be a byte string")
	}

	s := &Sign1{
		Protected:    protectedBytes,
		Unprotected:  v.Array[1],
		Payload:      payload,
		payloadValue: payloadValue,
		Signature:    signature,
	}

	if len(protectedBytes) > 0 {
		ph, err := cborcodec.Decode(protectedBytes)
		if err != nil {
			return nil, fmt.Errorf("cose: protected header: %w", err)
		}
		s.protectedHeader = ph
		s.haveProtected = true
	}

	return s, nil
}

// unwrapPayload accepts either a direct byte-string payload (the standard
// COSE_Sign1 shape, payload = bstr(claims-cbor)) or, per spec.md §4.1, a
// CBOR map encoded directly in the array slot (non-conformant producers
// that skip the bstr wrapper). It returns both the exact bytes that stand
// in for "payload-bytes" in the Sig_structure and the already-decoded
// Value, so callers never need to re-decode.
func unwrapPayload(v cborcodec.Value) ([]byte, *cborcodec.Value, error) {
	if b, ok := v.AsBytes(); ok {
		inner, err := cborcodec.Decode(b)
		if err != nil {
			return nil, nil, fmt.Errorf("cose: payload: %w", err)
		}
		return b, &inner, nil
	}
	if v.Kind == cborcodec.KindMap {
		// Not bstr-wrapped: the raw bytes of the map itself are the only
		// candidate for what was actually signed.
		val := v
		return v.Raw, &val, nil
	}
	return nil, nil, errors.New("cose: payload must be a byte string or CBOR map")
}

// PayloadValue returns the decoded CBOR payload (claims map), decoded once
// at Parse time regardless of whether the payload was bstr-wrapped or
// embedded directly.
func (s *Sign1) PayloadValue() (cborcodec.Value, error) {
	if s.payloadValue == nil {
		return cborcodec.Value{}, errors.New("cose: payload not decoded")
	}
	return *s.payloadValue, nil
}

// KeyID returns the COSE key-id (header label 4), preferring the protected
// header over the unprotected header per spec.md §3.
func (s *Sign1) KeyID() ([]byte, bool) {
	if s.haveProtected {
		if v, ok := s.protectedHeader.MapGetInt(labelKid); ok {
			if b, ok := v.AsBytes(); ok {
				return b, true
			}
		}
	}
	if v, ok := s.Unprotected.MapGetInt(labelKid); ok {
		if b, ok := v.AsBytes(); ok {
			return b, true
		}
	}
	return nil, false
}

// TruncatedKeyID returns KeyID truncated to 8 bytes, the granularity trust
// list lookups are performed at (spec.md §3: "truncation to 8 bytes is
// allowed for lookup equality").
func (s *Sign1) TruncatedKeyID() ([]byte, bool) {
	kid, ok := s.KeyID()
	if !ok {
		return nil, false
	}
	if len(kid) > 8 {
		kid = kid[:8]
	}
	return kid, true
}

// Algorithm returns the COSE algorithm label (header label 1), preferring
// the protected header.
func (s *Sign1) Algorithm() (Algorithm, bool) {
	if s.haveProtected {
		if v, ok := s.protectedHeader.MapGetInt(labelAlg); ok {
			if n, ok := v.AsInt64(); ok {
				return Algorithm(n), true
			}
		}
	}
	if v, ok := s.Unprotected.MapGetInt(labelAlg); ok {
		if n, ok := v.AsInt64(); ok {
			return Algorithm(n), true
		}
	}
	return AlgorithmUnknown, false
}

// SigStructure deterministically reconstructs the exact byte sequence that
// was signed: the CBOR-encoded array
// ["Signature1", protected-header-bytes, h'', payload-bytes].
//
// This MUST be built from the constituent parts rather than trusting any
// framing present in the input, since an attacker-controlled re-encoding of
// the outer array could otherwise smuggle a different signed byte sequence
// past a naive verifier.
func (s *Sign1) SigStructure() []byte {
	var out []byte
	out = append(out, cborcodec.EncodeArrayHeader(4)...)
	out = append(out, cborcodec.EncodeText("Signature1")...)
	out = append(out, cborcodec.EncodeBytes(s.Protected)...)
	out = append(out, cborcodec.EncodeBytes(nil)...) // external_aad, always empty
	out = append(out, cborcodec.EncodeBytes(s.Payload)...)
	return out
}

// Verify checks s.Signature against s.SigStructure() using pubKey,
// dispatching on alg. Only ES256 and PS256 are supported; any other
// algorithm is a verification failure, not a panic or a silent pass.
func Verify(s *Sign1, alg Algorithm, pubKey any) error {
	digest := sha256.Sum256(s.SigStructure())

	switch alg {
	case AlgorithmES256:
		ecKey, ok := pubKey.(*ecdsa.PublicKey)
		if !ok {
			return errors.New("cose: ES256 requires an EC public key")
		}
		return verifyES256(ecKey, digest[:], s.Signature)

	case AlgorithmPS256:
		rsaKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return errors.New("cose: PS256 requires an RSA public key")
		}
		return rsaPSSVerify(rsaKey, digest[:], s.Signature)

	default:
		return fmt.Errorf("cose: unsupported algorithm %s", alg)
	}
}

// verifyES256 interprets sig as raw r||s (32+32 bytes) and rejects any other
// encoding, notably ASN.1 DER — spec.md §4.1 requires this explicitly since
// DER-encoded ECDSA signatures are a distinct, non-equivalent wire form.
func verifyES256(pub *ecdsa.PublicKey, digest, sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("cose: ES256 signature must be 64 raw bytes, got %d", len(sig))
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(pub, digest, r, s) {
		return errors.New("cose: ES256 signature verification failed")
	}
	return nil
}

// VerifyCertificateKey is a convenience wrapper extracting the public key
// from an x509 leaf certificate before verifying.
func VerifyCertificateKey(s *Sign1, alg Algorithm, cert *x509.Certificate) error {
	return Verify(s, alg, cert.PublicKey)
}

// rsaPSSVerify is kept as a separate, explicit function (rather than
// relying on rsa.VerifyPSS's Hash zero-value default) to make the SHA-256 +
// MGF1-SHA256 + salt-32 requirement visible at the call site.
func rsaPSSVerify(pub *rsa.PublicKey, digest, sig []byte) error {
	return rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, &rsa.PSSOptions{SaltLength: 32, Hash: crypto.SHA256})
}

// Sign produces a test-only ES256 or PS256 signature over s's
// Sig_structure and stores it in s.Signature, used solely to build
// fixtures in tests.
func Sign(s *Sign1, alg Algorithm, signer any) error {
	digest := sha256.Sum256(s.SigStructure())
	switch alg {
	case AlgorithmES256:
		key, ok := signer.(*ecdsa.PrivateKey)
		if !ok {
			return errors.New("cose: ES256 signing requires an EC private key")
		}
		r, sVal, err := ecdsaSignRaw(key, digest[:])
		if err != nil {
			return err
		}
		s.Signature = append(r, sVal...)
		return nil
	case AlgorithmPS256:
		key, ok := signer.(*rsa.PrivateKey)
		if !ok {
			return errors.New("cose: PS256 signing requires an RSA private key")
		}
		sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: 32, Hash: crypto.SHA256})
		if err != nil {
			return err
		}
		s.Signature = sig
		return nil
	default:
		return fmt.Errorf("cose: unsupported algorithm %s", alg)
	}
}

func ecdsaSignRaw(key *ecdsa.PrivateKey, digest []byte) (r, s []byte, err error) {
	sigR, sigS, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, nil, err
	}
	size := (key.Curve.Params().BitSize + 7) / 8
	return leftPad(sigR.Bytes(), size), leftPad(sigS.Bytes(), size), nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// EncodeProtectedHeader builds a CBOR-encoded protected header map with the
// alg and kid labels, the shape the decoder expects to unmarshal back.
func EncodeProtectedHeader(alg Algorithm, kid []byte) []byte {
	var out []byte
	n := uint64(1)
	if len(kid) > 0 {
		n = 2
	}
	out = append(out, cborcodec.EncodeMapHeader(n)...)
	out = append(out, cborcodec.EncodeNegOrUint(labelAlg)...)
	out = append(out, cborcodec.EncodeNegOrUint(int64(alg))...)
	if len(kid) > 0 {
		out = append(out, cborcodec.EncodeNegOrUint(labelKid)...)
		out = append(out, cborcodec.EncodeBytes(kid)...)
	}
	return out
}

// Marshal re-encodes a Sign1 as a bare (untagged) COSE_Sign1 4-array:
// [protected, unprotected-map(empty), payload, signature]. Used to build
// trust-list/business-rules/value-set bundles and certificate fixtures in
// tests; production verification never needs to re-encode.
func Marshal(s *Sign1) []byte {
	var out []byte
	out = append(out, cborcodec.EncodeArrayHeader(4)...)
	out = append(out, cborcodec.EncodeBytes(s.Protected)...)
	out = append(out, cborcodec.EncodeMapHeader(0)...) // empty unprotected header
	out = append(out, cborcodec.EncodeBytes(s.Payload)...)
	out = append(out, cborcodec.EncodeBytes(s.Signature)...)
	return out
}
