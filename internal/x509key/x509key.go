// Package x509key extracts verification-only public keys from base64
// leaf-certificate bodies, the form EU DGC trust anchors and issuer
// certificates are distributed in.
//
// Certificate chain validation and the certificate's own validity window
// are intentionally not performed here: a DGC trust anchor's only job is
// to sign trust-list/business-rules/value-set bundles, not to root a full
// PKI (spec.md §4.1).
package x509key

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

// ParseLeafPublicKey decodes a base64-encoded DER certificate body and
// returns its SubjectPublicKeyInfo as an *ecdsa.PublicKey or *rsa.PublicKey.
func ParseLeafPublicKey(base64DER string) (any, error) {
	cert, err := ParseLeafCertificate(base64DER)
	if err != nil {
		return nil, err
	}
	return PublicKeyFromCertificate(cert)
}

// ParseLeafCertificate decodes a base64-encoded DER certificate body into an
// *x509.Certificate without checking its chain or validity window.
func ParseLeafCertificate(base64DER string) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(base64DER)
	if err != nil {
		return nil, fmt.Errorf("x509key: invalid base64: %w", err)
	}
	return ParseLeafCertificateDER(der)
}

// ParseLeafCertificateDER parses a raw (already-decoded) DER certificate
// body, for callers that carry the bytes directly rather than base64 text
// (e.g. a CBOR byte-string trust-list entry).
func ParseLeafCertificateDER(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("x509key: invalid DER certificate: %w", err)
	}
	return cert, nil
}

// PublicKeyFromCertificate extracts and type-asserts a supported public key
// (EC P-256 or RSA) from a parsed certificate.
func PublicKeyFromCertificate(cert *x509.Certificate) (any, error) {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() {
			return nil, errors.New("x509key: unsupported EC curve, want P-256")
		}
		return pub, nil
	case *rsa.PublicKey:
		return pub, nil
	default:
		return nil, errors.New("x509key: unsupported public key algorithm")
	}
}
