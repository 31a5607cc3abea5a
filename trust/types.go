// Package trust fetches, verifies, caches, and persists the three
// COSE-signed CBOR bundles the verification pipeline consults: the
// issuer trust list, the business-rules list, and the value-set catalog
// (spec.md §4.3, §4.4).
package trust

import "crypto/x509"

// CertificationType is the derived attribute distinguishing the three
// mutually exclusive EuHealthCert record kinds (spec.md §3).
type CertificationType string

const (
	CertificationVaccination CertificationType = "vaccination"
	CertificationTest        CertificationType = "test"
	CertificationRecovery    CertificationType = "recovery"
)

// KeyTypeMask records which certificate types an issuer key may sign for.
type KeyTypeMask struct {
	Vaccination bool
	Test        bool
	Recovery    bool
}

// Allows reports whether the mask permits signing the given certificate
// type.
func (m KeyTypeMask) Allows(ct CertificationType) bool {
	switch ct {
	case CertificationVaccination:
		return m.Vaccination
	case CertificationTest:
		return m.Test
	case CertificationRecovery:
		return m.Recovery
	default:
		return false
	}
}

// TrustEntry is a single issuer key-authorization record (spec.md §3).
type TrustEntry struct {
	KeyID       []byte
	NotBefore   int64
	NotAfter    int64
	SignMask    KeyTypeMask
	PublicKey   any               // *ecdsa.PublicKey or *rsa.PublicKey
	Certificate *x509.Certificate // optional, set when sourced from a cert
}

// InWindow reports whether now falls within [NotBefore, NotAfter].
func (e TrustEntry) InWindow(now int64) bool {
	return now >= e.NotBefore && now <= e.NotAfter
}

// TrustList is the signed catalog of currently-authorized issuer keys.
type TrustList struct {
	ValidFrom  int64
	ValidUntil int64
	Entries    []TrustEntry
}

// Fresh reports whether now falls within [ValidFrom, ValidUntil].
func (tl TrustList) Fresh(now int64) bool {
	return now >= tl.ValidFrom && now <= tl.ValidUntil
}

// LookupError distinguishes the four trust-lookup outcomes spec.md §4.3
// names, without this package needing to know about the root package's
// ErrorKind taxonomy.
type LookupError int

const (
	LookupErrNone LookupError = iota
	LookupErrNotInList
	LookupErrKeyExpired
	LookupErrWrongType
	LookupErrKeyCreation
	LookupErrServiceUnavailable
)

func (e LookupError) Error() string {
	switch e {
	case LookupErrNotInList:
		return "trust: key-id not in trust list"
	case LookupErrKeyExpired:
		return "trust: key present but outside its validity window"
	case LookupErrWrongType:
		return "trust: key present but not authorized for this certificate type"
	case LookupErrKeyCreation:
		return "trust: key present but its public key could not be constructed"
	case LookupErrServiceUnavailable:
		return "trust: trust list unavailable"
	default:
		return "trust: no error"
	}
}
