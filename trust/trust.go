package trust

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/eudgc/verifier/internal/cborcodec"
	"github.com/eudgc/verifier/internal/x509key"
	"github.com/eudgc/verifier/storage"
)

// Wire keys for the trust-list CBOR payload. The spec leaves the exact
// on-the-wire schema unspecified beyond the logical TrustList shape (§3);
// this is this module's concrete choice, documented in DESIGN.md.
const (
	tlKeyValidFrom  = "vf"
	tlKeyValidUntil = "vu"
	tlKeyEntries    = "ent"

	entKeyID    = "kid"
	entNotBef   = "nbf"
	entNotAft   = "naf"
	entMask     = "msk"
	entCertDER  = "x5c"
	maskVacc    = 1
	maskTest    = 2
	maskRecover = 4
)

// TrustStore supplies issuer public keys by (key-id, certification type),
// refreshing from the network when stale and persisting encrypted
// (spec.md §4.3).
type TrustStore struct {
	engine *signedStore[TrustList]

	// missingListIsServiceError resolves spec.md §9's third Open Question:
	// whether a lookup against an empty/never-loaded list reports
	// LookupErrNotInList (false, default, matches the source) or is instead
	// surfaced by the caller as a service error (true).
	missingListIsServiceError bool
}

// NewTrustStore constructs a TrustStore. anchorCertBase64 is the base64 DER
// leaf certificate burned into configuration (spec.md §6) used solely to
// verify refreshes of the trust-list bundle itself.
func NewTrustStore(dataURL, sigURL, anchorCertBase64 string, fetcher Fetcher, store storage.Store, clock Clock, logger logr.Logger, missingListIsServiceError bool) (*TrustStore, error) {
	anchor, err := x509key.ParseLeafPublicKey(anchorCertBase64)
	if err != nil {
		return nil, fmt.Errorf("trust: trust-list anchor: %w", err)
	}
	return &TrustStore{
		engine:                    newSignedStore[TrustList]("trustlist", fetcher, dataURL, sigURL, anchor, store, clock, logger, decodeTrustList),
		missingListIsServiceError: missingListIsServiceError,
	}, nil
}

// Refresh forces an immediate refresh attempt, coalescing with any
// in-flight refresh already running.
func (s *TrustStore) Refresh(ctx context.Context) error {
	return s.engine.Refresh(ctx)
}

// Lookup searches the current trust list for key-id kid authorized for
// certification type ct, per spec.md §4.3's lookup semantics: the first
// entry (in document order) that is within its validity window and whose
// mask allows ct wins. A value-typed TrustEntry is returned (not a pointer
// into the live cache), so a concurrent refresh swap can never invalidate a
// result already handed to a caller (spec.md §5).
func (s *TrustStore) Lookup(ctx context.Context, kid []byte, ct CertificationType, now int64) (TrustEntry, LookupError) {
	list, state := s.engine.Get(ctx)

	if state == stateEmpty && len(list.Entries) == 0 && s.missingListIsServiceError {
		return TrustEntry{}, LookupErrServiceUnavailable
	}

	var sawID, sawWindow bool
	for _, e := range list.Entries {
		if !bytesEqual(e.KeyID, kid) {
			continue
		}
		sawID = true
		if !e.InWindow(now) {
			continue
		}
		sawWindow = true
		if !e.SignMask.Allows(ct) {
			continue
		}
		if e.PublicKey == nil {
			return e, LookupErrKeyCreation
		}
		return e, LookupErrNone
	}

	switch {
	case !sawID:
		return TrustEntry{}, LookupErrNotInList
	case !sawWindow:
		return TrustEntry{}, LookupErrKeyExpired
	default:
		return TrustEntry{}, LookupErrWrongType
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// decodeTrustList projects a verified trust-list CBOR payload into a
// Bundle[TrustList].
func decodeTrustList(payload []byte) (Bundle[TrustList], error) {
	v, err := cborcodec.Decode(payload)
	if err != nil {
		return Bundle[TrustList]{}, fmt.Errorf("trust: trustlist payload: %w", err)
	}
	if v.Kind != cborcodec.KindMap {
		return Bundle[TrustList]{}, fmt.Errorf("trust: trustlist payload is not a map")
	}

	vf, ok := intField(v, tlKeyValidFrom)
	if !ok {
		return Bundle[TrustList]{}, fmt.Errorf("trust: trustlist missing %q", tlKeyValidFrom)
	}
	vu, ok := intField(v, tlKeyValidUntil)
	if !ok {
		return Bundle[TrustList]{}, fmt.Errorf("trust: trustlist missing %q", tlKeyValidUntil)
	}

	entriesVal, ok := v.MapGetText(tlKeyEntries)
	if !ok || entriesVal.Kind != cborcodec.KindArray {
		return Bundle[TrustList]{}, fmt.Errorf("trust: trustlist missing %q array", tlKeyEntries)
	}

	entries := make([]TrustEntry, 0, len(entriesVal.Array))
	for _, ev := range entriesVal.Array {
		entry, err := decodeTrustEntry(ev)
		if err != nil {
			return Bundle[TrustList]{}, err
		}
		entries = append(entries, entry)
	}

	return Bundle[TrustList]{
		ValidFrom:  vf,
		ValidUntil: vu,
		Data: TrustList{
			ValidFrom:  vf,
			ValidUntil: vu,
			Entries:    entries,
		},
	}, nil
}

func decodeTrustEntry(v cborcodec.Value) (TrustEntry, error) {
	kidVal, ok := v.MapGetText(entKeyID)
	if !ok {
		return TrustEntry{}, fmt.Errorf("trust: entry missing %q", entKeyID)
	}
	kid, ok := kidVal.AsBytes()
	if !ok {
		return TrustEntry{}, fmt.Errorf("trust: entry %q is not a byte string", entKeyID)
	}

	nbf, ok := intField(v, entNotBef)
	if !ok {
		return TrustEntry{}, fmt.Errorf("trust: entry missing %q", entNotBef)
	}
	naf, ok := intField(v, entNotAft)
	if !ok {
		return TrustEntry{}, fmt.Errorf("trust: entry missing %q", entNotAft)
	}

	maskBits, _ := intField(v, entMask)
	mask := KeyTypeMask{
		Vaccination: maskBits&maskVacc != 0,
		Test:        maskBits&maskTest != 0,
		Recovery:    maskBits&maskRecover != 0,
	}

	entry := TrustEntry{KeyID: kid, NotBefore: nbf, NotAfter: naf, SignMask: mask}

	certVal, ok := v.MapGetText(entCertDER)
	if !ok {
		return entry, nil // entry present but unparseable public key is a lookup-time concern, not a decode error
	}
	der, ok := certVal.AsBytes()
	if !ok {
		return entry, nil
	}
	cert, err := x509key.ParseLeafCertificateDER(der)
	if err != nil {
		return entry, nil // PublicKey stays nil; Lookup reports KEY_CREATION_ERROR
	}
	pub, err := x509key.PublicKeyFromCertificate(cert)
	if err != nil {
		return entry, nil
	}
	entry.Certificate = cert
	entry.PublicKey = pub
	return entry, nil
}

func intField(v cborcodec.Value, key string) (int64, bool) {
	f, ok := v.MapGetText(key)
	if !ok {
		return 0, false
	}
	return f.AsInt64()
}
