package verifier

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/eudgc/verifier/internal/base45"
	"github.com/eudgc/verifier/internal/cborcodec"
	"github.com/eudgc/verifier/internal/cose"
	"github.com/eudgc/verifier/internal/gzipx"
	"github.com/eudgc/verifier/storage"
	"github.com/eudgc/verifier/trust"
)

// stubFetcher serves fixed bodies by URL, standing in for the network in
// end-to-end pipeline tests.
type stubFetcher struct {
	bodies map[string][]byte
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	b, ok := f.bodies[url]
	if !ok {
		return 404, nil, nil
	}
	return 200, b, nil
}

func selfSignedCert(t *testing.T, key *ecdsa.PrivateKey, cn string) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func buildTrustListPayload(entries ...[]byte) []byte {
	var entArr []byte
	for _, e := range entries {
		entArr = append(entArr, e...)
	}
	var out []byte
	out = append(out, cborcodec.EncodeMapHeader(3)...)
	out = append(out, cborcodec.EncodeText("vf")...)
	out = append(out, cborcodec.EncodeUint(0)...)
	out = append(out, cborcodec.EncodeText("vu")...)
	out = append(out, cborcodec.EncodeUint(1<<61)...)
	out = append(out, cborcodec.EncodeText("ent")...)
	out = append(out, cborcodec.EncodeArrayHeader(uint64(len(entries)))...)
	out = append(out, entArr...)
	return out
}

func buildTrustEntry(kid []byte, nbf, naf int64, mask int64, certDER []byte) []byte {
	var out []byte
	out = append(out, cborcodec.EncodeMapHeader(5)...)
	out = append(out, cborcodec.EncodeText("kid")...)
	out = append(out, cborcodec.EncodeBytes(kid)...)
	out = append(out, cborcodec.EncodeText("nbf")...)
	out = append(out, cborcodec.EncodeNegOrUint(nbf)...)
	out = append(out, cborcodec.EncodeText("naf")...)
	out = append(out, cborcodec.EncodeNegOrUint(naf)...)
	out = append(out, cborcodec.EncodeText("msk")...)
	out = append(out, cborcodec.EncodeUint(uint64(mask))...)
	out = append(out, cborcodec.EncodeText("x5c")...)
	out = append(out, cborcodec.EncodeBytes(certDER)...)
	return out
}

func signCOSE(t *testing.T, payload []byte, kid []byte, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	s := &cose.Sign1{
		Protected: cose.EncodeProtectedHeader(cose.AlgorithmES256, kid),
		Payload:   payload,
	}
	require.NoError(t, cose.Sign(s, cose.AlgorithmES256, key))
	return cose.Marshal(s)
}

func buildCertQRPayload(t *testing.T, issuer string, iat, exp int64, hcert []byte, kid []byte, key *ecdsa.PrivateKey) string {
	t.Helper()
	cwtPayload := buildPayload(issuer, iat, exp, hcert)
	coseBytes := signCOSE(t, cwtPayload, kid, key)
	compressed, err := gzipx.Deflate(coseBytes)
	require.NoError(t, err)
	return schemePrefix + base45.Encode(compressed)
}

// newTestPipeline wires a pipeline whose trust list is fetched from a
// stubFetcher and persisted under a temp-dir FileStore, with business rules
// and value sets both served as empty bundles.
func newTestPipeline(t *testing.T, anchorKey *ecdsa.PrivateKey, anchorDER []byte, trustListPayload []byte) *VerificationPipeline {
	t.Helper()

	anchorB64 := base64.StdEncoding.EncodeToString(anchorDER)
	signedTrustList := signCOSE(t, trustListPayload, nil, anchorKey)

	emptyRules := func() []byte {
		var out []byte
		out = append(out, cborcodec.EncodeArrayHeader(0)...)
		return out
	}()
	signedRules := signCOSE(t, emptyRules, nil, anchorKey)

	emptyValueSets := func() []byte {
		var out []byte
		out = append(out, cborcodec.EncodeMapHeader(0)...)
		return out
	}()
	signedValueSets := signCOSE(t, emptyValueSets, nil, anchorKey)

	fetcher := &stubFetcher{bodies: map[string][]byte{
		"trustlist-data": signedTrustList,
		"rules-data":     signedRules,
		"valuesets-data": signedValueSets,
	}}

	dir := t.TempDir()
	keyStore, err := storage.NewFileKeyStore(dir)
	require.NoError(t, err)
	fileStore, err := storage.NewFileStore(dir, keyStore)
	require.NoError(t, err)

	clock := NewFixedClock(time.Unix(1500, 0))

	trustStore, err := trust.NewTrustStore("trustlist-data", "", anchorB64, fetcher, fileStore, clock, logr.Discard(), false)
	require.NoError(t, err)
	rulesStore, err := trust.NewBusinessRulesStore("rules-data", "", anchorB64, fetcher, fileStore, clock, logr.Discard())
	require.NoError(t, err)
	valueSetStore, err := trust.NewValueSetStore("valuesets-data", "", anchorB64, fetcher, fileStore, clock, logr.Discard())
	require.NoError(t, err)

	return &VerificationPipeline{
		TrustStore:         trustStore,
		BusinessRulesStore: rulesStore,
		ValueSetStore:      valueSetStore,
		RulesEngine:        JSONLogicEngine{},
		Clock:              clock,
		Logger:             logr.Discard(),
	}
}

func TestVerifyHappyPath(t *testing.T) {
	anchorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	anchorDER := selfSignedCert(t, anchorKey, "dgcverify-test-anchor")

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerDER := selfSignedCert(t, issuerKey, "dgcverify-test-issuer")
	kid := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	entry := buildTrustEntry(kid, 0, 1<<61, 1, issuerDER)
	trustListPayload := buildTrustListPayload(entry)

	pipeline := newTestPipeline(t, anchorKey, anchorDER, trustListPayload)

	hcert := buildHCertV1(map[string][]byte{"v": buildVaccRecord()})
	qr := buildCertQRPayload(t, "AT", 1000, 2000, hcert, kid, issuerKey)

	verdict := pipeline.Verify(context.Background(), qr)
	require.True(t, verdict.Valid)
	require.Nil(t, verdict.Error)
	require.NotNil(t, verdict.Certificate)
	require.Equal(t, CertificationVaccination, verdict.Certificate.CertificationType())
	require.Equal(t, "AT", verdict.Meta.Issuer)
}

func TestVerifyMissingSchemePrefix(t *testing.T) {
	anchorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	anchorDER := selfSignedCert(t, anchorKey, "dgcverify-test-anchor")
	pipeline := newTestPipeline(t, anchorKey, anchorDER, buildTrustListPayload())

	verdict := pipeline.Verify(context.Background(), "not-a-certificate")
	require.False(t, verdict.Valid)
	require.Equal(t, ErrInvalidSchemePrefix, verdict.Error.Kind)
}

func TestVerifyTamperedSignature(t *testing.T) {
	anchorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	anchorDER := selfSignedCert(t, anchorKey, "dgcverify-test-anchor")

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerDER := selfSignedCert(t, issuerKey, "dgcverify-test-issuer")
	kid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	entry := buildTrustEntry(kid, 0, 1<<61, 1, issuerDER)
	pipeline := newTestPipeline(t, anchorKey, anchorDER, buildTrustListPayload(entry))

	hcert := buildHCertV1(map[string][]byte{"v": buildVaccRecord()})

	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	qr := buildCertQRPayload(t, "AT", 1000, 2000, hcert, kid, otherKey)

	verdict := pipeline.Verify(context.Background(), qr)
	require.False(t, verdict.Valid)
	require.Equal(t, ErrSignatureInvalid, verdict.Error.Kind)
}

func TestVerifyExpiredCertificate(t *testing.T) {
	anchorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	anchorDER := selfSignedCert(t, anchorKey, "dgcverify-test-anchor")

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerDER := selfSignedCert(t, issuerKey, "dgcverify-test-issuer")
	kid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	entry := buildTrustEntry(kid, 0, 1<<61, 1, issuerDER)
	pipeline := newTestPipeline(t, anchorKey, anchorDER, buildTrustListPayload(entry))

	hcert := buildHCertV1(map[string][]byte{"v": buildVaccRecord()})
	qr := buildCertQRPayload(t, "AT", 100, 200, hcert, kid, issuerKey) // expired well before clock at 1500

	verdict := pipeline.Verify(context.Background(), qr)
	require.False(t, verdict.Valid)
	require.Equal(t, ErrCWTExpired, verdict.Error.Kind)
	require.NotNil(t, verdict.Meta)
	require.Equal(t, "AT", verdict.Meta.Issuer)
}

func TestVerifyUnknownIssuer(t *testing.T) {
	anchorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	anchorDER := selfSignedCert(t, anchorKey, "dgcverify-test-anchor")
	pipeline := newTestPipeline(t, anchorKey, anchorDER, buildTrustListPayload()) // empty trust list

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	kid := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	hcert := buildHCertV1(map[string][]byte{"v": buildVaccRecord()})
	qr := buildCertQRPayload(t, "AT", 1000, 2000, hcert, kid, issuerKey)

	verdict := pipeline.Verify(context.Background(), qr)
	require.False(t, verdict.Valid)
	require.Equal(t, ErrKeyNotInTrustList, verdict.Error.Kind)
}

func TestVerifyWrongCertificationType(t *testing.T) {
	anchorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	anchorDER := selfSignedCert(t, anchorKey, "dgcverify-test-anchor")

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerDER := selfSignedCert(t, issuerKey, "dgcverify-test-issuer")
	kid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	// entry only authorizes test certificates (mask 2), not vaccination (1)
	entry := buildTrustEntry(kid, 0, 1<<61, 2, issuerDER)
	pipeline := newTestPipeline(t, anchorKey, anchorDER, buildTrustListPayload(entry))

	hcert := buildHCertV1(map[string][]byte{"v": buildVaccRecord()})
	qr := buildCertQRPayload(t, "AT", 1000, 2000, hcert, kid, issuerKey)

	verdict := pipeline.Verify(context.Background(), qr)
	require.False(t, verdict.Valid)
	require.Equal(t, ErrUnsuitablePublicKeyType, verdict.Error.Kind)
}
