package verifier

import (
	"context"
	"strings"

	"github.com/go-logr/logr"

	"github.com/eudgc/verifier/internal/base45"
	"github.com/eudgc/verifier/internal/cose"
	"github.com/eudgc/verifier/internal/gzipx"
	"github.com/eudgc/verifier/trust"
)

const (
	schemePrefix      = "HC1:"
	lightSchemePrefix = "LT1:" // supplemented: coronaqr.go's optional light-certificate prefix
)

// VerificationPipeline orchestrates decode -> parse -> lookup -> verify ->
// verdict (spec.md §4.5), plus business-rules evaluation (spec.md §4.5's
// second operation).
type VerificationPipeline struct {
	TrustStore         *trust.TrustStore
	BusinessRulesStore *trust.BusinessRulesStore
	ValueSetStore      *trust.ValueSetStore
	RulesEngine        RulesEngine
	Clock              Clock
	Logger             logr.Logger

	StrictIssuedAt          bool
	AcceptLightCertificates bool
}

// Verify runs the full decode/verify pipeline over encoded, short-circuiting
// to a terminal verdict at the first failing stage (spec.md §4.5).
func (p *VerificationPipeline) Verify(ctx context.Context, encoded string) VerificationVerdict {
	body, light, ok := stripPrefix(encoded, p.AcceptLightCertificates)
	if !ok {
		return fail(ErrInvalidSchemePrefix, nil)
	}

	compressed, err := base45.Decode(body)
	if err != nil {
		return fail(ErrBase45DecodingFailed, err)
	}

	coseBytes, err := gzipx.Inflate(compressed)
	if err != nil {
		return fail(ErrDecompressionFailed, err)
	}

	sign1, err := cose.Parse(coseBytes)
	if err != nil {
		return fail(ErrCoseDeserializationFail, err)
	}
	kid, ok := sign1.TruncatedKeyID()
	if !ok {
		return fail(ErrCoseDeserializationFail, nil)
	}
	alg, ok := sign1.Algorithm()
	if !ok {
		return fail(ErrCoseDeserializationFail, nil)
	}

	payload, err := sign1.PayloadValue()
	if err != nil {
		return fail(ErrCoseDeserializationFail, err)
	}
	cwt, err := parseCWT(payload, light && p.AcceptLightCertificates)
	if err != nil {
		return fail(ErrCborDeserializationFail, err)
	}

	meta := &VerificationMeta{Issuer: cwt.Issuer, IssuedAt: cwt.IssuedAt, ExpiresAt: cwt.ExpiresAt}
	cert := cwt.Cert

	now := p.Clock.Now().Unix()
	if !cwt.HasExpiry {
		return VerificationVerdict{Meta: meta, Certificate: &cert, Error: newErr(ErrCWTExpired, nil)}
	}
	if !cwt.IsValid(now, p.StrictIssuedAt) {
		return VerificationVerdict{Meta: meta, Certificate: &cert, Error: newErr(ErrCWTExpired, nil)}
	}

	entry, lookupErr := p.TrustStore.Lookup(ctx, kid, cert.CertificationType(), now)
	if lookupErr != trust.LookupErrNone {
		return VerificationVerdict{Meta: meta, Certificate: &cert, Error: lookupErrToVerificationError(lookupErr)}
	}
	if entry.Certificate != nil {
		meta.IssuerCertificate = entry.Certificate
	}

	if err := cose.Verify(sign1, alg, entry.PublicKey); err != nil {
		return VerificationVerdict{Meta: meta, Certificate: &cert, Error: newErr(ErrSignatureInvalid, err)}
	}

	return VerificationVerdict{Valid: true, Meta: meta, Certificate: &cert}
}

func stripPrefix(encoded string, acceptLight bool) (body string, light bool, ok bool) {
	if strings.HasPrefix(encoded, schemePrefix) {
		return encoded[len(schemePrefix):], false, true
	}
	if acceptLight && strings.HasPrefix(encoded, lightSchemePrefix) {
		return encoded[len(lightSchemePrefix):], true, true
	}
	return "", false, false
}

func fail(kind ErrorKind, cause error) VerificationVerdict {
	return VerificationVerdict{Error: newErr(kind, cause)}
}

func lookupErrToVerificationError(e trust.LookupError) *VerificationError {
	switch e {
	case trust.LookupErrNotInList:
		return newErr(ErrKeyNotInTrustList, e)
	case trust.LookupErrKeyExpired:
		return newErr(ErrPublicKeyExpired, e)
	case trust.LookupErrWrongType:
		return newErr(ErrUnsuitablePublicKeyType, e)
	case trust.LookupErrKeyCreation:
		return newErr(ErrKeyCreationError, e)
	case trust.LookupErrServiceUnavailable:
		return TrustServiceError("trust list unavailable")
	default:
		return newErr(ErrTrustServiceError, e)
	}
}

// EvaluateRules loads the current business rules and value sets and asks
// RulesEngine to evaluate cert against them, scoped by now/issued/expires
// and the issuing/testing country (spec.md §4.5's second operation). Any
// store-load failure reports a single failed element rather than silently
// passing.
func (p *VerificationPipeline) EvaluateRules(ctx context.Context, cert *EuHealthCert, now, issuedAt, expiresAt int64, country string) []RuleResult {
	rules, ok := p.BusinessRulesStore.Rules(ctx)
	if !ok {
		return []RuleResult{{Result: resultFailed, Detail: "business rules unavailable"}}
	}
	valueSets, ok := p.ValueSetStore.ValueSets(ctx)
	if !ok {
		return []RuleResult{{Result: resultFailed, Detail: "value sets unavailable"}}
	}

	params := RuleParams{
		Now:           now,
		IssuedAt:      issuedAt,
		ExpiresAt:     expiresAt,
		CountryOfTest: country,
		IssuerCountry: country,
		ValueSets:     trust.Flatten(valueSets),
	}

	results, err := p.RulesEngine.Evaluate(cert, rules, params)
	if err != nil {
		return []RuleResult{{Result: resultFailed, Detail: err.Error()}}
	}
	return results
}
