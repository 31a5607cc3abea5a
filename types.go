// Package verifier decodes and validates EU Digital Green Certificate
// ("Health Certificate") QR payloads: Base45-encoded, gzip-compressed,
// COSE-signed CBOR Web Tokens carrying a vaccination, test, or recovery
// record.
package verifier

import (
	"crypto/x509"

	"github.com/eudgc/verifier/trust"
)

// CertificationType is the derived attribute distinguishing the three
// mutually exclusive EuHealthCert record kinds (spec.md §3). It is defined
// in package trust (key-type masks need it for Allows) and aliased here so
// callers of this package never need to import trust directly for it.
type CertificationType = trust.CertificationType

const (
	CertificationVaccination = trust.CertificationVaccination
	CertificationTest        = trust.CertificationTest
	CertificationRecovery    = trust.CertificationRecovery
)

// Name holds the certificate subject's personal name, in both display and
// transliterated (MRZ-style) form. Field tags are JSON-only: projection from
// CBOR is done by hand against the raw claim keys (fn/fnt/gn/gnt) in
// projectHealthCert, not by struct-tag-driven unmarshalling.
type Name struct {
	FamilyName    string `json:"familyName,omitempty"`
	FamilyNameStd string `json:"familyNameStd,omitempty"`
	GivenName     string `json:"givenName,omitempty"`
	GivenNameStd  string `json:"givenNameStd,omitempty"`
}

// VaccineRecord is a single vaccination event ("v" group).
//
// Doses and DoseSeries are float64 despite being integers per the formal
// DCC.Types schema: several national issuers (e.g. Ireland) encode them as
// CBOR floats, and a strict int projection would reject otherwise-valid
// certificates from those issuers.
type VaccineRecord struct {
	Target        string  `json:"target"`
	Vaccine       string  `json:"vaccine"`
	Product       string  `json:"product"`
	Manufacturer  string  `json:"manufacturer"`
	Doses         float64 `json:"doses"`
	DoseSeries    float64 `json:"doseSeries"`
	Date          string  `json:"date"`
	Country       string  `json:"country"`
	Issuer        string  `json:"issuer"`
	CertificateID string  `json:"certificateID"`
}

// TestRecord is a single test event ("t" group).
type TestRecord struct {
	Target         string `json:"target"`
	TestType       string `json:"testType"`
	Name           string `json:"name,omitempty"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	SampleDatetime string `json:"sampleDatetime"`
	TestResult     string `json:"testResult"`
	TestingCentre  string `json:"testingCentre"`
	Country        string `json:"country"`
	Issuer         string `json:"issuer"`
	CertificateID  string `json:"certificateID"`
}

// RecoveryRecord is a single recovery event ("r" group).
type RecoveryRecord struct {
	Target                string `json:"target"`
	FirstPositiveTestDate string `json:"firstPositiveTestDate"`
	ValidFromDate         string `json:"validFromDate"`
	ValidUntilDate        string `json:"validUntilDate"`
	Country               string `json:"country"`
	Issuer                string `json:"issuer"`
	CertificateID         string `json:"certificateID"`
}

// EuHealthCert is the typed EU Digital Green Certificate payload. Exactly
// one of Vaccination, Test, or Recovery is populated; CertificationType
// reports which. A tagged union rather than three optional slices would be
// more type-safe still, but this module keeps the teacher's plain-struct
// shape (coronaqr.go's CovidCert) and enforces the "exactly one" invariant
// at projection time instead (see projectHealthCert in cwt.go).
type EuHealthCert struct {
	Version      string `json:"version"`
	PersonalName Name   `json:"name"`
	DateOfBirth  string `json:"dateOfBirth"`

	Vaccination []VaccineRecord  `json:"vaccination,omitempty"`
	Test        []TestRecord     `json:"test,omitempty"`
	Recovery    []RecoveryRecord `json:"recovery,omitempty"`
}

// CertificationType derives which of the three mutually exclusive record
// kinds this certificate carries. Callers should only observe this after
// successful projection, which already enforces exactly one is populated.
func (c EuHealthCert) CertificationType() CertificationType {
	switch {
	case len(c.Vaccination) > 0:
		return CertificationVaccination
	case len(c.Test) > 0:
		return CertificationTest
	default:
		return CertificationRecovery
	}
}

// CWT is the CBOR Web Token envelope around an EuHealthCert (spec.md §3).
type CWT struct {
	Issuer     string
	IssuedAt   int64 // POSIX seconds; 0 if absent
	ExpiresAt  int64 // POSIX seconds
	HasExpiry  bool
	Cert       EuHealthCert
}

// IsValid reports whether now falls within [IssuedAt, ExpiresAt]. Per
// spec.md §9's Open Questions, the source computes IssuedAt but does not
// always gate on it; Strict controls whether now >= IssuedAt is enforced.
func (c CWT) IsValid(now int64, strict bool) bool {
	if strict && now < c.IssuedAt {
		return false
	}
	return now <= c.ExpiresAt
}

// TrustEntry is a single issuer key-authorization record (spec.md §3),
// defined in package trust and aliased here.
type TrustEntry = trust.TrustEntry

// KeyTypeMask records which certificate types an issuer key may sign for.
type KeyTypeMask = trust.KeyTypeMask

// TrustList is the signed catalog of currently-authorized issuer keys.
type TrustList = trust.TrustList

// VerificationMeta carries the decoded envelope metadata surfaced alongside
// a verdict, independent of whether the verdict is ultimately valid.
type VerificationMeta struct {
	Issuer            string
	IssuedAt          int64
	ExpiresAt         int64
	IssuerCertificate *x509.Certificate // present only when sourced from a cert-backed trust entry
}

// VerificationVerdict is the terminal result of VerificationPipeline.Verify.
// Valid is true if and only if Error is nil (spec.md §3 invariant).
type VerificationVerdict struct {
	Valid       bool
	Meta        *VerificationMeta
	Certificate *EuHealthCert
	Error       *VerificationError
}
