package verifier

import (
	"fmt"

	"github.com/eudgc/verifier/internal/cborcodec"
)

// CWT claim keys (RFC 8392 §3.1) plus the EU DGC's private hcert claim.
const (
	claimIssuer    = 1
	claimExpiresAt = 4
	claimIssuedAt  = 6
	claimHCert     = -260
	claimHCertLite = -250 // supplemented: coronaqr.go's "light" DCC claim key
)

// hcertVersionKey is the key hcert's value map uses for the DCC schema
// version this module targets.
const hcertVersionKey = 1

// parseCWT projects a decoded COSE payload map into a CWT, enforcing the
// claim shape spec.md §4.2 requires. acceptLight additionally accepts the
// supplemented light-certificate claim key (-250) alongside the standard
// one (-260); see SPEC_FULL.md §3.
func parseCWT(payload cborcodec.Value, acceptLight bool) (CWT, error) {
	if payload.Kind != cborcodec.KindMap {
		return CWT{}, fmt.Errorf("cwt: payload is not a CBOR map")
	}

	var cwt CWT

	if v, ok := payload.MapGetInt(claimIssuer); ok {
		if s, ok := v.AsText(); ok {
			cwt.Issuer = s
		}
	}
	if v, ok := payload.MapGetInt(claimIssuedAt); ok {
		if n, ok := v.AsInt64(); ok {
			cwt.IssuedAt = n
		}
	}
	if v, ok := payload.MapGetInt(claimExpiresAt); ok {
		n, ok := v.AsInt64()
		if !ok {
			return CWT{}, fmt.Errorf("cwt: exp claim is not an integer")
		}
		cwt.ExpiresAt = n
		cwt.HasExpiry = true
	}

	hcert, ok := payload.MapGetInt(claimHCert)
	if !ok && acceptLight {
		hcert, ok = payload.MapGetInt(claimHCertLite)
	}
	if !ok {
		return CWT{}, fmt.Errorf("cwt: missing hcert claim")
	}
	if hcert.Kind != cborcodec.KindMap {
		return CWT{}, fmt.Errorf("cwt: hcert claim is not a map")
	}

	cert, ok := hcert.MapGetInt(hcertVersionKey)
	if !ok {
		return CWT{}, fmt.Errorf("cwt: hcert has no schema-version entry")
	}

	eh, err := projectHealthCert(cert)
	if err != nil {
		return CWT{}, err
	}
	cwt.Cert = eh

	return cwt, nil
}

// EU DGC payload map keys (the "JSON-over-CBOR" DCC.Types schema).
const (
	hcKeyVersion = "ver"
	hcKeyName    = "nam"
	hcKeyDOB     = "dob"
	hcKeyVacc    = "v"
	hcKeyTest    = "t"
	hcKeyRecov   = "r"

	nameKeyFamilyName    = "fn"
	nameKeyFamilyNameStd = "fnt"
	nameKeyGivenName     = "gn"
	nameKeyGivenNameStd  = "gnt"
)

// projectHealthCert builds an EuHealthCert from a decoded hcert.v1 map,
// enforcing that exactly one of v/t/r is present and non-empty (spec.md §3).
func projectHealthCert(v cborcodec.Value) (EuHealthCert, error) {
	if v.Kind != cborcodec.KindMap {
		return EuHealthCert{}, fmt.Errorf("cwt: hcert.v1 is not a map")
	}

	var eh EuHealthCert

	ver, ok := v.MapGetText(hcKeyVersion)
	if !ok {
		return EuHealthCert{}, fmt.Errorf("cwt: hcert missing %q", hcKeyVersion)
	}
	eh.Version, _ = ver.AsText()

	dob, ok := v.MapGetText(hcKeyDOB)
	if !ok {
		return EuHealthCert{}, fmt.Errorf("cwt: hcert missing %q", hcKeyDOB)
	}
	eh.DateOfBirth, _ = dob.AsText()

	nam, ok := v.MapGetText(hcKeyName)
	if !ok {
		return EuHealthCert{}, fmt.Errorf("cwt: hcert missing %q", hcKeyName)
	}
	eh.PersonalName = projectName(nam)
	if eh.PersonalName.FamilyName == "" && eh.PersonalName.FamilyNameStd == "" {
		return EuHealthCert{}, fmt.Errorf("cwt: hcert.nam missing family name")
	}
	if eh.PersonalName.GivenName == "" && eh.PersonalName.GivenNameStd == "" {
		return EuHealthCert{}, fmt.Errorf("cwt: hcert.nam missing given name")
	}

	groups := 0
	if vacc, ok := v.MapGetText(hcKeyVacc); ok {
		eh.Vaccination = projectVaccinations(vacc)
		if len(eh.Vaccination) > 0 {
			groups++
		}
	}
	if test, ok := v.MapGetText(hcKeyTest); ok {
		eh.Test = projectTests(test)
		if len(eh.Test) > 0 {
			groups++
		}
	}
	if recov, ok := v.MapGetText(hcKeyRecov); ok {
		eh.Recovery = projectRecoveries(recov)
		if len(eh.Recovery) > 0 {
			groups++
		}
	}

	if groups != 1 {
		return EuHealthCert{}, fmt.Errorf("cwt: hcert must contain exactly one non-empty record group, found %d", groups)
	}

	return eh, nil
}

func projectName(v cborcodec.Value) Name {
	var n Name
	if f, ok := v.MapGetText(nameKeyFamilyName); ok {
		n.FamilyName, _ = f.AsText()
	}
	if f, ok := v.MapGetText(nameKeyFamilyNameStd); ok {
		n.FamilyNameStd, _ = f.AsText()
	}
	if f, ok := v.MapGetText(nameKeyGivenName); ok {
		n.GivenName, _ = f.AsText()
	}
	if f, ok := v.MapGetText(nameKeyGivenNameStd); ok {
		n.GivenNameStd, _ = f.AsText()
	}
	return n
}

func textField(v cborcodec.Value, key string) string {
	if f, ok := v.MapGetText(key); ok {
		s, _ := f.AsText()
		return s
	}
	return ""
}

func floatField(v cborcodec.Value, key string) float64 {
	if f, ok := v.MapGetText(key); ok {
		n, _ := f.AsFloat64()
		return n
	}
	return 0
}

func projectVaccinations(arr cborcodec.Value) []VaccineRecord {
	if arr.Kind != cborcodec.KindArray {
		return nil
	}
	out := make([]VaccineRecord, 0, len(arr.Array))
	for _, e := range arr.Array {
		out = append(out, VaccineRecord{
			Target:        textField(e, "tg"),
			Vaccine:       textField(e, "vp"),
			Product:       textField(e, "mp"),
			Manufacturer:  textField(e, "ma"),
			Doses:         floatField(e, "dn"),
			DoseSeries:    floatField(e, "sd"),
			Date:          textField(e, "dt"),
			Country:       textField(e, "co"),
			Issuer:        textField(e, "is"),
			CertificateID: textField(e, "ci"),
		})
	}
	return out
}

func projectTests(arr cborcodec.Value) []TestRecord {
	if arr.Kind != cborcodec.KindArray {
		return nil
	}
	out := make([]TestRecord, 0, len(arr.Array))
	for _, e := range arr.Array {
		out = append(out, TestRecord{
			Target:         textField(e, "tg"),
			TestType:       textField(e, "tt"),
			Name:           textField(e, "nm"),
			Manufacturer:   textField(e, "ma"),
			SampleDatetime: textField(e, "sc"),
			TestResult:     textField(e, "tr"),
			TestingCentre:  textField(e, "tc"),
			Country:        textField(e, "co"),
			Issuer:         textField(e, "is"),
			CertificateID:  textField(e, "ci"),
		})
	}
	return out
}

func projectRecoveries(arr cborcodec.Value) []RecoveryRecord {
	if arr.Kind != cborcodec.KindArray {
		return nil
	}
	out := make([]RecoveryRecord, 0, len(arr.Array))
	for _, e := range arr.Array {
		out = append(out, RecoveryRecord{
			Target:                textField(e, "tg"),
			FirstPositiveTestDate: textField(e, "fr"),
			ValidFromDate:         textField(e, "df"),
			ValidUntilDate:        textField(e, "du"),
			Country:               textField(e, "co"),
			Issuer:                textField(e, "is"),
			CertificateID:         textField(e, "ci"),
		})
	}
	return out
}
