package verifier

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/eudgc/verifier/trust"
)

// RuleResult is one business-rule evaluation outcome (spec.md §4.5).
type RuleResult struct {
	RuleID string `json:"ruleID"`
	Result string `json:"result"` // "passed", "failed", or "open"
	Detail string `json:"detail,omitempty"`
}

const (
	resultPassed = "passed"
	resultFailed = "failed"
	resultOpen   = "open"
)

// RulesEngine evaluates a typed certificate against a set of business
// rules and value sets; the core only orchestrates it (spec.md §1). The
// pipeline, not the engine, is responsible for loading rules from the
// business-rules store — the engine itself is stateless.
type RulesEngine interface {
	Evaluate(cert *EuHealthCert, rules []trust.BusinessRule, params RuleParams) ([]RuleResult, error)
}

// RuleParams are the filter/external parameters a business-rules
// evaluation is scoped by (spec.md §4.5).
type RuleParams struct {
	Now            int64
	IssuedAt       int64
	ExpiresAt      int64
	CountryOfTest  string // the "country" filter parameter
	IssuerCountry  string
	ValueSets      map[string][]string
}

// JSONLogicEngine is the default RulesEngine, applying each business rule
// as a github.com/diegoholiveira/jsonlogic/v3 JSON-Logic expression against
// the certificate JSON plus the evaluation parameters. This is the one
// component of the retrieved pack's corpus offers no precedent for (no
// example repo embeds a rules engine); jsonlogic/v3 is named rather than
// grounded, as the closest idiomatic fit for "CertLogic rule objects", a
// JSON-Logic dialect (spec.md §4.4).
type JSONLogicEngine struct{}

// ruleEnvelope is the evaluation context every rule sees: the certificate
// under the "payload" key, and the scoping parameters under "external",
// mirroring the shape CertLogic-based DCC rule bundles use in production.
type ruleEnvelope struct {
	Payload  json.RawMessage `json:"payload"`
	External externalParams  `json:"external"`
}

type externalParams struct {
	ValidationClock           int64               `json:"validationClock"`
	ValidationClockAtIssuance int64               `json:"validationClockAtIssuance"`
	ExpirationTime            int64               `json:"exp"`
	CountryOfTest             string              `json:"countryOfTest,omitempty"`
	IssuerCountryCode         string              `json:"issuerCountryCode,omitempty"`
	ValueSets                 map[string][]string `json:"valueSets"`
}

func (JSONLogicEngine) Evaluate(cert *EuHealthCert, rules []trust.BusinessRule, params RuleParams) ([]RuleResult, error) {
	certJSON, err := json.Marshal(cert)
	if err != nil {
		return nil, fmt.Errorf("verifier: marshal certificate for rules evaluation: %w", err)
	}

	env := ruleEnvelope{
		Payload: certJSON,
		External: externalParams{
			ValidationClock:           params.Now,
			ValidationClockAtIssuance: params.IssuedAt,
			ExpirationTime:            params.ExpiresAt,
			CountryOfTest:             params.CountryOfTest,
			IssuerCountryCode:         params.IssuerCountry,
			ValueSets:                 params.ValueSets,
		},
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("verifier: marshal rule evaluation context: %w", err)
	}

	return evaluateBusinessRules(rules, envJSON)
}

// evaluateBusinessRules runs every rule's JSON-Logic expression against
// envJSON, treating rules as a slice of trust.BusinessRule objects so this
// function has no dependency on how the caller sourced them (the live
// trust store, or a test fixture).
func evaluateBusinessRules(rules []trust.BusinessRule, envJSON []byte) ([]RuleResult, error) {
	results := make([]RuleResult, 0, len(rules))
	for _, rule := range rules {
		id, _ := rule["id"].(string)
		if id == "" {
			id = "unidentified-rule"
		}
		logicValue, ok := rule["logic"]
		if !ok {
			logicValue = rule
		}

		logicJSON, err := json.Marshal(logicValue)
		if err != nil {
			results = append(results, RuleResult{RuleID: id, Result: resultOpen, Detail: "rule logic could not be serialized"})
			continue
		}

		var out bytes.Buffer
		if err := jsonlogic.Apply(bytes.NewReader(logicJSON), bytes.NewReader(envJSON), &out); err != nil {
			results = append(results, RuleResult{RuleID: id, Result: resultOpen, Detail: err.Error()})
			continue
		}

		var verdict any
		if err := json.Unmarshal(out.Bytes(), &verdict); err != nil {
			results = append(results, RuleResult{RuleID: id, Result: resultOpen, Detail: "rule produced non-JSON output"})
			continue
		}

		if truthy(verdict) {
			results = append(results, RuleResult{RuleID: id, Result: resultPassed})
		} else {
			results = append(results, RuleResult{RuleID: id, Result: resultFailed})
		}
	}

	if len(results) == 0 {
		// spec.md §4.5: "If the result set is empty, emit a single passed
		// element."
		return []RuleResult{{RuleID: "", Result: resultPassed}}, nil
	}
	return results, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}
