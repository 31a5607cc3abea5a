package trust

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/eudgc/verifier/internal/cborcodec"
	"github.com/eudgc/verifier/internal/x509key"
	"github.com/eudgc/verifier/storage"
)

// BusinessRule is one CertLogic/JSON-Logic rule object, kept as a generic
// tree (rather than a fixed struct) since the engine only ever needs it
// re-serialized to JSON (spec.md §4.4).
type BusinessRule = map[string]any

// BusinessRulesStore is the auxiliary store for the business-rules bundle
// (spec.md §4.4): structurally identical to TrustStore, aside from the
// payload schema (a list of rule objects instead of issuer keys).
type BusinessRulesStore struct {
	engine *signedStore[[]BusinessRule]
}

// NewBusinessRulesStore constructs a BusinessRulesStore verified against
// anchorCertBase64.
func NewBusinessRulesStore(dataURL, sigURL, anchorCertBase64 string, fetcher Fetcher, store storage.Store, clock Clock, logger logr.Logger) (*BusinessRulesStore, error) {
	anchor, err := x509key.ParseLeafPublicKey(anchorCertBase64)
	if err != nil {
		return nil, fmt.Errorf("trust: business-rules anchor: %w", err)
	}
	return &BusinessRulesStore{
		engine: newSignedStore[[]BusinessRule]("businessrules", fetcher, dataURL, sigURL, anchor, store, clock, logger, decodeRules),
	}, nil
}

// Refresh forces an immediate refresh attempt.
func (s *BusinessRulesStore) Refresh(ctx context.Context) error {
	return s.engine.Refresh(ctx)
}

// Rules returns the currently cached rule list and whether it was ever
// successfully loaded (state != Empty). An empty, never-loaded store
// returns a nil slice and ok=false — callers treat that as a hard failure
// (spec.md §4.5: "an offline device without rules must not silently pass").
func (s *BusinessRulesStore) Rules(ctx context.Context) ([]BusinessRule, bool) {
	rules, state := s.engine.Get(ctx)
	return rules, state != stateEmpty
}

func decodeRules(payload []byte) (Bundle[[]BusinessRule], error) {
	v, err := cborcodec.Decode(payload)
	if err != nil {
		return Bundle[[]BusinessRule]{}, fmt.Errorf("trust: business-rules payload: %w", err)
	}
	if v.Kind != cborcodec.KindArray {
		return Bundle[[]BusinessRule]{}, fmt.Errorf("trust: business-rules payload is not an array")
	}
	rules := make([]BusinessRule, 0, len(v.Array))
	for _, e := range v.Array {
		conv := e.ToAny()
		m, ok := conv.(map[string]any)
		if !ok {
			return Bundle[[]BusinessRule]{}, fmt.Errorf("trust: business-rules entry is not an object")
		}
		rules = append(rules, m)
	}
	// Business-rules bundles carry no freshness window of their own: the
	// rule list embeds no validFrom/validUntil fields the way a TrustList
	// does, so this store treats every
	// successfully-verified refresh as fresh indefinitely until replaced —
	// staleness here is bounded by how often the pipeline calls Refresh,
	// not by a payload-embedded window.
	return Bundle[[]BusinessRule]{ValidFrom: 0, ValidUntil: maxEpoch, Data: rules}, nil
}

// maxEpoch stands in for "no embedded expiry" bundles (business rules,
// value sets): effectively never stale from the fresh() check's
// perspective, so staleness is driven entirely by explicit Refresh calls.
const maxEpoch = 1<<62 - 1
