package trust

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/eudgc/verifier/internal/cborcodec"
	"github.com/eudgc/verifier/internal/x509key"
	"github.com/eudgc/verifier/storage"
)

// ValueSet is one named value-set entry (spec.md §4.4): a freshness window
// plus a mapping of display key to canonical code.
type ValueSet struct {
	ValidFrom      int64
	ValidUntil     int64
	ValueSetValues map[string]string
}

// ValueSetStore is the auxiliary store for the value-set bundle, mapping
// name -> ValueSet.
type ValueSetStore struct {
	engine *signedStore[map[string]ValueSet]
}

// NewValueSetStore constructs a ValueSetStore verified against
// anchorCertBase64.
func NewValueSetStore(dataURL, sigURL, anchorCertBase64 string, fetcher Fetcher, store storage.Store, clock Clock, logger logr.Logger) (*ValueSetStore, error) {
	anchor, err := x509key.ParseLeafPublicKey(anchorCertBase64)
	if err != nil {
		return nil, fmt.Errorf("trust: value-sets anchor: %w", err)
	}
	return &ValueSetStore{
		engine: newSignedStore[map[string]ValueSet]("valuesets", fetcher, dataURL, sigURL, anchor, store, clock, logger, decodeValueSets),
	}, nil
}

// Refresh forces an immediate refresh attempt.
func (s *ValueSetStore) Refresh(ctx context.Context) error {
	return s.engine.Refresh(ctx)
}

// ValueSets returns the currently cached name -> ValueSet mapping and
// whether it was ever successfully loaded.
func (s *ValueSetStore) ValueSets(ctx context.Context) (map[string]ValueSet, bool) {
	sets, state := s.engine.Get(ctx)
	return sets, state != stateEmpty
}

// Flatten reduces every value set to name -> sorted list of keys, the shape
// spec.md §4.5 says evaluateRules needs ("flattens value sets to
// name -> [keys]").
func Flatten(sets map[string]ValueSet) map[string][]string {
	out := make(map[string][]string, len(sets))
	for name, vs := range sets {
		keys := make([]string, 0, len(vs.ValueSetValues))
		for k := range vs.ValueSetValues {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out[name] = keys
	}
	return out
}

func decodeValueSets(payload []byte) (Bundle[map[string]ValueSet], error) {
	v, err := cborcodec.Decode(payload)
	if err != nil {
		return Bundle[map[string]ValueSet]{}, fmt.Errorf("trust: value-sets payload: %w", err)
	}
	if v.Kind != cborcodec.KindMap {
		return Bundle[map[string]ValueSet]{}, fmt.Errorf("trust: value-sets payload is not a map")
	}

	out := make(map[string]ValueSet, len(v.MapKeys))
	for i, k := range v.MapKeys {
		name, ok := k.AsText()
		if !ok {
			return Bundle[map[string]ValueSet]{}, fmt.Errorf("trust: value-sets has a non-text name key")
		}
		entry := v.MapVals[i]

		vf, _ := intField(entry, "validFrom")
		vu, _ := intField(entry, "validUntil")

		values := map[string]string{}
		if vv, ok := entry.MapGetText("valueSetValues"); ok && vv.Kind == cborcodec.KindMap {
			for j, vk := range vv.MapKeys {
				key, ok := vk.AsText()
				if !ok {
					continue
				}
				val, _ := vv.MapVals[j].AsText()
				values[key] = val
			}
		}

		out[name] = ValueSet{ValidFrom: vf, ValidUntil: vu, ValueSetValues: values}
	}

	return Bundle[map[string]ValueSet]{ValidFrom: 0, ValidUntil: maxEpoch, Data: out}, nil
}
