package cborcodec

import "fmt"

// MapGetInt looks up a map value by an integer key, matching either a
// KindUint or KindNegInt key value. Returns false if key is absent or v is
// not a map.
func (v Value) MapGetInt(key int64) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	for i, k := range v.MapKeys {
		if keyAsInt(k) == key {
			return v.MapVals[i], true
		}
	}
	return Value{}, false
}

// MapGetText looks up a map value by a text key.
func (v Value) MapGetText(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	for i, k := range v.MapKeys {
		if k.Kind == KindText && k.Text == key {
			return v.MapVals[i], true
		}
	}
	return Value{}, false
}

func keyAsInt(v Value) int64 {
	switch v.Kind {
	case KindUint:
		return int64(v.Uint)
	case KindNegInt:
		return v.Int
	default:
		return 0
	}
}

// AsInt64 returns an integer-valued Value (KindUint or KindNegInt) as an
// int64.
func (v Value) AsInt64() (int64, bool) {
	switch v.Kind {
	case KindUint:
		return int64(v.Uint), true
	case KindNegInt:
		return v.Int, true
	default:
		return 0, false
	}
}

// AsText returns a KindText value's string, or ok=false otherwise.
func (v Value) AsText() (string, bool) {
	if v.Kind != KindText {
		return "", false
	}
	return v.Text, true
}

// AsBytes returns a KindBytes value's bytes, or ok=false otherwise.
func (v Value) AsBytes() ([]byte, bool) {
	if v.Kind != KindBytes {
		return nil, false
	}
	return v.Bytes, true
}

// AsFloat64 coerces any numeric Value (uint, negint, or float) to float64.
// Several EU DGC producers encode integer-valued fields like dose number as
// CBOR floats; downstream typed projection needs a single numeric view.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindUint:
		return float64(v.Uint), true
	case KindNegInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// ToAny recursively converts a Value into plain Go values (map[string]any,
// []any, string, []byte, uint64, int64, float64, bool, nil) suitable for
// encoding/json —
// used to hand a business-rules bundle or value-set bundle decoded off the
// wire to the JSON-Logic engine without a second, struct-tagged CBOR
// decoder just for that shape. Map keys that are not KindText are rendered
// with their Value.String() representation.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindUint:
		return v.Uint
	case KindNegInt:
		return v.Int
	case KindBytes:
		return v.Bytes
	case KindText:
		return v.Text
	case KindBool:
		return v.Bool
	case KindFloat:
		return v.Float
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.MapKeys))
		for i, k := range v.MapKeys {
			key := k.Text
			if k.Kind != KindText {
				key = k.String()
			}
			out[key] = v.MapVals[i].ToAny()
		}
		return out
	case KindTag:
		if v.Content != nil {
			return v.Content.ToAny()
		}
		return nil
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindUint:
		return fmt.Sprintf("uint(%d)", v.Uint)
	case KindNegInt:
		return fmt.Sprintf("int(%d)", v.Int)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KindText:
		return fmt.Sprintf("text(%q)", v.Text)
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.Array))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.MapKeys))
	case KindTag:
		return fmt.Sprintf("tag(%d)", v.Tag)
	case KindBool:
		return fmt.Sprintf("bool(%v)", v.Bool)
	case KindFloat:
		return fmt.Sprintf("float(%v)", v.Float)
	default:
		return "null"
	}
}
