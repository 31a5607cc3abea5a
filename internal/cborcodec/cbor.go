// Package cborcodec is a minimal CBOR (RFC 8949) decoder and low-level
// encoder, hand-rolled rather than built on a general-purpose CBOR library.
//
// The COSE_Sign1 signing byte sequence (the "Sig_structure") must be
// reconstructed deterministically from its constituent byte strings —
// canonical re-encoding by a general decoder is exactly the kind of
// framing-trust the spec forbids (a signature check must verify the bytes
// that were actually signed, not a library's idea of what they should look
// like). This package gives the cose and cwt packages that byte-exact
// control directly.
//
// Supported: unsigned/negative integers, definite-length byte strings and
// text strings, arrays, maps with integer or text keys, tag 18, and the
// major-type-7 simples used by health certificate payloads (bool, null,
// float16/32/64). Indefinite-length byte/text strings, arrays, and maps are
// also decoded: their items are read up to the break byte, and string
// chunks are concatenated.
package cborcodec

import (
	"errors"
	"fmt"
	"math"
)

// Kind identifies the CBOR major type (plus a split for ints) a decoded
// Value holds.
type Kind int

const (
	KindUint Kind = iota
	KindNegInt
	KindBytes
	KindText
	KindArray
	KindMap
	KindTag
	KindBool
	KindNull
	KindFloat
)

// Value is a generic decoded CBOR item. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind

	Uint  uint64  // KindUint
	Int   int64   // KindNegInt: the actual (already-negated) value
	Bytes []byte  // KindBytes
	Text  string  // KindText
	Bool  bool    // KindBool
	Float float64 // KindFloat

	Array []Value // KindArray

	// Map preserves insertion order because CBOR map key order is
	// significant for deterministic re-encoding; MapKeys[i] pairs with
	// MapVals[i].
	MapKeys []Value
	MapVals []Value

	Tag     uint64 // KindTag
	Content *Value // KindTag

	// Raw holds the exact encoded bytes this value was parsed from,
	// including its own head. The cose package relies on this to recover
	// a COSE_Sign1 payload's original bytes even when a producer embedded
	// it directly as a map instead of wrapping it in a byte string.
	Raw []byte
}

// ErrIndefiniteUnsupported is returned by callers that explicitly reject
// indefinite-length items; the decoder itself accepts and decodes them.
var ErrIndefiniteUnsupported = errors.New("cborcodec: indefinite-length item")

type decoder struct {
	buf []byte
	pos int
}

// Decode parses a single top-level CBOR data item from data. Trailing bytes
// after the item are ignored by this function; callers that must reject
// trailing garbage should compare len(consumed) themselves via DecodeOne.
func Decode(data []byte) (Value, error) {
	v, _, err := DecodeOne(data)
	return v, err
}

// DecodeOne parses a single top-level CBOR data item and returns the number
// of bytes consumed.
func DecodeOne(data []byte) (Value, int, error) {
	d := &decoder{buf: data}
	v, err := d.readValue()
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.pos, nil
}

func (d *decoder) eof() bool { return d.pos >= len(d.buf) }

func (d *decoder) readByte() (byte, error) {
	if d.eof() {
		return 0, io_ErrUnexpectedEOF()
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func io_ErrUnexpectedEOF() error { return errors.New("cborcodec: unexpected end of input") }

func (d *decoder) readN(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, io_ErrUnexpectedEOF()
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// readHead reads the initial byte and returns the major type, whether the
// item is indefinite-length (additional info 31), and the resolved argument
// (for additional info 0-27).
func (d *decoder) readHead() (major byte, indefinite bool, arg uint64, err error) {
	ib, err := d.readByte()
	if err != nil {
		return 0, false, 0, err
	}
	major = ib >> 5
	ai := ib & 0x1F

	switch {
	case ai < 24:
		return major, false, uint64(ai), nil
	case ai == 24:
		b, err := d.readByte()
		if err != nil {
			return 0, false, 0, err
		}
		return major, false, uint64(b), nil
	case ai == 25:
		b, err := d.readN(2)
		if err != nil {
			return 0, false, 0, err
		}
		return major, false, uint64(b[0])<<8 | uint64(b[1]), nil
	case ai == 26:
		b, err := d.readN(4)
		if err != nil {
			return 0, false, 0, err
		}
		var v uint64
		for _, x := range b {
			v = v<<8 | uint64(x)
		}
		return major, false, v, nil
	case ai == 27:
		b, err := d.readN(8)
		if err != nil {
			return 0, false, 0, err
		}
		var v uint64
		for _, x := range b {
			v = v<<8 | uint64(x)
		}
		return major, false, v, nil
	case ai == 31:
		return major, true, 0, nil
	default:
		return 0, false, 0, fmt.Errorf("cborcodec: reserved additional info %d", ai)
	}
}

func (d *decoder) readValue() (Value, error) {
	start := d.pos
	v, err := d.readValueInner()
	if err != nil {
		return Value{}, err
	}
	v.Raw = d.buf[start:d.pos]
	return v, nil
}

func (d *decoder) readValueInner() (Value, error) {
	major, indefinite, arg, err := d.readHead()
	if err != nil {
		return Value{}, err
	}

	switch major {
	case 0: // unsigned int
		return Value{Kind: KindUint, Uint: arg}, nil

	case 1: // negative int: value is -1-arg
		if arg > math.MaxInt64 {
			return Value{}, fmt.Errorf("cborcodec: negative int overflow")
		}
		return Value{Kind: KindNegInt, Int: -1 - int64(arg)}, nil

	case 2: // byte string
		if indefinite {
			b, err := d.readIndefiniteChunks(2)
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: KindBytes, Bytes: b}, nil
		}
		b, err := d.readN(int(arg))
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBytes, Bytes: append([]byte(nil), b...)}, nil

	case 3: // text string
		if indefinite {
			b, err := d.readIndefiniteChunks(3)
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: KindText, Text: string(b)}, nil
		}
		b, err := d.readN(int(arg))
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindText, Text: string(b)}, nil

	case 4: // array
		var items []Value
		if indefinite {
			for {
				if d.peekBreak() {
					d.pos++
					break
				}
				v, err := d.readValue()
				if err != nil {
					return Value{}, err
				}
				items = append(items, v)
			}
			return Value{Kind: KindArray, Array: items}, nil
		}
		items = make([]Value, 0, arg)
		for i := uint64(0); i < arg; i++ {
			v, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{Kind: KindArray, Array: items}, nil

	case 5: // map
		var keys, vals []Value
		if indefinite {
			for {
				if d.peekBreak() {
					d.pos++
					break
				}
				k, err := d.readValue()
				if err != nil {
					return Value{}, err
				}
				v, err := d.readValue()
				if err != nil {
					return Value{}, err
				}
				keys = append(keys, k)
				vals = append(vals, v)
			}
			return Value{Kind: KindMap, MapKeys: keys, MapVals: vals}, nil
		}
		keys = make([]Value, 0, arg)
		vals = make([]Value, 0, arg)
		for i := uint64(0); i < arg; i++ {
			k, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			v, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			keys = append(keys, k)
			vals = append(vals, v)
		}
		return Value{Kind: KindMap, MapKeys: keys, MapVals: vals}, nil

	case 6: // tag
		inner, err := d.readValue()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindTag, Tag: arg, Content: &inner}, nil

	case 7: // simple / float
		if indefinite {
			return Value{}, errors.New("cborcodec: indefinite-length simple value")
		}
		return d.simpleValue(arg)

	default:
		return Value{}, fmt.Errorf("cborcodec: unsupported major type %d", major)
	}
}

func (d *decoder) simpleValue(arg uint64) (Value, error) {
	switch arg {
	case 20:
		return Value{Kind: KindBool, Bool: false}, nil
	case 21:
		return Value{Kind: KindBool, Bool: true}, nil
	case 22:
		return Value{Kind: KindNull}, nil
	case 23:
		return Value{Kind: KindNull}, nil // undefined, treated as null
	case 25:
		// half-precision float: arg holds the raw bits read as a 2-byte
		// big-endian argument already (readHead ai==25 path reads 2 bytes).
		return Value{Kind: KindFloat, Float: float16ToFloat64(uint16(arg))}, nil
	case 26:
		return Value{Kind: KindFloat, Float: float64(math.Float32frombits(uint32(arg)))}, nil
	case 27:
		return Value{Kind: KindFloat, Float: math.Float64frombits(arg)}, nil
	default:
		return Value{}, fmt.Errorf("cborcodec: unsupported simple value %d", arg)
	}
}

func float16ToFloat64(h uint16) float64 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h) & 0x3FF

	var f32 uint32
	switch {
	case exp == 0:
		if frac == 0 {
			f32 = sign << 31
		} else {
			// subnormal
			for frac&0x400 == 0 {
				frac <<= 1
				exp--
			}
			exp++
			frac &= 0x3FF
			f32 = sign<<31 | (exp+112)<<23 | frac<<13
		}
	case exp == 0x1F:
		f32 = sign<<31 | 0xFF<<23 | frac<<13
	default:
		f32 = sign<<31 | (exp+112)<<23 | frac<<13
	}
	return float64(math.Float32frombits(f32))
}

func (d *decoder) peekBreak() bool {
	if d.eof() {
		return false
	}
	return d.buf[d.pos] == 0xFF
}

// readIndefiniteChunks reads a sequence of definite-length chunks of the
// given major type until the break byte, concatenating their bytes, so an
// indefinite-length byte/text string decodes to the same value as its
// definite-length form.
func (d *decoder) readIndefiniteChunks(wantMajor byte) ([]byte, error) {
	var out []byte
	for {
		if d.peekBreak() {
			d.pos++
			return out, nil
		}
		major, indefinite, arg, err := d.readHead()
		if err != nil {
			return nil, err
		}
		if major != wantMajor || indefinite {
			return nil, fmt.Errorf("cborcodec: malformed indefinite-length chunk")
		}
		b, err := d.readN(int(arg))
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
}
