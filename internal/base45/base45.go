// Package base45 implements the draft-faltstrom-base45 text encoding used to
// pack EU Digital Green Certificate QR payloads into alphanumeric-mode QR
// codes.
package base45

import "fmt"

// alphabet is the 45-character Base45 alphabet, in code-value order.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

var charValue [256]int8

func init() {
	for i := range charValue {
		charValue[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		charValue[alphabet[i]] = int8(i)
	}
}

// Decode decodes a Base45-encoded string into raw bytes.
//
// Input is processed in triplets of characters that expand to two bytes each,
// with an optional trailing doublet expanding to a single byte. A length
// congruent to 1 modulo 3, or any character outside the alphabet, is an
// error.
func Decode(s string) ([]byte, error) {
	if len(s)%3 == 1 {
		return nil, fmt.Errorf("base45: invalid length %d (mod 3 == 1)", len(s))
	}

	out := make([]byte, 0, (len(s)/3)*2+1)
	i := 0
	for i+3 <= len(s) {
		v, err := tripletValue(s[i], s[i+1], s[i+2])
		if err != nil {
			return nil, err
		}
		if v > 0xFFFF {
			return nil, fmt.Errorf("base45: triplet value %d out of range at offset %d", v, i)
		}
		out = append(out, byte(v>>8), byte(v))
		i += 3
	}

	if i < len(s) {
		v, err := doubletValue(s[i], s[i+1])
		if err != nil {
			return nil, err
		}
		if v > 0xFF {
			return nil, fmt.Errorf("base45: doublet value %d out of range at offset %d", v, i)
		}
		out = append(out, byte(v))
	}

	return out, nil
}

func tripletValue(a, b, c byte) (int, error) {
	va, err := value(a)
	if err != nil {
		return 0, err
	}
	vb, err := value(b)
	if err != nil {
		return 0, err
	}
	vc, err := value(c)
	if err != nil {
		return 0, err
	}
	return int(va) + int(vb)*45 + int(vc)*45*45, nil
}

func doubletValue(a, b byte) (int, error) {
	va, err := value(a)
	if err != nil {
		return 0, err
	}
	vb, err := value(b)
	if err != nil {
		return 0, err
	}
	return int(va) + int(vb)*45, nil
}

func value(c byte) (int8, error) {
	v := charValue[c]
	if v < 0 {
		return 0, fmt.Errorf("base45: invalid character %q", c)
	}
	return v, nil
}

// Encode encodes raw bytes into a Base45 string. It is the inverse of
// Decode and exists primarily so tests can construct round-trip fixtures.
func Encode(data []byte) string {
	out := make([]byte, 0, (len(data)/2)*3+2)
	i := 0
	for i+2 <= len(data) {
		n := int(data[i])<<8 | int(data[i+1])
		out = appendTriplet(out, n)
		i += 2
	}
	if i < len(data) {
		n := int(data[i])
		out = appendDoublet(out, n)
	}
	return string(out)
}

func appendTriplet(out []byte, n int) []byte {
	c := n % 45
	n /= 45
	d := n % 45
	n /= 45
	e := n % 45
	return append(out, alphabet[c], alphabet[d], alphabet[e])
}

func appendDoublet(out []byte, n int) []byte {
	c := n % 45
	n /= 45
	d := n % 45
	return append(out, alphabet[c], alphabet[d])
}
