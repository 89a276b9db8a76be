// Package field implements the SNARK scalar field element type shared by
// every hash, commitment, label, nullifier and secret in the pool.
package field

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// ErrBadField is returned when an input cannot be reduced into a valid
// field element (malformed hex, nil value).
var ErrBadField = errors.New("field: bad field element")

// Modulus is the BN254 scalar field prime p.
var Modulus = fr.Modulus()

// Element is an unsigned integer in [0, p). It is always kept reduced.
type Element struct {
	v big.Int
}

// Zero is the additive identity.
func Zero() Element { return Element{} }

// FromBigInt reduces x mod p and returns the element.
func FromBigInt(x *big.Int) Element {
	if x == nil {
		return Element{}
	}
	var e Element
	e.v.Mod(x, Modulus)
	if e.v.Sign() < 0 {
		e.v.Add(&e.v, Modulus)
	}
	return e
}

// FromUint64 reduces a uint64 mod p.
func FromUint64(x uint64) Element {
	return FromBigInt(new(big.Int).SetUint64(x))
}

// FromFixedHex parses a 0x-prefixed, 32-byte big-endian hex string.
func FromFixedHex(s string) (Element, error) {
	if len(s) < 2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return Element{}, fmt.Errorf("%w: missing 0x prefix", ErrBadField)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return Element{}, fmt.Errorf("%w: %v", ErrBadField, err)
	}
	x := new(big.Int).SetBytes(raw)
	if x.Cmp(Modulus) >= 0 {
		return Element{}, fmt.Errorf("%w: out of field range", ErrBadField)
	}
	return Element{v: *x}, nil
}

// ToFixedHex renders the element as a 0x-prefixed, 32-byte big-endian hex string.
func (e Element) ToFixedHex() string {
	buf := make([]byte, 32)
	e.v.FillBytes(buf)
	return "0x" + hex.EncodeToString(buf)
}

// BigInt returns a copy of the underlying integer.
func (e Element) BigInt() *big.Int {
	return new(big.Int).Set(&e.v)
}

// IsZero reports whether the element is the additive identity.
func (e Element) IsZero() bool { return e.v.Sign() == 0 }

// Equal reports whether two elements are identical.
func (e Element) Equal(o Element) bool { return e.v.Cmp(&o.v) == 0 }

// Add returns e + o mod p.
func (e Element) Add(o Element) Element {
	r := new(big.Int).Add(&e.v, &o.v)
	return FromBigInt(r)
}

// Sub returns e - o mod p.
func (e Element) Sub(o Element) Element {
	r := new(big.Int).Sub(&e.v, &o.v)
	return FromBigInt(r)
}

// Cmp compares the underlying integers (not mod-p distance).
func (e Element) Cmp(o Element) int { return e.v.Cmp(&o.v) }

// LessOrEqual reports whether e <= o when compared as plain integers.
func (e Element) LessOrEqual(o Element) bool { return e.v.Cmp(&o.v) <= 0 }

// FrElement converts to a gnark-crypto fr.Element for in-circuit witness assembly.
func (e Element) FrElement() fr.Element {
	var f fr.Element
	f.SetBigInt(&e.v)
	return f
}

// String implements fmt.Stringer for diagnostics.
func (e Element) String() string { return e.v.String() }
