package math

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrDivisionByZero is returned for a zero denominator or a division by a zero fraction.
var ErrDivisionByZero = errors.New("division by zero")

// Fraction is an exact rational number kept in lowest terms with a positive denominator.
// Values are immutable; every operation returns a new Fraction.
// The zero value is 0/1.
type Fraction struct {
	num *big.Int
	den *big.Int
}

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
)

// NewFraction builds numerator/denominator reduced to lowest terms.
func NewFraction(numerator, denominator *big.Int) (Fraction, error) {
	if denominator == nil || denominator.Sign() == 0 {
		return Fraction{}, fmt.Errorf("%w: fraction %s/0", ErrDivisionByZero, numerator)
	}
	if numerator == nil {
		numerator = bigZero
	}
	return reduce(new(big.Int).Set(numerator), new(big.Int).Set(denominator)), nil
}

// MustFraction is NewFraction for operands known to have a non-zero denominator.
func MustFraction(numerator, denominator *big.Int) Fraction {
	f, err := NewFraction(numerator, denominator)
	if err != nil {
		panic(err)
	}
	return f
}

// FromInt64 builds n/d from machine integers.
func FromInt64(n, d int64) (Fraction, error) {
	return NewFraction(big.NewInt(n), big.NewInt(d))
}

// FromInt builds n/1.
func FromInt(n *big.Int) Fraction {
	return MustFraction(n, bigOne)
}

// Zero returns 0/1.
func Zero() Fraction { return Fraction{} }

// One returns 1/1.
func One() Fraction { return FromInt(bigOne) }

// ParseFraction accepts "n", "n/d" or a decimal such as "0.001".
func ParseFraction(s string) (Fraction, error) {
	s = strings.TrimSpace(s)
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		n, ok := new(big.Int).SetString(strings.TrimSpace(parts[0]), 10)
		if !ok {
			return Fraction{}, fmt.Errorf("parse fraction %q: bad numerator", s)
		}
		d, ok := new(big.Int).SetString(strings.TrimSpace(parts[1]), 10)
		if !ok {
			return Fraction{}, fmt.Errorf("parse fraction %q: bad denominator", s)
		}
		return NewFraction(n, d)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Fraction{}, fmt.Errorf("parse fraction %q", s)
	}
	return NewFraction(r.Num(), r.Denom())
}

func reduce(num, den *big.Int) Fraction {
	if den.Sign() < 0 {
		num.Neg(num)
		den.Neg(den)
	}
	gcd := new(big.Int).GCD(nil, nil, new(big.Int).Abs(num), den)
	if gcd.Cmp(bigOne) > 0 {
		num.Quo(num, gcd)
		den.Quo(den, gcd)
	}
	return Fraction{num: num, den: den}
}

// Numerator returns a copy of the reduced numerator.
func (f Fraction) Numerator() *big.Int { return new(big.Int).Set(f.n()) }

// Denominator returns a copy of the reduced, positive denominator.
func (f Fraction) Denominator() *big.Int { return new(big.Int).Set(f.d()) }

func (f Fraction) n() *big.Int {
	if f.num == nil {
		return bigZero
	}
	return f.num
}

func (f Fraction) d() *big.Int {
	if f.den == nil {
		return bigOne
	}
	return f.den
}

// Add returns f + g.
func (f Fraction) Add(g Fraction) Fraction {
	num := new(big.Int).Mul(f.n(), g.d())
	num.Add(num, new(big.Int).Mul(g.n(), f.d()))
	return reduce(num, new(big.Int).Mul(f.d(), g.d()))
}

// Sub returns f - g.
func (f Fraction) Sub(g Fraction) Fraction {
	return f.Add(g.Negate())
}

// Mul returns f * g.
func (f Fraction) Mul(g Fraction) Fraction {
	return reduce(new(big.Int).Mul(f.n(), g.n()), new(big.Int).Mul(f.d(), g.d()))
}

// Div returns f / g, failing when g is zero.
func (f Fraction) Div(g Fraction) (Fraction, error) {
	if g.IsZero() {
		return Fraction{}, fmt.Errorf("%w: %s / %s", ErrDivisionByZero, f, g)
	}
	return f.Mul(g.Inverted()), nil
}

// Negate returns -f.
func (f Fraction) Negate() Fraction {
	return Fraction{num: new(big.Int).Neg(f.n()), den: new(big.Int).Set(f.d())}
}

// Inverted returns 1/f. The inverse of zero is zero.
func (f Fraction) Inverted() Fraction {
	if f.IsZero() {
		return Fraction{}
	}
	return reduce(new(big.Int).Set(f.d()), new(big.Int).Set(f.n()))
}

// IsZero reports whether f == 0.
func (f Fraction) IsZero() bool {
	return f.n().Sign() == 0
}

// Sign returns -1, 0 or +1.
func (f Fraction) Sign() int {
	return f.n().Sign()
}

// Cmp compares by the sign of f - g.
func (f Fraction) Cmp(g Fraction) int {
	return f.Sub(g).Sign()
}

// Gt reports f > g.
func (f Fraction) Gt(g Fraction) bool { return f.Cmp(g) > 0 }

// Lt reports f < g.
func (f Fraction) Lt(g Fraction) bool { return f.Cmp(g) < 0 }

// Equal reports f == g.
func (f Fraction) Equal(g Fraction) bool { return f.Cmp(g) == 0 }

// Min returns the smaller of f and g.
func Min(f, g Fraction) Fraction {
	if g.Lt(f) {
		return g
	}
	return f
}

// ToNumber returns the nearest float64. This is the only lossy operation.
func (f Fraction) ToNumber() float64 {
	v, _ := new(big.Rat).SetFrac(f.n(), f.d()).Float64()
	return v
}

// ToInteger truncates toward zero.
func (f Fraction) ToInteger() *big.Int {
	return new(big.Int).Quo(f.n(), f.d())
}

func (f Fraction) String() string {
	return fmt.Sprintf("%s/%s", f.n(), f.d())
}

// MarshalJSON renders the approximate numeric value.
func (f Fraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToNumber())
}
