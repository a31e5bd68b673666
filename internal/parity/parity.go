// Package parity adds "even"/"odd" companion fields to the integer fields
// of a GeoPackage layer.
//
// A run loads one layer, selects its integer fields, ensures a text field
// named <prefix><field> exists for each of them, stages the parity of every
// value and commits the layer's edit session. Field creation and value
// writes persist together or not at all.
package parity

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Parity is the derived value stored in a parity field.
type Parity int

const (
	Null Parity = iota
	Even
	Odd
)

func (p Parity) String() string {
	switch p {
	case Even:
		return "even"
	case Odd:
		return "odd"
	default:
		return "NULL"
	}
}

// Value is what gets written to the parity field: the text, or nil for NULL.
func (p Parity) Value() any {
	switch p {
	case Even, Odd:
		return p.String()
	default:
		return nil
	}
}

// Outcome classifies how a source value was read.
type Outcome int

const (
	OK Outcome = iota
	// MissingValue: the source value is NULL.
	MissingValue
	// NotInteger: the source value cannot be read as an integer.
	NotInteger
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case MissingValue:
		return "missing_value"
	case NotInteger:
		return "not_integer"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the parity of one source value. Int is set when Outcome is OK.
type Result struct {
	Parity  Parity
	Outcome Outcome
	Int     *big.Int
}

// Compute returns the parity of v. Integers use integer modulo, so
// negative values keep their parity (-3 odd, -4 even).
func Compute(v any) Result {
	if v == nil {
		return Result{Parity: Null, Outcome: MissingValue}
	}
	n, ok := toInteger(v)
	if !ok {
		return Result{Parity: Null, Outcome: NotInteger}
	}
	if n.Bit(0) == 0 {
		return Result{Parity: Even, Outcome: OK, Int: n}
	}
	return Result{Parity: Odd, Outcome: OK, Int: n}
}

// toInteger converts a stored attribute to an integer. Booleans count as
// 0 and 1, floats truncate toward zero and text must be a base 10 integer
// literal.
func toInteger(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case int64:
		return big.NewInt(n), true
	case int:
		return big.NewInt(int64(n)), true
	case int32:
		return big.NewInt(int64(n)), true
	case int16:
		return big.NewInt(int64(n)), true
	case int8:
		return big.NewInt(int64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	case uint:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), true
	case bool:
		if n {
			return big.NewInt(1), true
		}
		return big.NewInt(0), true
	case float64:
		return truncate(n)
	case float32:
		return truncate(float64(n))
	case *big.Int:
		if n == nil {
			return nil, false
		}
		return new(big.Int).Set(n), true
	case string:
		return parseIntText(n)
	case []byte:
		return parseIntText(string(n))
	default:
		return nil, false
	}
}

func truncate(f float64) (*big.Int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	n, _ := big.NewFloat(math.Trunc(f)).Int(nil)
	return n, true
}

// parseIntText accepts surrounding whitespace, an optional sign and
// decimal digits, with single underscores allowed between digits.
func parseIntText(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if s == "" {
		return nil, false
	}

	var digits strings.Builder
	digits.Grow(len(s))
	afterUnderscore := true // also rejects a leading underscore
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits.WriteByte(c)
			afterUnderscore = false
		case c == '_' && !afterUnderscore:
			afterUnderscore = true
		default:
			return nil, false
		}
	}
	if afterUnderscore {
		return nil, false
	}

	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return nil, false
	}
	if neg {
		n.Neg(n)
	}
	return n, true
}
