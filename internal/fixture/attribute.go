// Package fixture models patched fixtures, their attributes and the mapping from
// attribute values to DMX channels.
package fixture

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AttributeValue is a normalized attribute level in [0, 1].
// The zero value is 0.
type AttributeValue struct {
	v float64
}

// NewAttributeValue clamps f into [0, 1]. NaN becomes 0.
func NewAttributeValue(f float64) AttributeValue {
	switch {
	case math.IsNaN(f) || f < 0:
		return AttributeValue{0}
	case f > 1:
		return AttributeValue{1}
	}
	return AttributeValue{f}
}

// Float returns the normalized value.
func (a AttributeValue) Float() float64 {
	return a.v
}

// Byte converts to an 8-bit DMX value, rounding half away from zero.
func (a AttributeValue) Byte() byte {
	return byte(math.Round(a.v * 255))
}

// Word converts to a 16-bit value, rounding half away from zero.
func (a AttributeValue) Word() uint16 {
	return uint16(math.Round(a.v * 65535))
}

// Coarse returns the high byte of Word.
func (a AttributeValue) Coarse() byte {
	return byte(a.Word() >> 8)
}

// Fine returns the low byte of Word.
func (a AttributeValue) Fine() byte {
	return byte(a.Word())
}

func (a AttributeValue) String() string {
	return strconv.FormatFloat(a.v, 'f', -1, 64)
}

// ID identifies a patched fixture instance.
type ID string

// Attribute names a fixture capability. Index is non-zero for parametrized
// attributes such as Shutter(2).
type Attribute struct {
	Name  string
	Index int
}

// Common attributes.
var (
	Dimmer = Attribute{Name: "Dimmer"}
	Pan    = Attribute{Name: "Pan"}
	Tilt   = Attribute{Name: "Tilt"}
)

// Shutter returns the n-th shutter/strobe attribute.
func Shutter(n int) Attribute {
	return Attribute{Name: "Shutter", Index: n}
}

func (a Attribute) String() string {
	if a.Index == 0 {
		return a.Name
	}
	return fmt.Sprintf("%s(%d)", a.Name, a.Index)
}

// ParseAttribute parses "Dimmer" or "Shutter(2)".
func ParseAttribute(s string) (Attribute, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Attribute{}, fmt.Errorf("%w: empty name", ErrInvalidAttribute)
	}

	open := strings.IndexByte(s, '(')
	if open < 0 {
		if strings.ContainsAny(s, ") ") {
			return Attribute{}, fmt.Errorf("%w: %q", ErrInvalidAttribute, s)
		}
		return Attribute{Name: s}, nil
	}

	if open == 0 || !strings.HasSuffix(s, ")") {
		return Attribute{}, fmt.Errorf("%w: %q", ErrInvalidAttribute, s)
	}
	n, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil || n < 1 {
		return Attribute{}, fmt.Errorf("%w: bad index in %q", ErrInvalidAttribute, s)
	}
	return Attribute{Name: s[:open], Index: n}, nil
}

// MarshalText renders the attribute as "Name" or "Name(n)".
func (a Attribute) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the form written by MarshalText.
func (a *Attribute) UnmarshalText(b []byte) error {
	parsed, err := ParseAttribute(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
