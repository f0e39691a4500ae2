package fixture

import (
	"fmt"

	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

// ChannelValue is one resolved DMX slot write.
type ChannelValue struct {
	Address dmx.Address
	Value   dmx.Value
}

// ResolveChannels maps an attribute value to the DMX slots of a fixture.
// A 1-byte mapping yields one write, a 2-byte mapping yields coarse then fine.
func ResolveChannels(fx *Fixture, attr Attribute, v AttributeValue) ([]ChannelValue, error) {
	m, ok := fx.Mapping(attr)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s in mode %q", ErrUnsupportedAttribute, fx.ID, attr, fx.Mode)
	}
	return resolveMapping(fx, m, v)
}

// Defaults resolves every mapped attribute of the fixture at its default value.
func Defaults(fx *Fixture) []ChannelValue {
	var out []ChannelValue
	for _, m := range fx.Channels {
		cvs, err := resolveMapping(fx, m, m.Default)
		if err != nil {
			continue
		}
		out = append(out, cvs...)
	}
	return out
}

func resolveMapping(fx *Fixture, m ChannelMapping, v AttributeValue) ([]ChannelValue, error) {
	var values []byte
	switch m.Resolution() {
	case 0:
		return nil, fmt.Errorf("%w: %s %s", ErrMissingMapping, fx.ID, m.Attribute)
	case 1:
		values = []byte{v.Byte()}
	case 2:
		values = []byte{v.Coarse(), v.Fine()}
	default:
		return nil, fmt.Errorf("%w: %s %s is %d bytes", ErrResolution, fx.ID, m.Attribute, m.Resolution())
	}

	out := make([]ChannelValue, 0, len(values))
	for i, off := range m.Offsets {
		addr, err := dmx.NewAddress(int(fx.Universe), int(fx.StartChannel)+off)
		if err != nil {
			return nil, fmt.Errorf("fixture %s %s: %w", fx.ID, m.Attribute, err)
		}
		out = append(out, ChannelValue{Address: addr, Value: values[i]})
	}
	return out, nil
}
