// Package layers provides the control layers that write attribute values into the
// pipeline each output tick, lowest priority first.
package layers

import (
	"sort"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
)

// Priorities of the built-in layers. Higher values are applied later and win.
const (
	PriorityExecutor   = 10
	PriorityPresets    = 20
	PriorityProgrammer = 30
)

// Writer receives attribute values. *pipeline.Pipeline implements it.
type Writer interface {
	SetValue(id fixture.ID, attr fixture.Attribute, v fixture.AttributeValue)
}

// Layer re-applies its values every tick. A layer that no longer drives an attribute
// simply stops writing it.
type Layer interface {
	Name() string
	Priority() int
	Apply(w Writer)
}

// Value is one attribute level held by a layer.
type Value struct {
	Fixture   fixture.ID        `json:"fixture"`
	Attribute fixture.Attribute `json:"attribute"`
	Level     float64           `json:"value"`
}

// Sort orders layers by ascending priority, keeping the given order for ties.
func Sort(ls []Layer) []Layer {
	out := append([]Layer(nil), ls...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}

type key struct {
	fixture   fixture.ID
	attribute fixture.Attribute
}

func sortedValues(m map[key]fixture.AttributeValue) []Value {
	out := make([]Value, 0, len(m))
	for k, v := range m {
		out = append(out, Value{Fixture: k.fixture, Attribute: k.attribute, Level: v.Float()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Fixture != out[j].Fixture {
			return out[i].Fixture < out[j].Fixture
		}
		return out[i].Attribute.String() < out[j].Attribute.String()
	})
	return out
}

func applySorted(w Writer, m map[key]fixture.AttributeValue) {
	for _, v := range sortedValues(m) {
		w.SetValue(v.Fixture, v.Attribute, fixture.NewAttributeValue(v.Level))
	}
}
