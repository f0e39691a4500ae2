package fixture

import (
	"fmt"
	"sort"

	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

// ChannelMapping binds an attribute to its channel offsets within a fixture mode.
// Offsets are 0-based from the fixture's start channel, coarse byte first.
type ChannelMapping struct {
	Attribute Attribute
	Offsets   []int
	Default   AttributeValue
}

// Resolution returns the mapping width in bytes.
func (m ChannelMapping) Resolution() int {
	return len(m.Offsets)
}

// Fixture is a patched fixture instance in one DMX mode.
type Fixture struct {
	ID           ID
	Name         string
	Universe     dmx.UniverseID
	StartChannel dmx.Channel
	Mode         string
	Channels     []ChannelMapping
}

// Mapping returns the channel mapping for an attribute.
func (f *Fixture) Mapping(attr Attribute) (ChannelMapping, bool) {
	for _, m := range f.Channels {
		if m.Attribute == attr {
			return m, true
		}
	}
	return ChannelMapping{}, false
}

// Footprint returns the number of channels the fixture occupies.
func (f *Fixture) Footprint() int {
	n := 0
	for _, m := range f.Channels {
		for _, off := range m.Offsets {
			if off+1 > n {
				n = off + 1
			}
		}
	}
	return n
}

// Validate checks the fixture address and that every mapped channel fits in its universe.
func (f *Fixture) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("fixture: empty id")
	}
	if f.Universe == 0 || f.Universe > dmx.MaxUniverseID {
		return fmt.Errorf("fixture %s: %w: %d", f.ID, dmx.ErrUniverseOutOfRange, f.Universe)
	}
	if !f.StartChannel.Valid() {
		return fmt.Errorf("fixture %s: %w: %d", f.ID, dmx.ErrChannelOutOfRange, f.StartChannel)
	}
	if last := int(f.StartChannel) + f.Footprint() - 1; last > dmx.UniverseSize {
		return fmt.Errorf("fixture %s: %w: footprint ends at %d", f.ID, dmx.ErrChannelOutOfRange, last)
	}
	return nil
}

// Patch is the read-only fixture lookup consumed by the pipeline.
type Patch interface {
	Fixture(id ID) (*Fixture, bool)
	Fixtures() []*Fixture
}

// MemoryPatch is an immutable in-memory Patch.
type MemoryPatch struct {
	byID  map[ID]*Fixture
	order []*Fixture
}

// NewMemoryPatch validates fixtures and indexes them by ID.
func NewMemoryPatch(fixtures ...*Fixture) (*MemoryPatch, error) {
	p := &MemoryPatch{byID: make(map[ID]*Fixture, len(fixtures))}
	for _, f := range fixtures {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.byID[f.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFixture, f.ID)
		}
		p.byID[f.ID] = f
		p.order = append(p.order, f)
	}
	sort.SliceStable(p.order, func(i, j int) bool {
		a, b := p.order[i], p.order[j]
		if a.Universe != b.Universe {
			return a.Universe < b.Universe
		}
		return a.StartChannel < b.StartChannel
	})
	return p, nil
}

// Fixture looks up a fixture by ID.
func (p *MemoryPatch) Fixture(id ID) (*Fixture, bool) {
	f, ok := p.byID[id]
	return f, ok
}

// Fixtures returns all fixtures ordered by universe and start channel.
func (p *MemoryPatch) Fixtures() []*Fixture {
	out := make([]*Fixture, len(p.order))
	copy(out, p.order)
	return out
}

// Universes returns the distinct universes used by the patch, ascending.
func (p *MemoryPatch) Universes() []dmx.UniverseID {
	seen := make(map[dmx.UniverseID]bool)
	var out []dmx.UniverseID
	for _, f := range p.order {
		if !seen[f.Universe] {
			seen[f.Universe] = true
			out = append(out, f.Universe)
		}
	}
	return out
}
