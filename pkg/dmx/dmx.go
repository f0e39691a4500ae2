// Package dmx provides the DMX-512 addressing primitives shared by the resolver and the
// network transmitters.
package dmx

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// UniverseSize is the number of channels per DMX universe.
	UniverseSize = 512
	// MaxUniverseID is the largest universe number accepted anywhere in the engine.
	MaxUniverseID = 63999
)

var (
	// ErrChannelOutOfRange is returned when a channel is outside 1..512.
	ErrChannelOutOfRange = errors.New("dmx: channel out of range")
	// ErrUniverseOutOfRange is returned when a universe is not a positive number.
	ErrUniverseOutOfRange = errors.New("dmx: universe out of range")
)

// Channel is a 1-based DMX slot number (1..512).
type Channel uint16

// NewChannel validates and returns a Channel.
func NewChannel(n int) (Channel, error) {
	if n < 1 || n > UniverseSize {
		return 0, fmt.Errorf("%w: %d", ErrChannelOutOfRange, n)
	}
	return Channel(n), nil
}

// Valid reports whether the channel is in 1..512.
func (c Channel) Valid() bool {
	return c >= 1 && c <= UniverseSize
}

// UniverseID identifies one universe of 512 channels.
type UniverseID uint16

// NewUniverseID validates and returns a UniverseID.
func NewUniverseID(n int) (UniverseID, error) {
	if n < 1 || n > MaxUniverseID {
		return 0, fmt.Errorf("%w: %d", ErrUniverseOutOfRange, n)
	}
	return UniverseID(n), nil
}

// Value is a single DMX slot value.
type Value = byte

// Address is a unique DMX slot coordinate.
type Address struct {
	Universe UniverseID
	Channel  Channel
}

// NewAddress validates both halves of an address.
func NewAddress(universe, channel int) (Address, error) {
	u, err := NewUniverseID(universe)
	if err != nil {
		return Address{}, err
	}
	c, err := NewChannel(channel)
	if err != nil {
		return Address{}, err
	}
	return Address{Universe: u, Channel: c}, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%03d", a.Universe, a.Channel)
}

// Universe holds the 512 slot values of one universe.
type Universe [UniverseSize]byte

// Get returns the value of a channel, or 0 for an invalid channel.
func (u *Universe) Get(c Channel) Value {
	if !c.Valid() {
		return 0
	}
	return u[c-1]
}

// Set writes a channel value. Invalid channels are ignored.
func (u *Universe) Set(c Channel, v Value) {
	if !c.Valid() {
		return
	}
	u[c-1] = v
}

// Multiverse maps universe numbers to their channel values.
// Universes are created on first write.
type Multiverse struct {
	universes map[UniverseID]*Universe
}

// NewMultiverse creates an empty Multiverse.
func NewMultiverse() *Multiverse {
	return &Multiverse{universes: make(map[UniverseID]*Universe)}
}

// Set writes a value at an address, creating the universe if needed.
func (m *Multiverse) Set(addr Address, v Value) error {
	if addr.Universe == 0 {
		return fmt.Errorf("%w: 0", ErrUniverseOutOfRange)
	}
	if !addr.Channel.Valid() {
		return fmt.Errorf("%w: %d", ErrChannelOutOfRange, addr.Channel)
	}
	u, ok := m.universes[addr.Universe]
	if !ok {
		u = &Universe{}
		m.universes[addr.Universe] = u
	}
	u.Set(addr.Channel, v)
	return nil
}

// ChannelValue returns the value at universe/channel, and false when the universe
// has never been written.
func (m *Multiverse) ChannelValue(universe UniverseID, c Channel) (Value, bool) {
	u, ok := m.universes[universe]
	if !ok || !c.Valid() {
		return 0, false
	}
	return u.Get(c), true
}

// Universe returns a copy of a universe's values, and false if it does not exist.
func (m *Multiverse) Universe(id UniverseID) (Universe, bool) {
	u, ok := m.universes[id]
	if !ok {
		return Universe{}, false
	}
	return *u, true
}

// EnsureUniverse creates an all-zero universe if it does not exist yet.
func (m *Multiverse) EnsureUniverse(id UniverseID) {
	if _, ok := m.universes[id]; !ok && id != 0 {
		m.universes[id] = &Universe{}
	}
}

// UniverseIDs returns the existing universe numbers in ascending order.
func (m *Multiverse) UniverseIDs() []UniverseID {
	ids := make([]UniverseID, 0, len(m.universes))
	for id := range m.universes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of universes.
func (m *Multiverse) Len() int {
	return len(m.universes)
}

// Clear removes every universe.
func (m *Multiverse) Clear() {
	m.universes = make(map[UniverseID]*Universe)
}

// Equal reports whether two multiverses hold the same universes and values.
func (m *Multiverse) Equal(other *Multiverse) bool {
	if len(m.universes) != len(other.universes) {
		return false
	}
	for id, u := range m.universes {
		o, ok := other.universes[id]
		if !ok || *u != *o {
			return false
		}
	}
	return true
}
