// Package pipeline holds the unresolved attribute values written by the control layers
// and resolves them into DMX channel values.
package pipeline

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

// Key identifies one unresolved value.
type Key struct {
	Fixture   fixture.ID
	Attribute fixture.Attribute
}

func (k Key) String() string {
	return string(k.Fixture) + "." + k.Attribute.String()
}

// Stats summarizes one Resolve call.
type Stats struct {
	Applied   int
	Unpatched int
	Failed    int
	Universes int
}

// Pipeline owns the unresolved table and the resolved Multiverse. Resolve is the only
// writer of the Multiverse; readers get the last complete snapshot.
//
// Priority is the callers' contract: layers call SetValue in ascending priority order
// and the last write for a key wins.
type Pipeline struct {
	log *logger.Log

	mu         sync.Mutex
	unresolved map[Key]fixture.AttributeValue

	resolved atomic.Pointer[dmx.Multiverse]
	applied  atomic.Pointer[map[Key]fixture.AttributeValue]
}

// New creates an empty Pipeline.
func New(log *logger.Log) *Pipeline {
	p := &Pipeline{
		log:        log.Module("pipeline"),
		unresolved: make(map[Key]fixture.AttributeValue),
	}
	p.resolved.Store(dmx.NewMultiverse())
	empty := make(map[Key]fixture.AttributeValue)
	p.applied.Store(&empty)
	return p
}

// SetValue upserts an attribute value. It never fails.
func (p *Pipeline) SetValue(id fixture.ID, attr fixture.Attribute, v fixture.AttributeValue) {
	p.mu.Lock()
	p.unresolved[Key{Fixture: id, Attribute: attr}] = v
	p.mu.Unlock()
}

// Clear empties the unresolved table.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	p.unresolved = make(map[Key]fixture.AttributeValue)
	p.mu.Unlock()
}

// Resolve builds a new Multiverse: every patched fixture's defaults first, then each
// unresolved entry in key order. Entries for unpatched fixtures or unsupported
// attributes are logged and skipped. The new Multiverse and applied table replace
// the previous snapshots together once resolution is complete.
func (p *Pipeline) Resolve(patch fixture.Patch) Stats {
	p.mu.Lock()
	entries := make(map[Key]fixture.AttributeValue, len(p.unresolved))
	for k, v := range p.unresolved {
		entries[k] = v
	}
	p.mu.Unlock()

	m := dmx.NewMultiverse()
	for _, fx := range patch.Fixtures() {
		m.EnsureUniverse(fx.Universe)
		for _, cv := range fixture.Defaults(fx) {
			_ = m.Set(cv.Address, cv.Value)
		}
	}

	var stats Stats
	applied := make(map[Key]fixture.AttributeValue, len(entries))
	for _, k := range sortedKeys(entries) {
		v := entries[k]
		fx, ok := patch.Fixture(k.Fixture)
		if !ok {
			stats.Unpatched++
			p.log.WithField("key", k.String()).Debug("skipping value for unpatched fixture")
			continue
		}

		cvs, err := fixture.ResolveChannels(fx, k.Attribute, v)
		if err != nil {
			stats.Failed++
			entry := p.log.WithField("key", k.String()).WithError(err)
			if errors.Is(err, fixture.ErrUnsupportedAttribute) {
				entry.Debug("skipping unsupported attribute")
			} else {
				entry.Warn("skipping unresolvable value")
			}
			continue
		}
		for _, cv := range cvs {
			_ = m.Set(cv.Address, cv.Value)
		}
		applied[k] = v
		stats.Applied++
	}
	stats.Universes = m.Len()

	p.resolved.Store(m)
	p.applied.Store(&applied)
	return stats
}

// ResolvedMultiverse returns the result of the most recent Resolve. The returned
// Multiverse is shared with every transmitter and must be treated as read-only.
func (p *Pipeline) ResolvedMultiverse() *dmx.Multiverse {
	return p.resolved.Load()
}

// Applied returns a copy of the values applied by the most recent Resolve.
func (p *Pipeline) Applied() map[Key]fixture.AttributeValue {
	src := *p.applied.Load()
	out := make(map[Key]fixture.AttributeValue, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[Key]fixture.AttributeValue) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Fixture != b.Fixture {
			return a.Fixture < b.Fixture
		}
		if a.Attribute.Name != b.Attribute.Name {
			return a.Attribute.Name < b.Attribute.Name
		}
		return a.Attribute.Index < b.Attribute.Index
	})
	return keys
}
