package layers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
)

// ErrUnknownPreset is returned when recalling a preset that was never stored.
var ErrUnknownPreset = errors.New("layers: unknown preset")

// Presets holds named attribute sets. Recalled presets are applied in recall order,
// so the most recent recall wins where presets overlap.
type Presets struct {
	mu     sync.RWMutex
	stored map[string]map[key]fixture.AttributeValue
	active []string
}

// NewPresets creates an empty preset layer.
func NewPresets() *Presets {
	return &Presets{stored: make(map[string]map[key]fixture.AttributeValue)}
}

func (p *Presets) Name() string  { return "presets" }
func (p *Presets) Priority() int { return PriorityPresets }

// Store saves or replaces a named preset.
func (p *Presets) Store(name string, values []Value) {
	m := make(map[key]fixture.AttributeValue, len(values))
	for _, v := range values {
		m[key{v.Fixture, v.Attribute}] = fixture.NewAttributeValue(v.Level)
	}

	p.mu.Lock()
	p.stored[name] = m
	p.mu.Unlock()
}

// Delete removes a preset, releasing it first if active.
func (p *Presets) Delete(name string) {
	p.mu.Lock()
	p.active = removeName(p.active, name)
	delete(p.stored, name)
	p.mu.Unlock()
}

// Stored returns the names of all stored presets.
func (p *Presets) Stored() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.stored))
	for n := range p.stored {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns a stored preset's values.
func (p *Presets) Get(name string) ([]Value, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.stored[name]
	if !ok {
		return nil, false
	}
	return sortedValues(m), true
}

// Recall activates a preset, moving it to the top if already active.
func (p *Presets) Recall(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.stored[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	p.active = append(removeName(p.active, name), name)
	return nil
}

// Release deactivates one preset.
func (p *Presets) Release(name string) {
	p.mu.Lock()
	p.active = removeName(p.active, name)
	p.mu.Unlock()
}

// ReleaseAll deactivates every preset.
func (p *Presets) ReleaseAll() {
	p.mu.Lock()
	p.active = nil
	p.mu.Unlock()
}

// Active returns the active presets in recall order.
func (p *Presets) Active() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.active...)
}

// Apply writes the active presets oldest first.
func (p *Presets) Apply(w Writer) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, name := range p.active {
		applySorted(w, p.stored[name])
	}
}

func removeName(names []string, name string) []string {
	out := names[:0:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
