package layers

import (
	"sync"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
)

// Programmer is the operator's work-in-progress layer and has the highest priority.
type Programmer struct {
	mu     sync.RWMutex
	values map[key]fixture.AttributeValue
}

// NewProgrammer creates an empty programmer.
func NewProgrammer() *Programmer {
	return &Programmer{values: make(map[key]fixture.AttributeValue)}
}

func (p *Programmer) Name() string  { return "programmer" }
func (p *Programmer) Priority() int { return PriorityProgrammer }

// Set stores a value, replacing any previous one for the attribute.
func (p *Programmer) Set(id fixture.ID, attr fixture.Attribute, v fixture.AttributeValue) {
	p.mu.Lock()
	p.values[key{id, attr}] = v
	p.mu.Unlock()
}

// Unset removes one attribute from the programmer.
func (p *Programmer) Unset(id fixture.ID, attr fixture.Attribute) {
	p.mu.Lock()
	delete(p.values, key{id, attr})
	p.mu.Unlock()
}

// Clear empties the programmer.
func (p *Programmer) Clear() {
	p.mu.Lock()
	p.values = make(map[key]fixture.AttributeValue)
	p.mu.Unlock()
}

// Values returns the programmer contents sorted by fixture and attribute.
func (p *Programmer) Values() []Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedValues(p.values)
}

// Apply writes every programmer value.
func (p *Programmer) Apply(w Writer) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	applySorted(w, p.values)
}
