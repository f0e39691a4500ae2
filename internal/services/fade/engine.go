package fade

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/timeutil"
)

// Target is an attribute level: a fade destination, or a sampled value.
type Target struct {
	Fixture   fixture.ID
	Attribute fixture.Attribute
	Value     fixture.AttributeValue
}

type key struct {
	fixture   fixture.ID
	attribute fixture.Attribute
}

type attributeFade struct {
	key
	start float64
	end   float64
}

type activeFade struct {
	id         string
	attrs      []attributeFade
	startTime  time.Time
	duration   time.Duration
	easingType EasingType
	onComplete func()
}

// Engine tracks running fades. It has no loop of its own: the output scheduler calls
// Sample once per tick. Finished fades hold their end value until released.
type Engine struct {
	clock timeutil.Clock

	mu      sync.Mutex
	active  map[string]*activeFade
	current map[key]float64
	nextID  int
}

// NewEngine creates a fade engine reading time from clock.
func NewEngine(clock timeutil.Clock) *Engine {
	return &Engine{
		clock:   clock,
		active:  make(map[string]*activeFade),
		current: make(map[key]float64),
	}
}

// FadeAttributes starts fading targets from their current level over duration and
// returns the fade ID. Attributes already driven by another fade are taken over from
// their current interpolated level. A non-positive duration snaps immediately.
func (e *Engine) FadeAttributes(targets []Target, duration time.Duration, fadeID string, easingType EasingType, onComplete func()) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fadeID == "" {
		e.nextID++
		fadeID = fmt.Sprintf("fade-%d", e.nextID)
	}
	if easingType == "" {
		easingType = DefaultEasing
	}

	claimed := make(map[key]bool, len(targets))
	for _, t := range targets {
		claimed[key{t.Fixture, t.Attribute}] = true
	}
	e.releaseClaimed(claimed, fadeID)

	if duration <= 0 {
		for _, t := range targets {
			e.current[key{t.Fixture, t.Attribute}] = t.Value.Float()
		}
		if onComplete != nil {
			go onComplete()
		}
		return fadeID
	}

	f := &activeFade{
		id:         fadeID,
		startTime:  e.clock.Now(),
		duration:   duration,
		easingType: easingType,
		onComplete: onComplete,
	}
	for _, t := range targets {
		k := key{t.Fixture, t.Attribute}
		f.attrs = append(f.attrs, attributeFade{key: k, start: e.current[k], end: t.Value.Float()})
	}
	e.active[fadeID] = f
	return fadeID
}

// releaseClaimed removes claimed attributes from other fades, dropping fades left empty.
// Callers hold e.mu.
func (e *Engine) releaseClaimed(claimed map[key]bool, replacing string) {
	delete(e.active, replacing)
	for id, f := range e.active {
		remaining := f.attrs[:0]
		for _, a := range f.attrs {
			if !claimed[a.key] {
				remaining = append(remaining, a)
			}
		}
		if len(remaining) == 0 {
			delete(e.active, id)
			continue
		}
		f.attrs = remaining
	}
}

// Sample advances every fade to the clock's current time and returns the level of
// every attribute the engine controls, in fixture then attribute order.
func (e *Engine) Sample() []Target {
	e.mu.Lock()

	now := e.clock.Now()
	var callbacks []func()

	for id, f := range e.active {
		progress := float64(now.Sub(f.startTime)) / float64(f.duration)
		if progress >= 1 {
			for _, a := range f.attrs {
				e.current[a.key] = a.end
			}
			delete(e.active, id)
			if f.onComplete != nil {
				callbacks = append(callbacks, f.onComplete)
			}
			continue
		}
		for _, a := range f.attrs {
			e.current[a.key] = Interpolate(a.start, a.end, progress, f.easingType)
		}
	}

	out := make([]Target, 0, len(e.current))
	for k, v := range e.current {
		out = append(out, Target{Fixture: k.fixture, Attribute: k.attribute, Value: fixture.NewAttributeValue(v)})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Fixture != out[j].Fixture {
			return out[i].Fixture < out[j].Fixture
		}
		return out[i].Attribute.String() < out[j].Attribute.String()
	})

	if len(callbacks) > 0 {
		go func() {
			for _, cb := range callbacks {
				cb()
			}
		}()
	}
	return out
}

// CancelFade stops a fade, holding its attributes at their last sampled level.
func (e *Engine) CancelFade(fadeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[fadeID]
	delete(e.active, fadeID)
	return ok
}

// Release stops controlling an attribute.
func (e *Engine) Release(id fixture.ID, attr fixture.Attribute) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key{id, attr}
	e.releaseClaimed(map[key]bool{k: true}, "")
	delete(e.current, k)
}

// ReleaseAll cancels every fade and drops every held level.
func (e *Engine) ReleaseAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = make(map[string]*activeFade)
	e.current = make(map[key]float64)
}

// ActiveFadeCount returns the number of running fades.
func (e *Engine) ActiveFadeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// IsActive reports whether a fade is still running.
func (e *Engine) IsActive(fadeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[fadeID]
	return ok
}
