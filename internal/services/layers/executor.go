package layers

import (
	"time"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/services/fade"
)

// Executor plays timed fades and has the lowest priority. Its levels are sampled from
// the fade engine once per tick.
type Executor struct {
	engine *fade.Engine
}

// NewExecutor wraps a fade engine.
func NewExecutor(engine *fade.Engine) *Executor {
	return &Executor{engine: engine}
}

func (e *Executor) Name() string  { return "executor" }
func (e *Executor) Priority() int { return PriorityExecutor }

// Fade starts fading targets and returns the fade ID.
func (e *Executor) Fade(targets []fade.Target, duration time.Duration, easing fade.EasingType, onComplete func()) string {
	return e.engine.FadeAttributes(targets, duration, "", easing, onComplete)
}

// Release stops the executor driving an attribute.
func (e *Executor) Release(id fixture.ID, attr fixture.Attribute) {
	e.engine.Release(id, attr)
}

// Cancel stops one fade, holding its attributes at their current level. It reports
// whether the fade was running.
func (e *Executor) Cancel(fadeID string) bool {
	return e.engine.CancelFade(fadeID)
}

// IsActive reports whether a fade is still running.
func (e *Executor) IsActive(fadeID string) bool {
	return e.engine.IsActive(fadeID)
}

// ReleaseAll stops every fade and releases every attribute.
func (e *Executor) ReleaseAll() {
	e.engine.ReleaseAll()
}

// ActiveFades returns the number of running fades.
func (e *Executor) ActiveFades() int {
	return e.engine.ActiveFadeCount()
}

// Apply writes the current fade levels.
func (e *Executor) Apply(w Writer) {
	for _, t := range e.engine.Sample() {
		w.SetValue(t.Fixture, t.Attribute, t.Value)
	}
}
