// Package output drives the fixed-rate output tick: layers write into the pipeline,
// the pipeline resolves a frame, and every transmitter receives it.
package output

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/layers"
	"github.com/bbernstein/lacylights-engine/internal/services/pipeline"
	"github.com/bbernstein/lacylights-engine/internal/services/pubsub"
	"github.com/bbernstein/lacylights-engine/internal/timeutil"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

const (
	// DefaultRateHz is the output refresh rate used when none is configured.
	DefaultRateHz = 40
	MinRateHz     = 25
	MaxRateHz     = 44
)

var (
	ErrRate           = errors.New("output: rate out of range")
	ErrAlreadyRunning = errors.New("output: scheduler already running")
)

// Config holds scheduler configuration.
type Config struct {
	RateHz int
}

// Validate checks the refresh rate.
func (c Config) Validate() error {
	if c.RateHz < MinRateHz || c.RateHz > MaxRateHz {
		return fmt.Errorf("%w: %dHz, want %d..%d", ErrRate, c.RateHz, MinRateHz, MaxRateHz)
	}
	return nil
}

// Interval returns the tick period.
func (c Config) Interval() time.Duration {
	return time.Second / time.Duration(c.RateHz)
}

// Tick describes one completed output cycle.
type Tick struct {
	Seq      uint64
	At       time.Time
	Duration time.Duration
	Overrun  bool
	Resolve  pipeline.Stats
	Frame    *dmx.Multiverse
}

// TickObserver is called on the scheduler goroutine after every tick. It must not block.
type TickObserver func(Tick)

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Running      bool           `json:"running"`
	RateHz       int            `json:"rateHz"`
	Ticks        uint64         `json:"ticks"`
	Overruns     uint64         `json:"overruns"`
	LastDuration time.Duration  `json:"lastDurationNs"`
	MaxDuration  time.Duration  `json:"maxDurationNs"`
	LastResolve  pipeline.Stats `json:"lastResolve"`
	Outputs      int            `json:"outputs"`
}

// Scheduler owns the output loop.
type Scheduler struct {
	cfg          Config
	interval     time.Duration
	pipeline     *pipeline.Pipeline
	patch        fixture.Patch
	layers       []layers.Layer
	transmitters []Transmitter
	clock        timeutil.Clock
	log          *logger.Log

	mu        sync.RWMutex
	running   bool
	stopChan  chan struct{}
	done      chan struct{}
	observers []TickObserver
	stats     Stats

	// cycleMu serializes RunCycle so a manual cycle never interleaves with the loop.
	cycleMu sync.Mutex
}

// NewScheduler validates cfg and assembles a scheduler. Layers are applied in
// ascending priority regardless of the order given.
func NewScheduler(cfg Config, p *pipeline.Pipeline, patch fixture.Patch, ls []layers.Layer, txs []Transmitter, clock timeutil.Clock, log *logger.Log) (*Scheduler, error) {
	if cfg.RateHz == 0 {
		cfg.RateHz = DefaultRateHz
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return &Scheduler{
		cfg:          cfg,
		interval:     cfg.Interval(),
		pipeline:     p,
		patch:        patch,
		layers:       layers.Sort(ls),
		transmitters: append([]Transmitter(nil), txs...),
		clock:        clock,
		log:          log.Module("output"),
	}, nil
}

// OnTick registers an observer for completed ticks.
func (s *Scheduler) OnTick(fn TickObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Patch returns the patch the scheduler resolves against.
func (s *Scheduler) Patch() fixture.Patch {
	return s.patch
}

// Transmitters returns the outputs driven by the scheduler.
func (s *Scheduler) Transmitters() []Transmitter {
	return append([]Transmitter(nil), s.transmitters...)
}

// Start launches the output loop. The first tick runs immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stopChan, s.done)

	s.log.WithFields(map[string]interface{}{
		"rate_hz": s.cfg.RateHz,
		"layers":  len(s.layers),
		"outputs": len(s.transmitters),
	}).Info("🎭 Output scheduler started")
	return nil
}

// Stop ends the loop, waits for the in-flight tick, then stops every transmitter.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done

	for _, tx := range s.transmitters {
		tx.Stop()
	}
	s.log.Info("🎭 Output scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// nextDeadline returns the deadline following prev. When the tick that started at
// prev finished at or after that deadline, the schedule restarts from now and the
// caller runs the next tick immediately; missed frames are not replayed.
func nextDeadline(prev, now time.Time, interval time.Duration) (time.Time, bool) {
	next := prev.Add(interval)
	if !next.After(now) {
		return now, true
	}
	return next, false
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	deadline := s.clock.Now()
	timer := s.clock.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C():
		}

		s.RunCycle()

		now := s.clock.Now()
		next, overrun := nextDeadline(deadline, now, s.interval)
		if overrun {
			s.mu.Lock()
			s.stats.Overruns++
			s.mu.Unlock()
		}
		deadline = next
		timer.Reset(next.Sub(now))
	}
}

// RunCycle performs one output tick: clear the pipeline, let every layer write in
// ascending priority, resolve a fresh frame and hand it to every transmitter.
func (s *Scheduler) RunCycle() Tick {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.clock.Now()

	s.pipeline.Clear()
	for _, l := range s.layers {
		l.Apply(s.pipeline)
	}
	resolved := s.pipeline.Resolve(s.patch)
	frame := s.pipeline.ResolvedMultiverse()

	for _, tx := range s.transmitters {
		tx.Transmit(frame)
	}

	elapsed := s.clock.Since(start)

	s.mu.Lock()
	s.stats.Ticks++
	s.stats.LastDuration = elapsed
	if elapsed > s.stats.MaxDuration {
		s.stats.MaxDuration = elapsed
	}
	s.stats.LastResolve = resolved
	tick := Tick{
		Seq:      s.stats.Ticks,
		At:       start,
		Duration: elapsed,
		Overrun:  elapsed >= s.interval,
		Resolve:  resolved,
		Frame:    frame,
	}
	observers := s.observers
	s.mu.Unlock()

	if tick.Overrun {
		s.log.WithFields(map[string]interface{}{
			"tick":     tick.Seq,
			"duration": elapsed.String(),
			"interval": s.interval.String(),
		}).Warn("Output tick overran its interval")
	}

	for _, fn := range observers {
		fn(tick)
	}
	return tick
}

// Stats returns a snapshot of the loop counters.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.stats
	st.Running = s.running
	st.RateHz = s.cfg.RateHz
	st.Outputs = len(s.transmitters)
	return st
}

// UniverseFrame is the payload published on pubsub.TopicDMXOutput, one per universe.
type UniverseFrame struct {
	Tick     uint64 `json:"tick"`
	Universe uint16 `json:"universe"`
	Channels []int  `json:"channels"`
}

// PublishTo returns an observer that fans each resolved universe out to subscribers
// of pubsub.TopicDMXOutput, filtered by universe number.
func PublishTo(ps *pubsub.PubSub) TickObserver {
	return func(t Tick) {
		if ps.SubscriberCount(pubsub.TopicDMXOutput) == 0 {
			return
		}
		for _, id := range t.Frame.UniverseIDs() {
			u, _ := t.Frame.Universe(id)
			channels := make([]int, len(u))
			for i, v := range u {
				channels[i] = int(v)
			}
			ps.Publish(pubsub.TopicDMXOutput, fmt.Sprint(id), UniverseFrame{
				Tick:     t.Seq,
				Universe: uint16(id),
				Channels: channels,
			})
		}
	}
}
