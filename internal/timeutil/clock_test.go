package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), c.Now())
	assert.Equal(t, 5*time.Second, c.Since(start))
}

func TestMockTimer_FiresAtDeadline(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(25 * time.Millisecond)

	c.Advance(24 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestMockTimer_ZeroDurationFiresImmediately(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(0)

	select {
	case <-timer.C():
	default:
		t.Fatal("zero-duration timer did not fire")
	}
}

func TestMockTimer_StopAndReset(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(10 * time.Millisecond)

	assert.True(t, timer.Stop())
	c.Advance(20 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}

	timer.Reset(10 * time.Millisecond)
	c.Advance(10 * time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	timer := c.NewTimer(time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}
