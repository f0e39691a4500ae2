package pipeline

import (
	"sync"
	"testing"

	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPatch(t *testing.T) *fixture.MemoryPatch {
	t.Helper()
	patch, err := fixture.NewMemoryPatch(
		&fixture.Fixture{
			ID: "par1", Universe: 1, StartChannel: 1, Mode: "1ch",
			Channels: []fixture.ChannelMapping{{Attribute: fixture.Dimmer, Offsets: []int{0}}},
		},
		&fixture.Fixture{
			ID: "mh1", Universe: 2, StartChannel: 1, Mode: "16bit",
			Channels: []fixture.ChannelMapping{
				{Attribute: fixture.Pan, Offsets: []int{0, 1}},
				{Attribute: fixture.Shutter(1), Offsets: []int{2}, Default: fixture.NewAttributeValue(1)},
			},
		},
	)
	require.NoError(t, err)
	return patch
}

func channel(t *testing.T, p *Pipeline, u dmx.UniverseID, c dmx.Channel) byte {
	t.Helper()
	v, ok := p.ResolvedMultiverse().ChannelValue(u, c)
	require.True(t, ok, "universe %d missing", u)
	return v
}

func TestResolve_EndToEnd(t *testing.T) {
	p := New(logger.Discard())
	patch := testPatch(t)

	p.SetValue("par1", fixture.Dimmer, fixture.NewAttributeValue(1.0))
	stats := p.Resolve(patch)

	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, byte(255), channel(t, p, 1, 1))
}

func TestResolve_SixteenBit(t *testing.T) {
	p := New(logger.Discard())

	p.SetValue("mh1", fixture.Pan, fixture.NewAttributeValue(0.5))
	p.Resolve(testPatch(t))

	word := fixture.NewAttributeValue(0.5).Word()
	assert.Equal(t, byte(word>>8), channel(t, p, 2, 1))
	assert.Equal(t, byte(word), channel(t, p, 2, 2))
}

func TestResolve_LastWriterWins(t *testing.T) {
	p := New(logger.Discard())

	p.SetValue("par1", fixture.Dimmer, fixture.NewAttributeValue(0.2))
	p.SetValue("par1", fixture.Dimmer, fixture.NewAttributeValue(0.8))
	p.Resolve(testPatch(t))

	assert.Equal(t, fixture.NewAttributeValue(0.8).Byte(), channel(t, p, 1, 1))
	assert.Equal(t, 0.8, p.Applied()[Key{Fixture: "par1", Attribute: fixture.Dimmer}].Float())
}

func TestResolve_Idempotent(t *testing.T) {
	p := New(logger.Discard())
	patch := testPatch(t)

	p.SetValue("par1", fixture.Dimmer, fixture.NewAttributeValue(0.4))
	p.SetValue("mh1", fixture.Pan, fixture.NewAttributeValue(0.3))

	p.Resolve(patch)
	first := p.ResolvedMultiverse()
	p.Resolve(patch)
	second := p.ResolvedMultiverse()

	assert.NotSame(t, first, second)
	assert.True(t, first.Equal(second), "second resolve changed the multiverse")
}

func TestResolve_PartialFailure(t *testing.T) {
	p := New(logger.Discard())

	p.SetValue("ghost", fixture.Dimmer, fixture.NewAttributeValue(1))
	p.SetValue("par1", fixture.Tilt, fixture.NewAttributeValue(1))
	p.SetValue("par1", fixture.Dimmer, fixture.NewAttributeValue(1))

	var stats Stats
	require.NotPanics(t, func() { stats = p.Resolve(testPatch(t)) })

	assert.Equal(t, Stats{Applied: 1, Unpatched: 1, Failed: 1, Universes: 2}, stats)
	assert.Equal(t, byte(255), channel(t, p, 1, 1))
	assert.Len(t, p.Applied(), 1)
}

func TestResolve_SeedsDefaults(t *testing.T) {
	p := New(logger.Discard())
	patch := testPatch(t)

	p.Resolve(patch)
	assert.Equal(t, byte(255), channel(t, p, 2, 3), "shutter default")
	assert.Equal(t, byte(0), channel(t, p, 1, 1))

	// A layer that stops writing releases the channel back to its default.
	p.SetValue("mh1", fixture.Shutter(1), fixture.NewAttributeValue(0))
	p.Resolve(patch)
	assert.Equal(t, byte(0), channel(t, p, 2, 3))

	p.Clear()
	p.Resolve(patch)
	assert.Equal(t, byte(255), channel(t, p, 2, 3))
	assert.Empty(t, p.Applied())
}

func TestResolve_ConcurrentSetValue(t *testing.T) {
	p := New(logger.Discard())
	patch := testPatch(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p.SetValue("par1", fixture.Dimmer, fixture.NewAttributeValue(float64(j)/200))
			}
		}(i)
	}
	for i := 0; i < 50; i++ {
		m := p.Resolve(patch)
		assert.Equal(t, 2, m.Universes)
	}
	wg.Wait()
}

func TestApplied_ReturnsCopy(t *testing.T) {
	p := New(logger.Discard())
	p.SetValue("par1", fixture.Dimmer, fixture.NewAttributeValue(1))
	p.Resolve(testPatch(t))

	a := p.Applied()
	delete(a, Key{Fixture: "par1", Attribute: fixture.Dimmer})
	assert.Len(t, p.Applied(), 1)
}
