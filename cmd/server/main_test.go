package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-engine/internal/config"
	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/output"
	"github.com/bbernstein/lacylights-engine/internal/services/sacn"
	"github.com/bbernstein/lacylights-engine/internal/services/testutil"
	artnetpkt "github.com/bbernstein/lacylights-engine/pkg/artnet"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

func TestPrintBanner(t *testing.T) {
	// Capture stdout
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	cfg := config.Default()
	cfg.Env = "test"
	cfg.DatabaseURL = "test.db"

	printBanner(cfg)

	_ = w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	output := buf.String()

	for _, want := range []string{
		"LacyLights Output Engine",
		"Version:",
		"Environment: test",
		"Port:        4000",
		"Database:    test.db",
		"Rate:        40 Hz",
		"sACN:        1 source(s)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in banner", want)
		}
	}
}

func TestVersionVariables(t *testing.T) {
	// These are set at build time, but we can verify they have default values
	if Version == "" {
		t.Error("Version should have a default value")
	}
	if BuildTime == "" {
		t.Error("BuildTime should have a default value")
	}
	if GitCommit == "" {
		t.Error("GitCommit should have a default value")
	}
}

func TestLoadPatch_FromConfig(t *testing.T) {
	testDB, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Patch = []config.FixtureConfig{{
		ID: "spot1", Name: "Spot", Mode: "16bit", Universe: 2, StartChannel: 10,
		Channels: []config.ChannelConfig{
			{Attribute: "Pan", Offsets: []int{0, 1}, Default: 0.5},
			{Attribute: "Dimmer", Offsets: []int{2}},
		},
	}}

	patch, err := loadPatch(ctx, testDB.PatchRepo, cfg, logger.Discard())
	require.NoError(t, err)
	fx, ok := patch.Fixture("spot1")
	require.True(t, ok)
	assert.Equal(t, dmx.UniverseID(2), fx.Universe)
	m, ok := fx.Mapping(fixture.Pan)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, m.Offsets)

	// The stored patch survives a restart without a configured patch.
	cfg.Patch = nil
	patch, err = loadPatch(ctx, testDB.PatchRepo, cfg, logger.Discard())
	require.NoError(t, err)
	assert.Len(t, patch.Fixtures(), 1)
}

func TestLoadPatch_InvalidConfig(t *testing.T) {
	testDB, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	cfg := config.Default()
	cfg.Patch = []config.FixtureConfig{{ID: "bad", Universe: 0, StartChannel: 1}}
	_, err := loadPatch(context.Background(), testDB.PatchRepo, cfg, logger.Discard())
	assert.ErrorIs(t, err, dmx.ErrUniverseOutOfRange)
}

func TestInstallationCID(t *testing.T) {
	testDB, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	cfg := config.Default()

	first, err := installationCID(ctx, testDB.Settings, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first)

	second, err := installationCID(ctx, testDB.Settings, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second, "CID is persisted")

	override := uuid.New()
	cfg.SACN.CID = override.String()
	got, err := installationCID(ctx, testDB.Settings, cfg)
	require.NoError(t, err)
	assert.Equal(t, override, got)
}

func TestSourceConfig(t *testing.T) {
	installation := uuid.New()
	got, err := sourceConfig(config.SourceConfig{
		Name:        "Main",
		Priority:    150,
		SyncAddress: 7,
		Universes: []config.UniverseMapConfig{
			{Local: 1},
			{Local: 2, Destination: 20},
		},
	}, installation)
	require.NoError(t, err)

	assert.Equal(t, sacn.DeriveCID(installation, "Main"), got.CID)
	assert.Equal(t, uint8(150), got.Priority)
	assert.Equal(t, uint16(7), got.SyncAddress)
	assert.Equal(t, []sacn.UniverseMap{
		{Local: 1, Destination: 1},
		{Local: 2, Destination: 20},
	}, got.Universes)
	require.NoError(t, got.Validate())
}

func TestSourceConfig_RejectsOutOfRange(t *testing.T) {
	installation := uuid.New()
	tests := []struct {
		name string
		sc   config.SourceConfig
	}{
		{"priority above 200", config.SourceConfig{Name: "a", Priority: 201, Universes: []config.UniverseMapConfig{{Local: 1}}}},
		{"priority wraps a byte", config.SourceConfig{Name: "a", Priority: 300, Universes: []config.UniverseMapConfig{{Local: 1}}}},
		{"negative sync", config.SourceConfig{Name: "a", SyncAddress: -1, Universes: []config.UniverseMapConfig{{Local: 1}}}},
		{"local universe", config.SourceConfig{Name: "a", Universes: []config.UniverseMapConfig{{Local: 70000}}}},
		{"destination universe", config.SourceConfig{Name: "a", Universes: []config.UniverseMapConfig{{Local: 1, Destination: 64000}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sourceConfig(tt.sc, installation); err == nil {
				t.Errorf("sourceConfig(%+v) error = nil, want error", tt.sc)
			}
		})
	}
}

func TestBuildSources_SkipsInvalidSource(t *testing.T) {
	cfg := config.Default()
	cfg.SACN.Sources = []config.SourceConfig{
		{Name: "good", Destination: "127.0.0.1", Priority: 100, Universes: []config.UniverseMapConfig{{Local: 1}}},
		{Name: "bad", Destination: "127.0.0.1", Priority: 201, Universes: []config.UniverseMapConfig{{Local: 2}}},
	}
	require.NoError(t, cfg.Validate())

	txs := buildSources(cfg, uuid.New(), logger.Discard())
	require.Len(t, txs, 1)
	defer txs[0].Stop()

	assert.Equal(t, output.KindSacn, txs[0].Kind())
	assert.Equal(t, "good", txs[0].Name())
}

func TestNodeConfig(t *testing.T) {
	got, err := nodeConfig(config.NodeConfig{Name: "a", Universe: 3})
	require.NoError(t, err)
	assert.Equal(t, artnetpkt.PortAddress(2), got.PortAddress, "universe 3 maps to 0:0:2")

	got, err = nodeConfig(config.NodeConfig{Name: "b", Universe: 1, Net: 1, SubNet: 2, PortUniverse: 3})
	require.NoError(t, err)
	assert.Equal(t, "1:2:3", got.PortAddress.String())

	_, err = nodeConfig(config.NodeConfig{Name: "c", Universe: 1, Net: 200})
	assert.ErrorIs(t, err, artnetpkt.ErrPortAddress)

	_, err = nodeConfig(config.NodeConfig{Name: "d", Universe: 70000, Net: 1})
	assert.ErrorIs(t, err, dmx.ErrUniverseOutOfRange)
}

func TestBuildNodes_SkipsFailures(t *testing.T) {
	cfg := config.Default()
	cfg.ArtNet.Nodes = []config.NodeConfig{
		{Name: "ok", Destination: "localhost", Universe: 1},
		{Name: "bad", Destination: "no-such-interface-xyz", Universe: 1},
	}
	txs := buildNodes(cfg, logger.Discard())
	require.Len(t, txs, 1)
	defer txs[0].Stop()

	assert.Equal(t, output.KindArtnet, txs[0].Kind())
	assert.Equal(t, "ok", txs[0].Name())
}
