package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-engine/internal/config"
	"github.com/bbernstein/lacylights-engine/internal/database/models"
	"github.com/bbernstein/lacylights-engine/internal/database/repositories"
	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/artnet"
	"github.com/bbernstein/lacylights-engine/internal/services/fade"
	"github.com/bbernstein/lacylights-engine/internal/services/layers"
	"github.com/bbernstein/lacylights-engine/internal/services/output"
	"github.com/bbernstein/lacylights-engine/internal/services/pipeline"
	"github.com/bbernstein/lacylights-engine/internal/services/pubsub"
	"github.com/bbernstein/lacylights-engine/internal/services/testutil"
	"github.com/bbernstein/lacylights-engine/internal/timeutil"
	artnetpkt "github.com/bbernstein/lacylights-engine/pkg/artnet"
)

type harness struct {
	srv       *Server
	scheduler *output.Scheduler
	clock     *timeutil.MockClock
	db        *testutil.TestDB
}

func newHarness(t *testing.T, outputs ...output.Transmitter) *harness {
	t.Helper()

	testDB, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	patch, err := fixture.NewMemoryPatch(
		&fixture.Fixture{
			ID: "par1", Name: "Par 1", Universe: 1, StartChannel: 1, Mode: "1ch",
			Channels: []fixture.ChannelMapping{{Attribute: fixture.Dimmer, Offsets: []int{0}}},
		},
		&fixture.Fixture{
			ID: "spot1", Name: "Spot 1", Universe: 2, StartChannel: 10, Mode: "16bit",
			Channels: []fixture.ChannelMapping{
				{Attribute: fixture.Pan, Offsets: []int{0, 1}, Default: fixture.NewAttributeValue(0.5)},
			},
		},
	)
	require.NoError(t, err)

	rows := make([]models.PatchedFixture, 0, len(patch.Fixtures()))
	for _, fx := range patch.Fixtures() {
		row, err := repositories.FromFixture(fx)
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.NoError(t, testDB.PatchRepo.Replace(context.Background(), rows))

	log := logger.Discard()
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC))
	p := pipeline.New(log)
	programmer := layers.NewProgrammer()
	presets := layers.NewPresets()
	executor := layers.NewExecutor(fade.NewEngine(clock))

	sched, err := output.NewScheduler(output.Config{}, p, patch,
		[]layers.Layer{executor, presets, programmer}, outputs, clock, log)
	require.NoError(t, err)

	cfg := config.Default()
	srv := New(Deps{
		Config:     cfg,
		Log:        log,
		Pipeline:   p,
		Scheduler:  sched,
		Programmer: programmer,
		Presets:    presets,
		Executor:   executor,
		PatchRepo:  testDB.PatchRepo,
		PresetRepo: testDB.PresetRepo,
		PubSub:     pubsub.New(),
		Version:    "test",
	})
	return &harness{srv: srv, scheduler: sched, clock: clock, db: testDB}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestNotFound(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/fixtures", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestListFixtures(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/fixtures", "")
	require.Equal(t, http.StatusOK, w.Code)

	fixtures := decode[[]fixtureResponse](t, w)
	require.Len(t, fixtures, 2)
	assert.Equal(t, "par1", fixtures[0].ID)
	assert.Equal(t, []int{10, 11}, fixtures[1].Mappings[0].Channels)
	assert.Equal(t, 0.5, fixtures[1].Mappings[0].Default)
}

func TestProgrammer_SetResolvesToOutput(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPut, "/api/programmer/par1/Dimmer", `{"value": 1}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	h.scheduler.RunCycle()

	w = h.do(t, http.MethodGet, "/api/universes/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	u := decode[universeResponse](t, w)
	assert.Equal(t, 255, u.Channels[0])

	w = h.do(t, http.MethodGet, "/api/universes", "")
	summaries := decode[[]universeSummary](t, w)
	require.Len(t, summaries, 2)
	assert.Equal(t, universeSummary{Universe: 1, Active: 1}, summaries[0])
	assert.Equal(t, universeSummary{Universe: 2, Active: 1}, summaries[1], "pan default seeds the coarse byte")

	w = h.do(t, http.MethodGet, "/api/programmer", "")
	prog := decode[ProgrammerUpdate](t, w)
	require.Len(t, prog.Values, 1)
	assert.Equal(t, fixture.Dimmer, prog.Values[0].Attribute)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/programmer", "").Code)
	h.scheduler.RunCycle()
	u = decode[universeResponse](t, h.do(t, http.MethodGet, "/api/universes/1", ""))
	assert.Equal(t, 0, u.Channels[0], "cleared programmer falls back to defaults")
}

func TestProgrammer_Errors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unpatched fixture", "/api/programmer/ghost/Dimmer", `{"value": 1}`, http.StatusNotFound},
		{"bad attribute", "/api/programmer/par1/Shutter(x)", `{"value": 1}`, http.StatusNotFound},
		{"missing value", "/api/programmer/par1/Dimmer", `{}`, http.StatusBadRequest},
		{"unknown field", "/api/programmer/par1/Dimmer", `{"level": 1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestProgrammer_PublishesUpdate(t *testing.T) {
	h := newHarness(t)
	sub := h.srv.PubSub.Subscribe(pubsub.TopicProgrammer, "", 4)
	defer h.srv.PubSub.Unsubscribe(sub)

	h.do(t, http.MethodPut, "/api/programmer/par1/Dimmer", `{"value": 0.5}`)

	select {
	case msg := <-sub.Channel:
		update, ok := msg.(ProgrammerUpdate)
		require.True(t, ok)
		require.Len(t, update.Values, 1)
		assert.Equal(t, 0.5, update.Values[0].Level)
	case <-time.After(time.Second):
		t.Fatal("no programmer update published")
	}
}

func TestGetUniverse_Errors(t *testing.T) {
	h := newHarness(t)
	h.scheduler.RunCycle()

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/universes/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/universes/0", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/universes/7", "").Code)
}

func TestPresets_SaveRecallDelete(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPut, "/api/presets/warm",
		`{"values": [{"fixture": "par1", "attribute": "Dimmer", "value": 0.4}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := h.db.PresetRepo.FindByName(context.Background(), "warm")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.Values, 1)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodPost, "/api/presets/warm/recall", "").Code)
	h.scheduler.RunCycle()
	u := decode[universeResponse](t, h.do(t, http.MethodGet, "/api/universes/1", ""))
	assert.Equal(t, 102, u.Channels[0])

	list := decode[[]presetResponse](t, h.do(t, http.MethodGet, "/api/presets", ""))
	require.Len(t, list, 1)
	assert.True(t, list[0].Active)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/presets", "").Code)
	list = decode[[]presetResponse](t, h.do(t, http.MethodGet, "/api/presets", ""))
	assert.False(t, list[0].Active)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/presets/warm", "").Code)
	stored, err = h.db.PresetRepo.FindByName(context.Background(), "warm")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/presets/warm/recall", "").Code)
}

func TestPresets_SnapshotProgrammer(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPut, "/api/programmer/spot1/Pan", `{"value": 1}`)

	w := h.do(t, http.MethodPut, "/api/presets/look", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[presetResponse](t, w)
	require.Len(t, resp.Values, 1)
	assert.Equal(t, fixture.Pan, resp.Values[0].Attribute)
}

func TestLoadPresets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.db.PresetRepo.Save(ctx, "stored", []models.PresetValue{
		{FixtureID: "par1", Attribute: "Dimmer", Value: 1},
		{FixtureID: "par1", Attribute: "Shutter(", Value: 1},
	})
	require.NoError(t, err)

	require.NoError(t, h.srv.LoadPresets(ctx))
	values, ok := h.srv.Presets.Get("stored")
	require.True(t, ok)
	assert.Len(t, values, 1, "unparseable attributes are skipped")
}

func TestExecutor_Fade(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/executor/fade",
		`{"targets": [{"fixture": "par1", "attribute": "Dimmer", "value": 1}], "duration_ms": 1000, "easing": "linear"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.NotEmpty(t, decode[map[string]string](t, w)["id"])

	h.clock.Advance(500 * time.Millisecond)
	h.scheduler.RunCycle()
	u := decode[universeResponse](t, h.do(t, http.MethodGet, "/api/universes/1", ""))
	assert.InDelta(t, 128, u.Channels[0], 1)

	active := decode[map[string]int](t, h.do(t, http.MethodGet, "/api/executor", ""))
	assert.Equal(t, 1, active["activeFades"])

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/executor", "").Code)
	active = decode[map[string]int](t, h.do(t, http.MethodGet, "/api/executor", ""))
	assert.Equal(t, 0, active["activeFades"])
}

func TestExecutor_FadeErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"no targets", `{"targets": [], "duration_ms": 100}`, http.StatusBadRequest},
		{"negative duration", `{"targets": [{"fixture": "par1", "attribute": "Dimmer", "value": 1}], "duration_ms": -1}`, http.StatusBadRequest},
		{"bad easing", `{"targets": [{"fixture": "par1", "attribute": "Dimmer", "value": 1}], "easing": "wobble"}`, http.StatusBadRequest},
		{"unpatched", `{"targets": [{"fixture": "ghost", "attribute": "Dimmer", "value": 1}]}`, http.StatusNotFound},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/executor/fade", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestListSources(t *testing.T) {
	h := newHarness(t)
	h.scheduler.RunCycle()

	resp := decode[sourcesResponse](t, h.do(t, http.MethodGet, "/api/sources", ""))
	assert.Equal(t, uint64(1), resp.Scheduler.Ticks)
	assert.Equal(t, output.DefaultRateHz, resp.Scheduler.RateHz)
	assert.Empty(t, resp.Outputs)
}

func TestListNodes_DiscoveryDisabled(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/artnet/nodes", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrCodeDisabled, decode[Error](t, w).Code)
}

func TestListInterfaces(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/network/interfaces", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebSocket_StreamsFrames(t *testing.T) {
	h := newHarness(t)
	h.scheduler.OnTick(output.PublishTo(h.srv.PubSub))

	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?universe=2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return h.srv.PubSub.SubscriberCount(pubsub.TopicDMXOutput) == 1
	}, time.Second, 10*time.Millisecond)

	h.scheduler.RunCycle()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string               `json:"type"`
		Payload output.UniverseFrame `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, WSTypeDMXOutput, msg.Type)
	assert.Equal(t, uint16(2), msg.Payload.Universe, "only the filtered universe is streamed")
	assert.Equal(t, 128, msg.Payload.Channels[9])
}

func TestWebSocket_BadUniverse(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/ws?universe=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFixture(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/fixtures/spot1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fx := decode[fixtureResponse](t, w)
	assert.Equal(t, "16bit", fx.Mode)
	assert.Equal(t, uint16(2), fx.Universe)
	require.Len(t, fx.Mappings, 1)
	assert.Equal(t, []int{10, 11}, fx.Mappings[0].Channels)
	assert.InDelta(t, 0.5, fx.Mappings[0].Default, 0.001)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/fixtures/nope", "").Code)
}

func TestGetPreset(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPut, "/api/presets/warm",
		`{"values": [{"fixture": "par1", "attribute": "Dimmer", "value": 0.4}]}`).Code)

	got := decode[presetResponse](t, h.do(t, http.MethodGet, "/api/presets/warm", ""))
	assert.Equal(t, "warm", got.Name)
	assert.False(t, got.Active)
	require.Len(t, got.Values, 1)
	assert.InDelta(t, 0.4, got.Values[0].Level, 0.001)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodPost, "/api/presets/warm/recall", "").Code)
	got = decode[presetResponse](t, h.do(t, http.MethodGet, "/api/presets/warm", ""))
	assert.True(t, got.Active)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/presets/cold", "").Code)
}

func TestExecutor_CancelFade(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/executor/fade",
		`{"targets": [{"fixture": "par1", "attribute": "Dimmer", "value": 1}], "duration_ms": 1000, "easing": "linear"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode[map[string]string](t, w)["id"]

	st := decode[fadeStatus](t, h.do(t, http.MethodGet, "/api/executor/fades/"+id, ""))
	assert.True(t, st.Active)

	h.clock.Advance(500 * time.Millisecond)
	h.scheduler.RunCycle()
	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/executor/fades/"+id, "").Code)

	st = decode[fadeStatus](t, h.do(t, http.MethodGet, "/api/executor/fades/"+id, ""))
	assert.False(t, st.Active)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/executor/fades/"+id, "").Code)

	// The cancelled fade holds its level.
	h.clock.Advance(time.Second)
	h.scheduler.RunCycle()
	u := decode[universeResponse](t, h.do(t, http.MethodGet, "/api/universes/1", ""))
	assert.InDelta(t, 128, u.Channels[0], 1)
}

func TestPollNodes(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tx, err := artnet.NewTransmitter(artnet.Config{
		Name:        "stage",
		Destination: "localhost",
		Port:        conn.LocalAddr().(*net.UDPAddr).Port,
		Universe:    1,
	}, logger.Discard())
	require.NoError(t, err)
	h := newHarness(t, output.ArtnetTransmitter(tx))
	t.Cleanup(func() { tx.Close() })

	w := h.do(t, http.MethodPost, "/api/artnet/poll", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[pollResponse](t, w).Polled)

	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	op, err := artnetpkt.OpCode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, artnetpkt.OpCodePoll, op)
}
