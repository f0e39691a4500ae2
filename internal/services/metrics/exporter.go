package metrics

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bbernstein/lacylights-engine/internal/services/output"
)

// Exporter turns scheduler ticks into InfluxDB points.
type Exporter struct {
	w           PointWriter
	outputs     func() []output.Status
	sourceEvery uint64
}

// NewExporter writes an output_tick point for every tick and per-output points every
// sourceEvery ticks. outputs may be nil.
func NewExporter(w PointWriter, outputs func() []output.Status, sourceEvery int) *Exporter {
	if sourceEvery < 1 {
		sourceEvery = 1
	}
	return &Exporter{w: w, outputs: outputs, sourceEvery: uint64(sourceEvery)}
}

// Observe is an output.TickObserver.
func (e *Exporter) Observe(t output.Tick) {
	e.w.WritePoint(tickPoint(t))

	if e.outputs == nil || t.Seq%e.sourceEvery != 0 {
		return
	}
	for _, st := range e.outputs() {
		if p := outputPoint(st, t.At); p != nil {
			e.w.WritePoint(p)
		}
	}
}

func tickPoint(t output.Tick) *write.Point {
	return write.NewPoint("output_tick",
		nil,
		map[string]interface{}{
			"duration_us": t.Duration.Microseconds(),
			"overrun":     t.Overrun,
			"applied":     t.Resolve.Applied,
			"unpatched":   t.Resolve.Unpatched,
			"failed":      t.Resolve.Failed,
			"universes":   t.Resolve.Universes,
		},
		t.At)
}

func outputPoint(st output.Status, at time.Time) *write.Point {
	switch {
	case st.Sacn != nil:
		return write.NewPoint("sacn_source",
			map[string]string{"source": st.Sacn.Name},
			map[string]interface{}{
				"frames_sent":    st.Sacn.FramesSent,
				"packets_sent":   st.Sacn.PacketsSent,
				"send_errors":    st.Sacn.SendErrors,
				"frames_dropped": st.Sacn.FramesDropped,
				"running":        st.Sacn.Running,
			},
			at)
	case st.Artnet != nil:
		return write.NewPoint("artnet_node",
			map[string]string{"node": st.Artnet.Name},
			map[string]interface{}{
				"packets_sent": st.Artnet.PacketsSent,
				"send_errors":  st.Artnet.SendErrors,
			},
			at)
	}
	return nil
}
