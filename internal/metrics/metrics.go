// ABOUTME: Prometheus metrics for the audio engine
// ABOUTME: Periodically folds engine snapshots into gauges and counters
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/ring"
	"github.com/Resonate-Protocol/clockradio-go/pkg/engine"
)

// DefaultInterval is how often StartUpdater samples the engine.
const DefaultInterval = 5 * time.Second

// Source provides engine snapshots.
type Source interface {
	Snapshot() engine.Snapshot
}

// Metrics holds the engine collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	owner         *prometheus.GaugeVec
	ringFill      prometheus.Gauge
	ringCapacity  prometheus.Gauge
	ringMode      *prometheus.GaugeVec
	sampleRate    prometheus.Gauge
	volume        prometheus.Gauge
	bluetooth     prometheus.Gauge
	spectrumLevel *prometheus.GaugeVec

	flowControlFaults prometheus.Counter
	ringResets        prometheus.Counter
	writeFailures     prometheus.Counter
	consumerBytes     prometheus.Counter
	tonesPlayed       prometheus.Counter
	tonesDropped      prometheus.Counter
	ownerFailures     prometheus.Counter
	ownerChanges      prometheus.Counter

	// Counter value tracking (snapshots carry totals, counters take deltas)
	mu   sync.Mutex
	last map[prometheus.Counter]uint64

	lastUpdate time.Time
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		last:     make(map[prometheus.Counter]uint64),

		owner: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clockradio_audio_owner",
			Help: "Current sink owner (1 for the holder, 0 otherwise)",
		}, []string{"owner"}),
		ringFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "clockradio_ring_fill_bytes",
			Help: "Bytes buffered in the Bluetooth jitter buffer",
		}),
		ringCapacity: f.NewGauge(prometheus.GaugeOpts{
			Name: "clockradio_ring_capacity_bytes",
			Help: "Reserved jitter buffer capacity in bytes (0 when released)",
		}),
		ringMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clockradio_ring_mode",
			Help: "Jitter buffer mode (1 for the current mode)",
		}, []string{"mode"}),
		sampleRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "clockradio_sink_sample_rate_hz",
			Help: "Current sink sample rate in Hz",
		}),
		volume: f.NewGauge(prometheus.GaugeOpts{
			Name: "clockradio_stream_volume",
			Help: "Bluetooth stream volume on the 0..255 scale",
		}),
		bluetooth: f.NewGauge(prometheus.GaugeOpts{
			Name: "clockradio_bluetooth_consumer_running",
			Help: "Whether the Bluetooth consumer is running (1=running, 0=stopped)",
		}),
		spectrumLevel: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clockradio_spectrum_level",
			Help: "Spectrum band level (0..3)",
		}, []string{"band"}),

		flowControlFaults: f.NewCounter(prometheus.CounterOpts{
			Name: "clockradio_ring_flow_control_faults_total",
			Help: "Total number of jitter buffer flow-control faults",
		}),
		ringResets: f.NewCounter(prometheus.CounterOpts{
			Name: "clockradio_ring_resets_total",
			Help: "Total number of jitter buffer resets",
		}),
		writeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "clockradio_sink_write_failures_total",
			Help: "Total number of failed sink writes",
		}),
		consumerBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "clockradio_bluetooth_bytes_total",
			Help: "Total number of Bluetooth bytes written to the sink",
		}),
		tonesPlayed: f.NewCounter(prometheus.CounterOpts{
			Name: "clockradio_tones_played_total",
			Help: "Total number of tone commands rendered",
		}),
		tonesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "clockradio_tones_dropped_total",
			Help: "Total number of tone submissions dropped on a full queue",
		}),
		ownerFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "clockradio_owner_acquire_failures_total",
			Help: "Total number of refused ownership requests",
		}),
		ownerChanges: f.NewCounter(prometheus.CounterOpts{
			Name: "clockradio_owner_changes_total",
			Help: "Total number of ownership transitions",
		}),
	}
	return m
}

// Registry returns the registry holding the engine collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Update folds one snapshot into the collectors.
func (m *Metrics) Update(s engine.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range []audio.Owner{audio.OwnerNone, audio.OwnerBluetooth, audio.OwnerPlayer, audio.OwnerAlarm, audio.OwnerTone} {
		m.owner.WithLabelValues(o.String()).Set(boolToFloat(s.Owner == o))
	}

	for _, mode := range []ring.Mode{ring.ModePrefetching, ring.ModeProcessing, ring.ModeDropping} {
		m.ringMode.WithLabelValues(mode.String()).Set(boolToFloat(s.RingReserved && s.Ring.Mode == mode))
	}
	if s.RingReserved {
		m.ringFill.Set(float64(s.Ring.Count))
		m.ringCapacity.Set(float64(s.Ring.Capacity))
	} else {
		m.ringFill.Set(0)
		m.ringCapacity.Set(0)
	}

	m.sampleRate.Set(float64(s.SampleRate))
	m.volume.Set(float64(s.Volume))
	m.bluetooth.Set(boolToFloat(s.Bluetooth))
	for i, level := range s.Levels {
		m.spectrumLevel.WithLabelValues(bandLabel(i)).Set(float64(level))
	}

	m.addDelta(m.flowControlFaults, s.Ring.Errors)
	m.addDelta(m.ringResets, s.Ring.Resets)
	m.addDelta(m.writeFailures, s.WriteFailures)
	m.addDelta(m.consumerBytes, s.Consumer.Bytes)
	m.addDelta(m.tonesPlayed, s.TonesPlayed)
	m.addDelta(m.tonesDropped, s.TonesDropped)
	m.addDelta(m.ownerFailures, s.OwnerFailures)
	m.addDelta(m.ownerChanges, s.OwnerChanges)

	m.lastUpdate = time.Now()
}

// addDelta adds the growth of a running total. A total that went backwards
// (a new ring) restarts the tracking from the new value.
func (m *Metrics) addDelta(c prometheus.Counter, total uint64) {
	old := m.last[c]
	m.last[c] = total
	if total > old {
		c.Add(float64(total - old))
	} else if total < old {
		c.Add(float64(total))
	}
}

// LastUpdate returns when Update last ran.
func (m *Metrics) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}

// StartUpdater samples src every interval until ctx is cancelled.
func (m *Metrics) StartUpdater(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.Update(src.Snapshot())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Update(src.Snapshot())
			}
		}
	}()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func bandLabel(i int) string {
	return [...]string{"low", "low-mid", "high-mid", "high"}[i]
}
