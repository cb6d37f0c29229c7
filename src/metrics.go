package dvbrx

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports the receiver diagnostics to Prometheus.
type Metrics struct {
	reg *prometheus.Registry

	locked      *prometheus.GaugeVec   // 1 while the stage is locked
	lockPackets *prometheus.GaugeVec   // Packets since the stage locked
	frequency   prometheus.Gauge       // Carrier, cycles per sample
	rms         prometheus.Gauge       // Input level
	mer         prometheus.Gauge       // dB
	plErrors    prometheus.Counter     // PL header bit errors
	plBits      prometheus.Counter     // PL header bits examined
	corrected   *prometheus.CounterVec // Errors corrected, by code
	blocks      *prometheus.CounterVec // Blocks decoded, by code
	failed      *prometheus.CounterVec // Uncorrectable blocks, by code
	tsPackets   prometheus.Counter     // Transport stream packets written
	cstlnPoints prometheus.Counter
}

func NewMetrics() *Metrics {
	var reg = prometheus.NewRegistry()
	var f = promauto.With(reg)
	return &Metrics{
		reg: reg,
		locked: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dvbrx_locked",
			Help: "1 while the receiver stage is locked",
		}, []string{"stage"}),
		lockPackets: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dvbrx_lock_packets",
			Help: "Packets received since the stage locked",
		}, []string{"stage"}),
		frequency: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbrx_carrier_cycles_per_sample",
			Help: "Carrier frequency estimate relative to the sample rate",
		}),
		rms: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbrx_signal_rms",
			Help: "RMS level of the input after AGC",
		}),
		mer: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbrx_mer_db",
			Help: "Modulation error ratio in dB",
		}),
		plErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "dvbrx_pl_header_bit_errors_total",
			Help: "Bit errors seen in DVB-S2 PL headers",
		}),
		plBits: f.NewCounter(prometheus.CounterOpts{
			Name: "dvbrx_pl_header_bits_total",
			Help: "DVB-S2 PL header bits examined",
		}),
		corrected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dvbrx_fec_corrected_total",
			Help: "Bit or byte errors corrected",
		}, []string{"code"}),
		blocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dvbrx_fec_blocks_total",
			Help: "FEC blocks decoded",
		}, []string{"code"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dvbrx_fec_uncorrectable_total",
			Help: "FEC blocks that could not be corrected",
		}, []string{"code"}),
		tsPackets: f.NewCounter(prometheus.CounterOpts{
			Name: "dvbrx_ts_packets_total",
			Help: "Transport stream packets written",
		}),
		cstlnPoints: f.NewCounter(prometheus.CounterOpts{
			Name: "dvbrx_constellation_points_total",
			Help: "Constellation samples reported",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) LockState(stage string, locked bool) {
	m.locked.WithLabelValues(stage).Set(IfThenElse(locked, 1.0, 0.0))
	if !locked {
		m.lockPackets.WithLabelValues(stage).Set(0)
	}
}

func (m *Metrics) LockTime(stage string, packets uint64) {
	m.lockPackets.WithLabelValues(stage).Set(float64(packets))
}

func (m *Metrics) Frequency(f float32)        { m.frequency.Set(float64(f)) }
func (m *Metrics) SignalStrength(rms float32) { m.rms.Set(float64(rms)) }
func (m *Metrics) MER(db float32)             { m.mer.Set(float64(db)) }

func (m *Metrics) PLErrors(errors, total int) {
	m.plErrors.Add(float64(errors))
	m.plBits.Add(float64(total))
}

func (m *Metrics) Corrected(code string, n int) {
	m.blocks.WithLabelValues(code).Inc()
	if n < 0 {
		m.failed.WithLabelValues(code).Inc()
		return
	}
	m.corrected.WithLabelValues(code).Add(float64(n))
}

func (m *Metrics) Constellation(points []complex64) {
	m.cstlnPoints.Add(float64(len(points)))
}

// TSPackets counts output packets.  Not part of Diagnostics; the output
// sink calls it.
func (m *Metrics) TSPackets(n int) {
	m.tsPackets.Add(float64(n))
}
