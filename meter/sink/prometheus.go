package sink

import (
	"probe-meter/meter/reporter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 把每个快照写入按流分组的 gauge 与 counter。
// gauge 反映最近一个窗口；counter 跨窗口累计。
type Prometheus struct {
	latency   *prometheus.GaugeVec
	quantile  *prometheus.GaugeVec
	jitter    *prometheus.GaugeVec
	bandwidth *prometheus.GaugeVec
	samples   *prometheus.GaugeVec
	bytes     *prometheus.CounterVec
	gaps      *prometheus.CounterVec
	reordered *prometheus.CounterVec
	negative  *prometheus.CounterVec
}

// NewPrometheus 在 reg 上注册指标（reg 为 nil 时使用默认注册表）。
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Prometheus{
		latency: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "probe_latency_avg_ms",
			Help: "Average one-way latency of the last report window.",
		}, []string{"stream"}),
		quantile: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "probe_latency_quantile_ms",
			Help: "One-way latency quantiles of the last report window.",
		}, []string{"stream", "quantile"}),
		jitter: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "probe_jitter_ms",
			Help: "Mean absolute difference of consecutive latency samples in the last window.",
		}, []string{"stream"}),
		bandwidth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "probe_bandwidth_bps",
			Help: "Received payload bandwidth of the last report window in bits per second.",
		}, []string{"stream"}),
		samples: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "probe_window_samples",
			Help: "Number of latency samples in the last report window.",
		}, []string{"stream"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_received_bytes_total",
			Help: "Payload bytes received.",
		}, []string{"stream"}),
		gaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_sequence_gaps_total",
			Help: "Sequence numbers skipped by forward jumps.",
		}, []string{"stream"}),
		reordered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_sequence_reordered_total",
			Help: "Units that arrived with a repeated or older sequence number.",
		}, []string{"stream"}),
		negative: f.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_negative_latency_total",
			Help: "Samples with negative latency caused by clock skew.",
		}, []string{"stream"}),
	}
}

func (p *Prometheus) Emit(s reporter.Snapshot) error {
	p.samples.WithLabelValues(s.Stream).Set(float64(s.Count))
	p.bandwidth.WithLabelValues(s.Stream).Set(s.BandwidthBps)
	p.bytes.WithLabelValues(s.Stream).Add(float64(s.Bytes))
	p.gaps.WithLabelValues(s.Stream).Add(float64(s.Gaps))
	p.reordered.WithLabelValues(s.Stream).Add(float64(s.Reordered))
	p.negative.WithLabelValues(s.Stream).Add(float64(s.Negative))

	// 空窗口保留上一次的时延读数，避免出现伪造的 0ms。
	if !s.HasData {
		return nil
	}
	p.latency.WithLabelValues(s.Stream).Set(s.AvgLatencyMs)
	p.jitter.WithLabelValues(s.Stream).Set(s.JitterMs)
	p.quantile.WithLabelValues(s.Stream, "0.5").Set(s.P50Ms)
	p.quantile.WithLabelValues(s.Stream, "0.95").Set(s.P95Ms)
	p.quantile.WithLabelValues(s.Stream, "0.99").Set(s.P99Ms)
	return nil
}
