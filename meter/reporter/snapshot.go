package reporter

import (
	"fmt"
	"math"
	"sort"
	"time"

	"probe-meter/meter/aggregator"
)

type BandwidthUnit string

const (
	// Mbps 以 2^20 bit 为 1 Mbit，与历史采集脚本的口径一致。
	Mbps BandwidthUnit = "Mbps"
	Kbps BandwidthUnit = "Kbps"
	KBps BandwidthUnit = "KBps"
	BPS  BandwidthUnit = "bps"
)

// ParseBandwidthUnit 解析带宽展示单位。
func ParseBandwidthUnit(v string) (BandwidthUnit, error) {
	switch BandwidthUnit(v) {
	case Mbps, Kbps, KBps, BPS:
		return BandwidthUnit(v), nil
	default:
		return "", fmt.Errorf("unknown bandwidth unit: %q", v)
	}
}

// Convert 将 bit/s 换算为该展示单位。
func (u BandwidthUnit) Convert(bps float64) float64 {
	switch u {
	case Mbps:
		return bps / (1 << 20)
	case Kbps:
		return bps / 1024
	case KBps:
		return bps / 8 / 1024
	default:
		return bps
	}
}

// Snapshot 是一次上报产出的不可变汇总记录。
// 空窗口时 HasData=false，AvgLatencyMs 等时延字段为 0。
type Snapshot struct {
	RunID  string `json:"run_id,omitempty"`
	Stream string `json:"stream"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Count        int     `json:"count"`
	HasData      bool    `json:"has_data"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MinMs        float64 `json:"min_latency_ms"`
	MaxMs        float64 `json:"max_latency_ms"`
	P50Ms        float64 `json:"p50_latency_ms"`
	P95Ms        float64 `json:"p95_latency_ms"`
	P99Ms        float64 `json:"p99_latency_ms"`
	JitterMs     float64 `json:"jitter_ms"`
	Negative     int     `json:"negative_samples"`

	Bytes        uint64        `json:"bytes"`
	Units        uint64        `json:"units"`
	BandwidthBps float64       `json:"bandwidth_bps"`
	Bandwidth    float64       `json:"bandwidth"`
	Unit         BandwidthUnit `json:"bandwidth_unit"`

	Gaps      uint64 `json:"gaps"`
	Reordered uint64 `json:"reordered"`
}

// Build 由一个窗口计算派生指标。
// 参数：
// - stream: 流名称
// - w: SnapshotAndReset 取走的窗口
// - period: 带宽换算用的时长（<=0 时使用窗口实际时长）
// - unit: 带宽展示单位
func Build(stream string, w aggregator.Window, period time.Duration, unit BandwidthUnit) Snapshot {
	s := Snapshot{
		Stream:      stream,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Count:       w.Count,
		Negative:    w.Negative,
		Bytes:       w.TotalBytes,
		Units:       w.Units,
		Unit:        unit,
		Gaps:        w.Gaps,
		Reordered:   w.Reordered,
	}
	s.AvgLatencyMs, s.HasData = w.AvgLatencyMs()
	if s.HasData {
		s.MinMs, s.MaxMs, s.P50Ms, s.P95Ms, s.P99Ms = summarize(w.Latencies)
		s.JitterMs = jitter(w.Latencies)
	}

	if period <= 0 {
		period = w.End.Sub(w.Start)
	}
	if period > 0 {
		s.BandwidthBps = float64(w.TotalBytes*8) / period.Seconds()
	}
	s.Bandwidth = unit.Convert(s.BandwidthBps)
	return s
}

// summarize 返回样本的 min/max/p50/p95/p99（不修改入参）。
func summarize(vals []float64) (minv, maxv, p50, p95, p99 float64) {
	if len(vals) == 0 {
		return 0, 0, 0, 0, 0
	}
	cp := append([]float64(nil), vals...)
	sort.Float64s(cp)
	return cp[0], cp[len(cp)-1], quantileSorted(cp, 0.50), quantileSorted(cp, 0.95), quantileSorted(cp, 0.99)
}

func quantileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	i := int(pos)
	f := pos - float64(i)
	if i+1 >= len(sorted) {
		return sorted[i]
	}
	return sorted[i]*(1-f) + sorted[i+1]*f
}

// jitter 返回按到达顺序相邻样本时延差的绝对值均值。
func jitter(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(vals); i++ {
		sum += math.Abs(vals[i] - vals[i-1])
	}
	return sum / float64(len(vals)-1)
}
