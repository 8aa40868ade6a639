package aggregator

import (
	"sync"
	"time"
)

// Sample 是一个探测单元在到达时刻派生出的（时延，大小）对，生成后不再修改。
type Sample struct {
	LatencyMs float64
	SizeBytes uint32
}

// Window 是一次 SnapshotAndReset 取走的窗口内容 [Start, End)。
type Window struct {
	Start time.Time
	End   time.Time

	Count        int
	SumLatencyMs float64
	Latencies    []float64
	Negative     int

	TotalBytes uint64
	Units      uint64
	Gaps       uint64
	Reordered  uint64
}

// AvgLatencyMs 返回窗口平均时延；空窗口返回 (0, false)。
func (w Window) AvgLatencyMs() (float64, bool) {
	if w.Count == 0 {
		return 0, false
	}
	return w.SumLatencyMs / float64(w.Count), true
}

type latencyAcc struct {
	start     time.Time
	count     int
	sum       float64
	negative  int
	latencies []float64
}

type byteAcc struct {
	total     uint64
	units     uint64
	gaps      uint64
	reordered uint64
}

// Aggregator 收集并发写入的样本，并按窗口无损地交付。
// 时延与字节计数各自持有独立的锁：RecordLatency 与 RecordBytes 互不阻塞。
// SnapshotAndReset 按 latMu -> bytesMu 的固定顺序同时持有两把锁完成交换，
// 因此任意一次 Record* 要么完整落在交换前的窗口，要么完整落在交换后的窗口。
type Aggregator struct {
	now func() time.Time

	latMu sync.Mutex
	lat   latencyAcc

	bytesMu sync.Mutex
	bytes   byteAcc
}

// New 创建一个空窗口的 Aggregator。
// 参数：
// - now: 时钟（nil 使用 time.Now；测试中可注入固定时钟）
func New(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now, lat: latencyAcc{start: now()}}
}

// RecordLatency 向当前窗口追加一个时延样本（毫秒，可为负）。
func (a *Aggregator) RecordLatency(ms float64) {
	a.latMu.Lock()
	a.lat.add(ms)
	a.latMu.Unlock()
}

// RecordBytes 向当前窗口累加 n 字节。
func (a *Aggregator) RecordBytes(n uint64) {
	a.bytesMu.Lock()
	a.bytes.total += n
	a.bytes.units++
	a.bytesMu.Unlock()
}

// Record 以原子方式记录一个样本：时延与字节数落在同一个窗口。
func (a *Aggregator) Record(s Sample) {
	a.latMu.Lock()
	a.bytesMu.Lock()
	a.lat.add(s.LatencyMs)
	a.bytes.total += uint64(s.SizeBytes)
	a.bytes.units++
	a.bytesMu.Unlock()
	a.latMu.Unlock()
}

// RecordGap 累加序号跳变（疑似丢包）与乱序计数，仅作参考信息。
func (a *Aggregator) RecordGap(gaps, reordered uint64) {
	if gaps == 0 && reordered == 0 {
		return
	}
	a.bytesMu.Lock()
	a.bytes.gaps += gaps
	a.bytes.reordered += reordered
	a.bytesMu.Unlock()
}

// SnapshotAndReset 原子地取走当前窗口并换上一个新的空窗口。
// 返回：
// - Window: 被取走的窗口；其后 Pending() 为 (0, 0)
func (a *Aggregator) SnapshotAndReset() Window {
	a.latMu.Lock()
	a.bytesMu.Lock()
	now := a.now()
	lat := a.lat
	by := a.bytes
	a.lat = latencyAcc{start: now, latencies: make([]float64, 0, len(lat.latencies))}
	a.bytes = byteAcc{}
	a.bytesMu.Unlock()
	a.latMu.Unlock()

	return Window{
		Start:        lat.start,
		End:          now,
		Count:        lat.count,
		SumLatencyMs: lat.sum,
		Latencies:    lat.latencies,
		Negative:     lat.negative,
		TotalBytes:   by.total,
		Units:        by.units,
		Gaps:         by.gaps,
		Reordered:    by.reordered,
	}
}

// Pending 返回当前窗口已累计的样本数与字节数（只读，不重置）。
func (a *Aggregator) Pending() (count int, bytes uint64) {
	a.latMu.Lock()
	count = a.lat.count
	a.latMu.Unlock()
	a.bytesMu.Lock()
	bytes = a.bytes.total
	a.bytesMu.Unlock()
	return count, bytes
}

func (l *latencyAcc) add(ms float64) {
	l.count++
	l.sum += ms
	if ms < 0 {
		l.negative++
	}
	l.latencies = append(l.latencies, ms)
}
