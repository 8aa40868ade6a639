// Package probe turns raw transport reads into latency samples. A receiver
// owns exactly one transport endpoint; per-packet problems are handled inside
// its loop and only fatal transport failures are returned from Run.
package probe

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"probe-meter/meter/aggregator"
	mlog "probe-meter/meter/log"
	"probe-meter/meter/wire"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval 为读超时轮询间隔：每次超时后检查一次取消信号。
const DefaultPollInterval = 250 * time.Millisecond

type Options struct {
	// Name 为端点名称，仅用于日志字段。
	Name   string
	Layout wire.Layout
	Agg    *aggregator.Aggregator

	// PayloadSize 为流模式下非长度前缀布局的固定载荷长度（0 表示只有头部）。
	PayloadSize int
	// MaxPayload 限制长度前缀声明的载荷上限（<=0 不限制）。
	MaxPayload int
	// Echo 为 true 时流模式每收到一个单元即把头部原样写回（供发送端计算 RTT）。
	Echo bool

	PollInterval time.Duration
	Now          func() time.Time
}

type Stats struct {
	Units     atomic.Uint64
	Bytes     atomic.Uint64
	Malformed atomic.Uint64
	Partial   atomic.Uint64
	Gaps      atomic.Uint64
	Reordered atomic.Uint64
}

type StatsSnapshot struct {
	Units     uint64 `json:"units"`
	Bytes     uint64 `json:"bytes"`
	Malformed uint64 `json:"malformed"`
	Partial   uint64 `json:"partial"`
	Gaps      uint64 `json:"gaps"`
	Reordered uint64 `json:"reordered"`
}

// Snapshot 返回累计计数的快照（跨窗口累计，不随上报清零）。
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Units:     s.Units.Load(),
		Bytes:     s.Bytes.Load(),
		Malformed: s.Malformed.Load(),
		Partial:   s.Partial.Load(),
		Gaps:      s.Gaps.Load(),
		Reordered: s.Reordered.Load(),
	}
}

// base 是两类接收器共享的样本记录逻辑。
type base struct {
	opts  Options
	stats Stats
	seq   sequenceTracker
	log   *logrus.Entry
}

func (b *base) init(opts Options) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	b.opts = opts
	b.log = mlog.Component("receiver").WithField("endpoint", opts.Name)
}

// Stats 返回接收器累计计数。
func (b *base) Stats() StatsSnapshot { return b.stats.Snapshot() }

// accept 计算时延并写入聚合器；序号只用于统计跳变与乱序，不做丢弃或重排。
func (b *base) accept(u wire.Unit, arrival time.Time) {
	lat := b.opts.Layout.Unit.LatencyMs(u.SendTimestamp, arrival)
	b.opts.Agg.Record(aggregator.Sample{LatencyMs: lat, SizeBytes: uint32(len(u.Payload))})
	b.stats.Units.Add(1)
	b.stats.Bytes.Add(uint64(len(u.Payload)))

	if !b.opts.Layout.HasSequence() {
		return
	}
	gaps, reordered := b.seq.observe(u.Sequence)
	if gaps > 0 || reordered > 0 {
		b.opts.Agg.RecordGap(gaps, reordered)
		b.stats.Gaps.Add(gaps)
		b.stats.Reordered.Add(reordered)
	}
}

func (b *base) dropMalformed(err error, n int) {
	b.stats.Malformed.Add(1)
	b.log.WithFields(logrus.Fields{"status": "malformed_drop", "len": n}).WithError(err).Debug("报文格式错误，已丢弃")
}

// sequenceTracker 记录最近一次序号，按 uint32 回绕比较。
type sequenceTracker struct {
	started bool
	last    uint32
}

// observe 返回本次序号相对上一次的跳变数与乱序数。
// 规则：
// - 前进 k (k>1)：记 k-1 个跳变
// - 重复或回退：记 1 个乱序，last 保持不变
func (t *sequenceTracker) observe(seq uint32) (gaps, reordered uint64) {
	if !t.started {
		t.started = true
		t.last = seq
		return 0, 0
	}
	d := seq - t.last
	switch {
	case d == 0:
		return 0, 1
	case d < 1<<31:
		t.last = seq
		return uint64(d - 1), 0
	default:
		return 0, 1
	}
}

// isTimeout 判断是否为读超时（对应非阻塞 socket 上的 would-block）。
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
