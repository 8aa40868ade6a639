// Package sink holds the consumers of reporter snapshots: the log line, a
// channel hand-off, the latest-value cache behind /status, Prometheus gauges
// and a NATS publisher.
package sink

import (
	"errors"
	"sort"
	"sync"

	mlog "probe-meter/meter/log"
	"probe-meter/meter/reporter"

	"github.com/sirupsen/logrus"
)

// ErrChannelFull 表示 Chan 在非阻塞模式下丢弃了一个快照。
var ErrChannelFull = errors.New("snapshot channel full")

// Log 以一条结构化日志输出每个快照。
type Log struct {
	Entry *logrus.Entry
}

// NewLog 创建日志 sink（component=report）。
func NewLog() *Log { return &Log{Entry: mlog.Component("report")} }

func (l *Log) Emit(s reporter.Snapshot) error {
	fields := logrus.Fields{
		"status":    "snapshot",
		"stream":    s.Stream,
		"count":     s.Count,
		"bytes":     s.Bytes,
		"bandwidth": s.Bandwidth,
		"unit":      string(s.Unit),
		"window_ms": s.WindowEnd.Sub(s.WindowStart).Milliseconds(),
	}
	if s.HasData {
		fields["avg_ms"] = s.AvgLatencyMs
		fields["p95_ms"] = s.P95Ms
		fields["jitter_ms"] = s.JitterMs
	}
	if s.Gaps > 0 || s.Reordered > 0 {
		fields["gaps"] = s.Gaps
		fields["reordered"] = s.Reordered
	}
	if s.Negative > 0 {
		fields["negative"] = s.Negative
	}
	e := l.Entry.WithFields(fields)
	if !s.HasData {
		e.Info("窗口内无样本")
		return nil
	}
	e.Info("窗口统计")
	return nil
}

// Chan 把快照投递到通道；Block=false 时通道满即丢弃并返回 ErrChannelFull。
type Chan struct {
	C     chan reporter.Snapshot
	Block bool
}

// NewChan 创建带缓冲的通道 sink。
func NewChan(size int, block bool) *Chan {
	return &Chan{C: make(chan reporter.Snapshot, size), Block: block}
}

func (c *Chan) Emit(s reporter.Snapshot) error {
	if c.Block {
		c.C <- s
		return nil
	}
	select {
	case c.C <- s:
		return nil
	default:
		return ErrChannelFull
	}
}

// Multi 依次调用每个 sink；单个 sink 失败不影响其余 sink，错误合并返回。
type Multi []reporter.Sink

func (m Multi) Emit(s reporter.Snapshot) error {
	var errs []error
	for _, sk := range m {
		if sk == nil {
			continue
		}
		if err := sk.Emit(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest 保存每个流最近一次快照，供状态查询。
type Latest struct {
	mu   sync.RWMutex
	last map[string]reporter.Snapshot
}

func NewLatest() *Latest { return &Latest{last: make(map[string]reporter.Snapshot)} }

func (l *Latest) Emit(s reporter.Snapshot) error {
	l.mu.Lock()
	l.last[s.Stream] = s
	l.mu.Unlock()
	return nil
}

// Get 返回指定流最近一次快照。
func (l *Latest) Get(stream string) (reporter.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.last[stream]
	return s, ok
}

// All 返回全部流的最近快照（按流名称排序）。
func (l *Latest) All() []reporter.Snapshot {
	l.mu.RLock()
	out := make([]reporter.Snapshot, 0, len(l.last))
	for _, s := range l.last {
		out = append(out, s)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}
