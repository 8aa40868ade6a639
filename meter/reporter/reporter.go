package reporter

import (
	"context"
	"time"

	"probe-meter/meter/aggregator"
	mlog "probe-meter/meter/log"
)

const DefaultPeriod = time.Second

// Sink 接收 Reporter 产出的快照；引擎不关心其落盘、绘图还是转发。
type Sink interface {
	Emit(Snapshot) error
}

// SinkFunc 将普通函数适配为 Sink。
type SinkFunc func(Snapshot) error

func (f SinkFunc) Emit(s Snapshot) error { return f(s) }

// Source 是一个需要上报的流及其聚合器。
type Source struct {
	Stream string
	Agg    *aggregator.Aggregator
}

type Options struct {
	Period time.Duration
	Unit   BandwidthUnit
	RunID  string
	Sink   Sink
}

type Reporter struct {
	opts    Options
	sources []Source
}

// New 创建 Reporter。
// 参数：
// - opts: 上报周期（<=0 取 1s）、带宽单位（空取 Mbps）、运行 ID 与输出 Sink
// - sources: 需要上报的流，每个 tick 逐一取走窗口
func New(opts Options, sources ...Source) *Reporter {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Unit == "" {
		opts.Unit = Mbps
	}
	return &Reporter{opts: opts, sources: sources}
}

// Period 返回上报周期。
func (r *Reporter) Period() time.Duration { return r.opts.Period }

// Run 按固定周期上报，直到 ctx 被取消；取消时对当前窗口做最后一次 Flush。
// 单次处理超出周期时，下一次 tick 在计时器允许时立即触发，不做追赶补偿。
func (r *Reporter) Run(ctx context.Context) error {
	t := time.NewTicker(r.opts.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return nil
		case <-t.C:
			r.Tick()
		}
	}
}

// Tick 取走所有流的当前窗口，按名义周期换算带宽并输出。
func (r *Reporter) Tick() []Snapshot { return r.drain(r.opts.Period, "report_tick") }

// Flush 取走所有流的当前窗口并输出，带宽按窗口实际时长换算（用于退出前的最后一次上报）。
func (r *Reporter) Flush() []Snapshot { return r.drain(0, "report_flush") }

func (r *Reporter) drain(period time.Duration, event string) []Snapshot {
	out := make([]Snapshot, 0, len(r.sources))
	for _, src := range r.sources {
		s := Build(src.Stream, src.Agg.SnapshotAndReset(), period, r.opts.Unit)
		s.RunID = r.opts.RunID
		out = append(out, s)
		if r.opts.Sink == nil {
			continue
		}
		if err := r.opts.Sink.Emit(s); err != nil {
			mlog.Component("reporter").WithFields(map[string]any{
				"stream": s.Stream,
				"status": "emit_error",
				"event":  event,
			}).WithError(err).Warn("快照输出失败")
		}
	}
	return out
}
