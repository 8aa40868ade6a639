// Package demux runs several measurement endpoints side by side. Each endpoint
// owns its socket and its receive task; the only shared state is the
// aggregator(s) the endpoints record into.
package demux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"probe-meter/meter/aggregator"
	"probe-meter/meter/config"
	merrors "probe-meter/meter/errors"
	mlog "probe-meter/meter/log"
	"probe-meter/meter/probe"
	"probe-meter/meter/reporter"
	"probe-meter/meter/status"
	"probe-meter/meter/wire"

	"github.com/sirupsen/logrus"
)

// SharedStream 为 PerStream=false 时共享聚合器的流名称。
const SharedStream = "all"

type Options struct {
	PayloadSize int
	MaxPayload  int
	// PerStream 为 true 时每个端点独立聚合；否则所有端点写入同一个聚合器。
	PerStream bool

	SRT config.SRTConfig
	// Receiver 为接收器参数模板（PollInterval、Now）；Layout 等字段由 New 填充。
	Receiver probe.Options
}

type Demux struct {
	endpoints []*Endpoint
	aggs      map[string]*aggregator.Aggregator
	order     []string

	bindOnce sync.Once
	bindErr  error
	ran      atomic.Bool
}

// New 根据端点配置创建 Demux（不打开任何 socket）。
// 参数：
// - endpoints: 端点配置（名称需唯一）
// - layout: 头部布局
// - opts: 接收参数与聚合方式
// 返回：
// - *Demux: 实例
// - error: CodeBadConfig
func New(endpoints []config.EndpointConfig, layout wire.Layout, opts Options) (*Demux, error) {
	if len(endpoints) == 0 {
		return nil, merrors.New(merrors.CodeBadConfig, "no endpoints configured")
	}
	d := &Demux{aggs: make(map[string]*aggregator.Aggregator)}

	recvOpts := opts.Receiver
	recvOpts.Layout = layout
	recvOpts.PayloadSize = opts.PayloadSize
	recvOpts.MaxPayload = opts.MaxPayload

	var shared *aggregator.Aggregator
	if !opts.PerStream {
		shared = aggregator.New(recvOpts.Now)
		d.aggs[SharedStream] = shared
		d.order = append(d.order, SharedStream)
	}

	seen := make(map[string]struct{}, len(endpoints))
	for _, ec := range endpoints {
		if _, ok := seen[ec.Name]; ok {
			return nil, merrors.New(merrors.CodeBadConfig, fmt.Sprintf("duplicate endpoint name: %s", ec.Name))
		}
		seen[ec.Name] = struct{}{}

		agg := shared
		if agg == nil {
			agg = aggregator.New(recvOpts.Now)
			d.aggs[ec.Name] = agg
			d.order = append(d.order, ec.Name)
		}
		ep, err := newEndpoint(ec, agg, recvOpts, opts.SRT)
		if err != nil {
			return nil, err
		}
		d.endpoints = append(d.endpoints, ep)
	}
	return d, nil
}

// Bind 打开所有端点的监听 socket（幂等）。任一失败会关闭已打开的 socket。
func (d *Demux) Bind() error {
	d.bindOnce.Do(func() {
		for i, ep := range d.endpoints {
			if err := ep.bind(); err != nil {
				for _, opened := range d.endpoints[:i] {
					opened.closeListeners()
				}
				d.bindErr = err
				return
			}
		}
	})
	return d.bindErr
}

// Run 并发运行所有端点，直到全部结束。
// 第一个致命传输错误会取消其他端点，并作为返回值；有序关闭不会影响其他端点。
// 返回：
// - nil: 所有端点有序关闭或 ctx 取消
// - error: 第一个致命错误（CodeTransport）；重复调用返回 CodeClosed
func (d *Demux) Run(ctx context.Context) error {
	if !d.ran.CompareAndSwap(false, true) {
		return merrors.New(merrors.CodeClosed, "demux already ran; endpoints are closed")
	}
	if err := d.Bind(); err != nil {
		for _, ep := range d.endpoints {
			ep.setState(status.EndpointClosed)
		}
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, ep := range d.endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			if err := ep.run(ctx); err != nil {
				errOnce.Do(func() {
					firstErr = err
					mlog.Component("demux").WithFields(logrus.Fields{"endpoint": ep.Name, "status": "fatal"}).WithError(err).Error("端点传输失败，停止全部端点")
					cancel()
				})
			}
		}(ep)
	}
	wg.Wait()
	return firstErr
}

// Endpoints 返回全部端点（按配置顺序）。
func (d *Demux) Endpoints() []*Endpoint { return d.endpoints }

// States 返回每个端点的当前状态。
func (d *Demux) States() map[string]status.EndpointStatus {
	out := make(map[string]status.EndpointStatus, len(d.endpoints))
	for _, ep := range d.endpoints {
		out[ep.Name] = ep.State()
	}
	return out
}

// Stats 返回每个端点接收器的累计计数。
func (d *Demux) Stats() map[string]probe.StatsSnapshot {
	out := make(map[string]probe.StatsSnapshot, len(d.endpoints))
	for _, ep := range d.endpoints {
		out[ep.Name] = ep.Stats()
	}
	return out
}

// Aggregators 返回流名称到聚合器的映射。
func (d *Demux) Aggregators() map[string]*aggregator.Aggregator {
	out := make(map[string]*aggregator.Aggregator, len(d.aggs))
	for k, v := range d.aggs {
		out[k] = v
	}
	return out
}

// Sources 返回供 reporter 使用的数据源（稳定顺序）。
func (d *Demux) Sources() []reporter.Source {
	out := make([]reporter.Source, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, reporter.Source{Stream: name, Agg: d.aggs[name]})
	}
	return out
}
