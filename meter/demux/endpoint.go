package demux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"probe-meter/meter/aggregator"
	"probe-meter/meter/config"
	merrors "probe-meter/meter/errors"
	mlog "probe-meter/meter/log"
	"probe-meter/meter/probe"
	"probe-meter/meter/status"

	srt "github.com/datarhei/gosrt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// receiver 是 probe 包中两类接收器的公共行为。
type receiver interface {
	Run(ctx context.Context) error
	Stats() probe.StatsSnapshot
}

// Endpoint 是一个独立的测量端点：一个监听地址、一个接收器、一个状态机。
// 端点只由自己的任务驱动，状态与统计通过加锁的访问器供外部读取。
type Endpoint struct {
	Name      string
	Transport status.Transport
	Listen    string
	Echo      bool

	readBuffer int
	agg        *aggregator.Aggregator
	opts       probe.Options
	srtCfg     config.SRTConfig

	// 监听句柄，bind 后只有一个非空。
	pc    net.PacketConn
	ln    net.Listener
	srtLn srt.Listener
	once  sync.Once

	mu       sync.Mutex
	state    status.EndpointStatus
	streamID string
	recv     receiver
	addr     net.Addr

	log *logrus.Entry
}

// State 返回端点当前状态。
func (e *Endpoint) State() status.EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Addr 返回实际绑定的监听地址（bind 之前为 nil）。
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// StreamID 返回当前连接的流标识（每次接受连接或绑定数据报 socket 时生成）。
func (e *Endpoint) StreamID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamID
}

// Stats 返回接收器累计计数；尚未开始接收时为零值。
func (e *Endpoint) Stats() probe.StatsSnapshot {
	e.mu.Lock()
	r := e.recv
	e.mu.Unlock()
	if r == nil {
		return probe.StatsSnapshot{}
	}
	return r.Stats()
}

// setState 推进状态机；非法迁移被忽略并返回 false。
func (e *Endpoint) setState(next status.EndpointStatus) bool {
	e.mu.Lock()
	prev := e.state
	if !prev.CanTransition(next) {
		e.mu.Unlock()
		return false
	}
	e.state = next
	e.mu.Unlock()
	e.log.WithFields(logrus.Fields{"from": prev.String(), "to": next.String(), "status": "state_change"}).Info("端点状态变更")
	return true
}

// bind 打开监听 socket。失败返回 CodeTransport。
func (e *Endpoint) bind() error {
	switch e.Transport {
	case status.TransportUDP:
		pc, err := net.ListenPacket("udp", e.Listen)
		if err != nil {
			return merrors.Transport(fmt.Sprintf("udp listen failed: %s", e.Listen), err)
		}
		if uc, ok := pc.(*net.UDPConn); ok && e.readBuffer > 0 {
			if err := uc.SetReadBuffer(e.readBuffer); err != nil {
				e.log.WithError(err).Warn("设置 UDP 接收缓冲失败")
			}
		}
		e.pc = pc
		e.setAddr(pc.LocalAddr())
	case status.TransportTCP:
		ln, err := net.Listen("tcp", e.Listen)
		if err != nil {
			return merrors.Transport(fmt.Sprintf("tcp listen failed: %s", e.Listen), err)
		}
		e.ln = ln
		e.setAddr(ln.Addr())
	case status.TransportSRT:
		ln, err := probe.ListenSRT(e.Listen, e.srtCfg)
		if err != nil {
			return err
		}
		e.srtLn = ln
		e.setAddr(ln.Addr())
	default:
		return merrors.New(merrors.CodeBadConfig, fmt.Sprintf("unknown transport: %s", e.Transport))
	}
	e.log.WithFields(logrus.Fields{"addr": e.Addr().String(), "status": "listen_ok"}).Info("端点开始监听")
	return nil
}

func (e *Endpoint) setAddr(a net.Addr) {
	e.mu.Lock()
	e.addr = a
	e.mu.Unlock()
}

// closeListeners 关闭监听句柄（幂等）。
func (e *Endpoint) closeListeners() {
	e.once.Do(func() {
		if e.pc != nil {
			_ = e.pc.Close()
		}
		if e.ln != nil {
			_ = e.ln.Close()
		}
		if e.srtLn != nil {
			e.srtLn.Close()
		}
	})
}

// run 驱动端点完整生命周期：等待连接 -> 接收 -> 关闭。
// 返回：
// - nil: 有序关闭或 ctx 取消
// - CodeTransport: accept/读写失败
func (e *Endpoint) run(ctx context.Context) error {
	defer e.setState(status.EndpointClosed)
	defer e.closeListeners()

	switch e.Transport {
	case status.TransportUDP:
		return e.runDatagram(ctx)
	case status.TransportTCP:
		return e.runStream(ctx)
	case status.TransportSRT:
		return e.runSRT(ctx)
	default:
		return merrors.New(merrors.CodeBadConfig, fmt.Sprintf("unknown transport: %s", e.Transport))
	}
}

// runDatagram 数据报 socket 无连接概念，绑定即进入 Streaming。
func (e *Endpoint) runDatagram(ctx context.Context) error {
	r := probe.NewDatagramReceiver(e.pc, e.options())
	e.begin(r, nil)
	return r.Run(ctx)
}

func (e *Endpoint) runStream(ctx context.Context) error {
	conn, err := e.accept(ctx, func() (net.Conn, error) { return e.ln.Accept() }, true)
	if err != nil || conn == nil {
		return err
	}
	defer conn.Close()

	opts := e.options()
	opts.Echo = e.Echo
	r := probe.NewStreamReceiver(conn, opts)
	e.begin(r, conn.RemoteAddr())
	return r.Run(ctx)
}

// runSRT 接受一个 SRT 连接。goSRT 的监听器与已接受的连接共享同一个 UDP socket，
// 关闭监听器会同时关闭连接，因此监听器保持打开直到 run 返回，期间不再调用 Accept2。
func (e *Endpoint) runSRT(ctx context.Context) error {
	var sc srt.Conn
	conn, err := e.accept(ctx, func() (net.Conn, error) {
		c, err := probe.AcceptSRT(e.srtLn)
		if err != nil {
			return nil, err
		}
		sc = c
		return c, nil
	}, false)
	if err != nil || conn == nil {
		return err
	}
	defer conn.Close()

	r := probe.NewMessageReceiver(conn, e.options())
	e.begin(r, conn.RemoteAddr())
	err = r.Run(ctx)

	rtt, loss := probe.SRTStats(sc)
	e.log.WithFields(logrus.Fields{"rtt_ms": rtt, "recv_loss_pct": loss, "status": "srt_stats"}).Info("SRT 连接统计")
	return err
}

// accept 等待一个连接；ctx 取消时关闭监听以解除阻塞。
// 每个端点只接受一个连接；closeAfter 为 true 时接受后立即关闭监听。
// 返回：
// - conn, nil: 已接受
// - nil, nil: ctx 取消
// - nil, err: CodeTransport
func (e *Endpoint) accept(ctx context.Context, acceptFn func() (net.Conn, error), closeAfter bool) (net.Conn, error) {
	stop := context.AfterFunc(ctx, e.closeListeners)
	conn, err := acceptFn()
	stop()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil, nil
		}
		e.log.WithField("status", "accept_error").WithError(err).Error("接受连接失败")
		return nil, merrors.Transport("accept failed", err)
	}
	if closeAfter {
		e.closeListeners()
	}
	if ctx.Err() != nil {
		_ = conn.Close()
		return nil, nil
	}
	return conn, nil
}

// begin 登记接收器并进入 Streaming；每个流生成新的流标识。
func (e *Endpoint) begin(r receiver, remote net.Addr) {
	id := uuid.NewString()
	e.mu.Lock()
	e.recv = r
	e.streamID = id
	e.mu.Unlock()

	fields := logrus.Fields{"stream_id": id, "status": "stream_begin"}
	if remote != nil {
		fields["remote"] = remote.String()
	}
	e.log.WithFields(fields).Info("端点开始接收")
	e.setState(status.EndpointStreaming)
}

func (e *Endpoint) options() probe.Options {
	opts := e.opts
	opts.Name = e.Name
	opts.Agg = e.agg
	return opts
}

func newEndpoint(cfg config.EndpointConfig, agg *aggregator.Aggregator, opts probe.Options, srtCfg config.SRTConfig) (*Endpoint, error) {
	tr, err := status.ParseTransport(cfg.Transport)
	if err != nil {
		return nil, merrors.Wrap(merrors.CodeBadConfig, "invalid endpoint", err)
	}
	return &Endpoint{
		Name:       cfg.Name,
		Transport:  tr,
		Listen:     cfg.Listen,
		Echo:       cfg.Echo,
		readBuffer: int(cfg.ReadBuffer),
		agg:        agg,
		opts:       opts,
		srtCfg:     srtCfg,
		state:      status.EndpointAwaiting,
		log:        mlog.Component("demux").WithFields(logrus.Fields{"endpoint": cfg.Name, "transport": tr.String()}),
	}, nil
}
