// Package sender transmits sequenced, timestamped probe units. It is the
// counterpart of the meter: it stamps each unit at send time and, against an
// echoing stream endpoint, times the returned headers as round trips.
package sender

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	merrors "probe-meter/meter/errors"
	mlog "probe-meter/meter/log"
	"probe-meter/meter/wire"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Layout wire.Layout
	// Payload 为每个单元的载荷字节数。
	Payload int
	// Interval 为两次发送之间的固定间隔（0 表示仅受限速约束）。
	Interval time.Duration
	RateMbps float64
	// Count 为发送单元数（<=0 表示直到 ctx 取消）。
	Count int
	// RTT 为 true 时读取对端回显的头部并计算往返时延（仅流连接）。
	RTT bool

	Now func() time.Time
}

type Result struct {
	Sent  uint64
	Bytes uint64

	Echoes    int
	AvgRTTMs  float64
	MinRTTMs  float64
	MaxRTTMs  float64
	Elapsed   time.Duration
	RateMbits float64
}

// Run 在 conn 上发送探测单元直到达到 Count 或 ctx 取消。
// 返回：
// - Result: 发送统计（RTT 开启时包含回显统计）
// - error: CodeTransport（ctx 取消不视为错误）
func Run(ctx context.Context, conn net.Conn, opts Options) (Result, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := mlog.Component("sender").WithField("remote", conn.RemoteAddr().String())
	limiter := NewRateLimiter(opts.RateMbps)

	var echo *echoReader
	if opts.RTT {
		echo = newEchoReader(conn, opts.Layout, opts.Now)
		go echo.run()
	}

	var ticker *time.Ticker
	if opts.Interval > 0 {
		ticker = time.NewTicker(opts.Interval)
		defer ticker.Stop()
	}

	payload := make([]byte, opts.Payload)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := make([]byte, 0, opts.Layout.Size()+len(payload))

	var res Result
	start := opts.Now()
	var sendErr error
	for seq := uint32(0); opts.Count <= 0 || int(seq) < opts.Count; seq++ {
		if err := limiter.Wait(ctx, opts.Layout.Size()+len(payload)); err != nil {
			break
		}
		frame = opts.Layout.AppendEncode(frame[:0], wire.Unit{
			Sequence:      seq,
			SendTimestamp: opts.Layout.Unit.FromTime(opts.Now()),
			Payload:       payload,
		})
		if _, err := conn.Write(frame); err != nil {
			if ctx.Err() == nil {
				log.WithField("status", "write_error").WithError(err).Error("发送失败")
				sendErr = merrors.Transport("probe write failed", err)
			}
			break
		}
		res.Sent++
		res.Bytes += uint64(len(payload))

		if ticker != nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	res.Elapsed = opts.Now().Sub(start)
	if res.Elapsed > 0 {
		res.RateMbits = float64(res.Bytes*8) / res.Elapsed.Seconds() / 1e6
	}

	if echo != nil {
		echo.wait(ctx, int(res.Sent))
		_ = conn.SetReadDeadline(time.Now())
		<-echo.done
		echo.fill(&res)
	}
	log.WithFields(logrus.Fields{
		"sent":      res.Sent,
		"bytes":     res.Bytes,
		"rate_mbps": res.RateMbits,
		"echoes":    res.Echoes,
		"status":    "send_done",
	}).Info("发送结束")
	return res, sendErr
}

// echoReader 读取回显头部并按原始发送时间戳计算 RTT。
type echoReader struct {
	conn   net.Conn
	layout wire.Layout
	now    func() time.Time
	done   chan struct{}

	mu    sync.Mutex
	cond  *sync.Cond
	count int
	sum   float64
	min   float64
	max   float64
}

func newEchoReader(conn net.Conn, l wire.Layout, now func() time.Time) *echoReader {
	e := &echoReader{conn: conn, layout: l, now: now, done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *echoReader) run() {
	defer e.wake()
	defer close(e.done)
	hdr := make([]byte, e.layout.Size())
	for {
		if _, err := io.ReadFull(e.conn, hdr); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				var ne net.Error
				if !errors.As(err, &ne) || !ne.Timeout() {
					mlog.Component("sender").WithError(err).Debug("回显读取结束")
				}
			}
			return
		}
		h, err := e.layout.DecodeHeader(hdr)
		if err != nil {
			return
		}
		rtt := e.layout.Unit.LatencyMs(h.SendTimestamp, e.now())
		e.mu.Lock()
		if e.count == 0 || rtt < e.min {
			e.min = rtt
		}
		if e.count == 0 || rtt > e.max {
			e.max = rtt
		}
		e.count++
		e.sum += rtt
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

func (e *echoReader) wake() {
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// wait 等待 n 个回显到达，最多等待 1 秒或直到 ctx 取消。
func (e *echoReader) wait(ctx context.Context, n int) {
	deadline := time.Now().Add(time.Second)
	stop := context.AfterFunc(ctx, e.wake)
	defer stop()
	timer := time.AfterFunc(time.Second, e.wake)
	defer timer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for e.count < n && ctx.Err() == nil && time.Now().Before(deadline) {
		select {
		case <-e.done:
			return
		default:
		}
		e.cond.Wait()
	}
}

func (e *echoReader) fill(res *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res.Echoes = e.count
	if e.count > 0 {
		res.AvgRTTMs = e.sum / float64(e.count)
		res.MinRTTMs = e.min
		res.MaxRTTMs = e.max
	}
}
