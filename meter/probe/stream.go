package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	merrors "probe-meter/meter/errors"
	"probe-meter/meter/wire"

	"github.com/sirupsen/logrus"
)

// StreamReceiver 处理字节流连接：头部与载荷可能被拆分到多次读取中，
// 接收器在内部缓冲里累积，直到凑满头部（以及声明或固定的载荷长度）。
// 读超时不会丢弃已累积的部分数据。
type StreamReceiver struct {
	base

	conn    net.Conn
	pending []byte
	scratch []byte
}

// NewStreamReceiver 基于已建立的流连接创建接收器。
func NewStreamReceiver(conn net.Conn, opts Options) *StreamReceiver {
	r := &StreamReceiver{conn: conn}
	r.init(opts)
	return r
}

// Run 循环读取直到对端有序关闭、ctx 取消或发生致命传输错误。
// 返回：
// - nil: 有序关闭（含关闭前残留的不完整头部，计入 Partial）或 ctx 取消
// - CodeTransport: 读写失败
func (r *StreamReceiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	r.scratch = getBuf()
	defer putBuf(r.scratch)

	hdrSize := r.opts.Layout.Size()
	for {
		ok, err := r.fill(ctx, hdrSize)
		if err != nil {
			return err
		}
		if !ok {
			r.closed(hdrSize)
			return nil
		}
		arrival := r.opts.Now()
		h, err := r.opts.Layout.DecodeHeader(r.pending[:hdrSize])
		if err != nil {
			return err
		}

		plen := r.opts.PayloadSize
		if h.PayloadLen >= 0 {
			plen = h.PayloadLen
		}
		if r.opts.MaxPayload > 0 && plen > r.opts.MaxPayload {
			// 长度字段越界后无法在字节流中重新对齐，只能关闭连接。
			r.dropMalformed(merrors.Malformed("payload too large", fmt.Errorf("declared=%d max=%d", plen, r.opts.MaxPayload)), hdrSize)
			return nil
		}

		ok, err = r.fill(ctx, hdrSize+plen)
		if err != nil {
			return err
		}
		if !ok {
			r.closed(hdrSize + plen)
			return nil
		}

		frame := r.pending[:hdrSize+plen]
		r.accept(headerUnit(h, frame[hdrSize:]), arrival)
		if r.opts.Echo {
			if _, err := r.conn.Write(frame[:hdrSize]); err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				r.log.WithField("status", "echo_error").WithError(err).Error("回显头部写入失败")
				return merrors.Transport("stream echo failed", err)
			}
		}
		r.consume(hdrSize + plen)
	}
}

// fill 读取直到内部缓冲至少有 n 字节。
// 返回：
// - true: 已凑满
// - false, nil: 对端有序关闭（EOF / 零长度读取）或 ctx 取消
// - false, err: 致命读取错误
func (r *StreamReceiver) fill(ctx context.Context, n int) (bool, error) {
	for len(r.pending) < n {
		if ctx.Err() != nil {
			return false, nil
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(r.opts.PollInterval))

		m, err := r.conn.Read(r.scratch)
		if m > 0 {
			r.pending = append(r.pending, r.scratch[:m]...)
		}
		if err == nil {
			if m == 0 {
				return false, nil
			}
			continue
		}
		if isTimeout(err) {
			continue
		}
		if m > 0 && len(r.pending) >= n {
			return true, nil
		}
		if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return false, nil
		}
		r.log.WithField("status", "read_error").WithError(err).Error("流读取失败")
		return false, merrors.Transport("stream read failed", err)
	}
	return true, nil
}

// consume 丢弃已处理的 n 字节，保留其后已读入的数据。
func (r *StreamReceiver) consume(n int) {
	rest := copy(r.pending, r.pending[n:])
	r.pending = r.pending[:rest]
}

// closed 记录有序关闭；残留的不完整单元按部分读取忽略。
func (r *StreamReceiver) closed(want int) {
	fields := logrus.Fields{"status": "stream_closed"}
	if len(r.pending) > 0 {
		r.stats.Partial.Add(1)
		fields["partial_bytes"] = len(r.pending)
		fields["want_bytes"] = want
	}
	r.log.WithFields(fields).Info("流连接已关闭")
	r.pending = r.pending[:0]
}

func headerUnit(h wire.Header, payload []byte) wire.Unit {
	return wire.Unit{Sequence: h.Sequence, SendTimestamp: h.SendTimestamp, Payload: payload}
}
