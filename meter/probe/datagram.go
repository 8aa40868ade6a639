package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	merrors "probe-meter/meter/errors"

	"github.com/sirupsen/logrus"
)

// DatagramReceiver 处理自定界的消息：每次读取即一个完整探测单元，不做重组。
// 适用于 UDP（net.PacketConn）以及 SRT live 模式（每次 Read 返回一条消息）。
type DatagramReceiver struct {
	base

	read     func([]byte) (int, error)
	deadline func(time.Time) error
	closer   io.Closer
}

// NewDatagramReceiver 基于 UDP socket 创建数据报接收器。
func NewDatagramReceiver(conn net.PacketConn, opts Options) *DatagramReceiver {
	r := &DatagramReceiver{
		read: func(b []byte) (int, error) {
			n, _, err := conn.ReadFrom(b)
			return n, err
		},
		deadline: conn.SetReadDeadline,
		closer:   conn,
	}
	r.init(opts)
	return r
}

// NewMessageReceiver 基于消息语义的连接（如 SRT）创建接收器。
func NewMessageReceiver(conn net.Conn, opts Options) *DatagramReceiver {
	r := &DatagramReceiver{read: conn.Read, deadline: conn.SetReadDeadline, closer: conn}
	r.init(opts)
	return r
}

// Run 循环读取直到 ctx 取消或发生致命传输错误。
// 返回：
// - nil: ctx 取消、socket 被关闭或对端结束
// - CodeTransport: 读取失败（非超时）
func (r *DatagramReceiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.closer.Close() })
	defer stop()

	buf := getBuf()
	defer putBuf(buf)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = r.deadline(time.Now().Add(r.opts.PollInterval))

		n, err := r.read(buf)
		if err == nil {
			r.handle(buf[:n], r.opts.Now())
			continue
		}
		if isTimeout(err) {
			continue
		}
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			r.log.WithField("status", "receiver_stop").Info("数据报接收结束")
			return nil
		}
		r.log.WithField("status", "read_error").WithError(err).Error("数据报读取失败")
		return merrors.Transport("datagram read failed", err)
	}
}

// handle 解码一个数据报；过短报文丢弃且不影响计数。
func (r *DatagramReceiver) handle(b []byte, arrival time.Time) {
	u, err := r.opts.Layout.Decode(b)
	if err != nil {
		r.dropMalformed(err, len(b))
		return
	}
	if r.opts.MaxPayload > 0 && len(u.Payload) > r.opts.MaxPayload {
		r.dropMalformed(merrors.Malformed("payload too large", nil), len(b))
		return
	}
	r.accept(u, arrival)
	if r.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		r.log.WithFields(logrus.Fields{"seq": u.Sequence, "len": len(u.Payload)}).Trace("收到探测单元")
	}
}
