package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"probe-meter/meter/aggregator"
	merrors "probe-meter/meter/errors"
	"probe-meter/meter/wire"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Unix(1_700_000_000, 0)

// seqClock 依次返回给定的到达时刻（用尽后保持最后一个）。
type seqClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *seqClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return v
}

func udpLayout(t *testing.T) wire.Layout {
	t.Helper()
	l, err := wire.NewLayout(binary.BigEndian, wire.HeaderSequenced, wire.Microsecond, false)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// listenUDP 在回环地址上绑定一个临时 UDP 端口。
func listenUDP(t *testing.T) (net.PacketConn, net.Conn) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	tx, err := net.Dial("udp", pc.LocalAddr().String())
	if err != nil {
		_ = pc.Close()
		t.Fatal(err)
	}
	return pc, tx
}

// waitFor 在超时时间内轮询等待条件成立。
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout")
}

// TestDatagramLatencyScenario 验证发送时刻 t0/t0+10/t0+20、到达时刻 t0+15/t0+25/t0+35
// 的三个单元各产生 15ms 样本，窗口平均为 15ms。
func TestDatagramLatencyScenario(t *testing.T) {
	l := udpLayout(t)
	pc, tx := listenUDP(t)
	defer tx.Close()

	clock := &seqClock{times: []time.Time{
		t0.Add(15 * time.Millisecond),
		t0.Add(25 * time.Millisecond),
		t0.Add(35 * time.Millisecond),
	}}
	agg := aggregator.New(nil)
	r := NewDatagramReceiver(pc, Options{Name: "udp", Layout: l, Agg: agg, Now: clock.Now, PollInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for i := 0; i < 3; i++ {
		ts := t0.Add(time.Duration(i*10) * time.Millisecond)
		u := wire.Unit{Sequence: uint32(i), SendTimestamp: wire.Microsecond.FromTime(ts), Payload: []byte("pcm")}
		if _, err := tx.Write(l.Encode(u)); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return r.Stats().Units == 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	w := agg.SnapshotAndReset()
	avg, ok := w.AvgLatencyMs()
	if !ok || avg != 15 {
		t.Fatalf("avg=%v ok=%v latencies=%v", avg, ok, w.Latencies)
	}
	if w.TotalBytes != 9 || w.Gaps != 0 {
		t.Fatalf("window=%+v", w)
	}
}

// TestDatagramMalformedDropped 验证过短数据报被丢弃且不影响计数。
func TestDatagramMalformedDropped(t *testing.T) {
	l := udpLayout(t)
	pc, tx := listenUDP(t)
	defer tx.Close()

	agg := aggregator.New(nil)
	r := NewDatagramReceiver(pc, Options{Name: "udp", Layout: l, Agg: agg, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if _, err := tx.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	good := l.Encode(wire.Unit{Sequence: 1, SendTimestamp: wire.Microsecond.FromTime(time.Now()), Payload: []byte("xy")})
	if _, err := tx.Write(good); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return r.Stats().Units == 1 && r.Stats().Malformed == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if c, b := agg.Pending(); c != 1 || b != 2 {
		t.Fatalf("pending count=%d bytes=%d", c, b)
	}
}

// TestDatagramSequenceGaps 验证序号跳变与乱序仅被计数，样本照常记录。
func TestDatagramSequenceGaps(t *testing.T) {
	l := udpLayout(t)
	agg := aggregator.New(nil)
	r := &DatagramReceiver{}
	r.init(Options{Layout: l, Agg: agg})

	for _, seq := range []uint32{1, 2, 5, 3, 5, 6} {
		r.handle(l.Encode(wire.Unit{Sequence: seq, SendTimestamp: 1}), time.Now())
	}
	w := agg.SnapshotAndReset()
	if w.Count != 6 || w.Gaps != 2 || w.Reordered != 2 {
		t.Fatalf("window=%+v", w)
	}
}

// TestSequenceTrackerWraparound 验证 uint32 回绕时不会误判为大量跳变。
func TestSequenceTrackerWraparound(t *testing.T) {
	var tr sequenceTracker
	tr.observe(^uint32(0) - 1)
	if g, r := tr.observe(^uint32(0)); g != 0 || r != 0 {
		t.Fatalf("g=%d r=%d", g, r)
	}
	if g, r := tr.observe(1); g != 1 || r != 0 {
		t.Fatalf("g=%d r=%d", g, r)
	}
}

// TestDatagramClosedSocketStops 验证 socket 被外部关闭时接收循环有序退出。
func TestDatagramClosedSocketStops(t *testing.T) {
	pc, tx := listenUDP(t)
	defer tx.Close()
	r := NewDatagramReceiver(pc, Options{Layout: udpLayout(t), Agg: aggregator.New(nil), PollInterval: 20 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	time.Sleep(30 * time.Millisecond)
	_ = pc.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receiver did not stop")
	}
}

// failingPacketConn 的 ReadFrom 总是返回一个非超时错误。
type failingPacketConn struct {
	net.PacketConn
	err error
}

func (c *failingPacketConn) ReadFrom([]byte) (int, net.Addr, error) { return 0, nil, c.err }
func (c *failingPacketConn) SetReadDeadline(time.Time) error        { return nil }
func (c *failingPacketConn) Close() error                           { return nil }

// TestDatagramFatalError 验证非超时读取错误以 CodeTransport 返回。
func TestDatagramFatalError(t *testing.T) {
	cause := errors.New("connection refused")
	r := NewDatagramReceiver(&failingPacketConn{err: cause}, Options{Layout: udpLayout(t), Agg: aggregator.New(nil)})
	err := r.Run(context.Background())
	if !merrors.IsTransport(err) || !errors.Is(err, cause) {
		t.Fatalf("err=%v", err)
	}
}
