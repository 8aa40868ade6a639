package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"probe-meter/meter/config"
	merrors "probe-meter/meter/errors"
)

// TestRoundTripLayouts 验证所有字节序/头部长度/长度前缀组合下 decode(encode(u)) == u。
func TestRoundTripLayouts(t *testing.T) {
	units := []Unit{
		{Sequence: 0, SendTimestamp: 0, Payload: nil},
		{Sequence: 7, SendTimestamp: 1_700_000_000_123_456, Payload: []byte("audio-frame")},
		{Sequence: math.MaxUint32, SendTimestamp: -42, Payload: bytes.Repeat([]byte{0xAB}, 1024)},
	}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		for _, size := range []int{HeaderTimestampOnly, HeaderSequenced} {
			for _, lp := range []bool{false, true} {
				l, err := NewLayout(order, size, Microsecond, lp)
				if err != nil {
					t.Fatal(err)
				}
				for _, u := range units {
					got, err := l.Decode(l.Encode(u))
					if err != nil {
						t.Fatalf("%s/%d/%v: %v", order, size, lp, err)
					}
					wantSeq := u.Sequence
					if !l.HasSequence() {
						wantSeq = 0
					}
					if got.Sequence != wantSeq || got.SendTimestamp != u.SendTimestamp || !bytes.Equal(got.Payload, u.Payload) {
						t.Fatalf("%s/%d/%v: got=%+v want=%+v", order, size, lp, got, u)
					}
				}
			}
		}
	}
}

// TestKnownBytes 验证 12 字节大端布局与 struct.pack("!Iq") 产出的字节一致。
func TestKnownBytes(t *testing.T) {
	l, err := NewLayout(binary.BigEndian, HeaderSequenced, Microsecond, false)
	if err != nil {
		t.Fatal(err)
	}
	got := l.Encode(Unit{Sequence: 1, SendTimestamp: 0x0102030405060708})
	want := []byte{0, 0, 0, 1, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(got, want) {
		t.Fatalf("got=%x want=%x", got, want)
	}

	le, _ := NewLayout(binary.LittleEndian, HeaderTimestampOnly, Millisecond, false)
	got = le.Encode(Unit{SendTimestamp: 1})
	if !bytes.Equal(got, []byte{1, 0, 0, 0, 0, 0, 0, 0}) {
		t.Fatalf("got=%x", got)
	}
}

// TestDecodeShortBuffer 验证短于头部的缓冲返回 MalformedPacket 而非 panic。
func TestDecodeShortBuffer(t *testing.T) {
	l, _ := NewLayout(binary.BigEndian, HeaderSequenced, Microsecond, false)
	for n := 0; n < l.Size(); n++ {
		_, err := l.Decode(make([]byte, n))
		if !merrors.IsMalformed(err) {
			t.Fatalf("len=%d: expected malformed, got %v", n, err)
		}
	}
	if _, err := l.Decode(make([]byte, l.Size())); err != nil {
		t.Fatalf("header-only unit should decode: %v", err)
	}
}

// TestDecodeTruncatedLengthPrefixed 验证长度字段大于实际载荷时返回 MalformedPacket。
func TestDecodeTruncatedLengthPrefixed(t *testing.T) {
	l, _ := NewLayout(binary.BigEndian, HeaderSequenced, Microsecond, true)
	if l.Size() != 16 {
		t.Fatalf("size=%d", l.Size())
	}
	b := l.Encode(Unit{Sequence: 1, SendTimestamp: 2, Payload: []byte("abcdef")})
	if _, err := l.Decode(b[:len(b)-2]); !merrors.IsMalformed(err) {
		t.Fatalf("expected malformed, got %v", err)
	}
	h, err := l.DecodeHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if h.PayloadLen != 6 {
		t.Fatalf("payload len=%d", h.PayloadLen)
	}
}

// TestNewLayoutRejects 验证非法布局参数。
func TestNewLayoutRejects(t *testing.T) {
	if _, err := NewLayout(nil, 12, Microsecond, false); err == nil {
		t.Fatalf("expected error for nil order")
	}
	if _, err := NewLayout(binary.BigEndian, 10, Microsecond, false); err == nil {
		t.Fatalf("expected error for header size")
	}
	if _, err := NewLayout(binary.BigEndian, 8, 0, false); err == nil {
		t.Fatalf("expected error for unit")
	}
}

// TestFromConfig 验证配置到布局的换算。
func TestFromConfig(t *testing.T) {
	l, err := FromConfig(config.WireConfig{ByteOrder: "little", HeaderSize: 8, TimestampUnit: "ms"})
	if err != nil {
		t.Fatal(err)
	}
	if l.Order != binary.LittleEndian || l.Unit != Millisecond || l.HasSequence() {
		t.Fatalf("layout=%+v", l)
	}
	_, err = FromConfig(config.WireConfig{ByteOrder: "big", HeaderSize: 12, TimestampUnit: "s"})
	if merrors.Code(err) != merrors.CodeBadConfig {
		t.Fatalf("err=%v", err)
	}
}

// TestLatencyMs 验证时间戳单位换算与负时延（时钟偏差）原样返回。
func TestLatencyMs(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	arrival := t0.Add(15 * time.Millisecond)

	if got := Microsecond.LatencyMs(Microsecond.FromTime(t0), arrival); got != 15 {
		t.Fatalf("us latency=%v", got)
	}
	if got := Millisecond.LatencyMs(Millisecond.FromTime(t0), arrival); got != 15 {
		t.Fatalf("ms latency=%v", got)
	}
	if got := Nanosecond.LatencyMs(Nanosecond.FromTime(arrival), t0); got != -15 {
		t.Fatalf("skewed latency=%v", got)
	}
	if !Millisecond.ToTime(Millisecond.FromTime(t0)).Equal(t0) {
		t.Fatalf("ToTime mismatch")
	}
}
