// Package wire encodes and decodes the timestamped header that prefixes every
// probe unit. The layout is a deployment parameter: senders in the field use
// both byte orders, 8-byte (timestamp only) and 12-byte (sequence + timestamp)
// headers, and millisecond or microsecond timestamps.
package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"probe-meter/meter/config"
	merrors "probe-meter/meter/errors"
)

const (
	HeaderTimestampOnly = 8
	HeaderSequenced     = 12

	lengthFieldSize = 4
)

type TimestampUnit time.Duration

const (
	Millisecond TimestampUnit = TimestampUnit(time.Millisecond)
	Microsecond TimestampUnit = TimestampUnit(time.Microsecond)
	Nanosecond  TimestampUnit = TimestampUnit(time.Nanosecond)
)

// ParseTimestampUnit 解析时间戳单位（ms/us/ns）。
func ParseTimestampUnit(v string) (TimestampUnit, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "ms":
		return Millisecond, nil
	case "us", "µs":
		return Microsecond, nil
	case "ns":
		return Nanosecond, nil
	default:
		return 0, fmt.Errorf("unknown timestamp unit: %q", v)
	}
}

func (u TimestampUnit) String() string {
	switch u {
	case Millisecond:
		return "ms"
	case Microsecond:
		return "us"
	case Nanosecond:
		return "ns"
	default:
		return time.Duration(u).String()
	}
}

// FromTime 将时间换算为以该单位计的 epoch 时间戳。
func (u TimestampUnit) FromTime(t time.Time) int64 { return t.UnixNano() / int64(u) }

// ToTime 将以该单位计的 epoch 时间戳换算为时间。
func (u TimestampUnit) ToTime(ts int64) time.Time { return time.Unix(0, ts*int64(u)) }

// LatencyMs 计算单向时延（毫秒）：到达时刻减去发送时间戳。
// 收发两端时钟不同步时结果可能为负，按原值返回。
func (u TimestampUnit) LatencyMs(ts int64, arrival time.Time) float64 {
	return float64(arrival.UnixNano()-ts*int64(u)) / float64(time.Millisecond)
}

// ParseByteOrder 解析字节序（big/little）。
func ParseByteOrder(v string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "big", "be", "network":
		return binary.BigEndian, nil
	case "little", "le":
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order: %q", v)
	}
}

// Layout 描述一种头部布局。
//
//	HeaderSize=12: | seq u32 | ts i64 | [len u32] | payload |
//	HeaderSize=8:  | ts i64 | [len u32] | payload |
type Layout struct {
	Order        binary.ByteOrder
	HeaderSize   int
	Unit         TimestampUnit
	LengthPrefix bool
}

// NewLayout 构造并校验头部布局。
// 参数：
// - order: 字节序
// - headerSize: 8 或 12
// - unit: 时间戳单位
// - lengthPrefix: 时间戳后是否紧跟 uint32 载荷长度
func NewLayout(order binary.ByteOrder, headerSize int, unit TimestampUnit, lengthPrefix bool) (Layout, error) {
	if order == nil {
		return Layout{}, fmt.Errorf("byte order is required")
	}
	if headerSize != HeaderTimestampOnly && headerSize != HeaderSequenced {
		return Layout{}, fmt.Errorf("unsupported header size: %d", headerSize)
	}
	if unit <= 0 {
		return Layout{}, fmt.Errorf("invalid timestamp unit: %d", unit)
	}
	return Layout{Order: order, HeaderSize: headerSize, Unit: unit, LengthPrefix: lengthPrefix}, nil
}

// FromConfig 由配置构造头部布局。
func FromConfig(cfg config.WireConfig) (Layout, error) {
	order, err := ParseByteOrder(cfg.ByteOrder)
	if err != nil {
		return Layout{}, merrors.Wrap(merrors.CodeBadConfig, "invalid wire layout", err)
	}
	unit, err := ParseTimestampUnit(cfg.TimestampUnit)
	if err != nil {
		return Layout{}, merrors.Wrap(merrors.CodeBadConfig, "invalid wire layout", err)
	}
	l, err := NewLayout(order, cfg.HeaderSize, unit, cfg.LengthPrefix)
	if err != nil {
		return Layout{}, merrors.Wrap(merrors.CodeBadConfig, "invalid wire layout", err)
	}
	return l, nil
}

// Size 返回完整头部字节数（含可选长度字段）。
func (l Layout) Size() int {
	if l.LengthPrefix {
		return l.HeaderSize + lengthFieldSize
	}
	return l.HeaderSize
}

// HasSequence 返回布局是否携带序号。
func (l Layout) HasSequence() bool { return l.HeaderSize == HeaderSequenced }

type Unit struct {
	Sequence      uint32
	SendTimestamp int64
	Payload       []byte
}

type Header struct {
	Sequence      uint32
	SendTimestamp int64
	// PayloadLen 仅在 LengthPrefix 布局下有效，否则为 -1。
	PayloadLen int
}

// Encode 编码一个探测单元（头部 + 载荷）。
func (l Layout) Encode(u Unit) []byte {
	return l.AppendEncode(make([]byte, 0, l.Size()+len(u.Payload)), u)
}

// AppendEncode 将编码结果追加到 dst 并返回新切片。
// 8 字节布局不携带序号，u.Sequence 被忽略。
func (l Layout) AppendEncode(dst []byte, u Unit) []byte {
	var hdr [HeaderSequenced + lengthFieldSize]byte
	off := 0
	if l.HasSequence() {
		l.Order.PutUint32(hdr[off:], u.Sequence)
		off += 4
	}
	l.Order.PutUint64(hdr[off:], uint64(u.SendTimestamp))
	off += 8
	if l.LengthPrefix {
		l.Order.PutUint32(hdr[off:], uint32(len(u.Payload)))
		off += lengthFieldSize
	}
	dst = append(dst, hdr[:off]...)
	return append(dst, u.Payload...)
}

// DecodeHeader 解析头部字段（流模式下先读满头部再读载荷）。
// 返回：
// - Header: 头部字段
// - error: hdr 短于 Size() 时返回 MalformedPacket
func (l Layout) DecodeHeader(hdr []byte) (Header, error) {
	if len(hdr) < l.Size() {
		return Header{}, merrors.Malformed("short header", fmt.Errorf("got=%d want=%d", len(hdr), l.Size()))
	}
	h := Header{PayloadLen: -1}
	off := 0
	if l.HasSequence() {
		h.Sequence = l.Order.Uint32(hdr[off:])
		off += 4
	}
	h.SendTimestamp = int64(l.Order.Uint64(hdr[off:]))
	off += 8
	if l.LengthPrefix {
		h.PayloadLen = int(l.Order.Uint32(hdr[off:]))
	}
	return h, nil
}

// Decode 解析一个完整探测单元（数据报模式）。
// Payload 与 buf 共享底层内存，调用方在复用 buf 前需自行拷贝。
// 返回：
// - Unit: 解析结果
// - error: 头部过短，或长度字段与实际载荷不符时返回 MalformedPacket
func (l Layout) Decode(buf []byte) (Unit, error) {
	h, err := l.DecodeHeader(buf)
	if err != nil {
		return Unit{}, err
	}
	payload := buf[l.Size():]
	if h.PayloadLen >= 0 {
		if h.PayloadLen > len(payload) {
			return Unit{}, merrors.Malformed("truncated payload", fmt.Errorf("declared=%d got=%d", h.PayloadLen, len(payload)))
		}
		payload = payload[:h.PayloadLen]
	}
	return Unit{Sequence: h.Sequence, SendTimestamp: h.SendTimestamp, Payload: payload}, nil
}
