package status

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EndpointStatus string

const (
	EndpointAwaiting  EndpointStatus = "AwaitingConnection"
	EndpointStreaming EndpointStatus = "Streaming"
	EndpointClosed    EndpointStatus = "Closed"
)

// String 返回端点状态文本。
func (s EndpointStatus) String() string { return string(s) }

// CanTransition 判断端点状态能否从 s 推进到 next。
// 规则：
// - AwaitingConnection -> Streaming | Closed
// - Streaming -> Closed
// - Closed 为终态
func (s EndpointStatus) CanTransition(next EndpointStatus) bool {
	switch s {
	case EndpointAwaiting:
		return next == EndpointStreaming || next == EndpointClosed
	case EndpointStreaming:
		return next == EndpointClosed
	default:
		return false
	}
}

// ParseEndpointStatus 将文本解析为 EndpointStatus。
// 参数：
// - v: 状态文本（AwaitingConnection/Streaming/Closed）
// 返回：
// - EndpointStatus: 解析结果
// - error: 未知状态时返回错误
func ParseEndpointStatus(v string) (EndpointStatus, error) {
	switch strings.TrimSpace(v) {
	case string(EndpointAwaiting):
		return EndpointAwaiting, nil
	case string(EndpointStreaming):
		return EndpointStreaming, nil
	case string(EndpointClosed):
		return EndpointClosed, nil
	default:
		return "", fmt.Errorf("unknown EndpointStatus: %q", v)
	}
}

// MarshalJSON 将 EndpointStatus 编码为 JSON 字符串。
func (s EndpointStatus) MarshalJSON() ([]byte, error) { return json.Marshal(string(s)) }

// UnmarshalJSON 从 JSON 字符串解码为 EndpointStatus。
func (s *EndpointStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseEndpointStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
	TransportSRT Transport = "srt"
)

// String 返回传输类型文本。
func (t Transport) String() string { return string(t) }

// Stream 判断该传输是否为字节流语义（需要按头部长度重组）。
func (t Transport) Stream() bool { return t == TransportTCP }

// ParseTransport 将文本解析为 Transport（大小写不敏感）。
func ParseTransport(v string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case string(TransportUDP):
		return TransportUDP, nil
	case string(TransportTCP):
		return TransportTCP, nil
	case string(TransportSRT):
		return TransportSRT, nil
	default:
		return "", fmt.Errorf("unknown Transport: %q", v)
	}
}

// MarshalJSON 将 Transport 编码为 JSON 字符串。
func (t Transport) MarshalJSON() ([]byte, error) { return json.Marshal(string(t)) }

// UnmarshalJSON 从 JSON 字符串解码为 Transport。
func (t *Transport) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseTransport(v)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
