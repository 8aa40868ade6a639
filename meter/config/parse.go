package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ByteSize int64

// Int64 返回字节数的 int64 表达。
func (b ByteSize) Int64() int64 { return int64(b) }

// UnmarshalYAML 支持从 YAML 中解析 ByteSize（如 64KB、2MB、1024B、1024）。
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*b = 0
		return nil
	}
	v := strings.TrimSpace(value.Value)
	if v == "" {
		*b = 0
		return nil
	}
	n, err := parseByteSize(v)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// parseByteSize 解析形如 "64KB"/"1.5MB" 的字节数文本。
// 参数：
// - s: 字节数文本
// 返回：
// - int64: 字节数
// - error: 解析失败原因
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		mult = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		mult = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return int64(f * float64(mult)), nil
}

// DefaultConfig 返回一份可用的默认配置。
// 默认布局为 12 字节大端头部（seq + 微秒时间戳），与 UDP 探测端一致；
// 默认监听一个 UDP 端点并每秒上报一次。
func DefaultConfig() Config {
	return Config{
		Wire: WireConfig{
			ByteOrder:     "big",
			HeaderSize:    12,
			TimestampUnit: "us",
			LengthPrefix:  false,
			PayloadSize:   1024,
			MaxPayload:    ByteSize(64 * 1024),
		},
		Endpoints: []EndpointConfig{
			{Name: "stream", Transport: "udp", Listen: "0.0.0.0:12345"},
		},
		Report: ReportConfig{
			Period:        1 * time.Second,
			BandwidthUnit: "Mbps",
			PerStream:     true,
		},
		SRT: SRTConfig{
			Latency:         120,
			PeerIdleTimeout: 8 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "console",
			FilePath: "/var/log/probe-meter.log",
			MaxSize:  ByteSize(100 * 1024 * 1024),
			MaxAge:   7,
			Compress: true,
		},
	}
}
