package config

import (
	"fmt"
	"os"
	"strings"

	merrors "probe-meter/meter/errors"
	"probe-meter/meter/status"

	"gopkg.in/yaml.v3"
)

// Load 从 YAML 文件读取并解析配置，并做默认值补齐与校验。
// 参数：
// - path: 配置文件路径
// 返回：
// - Config: 合并默认值后的配置
// - error: 读取/解析/校验失败原因
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(raw)
}

// Parse 解析 YAML 文本（Load 的无文件版本，便于测试与内嵌配置）。
func Parse(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal yaml: %w", err)
	}
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize 补齐被显式置空的字段。
func normalize(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "console"
	}
	if cfg.Report.BandwidthUnit == "" {
		cfg.Report.BandwidthUnit = "Mbps"
	}
	if cfg.NATS.URL != "" && cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "probe.snapshots"
	}
	for i := range cfg.Endpoints {
		cfg.Endpoints[i].Name = strings.TrimSpace(cfg.Endpoints[i].Name)
		cfg.Endpoints[i].Transport = strings.ToLower(strings.TrimSpace(cfg.Endpoints[i].Transport))
	}
}

// Validate 校验配置字段合法性（头部布局、端点、上报周期、日志输出等）。
// 返回：
// - error: CodeBadConfig 类错误，描述第一个不合法的字段
func Validate(cfg Config) error {
	bad := func(format string, args ...any) error {
		return merrors.Wrap(merrors.CodeBadConfig, "invalid config", fmt.Errorf(format, args...))
	}

	switch strings.ToLower(cfg.Wire.ByteOrder) {
	case "big", "little":
	default:
		return bad("wire.byte_order: %q", cfg.Wire.ByteOrder)
	}
	if cfg.Wire.HeaderSize != 8 && cfg.Wire.HeaderSize != 12 {
		return bad("wire.header_size: %d (want 8 or 12)", cfg.Wire.HeaderSize)
	}
	switch strings.ToLower(cfg.Wire.TimestampUnit) {
	case "ms", "us", "ns":
	default:
		return bad("wire.timestamp_unit: %q", cfg.Wire.TimestampUnit)
	}
	if cfg.Wire.PayloadSize < 0 {
		return bad("wire.payload_size: %d", cfg.Wire.PayloadSize)
	}
	if cfg.Wire.MaxPayload.Int64() <= 0 {
		return bad("wire.max_payload: %d", cfg.Wire.MaxPayload.Int64())
	}
	if int64(cfg.Wire.PayloadSize) > cfg.Wire.MaxPayload.Int64() {
		return bad("wire.payload_size %d exceeds max_payload %d", cfg.Wire.PayloadSize, cfg.Wire.MaxPayload.Int64())
	}

	if len(cfg.Endpoints) == 0 {
		return bad("endpoints: at least one endpoint is required")
	}
	seen := make(map[string]struct{}, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if ep.Name == "" {
			return bad("endpoints[%d].name is empty", i)
		}
		if _, dup := seen[ep.Name]; dup {
			return bad("endpoints[%d].name %q is duplicated", i, ep.Name)
		}
		seen[ep.Name] = struct{}{}
		tr, err := status.ParseTransport(ep.Transport)
		if err != nil {
			return bad("endpoints[%d].transport: %v", i, err)
		}
		if strings.TrimSpace(ep.Listen) == "" {
			return bad("endpoints[%d].listen is empty", i)
		}
		if ep.Echo && !tr.Stream() {
			return bad("endpoints[%d].echo is only supported on tcp endpoints", i)
		}
	}

	if cfg.Report.Period <= 0 {
		return bad("report.period: %s", cfg.Report.Period)
	}
	switch cfg.Report.BandwidthUnit {
	case "Mbps", "Kbps", "KBps", "bps":
	default:
		return bad("report.bandwidth_unit: %q", cfg.Report.BandwidthUnit)
	}
	if cfg.SRT.Latency < 0 {
		return bad("srt.latency: %d", cfg.SRT.Latency)
	}

	switch strings.ToLower(cfg.Logging.Output) {
	case "console":
	case "file":
		if cfg.Logging.FilePath == "" {
			return bad("logging.file_path is required when output=file")
		}
	default:
		return bad("logging.output: %q", cfg.Logging.Output)
	}
	return nil
}
