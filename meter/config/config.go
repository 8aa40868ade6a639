package config

import "time"

type Config struct {
	Wire      WireConfig       `yaml:"wire"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Report    ReportConfig     `yaml:"report"`
	HTTP      HTTPConfig       `yaml:"http"`
	NATS      NATSConfig       `yaml:"nats"`
	SRT       SRTConfig        `yaml:"srt"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// WireConfig 描述探测单元头部布局，需与发送端保持一致。
type WireConfig struct {
	ByteOrder     string   `yaml:"byte_order"`
	HeaderSize    int      `yaml:"header_size"`
	TimestampUnit string   `yaml:"timestamp_unit"`
	LengthPrefix  bool     `yaml:"length_prefix"`
	PayloadSize   int      `yaml:"payload_size"`
	MaxPayload    ByteSize `yaml:"max_payload"`
}

type EndpointConfig struct {
	Name       string   `yaml:"name"`
	Transport  string   `yaml:"transport"`
	Listen     string   `yaml:"listen"`
	Echo       bool     `yaml:"echo"`
	ReadBuffer ByteSize `yaml:"read_buffer"`
}

type ReportConfig struct {
	Period        time.Duration `yaml:"period"`
	BandwidthUnit string        `yaml:"bandwidth_unit"`
	PerStream     bool          `yaml:"per_stream"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type SRTConfig struct {
	Latency         int           `yaml:"latency"`
	PeerIdleTimeout time.Duration `yaml:"peer_idle_timeout"`
}

type LoggingConfig struct {
	Level    string   `yaml:"level"`
	Format   string   `yaml:"format"`
	Output   string   `yaml:"output"`
	FilePath string   `yaml:"file_path"`
	MaxSize  ByteSize `yaml:"max_size"`
	MaxAge   int      `yaml:"max_age"`
	Compress bool     `yaml:"compress"`
}
