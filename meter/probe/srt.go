package probe

import (
	"time"

	"probe-meter/meter/config"
	merrors "probe-meter/meter/errors"

	srt "github.com/datarhei/gosrt"
)

// SRTConfig 将配置换算为 goSRT 配置（live 模式，每条消息即一个探测单元）。
func SRTConfig(cfg config.SRTConfig) srt.Config {
	scfg := srt.DefaultConfig()
	scfg.Latency = time.Duration(cfg.Latency) * time.Millisecond
	if cfg.PeerIdleTimeout > 0 {
		scfg.PeerIdleTimeout = cfg.PeerIdleTimeout
	}
	return scfg
}

// ListenSRT 在 addr 上启动 SRT 监听。
// 返回：
// - srt.Listener: 监听器
// - error: CodeTransport 类错误
func ListenSRT(addr string, cfg config.SRTConfig) (srt.Listener, error) {
	ln, err := srt.Listen("srt", addr, SRTConfig(cfg))
	if err != nil {
		return nil, merrors.Transport("srt listen failed", err)
	}
	return ln, nil
}

// AcceptSRT 接受一个 SRT 连接请求。
func AcceptSRT(ln srt.Listener) (srt.Conn, error) {
	req, err := ln.Accept2()
	if err != nil {
		return nil, err
	}
	conn, err := req.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DialSRT 以 caller 身份连接 SRT 监听端（发送端使用）。
func DialSRT(addr string, cfg config.SRTConfig) (srt.Conn, error) {
	conn, err := srt.Dial("srt", addr, SRTConfig(cfg))
	if err != nil {
		return nil, merrors.Transport("srt dial failed", err)
	}
	return conn, nil
}

// SRTStats 读取连接的瞬时 RTT（ms）与收包丢失率（%）。
func SRTStats(conn srt.Conn) (rttMs, recvLossPct float64) {
	var st srt.Statistics
	conn.Stats(&st)
	return st.Instantaneous.MsRTT, st.Instantaneous.PktRecvLossRate
}
