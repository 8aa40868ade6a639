package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"probe-meter/meter/config"
	mlog "probe-meter/meter/log"
	"probe-meter/meter/probe"
	"probe-meter/meter/sender"
	"probe-meter/meter/status"
	"probe-meter/meter/wire"

	"github.com/sirupsen/logrus"
)

const Version = "1.0"

func main() {
	flag.CommandLine.SetOutput(os.Stdout)
	transportFlag := flag.String("transport", "udp", "传输类型：udp/tcp/srt")
	addrFlag := flag.String("addr", "127.0.0.1:12345", "接收端地址 host:port")
	rateFlag := flag.Float64("rate_mbps", 0, "发送速率上限（Mbit/s，0 表示不限速）")
	intervalFlag := flag.Duration("interval", 10*time.Millisecond, "发送间隔（0 表示仅受限速约束）")
	payloadFlag := flag.Int("payload", 1024, "每个单元的载荷字节数")
	countFlag := flag.Int("count", 0, "发送单元数（0 表示直到中断）")
	byteOrderFlag := flag.String("byte_order", "big", "头部字节序：big/little")
	headerSizeFlag := flag.Int("header_size", 12, "头部长度：8（仅时间戳）或 12（序号+时间戳）")
	unitFlag := flag.String("timestamp_unit", "us", "时间戳单位：ms/us/ns")
	lengthPrefixFlag := flag.Bool("length_prefix", false, "时间戳后携带 uint32 载荷长度")
	rttFlag := flag.Bool("rtt", false, "读取回显头部并统计 RTT（仅 tcp）")
	srtLatencyFlag := flag.Int("srt_latency", 120, "SRT 延迟（ms）")
	logLevelFlag := flag.String("log_level", "info", "日志级别")
	versionFlag := flag.Bool("version", false, "输出版本并退出")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "probe-sender %s\n\n", Version)
		_, _ = fmt.Fprintln(os.Stdout, "用法：")
		_, _ = fmt.Fprintln(os.Stdout, "  probe-sender [--transport udp|tcp|srt] [--addr host:port] [--rate_mbps N] [--count N] [--rtt]")
		_, _ = fmt.Fprintln(os.Stdout, "\n参数：")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		_, _ = fmt.Fprintln(os.Stdout, Version)
		return
	}

	logCfg := config.DefaultConfig().Logging
	logCfg.Level = *logLevelFlag
	if err := mlog.Init(logCfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	tr, err := status.ParseTransport(*transportFlag)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	layout, err := wire.FromConfig(config.WireConfig{
		ByteOrder:     *byteOrderFlag,
		HeaderSize:    *headerSizeFlag,
		TimestampUnit: *unitFlag,
		LengthPrefix:  *lengthPrefixFlag,
	})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	conn, err := dial(tr, *addrFlag, config.SRTConfig{Latency: *srtLatencyFlag})
	if err != nil {
		mlog.L().WithField("status", "dial_error").WithError(err).Error("连接接收端失败")
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := sender.Run(ctx, conn, sender.Options{
		Layout:   layout,
		Payload:  *payloadFlag,
		Interval: *intervalFlag,
		RateMbps: *rateFlag,
		Count:    *countFlag,
		RTT:      *rttFlag && tr.Stream(),
	})
	fields := logrus.Fields{"sent": res.Sent, "bytes": res.Bytes, "rate_mbps": res.RateMbits, "status": "summary"}
	if res.Echoes > 0 {
		fields["rtt_avg_ms"] = res.AvgRTTMs
		fields["rtt_min_ms"] = res.MinRTTMs
		fields["rtt_max_ms"] = res.MaxRTTMs
	}
	mlog.L().WithFields(fields).Info("发送汇总")
	if err != nil {
		os.Exit(1)
	}
}

// dial 按传输类型建立到接收端的连接。
func dial(tr status.Transport, addr string, srtCfg config.SRTConfig) (net.Conn, error) {
	switch tr {
	case status.TransportSRT:
		return probe.DialSRT(addr, srtCfg)
	default:
		return net.DialTimeout(tr.String(), addr, 5*time.Second)
	}
}

// signalContext 创建一个可被 SIGINT/SIGTERM 取消的 Context。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
