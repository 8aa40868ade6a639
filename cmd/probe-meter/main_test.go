package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"probe-meter/meter/config"
	merrors "probe-meter/meter/errors"
	mlog "probe-meter/meter/log"
)

// TestRunCancelFlushes 验证取消后每个流都会输出一次最终快照。
// 周期设为 1h，输出的快照只可能来自退出前的 Flush。
func TestRunCancelFlushes(t *testing.T) {
	var buf bytes.Buffer
	mlog.SetOutput(&buf)
	defer mlog.SetOutput(os.Stdout)

	cfg, err := config.Parse([]byte(`
report:
  period: 1h
endpoints:
  - name: udp
    transport: udp
    listen: 127.0.0.1:0
  - name: tcp
    transport: tcp
    listen: 127.0.0.1:0
`))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := run(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"stream=udp", "stream=tcp"} {
		found := false
		for _, line := range strings.Split(out, "\n") {
			if strings.Contains(line, "status=snapshot") && strings.Contains(line, want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("no final snapshot with %s in log:\n%s", want, out)
		}
	}
}

func TestRunPortConflict(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := config.DefaultConfig()
	cfg.Endpoints = []config.EndpointConfig{{Name: "tcp", Transport: "tcp", Listen: busy.Addr().String()}}
	if err := run(context.Background(), cfg); !merrors.IsTransport(err) {
		t.Fatalf("err=%v", err)
	}
}

// TestRunHTTPConflict 验证 HTTP 地址被占用时 run 立即返回 CodeTransport。
func TestRunHTTPConflict(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := config.DefaultConfig()
	cfg.HTTP.Listen = busy.Addr().String()
	cfg.Endpoints = []config.EndpointConfig{{Name: "udp", Transport: "udp", Listen: "127.0.0.1:0"}}
	done := make(chan error, 1)
	go func() { done <- run(context.Background(), cfg) }()
	select {
	case err := <-done:
		if !merrors.IsTransport(err) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not fail on busy http address")
	}
}
