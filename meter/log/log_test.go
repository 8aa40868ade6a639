package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"probe-meter/meter/config"
)

// TestJSONFieldsFromHook 验证 JSON 输出中包含 hook 补齐的 goid/ts_ms 与 component 字段。
func TestJSONFieldsFromHook(t *testing.T) {
	if err := Init(config.LoggingConfig{Level: "debug", Format: "json", Output: "console"}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Component("receiver").WithField("status", "malformed_drop").Debug("报文过短，已丢弃")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	for _, k := range []string{"goid", "ts_ms", "component", "status"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing field %q in %v", k, m)
		}
	}
	if m["component"] != "receiver" {
		t.Fatalf("component=%v", m["component"])
	}
}

// TestFileOutput 验证 output=file 时写入滚动日志文件。
func TestFileOutput(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "meter.log")
	err := Init(config.LoggingConfig{
		Level:    "info",
		Format:   "text",
		Output:   "file",
		FilePath: p,
		MaxSize:  config.ByteSize(1024 * 1024),
		MaxAge:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer SetOutput(os.Stdout)

	With(map[string]any{"status": "report_tick"}).Info("窗口上报")

	raw, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "report_tick") {
		t.Fatalf("log file content: %q", raw)
	}
}
