package status

import (
	"encoding/json"
	"testing"
)

// TestEndpointStatusParseAndJSON 验证端点状态的解析与 JSON 编解码。
func TestEndpointStatusParseAndJSON(t *testing.T) {
	for _, v := range []string{"AwaitingConnection", "Streaming", "Closed"} {
		if _, err := ParseEndpointStatus(v); err != nil {
			t.Fatalf("parse %q: %v", v, err)
		}
	}
	b, err := json.Marshal(EndpointStreaming)
	if err != nil {
		t.Fatal(err)
	}
	var s EndpointStatus
	if err := json.Unmarshal(b, &s); err != nil {
		t.Fatal(err)
	}
	if s != EndpointStreaming {
		t.Fatalf("s=%s", s)
	}
	if err := json.Unmarshal([]byte(`"X"`), &s); err == nil {
		t.Fatalf("expected unmarshal error")
	}
	if err := json.Unmarshal([]byte(`123`), &s); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}

// TestEndpointTransitions 验证端点状态机只允许向前推进，Closed 为终态。
func TestEndpointTransitions(t *testing.T) {
	allowed := [][2]EndpointStatus{
		{EndpointAwaiting, EndpointStreaming},
		{EndpointAwaiting, EndpointClosed},
		{EndpointStreaming, EndpointClosed},
	}
	for _, p := range allowed {
		if !p[0].CanTransition(p[1]) {
			t.Fatalf("%s -> %s should be allowed", p[0], p[1])
		}
	}
	denied := [][2]EndpointStatus{
		{EndpointStreaming, EndpointAwaiting},
		{EndpointClosed, EndpointStreaming},
		{EndpointClosed, EndpointAwaiting},
		{EndpointClosed, EndpointClosed},
	}
	for _, p := range denied {
		if p[0].CanTransition(p[1]) {
			t.Fatalf("%s -> %s should be denied", p[0], p[1])
		}
	}
}

// TestTransportParse 验证传输类型解析（大小写不敏感）与流语义判断。
func TestTransportParse(t *testing.T) {
	tr, err := ParseTransport(" TCP ")
	if err != nil {
		t.Fatal(err)
	}
	if tr != TransportTCP || !tr.Stream() {
		t.Fatalf("tr=%s", tr)
	}
	if TransportUDP.Stream() || TransportSRT.Stream() {
		t.Fatalf("udp/srt are message oriented")
	}
	if _, err := ParseTransport("quic"); err == nil {
		t.Fatalf("expected error")
	}
	var x Transport
	if err := json.Unmarshal([]byte(`"srt"`), &x); err != nil || x != TransportSRT {
		t.Fatalf("x=%s err=%v", x, err)
	}
}
