// Package httpapi exposes the meter's live state over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	mlog "probe-meter/meter/log"
	"probe-meter/meter/probe"
	"probe-meter/meter/reporter"
	"probe-meter/meter/status"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateSource 提供端点状态与接收计数（由 demux.Demux 实现）。
type StateSource interface {
	States() map[string]status.EndpointStatus
	Stats() map[string]probe.StatsSnapshot
}

// SnapshotSource 提供每个流最近的快照（由 sink.Latest 实现）。
type SnapshotSource interface {
	All() []reporter.Snapshot
}

type EndpointView struct {
	Name  string                `json:"name"`
	State status.EndpointStatus `json:"state"`
	Stats probe.StatsSnapshot   `json:"stats"`
}

type StatusView struct {
	RunID     string              `json:"run_id,omitempty"`
	Endpoints []EndpointView      `json:"endpoints"`
	Snapshots []reporter.Snapshot `json:"snapshots"`
}

// NewRouter 创建 HTTP 路由。
// 参数：
// - runID: 本次运行标识（出现在 /status）
// - snaps: 最近快照来源
// - states: 端点状态来源
// - g: /metrics 使用的 Gatherer（nil 使用默认注册表）
// 路由：
// - GET /metrics: Prometheus 文本格式
// - GET /status: 端点状态 + 最近快照（JSON）
// - GET /healthz: 仍有未关闭端点时 200，否则 503
func NewRouter(runID string, snaps SnapshotSource, states StateSource, g prometheus.Gatherer) *mux.Router {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	h := &handler{runID: runID, snaps: snaps, states: states}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	return r
}

type handler struct {
	runID  string
	snaps  SnapshotSource
	states StateSource
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	v := StatusView{RunID: h.runID, Endpoints: []EndpointView{}, Snapshots: []reporter.Snapshot{}}
	if h.states != nil {
		st := h.states.States()
		counts := h.states.Stats()
		for name, s := range st {
			v.Endpoints = append(v.Endpoints, EndpointView{Name: name, State: s, Stats: counts[name]})
		}
		sort.Slice(v.Endpoints, func(i, j int) bool { return v.Endpoints[i].Name < v.Endpoints[j].Name })
	}
	if h.snaps != nil {
		v.Snapshots = append(v.Snapshots, h.snaps.All()...)
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	if h.states != nil {
		for _, s := range h.states.States() {
			if s != status.EndpointClosed {
				writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
				return
			}
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "closed"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		mlog.Component("httpapi").WithError(err).Warn("响应写入失败")
	}
}
