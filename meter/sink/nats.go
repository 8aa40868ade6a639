package sink

import (
	"encoding/json"

	merrors "probe-meter/meter/errors"
	mlog "probe-meter/meter/log"
	"probe-meter/meter/reporter"

	"github.com/nats-io/nats.go"
)

// Publisher 是 NATS 连接上 NATS sink 用到的最小接口。
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS 把快照编码为 JSON 发布到 subject，供下游订阅者持久化或绘图。
type NATS struct {
	pub     Publisher
	subject string
	nc      *nats.Conn
}

// NewNATSWith 基于已有 Publisher 创建 sink（测试中可注入）。
func NewNATSWith(pub Publisher, subject string) *NATS {
	return &NATS{pub: pub, subject: subject}
}

// NewNATS 连接 NATS 服务器并创建 sink。
// 参数：
// - url: NATS 地址（如 nats://127.0.0.1:4222）
// - subject: 发布主题
// 返回：
// - *NATS: sink 实例
// - error: CodeTransport
func NewNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("probe-meter"))
	if err != nil {
		return nil, merrors.Transport("nats connect failed", err)
	}
	mlog.Component("sink").WithField("url", url).WithField("status", "nats_connected").Info("已连接 NATS")
	return &NATS{pub: nc, subject: subject, nc: nc}, nil
}

func (n *NATS) Emit(s reporter.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return merrors.Wrap(merrors.CodeInternal, "snapshot encode failed", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return merrors.Transport("nats publish failed", err)
	}
	return nil
}

// Close 排空并关闭自建的 NATS 连接；注入的 Publisher 不受影响。
func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	err := n.nc.Drain()
	mlog.Component("sink").WithField("status", "nats_drained").Info("NATS 连接已排空并关闭")
	return err
}
