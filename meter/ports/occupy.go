package ports

import (
	"fmt"
	"net"
	"time"

	merrors "probe-meter/meter/errors"
	"probe-meter/meter/status"
)

// CheckAvailable 在正式监听前检测端点地址是否可以绑定（尝试监听并立即关闭）。
// 参数：
// - transport: 端点传输类型；SRT 底层基于 UDP，按 UDP 检测
// - addr: host:port 形式的监听地址
// 返回：
// - error: CodeTransport 类错误，包含地址与底层原因
func CheckAvailable(transport status.Transport, addr string) error {
	var err error
	switch transport {
	case status.TransportTCP:
		err = checkTCP(addr)
	case status.TransportUDP, status.TransportSRT:
		err = checkUDP(addr)
	default:
		return merrors.New(merrors.CodeBadConfig, fmt.Sprintf("unknown transport: %s", transport))
	}
	if err != nil {
		return merrors.Transport(fmt.Sprintf("%s address unavailable: %s", transport, addr), err)
	}
	return nil
}

func checkTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	_ = ln.Close()
	return nil
}

func checkUDP(addr string) error {
	c, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	_ = c.SetDeadline(time.Now())
	_ = c.Close()
	return nil
}
