package probe

import "sync"

// readBufSize 覆盖最大 UDP 数据报（65507 字节）。
const readBufSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, readBufSize)
		return &b
	},
}

// getBuf 从缓冲池获取一个可复用的读缓冲区。
func getBuf() []byte {
	p := bufPool.Get().(*[]byte)
	return *p
}

// putBuf 将缓冲区放回缓冲池（会忽略异常小的切片）。
func putBuf(b []byte) {
	if cap(b) < readBufSize {
		return
	}
	b = b[:cap(b)]
	bufPool.Put(&b)
}
