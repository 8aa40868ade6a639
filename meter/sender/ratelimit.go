package sender

import (
	"context"
	"time"
)

// RateLimiter 是一个简单的令牌桶：按字节计费，突发上限为 200ms 的额度。
type RateLimiter struct {
	bytesPerSec float64

	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewRateLimiter 创建限速器；mbps<=0 表示不限速。
// mbps 采用 10^6 bit 口径，与常见发包工具一致。
func NewRateLimiter(mbps float64) *RateLimiter {
	if mbps <= 0 {
		return &RateLimiter{now: time.Now}
	}
	return &RateLimiter{bytesPerSec: mbps * 1e6 / 8.0, now: time.Now}
}

// reserve 扣除 n 字节额度并返回需要等待的时长。
func (r *RateLimiter) reserve(n int) time.Duration {
	if r == nil || r.bytesPerSec <= 0 || n <= 0 {
		return 0
	}
	now := r.now()
	if r.last.IsZero() {
		r.last = now
	}
	r.tokens += now.Sub(r.last).Seconds() * r.bytesPerSec
	r.last = now
	if burst := r.bytesPerSec * 0.2; r.tokens > burst {
		r.tokens = burst
	}
	need := float64(n)
	if r.tokens >= need {
		r.tokens -= need
		return 0
	}
	deficit := need - r.tokens
	r.tokens = 0
	return time.Duration(deficit / r.bytesPerSec * float64(time.Second))
}

// Wait 阻塞直到可以发送 n 字节，或 ctx 取消。
func (r *RateLimiter) Wait(ctx context.Context, n int) error {
	d := r.reserve(n)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
