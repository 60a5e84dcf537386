// =============================================================================
// 文件: internal/transport/network.go
// 描述: 不可靠数据报网络接口与发送退避
// =============================================================================
package transport

import (
	"context"
	"time"
)

// Network 不可靠数据报网络
// 可能丢包、乱序、重复; Send 失败视为暂时性错误
type Network interface {
	// Send 发送一个数据报
	Send(ctx context.Context, b []byte) error
	// Recv 接收一个数据报, 每个报文对应一次调用
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// sendBackoff 指数退避, Hit 复位, Miss 等待并加倍
type sendBackoff struct {
	min  time.Duration
	max  time.Duration
	wait time.Duration
}

func newSendBackoff(min, max time.Duration) *sendBackoff {
	return &sendBackoff{min: min, max: max, wait: min}
}

// Hit 发送成功, 复位等待时长
func (b *sendBackoff) Hit() {
	b.wait = b.min
}

// Miss 等待当前时长后加倍, 上限 max
func (b *sendBackoff) Miss(ctx context.Context) error {
	t := time.NewTimer(b.wait)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	b.wait *= 2
	if b.wait > b.max {
		b.wait = b.max
	}
	return nil
}
