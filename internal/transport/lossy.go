// =============================================================================
// 文件: internal/transport/lossy.go
// 描述: 丢包/重复/乱序模拟层 - 包装任意 Network, 用于实验与测试
// =============================================================================
package transport

import (
	"context"
	"math/rand"
	"sync"

	"github.com/mrcgq/stcp/internal/metrics"
)

// LossyConfig 模拟参数, 概率取值 [0, 1)
type LossyConfig struct {
	LossRate      float64
	DuplicateRate float64
	ReorderRate   float64
	Seed          int64
}

// Enabled 是否启用任何模拟
func (c LossyConfig) Enabled() bool {
	return c.LossRate > 0 || c.DuplicateRate > 0 || c.ReorderRate > 0
}

// LossyNetwork 对出站数据报施加丢弃/重复/乱序
type LossyNetwork struct {
	inner   Network
	config  LossyConfig
	metrics *metrics.LinkMetrics

	mu   sync.Mutex
	rng  *rand.Rand
	held []byte // 被延后的数据报, 在下一个数据报之后发出
}

// NewLossyNetwork 创建模拟层
func NewLossyNetwork(inner Network, config LossyConfig, m *metrics.LinkMetrics) *LossyNetwork {
	return &LossyNetwork{
		inner:   inner,
		config:  config,
		metrics: m,
		rng:     rand.New(rand.NewSource(config.Seed)),
	}
}

// Send 按概率处理出站数据报, 被丢弃的数据报同样视为发送成功
func (n *LossyNetwork) Send(ctx context.Context, b []byte) error {
	n.mu.Lock()
	drop := n.rng.Float64() < n.config.LossRate
	dup := n.rng.Float64() < n.config.DuplicateRate
	reorder := n.rng.Float64() < n.config.ReorderRate

	if drop {
		n.mu.Unlock()
		n.metrics.RecordDropped()
		return nil
	}
	if reorder && n.held == nil {
		n.held = append([]byte(nil), b...)
		n.mu.Unlock()
		n.metrics.RecordReordered()
		return nil
	}
	held := n.held
	n.held = nil
	n.mu.Unlock()

	if err := n.inner.Send(ctx, b); err != nil {
		n.restore(held)
		return err
	}
	if dup {
		n.metrics.RecordDuplicated()
		_ = n.inner.Send(ctx, b)
	}
	if held != nil {
		_ = n.inner.Send(ctx, held)
	}
	return nil
}

func (n *LossyNetwork) restore(held []byte) {
	if held == nil {
		return
	}
	n.mu.Lock()
	if n.held == nil {
		n.held = held
	}
	n.mu.Unlock()
}

// Recv 透传
func (n *LossyNetwork) Recv(ctx context.Context) ([]byte, error) {
	return n.inner.Recv(ctx)
}

// Close 关闭底层网络
func (n *LossyNetwork) Close() error {
	return n.inner.Close()
}
