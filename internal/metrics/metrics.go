// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 数据报链路计数器 - 由 UDP / WebSocket / 丢包模拟层更新
// =============================================================================
package metrics

import (
	"sync/atomic"
	"time"
)

// LinkMetrics 链路计数器
type LinkMetrics struct {
	name string

	datagramsSent     uint64
	datagramsReceived uint64
	bytesSent         uint64
	bytesReceived     uint64
	sendErrors        uint64

	// 丢包模拟
	dropped    uint64
	duplicated uint64
	reordered  uint64

	startTime time.Time
}

// LinkSnapshot 链路计数快照
type LinkSnapshot struct {
	Name              string
	DatagramsSent     uint64
	DatagramsReceived uint64
	BytesSent         uint64
	BytesReceived     uint64
	SendErrors        uint64
	Dropped           uint64
	Duplicated        uint64
	Reordered         uint64
	Uptime            time.Duration
}

// NewLinkMetrics 创建链路计数器, name 为链路类型 (udp / websocket)
func NewLinkMetrics(name string) *LinkMetrics {
	return &LinkMetrics{
		name:      name,
		startTime: time.Now(),
	}
}

// Name 链路名称
func (m *LinkMetrics) Name() string {
	if m == nil {
		return ""
	}
	return m.name
}

// RecordSent 记录发出的数据报
func (m *LinkMetrics) RecordSent(n int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.datagramsSent, 1)
	if n > 0 {
		atomic.AddUint64(&m.bytesSent, uint64(n))
	}
}

// RecordReceived 记录收到的数据报
func (m *LinkMetrics) RecordReceived(n int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.datagramsReceived, 1)
	if n > 0 {
		atomic.AddUint64(&m.bytesReceived, uint64(n))
	}
}

// RecordSendError 记录发送失败
func (m *LinkMetrics) RecordSendError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sendErrors, 1)
}

// RecordDropped 记录模拟丢弃
func (m *LinkMetrics) RecordDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dropped, 1)
}

// RecordDuplicated 记录模拟重复
func (m *LinkMetrics) RecordDuplicated() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.duplicated, 1)
}

// RecordReordered 记录模拟乱序
func (m *LinkMetrics) RecordReordered() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reordered, 1)
}

// Snapshot 获取快照
func (m *LinkMetrics) Snapshot() LinkSnapshot {
	return LinkSnapshot{
		Name:              m.name,
		DatagramsSent:     atomic.LoadUint64(&m.datagramsSent),
		DatagramsReceived: atomic.LoadUint64(&m.datagramsReceived),
		BytesSent:         atomic.LoadUint64(&m.bytesSent),
		BytesReceived:     atomic.LoadUint64(&m.bytesReceived),
		SendErrors:        atomic.LoadUint64(&m.sendErrors),
		Dropped:           atomic.LoadUint64(&m.dropped),
		Duplicated:        atomic.LoadUint64(&m.duplicated),
		Reordered:         atomic.LoadUint64(&m.reordered),
		Uptime:            time.Since(m.startTime),
	}
}

// GetStats 获取所有统计信息
func (m *LinkMetrics) GetStats() map[string]interface{} {
	s := m.Snapshot()
	return map[string]interface{}{
		"link":               s.Name,
		"uptime":             s.Uptime.String(),
		"datagrams_sent":     s.DatagramsSent,
		"datagrams_received": s.DatagramsReceived,
		"bytes_sent":         s.BytesSent,
		"bytes_received":     s.BytesReceived,
		"send_errors":        s.SendErrors,
		"dropped":            s.Dropped,
		"duplicated":         s.Duplicated,
		"reordered":          s.Reordered,
	}
}
