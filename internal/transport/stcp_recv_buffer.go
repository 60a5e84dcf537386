// =============================================================================
// 文件: internal/transport/stcp_recv_buffer.go
// 描述: STCP 接收窗口 - 乱序缓存 (区间集合) + 按序交付
// =============================================================================
package transport

import (
	"sort"

	"github.com/google/netstack/tcpip/seqnum"
)

// RecvClass 报文分类
type RecvClass uint8

const (
	RecvInOrder     RecvClass = iota // s == expected
	RecvFuture                       // 窗口内的后续数据
	RecvStaleTail                    // 旧数据, 但尾部有新字节
	RecvStale                        // 完全重复
	RecvOutOfWindow                  // 前后窗口之外
)

var recvClassNames = [...]string{
	"in-order", "future", "stale-tail", "stale", "out-of-window",
}

func (c RecvClass) String() string {
	if int(c) < len(recvClassNames) {
		return recvClassNames[c]
	}
	return "unknown"
}

// RecvResult 处理结果
type RecvResult struct {
	Class     RecvClass
	Delivered []byte // 按序交付给应用的字节
	Stored    int    // 新存入缓冲区的字节数
}

// span 已接收区间 [start, end), 偏移相对于 expected
type span struct {
	start, end int
}

// RecvBuffer 接收缓冲区, 仅由控制循环访问
type RecvBuffer struct {
	buf      []byte
	head     int // expected 对应的环形下标
	expected seqnum.Value
	spans    []span // 有序且互不相邻
	held     int    // spans 覆盖的字节数
}

// NewRecvBuffer 创建接收缓冲区
func NewRecvBuffer(capacity int, expected seqnum.Value) *RecvBuffer {
	return &RecvBuffer{
		buf:      make([]byte, capacity),
		expected: expected,
	}
}

// Reset 以新的期望序列号清空缓冲区
func (b *RecvBuffer) Reset(expected seqnum.Value) {
	b.head = 0
	b.expected = expected
	b.spans = b.spans[:0]
	b.held = 0
}

// Expected 期望的下一个序列号
func (b *RecvBuffer) Expected() seqnum.Value { return b.expected }

// Capacity 缓冲区容量
func (b *RecvBuffer) Capacity() int { return len(b.buf) }

// Held 已缓存未交付的字节数
func (b *RecvBuffer) Held() int { return b.held }

// Window 通告窗口
func (b *RecvBuffer) Window() int { return len(b.buf) - b.held }

// Receive 处理带载荷的报文
func (b *RecvBuffer) Receive(seq seqnum.Value, payload []byte) RecvResult {
	capacity := len(b.buf)
	if len(payload) == 0 {
		return RecvResult{Class: RecvStale}
	}

	if seq == b.expected {
		stored := b.store(0, payload)
		return RecvResult{Class: RecvInOrder, Stored: stored, Delivered: b.deliver()}
	}
	// 偏移 0 总是立即交付, 缓冲区不会被占满, 窗口内的后续数据总能存入
	if seqInWindow(seq, b.expected, capacity) {
		stored := b.store(seqDistance(b.expected, seq), payload)
		return RecvResult{Class: RecvFuture, Stored: stored}
	}

	behind := seqDistance(seq, b.expected)
	if behind >= 1 && behind <= capacity {
		if len(payload) <= behind {
			return RecvResult{Class: RecvStale}
		}
		stored := b.store(0, payload[behind:])
		return RecvResult{Class: RecvStaleTail, Stored: stored, Delivered: b.deliver()}
	}

	return RecvResult{Class: RecvOutOfWindow}
}

// ConsumeFIN FIN 占用一个序列号
func (b *RecvBuffer) ConsumeFIN() {
	b.expected = b.expected.Add(1)
	b.spans = b.spans[:0]
	b.held = 0
}

// store 将数据写入 offset 处, 超出容量的部分被截断, 返回新覆盖的字节数
func (b *RecvBuffer) store(offset int, data []byte) int {
	capacity := len(b.buf)
	if offset+len(data) > capacity {
		data = data[:capacity-offset]
	}
	if len(data) == 0 {
		return 0
	}

	pos := (b.head + offset) % capacity
	n := copy(b.buf[pos:], data)
	copy(b.buf, data[n:])

	before := b.held
	b.insert(span{start: offset, end: offset + len(data)})
	return b.held - before
}

// insert 插入区间并合并重叠或相邻的区间
func (b *RecvBuffer) insert(s span) {
	i := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].end >= s.start })
	j := i
	for j < len(b.spans) && b.spans[j].start <= s.end {
		if b.spans[j].start < s.start {
			s.start = b.spans[j].start
		}
		if b.spans[j].end > s.end {
			s.end = b.spans[j].end
		}
		j++
	}

	merged := make([]span, 0, len(b.spans)-(j-i)+1)
	merged = append(merged, b.spans[:i]...)
	merged = append(merged, s)
	merged = append(merged, b.spans[j:]...)
	b.spans = merged

	b.held = 0
	for _, sp := range b.spans {
		b.held += sp.end - sp.start
	}
}

// deliver 交付从 expected 起连续的字节
func (b *RecvBuffer) deliver() []byte {
	if len(b.spans) == 0 || b.spans[0].start != 0 {
		return nil
	}

	capacity := len(b.buf)
	n := b.spans[0].end
	out := make([]byte, n)
	c := copy(out, b.buf[b.head:])
	copy(out[c:], b.buf)

	b.head = (b.head + n) % capacity
	b.expected = b.expected.Add(seqnum.Size(n))
	b.held -= n

	rest := b.spans[1:]
	b.spans = b.spans[:0]
	for _, sp := range rest {
		b.spans = append(b.spans, span{start: sp.start - n, end: sp.end - n})
	}
	return out
}
