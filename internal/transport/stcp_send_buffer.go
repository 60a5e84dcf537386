// =============================================================================
// 文件: internal/transport/stcp_send_buffer.go
// 描述: STCP 发送窗口 - 环形字节缓冲区 + 累积确认
// =============================================================================
package transport

import (
	"github.com/google/netstack/tcpip/seqnum"
)

// Chunk 待发送的一段数据, 序列号为其首字节
type Chunk struct {
	Seq  seqnum.Value
	Data []byte
}

// SendBuffer 发送缓冲区
// 保存 [base, next) 区间内已发送未确认的字节, 仅由控制循环访问
type SendBuffer struct {
	buf  []byte
	head int // base 对应的环形下标

	base seqnum.Value // 最小未确认序列号
	next seqnum.Value // 下一个待分配序列号
}

// NewSendBuffer 创建发送缓冲区
func NewSendBuffer(capacity int, start seqnum.Value) *SendBuffer {
	return &SendBuffer{
		buf:  make([]byte, capacity),
		base: start,
		next: start,
	}
}

// Reset 以新的起始序列号清空缓冲区
func (b *SendBuffer) Reset(start seqnum.Value) {
	b.head = 0
	b.base = start
	b.next = start
}

// Base 最小未确认序列号
func (b *SendBuffer) Base() seqnum.Value { return b.base }

// Next 下一个待分配序列号
func (b *SendBuffer) Next() seqnum.Value { return b.next }

// Capacity 缓冲区容量
func (b *SendBuffer) Capacity() int { return len(b.buf) }

// Outstanding 已发送未确认字节数
func (b *SendBuffer) Outstanding() int {
	return seqDistance(b.base, b.next)
}

// Available 可发送字节数 = min(空闲容量, 对端窗口 - 未确认字节)
func (b *SendBuffer) Available(peerWindow int) int {
	out := b.Outstanding()
	free := len(b.buf) - out
	if wnd := peerWindow - out; wnd < free {
		free = wnd
	}
	if free < 0 {
		return 0
	}
	return free
}

// Push 写入新数据并按 MSS 切片, 每片以当前 next 编号
// 超出空闲容量的部分被丢弃, 调用方应先用 Available 限制长度
func (b *SendBuffer) Push(data []byte, mss int) []Chunk {
	free := len(b.buf) - b.Outstanding()
	if len(data) > free {
		data = data[:free]
	}
	if len(data) == 0 {
		return nil
	}

	offset := b.Outstanding()
	b.writeAt(offset, data)

	chunks := b.slice(offset, len(data), mss)
	b.next = b.next.Add(seqnum.Size(len(data)))
	return chunks
}

// Ack 处理累积确认, 返回新确认的字节数
// 仅接受 base < ack <= next
func (b *SendBuffer) Ack(ack seqnum.Value) (int, bool) {
	if !ackAcceptable(ack, b.base, b.next) {
		return 0, false
	}
	n := seqDistance(b.base, ack)
	b.head = (b.head + n) % len(b.buf)
	b.base = ack
	return n, true
}

// Unacked 从 base 开始重新切片全部未确认数据
func (b *SendBuffer) Unacked(mss int) []Chunk {
	return b.slice(0, b.Outstanding(), mss)
}

// slice 以 base+offset 为起点切出 n 字节, 每片不超过 mss
func (b *SendBuffer) slice(offset, n, mss int) []Chunk {
	if n <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (n+mss-1)/mss)
	for done := 0; done < n; {
		size := n - done
		if size > mss {
			size = mss
		}
		chunks = append(chunks, Chunk{
			Seq:  b.base.Add(seqnum.Size(offset + done)),
			Data: b.readAt(offset+done, size),
		})
		done += size
	}
	return chunks
}

func (b *SendBuffer) writeAt(offset int, data []byte) {
	pos := (b.head + offset) % len(b.buf)
	n := copy(b.buf[pos:], data)
	copy(b.buf, data[n:])
}

func (b *SendBuffer) readAt(offset, size int) []byte {
	out := make([]byte, size)
	pos := (b.head + offset) % len(b.buf)
	n := copy(out, b.buf[pos:])
	copy(out[n:], b.buf)
	return out
}
