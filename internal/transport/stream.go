// =============================================================================
// 文件: internal/transport/stream.go
// 描述: 应用层字节流 - 连接引擎与应用之间的协作接口
// =============================================================================
package transport

import (
	"context"
	"io"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// Application 引擎所需的应用层协作接口
type Application interface {
	// Deliver 按序交付收到的字节
	Deliver(p []byte)
	// Pull 取出至多 max 字节待发送数据
	Pull(max int) []byte
	// Buffered 待发送字节数
	Buffered() int
	// DataReady 有新数据可发送
	DataReady() <-chan struct{}
	// CloseRequested 本端请求关闭
	CloseRequested() <-chan struct{}
	// PeerClosed 对端数据流结束, 只调用一次
	PeerClosed()
	// Unblock 握手完成 (err 为 nil) 或失败
	Unblock(err error)
	// Finish 连接结束
	Finish(err error)
}

// Stream 面向应用的字节流, 实现 Application
type Stream struct {
	mu   sync.Mutex
	cond *sync.Cond

	out *ringbuffer.RingBuffer // 待发送
	in  [][]byte               // 已交付未读取

	dataReady chan struct{}
	closeReq  chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
	readyErr  error

	closed     bool
	peerClosed bool
	finished   bool
	finishErr  error
}

var (
	_ Application        = (*Stream)(nil)
	_ io.ReadWriteCloser = (*Stream)(nil)
)

// NewStream 创建字节流, sendBuffer 为待发送缓冲区容量
func NewStream(sendBuffer int) *Stream {
	if sendBuffer <= 0 {
		sendBuffer = STCPDefaultWindowSize
	}
	s := &Stream{
		out:       ringbuffer.New(sendBuffer),
		dataReady: make(chan struct{}, 1),
		closeReq:  make(chan struct{}, 1),
		ready:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// =============================================================================
// 应用侧
// =============================================================================

// WaitReady 等待握手结果
func (s *Stream) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ready:
		return s.readyErr
	}
}

// Write 写入待发送数据, 缓冲区满时阻塞
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for written < len(p) {
		if s.closed {
			return written, ErrConnClosed
		}
		if s.finished {
			return written, s.errLocked()
		}

		free := s.out.Free()
		if free == 0 {
			s.cond.Wait()
			continue
		}

		chunk := p[written:]
		if len(chunk) > free {
			chunk = chunk[:free]
		}
		n, err := s.out.Write(chunk)
		written += n
		if n > 0 {
			s.signal()
		}
		if err != nil && n == 0 {
			return written, err
		}
	}
	return written, nil
}

// Read 读取已交付数据, 对端关闭且数据读完后返回 io.EOF
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.in) == 0 {
		if s.peerClosed {
			return 0, io.EOF
		}
		if s.finished {
			return 0, s.errLocked()
		}
		s.cond.Wait()
	}

	n := 0
	for n < len(p) && len(s.in) > 0 {
		c := copy(p[n:], s.in[0])
		n += c
		if c == len(s.in[0]) {
			s.in[0] = nil
			s.in = s.in[1:]
		} else {
			s.in[0] = s.in[0][c:]
		}
	}
	return n, nil
}

// Close 请求关闭发送方向, 已写入的数据仍会发送完毕
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	select {
	case s.closeReq <- struct{}{}:
	default:
	}
	s.cond.Broadcast()
	return nil
}

// Err 连接结束原因
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishErr
}

func (s *Stream) errLocked() error {
	if s.finishErr != nil {
		return s.finishErr
	}
	return io.EOF
}

func (s *Stream) signal() {
	select {
	case s.dataReady <- struct{}{}:
	default:
	}
}

// =============================================================================
// 引擎侧
// =============================================================================

// Deliver 交付按序数据
func (s *Stream) Deliver(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	s.in = append(s.in, p)
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Pull 取出至多 max 字节
func (s *Stream) Pull(max int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.out.Length()
	if n > max {
		n = max
	}
	if n <= 0 {
		return nil
	}

	buf := make([]byte, n)
	n, _ = s.out.Read(buf)
	s.cond.Broadcast()
	return buf[:n]
}

// Buffered 待发送字节数
func (s *Stream) Buffered() int {
	return s.out.Length()
}

// DataReady 新数据通知
func (s *Stream) DataReady() <-chan struct{} {
	return s.dataReady
}

// CloseRequested 关闭请求通知
func (s *Stream) CloseRequested() <-chan struct{} {
	return s.closeReq
}

// PeerClosed 对端结束
func (s *Stream) PeerClosed() {
	s.mu.Lock()
	s.peerClosed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Unblock 握手结果
func (s *Stream) Unblock(err error) {
	s.readyOnce.Do(func() {
		s.readyErr = err
		close(s.ready)
	})
}

// Finish 连接结束
func (s *Stream) Finish(err error) {
	s.Unblock(err)

	s.mu.Lock()
	s.finished = true
	s.finishErr = err
	s.mu.Unlock()
	s.cond.Broadcast()
}
