// =============================================================================
// 文件: internal/transport/udp.go
// 描述: UDP 数据报链路 - 单对端, 被动方从首个数据报学习对端地址
// =============================================================================
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mrcgq/stcp/internal/metrics"
	"github.com/pkg/errors"
)

const (
	udpReadBufferSize = 64 * 1024
	udpPollInterval   = 200 * time.Millisecond
	udpSocketBuffer   = 1 * 1024 * 1024
)

// UDPLink UDP 链路, 实现 Network
type UDPLink struct {
	conn    *net.UDPConn
	metrics *metrics.LinkMetrics

	mu   sync.RWMutex
	peer *net.UDPAddr

	buf []byte
}

// DialUDP 主动方: 固定对端地址
func DialUDP(remote string, m *metrics.LinkMetrics) (*UDPLink, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	l := newUDPLink(conn, m)
	l.peer = raddr
	return l, nil
}

// ListenUDP 被动方: 监听本地地址, 对端由首个数据报决定
func ListenUDP(listen string, m *metrics.LinkMetrics) (*UDPLink, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return newUDPLink(conn, m), nil
}

func newUDPLink(conn *net.UDPConn, m *metrics.LinkMetrics) *UDPLink {
	// 缓冲区设置失败不影响功能
	_ = conn.SetReadBuffer(udpSocketBuffer)
	_ = conn.SetWriteBuffer(udpSocketBuffer)

	return &UDPLink{
		conn:    conn,
		metrics: m,
		buf:     make([]byte, udpReadBufferSize),
	}
}

// LocalAddr 本地地址
func (l *UDPLink) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Peer 当前对端地址
func (l *UDPLink) Peer() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.peer
}

// Send 发送数据报
func (l *UDPLink) Send(ctx context.Context, b []byte) error {
	peer := l.Peer()
	if peer == nil {
		return ErrNoPeer
	}

	_ = l.conn.SetWriteDeadline(time.Now().Add(time.Second))
	n, err := l.conn.WriteToUDP(b, peer)
	if err != nil {
		l.metrics.RecordSendError()
		return err
	}
	l.metrics.RecordSent(n)
	return nil
}

// Recv 接收数据报, 非对端来源的数据报被忽略
func (l *UDPLink) Recv(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_ = l.conn.SetReadDeadline(time.Now().Add(udpPollInterval))
		n, addr, err := l.conn.ReadFromUDP(l.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, err
		}

		if !l.acceptFrom(addr) {
			continue
		}

		l.metrics.RecordReceived(n)
		data := make([]byte, n)
		copy(data, l.buf[:n])
		return data, nil
	}
}

// acceptFrom 校验来源, 被动方记录首个对端
func (l *UDPLink) acceptFrom(addr *net.UDPAddr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.peer == nil {
		l.peer = addr
		return true
	}
	return l.peer.IP.Equal(addr.IP) && l.peer.Port == addr.Port
}

// Close 关闭链路
func (l *UDPLink) Close() error {
	return l.conn.Close()
}
