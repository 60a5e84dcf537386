// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 数据报链路 - 每个二进制消息承载一个报文, CDN 友好
// =============================================================================
package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mrcgq/stcp/internal/metrics"
	"github.com/pkg/errors"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsInboxSize    = 256
)

// WebSocketLink WebSocket 链路, 实现 Network
type WebSocketLink struct {
	metrics *metrics.LinkMetrics

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	conn      *websocket.Conn
	connReady chan struct{}
	connOnce  sync.Once
	wmu       sync.Mutex

	inbox   chan []byte
	readErr error

	closeOnce sync.Once
	closed    chan struct{}
}

func newWebSocketLink(m *metrics.LinkMetrics) *WebSocketLink {
	return &WebSocketLink{
		metrics:   m,
		connReady: make(chan struct{}),
		inbox:     make(chan []byte, wsInboxSize),
		closed:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源
			},
		},
	}
}

// DialWebSocket 主动方: 拨号 ws://host/path
func DialWebSocket(ctx context.Context, url string, m *metrics.LinkMetrics) (*WebSocketLink, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "WebSocket 拨号失败: %s", url)
	}
	l := newWebSocketLink(m)
	l.attach(conn)
	return l, nil
}

// ListenWebSocket 被动方: 在 listen 上提供 path, 只接受第一个连接
func ListenWebSocket(listen, path string, m *metrics.LinkMetrics) (*WebSocketLink, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	l := newWebSocketLink(m)
	l.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleWebSocket)
	l.httpServer = &http.Server{Handler: mux}

	go l.httpServer.Serve(ln)
	return l, nil
}

// Addr 监听地址
func (l *WebSocketLink) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// handleWebSocket 升级第一个连接, 之后的连接被拒绝
func (l *WebSocketLink) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.connReady:
		http.Error(w, "Conflict", http.StatusConflict)
		return
	default:
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if !l.attach(conn) {
		conn.Close()
	}
}

// attach 绑定底层连接并启动读协程
func (l *WebSocketLink) attach(conn *websocket.Conn) bool {
	attached := false
	l.connOnce.Do(func() {
		l.conn = conn
		attached = true
		close(l.connReady)
		go l.readLoop()
	})
	return attached
}

// readLoop 读到错误后关闭 inbox, 已收到的数据报仍可读出
func (l *WebSocketLink) readLoop() {
	defer close(l.inbox)
	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			l.readErr = err
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		l.metrics.RecordReceived(len(data))
		select {
		case l.inbox <- data:
		case <-l.closed:
			return
		}
	}
}

func (l *WebSocketLink) waitConn(ctx context.Context) error {
	select {
	case <-l.connReady:
		return nil
	case <-l.closed:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send 发送数据报
func (l *WebSocketLink) Send(ctx context.Context, b []byte) error {
	if err := l.waitConn(ctx); err != nil {
		return err
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := l.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		l.metrics.RecordSendError()
		return err
	}
	l.metrics.RecordSent(len(b))
	return nil
}

// Recv 接收数据报
func (l *WebSocketLink) Recv(ctx context.Context) ([]byte, error) {
	if err := l.waitConn(ctx); err != nil {
		return nil, err
	}

	select {
	case data, ok := <-l.inbox:
		if !ok {
			if l.readErr == nil {
				return nil, ErrConnClosed
			}
			return nil, errors.Wrap(l.readErr, "WebSocket 读取失败")
		}
		return data, nil
	case <-l.closed:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 关闭连接和服务器
func (l *WebSocketLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)

		select {
		case <-l.connReady:
			l.wmu.Lock()
			l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			l.wmu.Unlock()
			l.conn.Close()
		default:
		}

		if l.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			l.httpServer.Shutdown(ctx)
		}
	})
	return nil
}
