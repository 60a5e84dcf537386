// =============================================================================
// 文件: cmd/stcp-peer/peer_test.go
// 描述: 会话装配测试 - 两个对端通过 UDP 回环传输
// =============================================================================
package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/mrcgq/stcp/internal/config"
	"github.com/mrcgq/stcp/internal/transport"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("分配端口失败: %v", err)
	}
	defer pc.Close()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

func TestRunPeerUDP(t *testing.T) {
	addr := fmt.Sprintf("127.0.0.1:%d", freeUDPPort(t))

	passive := config.DefaultConfig()
	passive.Listen = addr
	passive.STCP.TimeUnitMs = 50

	active := config.DefaultConfig()
	active.Mode = config.ModeActive
	active.Remote = addr
	active.STCP.TimeUnitMs = 50
	active.STCP.FixedISN = true

	for _, cfg := range []*config.Config{passive, active} {
		if err := cfg.Validate(); err != nil {
			t.Fatalf("配置无效: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload := bytes.Repeat([]byte("stcp-peer "), 2000)
	var received, echoed bytes.Buffer

	passiveDone := make(chan error, 1)
	go func() {
		passiveDone <- runPeer(ctx, passive, zap.NewNop(), bytes.NewReader([]byte("pong")), &received)
	}()

	// 等待被动方开始监听
	time.Sleep(50 * time.Millisecond)
	if err := runPeer(ctx, active, zap.NewNop(), bytes.NewReader(payload), &echoed); err != nil {
		t.Fatalf("主动方会话失败: %v", err)
	}
	if err := <-passiveDone; err != nil {
		t.Fatalf("被动方会话失败: %v", err)
	}

	if !bytes.Equal(received.Bytes(), payload) {
		t.Errorf("被动方收到数据不一致: got %d 字节, want %d", received.Len(), len(payload))
	}
	if echoed.String() != "pong" {
		t.Errorf("主动方收到数据错误: %q", echoed.String())
	}
}

func TestRunPeerHandshakeTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeActive
	cfg.Remote = fmt.Sprintf("127.0.0.1:%d", freeUDPPort(t))
	cfg.STCP.TimeUnitMs = 10
	cfg.STCP.MaxRetries = 2

	err := runPeer(context.Background(), cfg, nil, bytes.NewReader(nil), &bytes.Buffer{})
	if !errors.Is(err, transport.ErrHandshakeTimeout) {
		t.Errorf("期望 ErrHandshakeTimeout, got %v", err)
	}
}

func TestSessionResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{errors.Wrap(transport.ErrHandshakeTimeout, "x"), "refused"},
		{context.Canceled, "canceled"},
		{transport.ErrRetransmissionExceeded, "aborted"},
	}
	for _, tt := range tests {
		if got := sessionResult(tt.err); got != tt.want {
			t.Errorf("sessionResult(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
