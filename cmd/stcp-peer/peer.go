// =============================================================================
// 文件: cmd/stcp-peer/peer.go
// 描述: 会话装配 - 链路、连接、字节流、指标与数据泵
// =============================================================================
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mrcgq/stcp/internal/config"
	"github.com/mrcgq/stcp/internal/metrics"
	"github.com/mrcgq/stcp/internal/transport"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// openNetwork 按配置建立数据报链路, 启用模拟时包装丢包层
func openNetwork(ctx context.Context, cfg *config.Config, lm *metrics.LinkMetrics) (transport.Network, error) {
	var nw transport.Network

	switch {
	case cfg.Transport == config.TransportWebSocket && cfg.Mode == config.ModeActive:
		l, err := transport.DialWebSocket(ctx, cfg.WebSocketURL(), lm)
		if err != nil {
			return nil, err
		}
		nw = l
	case cfg.Transport == config.TransportWebSocket:
		l, err := transport.ListenWebSocket(cfg.Listen, cfg.WebSocket.Path, lm)
		if err != nil {
			return nil, errors.Wrapf(err, "WebSocket 监听失败: %s", cfg.Listen)
		}
		nw = l
	case cfg.Mode == config.ModeActive:
		l, err := transport.DialUDP(cfg.Remote, lm)
		if err != nil {
			return nil, errors.Wrapf(err, "UDP 拨号失败: %s", cfg.Remote)
		}
		nw = l
	default:
		l, err := transport.ListenUDP(cfg.Listen, lm)
		if err != nil {
			return nil, errors.Wrapf(err, "UDP 监听失败: %s", cfg.Listen)
		}
		nw = l
	}

	if lossy := cfg.ToLossyConfig(); lossy.Enabled() {
		nw = transport.NewLossyNetwork(nw, lossy, lm)
	}
	return nw, nil
}

// runPeer 运行一次会话: in 的内容发往对端, 对端数据写入 out
// 本端 in 读完后关闭发送方向, 双方都关闭后返回
func runPeer(ctx context.Context, cfg *config.Config, log *zap.Logger, in io.Reader, out io.Writer) error {
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()
	lm := metrics.NewLinkMetrics(cfg.Transport)

	nw, err := openNetwork(ctx, cfg, lm)
	if err != nil {
		return err
	}
	defer nw.Close()

	stream := transport.NewStream(cfg.STCP.WindowSize)
	conn, err := transport.NewConn(nw, stream, cfg.ToSTCPConfig(), log)
	if err != nil {
		return err
	}

	var sm *metrics.SessionMetrics
	if cfg.Metrics.Enabled {
		ms := metrics.NewMetricsServer(cfg.Metrics.Listen, cfg.Metrics.Path, cfg.Metrics.HealthPath, log)
		if err := ms.RegisterCollector(metrics.NewConnCollector(&connStatsAdapter{conn: conn})); err != nil {
			return err
		}
		if err := ms.RegisterCollector(metrics.NewLinkCollector(lm)); err != nil {
			return err
		}
		sm = metrics.NewSessionMetrics(ms.GetRegistry())
		ms.SetHealthCheck(func() metrics.HealthStatus {
			return createHealthStatus(conn)
		})
		ms.SetConnProbe(func() (string, bool) {
			s := conn.GetStats()
			return s.State, s.Synchronized
		})
		if err := ms.Start(ctx); err != nil {
			log.Warn("指标服务器启动失败, 继续运行", zap.Error(err))
		}
		defer ms.Stop()
		sm.SessionStarted()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return conn.Run(gctx, cfg.OpenMode())
	})

	// stdin 读取可能永久阻塞, 不加入 errgroup
	go func() {
		if err := stream.WaitReady(gctx); err != nil {
			return
		}
		if sm != nil {
			sm.RecordHandshake(time.Since(start))
		}
		n, err := io.Copy(stream, in)
		if sm != nil {
			sm.RecordAppBytes("out", n)
		}
		if err != nil && !errors.Is(err, transport.ErrConnClosed) {
			log.Warn("读取输入失败", zap.Error(err))
		}
		stream.Close()
	}()

	g.Go(func() error {
		n, err := io.Copy(out, stream)
		if sm != nil {
			sm.RecordAppBytes("in", n)
		}
		// 连接错误由 Run 返回
		if err != nil && conn.GetState() != transport.StateDone.String() {
			return errors.Wrap(err, "写出数据失败")
		}
		return nil
	})

	err = g.Wait()
	if sm != nil {
		sm.SessionFinished(cfg.Mode, sessionResult(err), time.Since(start))
	}

	stats := conn.GetStats()
	log.Info("会话结束",
		zap.String("state", stats.State),
		zap.Uint64("bytes_sent", stats.BytesSent),
		zap.Uint64("bytes_delivered", stats.BytesDelivered),
		zap.Uint64("retransmissions", stats.Retransmissions),
		zap.Duration("srtt", stats.SmoothedRTT),
		zap.Duration("uptime", stats.Uptime),
		zap.Any("link", lm.GetStats()))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sessionResult 会话结果标签
func sessionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, transport.ErrHandshakeTimeout):
		return "refused"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "aborted"
	}
}

// =============================================================================
// 适配器: 将连接统计适配到 Prometheus 收集器接口
// =============================================================================

type connStatsAdapter struct {
	conn *transport.Conn
}

func (a *connStatsAdapter) GetConnStats() metrics.ConnStatData {
	s := a.conn.GetStats()
	return metrics.ConnStatData{
		State:               s.State,
		SendBase:            s.SendBase,
		NextSeq:             s.NextSeq,
		ExpectedSeq:         s.ExpectedSeq,
		PeerWindow:          s.PeerWindow,
		SelfWindow:          s.SelfWindow,
		Outstanding:         s.Outstanding,
		RetransmitCount:     s.RetransmitCount,
		SegmentsSent:        s.SegmentsSent,
		SegmentsReceived:    s.SegmentsReceived,
		BytesSent:           s.BytesSent,
		BytesAcked:          s.BytesAcked,
		BytesDelivered:      s.BytesDelivered,
		Retransmissions:     s.Retransmissions,
		Timeouts:            s.Timeouts,
		DuplicateSegments:   s.DuplicateSegments,
		OutOfOrderSegments:  s.OutOfOrderSegments,
		OutOfWindowSegments: s.OutOfWindowSegments,
		MalformedSegments:   s.MalformedSegments,
		UptimeSeconds:       s.Uptime.Seconds(),
		SmoothedRTTSeconds:  s.SmoothedRTT.Seconds(),
		MinRTTSeconds:       s.MinRTT.Seconds(),
		LatestRTTSeconds:    s.LatestRTT.Seconds(),
	}
}

// =============================================================================
// 健康检查
// =============================================================================

func createHealthStatus(conn *transport.Conn) metrics.HealthStatus {
	stats := conn.GetStats()
	status := metrics.HealthStatus{
		Status:     "healthy",
		Components: make(map[string]metrics.ComponentHealth),
	}

	switch stats.State {
	case transport.StateDone.String():
		status.Status = "degraded"
		status.Components["conn"] = metrics.ComponentHealth{
			Status:  "degraded",
			Message: "session finished",
		}
	default:
		status.Components["conn"] = metrics.ComponentHealth{
			Status:  "healthy",
			Message: fmt.Sprintf("state: %s, outstanding: %d", stats.State, stats.Outstanding),
		}
	}

	if stats.RetransmitCount > 0 {
		status.Components["retransmit"] = metrics.ComponentHealth{
			Status:  "healthy",
			Message: fmt.Sprintf("consecutive timeouts: %d", stats.RetransmitCount),
		}
	}
	return status
}
