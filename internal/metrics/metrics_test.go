// =============================================================================
// 文件: internal/metrics/metrics_test.go
// 描述: 指标收集器测试
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeConnStats struct {
	data ConnStatData
}

func (f *fakeConnStats) GetConnStats() ConnStatData { return f.data }

func TestLinkMetricsCounters(t *testing.T) {
	m := NewLinkMetrics("udp")
	m.RecordSent(100)
	m.RecordSent(50)
	m.RecordReceived(20)
	m.RecordSendError()
	m.RecordDropped()
	m.RecordDuplicated()
	m.RecordReordered()

	s := m.Snapshot()
	if s.DatagramsSent != 2 || s.BytesSent != 150 {
		t.Errorf("发送计数错误: datagrams=%d bytes=%d", s.DatagramsSent, s.BytesSent)
	}
	if s.DatagramsReceived != 1 || s.BytesReceived != 20 {
		t.Errorf("接收计数错误: datagrams=%d bytes=%d", s.DatagramsReceived, s.BytesReceived)
	}
	if s.SendErrors != 1 || s.Dropped != 1 || s.Duplicated != 1 || s.Reordered != 1 {
		t.Errorf("异常计数错误: %+v", s)
	}

	stats := m.GetStats()
	if stats["link"] != "udp" {
		t.Errorf("link 名称错误: %v", stats["link"])
	}
}

func TestLinkMetricsNilSafe(t *testing.T) {
	var m *LinkMetrics
	m.RecordSent(1)
	m.RecordReceived(1)
	m.RecordSendError()
	m.RecordDropped()
	if m.Name() != "" {
		t.Error("nil 计数器名称应为空")
	}
}

func TestConnCollector(t *testing.T) {
	provider := &fakeConnStats{data: ConnStatData{
		State:            "ESTABLISHED",
		SendBase:         101,
		NextSeq:          637,
		Outstanding:      536,
		SegmentsSent:     3,
		SegmentsReceived: 2,
		MinRTTSeconds:    0.25,
	}}
	c := NewConnCollector(provider)

	// 15 个状态 + 8 个标量 + 3 RTT + 2 段 + 3 字节 + 重传 + 超时 + 4 异常
	want := len(ConnStates) + 8 + 3 + 2 + 3 + 1 + 1 + 4
	if n := testutil.CollectAndCount(c); n != want {
		t.Errorf("指标数量错误: got %d, want %d", n, want)
	}

	expected := `
# HELP stcp_conn_outstanding_bytes Bytes sent but not yet acknowledged
# TYPE stcp_conn_outstanding_bytes gauge
stcp_conn_outstanding_bytes 536
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "stcp_conn_outstanding_bytes"); err != nil {
		t.Errorf("outstanding 指标不匹配: %v", err)
	}

	expected = `
# HELP stcp_conn_rtt_seconds Measured round-trip time by kind
# TYPE stcp_conn_rtt_seconds gauge
stcp_conn_rtt_seconds{kind="latest"} 0
stcp_conn_rtt_seconds{kind="min"} 0.25
stcp_conn_rtt_seconds{kind="smoothed"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "stcp_conn_rtt_seconds"); err != nil {
		t.Errorf("rtt 指标不匹配: %v", err)
	}
}

func TestLinkCollector(t *testing.T) {
	udp := NewLinkMetrics("udp")
	ws := NewLinkMetrics("websocket")
	udp.RecordSent(10)
	ws.RecordReceived(7)

	c := NewLinkCollector(udp, ws)
	// 每条链路: 2 数据报 + 2 字节 + 1 错误 + 3 模拟
	if n := testutil.CollectAndCount(c); n != 16 {
		t.Errorf("指标数量错误: got %d, want 16", n)
	}
	if n := testutil.CollectAndCount(c, "stcp_link_send_errors_total"); n != 2 {
		t.Errorf("send_errors 数量错误: got %d, want 2", n)
	}
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)

	m.SessionStarted()
	m.RecordHandshake(20 * time.Millisecond)
	m.RecordAppBytes("out", 1000)
	m.RecordAppBytes("in", 0)
	m.SessionFinished("active", "ok", time.Second)

	if v := testutil.ToFloat64(m.ActiveSessions); v != 0 {
		t.Errorf("活跃会话数错误: %v", v)
	}
	if v := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("active", "ok")); v != 1 {
		t.Errorf("会话计数错误: %v", v)
	}
	if v := testutil.ToFloat64(m.AppBytes.WithLabelValues("out")); v != 1000 {
		t.Errorf("应用字节数错误: %v", v)
	}
}

func TestMetricsServerHandler(t *testing.T) {
	s := NewMetricsServer("127.0.0.1:0", "/metrics", "/health", nil)
	if err := s.RegisterCollector(NewLinkCollector(NewLinkMetrics("udp"))); err != nil {
		t.Fatalf("注册收集器失败: %v", err)
	}

	t.Run("Metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("状态码错误: %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "stcp_link_datagrams_total") {
			t.Error("缺少链路指标")
		}
	})

	t.Run("Health", func(t *testing.T) {
		s.SetHealthCheck(func() HealthStatus {
			return HealthStatus{Status: "degraded"}
		})
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("状态码错误: %d", rec.Code)
		}
		var status HealthStatus
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("解析失败: %v", err)
		}
		if status.Status != "degraded" {
			t.Errorf("状态错误: %s", status.Status)
		}
	})

	t.Run("Conn", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/conn", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("未设置探针时状态码错误: %d", rec.Code)
		}

		state, open := "ESTABLISHED", true
		s.SetConnProbe(func() (string, bool) { return state, open })
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/conn", nil))
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "ESTABLISHED" {
			t.Errorf("连接探针错误: %d %q", rec.Code, rec.Body.String())
		}

		state, open = "DONE", false
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/conn", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("连接结束后状态码错误: %d", rec.Code)
		}
	})

	t.Run("StartStop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		if err := s.Start(ctx); err != nil {
			t.Fatalf("启动失败: %v", err)
		}
		cancel()
		s.Stop()
	})
}
