// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 会话级埋点指标（Counter/Gauge/Histogram）
// =============================================================================
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics 会话指标集合
type SessionMetrics struct {
	ActiveSessions    prometheus.Gauge
	SessionsTotal     *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram
	SessionDuration   prometheus.Histogram
	AppBytes          *prometheus.CounterVec
}

// NewSessionMetrics 创建并注册会话指标
func NewSessionMetrics(registry prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently running",
		}),

		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total finished sessions by open mode and result",
		}, []string{"mode", "result"}),

		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from session start until the handshake completed",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 15},
		}),

		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session lifetime",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),

		AppBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_bytes_total",
			Help:      "Application bytes copied through the stream",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		m.ActiveSessions,
		m.SessionsTotal,
		m.HandshakeDuration,
		m.SessionDuration,
		m.AppBytes,
	)
	return m
}

// SessionStarted 会话开始
func (m *SessionMetrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionFinished 会话结束, result 为 ok / refused / aborted / canceled
func (m *SessionMetrics) SessionFinished(mode, result string, lifetime time.Duration) {
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(mode, result).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
}

// RecordHandshake 记录握手耗时
func (m *SessionMetrics) RecordHandshake(d time.Duration) {
	m.HandshakeDuration.Observe(d.Seconds())
}

// RecordAppBytes 记录应用层流量, direction 为 in / out
func (m *SessionMetrics) RecordAppBytes(direction string, n int64) {
	if n > 0 {
		m.AppBytes.WithLabelValues(direction).Add(float64(n))
	}
}
