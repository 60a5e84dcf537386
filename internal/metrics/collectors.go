// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 (连接 / 链路)
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stcp"

// =============================================================================
// 连接收集器
// =============================================================================

// ConnStatsProvider 连接统计数据接口
type ConnStatsProvider interface {
	GetConnStats() ConnStatData
}

// ConnStatData 连接统计数据
type ConnStatData struct {
	State string

	SendBase    uint32
	NextSeq     uint32
	ExpectedSeq uint32

	PeerWindow      int
	SelfWindow      int
	Outstanding     int
	RetransmitCount int

	SegmentsSent        uint64
	SegmentsReceived    uint64
	BytesSent           uint64
	BytesAcked          uint64
	BytesDelivered      uint64
	Retransmissions     uint64
	Timeouts            uint64
	DuplicateSegments   uint64
	OutOfOrderSegments  uint64
	OutOfWindowSegments uint64
	MalformedSegments   uint64
	UptimeSeconds       float64

	SmoothedRTTSeconds float64
	MinRTTSeconds      float64
	LatestRTTSeconds   float64
}

// ConnStates 全部连接状态, 用于状态指标
var ConnStates = []string{
	"CLOSED", "SYN_SENT", "SYN_RCVD", "SYN_ACK_SENT", "SYN_ACK_RCVD",
	"ACK_SENT", "ACK_RCVD", "ESTABLISHED", "FIN_WAIT_1", "FIN_WAIT_2",
	"CLOSE_WAIT", "LAST_ACK", "CLOSING", "TIME_WAIT", "DONE",
}

// ConnCollector 连接指标收集器
type ConnCollector struct {
	statsProvider ConnStatsProvider

	stateDesc       *prometheus.Desc
	sendBaseDesc    *prometheus.Desc
	nextSeqDesc     *prometheus.Desc
	expectedDesc    *prometheus.Desc
	peerWindowDesc  *prometheus.Desc
	selfWindowDesc  *prometheus.Desc
	outstandingDesc *prometheus.Desc
	retransmitDesc  *prometheus.Desc
	uptimeDesc      *prometheus.Desc
	rttDesc         *prometheus.Desc

	segmentsDesc  *prometheus.Desc
	bytesDesc     *prometheus.Desc
	retransDesc   *prometheus.Desc
	timeoutsDesc  *prometheus.Desc
	anomaliesDesc *prometheus.Desc
}

// NewConnCollector 创建连接收集器
func NewConnCollector(provider ConnStatsProvider) *ConnCollector {
	subsystem := "conn"

	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	return &ConnCollector{
		statsProvider: provider,

		stateDesc:       desc("state", "Current connection state (1 = active)", "state"),
		sendBaseDesc:    desc("send_base", "Oldest unacknowledged sequence number"),
		nextSeqDesc:     desc("next_seq", "Next sequence number to send"),
		expectedDesc:    desc("expected_seq", "Next expected inbound sequence number"),
		peerWindowDesc:  desc("peer_window_bytes", "Window advertised by the peer"),
		selfWindowDesc:  desc("self_window_bytes", "Window advertised to the peer"),
		outstandingDesc: desc("outstanding_bytes", "Bytes sent but not yet acknowledged"),
		retransmitDesc:  desc("retransmit_count", "Consecutive retransmission timeouts without progress"),
		uptimeDesc:      desc("uptime_seconds", "Connection uptime in seconds"),
		rttDesc:         desc("rtt_seconds", "Measured round-trip time by kind", "kind"),

		segmentsDesc:  desc("segments_total", "Total segments by direction", "direction"),
		bytesDesc:     desc("bytes_total", "Total payload bytes by kind", "kind"),
		retransDesc:   desc("retransmissions_total", "Total retransmitted segments"),
		timeoutsDesc:  desc("timeouts_total", "Total retransmission timer expiries"),
		anomaliesDesc: desc("anomalous_segments_total", "Inbound segments by anomaly type", "type"),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *ConnCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.sendBaseDesc
	ch <- c.nextSeqDesc
	ch <- c.expectedDesc
	ch <- c.peerWindowDesc
	ch <- c.selfWindowDesc
	ch <- c.outstandingDesc
	ch <- c.retransmitDesc
	ch <- c.uptimeDesc
	ch <- c.rttDesc
	ch <- c.segmentsDesc
	ch <- c.bytesDesc
	ch <- c.retransDesc
	ch <- c.timeoutsDesc
	ch <- c.anomaliesDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *ConnCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statsProvider.GetConnStats()

	for _, state := range ConnStates {
		val := 0.0
		if state == s.State {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, val, state)
	}

	ch <- prometheus.MustNewConstMetric(c.sendBaseDesc, prometheus.GaugeValue, float64(s.SendBase))
	ch <- prometheus.MustNewConstMetric(c.nextSeqDesc, prometheus.GaugeValue, float64(s.NextSeq))
	ch <- prometheus.MustNewConstMetric(c.expectedDesc, prometheus.GaugeValue, float64(s.ExpectedSeq))
	ch <- prometheus.MustNewConstMetric(c.peerWindowDesc, prometheus.GaugeValue, float64(s.PeerWindow))
	ch <- prometheus.MustNewConstMetric(c.selfWindowDesc, prometheus.GaugeValue, float64(s.SelfWindow))
	ch <- prometheus.MustNewConstMetric(c.outstandingDesc, prometheus.GaugeValue, float64(s.Outstanding))
	ch <- prometheus.MustNewConstMetric(c.retransmitDesc, prometheus.GaugeValue, float64(s.RetransmitCount))
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, s.UptimeSeconds)

	ch <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, s.SmoothedRTTSeconds, "smoothed")
	ch <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, s.MinRTTSeconds, "min")
	ch <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, s.LatestRTTSeconds, "latest")

	ch <- prometheus.MustNewConstMetric(c.segmentsDesc, prometheus.CounterValue, float64(s.SegmentsSent), "out")
	ch <- prometheus.MustNewConstMetric(c.segmentsDesc, prometheus.CounterValue, float64(s.SegmentsReceived), "in")

	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(s.BytesSent), "sent")
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(s.BytesAcked), "acked")
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(s.BytesDelivered), "delivered")

	ch <- prometheus.MustNewConstMetric(c.retransDesc, prometheus.CounterValue, float64(s.Retransmissions))
	ch <- prometheus.MustNewConstMetric(c.timeoutsDesc, prometheus.CounterValue, float64(s.Timeouts))

	ch <- prometheus.MustNewConstMetric(c.anomaliesDesc, prometheus.CounterValue, float64(s.DuplicateSegments), "duplicate")
	ch <- prometheus.MustNewConstMetric(c.anomaliesDesc, prometheus.CounterValue, float64(s.OutOfOrderSegments), "out_of_order")
	ch <- prometheus.MustNewConstMetric(c.anomaliesDesc, prometheus.CounterValue, float64(s.OutOfWindowSegments), "out_of_window")
	ch <- prometheus.MustNewConstMetric(c.anomaliesDesc, prometheus.CounterValue, float64(s.MalformedSegments), "malformed")
}

// =============================================================================
// 链路收集器
// =============================================================================

// LinkCollector 链路指标收集器
type LinkCollector struct {
	links []*LinkMetrics

	datagramsDesc  *prometheus.Desc
	bytesDesc      *prometheus.Desc
	sendErrorsDesc *prometheus.Desc
	impairedDesc   *prometheus.Desc
}

// NewLinkCollector 创建链路收集器
func NewLinkCollector(links ...*LinkMetrics) *LinkCollector {
	subsystem := "link"

	return &LinkCollector{
		links: links,

		datagramsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "datagrams_total"),
			"Total datagrams by direction",
			[]string{"link", "direction"}, nil,
		),
		bytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "bytes_total"),
			"Total datagram bytes by direction",
			[]string{"link", "direction"}, nil,
		),
		sendErrorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "send_errors_total"),
			"Total datagram send failures",
			[]string{"link"}, nil,
		),
		impairedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "impaired_datagrams_total"),
			"Datagrams affected by loss simulation",
			[]string{"link", "effect"}, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *LinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.datagramsDesc
	ch <- c.bytesDesc
	ch <- c.sendErrorsDesc
	ch <- c.impairedDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *LinkCollector) Collect(ch chan<- prometheus.Metric) {
	for _, link := range c.links {
		s := link.Snapshot()

		ch <- prometheus.MustNewConstMetric(c.datagramsDesc, prometheus.CounterValue,
			float64(s.DatagramsSent), s.Name, "out")
		ch <- prometheus.MustNewConstMetric(c.datagramsDesc, prometheus.CounterValue,
			float64(s.DatagramsReceived), s.Name, "in")
		ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue,
			float64(s.BytesSent), s.Name, "out")
		ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue,
			float64(s.BytesReceived), s.Name, "in")
		ch <- prometheus.MustNewConstMetric(c.sendErrorsDesc, prometheus.CounterValue,
			float64(s.SendErrors), s.Name)

		ch <- prometheus.MustNewConstMetric(c.impairedDesc, prometheus.CounterValue,
			float64(s.Dropped), s.Name, "dropped")
		ch <- prometheus.MustNewConstMetric(c.impairedDesc, prometheus.CounterValue,
			float64(s.Duplicated), s.Name, "duplicated")
		ch <- prometheus.MustNewConstMetric(c.impairedDesc, prometheus.CounterValue,
			float64(s.Reordered), s.Name, "reordered")
	}
}
