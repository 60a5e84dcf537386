// =============================================================================
// 文件: internal/transport/stcp_rtt.go
// 描述: RTT 测量 (RFC 6298 平滑), 仅用于统计, 不影响固定的重传超时
// =============================================================================
package transport

import (
	"time"

	"github.com/google/netstack/tcpip/seqnum"
)

const (
	rttAlpha = 0.125 // SRTT 平滑因子 (1/8)
	rttBeta  = 0.25  // RTT 方差因子 (1/4)
)

// rttEstimator RTT 估算器, 仅由控制循环访问
// 同一时刻只计时一个报文, 重传过的报文不采样 (Karn)
type rttEstimator struct {
	smoothed time.Duration
	variance time.Duration
	min      time.Duration
	max      time.Duration
	latest   time.Duration
	samples  uint64

	timing bool
	endSeq seqnum.Value
	sentAt time.Time
}

// start 开始计时, 已有报文在计时中则忽略
func (r *rttEstimator) start(endSeq seqnum.Value, now time.Time) {
	if r.timing {
		return
	}
	r.timing = true
	r.endSeq = endSeq
	r.sentAt = now
}

// invalidate 发生重传, 放弃当前计时
func (r *rttEstimator) invalidate() {
	r.timing = false
}

// onAck 累积确认覆盖计时报文时采样
func (r *rttEstimator) onAck(ack seqnum.Value, now time.Time) {
	if !r.timing || ack.LessThan(r.endSeq) {
		return
	}
	r.timing = false
	r.update(now.Sub(r.sentAt))
}

func (r *rttEstimator) update(sample time.Duration) {
	if sample <= 0 {
		sample = time.Microsecond
	}

	r.latest = sample
	if r.min == 0 || sample < r.min {
		r.min = sample
	}
	if sample > r.max {
		r.max = sample
	}

	if r.samples == 0 {
		r.smoothed = sample
		r.variance = sample / 2
	} else {
		// RTTVAR = (1 - beta) * RTTVAR + beta * |SRTT - R|
		diff := r.smoothed - sample
		if diff < 0 {
			diff = -diff
		}
		r.variance = time.Duration(float64(r.variance)*(1-rttBeta) + float64(diff)*rttBeta)
		// SRTT = (1 - alpha) * SRTT + alpha * R
		r.smoothed = time.Duration(float64(r.smoothed)*(1-rttAlpha) + float64(sample)*rttAlpha)
	}
	r.samples++
}
