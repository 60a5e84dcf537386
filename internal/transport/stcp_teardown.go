// =============================================================================
// 文件: internal/transport/stcp_teardown.go
// 描述: STCP 四次挥手 - FIN 发送/重传/确认, 对端 FIN 处理
// =============================================================================
package transport

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// handleCloseRequest 本端请求关闭
// 待发送和未确认的数据全部确认后才发送 FIN
func (c *Conn) handleCloseRequest(ctx context.Context) error {
	c.logger.Debug("收到关闭请求", zap.Stringer("state", c.state))
	c.finPending = true
	return c.maybeSendFin(ctx)
}

func (c *Conn) maybeSendFin(ctx context.Context) error {
	if !c.finPending || c.finSent || !c.state.canSendData() {
		return nil
	}
	if c.snd.Outstanding() > 0 || c.app.Buffered() > 0 {
		return nil
	}
	return c.sendFin(ctx)
}

// sendFin ESTABLISHED -> FIN_WAIT_1, CLOSE_WAIT -> LAST_ACK
func (c *Conn) sendFin(ctx context.Context) error {
	c.finSeq = c.snd.Next()
	c.finSent = true
	c.finRetransmitCount = 0

	if c.state == StateCloseWait {
		c.setState(StateLastAck)
	} else {
		c.setState(StateFinWait1)
	}

	if err := c.send(ctx, c.finSegment()); err != nil {
		return err
	}
	c.timer.Arm(c.config.RetransmitTimeout())
	return nil
}

func (c *Conn) finSegment() *Segment {
	return &Segment{
		Seq:    c.finSeq,
		Ack:    c.rcv.Expected(),
		Flags:  FlagFIN | FlagACK,
		Window: c.selfWindow(),
	}
}

// retransmitFin FIN 重传, 超过上限中止连接
func (c *Conn) retransmitFin(ctx context.Context) error {
	if c.finRetransmitCount >= c.config.MaxRetries {
		return errors.Wrapf(ErrRetransmissionExceeded, "FIN 未被确认 (state=%s)", c.state)
	}
	c.finRetransmitCount++
	c.stats.Retransmissions++

	c.logger.Info("重传 FIN",
		zap.Int("attempt", c.finRetransmitCount),
		zap.Stringer("state", c.state))
	if err := c.send(ctx, c.finSegment()); err != nil {
		return err
	}
	c.timer.Arm(c.config.RetransmitTimeout())
	return nil
}

// onFinAcked 本端 FIN 被确认
func (c *Conn) onFinAcked() {
	c.finAcked = true
	c.finRetransmitCount = 0
	c.timer.Disarm()

	switch c.state {
	case StateFinWait1:
		c.setState(StateFinWait2)
	case StateClosing, StateLastAck:
		c.enterTimeWait()
	}
}

// handleFin 对端 FIN, 返回是否需要回复 ACK
// FIN 的序列号紧跟在本报文载荷之后, 且必须等于 expected
func (c *Conn) handleFin(seg *Segment) bool {
	finSeq := seg.End()
	if finSeq != c.rcv.Expected() {
		// 已处理过的 FIN 重传, 重新确认; 有空洞的 FIN 等对端重传
		return c.peerFinSeen || seg.Len() == 0
	}
	if c.peerFinSeen {
		return true
	}

	c.rcv.ConsumeFIN()
	c.peerFinSeen = true
	c.app.PeerClosed()
	c.logger.Debug("对端关闭数据流", zap.Stringer("state", c.state))

	switch c.state {
	case StateEstablished:
		c.setState(StateCloseWait)
	case StateFinWait1:
		c.setState(StateClosing)
	case StateFinWait2:
		c.enterTimeWait()
	}
	return true
}

// enterTimeWait TIME_WAIT 不停留, 立即结束
func (c *Conn) enterTimeWait() {
	c.timer.Disarm()
	c.setState(StateTimeWait)
	c.setState(StateDone)
}
