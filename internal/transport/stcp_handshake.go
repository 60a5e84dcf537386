// =============================================================================
// 文件: internal/transport/stcp_handshake.go
// 描述: STCP 三次握手 - 主动打开 / 被动打开
// =============================================================================
package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// activeOpen 主动打开
// CLOSED -> SYN_SENT -> SYN_ACK_RCVD -> ACK_SENT -> ESTABLISHED
func (c *Conn) activeOpen(ctx context.Context) error {
	c.isn = c.chooseISN()
	c.setState(StateSynSent)

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		c.stats.HandshakeAttempts++
		c.publish()

		syn := &Segment{Seq: c.isn, Flags: FlagSYN, Window: uint16(c.config.WindowSize)}
		if err := c.send(ctx, syn); err != nil {
			return err
		}

		seg, err := c.awaitSegment(ctx, c.config.HandshakeTimeout())
		if err != nil {
			return err
		}
		if seg == nil {
			c.logger.Debug("等待 SYN+ACK 超时", zap.Int("attempt", attempt))
			continue
		}
		if !seg.Has(FlagSYN) || !seg.Has(FlagACK) || seg.Ack != c.isn.Add(1) {
			c.logger.Debug("握手响应不匹配", zap.Int("attempt", attempt), zap.Stringer("seg", seg))
			continue
		}

		c.peerISN = seg.Seq
		c.setState(StateSynAckRcvd)

		ack := &Segment{
			Seq:    c.isn.Add(1),
			Ack:    c.peerISN.Add(1),
			Flags:  FlagACK,
			Window: uint16(c.config.WindowSize),
		}
		if err := c.send(ctx, ack); err != nil {
			return err
		}
		c.setState(StateAckSent)
		c.establish(seg.Window)
		return nil
	}

	return errors.Wrapf(ErrHandshakeTimeout, "主动打开 %d 次未收到有效 SYN+ACK", c.config.MaxRetries)
}

// passiveOpen 被动打开
// CLOSED -> SYN_RCVD -> SYN_ACK_SENT -> ACK_RCVD -> ESTABLISHED
func (c *Conn) passiveOpen(ctx context.Context) error {
	for {
		seg, err := c.awaitSegment(ctx, 0)
		if err != nil {
			return err
		}
		if seg.Has(FlagSYN) && !seg.Has(FlagACK) {
			c.peerISN = seg.Seq
			break
		}
		c.logger.Debug("等待 SYN, 忽略报文", zap.Stringer("seg", seg))
	}

	c.isn = c.chooseISN()
	c.setState(StateSynRcvd)

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		c.stats.HandshakeAttempts++

		synAck := &Segment{
			Seq:    c.isn,
			Ack:    c.peerISN.Add(1),
			Flags:  FlagSYN | FlagACK,
			Window: uint16(c.config.WindowSize),
		}
		if err := c.send(ctx, synAck); err != nil {
			return err
		}
		c.setState(StateSynAckSent)
		c.publish()

		seg, err := c.awaitSegment(ctx, c.config.HandshakeTimeout())
		if err != nil {
			return err
		}
		if seg == nil {
			c.logger.Debug("等待握手 ACK 超时", zap.Int("attempt", attempt))
			continue
		}
		if seg.Has(FlagSYN) || !seg.Has(FlagACK) || seg.Ack != c.isn.Add(1) {
			c.logger.Debug("握手 ACK 不匹配", zap.Int("attempt", attempt), zap.Stringer("seg", seg))
			continue
		}

		c.setState(StateAckRcvd)
		c.establish(seg.Window)
		if seg.Len() > 0 || seg.Has(FlagFIN) {
			c.pendingSegment = seg
		}
		return nil
	}

	return errors.Wrapf(ErrHandshakeTimeout, "被动打开 %d 次未收到握手 ACK", c.config.MaxRetries)
}

// awaitSegment 等待下一个格式正确的报文
// timeout <= 0 表示无限等待; 超时返回 (nil, nil)
func (c *Conn) awaitSegment(ctx context.Context, timeout time.Duration) (*Segment, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, nil
		case b := <-c.inbound:
			seg, err := c.decode(b)
			if err != nil {
				continue
			}
			return seg, nil
		}
	}
}
