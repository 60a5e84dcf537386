// =============================================================================
// 文件: internal/transport/stcp_conn.go
// 描述: STCP 连接 - 单控制循环驱动的状态机 (数据收发/重传/统计)
// =============================================================================
package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Conn 单条 STCP 连接
// 除统计快照外, 所有状态只在控制循环中读写
type Conn struct {
	nw     Network
	app    Application
	config *STCPConfig
	logger *zap.Logger

	state   STCPState
	isn     seqnum.Value
	peerISN seqnum.Value

	snd        *SendBuffer
	rcv        *RecvBuffer
	peerWindow int

	retransmitCount    int
	finRetransmitCount int
	rtt                rttEstimator

	// 关闭
	finPending  bool
	finSent     bool
	finAcked    bool
	finSeq      seqnum.Value
	peerFinSeen bool

	// 被动方握手完成时随 ACK 到达的报文
	pendingSegment *Segment

	timer   *retransmitTimer
	dups    *duplicateFilter
	backoff *sendBackoff
	inbound chan []byte

	stats     STCPStats
	startTime time.Time

	mu       sync.RWMutex
	snapshot STCPStats
}

// NewConn 创建连接
func NewConn(nw Network, app Application, config *STCPConfig, logger *zap.Logger) (*Conn, error) {
	if config == nil {
		config = DefaultSTCPConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Conn{
		nw:        nw,
		app:       app,
		config:    config,
		logger:    logger,
		state:     StateClosed,
		snd:       NewSendBuffer(config.WindowSize, 0),
		rcv:       NewRecvBuffer(config.WindowSize, 0),
		timer:     newRetransmitTimer(),
		dups:      newDuplicateFilter(config.DuplicateFilterSize),
		backoff:   newSendBackoff(config.SendBackoffMin, config.SendBackoffMax),
		inbound:   make(chan []byte, STCPInboundQueueSize),
		startTime: time.Now(),
	}
	c.publish()
	return c, nil
}

// Run 建立连接并运行到会话结束
// 正常关闭返回 nil; 握手失败返回 ErrHandshakeTimeout; 重传超限返回 ErrRetransmissionExceeded
func (c *Conn) Run(ctx context.Context, mode OpenMode) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.readLoop(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return c.controlLoop(gctx, mode)
	})
	return g.Wait()
}

// readLoop 从网络读取数据报并投递给控制循环
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		b, err := c.nw.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "接收数据报失败")
		}
		select {
		case c.inbound <- b:
		case <-ctx.Done():
			return nil
		}
	}
}

// controlLoop 握手后进入事件循环
func (c *Conn) controlLoop(ctx context.Context, mode OpenMode) (err error) {
	defer func() {
		c.timer.Stop()
		c.finish(err)
	}()

	if mode == OpenPassive {
		err = c.passiveOpen(ctx)
	} else {
		err = c.activeOpen(ctx)
	}
	c.app.Unblock(err)
	if err != nil {
		return err
	}

	// 握手完成 ACK 上携带的数据或 FIN
	if c.pendingSegment != nil {
		seg := c.pendingSegment
		c.pendingSegment = nil
		if err = c.handleSegment(ctx, seg); err != nil {
			return err
		}
	}
	c.publish()

	closeReq := c.app.CloseRequested()
	for !c.terminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case b := <-c.inbound:
			err = c.handleDatagram(ctx, b)

		case <-c.app.DataReady():
			err = c.pumpApp(ctx)

		case <-closeReq:
			closeReq = nil
			err = c.handleCloseRequest(ctx)

		case gen := <-c.timer.C():
			if c.timer.Expired(gen) {
				err = c.handleTimeout(ctx)
			}
		}

		c.publish()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) terminal() bool {
	return c.state == StateDone
}

// finish 会话结束
func (c *Conn) finish(err error) {
	if err != nil {
		c.logger.Error("连接中止", zap.Stringer("state", c.state), zap.Error(err))
	} else {
		c.logger.Info("连接关闭", zap.Stringer("state", c.state))
	}
	c.setState(StateDone)
	c.publish()
	c.app.Finish(err)
}

func (c *Conn) setState(s STCPState) {
	if c.state == s {
		return
	}
	c.logger.Debug("状态变更", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
}

// =============================================================================
// 入站处理
// =============================================================================

// handleDatagram 解码并处理一个数据报, 格式错误的报文被丢弃
func (c *Conn) handleDatagram(ctx context.Context, b []byte) error {
	seg, err := c.decode(b)
	if err != nil {
		return nil
	}
	return c.handleSegment(ctx, seg)
}

func (c *Conn) decode(b []byte) (*Segment, error) {
	seg, err := DecodeSegment(b)
	if err != nil {
		c.stats.MalformedSegments++
		c.logger.Warn("丢弃格式错误的报文", zap.Int("len", len(b)), zap.Error(err))
		return nil, err
	}
	c.stats.SegmentsReceived++
	return seg, nil
}

// handleSegment 已建立连接后的报文处理: 先 ACK, 再数据, 最后 FIN
func (c *Conn) handleSegment(ctx context.Context, seg *Segment) error {
	// 对端未收到握手的最后一个 ACK
	if seg.Has(FlagSYN) {
		return c.sendAck(ctx)
	}

	if seg.Has(FlagACK) {
		if err := c.handleAck(ctx, seg); err != nil {
			return err
		}
	}

	// 任何载荷 (包括重复和窗口外) 都回复当前 expected
	needAck := false
	if seg.Len() > 0 {
		c.handleData(seg)
		needAck = true
	}
	if seg.Has(FlagFIN) {
		needAck = c.handleFin(seg) || needAck
	}

	if needAck {
		return c.sendAck(ctx)
	}
	return nil
}

// handleAck 累积确认
func (c *Conn) handleAck(ctx context.Context, seg *Segment) error {
	if ackNotStale(seg.Ack, c.snd.Base(), c.localNext()) {
		c.peerWindow = int(seg.Window)
	}

	if n, ok := c.snd.Ack(seg.Ack); ok {
		c.stats.BytesAcked += uint64(n)
		c.retransmitCount = 0
		c.rtt.onAck(seg.Ack, time.Now())
		c.timer.Disarm()
		if c.snd.Outstanding() > 0 {
			c.timer.Arm(c.config.RetransmitTimeout())
		}
		return c.pumpApp(ctx)
	}

	if c.finSent && !c.finAcked && seg.Ack == c.finSeq.Add(1) {
		c.onFinAcked()
	}
	return nil
}

// handleData 数据接收
func (c *Conn) handleData(seg *Segment) {
	if c.dups.Seen(seg) {
		c.stats.DuplicateSegments++
	}

	res := c.rcv.Receive(seg.Seq, seg.Payload)
	switch res.Class {
	case RecvInOrder, RecvStaleTail:
		if len(res.Delivered) > 0 {
			c.stats.BytesDelivered += uint64(len(res.Delivered))
			c.app.Deliver(res.Delivered)
		}
	case RecvFuture:
		c.stats.OutOfOrderSegments++
	case RecvOutOfWindow:
		c.stats.OutOfWindowSegments++
		c.logger.Warn("报文超出窗口, 重新确认",
			zap.Stringer("seg", seg),
			zap.Uint32("expected", uint32(c.rcv.Expected())),
			zap.Error(ErrOutOfWindowSegment))
	}
}

// =============================================================================
// 出站处理
// =============================================================================

// pumpApp 按可用窗口从应用取数据发送
func (c *Conn) pumpApp(ctx context.Context) error {
	if !c.state.canSendData() || c.finSent {
		return nil
	}

	for {
		avail := c.snd.Available(c.peerWindow)
		if avail <= 0 {
			break
		}
		data := c.app.Pull(avail)
		if len(data) == 0 {
			break
		}

		for _, chunk := range c.snd.Push(data, c.config.MSS) {
			if err := c.sendData(ctx, chunk); err != nil {
				return err
			}
		}
		c.stats.BytesSent += uint64(len(data))
		c.rtt.start(c.snd.Next(), time.Now())
		c.timer.Arm(c.config.RetransmitTimeout())
	}

	return c.maybeSendFin(ctx)
}

// handleTimeout 重传定时器到期
func (c *Conn) handleTimeout(ctx context.Context) error {
	c.stats.Timeouts++

	if c.finSent && !c.finAcked {
		return c.retransmitFin(ctx)
	}
	if c.snd.Outstanding() == 0 {
		return nil
	}

	if c.retransmitCount >= c.config.MaxRetries {
		return errors.Wrapf(ErrRetransmissionExceeded, "%d 字节未确认 (base=%d)",
			c.snd.Outstanding(), uint32(c.snd.Base()))
	}
	c.retransmitCount++
	c.rtt.invalidate()

	chunks := c.snd.Unacked(c.config.MSS)
	c.logger.Info("重传超时",
		zap.Int("attempt", c.retransmitCount),
		zap.Uint32("base", uint32(c.snd.Base())),
		zap.Int("segments", len(chunks)))
	for _, chunk := range chunks {
		if err := c.sendData(ctx, chunk); err != nil {
			return err
		}
		c.stats.Retransmissions++
	}
	c.timer.Arm(c.config.RetransmitTimeout())
	return nil
}

func (c *Conn) sendData(ctx context.Context, chunk Chunk) error {
	return c.send(ctx, &Segment{
		Seq:     chunk.Seq,
		Ack:     c.rcv.Expected(),
		Flags:   FlagACK,
		Window:  c.selfWindow(),
		Payload: chunk.Data,
	})
}

func (c *Conn) sendAck(ctx context.Context) error {
	return c.send(ctx, &Segment{
		Seq:    c.localNext(),
		Ack:    c.rcv.Expected(),
		Flags:  FlagACK,
		Window: c.selfWindow(),
	})
}

// send 发送报文, 网络拒绝时退避重试直到成功或 ctx 结束
func (c *Conn) send(ctx context.Context, seg *Segment) error {
	b := seg.Encode()
	for {
		err := c.nw.Send(ctx, b)
		if err == nil {
			c.backoff.Hit()
			c.stats.SegmentsSent++
			return nil
		}

		c.stats.SendRetries++
		c.logger.Debug("网络发送失败, 退避重试", zap.Stringer("seg", seg), zap.Error(err))
		if werr := c.backoff.Miss(ctx); werr != nil {
			return werr
		}
	}
}

// localNext 本端下一个序列号, FIN 占用一个序列号
func (c *Conn) localNext() seqnum.Value {
	if c.finSent {
		return c.finSeq.Add(1)
	}
	return c.snd.Next()
}

func (c *Conn) selfWindow() uint16 {
	return uint16(c.rcv.Window())
}

// chooseISN 选择初始序列号
func (c *Conn) chooseISN() seqnum.Value {
	switch {
	case c.config.ISNGenerator != nil:
		return seqnum.Value(c.config.ISNGenerator())
	case c.config.FixedISN:
		return STCPFixedISN
	default:
		return seqnum.Value(rand.Intn(STCPISNRange))
	}
}

// establish 握手完成, 初始化窗口
func (c *Conn) establish(peerWindow uint16) {
	c.snd.Reset(c.isn.Add(1))
	c.rcv.Reset(c.peerISN.Add(1))
	c.peerWindow = int(peerWindow)
	c.retransmitCount = 0
	c.setState(StateEstablished)
	c.logger.Info("连接已建立",
		zap.Uint32("isn", uint32(c.isn)),
		zap.Uint32("peer_isn", uint32(c.peerISN)))
}

// =============================================================================
// 统计
// =============================================================================

// publish 发布统计快照
func (c *Conn) publish() {
	s := c.stats
	s.State = c.state.String()
	s.Synchronized = c.state.synchronized()
	s.InitialSeq = uint32(c.isn)
	s.PeerInitialSeq = uint32(c.peerISN)
	s.SendBase = uint32(c.snd.Base())
	s.NextSeq = uint32(c.localNext())
	s.ExpectedSeq = uint32(c.rcv.Expected())
	s.PeerWindow = c.peerWindow
	s.SelfWindow = c.rcv.Window()
	s.Outstanding = c.snd.Outstanding()
	s.RetransmitCount = c.retransmitCount
	s.FinRetransmitCount = c.finRetransmitCount
	s.TimerArmed = c.timer.Armed()
	s.SmoothedRTT = c.rtt.smoothed
	s.RTTVariance = c.rtt.variance
	s.MinRTT = c.rtt.min
	s.LatestRTT = c.rtt.latest
	s.RTTSamples = c.rtt.samples
	s.Uptime = time.Since(c.startTime)

	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()
}

// GetStats 获取统计快照
func (c *Conn) GetStats() STCPStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// GetState 获取状态
func (c *Conn) GetState() string {
	return c.GetStats().State
}
