// =============================================================================
// 文件: internal/transport/stcp_types.go
// 描述: STCP 可靠字节流传输 - 统一类型定义 (常量/状态/配置/错误/统计)
// =============================================================================
package transport

import (
	"time"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

// STCP 协议常量
const (
	// 固定首部沿用 TCP 布局: Ports(4) + Seq(4) + Ack(4) + Offset(1) + Flags(1) + Window(2) + Checksum(2) + Urgent(2)
	// 端口/校验和/紧急指针恒为 0, 解码时忽略
	STCPHeaderSize    = header.TCPMinimumSize
	STCPMaxOptionSize = 40

	STCPDefaultMSS        = 536
	STCPDefaultWindowSize = 3072
	STCPMaxWindowSize     = 65535
	STCPDefaultMaxRetries = 6

	// 超时以时间单位计
	STCPDefaultTimeUnit        = time.Second
	STCPHandshakeTimeoutUnits  = 2
	STCPRetransmitTimeoutUnits = 1

	// 初始序列号
	STCPISNRange = 256
	STCPFixedISN = 1

	// 网络发送退避
	STCPDefaultSendBackoffMin = 5 * time.Millisecond
	STCPDefaultSendBackoffMax = 500 * time.Millisecond

	STCPInboundQueueSize      = 64
	STCPDuplicateFilterSize   = 4096
	STCPDuplicateFilterFPRate = 0.01
)

// 标志位
const (
	FlagFIN uint8 = header.TCPFlagFin
	FlagSYN uint8 = header.TCPFlagSyn
	FlagACK uint8 = header.TCPFlagAck
)

// STCPState 连接状态
type STCPState uint8

const (
	StateClosed STCPState = iota
	StateSynSent
	StateSynRcvd
	StateSynAckSent
	StateSynAckRcvd
	StateAckSent
	StateAckRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateLastAck
	StateClosing
	StateTimeWait
	StateDone
)

var stateNames = [...]string{
	"CLOSED", "SYN_SENT", "SYN_RCVD", "SYN_ACK_SENT", "SYN_ACK_RCVD",
	"ACK_SENT", "ACK_RCVD", "ESTABLISHED", "FIN_WAIT_1", "FIN_WAIT_2",
	"CLOSE_WAIT", "LAST_ACK", "CLOSING", "TIME_WAIT", "DONE",
}

func (s STCPState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// canSendData 是否允许发送应用数据
func (s STCPState) canSendData() bool {
	return s == StateEstablished || s == StateCloseWait
}

// synchronized 握手已完成且尚未结束
func (s STCPState) synchronized() bool {
	switch s {
	case StateEstablished, StateFinWait1, StateFinWait2,
		StateCloseWait, StateLastAck, StateClosing:
		return true
	}
	return false
}

// OpenMode 打开方式
type OpenMode uint8

const (
	OpenActive OpenMode = iota
	OpenPassive
)

func (m OpenMode) String() string {
	if m == OpenPassive {
		return "passive"
	}
	return "active"
}

// 错误定义
var (
	ErrHandshakeTimeout       = errors.New("stcp: 握手超时, 连接被拒绝")
	ErrRetransmissionExceeded = errors.New("stcp: 重传次数超过上限, 连接中止")
	ErrMalformedSegment       = errors.New("stcp: 报文格式错误")
	ErrOutOfWindowSegment     = errors.New("stcp: 报文序列号超出窗口")
	ErrConnClosed             = errors.New("stcp: 连接已关闭")
	ErrInvalidConfig          = errors.New("stcp: 配置无效")
	ErrNoPeer                 = errors.New("stcp: 对端地址未知")
)

// STCPConfig 连接配置
type STCPConfig struct {
	MSS        int
	WindowSize int
	MaxRetries int

	// 时间单位, 握手与重传超时均以此为基准
	TimeUnit               time.Duration
	HandshakeTimeoutUnits  int
	RetransmitTimeoutUnits int

	// 固定初始序列号模式, 便于复现
	FixedISN bool
	// 自定义初始序列号生成器, 优先于 FixedISN
	ISNGenerator func() uint32

	SendBackoffMin time.Duration
	SendBackoffMax time.Duration

	DuplicateFilterSize uint
}

// DefaultSTCPConfig 默认配置
func DefaultSTCPConfig() *STCPConfig {
	return &STCPConfig{
		MSS:                    STCPDefaultMSS,
		WindowSize:             STCPDefaultWindowSize,
		MaxRetries:             STCPDefaultMaxRetries,
		TimeUnit:               STCPDefaultTimeUnit,
		HandshakeTimeoutUnits:  STCPHandshakeTimeoutUnits,
		RetransmitTimeoutUnits: STCPRetransmitTimeoutUnits,
		SendBackoffMin:         STCPDefaultSendBackoffMin,
		SendBackoffMax:         STCPDefaultSendBackoffMax,
		DuplicateFilterSize:    STCPDuplicateFilterSize,
	}
}

// Validate 校验配置
func (c *STCPConfig) Validate() error {
	if c.MSS <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "mss 必须为正数: %d", c.MSS)
	}
	if c.WindowSize < c.MSS || c.WindowSize > STCPMaxWindowSize {
		return errors.Wrapf(ErrInvalidConfig, "window_size 必须在 [%d, %d] 之间: %d",
			c.MSS, STCPMaxWindowSize, c.WindowSize)
	}
	if c.MaxRetries < 1 {
		return errors.Wrapf(ErrInvalidConfig, "max_retries 至少为 1: %d", c.MaxRetries)
	}
	if c.TimeUnit <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "time_unit 必须为正数: %v", c.TimeUnit)
	}
	if c.HandshakeTimeoutUnits < 1 || c.RetransmitTimeoutUnits < 1 {
		return errors.Wrap(ErrInvalidConfig, "超时单位数至少为 1")
	}
	if c.SendBackoffMin <= 0 || c.SendBackoffMax < c.SendBackoffMin {
		return errors.Wrapf(ErrInvalidConfig, "发送退避区间无效: [%v, %v]",
			c.SendBackoffMin, c.SendBackoffMax)
	}
	return nil
}

// HandshakeTimeout 单次握手等待时长
func (c *STCPConfig) HandshakeTimeout() time.Duration {
	return c.TimeUnit * time.Duration(c.HandshakeTimeoutUnits)
}

// RetransmitTimeout 重传超时
func (c *STCPConfig) RetransmitTimeout() time.Duration {
	return c.TimeUnit * time.Duration(c.RetransmitTimeoutUnits)
}

// STCPStats 连接统计快照
type STCPStats struct {
	State        string
	Synchronized bool

	InitialSeq     uint32
	PeerInitialSeq uint32
	SendBase       uint32
	NextSeq        uint32
	ExpectedSeq    uint32

	PeerWindow  int
	SelfWindow  int
	Outstanding int

	RetransmitCount    int
	FinRetransmitCount int
	TimerArmed         bool

	HandshakeAttempts uint64
	SegmentsSent      uint64
	SegmentsReceived  uint64
	BytesSent         uint64
	BytesAcked        uint64
	BytesDelivered    uint64
	Retransmissions   uint64
	Timeouts          uint64
	SendRetries       uint64

	DuplicateSegments   uint64
	OutOfOrderSegments  uint64
	OutOfWindowSegments uint64
	MalformedSegments   uint64

	SmoothedRTT time.Duration
	RTTVariance time.Duration
	MinRTT      time.Duration
	LatestRTT   time.Duration
	RTTSamples  uint64

	Uptime time.Duration
}
