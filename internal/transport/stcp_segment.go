// =============================================================================
// 文件: internal/transport/stcp_segment.go
// 描述: STCP 报文编解码 - 复用 TCP 首部布局
// =============================================================================
package transport

import (
	"fmt"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"
)

// Segment STCP 报文, 构造后不再修改
type Segment struct {
	Seq     seqnum.Value
	Ack     seqnum.Value
	Flags   uint8
	Window  uint16
	Options []byte
	Payload []byte
}

// Has 是否带有指定标志
func (s *Segment) Has(flag uint8) bool {
	return s.Flags&flag != 0
}

// Len 载荷长度
func (s *Segment) Len() int {
	return len(s.Payload)
}

// End 载荷之后的第一个序列号
func (s *Segment) End() seqnum.Value {
	return s.Seq.Add(seqnum.Size(len(s.Payload)))
}

// Encode 编码为数据报
// 选项按 4 字节对齐补零, 超出首部上限的部分被截断
func (s *Segment) Encode() []byte {
	opts := s.Options
	if len(opts) > STCPMaxOptionSize {
		opts = opts[:STCPMaxOptionSize]
	}
	hdrLen := STCPHeaderSize + (len(opts)+3)&^3

	buf := make([]byte, hdrLen+len(s.Payload))
	header.TCP(buf).Encode(&header.TCPFields{
		SeqNum:     uint32(s.Seq),
		AckNum:     uint32(s.Ack),
		DataOffset: uint8(hdrLen),
		Flags:      s.Flags,
		WindowSize: s.Window,
	})
	copy(buf[STCPHeaderSize:], opts)
	copy(buf[hdrLen:], s.Payload)
	return buf
}

// DecodeSegment 解码数据报
func DecodeSegment(b []byte) (*Segment, error) {
	if len(b) < STCPHeaderSize {
		return nil, errors.Wrapf(ErrMalformedSegment, "长度 %d 小于首部 %d", len(b), STCPHeaderSize)
	}

	h := header.TCP(b)
	offset := int(h.DataOffset())
	if offset < STCPHeaderSize || offset > len(b) {
		return nil, errors.Wrapf(ErrMalformedSegment, "数据偏移 %d 无效 (长度 %d)", offset, len(b))
	}

	seg := &Segment{
		Seq:    seqnum.Value(h.SequenceNumber()),
		Ack:    seqnum.Value(h.AckNumber()),
		Flags:  h.Flags(),
		Window: h.WindowSize(),
	}
	if offset > STCPHeaderSize {
		seg.Options = append([]byte(nil), b[STCPHeaderSize:offset]...)
	}
	if offset < len(b) {
		seg.Payload = append([]byte(nil), b[offset:]...)
	}
	return seg, nil
}

// flagString 标志位可读形式
func flagString(flags uint8) string {
	s := ""
	if flags&FlagSYN != 0 {
		s += "S"
	}
	if flags&FlagFIN != 0 {
		s += "F"
	}
	if flags&FlagACK != 0 {
		s += "A"
	}
	if s == "" {
		s = "-"
	}
	return s
}

func (s *Segment) String() string {
	return fmt.Sprintf("[%s seq=%d ack=%d win=%d len=%d]",
		flagString(s.Flags), uint32(s.Seq), uint32(s.Ack), s.Window, len(s.Payload))
}
