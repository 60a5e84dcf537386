// =============================================================================
// 文件: internal/transport/stcp_segment_test.go
// 描述: STCP 报文编解码与序列号运算测试
// =============================================================================
package transport

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"
)

func TestSegmentEncodeDecode(t *testing.T) {
	original := &Segment{
		Seq:     12345,
		Ack:     67890,
		Flags:   FlagACK | FlagFIN,
		Window:  3072,
		Payload: []byte("Hello, STCP!"),
	}

	encoded := original.Encode()
	if len(encoded) != STCPHeaderSize+len(original.Payload) {
		t.Fatalf("编码长度错误: got %d, want %d", len(encoded), STCPHeaderSize+len(original.Payload))
	}

	decoded, err := DecodeSegment(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if decoded.Seq != original.Seq {
		t.Errorf("Seq 不匹配: got %d, want %d", decoded.Seq, original.Seq)
	}
	if decoded.Ack != original.Ack {
		t.Errorf("Ack 不匹配: got %d, want %d", decoded.Ack, original.Ack)
	}
	if decoded.Flags != original.Flags {
		t.Errorf("Flags 不匹配: got %d, want %d", decoded.Flags, original.Flags)
	}
	if decoded.Window != original.Window {
		t.Errorf("Window 不匹配: got %d, want %d", decoded.Window, original.Window)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("Payload 不匹配: got %q, want %q", decoded.Payload, original.Payload)
	}
}

func TestSegmentWireLayout(t *testing.T) {
	seg := &Segment{Seq: 0x01020304, Ack: 0x0a0b0c0d, Flags: FlagSYN, Window: 0x1234}
	b := seg.Encode()

	if got := binary.BigEndian.Uint32(b[4:8]); got != 0x01020304 {
		t.Errorf("seq 字段错误: %#x", got)
	}
	if got := binary.BigEndian.Uint32(b[8:12]); got != 0x0a0b0c0d {
		t.Errorf("ack 字段错误: %#x", got)
	}
	if got := b[12] >> 4; got != 5 {
		t.Errorf("data offset 错误: got %d 个字, want 5", got)
	}
	if b[13] != FlagSYN {
		t.Errorf("flags 字段错误: %#x", b[13])
	}
	if got := binary.BigEndian.Uint16(b[14:16]); got != 0x1234 {
		t.Errorf("window 字段错误: %#x", got)
	}
}

func TestSegmentOptions(t *testing.T) {
	seg := &Segment{Seq: 1, Flags: FlagACK, Options: []byte{1, 2, 3}, Payload: []byte("data")}
	b := seg.Encode()

	// 选项补齐到 4 字节
	if len(b) != STCPHeaderSize+4+4 {
		t.Fatalf("编码长度错误: %d", len(b))
	}

	decoded, err := DecodeSegment(b)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if !bytes.Equal(decoded.Options, []byte{1, 2, 3, 0}) {
		t.Errorf("Options 不匹配: %v", decoded.Options)
	}
	if string(decoded.Payload) != "data" {
		t.Errorf("Payload 不匹配: %q", decoded.Payload)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := (&Segment{Seq: 1, Flags: FlagACK, Payload: []byte("abc")}).Encode()

	tests := []struct {
		name string
		data []byte
	}{
		{"空数据报", nil},
		{"短于首部", valid[:STCPHeaderSize-1]},
		{"偏移小于首部", func() []byte {
			b := append([]byte(nil), valid...)
			b[12] = 4 << 4
			return b
		}()},
		{"偏移超出长度", func() []byte {
			b := append([]byte(nil), valid...)
			b[12] = 15 << 4
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSegment(tt.data)
			if !errors.Is(err, ErrMalformedSegment) {
				t.Errorf("期望 ErrMalformedSegment, got %v", err)
			}
		})
	}
}

func TestDecodeCopiesPayload(t *testing.T) {
	b := (&Segment{Seq: 1, Payload: []byte("abc")}).Encode()
	seg, err := DecodeSegment(b)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	b[STCPHeaderSize] = 'x'
	if string(seg.Payload) != "abc" {
		t.Errorf("载荷不应引用原始数据报: %q", seg.Payload)
	}
}

func TestSeqInWindowWraparound(t *testing.T) {
	bases := []uint32{0, 1, 100, 1 << 31, 0xFFFFFFFF - 10, 0xFFFFFFFF}
	const n = STCPDefaultWindowSize

	for _, base := range bases {
		b := seqnum.Value(base)
		for _, delta := range []uint32{0, 1, n / 2, n - 1, n, n + 1, 1 << 31, 0xFFFFFFFF} {
			v := seqnum.Value(base + delta)
			want := delta < n
			if got := seqInWindow(v, b, n); got != want {
				t.Errorf("seqInWindow(base=%d, delta=%d) = %v, want %v", base, delta, got, want)
			}
		}
	}
}

func TestAckAcceptable(t *testing.T) {
	tests := []struct {
		ack, base, next uint32
		want            bool
	}{
		{101, 100, 200, true},
		{200, 100, 200, true},
		{100, 100, 200, false},
		{201, 100, 200, false},
		{99, 100, 200, false},
		{100, 100, 100, false},
		// 回绕
		{5, 0xFFFFFFF0, 10, true},
		{0xFFFFFFF0, 0xFFFFFFF0, 10, false},
		{11, 0xFFFFFFF0, 10, false},
	}

	for _, tt := range tests {
		got := ackAcceptable(seqnum.Value(tt.ack), seqnum.Value(tt.base), seqnum.Value(tt.next))
		if got != tt.want {
			t.Errorf("ackAcceptable(%d, %d, %d) = %v, want %v", tt.ack, tt.base, tt.next, got, tt.want)
		}
	}

	if !ackNotStale(100, 100, 200) || ackNotStale(99, 100, 200) {
		t.Error("ackNotStale 边界错误")
	}
}
