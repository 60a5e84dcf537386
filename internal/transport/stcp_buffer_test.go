// =============================================================================
// 文件: internal/transport/stcp_buffer_test.go
// 描述: 发送/接收窗口测试
// =============================================================================
package transport

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/netstack/tcpip/seqnum"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func TestSendBufferSegmentation(t *testing.T) {
	buf := NewSendBuffer(STCPDefaultWindowSize, 101)
	data := pattern(1000, 0)

	chunks := buf.Push(data, STCPDefaultMSS)
	if len(chunks) != 2 {
		t.Fatalf("分片数量错误: got %d, want 2", len(chunks))
	}
	if chunks[0].Seq != 101 || len(chunks[0].Data) != 536 {
		t.Errorf("第一片错误: seq=%d len=%d", chunks[0].Seq, len(chunks[0].Data))
	}
	if chunks[1].Seq != 637 || len(chunks[1].Data) != 464 {
		t.Errorf("第二片错误: seq=%d len=%d", chunks[1].Seq, len(chunks[1].Data))
	}
	if !bytes.Equal(append(chunks[0].Data, chunks[1].Data...), data) {
		t.Error("分片内容与原数据不一致")
	}
	if buf.Next() != 1101 || buf.Outstanding() != 1000 {
		t.Errorf("next/outstanding 错误: next=%d outstanding=%d", buf.Next(), buf.Outstanding())
	}
}

func TestSendBufferAvailable(t *testing.T) {
	buf := NewSendBuffer(3072, 0)

	if got := buf.Available(65535); got != 3072 {
		t.Errorf("空缓冲区可用字节: got %d, want 3072", got)
	}
	if got := buf.Available(1000); got != 1000 {
		t.Errorf("对端窗口限制: got %d, want 1000", got)
	}

	// 对端窗口包含已发送未确认的数据
	buf.Push(pattern(600, 0), 536)
	if got := buf.Available(1000); got != 400 {
		t.Errorf("对端窗口扣除未确认字节: got %d, want 400", got)
	}
	if got := buf.Available(600); got != 0 {
		t.Errorf("窗口已用尽: got %d, want 0", got)
	}
	if got := buf.Available(500); got != 0 {
		t.Errorf("窗口缩小后不应为负: got %d, want 0", got)
	}

	buf.Push(pattern(2400, 0), 536)
	if got := buf.Available(65535); got != 72 {
		t.Errorf("剩余容量: got %d, want 72", got)
	}
	if got := buf.Available(0); got != 0 {
		t.Errorf("零窗口: got %d, want 0", got)
	}

	// 超出容量的部分被截断
	chunks := buf.Push(pattern(500, 0), 536)
	if len(chunks) != 1 || len(chunks[0].Data) != 72 {
		t.Errorf("截断错误: %d 片", len(chunks))
	}
	if buf.Outstanding() != 3072 {
		t.Errorf("未确认字节不应超过容量: %d", buf.Outstanding())
	}
}

func TestSendBufferAck(t *testing.T) {
	buf := NewSendBuffer(3072, 1000)
	buf.Push(pattern(1500, 0), 536)

	if _, ok := buf.Ack(1000); ok {
		t.Error("ack == base 不应推进")
	}
	if _, ok := buf.Ack(2501); ok {
		t.Error("ack > next 不应接受")
	}

	n, ok := buf.Ack(1536)
	if !ok || n != 536 {
		t.Fatalf("Ack 失败: n=%d ok=%v", n, ok)
	}
	if buf.Base() != 1536 || buf.Outstanding() != 964 {
		t.Errorf("base/outstanding 错误: base=%d outstanding=%d", buf.Base(), buf.Outstanding())
	}

	// 旧 ACK 被忽略, base 不回退
	if _, ok := buf.Ack(1200); ok {
		t.Error("旧 ACK 不应接受")
	}
	if buf.Base() != 1536 {
		t.Errorf("base 回退: %d", buf.Base())
	}
}

func TestSendBufferUnackedRestamp(t *testing.T) {
	buf := NewSendBuffer(3072, 101)
	data := pattern(1000, 7)
	buf.Push(data, 536)
	buf.Ack(301)

	chunks := buf.Unacked(536)
	if len(chunks) != 2 {
		t.Fatalf("重传分片数量错误: %d", len(chunks))
	}
	if chunks[0].Seq != 301 || len(chunks[0].Data) != 536 {
		t.Errorf("第一片: seq=%d len=%d", chunks[0].Seq, len(chunks[0].Data))
	}
	if chunks[1].Seq != 837 || len(chunks[1].Data) != 264 {
		t.Errorf("第二片: seq=%d len=%d", chunks[1].Seq, len(chunks[1].Data))
	}
	if !bytes.Equal(append(chunks[0].Data, chunks[1].Data...), data[200:]) {
		t.Error("重传内容不一致")
	}
}

func TestSendBufferRingWrap(t *testing.T) {
	buf := NewSendBuffer(1024, seqnum.Value(0xFFFFFF00))
	for round := 0; round < 20; round++ {
		data := pattern(700, byte(round))
		chunks := buf.Push(data, 536)

		var got []byte
		for _, c := range buf.Unacked(536) {
			got = append(got, c.Data...)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("第 %d 轮未确认数据不一致", round)
		}
		if len(chunks) == 0 || chunks[0].Seq != buf.Base() {
			t.Fatalf("第 %d 轮分片序列号错误", round)
		}
		if _, ok := buf.Ack(buf.Next()); !ok {
			t.Fatalf("第 %d 轮确认失败", round)
		}
	}
	if buf.Outstanding() != 0 {
		t.Errorf("全部确认后仍有未确认数据: %d", buf.Outstanding())
	}
}

func TestRecvBufferInOrder(t *testing.T) {
	buf := NewRecvBuffer(3072, 500)

	res := buf.Receive(500, []byte("hello"))
	if res.Class != RecvInOrder {
		t.Fatalf("分类错误: %s", res.Class)
	}
	if string(res.Delivered) != "hello" {
		t.Errorf("交付数据错误: %q", res.Delivered)
	}
	if buf.Expected() != 505 {
		t.Errorf("expected 错误: %d", buf.Expected())
	}
	if buf.Window() != 3072 {
		t.Errorf("窗口错误: %d", buf.Window())
	}
}

func TestRecvBufferReorder(t *testing.T) {
	buf := NewRecvBuffer(3072, 1000)
	first := pattern(50, 1)
	second := pattern(80, 2)

	res := buf.Receive(1050, second)
	if res.Class != RecvFuture || len(res.Delivered) != 0 {
		t.Fatalf("未来报文不应交付: class=%s delivered=%d", res.Class, len(res.Delivered))
	}
	if buf.Expected() != 1000 {
		t.Errorf("expected 不应变化: %d", buf.Expected())
	}
	if buf.Window() != 3072-80 {
		t.Errorf("窗口应缩小: %d", buf.Window())
	}

	res = buf.Receive(1000, first)
	if res.Class != RecvInOrder {
		t.Fatalf("分类错误: %s", res.Class)
	}
	if !bytes.Equal(res.Delivered, append(append([]byte(nil), first...), second...)) {
		t.Errorf("应一次交付连续的 130 字节, got %d", len(res.Delivered))
	}
	if buf.Expected() != 1130 {
		t.Errorf("expected 错误: %d", buf.Expected())
	}
	if buf.Window() != 3072 {
		t.Errorf("窗口应恢复: %d", buf.Window())
	}
}

func TestRecvBufferDuplicate(t *testing.T) {
	buf := NewRecvBuffer(3072, 0)
	data := []byte("once")

	res := buf.Receive(0, data)
	if string(res.Delivered) != "once" {
		t.Fatalf("首次交付错误: %q", res.Delivered)
	}

	res = buf.Receive(0, data)
	if res.Class != RecvStale || len(res.Delivered) != 0 {
		t.Errorf("重复报文不应再次交付: class=%s delivered=%q", res.Class, res.Delivered)
	}

	// 重复的未来报文只保存一次
	buf.Receive(10, []byte("xx"))
	res = buf.Receive(10, []byte("xx"))
	if res.Stored != 0 || buf.Held() != 2 {
		t.Errorf("重复未来报文: stored=%d held=%d", res.Stored, buf.Held())
	}
}

func TestRecvBufferStaleTail(t *testing.T) {
	buf := NewRecvBuffer(3072, 100)
	buf.Receive(100, []byte("abcde"))

	res := buf.Receive(103, []byte("defgh"))
	if res.Class != RecvStaleTail {
		t.Fatalf("分类错误: %s", res.Class)
	}
	if string(res.Delivered) != "fgh" {
		t.Errorf("只应交付新尾部: %q", res.Delivered)
	}
	if buf.Expected() != 108 {
		t.Errorf("expected 错误: %d", buf.Expected())
	}
}

func TestRecvBufferOutOfWindow(t *testing.T) {
	buf := NewRecvBuffer(1024, 5000)

	for _, seq := range []uint32{5000 + 1024, 5000 + 100000, 5000 - 1025, 0} {
		res := buf.Receive(seqnum.Value(seq), []byte("z"))
		if res.Class != RecvOutOfWindow {
			t.Errorf("seq=%d 分类错误: %s", seq, res.Class)
		}
	}

	if res := buf.Receive(5000+1023, []byte("z")); res.Class != RecvFuture {
		t.Errorf("窗口末端应为 future: %s", res.Class)
	}
	if res := buf.Receive(5000-1024, []byte("z")); res.Class != RecvStale {
		t.Errorf("旧窗口起点应为 stale: %s", res.Class)
	}
}

func TestRecvBufferClipAndWindow(t *testing.T) {
	buf := NewRecvBuffer(16, 0)

	res := buf.Receive(10, pattern(20, 0))
	if res.Stored != 6 {
		t.Errorf("应裁剪到缓冲区末端: stored=%d", res.Stored)
	}

	// 填满除 0 以外的所有位置, 窗口最小为 1
	buf.Receive(1, pattern(9, 0))
	if buf.Window() != 1 {
		t.Fatalf("窗口应为 1: %d", buf.Window())
	}

	// 最后一个空位到达后全部交付, 窗口恢复
	res = buf.Receive(0, []byte{0})
	if len(res.Delivered) != 16 || buf.Window() != 16 {
		t.Errorf("填满后应全部交付: delivered=%d window=%d", len(res.Delivered), buf.Window())
	}
}

func TestRecvBufferWraparound(t *testing.T) {
	start := seqnum.Value(0xFFFFFFFF - 100)
	buf := NewRecvBuffer(512, start)
	data := pattern(300, 3)

	buf.Receive(start.Add(150), data[150:])
	res := buf.Receive(start, data[:150])
	if !bytes.Equal(res.Delivered, data) {
		t.Fatalf("跨越回绕的重组失败: %d 字节", len(res.Delivered))
	}
	if buf.Expected() != start.Add(300) {
		t.Errorf("expected 错误: %d", buf.Expected())
	}
}

func TestRecvBufferRandomReassembly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := pattern(20000, 9)
	const mss = 536
	const capacity = 3072

	type piece struct {
		off int
		b   []byte
	}
	var pieces []piece
	for off := 0; off < len(data); off += mss {
		end := off + mss
		if end > len(data) {
			end = len(data)
		}
		pieces = append(pieces, piece{off, data[off:end]})
	}

	buf := NewRecvBuffer(capacity, 7)
	var out []byte
	next := 0
	for next < len(pieces) {
		// 只在窗口内打乱, 模拟有限的乱序
		hi := next + 5
		if hi > len(pieces) {
			hi = len(pieces)
		}
		batch := append([]piece(nil), pieces[next:hi]...)
		rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
		for _, p := range batch {
			res := buf.Receive(seqnum.Value(7).Add(seqnum.Size(p.off)), p.b)
			out = append(out, res.Delivered...)
			if buf.Held() > capacity {
				t.Fatalf("缓存超过容量: %d", buf.Held())
			}
		}
		next = hi
	}

	if !bytes.Equal(out, data) {
		t.Error("乱序重组结果与原数据不一致")
	}
}

func TestRecvBufferConsumeFIN(t *testing.T) {
	buf := NewRecvBuffer(3072, 41)
	buf.Receive(41, []byte("end"))
	buf.ConsumeFIN()
	if buf.Expected() != 45 {
		t.Errorf("FIN 应占用一个序列号: %d", buf.Expected())
	}
}
