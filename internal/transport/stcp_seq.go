// =============================================================================
// 文件: internal/transport/stcp_seq.go
// 描述: 32 位序列号回绕运算
// =============================================================================
package transport

import (
	"github.com/google/netstack/tcpip/seqnum"
)

// seqInWindow v 是否位于 [first, first+size) 内 (模 2^32)
func seqInWindow(v, first seqnum.Value, size int) bool {
	if size <= 0 {
		return false
	}
	return v.InWindow(first, seqnum.Size(size))
}

// ackAcceptable ack 是否位于 (base, next] 内
func ackAcceptable(ack, base, next seqnum.Value) bool {
	return ack.InRange(base.Add(1), next.Add(1))
}

// ackNotStale ack 是否位于 [base, next] 内, 用于接受对端窗口更新
func ackNotStale(ack, base, next seqnum.Value) bool {
	return ack.InRange(base, next.Add(1))
}

// seqDistance 从 from 向前到 to 的距离
func seqDistance(from, to seqnum.Value) int {
	return int(from.Size(to))
}
