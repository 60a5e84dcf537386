// =============================================================================
// 文件: internal/transport/stcp_dupfilter.go
// 描述: 重复数据报文检测 (布隆过滤器), 仅用于统计
// =============================================================================
package transport

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
)

// duplicateFilter 以 (seq, len) 为键记录已见过的数据报文
// 误报只影响统计, 不参与收包判定
type duplicateFilter struct {
	filter   *bloom.BloomFilter
	capacity uint
	count    uint
	key      [8]byte
}

func newDuplicateFilter(capacity uint) *duplicateFilter {
	if capacity == 0 {
		capacity = STCPDuplicateFilterSize
	}
	return &duplicateFilter{
		filter:   bloom.NewWithEstimates(capacity, STCPDuplicateFilterFPRate),
		capacity: capacity,
	}
}

// Seen 记录报文, 之前已出现过则返回 true
func (f *duplicateFilter) Seen(seg *Segment) bool {
	binary.BigEndian.PutUint32(f.key[0:4], uint32(seg.Seq))
	binary.BigEndian.PutUint32(f.key[4:8], uint32(len(seg.Payload)))

	if f.count >= f.capacity {
		f.filter.ClearAll()
		f.count = 0
	}
	if f.filter.TestAndAdd(f.key[:]) {
		return true
	}
	f.count++
	return false
}
