// =============================================================================
// 文件: internal/transport/stcp_timer.go
// 描述: STCP 重传定时器 - 到期事件经通道投递给控制循环
// =============================================================================
package transport

import (
	"sync"
	"time"
)

// retransmitTimer 单一重传定时器
// 每次 Arm 前先 Disarm, 到期回调只投递代数, 由控制循环校验后处理
type retransmitTimer struct {
	mu    sync.Mutex
	t     *time.Timer
	gen   uint64
	armed bool

	fire chan uint64
	stop chan struct{}
	once sync.Once
}

func newRetransmitTimer() *retransmitTimer {
	return &retransmitTimer{
		fire: make(chan uint64),
		stop: make(chan struct{}),
	}
}

// C 到期事件通道
func (rt *retransmitTimer) C() <-chan uint64 {
	return rt.fire
}

// Arm 启动定时器, 旧定时器先被撤销
func (rt *retransmitTimer) Arm(d time.Duration) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.disarmLocked()
	rt.armed = true
	gen := rt.gen
	rt.t = time.AfterFunc(d, func() {
		select {
		case rt.fire <- gen:
		case <-rt.stop:
		}
	})
}

// Disarm 撤销定时器
func (rt *retransmitTimer) Disarm() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.disarmLocked()
}

func (rt *retransmitTimer) disarmLocked() {
	if rt.t != nil {
		rt.t.Stop()
		rt.t = nil
	}
	rt.armed = false
	rt.gen++
}

// Expired 校验到期事件, 过期代数返回 false
func (rt *retransmitTimer) Expired(gen uint64) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.armed || gen != rt.gen {
		return false
	}
	rt.armed = false
	rt.t = nil
	return true
}

// Armed 是否已启动
func (rt *retransmitTimer) Armed() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.armed
}

// Stop 永久停止, 释放阻塞中的回调
func (rt *retransmitTimer) Stop() {
	rt.Disarm()
	rt.once.Do(func() { close(rt.stop) })
}
