package dispatcher

import (
	"sync"
	"time"
)

// breakerState 熔断器状态
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker 厂家熔断器
// 连续失败达到阈值后进入 open，冷却期内抑制调用；
// 冷却期满进入 half-open 放行单次探测，成功则闭合
type CircuitBreaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	maxFailures  int
	cooldown     time.Duration
	openedAt     time.Time
	notifiedOpen bool // 本次熔断窗口是否已通知
	probing      bool // half-open 下探测是否已在途
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:       breakerClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Allow 判断是否放行调用
// 返回第二个值表示本次熔断窗口是否应发出一次性通知
func (b *CircuitBreaker) Allow(now time.Time) (allowed bool, notify bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true, false
	case breakerOpen:
		if now.Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			b.probing = true
			return true, false
		}
		if !b.notifiedOpen {
			b.notifiedOpen = true
			return false, true
		}
		return false, false
	case breakerHalfOpen:
		// half-open 只放行一个探测；探测未决期间到达的调用被抑制
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, false
	}
	return false, false
}

// RecordSuccess 记录成功，闭合熔断器
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.notifiedOpen = false
	b.probing = false
}

// RecordFailure 记录失败；连续失败达到阈值则打开熔断器
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		b.notifiedOpen = false
		b.probing = false
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = 0
		b.notifiedOpen = false
	}
}

// IsOpen 判断熔断器是否处于打开状态
func (b *CircuitBreaker) IsOpen(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && now.Sub(b.openedAt) < b.cooldown
}
