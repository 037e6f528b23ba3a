package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, _ := b.Allow(t0)
		assert.True(t, allowed)
		b.RecordFailure(t0)
	}

	assert.True(t, b.IsOpen(t0))
	allowed, notify := b.Allow(t0.Add(time.Second))
	assert.False(t, allowed)
	assert.True(t, notify)
}

func TestCircuitBreaker_NotifiesOncePerOpenWindow(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(1, time.Minute)
	b.RecordFailure(t0)

	_, notify := b.Allow(t0.Add(time.Second))
	assert.True(t, notify)

	// 同一熔断窗口内不再通知
	_, notify = b.Allow(t0.Add(2 * time.Second))
	assert.False(t, notify)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(1, time.Minute)
	b.RecordFailure(t0)

	// 冷却期满放行探测
	allowed, _ := b.Allow(t0.Add(time.Minute))
	assert.True(t, allowed)

	// 探测成功闭合
	b.RecordSuccess()
	allowed, _ = b.Allow(t0.Add(2 * time.Minute))
	assert.True(t, allowed)
	assert.False(t, b.IsOpen(t0.Add(2*time.Minute)))
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(1, time.Minute)
	b.RecordFailure(t0)

	t1 := t0.Add(time.Minute)
	allowed, _ := b.Allow(t1)
	assert.True(t, allowed)

	// 探测未决期间并发到达的调用被抑制，且不触发通知
	allowed, notify := b.Allow(t1.Add(time.Second))
	assert.False(t, allowed)
	assert.False(t, notify)

	// 探测成功闭合后恢复放行
	b.RecordSuccess()
	allowed, _ = b.Allow(t1.Add(2 * time.Second))
	assert.True(t, allowed)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(1, time.Minute)
	b.RecordFailure(t0)

	t1 := t0.Add(time.Minute)
	allowed, _ := b.Allow(t1)
	assert.True(t, allowed)

	// 探测失败重新打开，通知配额重置
	b.RecordFailure(t1)
	allowed, notify := b.Allow(t1.Add(time.Second))
	assert.False(t, allowed)
	assert.True(t, notify)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(3, time.Minute)

	b.RecordFailure(t0)
	b.RecordFailure(t0)
	b.RecordSuccess()
	b.RecordFailure(t0)
	b.RecordFailure(t0)

	assert.False(t, b.IsOpen(t0))
}
