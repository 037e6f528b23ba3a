package evaluator

import (
	"fmt"
	"time"

	"staywatch/internal/models"
	"staywatch/internal/registry"

	"go.uber.org/zap"
)

// BookingContext 评估时的预订上下文（由 worker 从预订缓存取得）
type BookingContext struct {
	Active    *models.Booking     // 当前生效预订；没有为 nil
	Conflicts [][2]models.Booking // 检测到的双重预订
}

// Decision 评估结果
// Intents 中状态转换始终排在派生动作之前；
// LockRecord 为标签解析产生的门锁事件，由 worker 追加日志（评估器不做 I/O）
type Decision struct {
	Intents    []models.Intent
	LockRecord *models.LockEvent
}

// Evaluator 规则评估器
// (PropertyState, CanonicalEvent, 预订上下文) 到指令列表的纯决策函数：
// 不做任何外部调用，仅修改 state 上的去抖跟踪字段
type Evaluator struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// New 创建规则评估器
func New(reg *registry.Registry, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		registry: reg,
		logger:   logger,
	}
}

// Evaluate 评估单条事件，按优先级执行各规则
// 乱序到达：时间戳低于当前快照的读数不影响状态（last-writer-by-timestamp）
func (e *Evaluator) Evaluate(state *models.PropertyState, event *models.CanonicalEvent, bctx BookingContext, prop models.Property) Decision {
	var d Decision
	now := event.Timestamp

	// 双重预订始终上报为配置冲突，从不静默取舍
	d.Intents = append(d.Intents, e.bookingConflicts(bctx, state, now)...)

	if event.IsSensorReading() {
		merged := state.LastReading.Merge(snapshotFromEvent(event))
		if !merged {
			e.logger.Debug("Stale reading ignored",
				zap.String("property_id", state.PropertyID),
				zap.Time("event_ts", event.Timestamp),
				zap.Time("snapshot_ts", state.LastReading.Timestamp),
			)
			d.Intents = orderIntents(d.Intents)
			return d
		}
	}

	switch event.Type {
	case models.EventDeviceCount:
		d.Intents = append(d.Intents, e.evalOccupancy(state, event, bctx, prop)...)
	case models.EventNoise:
		d.Intents = append(d.Intents, e.evalParty(state, event, bctx, prop)...)
	case models.EventMotion:
		d.Intents = append(d.Intents, e.evalVacantSecurity(state, event, prop)...)
	case models.EventSmoke:
		d.Intents = append(d.Intents, e.evalSafety(state, event, prop)...)
	case models.EventLockGrant:
		d.Intents = append(d.Intents, e.evalAuthorizedEntry(state, event)...)
	case models.EventTagTap:
		tagDecision := e.evalTagTap(state, event, bctx, prop)
		d.Intents = append(d.Intents, tagDecision.Intents...)
		d.LockRecord = tagDecision.LockRecord
	case models.EventBookingTick:
		d.Intents = append(d.Intents, e.evalTurnover(state, bctx, now)...)
	}

	// 设备数归零确认窗口在每条事件上复查（不必等下一条 device_count 读数）
	d.Intents = append(d.Intents, e.checkVacantConfirmation(state, now, prop)...)

	d.Intents = orderIntents(d.Intents)
	return d
}

// bookingConflicts 双重预订上报为配置冲突报警
func (e *Evaluator) bookingConflicts(bctx BookingContext, state *models.PropertyState, now time.Time) []models.Intent {
	if len(bctx.Conflicts) == 0 {
		return nil
	}
	if state.FindOpenAlert(models.AlertConfigConflict) != nil {
		return nil
	}

	c := bctx.Conflicts[0]
	msg := fmt.Sprintf("overlapping bookings %s and %s", c[0].BookingID, c[1].BookingID)
	return []models.Intent{
		models.MustIntent(models.IntentRaiseAlert, state.PropertyID, models.AlertPayload{
			Kind:     models.AlertConfigConflict,
			Severity: 1,
			Message:  msg,
			At:       now,
		}, now),
		models.MustIntent(models.IntentNotify, state.PropertyID, models.NotifyPayload{
			Severity: 1,
			Message:  "booking calendar conflict: " + msg,
		}, now),
	}
}

// snapshotFromEvent 从读数事件构建快照片段
func snapshotFromEvent(event *models.CanonicalEvent) models.ReadingSnapshot {
	return models.ReadingSnapshot{
		Timestamp:   event.Timestamp,
		NoiseDB:     event.NoiseDB,
		DeviceCount: event.DeviceCount,
		Motion:      event.Motion,
		Smoke:       event.Smoke,
		Temperature: event.Temperature,
		Humidity:    event.Humidity,
	}
}

// orderIntents 状态变更指令排在派生动作之前
// 升级调度器与分发器由此观察到一致的状态
func orderIntents(intents []models.Intent) []models.Intent {
	if len(intents) < 2 {
		return intents
	}
	ordered := make([]models.Intent, 0, len(intents))
	for _, in := range intents {
		if in.Kind.IsStateChange() {
			ordered = append(ordered, in)
		}
	}
	for _, in := range intents {
		if !in.Kind.IsStateChange() {
			ordered = append(ordered, in)
		}
	}
	return ordered
}
