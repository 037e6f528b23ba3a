package consumer

import (
	"context"
	"time"

	"staywatch/internal/config"
	"staywatch/internal/evaluator"
	"staywatch/internal/models"
	"staywatch/internal/store"

	"go.uber.org/zap"
)

// BookingSource 预订上下文来源（booking.Poller 实现）
type BookingSource interface {
	Context(propertyID string, at time.Time) evaluator.BookingContext
}

// LockAppender 门锁事件日志接口（repository.EventsRepository 实现）
type LockAppender interface {
	AppendLockEvent(ctx context.Context, event *models.LockEvent) error
}

// Sink 出站指令接收方（dispatcher 实现）
type Sink interface {
	Enqueue(intent models.Intent)
}

// Processor 事件处理器
// 在站点 worker 内串行执行：取状态 → 评估 → 应用状态变更 → 转发动作指令
type Processor struct {
	sites    *config.Sites
	store    *store.Store
	eval     *evaluator.Evaluator
	bookings BookingSource
	lockLog  LockAppender
	sink     Sink
	logger   *zap.Logger
}

// NewProcessor 创建事件处理器
func NewProcessor(
	sites *config.Sites,
	st *store.Store,
	eval *evaluator.Evaluator,
	bookings BookingSource,
	lockLog LockAppender,
	sink Sink,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		sites:    sites,
		store:    st,
		eval:     eval,
		bookings: bookings,
		lockLog:  lockLog,
		sink:     sink,
		logger:   logger,
	}
}

// HandleEvent 处理单条规范化事件（必须在站点 worker 内调用）
func (p *Processor) HandleEvent(ctx context.Context, event *models.CanonicalEvent) {
	prop, ok := p.sites.Property(event.PropertyID)
	if !ok {
		p.logger.Warn("Event for unknown property skipped",
			zap.String("property_id", event.PropertyID),
			zap.String("event_id", event.EventID),
		)
		return
	}

	state := p.store.GetOrCreate(event.PropertyID, event.Timestamp)
	bctx := p.bookings.Context(event.PropertyID, event.Timestamp)

	decision := p.eval.Evaluate(state, event, bctx, prop)

	// 标签解析产生的门锁事件落日志（失败不阻断处理）
	if decision.LockRecord != nil {
		if err := p.lockLog.AppendLockEvent(ctx, decision.LockRecord); err != nil {
			p.logger.Error("Failed to append lock event",
				zap.String("property_id", event.PropertyID),
				zap.Error(err),
			)
		}
	}

	// 状态变更在本 worker 内先行应用，动作指令随后出站
	for _, intent := range decision.Intents {
		if intent.Kind.IsStateChange() {
			if err := p.store.Apply(ctx, state, intent); err != nil {
				p.logger.Error("Failed to apply state intent",
					zap.String("property_id", event.PropertyID),
					zap.String("kind", string(intent.Kind)),
					zap.Error(err),
				)
			}
			continue
		}
		p.sink.Enqueue(intent)
	}

	// 读数事件即使未产生指令也要刷新镜像
	if event.IsSensorReading() && len(decision.Intents) == 0 {
		p.store.SyncMirror(ctx, state)
	}
}
