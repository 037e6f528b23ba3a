package consumer

import (
	"context"
	"time"

	"staywatch/internal/config"
	"staywatch/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingTicker 预订节拍器
// 周期性向每个站点注入 booking_tick 合成事件，
// 驱动退房转换与归零确认窗口复查（无需等待真实传感器事件）
type BookingTicker struct {
	sites     *config.Sites
	pool      *Pool
	processor *Processor
	interval  time.Duration
	logger    *zap.Logger
}

// NewBookingTicker 创建预订节拍器
func NewBookingTicker(sites *config.Sites, pool *Pool, processor *Processor, interval time.Duration, logger *zap.Logger) *BookingTicker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BookingTicker{
		sites:     sites,
		pool:      pool,
		processor: processor,
		interval:  interval,
		logger:    logger,
	}
}

// Start 启动节拍循环（阻塞直到 ctx 取消）
func (t *BookingTicker) Start(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("Booking ticker started",
		zap.Duration("interval", t.interval),
	)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Booking ticker stopped")
			return nil
		case now := <-ticker.C:
			t.tick(now.UTC())
		}
	}
}

// tick 向每个站点提交一次 booking_tick
func (t *BookingTicker) tick(now time.Time) {
	for _, propertyID := range t.sites.PropertyIDs() {
		event := &models.CanonicalEvent{
			EventID:    uuid.New().String(),
			Source:     "staywatch",
			PropertyID: propertyID,
			Type:       models.EventBookingTick,
			Timestamp:  now,
		}
		t.pool.Submit(propertyID, func(ctx context.Context) {
			t.processor.HandleEvent(ctx, event)
		})
	}
}
