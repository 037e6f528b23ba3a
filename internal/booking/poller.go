package booking

import (
	"context"
	"sync"
	"time"

	"staywatch/internal/config"
	"staywatch/internal/evaluator"
	"staywatch/internal/models"

	"go.uber.org/zap"
)

// Feed 日历拉取接口（FeedClient 实现；测试可替换）
type Feed interface {
	ListBookings(ctx context.Context, propertyID string, from, to time.Time) ([]models.Booking, error)
}

// Poller 预订快照轮询器
// 周期性拉取各站点预订并缓存；worker 评估事件时从这里取上下文
type Poller struct {
	config   *config.Config
	sites    *config.Sites
	feed     Feed
	logger   *zap.Logger

	mu       sync.RWMutex
	bookings map[string][]models.Booking
}

// NewPoller 创建预订轮询器
func NewPoller(cfg *config.Config, sites *config.Sites, feed Feed, logger *zap.Logger) *Poller {
	return &Poller{
		config:   cfg,
		sites:    sites,
		feed:     feed,
		logger:   logger,
		bookings: make(map[string][]models.Booking),
	}
}

// Start 启动轮询循环（阻塞直到 ctx 取消）
func (p *Poller) Start(ctx context.Context) error {
	// 启动时先拉一次
	p.pollAll(ctx)

	interval := time.Duration(p.config.Booking.PollSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Booking poller stopped")
			return nil
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

// pollAll 拉取所有站点的预订快照
// 单站点失败不中断其他站点
func (p *Poller) pollAll(ctx context.Context) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now.Add(30 * 24 * time.Hour)

	for _, propertyID := range p.sites.PropertyIDs() {
		bookings, err := p.feed.ListBookings(ctx, propertyID, from, to)
		if err != nil {
			p.logger.Error("Failed to poll booking feed",
				zap.String("property_id", propertyID),
				zap.Error(err),
			)
			continue
		}

		p.mu.Lock()
		p.bookings[propertyID] = bookings
		p.mu.Unlock()

		p.logger.Debug("Booking snapshot refreshed",
			zap.String("property_id", propertyID),
			zap.Int("booking_count", len(bookings)),
		)
	}
}

// SetSnapshot 直接替换站点预订快照（测试与手动注入用）
func (p *Poller) SetSnapshot(propertyID string, bookings []models.Booking) {
	models.SortBookings(bookings)
	p.mu.Lock()
	p.bookings[propertyID] = bookings
	p.mu.Unlock()
}

// Context 返回站点在给定时刻的预订上下文
func (p *Poller) Context(propertyID string, at time.Time) evaluator.BookingContext {
	p.mu.RLock()
	bookings := p.bookings[propertyID]
	p.mu.RUnlock()

	return evaluator.BookingContext{
		Active:    models.ActiveBooking(bookings, at),
		Conflicts: models.FindOverlaps(bookings),
	}
}
