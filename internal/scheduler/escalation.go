package scheduler

import (
	"context"
	"fmt"
	"time"

	"staywatch/internal/config"
	"staywatch/internal/models"
	"staywatch/internal/store"

	"go.uber.org/zap"
)

// Submitter 按站点串行执行任务的接口（consumer.Pool 实现）
// 升级必须与事件处理在同一串行单元内执行，
// 避免清除事件与升级节拍之间的竞争
type Submitter interface {
	Submit(propertyID string, task func(ctx context.Context))
}

// Sink 出站指令接收方（dispatcher 实现）
type Sink interface {
	Enqueue(intent models.Intent)
}

// Scheduler 报警升级调度器
// 报警未在复查间隔内清除则级别加一并发出新一轮 notify/action 指令；
// 每次提升重置复查计时；清除幂等并使后续升级自然失效。
// 通知失败不丢弃：下一个升级节拍会再次发出通知。
type Scheduler struct {
	config *config.Config
	sites  *config.Sites
	store  *store.Store
	pool   Submitter
	sink   Sink
	logger *zap.Logger
}

// New 创建升级调度器
func New(cfg *config.Config, sites *config.Sites, st *store.Store, pool Submitter, sink Sink, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config: cfg,
		sites:  sites,
		store:  st,
		pool:   pool,
		sink:   sink,
		logger: logger,
	}
}

// Start 启动扫描循环（阻塞直到 ctx 取消）
func (s *Scheduler) Start(ctx context.Context) error {
	interval := time.Duration(s.config.Scheduler.TickSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Escalation scheduler started",
		zap.Duration("tick_interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Escalation scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(time.Now().UTC())
		}
	}
}

// tick 为每个站点提交一次升级复查任务（在站点 worker 内执行）
func (s *Scheduler) tick(now time.Time) {
	for _, propertyID := range s.sites.PropertyIDs() {
		pid := propertyID
		s.pool.Submit(pid, func(ctx context.Context) {
			s.escalateProperty(ctx, pid, now)
		})
	}
}

// escalateProperty 复查单个站点的打开报警
// 在站点 worker 内串行执行，与事件处理互斥
func (s *Scheduler) escalateProperty(ctx context.Context, propertyID string, now time.Time) {
	prop, ok := s.sites.Property(propertyID)
	if !ok {
		return
	}

	state := s.store.GetOrCreate(propertyID, now)
	interval := time.Duration(prop.EscalationIntervalMin) * time.Minute

	for _, alert := range state.OpenAlerts {
		if !alert.DueForEscalation(interval, now) {
			continue
		}

		raised := s.store.EscalateAlert(ctx, state, alert, prop.MaxSeverity, now)
		if raised {
			s.logger.Info("Alert escalated",
				zap.String("property_id", propertyID),
				zap.String("kind", string(alert.Kind)),
				zap.Int("severity", alert.Severity),
			)
		}

		// 级别到顶后保持：仍然按节拍重发通知，直到清除
		for _, intent := range s.actionsFor(alert, now) {
			s.sink.Enqueue(intent)
		}
	}
}

// actionsFor 按当前级别产生本轮升级动作
// 级别1：通知业主；级别2：加闪灯；级别3：加布防与呼叫业主
func (s *Scheduler) actionsFor(alert *models.Alert, now time.Time) []models.Intent {
	msg := fmt.Sprintf("%s alert at %s unresolved, severity %d", alert.Kind, alert.PropertyID, alert.Severity)

	intents := []models.Intent{
		models.MustIntent(models.IntentNotify, alert.PropertyID, models.NotifyPayload{
			Severity: alert.Severity,
			Message:  msg,
		}, now),
	}

	if alert.Severity >= 2 {
		intents = append(intents, models.MustIntent(models.IntentLightScene, alert.PropertyID, models.LightScenePayload{
			SceneID: "flash",
		}, now))
	}
	if alert.Severity >= 3 {
		intents = append(intents, models.MustIntent(models.IntentCameraArm, alert.PropertyID, models.CameraArmPayload{
			Armed: true,
		}, now))
	}

	return intents
}
