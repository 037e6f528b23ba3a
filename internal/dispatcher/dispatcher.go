package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staywatch/internal/config"
	"staywatch/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// idemKeyPrefix 幂等键缓存前缀（最近已分发缓存）
const idemKeyPrefix = "staywatch:dispatched:"

// Dispatcher 指令分发器
// 按幂等键抑制重复外部效果；瞬时错误指数退避重试；
// 厂家持续失败进入熔断，冷却期内抑制调用并一次性通知业主；
// 各厂家的并发受独立信号量限制，失败只阻塞该厂家
type Dispatcher struct {
	config      *config.Config
	redisClient *redis.Client
	adapters    map[models.IntentKind]Adapter
	breakers    map[string]*CircuitBreaker
	semaphores  map[string]chan struct{}
	notify      Adapter // 熔断通知走通知适配器
	logger      *zap.Logger
}

// New 创建指令分发器
func New(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *Dispatcher {
	lock := NewLockAdapter(cfg.Vendors.LockBaseURL, logger)
	light := NewLightAdapter(cfg.Vendors.LightBaseURL, logger)
	camera := NewCameraAdapter(cfg.Vendors.CameraBaseURL, logger)
	notify := NewNotifyAdapter(cfg.Vendors.NotifyBaseURL, logger)

	d := &Dispatcher{
		config:      cfg,
		redisClient: redisClient,
		adapters: map[models.IntentKind]Adapter{
			models.IntentLockAction: lock,
			models.IntentLightScene: light,
			models.IntentCameraArm:  camera,
			models.IntentNotify:     notify,
		},
		breakers:   make(map[string]*CircuitBreaker),
		semaphores: make(map[string]chan struct{}),
		notify:     notify,
		logger:     logger,
	}

	cooldown := time.Duration(cfg.Dispatch.BreakerCooldownS) * time.Second
	for _, a := range []Adapter{lock, light, camera, notify} {
		d.breakers[a.Vendor()] = NewCircuitBreaker(cfg.Dispatch.BreakerFailures, cooldown)
		d.semaphores[a.Vendor()] = make(chan struct{}, cfg.Dispatch.VendorConcurrency)
	}

	return d
}

// Enqueue 异步分发（scheduler.Sink 实现）
// 跨站点、跨指令类型的外呼并发执行，受厂家并发上限约束
func (d *Dispatcher) Enqueue(intent models.Intent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := d.Dispatch(ctx, intent); err != nil {
			d.logger.Error("Dispatch failed",
				zap.String("property_id", intent.PropertyID),
				zap.String("kind", string(intent.Kind)),
				zap.Error(err),
			)
		}
	}()
}

// Dispatch 同步分发单条指令
// 重复幂等键（已分发缓存命中）直接返回 nil：重复不产生额外外部效果
func (d *Dispatcher) Dispatch(ctx context.Context, intent models.Intent) error {
	adapter, ok := d.adapters[intent.Kind]
	if !ok {
		return fmt.Errorf("no adapter for intent kind %s", intent.Kind)
	}
	vendor := adapter.Vendor()

	// 外呼前先查最近已分发缓存，避免重试下的重复触发
	fresh, err := d.claimIdemKey(ctx, intent.IdemKey)
	if err != nil {
		return fmt.Errorf("failed to check idempotency cache: %w", err)
	}
	if !fresh {
		d.logger.Debug("Intent suppressed by idempotency cache",
			zap.String("idem_key", intent.IdemKey),
			zap.String("kind", string(intent.Kind)),
		)
		return nil
	}

	breaker := d.breakers[vendor]
	allowed, notifyOpen := breaker.Allow(time.Now())
	if notifyOpen {
		d.notifyVendorDown(ctx, intent.PropertyID, vendor)
	}
	if !allowed {
		// 抑制期间释放幂等键，熔断恢复后同类指令可重新下发
		d.releaseIdemKey(ctx, intent.IdemKey)
		return &ErrVendorUnavailable{Vendor: vendor}
	}

	// 厂家并发上限
	sem := d.semaphores[vendor]
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		d.releaseIdemKey(ctx, intent.IdemKey)
		return ctx.Err()
	}

	err = d.executeWithRetry(ctx, adapter, intent)
	if err != nil {
		breaker.RecordFailure(time.Now())
		d.releaseIdemKey(context.Background(), intent.IdemKey)
		return err
	}

	breaker.RecordSuccess()

	// 对 ack 不可靠的厂家复查实际状态
	if d.config.Dispatch.VerifyAfterAct {
		if err := adapter.Verify(ctx, intent); err != nil {
			d.logger.Warn("Post-act verification failed",
				zap.String("vendor", vendor),
				zap.String("idem_key", intent.IdemKey),
				zap.Error(err),
			)
		}
	}

	return nil
}

// executeWithRetry 执行外呼：瞬时错误指数退避重试，有限次数
// 永久错误（4xx）不重试
func (d *Dispatcher) executeWithRetry(ctx context.Context, adapter Adapter, intent models.Intent) error {
	backoff := time.Duration(d.config.Dispatch.BackoffBaseMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= d.config.Dispatch.MaxAttempts; attempt++ {
		lastErr = adapter.Execute(ctx, intent)
		if lastErr == nil {
			return nil
		}

		var vendorErr *VendorError
		if errors.As(lastErr, &vendorErr) && !vendorErr.Transient {
			return lastErr
		}

		d.logger.Warn("Vendor call failed, will retry",
			zap.String("vendor", adapter.Vendor()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return lastErr
}

// claimIdemKey 抢占幂等键；返回 false 表示已分发过
func (d *Dispatcher) claimIdemKey(ctx context.Context, key string) (bool, error) {
	ttl := time.Duration(d.config.Dispatch.IdemTTLHours) * time.Hour
	return d.redisClient.SetNX(ctx, idemKeyPrefix+key, time.Now().Unix(), ttl).Result()
}

// releaseIdemKey 失败/抑制时释放幂等键，允许后续重试
func (d *Dispatcher) releaseIdemKey(ctx context.Context, key string) {
	if err := d.redisClient.Del(ctx, idemKeyPrefix+key).Err(); err != nil {
		d.logger.Warn("Failed to release idempotency key",
			zap.String("idem_key", key),
			zap.Error(err),
		)
	}
}

// notifyVendorDown 熔断窗口内的一次性业主通知
func (d *Dispatcher) notifyVendorDown(ctx context.Context, propertyID, vendor string) {
	if vendor == d.notify.Vendor() {
		// 通知通道自身熔断时只能落日志
		d.logger.Error("Notification vendor circuit open, cannot notify owner",
			zap.String("property_id", propertyID),
		)
		return
	}

	intent, err := models.NewIntent(models.IntentNotify, propertyID, models.NotifyPayload{
		Severity: 2,
		Message:  fmt.Sprintf("actuator vendor %q unavailable, commands suppressed", vendor),
	}, time.Now())
	if err != nil {
		return
	}

	if err := d.notify.Execute(ctx, intent); err != nil {
		d.logger.Error("Failed to send vendor-down notification",
			zap.String("vendor", vendor),
			zap.Error(err),
		)
	}
}
