package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staywatch/common/redisutil"
	"staywatch/internal/config"
	"staywatch/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMalformedEvent 原始事件缺少必要字段或无法解析
// 记录日志后丢弃，网关不因此退出
var ErrMalformedEvent = errors.New("malformed event")

// ErrDuplicateEvent 同一 source_event_id 的重复投递
// 不是错误，是无操作结果：重复投递不得产生额外效果
var ErrDuplicateEvent = errors.New("duplicate event ignored")

// EventLog 追加写入的事件日志接口（PostgreSQL 实现见 repository 包）
type EventLog interface {
	AppendSensorReading(ctx context.Context, r *models.SensorReading) error
	AppendLockEvent(ctx context.Context, e *models.LockEvent) error
}

// Gateway 事件接入网关
// 将入站 webhook/MQTT 事件规范化为 CanonicalEvent，按来源事件ID去重，
// 追加到事件日志后发布到 Redis Stream 供 worker 消费
type Gateway struct {
	config      *config.Config
	redisClient *redis.Client
	eventLog    EventLog
	logger      *zap.Logger
}

// NewGateway 创建事件接入网关
func NewGateway(cfg *config.Config, redisClient *redis.Client, eventLog EventLog, logger *zap.Logger) *Gateway {
	return &Gateway{
		config:      cfg,
		redisClient: redisClient,
		eventLog:    eventLog,
		logger:      logger,
	}
}

// Ingest 接收原始事件：规范化、去重、落日志、发布
// 返回 ErrDuplicateEvent 表示重复投递（无操作），ErrMalformedEvent 表示丢弃
func (g *Gateway) Ingest(ctx context.Context, raw *models.RawEvent) (*models.CanonicalEvent, error) {
	event, err := g.normalize(raw)
	if err != nil {
		g.logger.Warn("Dropping malformed event",
			zap.String("source", raw.Source),
			zap.String("property_id", raw.PropertyID),
			zap.Error(err),
		)
		return nil, err
	}

	// 按 property + source + source_event_id 去重（时间窗口由 TTL 界定）
	dup, err := g.checkDuplicate(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	if dup {
		g.logger.Debug("Duplicate event ignored",
			zap.String("property_id", event.PropertyID),
			zap.String("source_event_id", event.SourceEventID),
		)
		return nil, ErrDuplicateEvent
	}

	// 先追加日志，再转发给规则评估器
	if err := g.appendLog(ctx, event); err != nil {
		g.logger.Error("Failed to append event log",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		// 日志落盘失败不阻断事件流
	}

	if _, err := redisutil.PublishJSONToStream(ctx, g.redisClient, g.config.Stream.Name, event); err != nil {
		// 事件未进入管道，释放去重键让来源的幂等重投得以生效
		g.releaseDedupKey(ctx, event)
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}

	return event, nil
}

// normalize 原始事件规范化
// 缺时间戳的事件以到达时间补齐并标记 approximate_time
func (g *Gateway) normalize(raw *models.RawEvent) (*models.CanonicalEvent, error) {
	if raw.Source == "" {
		return nil, fmt.Errorf("%w: missing source", ErrMalformedEvent)
	}
	if raw.SourceEventID == "" {
		return nil, fmt.Errorf("%w: missing source_event_id", ErrMalformedEvent)
	}
	if raw.PropertyID == "" {
		return nil, fmt.Errorf("%w: missing property_id", ErrMalformedEvent)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if raw.Type == models.EventTagTap && raw.TagID == "" {
		return nil, fmt.Errorf("%w: tag_tap without tag_id", ErrMalformedEvent)
	}

	event := &models.CanonicalEvent{
		EventID:       uuid.New().String(),
		Source:        raw.Source,
		SourceEventID: raw.SourceEventID,
		PropertyID:    raw.PropertyID,
		Type:          raw.Type,
		TagID:         raw.TagID,
		Actor:         raw.Actor,
		NoiseDB:       raw.NoiseDB,
		DeviceCount:   raw.DeviceCount,
		Motion:        raw.Motion,
		Smoke:         raw.Smoke,
		Temperature:   raw.Temperature,
		Humidity:      raw.Humidity,
	}

	if raw.Timestamp != nil {
		event.Timestamp = time.Unix(*raw.Timestamp, 0).UTC()
	} else {
		event.Timestamp = time.Now().UTC()
		event.ApproximateTime = true
	}

	return event, nil
}

// checkDuplicate 通过 Redis SETNX 去重；键已存在表示重复投递
func (g *Gateway) checkDuplicate(ctx context.Context, event *models.CanonicalEvent) (bool, error) {
	ttl := time.Duration(g.config.Ingest.DedupTTLHours) * time.Hour

	created, err := g.redisClient.SetNX(ctx, g.dedupKey(event), event.EventID, ttl).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}

// releaseDedupKey 发布失败后释放去重键
// 去重只抑制已生效的事件，发布失败的事件必须可重投
func (g *Gateway) releaseDedupKey(ctx context.Context, event *models.CanonicalEvent) {
	if err := g.redisClient.Del(ctx, g.dedupKey(event)).Err(); err != nil {
		g.logger.Warn("Failed to release dedup key",
			zap.String("property_id", event.PropertyID),
			zap.String("source_event_id", event.SourceEventID),
			zap.Error(err),
		)
	}
}

func (g *Gateway) dedupKey(event *models.CanonicalEvent) string {
	return fmt.Sprintf("%s%s:%s:%s",
		g.config.Ingest.DedupPrefix,
		event.PropertyID,
		event.Source,
		event.SourceEventID,
	)
}

// appendLog 按事件类型追加到相应日志
func (g *Gateway) appendLog(ctx context.Context, event *models.CanonicalEvent) error {
	switch {
	case event.IsSensorReading():
		return g.eventLog.AppendSensorReading(ctx, &models.SensorReading{
			PropertyID:    event.PropertyID,
			Timestamp:     event.Timestamp,
			NoiseDB:       event.NoiseDB,
			DeviceCount:   event.DeviceCount,
			Motion:        event.Motion,
			Smoke:         event.Smoke,
			Temperature:   event.Temperature,
			Humidity:      event.Humidity,
			SourceEventID: event.SourceEventID,
		})
	case event.IsLockEvent():
		return g.eventLog.AppendLockEvent(ctx, &models.LockEvent{
			PropertyID:    event.PropertyID,
			Timestamp:     event.Timestamp,
			Actor:         event.Actor,
			Outcome:       event.LockOutcome(),
			SourceEventID: event.SourceEventID,
		})
	}
	// tag_tap 由规则评估器解析后以 LockEvent 形式落日志
	return nil
}

// HandleMQTT 处理 MQTT 入站消息（订阅回调）
// 解析失败按 malformed 处理：记录并丢弃，从不中断订阅
func (g *Gateway) HandleMQTT(topic string, payload []byte) error {
	var raw models.RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		g.logger.Warn("Dropping unparseable MQTT payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	_, err := g.Ingest(context.Background(), &raw)
	if err != nil && !errors.Is(err, ErrDuplicateEvent) && !errors.Is(err, ErrMalformedEvent) {
		return err
	}
	return nil
}
