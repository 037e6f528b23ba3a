package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"staywatch/common/redisutil"
	"staywatch/internal/config"
	"staywatch/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Metrics 消费指标
type Metrics struct {
	mu sync.RWMutex

	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64
	ErrorsParse       int64

	StartTime time.Time
}

// Snapshot 获取指标快照（线程安全）
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed: m.MessagesProcessed,
		MessagesSucceeded: m.MessagesSucceeded,
		MessagesFailed:    m.MessagesFailed,
		ErrorsParse:       m.ErrorsParse,
		StartTime:         m.StartTime,
	}
}

func (m *Metrics) incProcessed() {
	m.mu.Lock()
	m.MessagesProcessed++
	m.mu.Unlock()
}

func (m *Metrics) incSucceeded() {
	m.mu.Lock()
	m.MessagesSucceeded++
	m.mu.Unlock()
}

func (m *Metrics) incFailed(parse bool) {
	m.mu.Lock()
	m.MessagesFailed++
	if parse {
		m.ErrorsParse++
	}
	m.mu.Unlock()
}

// StreamConsumer 事件总线消费者
// 从 Redis Stream 读取规范化事件，提交到站点所属 worker 串行处理
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	pool        *Pool
	processor   *Processor
	logger      *zap.Logger
	metrics     *Metrics
}

// NewStreamConsumer 创建事件总线消费者
func NewStreamConsumer(cfg *config.Config, redisClient *redis.Client, pool *Pool, processor *Processor, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		pool:        pool,
		processor:   processor,
		logger:      logger,
		metrics: &Metrics{
			StartTime: time.Now(),
		},
	}
}

// Start 启动消费循环（阻塞直到 ctx 取消）
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Stream.Name
	group := c.config.Stream.ConsumerGroup

	if err := redisutil.CreateConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", stream),
		zap.String("consumer_group", group),
		zap.String("consumer_name", c.config.Stream.ConsumerName),
	)

	go c.reportMetrics(ctx)

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stream consumer stopped")
			return nil
		default:
			if err := c.consumeBatch(ctx, stream, group); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoff),
				)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
			} else {
				backoff = time.Second
			}
		}
	}
}

// consumeBatch 读取并分发一批消息
func (c *StreamConsumer) consumeBatch(ctx context.Context, stream, group string) error {
	messages, err := redisutil.ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		group,
		c.config.Stream.ConsumerName,
		c.config.Stream.BatchSize,
		5*time.Second,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		c.metrics.incProcessed()
		if err := c.handleMessage(ctx, msg); err != nil {
			c.metrics.incFailed(true)
			c.logger.Error("Failed to handle stream message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		} else {
			c.metrics.incSucceeded()
		}
		// 解析失败的消息同样 ack：重投递无法修复格式错误
		if err := redisutil.AckMessage(ctx, c.redisClient, stream, group, msg.ID); err != nil {
			c.logger.Warn("Failed to ack stream message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// handleMessage 解析消息并提交到站点 worker
func (c *StreamConsumer) handleMessage(ctx context.Context, msg redisutil.StreamMessage) error {
	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data field in stream message")
	}

	var event models.CanonicalEvent
	if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	c.pool.Submit(event.PropertyID, func(taskCtx context.Context) {
		c.processor.HandleEvent(taskCtx, &event)
	})

	return nil
}

// reportMetrics 定期报告消费指标
func (c *StreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.Snapshot()
			c.logger.Info("Consumer metrics",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
