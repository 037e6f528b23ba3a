package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"staywatch/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 站点状态镜像键格式：staywatch:property:<id>:state
const (
	stateKeyPrefix = "staywatch:property:"
	stateKeySuffix = ":state"
)

// StateCache 站点状态 Redis 镜像
// 仪表盘聚合器只读这份镜像，从不成为第二个状态写入方
type StateCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

// NewStateCache 创建状态镜像
func NewStateCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *StateCache {
	return &StateCache{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger,
	}
}

// Key 构建镜像键
func (c *StateCache) Key(propertyID string) string {
	return stateKeyPrefix + propertyID + stateKeySuffix
}

// Put 写入站点状态快照
func (c *StateCache) Put(ctx context.Context, state *models.PropertyState) error {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal property state: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.Key(state.PropertyID), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache property state: %w", err)
	}

	return nil
}

// Get 读取站点状态快照；不存在返回 nil
func (c *StateCache) Get(ctx context.Context, propertyID string) (*models.PropertyState, error) {
	val, err := c.redisClient.Get(ctx, c.Key(propertyID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get property state: %w", err)
	}

	var state models.PropertyState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal property state: %w", err)
	}

	return &state, nil
}
