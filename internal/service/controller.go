package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"staywatch/common/database"
	"staywatch/common/mqtt"
	"staywatch/common/redisutil"
	"staywatch/internal/aggregator"
	"staywatch/internal/booking"
	"staywatch/internal/cache"
	"staywatch/internal/config"
	"staywatch/internal/consumer"
	"staywatch/internal/dispatcher"
	"staywatch/internal/evaluator"
	"staywatch/internal/ingest"
	"staywatch/internal/registry"
	"staywatch/internal/repository"
	"staywatch/internal/scheduler"
	"staywatch/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Controller 多站点自动化控制器服务
// 组装接入网关、worker 池、规则评估、升级调度与指令分发
type Controller struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	sites      *config.Sites
	registry   *registry.Registry
	store      *store.Store
	eventsRepo *repository.EventsRepository
	gateway    *ingest.Gateway
	pool       *consumer.Pool
	consumer   *consumer.StreamConsumer
	ticker     *consumer.BookingTicker
	poller     *booking.Poller
	scheduler  *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher
	aggregator *aggregator.Aggregator

	stopWatch chan struct{}
}

// NewController 创建控制器服务
func NewController(cfg *config.Config, logger *zap.Logger) (*Controller, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := redisutil.NewClient(&cfg.Redis)
	if err := redisutil.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 站点/标签配置
	sites, err := config.LoadSites(cfg.SitesFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load sites file: %w", err)
	}
	reg := registry.New(sites.Tags())
	sites.OnReload(reg.Replace)

	// Repository
	eventsRepo := repository.NewEventsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)

	// 状态存储与镜像
	mirrorTTL := 24 * time.Hour
	stateCache := cache.NewStateCache(redisClient, mirrorTTL, logger)
	st := store.New(alertsRepo, stateCache, logger)

	// 接入网关
	gateway := ingest.NewGateway(cfg, redisClient, eventsRepo, logger)

	// 预订日历
	feed := booking.NewFeedClient(cfg.Booking.FeedBaseURL, logger)
	poller := booking.NewPoller(cfg, sites, feed, logger)

	// 指令分发器
	disp := dispatcher.New(cfg, redisClient, logger)

	// 规则评估与 worker 池
	eval := evaluator.New(reg, logger)
	pool := consumer.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize, logger)
	processor := consumer.NewProcessor(sites, st, eval, poller, eventsRepo, disp, logger)
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, pool, processor, logger)
	ticker := consumer.NewBookingTicker(sites, pool, processor, time.Minute, logger)

	// 升级调度器
	sched := scheduler.New(cfg, sites, st, pool, disp, logger)

	// 仪表盘聚合器
	agg := aggregator.New(sites, stateCache, logger)

	return &Controller{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		sites:       sites,
		registry:    reg,
		store:       st,
		eventsRepo:  eventsRepo,
		gateway:     gateway,
		pool:        pool,
		consumer:    streamConsumer,
		ticker:      ticker,
		poller:      poller,
		scheduler:   sched,
		dispatcher:  disp,
		aggregator:  agg,
		stopWatch:   make(chan struct{}),
	}, nil
}

// Aggregator 暴露仪表盘聚合器（HTTP 层/工具使用）
func (c *Controller) Aggregator() *aggregator.Aggregator {
	return c.aggregator
}

// Start 启动全部组件（非阻塞组件用 goroutine，阻塞直到全部就绪）
func (c *Controller) Start(ctx context.Context) error {
	c.logger.Info("Starting controller components")

	// 消费开始前从镜像与事件日志恢复各站点状态
	now := time.Now().UTC()
	for _, propertyID := range c.sites.PropertyIDs() {
		if prop, ok := c.sites.Property(propertyID); ok {
			c.store.Rehydrate(ctx, prop, c.eventsRepo, now)
		}
	}

	// worker 池先行启动，事件与升级节拍都经它串行
	c.pool.Start(ctx)

	go func() {
		if err := c.consumer.Start(ctx); err != nil {
			c.logger.Error("Stream consumer exited", zap.Error(err))
		}
	}()

	go func() {
		if err := c.poller.Start(ctx); err != nil {
			c.logger.Error("Booking poller exited", zap.Error(err))
		}
	}()

	go func() {
		if err := c.ticker.Start(ctx); err != nil {
			c.logger.Error("Booking ticker exited", zap.Error(err))
		}
	}()

	go func() {
		if err := c.scheduler.Start(ctx); err != nil {
			c.logger.Error("Escalation scheduler exited", zap.Error(err))
		}
	}()

	// 站点配置热重载
	go c.sites.WatchReload(c.stopWatch, 30*time.Second)

	// MQTT 入站订阅最后接通，确保下游已就绪
	mqttClient, err := mqtt.NewClient(&c.config.MQTT, c.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	c.mqttClient = mqttClient

	if err := mqttClient.Subscribe(c.config.Ingest.TopicFilter, c.config.MQTT.QoS, c.gateway.HandleMQTT); err != nil {
		return fmt.Errorf("failed to subscribe to event topic: %w", err)
	}

	c.logger.Info("Controller started successfully",
		zap.Int("property_count", len(c.sites.PropertyIDs())),
		zap.Int("tag_count", c.registry.Len()),
		zap.String("topic_filter", c.config.Ingest.TopicFilter),
	)
	return nil
}

// Stop 优雅关闭：先断入站，等 worker 清空，再关闭连接
func (c *Controller) Stop(ctx context.Context) error {
	c.logger.Info("Stopping controller")

	if c.mqttClient != nil {
		c.mqttClient.Disconnect()
	}

	close(c.stopWatch)

	// worker 在 ctx 取消后退出，等它们完成在途任务
	c.pool.Wait()

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	c.logger.Info("Controller stopped")
	return nil
}
