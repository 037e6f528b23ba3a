package config

import (
	"os"
	"strconv"

	"staywatch/common/database"
	"staywatch/common/mqtt"
	"staywatch/common/redisutil"
)

// Config 控制器服务配置
type Config struct {
	Database database.Config
	Redis    redisutil.Config
	MQTT     mqtt.Config

	// 站点/标签配置文件（YAML，支持热重载）
	SitesFile string

	// 事件总线配置
	Stream struct {
		Name          string // Redis Stream 名称
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
	}

	// 网关配置
	Ingest struct {
		DedupTTLHours int    // 事件ID去重缓存窗口（小时），默认 24
		DedupPrefix   string // 去重键前缀
		TopicFilter   string // MQTT 订阅主题，如 "staywatch/+/events"
	}

	// worker 配置
	Worker struct {
		Count     int // 并发 worker 数（站点按ID哈希到 worker），默认 4
		QueueSize int // 每个 worker 的队列长度，默认 256
	}

	// 升级调度器配置
	Scheduler struct {
		TickSeconds int // 扫描间隔（秒），默认 30
	}

	// 分发器配置
	Dispatch struct {
		MaxAttempts     int // 瞬时错误最大重试次数，默认 4
		BackoffBaseMS   int // 退避基准（毫秒），默认 500
		BreakerFailures int // 熔断触发的连续失败次数，默认 5
		BreakerCooldownS int // 熔断冷却时间（秒），默认 60
		VendorConcurrency int // 每厂家并发上限，默认 4
		IdemTTLHours    int  // 幂等键缓存 TTL（小时），默认 24
		VerifyAfterAct  bool // 对 ack 不可靠的厂家执行后复查
	}

	// 厂家 API 端点
	Vendors struct {
		LockBaseURL   string
		LightBaseURL  string
		CameraBaseURL string
		NotifyBaseURL string
	}

	// 预订日历拉取配置
	Booking struct {
		FeedBaseURL  string
		PollSeconds  int // 拉取间隔（秒），默认 300
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "staywatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "staywatch")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.SitesFile = getEnv("SITES_FILE", "sites.yml")

	cfg.Stream.Name = getEnv("STREAM_NAME", "staywatch:events")
	cfg.Stream.ConsumerGroup = getEnv("STREAM_GROUP", "staywatch-core")
	cfg.Stream.ConsumerName = getEnv("STREAM_CONSUMER", "core-1")
	cfg.Stream.BatchSize = int64(getEnvInt("STREAM_BATCH_SIZE", 16))

	cfg.Ingest.DedupTTLHours = getEnvInt("INGEST_DEDUP_TTL_HOURS", 24)
	cfg.Ingest.DedupPrefix = getEnv("INGEST_DEDUP_PREFIX", "staywatch:dedup:")
	cfg.Ingest.TopicFilter = getEnv("MQTT_TOPIC_FILTER", "staywatch/+/events")

	cfg.Worker.Count = getEnvInt("WORKER_COUNT", 4)
	cfg.Worker.QueueSize = getEnvInt("WORKER_QUEUE_SIZE", 256)

	cfg.Scheduler.TickSeconds = getEnvInt("SCHEDULER_TICK_SECONDS", 30)

	cfg.Dispatch.MaxAttempts = getEnvInt("DISPATCH_MAX_ATTEMPTS", 4)
	cfg.Dispatch.BackoffBaseMS = getEnvInt("DISPATCH_BACKOFF_BASE_MS", 500)
	cfg.Dispatch.BreakerFailures = getEnvInt("DISPATCH_BREAKER_FAILURES", 5)
	cfg.Dispatch.BreakerCooldownS = getEnvInt("DISPATCH_BREAKER_COOLDOWN_S", 60)
	cfg.Dispatch.VendorConcurrency = getEnvInt("DISPATCH_VENDOR_CONCURRENCY", 4)
	cfg.Dispatch.IdemTTLHours = getEnvInt("DISPATCH_IDEM_TTL_HOURS", 24)
	cfg.Dispatch.VerifyAfterAct = getEnv("DISPATCH_VERIFY_AFTER_ACT", "false") == "true"

	cfg.Vendors.LockBaseURL = getEnv("VENDOR_LOCK_URL", "http://localhost:8081")
	cfg.Vendors.LightBaseURL = getEnv("VENDOR_LIGHT_URL", "http://localhost:8082")
	cfg.Vendors.CameraBaseURL = getEnv("VENDOR_CAMERA_URL", "http://localhost:8083")
	cfg.Vendors.NotifyBaseURL = getEnv("VENDOR_NOTIFY_URL", "http://localhost:8084")

	cfg.Booking.FeedBaseURL = getEnv("BOOKING_FEED_URL", "http://localhost:8085")
	cfg.Booking.PollSeconds = getEnvInt("BOOKING_POLL_SECONDS", 300)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
