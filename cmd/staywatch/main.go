package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "staywatch/common/logger"
	"staywatch/internal/config"
	"staywatch/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.New(cfg.Log.Level, cfg.Log.Format, "staywatch")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting staywatch controller",
		zap.String("version", "1.0.0"),
		zap.String("sites_file", cfg.SitesFile),
		zap.String("stream", cfg.Stream.Name),
		zap.String("consumer_group", cfg.Stream.ConsumerGroup),
	)

	// 创建服务
	controller, err := service.NewController(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create controller", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		logger.Fatal("Failed to start controller", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := controller.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Controller stopped")
}
