package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/config"
	"github.com/knappy214/naboomcommunity-sub001/internal/common/logger"
	"github.com/knappy214/naboomcommunity-sub001/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "naboom-panic")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting naboom-panic service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("ingest_topic", cfg.Ingest.Topic),
	)

	// 创建服务
	panicService, err := service.NewPanicService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create panic service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := panicService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start panic service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭：先取消上下文，再等在途消息处理完成
	cancel()
	if err := panicService.Stop(); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
