package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/auth"
	"github.com/knappy214/naboomcommunity-sub001/internal/broadcast"
	"github.com/knappy214/naboomcommunity-sub001/internal/common/database"
	mqttcommon "github.com/knappy214/naboomcommunity-sub001/internal/common/mqtt"
	rediscommon "github.com/knappy214/naboomcommunity-sub001/internal/common/redis"
	"github.com/knappy214/naboomcommunity-sub001/internal/config"
	"github.com/knappy214/naboomcommunity-sub001/internal/consumer"
	"github.com/knappy214/naboomcommunity-sub001/internal/dedup"
	"github.com/knappy214/naboomcommunity-sub001/internal/escalator"
	"github.com/knappy214/naboomcommunity-sub001/internal/models"
	"github.com/knappy214/naboomcommunity-sub001/internal/notifier"
	"github.com/knappy214/naboomcommunity-sub001/internal/repository"
)

// PanicService 告警接入服务（整合各层）
type PanicService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	// 各层组件
	credentialRepo *repository.CredentialRepository
	incidentRepo   *repository.IncidentRepository
	eventRepo      *repository.IncidentEventRepository
	ruleRepo       *repository.EscalationRuleRepository
	authenticator  *auth.Authenticator
	deduplicator   *dedup.Deduplicator
	broadcaster    *broadcast.Broadcaster
	dispatcher     *notifier.Dispatcher
	mqttConsumer   *consumer.MQTTConsumer
	scheduler      *escalator.Scheduler

	escalatorCancel context.CancelFunc
}

// NewPanicService 创建告警接入服务
func NewPanicService(cfg *config.Config, logger *zap.Logger) (*PanicService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	// 4. 创建 Repository 层
	credentialRepo := repository.NewCredentialRepository(db, logger)
	incidentRepo := repository.NewIncidentRepository(db, logger)
	eventRepo := repository.NewIncidentEventRepository(db, logger)
	ruleRepo := repository.NewEscalationRuleRepository(db, logger)

	// 5. 创建验签与去重
	credentialCache := auth.NewCredentialCache(credentialRepo, cfg.Auth.CredentialCacheTTL)
	authenticator := auth.NewAuthenticator(credentialCache, cfg.Auth.RotationGrace, logger)
	deduplicator := dedup.NewDeduplicator(redisClient, cfg.Ingest.DedupTimeout, logger)

	// 6. 创建广播与通知分发
	broadcaster := broadcast.NewBroadcaster(redisClient, logger)

	dispatcher := notifier.NewDispatcher()
	dispatcher.Register(models.TargetKindSMS, notifier.NewSMSNotifier(
		cfg.Escalation.SMSGatewayURL, cfg.Escalation.SMSAuthToken, logger))
	dispatcher.Register(models.TargetKindPush, notifier.NewPushNotifier(
		cfg.Escalation.PushGatewayURL, logger))

	// 7. 创建接入管线与升级扫描
	mqttConsumer := consumer.NewMQTTConsumer(
		cfg,
		mqttClient,
		authenticator,
		deduplicator,
		incidentRepo,
		credentialCache,
		broadcaster,
		logger,
	)

	scheduler := escalator.NewScheduler(
		cfg,
		ruleRepo,
		incidentRepo,
		eventRepo,
		dispatcher,
		broadcaster,
		logger,
	)

	return &PanicService{
		config:         cfg,
		db:             db,
		redisClient:    redisClient,
		mqttClient:     mqttClient,
		logger:         logger,
		credentialRepo: credentialRepo,
		incidentRepo:   incidentRepo,
		eventRepo:      eventRepo,
		ruleRepo:       ruleRepo,
		authenticator:  authenticator,
		deduplicator:   deduplicator,
		broadcaster:    broadcaster,
		dispatcher:     dispatcher,
		mqttConsumer:   mqttConsumer,
		scheduler:      scheduler,
	}, nil
}

// Start 启动服务
func (s *PanicService) Start(ctx context.Context) error {
	s.logger.Info("Starting panic service",
		zap.String("ingest_topic", s.config.Ingest.Topic),
		zap.Duration("sweep_interval", s.config.Escalation.SweepInterval),
	)

	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	// 升级扫描独立于接入热路径运行
	escalatorCtx, cancel := context.WithCancel(ctx)
	s.escalatorCancel = cancel
	go s.scheduler.Run(escalatorCtx)

	return nil
}

// Stop 停止服务：先停接入（排空在途消息），再停扫描和连接
func (s *PanicService) Stop() error {
	s.logger.Info("Stopping panic service")

	if err := s.mqttConsumer.Stop(); err != nil {
		s.logger.Error("Failed to stop MQTT consumer", zap.Error(err))
	}

	if s.escalatorCancel != nil {
		s.escalatorCancel()
	}

	s.mqttClient.Disconnect()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}
