package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/config"
	mqttcommon "github.com/knappy214/naboomcommunity-sub001/internal/common/mqtt"
	"github.com/knappy214/naboomcommunity-sub001/internal/models"
	"github.com/knappy214/naboomcommunity-sub001/internal/repository"
)

// Verifier 消息验签接口（由 auth.Authenticator 实现）
type Verifier interface {
	Verify(ctx context.Context, msg *models.InboundMessage) bool
}

// Claimer 去重占用接口（由 dedup.Deduplicator 实现）
type Claimer interface {
	AcceptOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// IncidentWriter 告警写入接口（由 repository.IncidentRepository 实现）
type IncidentWriter interface {
	CreateIncident(ctx context.Context, incident *models.Incident, rawPayload []byte) error
}

// RegionSource 设备区域查询接口（由 auth.CredentialCache 实现）
type RegionSource interface {
	GetActiveCredential(ctx context.Context, deviceID string) (*models.DeviceCredential, error)
}

// EventPublisher 广播发布接口（由 broadcast.Broadcaster 实现）
type EventPublisher interface {
	Publish(ctx context.Context, regionCode string, event *models.BroadcastEvent) error
}

// Stats 管线计数（malformed/auth 失败/重复只计数不报错）
type Stats struct {
	Accepted     uint64
	Malformed    uint64
	AuthFailures uint64
	Duplicates   uint64
	PersistFails uint64
}

// MQTTConsumer 设备告警接入管线
// 每条消息的状态机：解析 → 验签 → 去重占用 → 持久化 → 广播；
// 任一前置步骤失败直接丢弃，不产生任何外部可见状态
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  *mqttcommon.Client
	verifier    Verifier
	claimer     Claimer
	incidents   IncidentWriter
	regions     RegionSource
	broadcaster EventPublisher
	logger      *zap.Logger

	intake chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	accepted     atomic.Uint64
	malformed    atomic.Uint64
	authFailures atomic.Uint64
	duplicates   atomic.Uint64
	persistFails atomic.Uint64
}

// NewMQTTConsumer 创建接入管线
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttcommon.Client,
	verifier Verifier,
	claimer Claimer,
	incidents IncidentWriter,
	regions RegionSource,
	broadcaster EventPublisher,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		verifier:    verifier,
		claimer:     claimer,
		incidents:   incidents,
		regions:     regions,
		broadcaster: broadcaster,
		logger:      logger,
		intake:      make(chan []byte, cfg.Ingest.QueueSize),
		done:        make(chan struct{}),
	}
}

// Start 订阅设备主题并启动 worker 池
// 设备间并行处理，无跨设备顺序保证；同设备顺序继承自传输层，不额外制造
func (c *MQTTConsumer) Start(ctx context.Context) error {
	for i := 0; i < c.config.Ingest.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runWorker(ctx)
		}()
	}

	handler := func(topic string, payload []byte) error {
		return c.enqueue(ctx, payload)
	}

	if err := c.mqttClient.Subscribe(c.config.Ingest.Topic, c.config.Ingest.QoS, handler); err != nil {
		return fmt.Errorf("failed to subscribe to ingest topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.Ingest.Topic),
		zap.Int("workers", c.config.Ingest.Workers),
	)
	return nil
}

// enqueue 消息入队
// 背压：队列满时阻塞 MQTT 回调；停机信号就绪时放弃入队。
// intake 永不关闭：还停在回调里的 select 不能撞上已关闭的 channel
func (c *MQTTConsumer) enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("consumer is shutting down")
	default:
	}

	select {
	case c.intake <- payload:
		return nil
	case <-c.done:
		return fmt.Errorf("consumer is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runWorker worker 循环：停机信号后排空队列里的剩余消息再退出
func (c *MQTTConsumer) runWorker(ctx context.Context) {
	for {
		select {
		case payload := <-c.intake:
			c.handleMessage(ctx, payload)
		case <-c.done:
			for {
				select {
				case payload := <-c.intake:
					c.handleMessage(ctx, payload)
				default:
					return
				}
			}
		}
	}
}

// Stop 停止接入：取消订阅、发停机信号，在途消息处理完成后返回
func (c *MQTTConsumer) Stop() error {
	if err := c.mqttClient.Unsubscribe(c.config.Ingest.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	close(c.done)
	c.wg.Wait()

	stats := c.Stats()
	c.logger.Info("MQTT consumer stopped",
		zap.Uint64("accepted", stats.Accepted),
		zap.Uint64("malformed", stats.Malformed),
		zap.Uint64("auth_failures", stats.AuthFailures),
		zap.Uint64("duplicates", stats.Duplicates),
		zap.Uint64("persist_failures", stats.PersistFails),
	)
	return nil
}

// Stats 返回累计计数
func (c *MQTTConsumer) Stats() Stats {
	return Stats{
		Accepted:     c.accepted.Load(),
		Malformed:    c.malformed.Load(),
		AuthFailures: c.authFailures.Load(),
		Duplicates:   c.duplicates.Load(),
		PersistFails: c.persistFails.Load(),
	}
}

// handleMessage 处理单条设备消息
func (c *MQTTConsumer) handleMessage(ctx context.Context, payload []byte) {
	// 1. 结构解析与校验：畸形消息静默丢弃（传输层没有应答通道）
	msg, err := parseMessage(payload)
	if err != nil {
		c.malformed.Add(1)
		c.logger.Debug("Dropping malformed message", zap.Error(err))
		return
	}

	// 2. 验签（带超时，卡住的凭证查询不能占死 worker）
	authCtx, cancel := context.WithTimeout(ctx, c.config.Ingest.AuthTimeout)
	ok := c.verifier.Verify(authCtx, msg)
	cancel()
	if !ok {
		c.authFailures.Add(1)
		c.logger.Debug("Dropping message with failed verification",
			zap.String("device_id", msg.DeviceID),
		)
		return
	}

	// 停机窗口：占用去重键之前是最后一个可以干净中止的时点；
	// 占用之后必须把持久化和广播走完
	if ctx.Err() != nil {
		c.logger.Warn("Aborting message before dedup claim: shutting down",
			zap.String("device_id", msg.DeviceID),
		)
		return
	}

	// 3. 去重占用（原子 SET NX，先于持久化）
	dedupKey := msg.DedupKey()
	won, err := c.claimer.AcceptOnce(ctx, dedupKey, c.config.Ingest.DedupTTL)
	if err != nil {
		// 去重存储不可用时丢弃并依赖 QoS1 重投
		c.logger.Error("Dedup claim failed, dropping for redelivery",
			zap.String("device_id", msg.DeviceID),
			zap.Error(err),
		)
		return
	}
	if !won {
		c.duplicates.Add(1)
		c.logger.Debug("Dropping duplicate message",
			zap.String("dedup_key", dedupKey),
		)
		return
	}

	// 4. 持久化（有界重试；此后不再受停机取消影响）
	incident, err := c.buildIncident(msg)
	if err != nil {
		c.releaseClaim(dedupKey)
		c.logger.Error("Failed to build incident",
			zap.String("device_id", msg.DeviceID),
			zap.Error(err),
		)
		return
	}

	if err := c.persistWithRetry(incident, payload); err != nil {
		if err == repository.ErrDuplicateIncident {
			// 数据库唯一索引兜底命中：另一实例已写入，按重复处理
			c.duplicates.Add(1)
			return
		}
		// 占用已成立但事件未落库，释放占用让重投可以重新处理
		c.persistFails.Add(1)
		c.releaseClaim(dedupKey)
		c.logger.Error("Persistence exhausted retries, claim released for reconciliation",
			zap.String("device_id", msg.DeviceID),
			zap.String("dedup_key", dedupKey),
			zap.Error(err),
		)
		return
	}

	c.accepted.Add(1)
	c.logger.Info("Incident created",
		zap.String("incident_id", incident.IncidentID),
		zap.String("device_id", incident.DeviceID),
		zap.String("region_code", incident.RegionCode),
	)

	// 5. 广播（尽力而为，失败只记日志，不影响接入路径）
	event := &models.BroadcastEvent{
		IncidentID: incident.IncidentID,
		Kind:       models.BroadcastKindCreated,
		Message:    incident.Message,
		Lat:        incident.Lat,
		Lng:        incident.Lng,
		OccurredAt: incident.CreatedAt.Unix(),
	}
	if err := c.broadcaster.Publish(context.Background(), incident.RegionCode, event); err != nil {
		c.logger.Warn("Broadcast publish failed",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err),
		)
	}
}

// parseMessage 解析并校验消息结构
func parseMessage(payload []byte) (*models.InboundMessage, error) {
	var msg models.InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if msg.DeviceID == "" {
		return nil, fmt.Errorf("deviceId is required")
	}
	if msg.Nonce == "" {
		return nil, fmt.Errorf("nonce is required")
	}
	if msg.Signature == "" {
		return nil, fmt.Errorf("signature is required")
	}
	if msg.MessageText == "" {
		return nil, fmt.Errorf("messageText is required")
	}
	// 上限按字符数而不是字节数：多字节文本不能被误判超限
	if utf8.RuneCountInString(msg.MessageText) > models.MaxMessageLength {
		return nil, fmt.Errorf("messageText exceeds %d characters", models.MaxMessageLength)
	}
	if msg.TimestampEpochSeconds <= 0 {
		return nil, fmt.Errorf("timestampEpochSeconds is required")
	}

	return &msg, nil
}

// buildIncident 根据消息构建告警事件（区域取自设备凭证）
func (c *MQTTConsumer) buildIncident(msg *models.InboundMessage) (*models.Incident, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Ingest.AuthTimeout)
	defer cancel()

	cred, err := c.regions.GetActiveCredential(ctx, msg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device region: %w", err)
	}

	// v7：id 自带时间前缀，排序与创建顺序一致
	incidentID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate incident id: %w", err)
	}

	now := time.Now()
	return &models.Incident{
		IncidentID:     incidentID.String(),
		SourceChannel:  models.SourceChannelDevice,
		DeviceID:       msg.DeviceID,
		Nonce:          msg.Nonce,
		Message:        msg.MessageText,
		Lat:            msg.Lat,
		Lng:            msg.Lng,
		AccuracyMeters: msg.AccuracyMeters,
		RegionCode:     cred.RegionCode,
		Status:         models.IncidentStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// persistWithRetry 持久化（有界退避重试）
// 超时由独立的 context 控制：停机取消不打断已占用去重键的消息
func (c *MQTTConsumer) persistWithRetry(incident *models.Incident, rawPayload []byte) error {
	var lastErr error
	for attempt := 1; attempt <= c.config.Ingest.PersistRetries; attempt++ {
		persistCtx, cancel := context.WithTimeout(context.Background(), c.config.Ingest.PersistTimeout)
		err := c.incidents.CreateIncident(persistCtx, incident, rawPayload)
		cancel()

		if err == nil || err == repository.ErrDuplicateIncident {
			return err
		}

		lastErr = err
		c.logger.Warn("Persist attempt failed",
			zap.String("incident_id", incident.IncidentID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < c.config.Ingest.PersistRetries {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
	}
	return lastErr
}

// releaseClaim 回滚去重占用
func (c *MQTTConsumer) releaseClaim(dedupKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Ingest.DedupTimeout)
	defer cancel()
	if err := c.claimer.Release(ctx, dedupKey); err != nil {
		// 释放失败意味着该 nonce 在 TTL 内被一条未落库的消息占用，
		// 需要人工对账处理
		c.logger.Error("Failed to release dedup claim, manual reconciliation required",
			zap.String("dedup_key", dedupKey),
			zap.Error(err),
		)
	}
}
