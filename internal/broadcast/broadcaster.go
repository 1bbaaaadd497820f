package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// channelPrefix 区域广播频道前缀
const channelPrefix = "panic:events:"

// Broadcaster 基于 Redis Pub/Sub 的区域事件广播
// 投递语义：尽力而为、每个连接至多一次；
// 发布时已连接的订阅者都会收到，之后加入的订阅者收不到历史事件
type Broadcaster struct {
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewBroadcaster 创建广播器
func NewBroadcaster(redisClient *redis.Client, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// ChannelName 构建区域频道名
func ChannelName(regionCode string) string {
	return channelPrefix + regionCode
}

// Publish 向区域频道发布事件
// 只推送、从不等待订阅者确认；失败仅供调用方记录日志
func (b *Broadcaster) Publish(ctx context.Context, regionCode string, event *models.BroadcastEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, ChannelName(regionCode), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish broadcast event: %w", err)
	}

	b.logger.Debug("Published broadcast event",
		zap.String("region_code", regionCode),
		zap.String("incident_id", event.IncidentID),
		zap.String("kind", event.Kind),
	)
	return nil
}

// Subscription 单个区域订阅
type Subscription struct {
	pubsub *redis.PubSub
	events chan models.BroadcastEvent
}

// Subscribe 订阅区域频道
// 返回时订阅已在服务端生效：之后发布的事件都能收到
func (b *Broadcaster) Subscribe(ctx context.Context, regionCode string) (*Subscription, error) {
	pubsub := b.redisClient.Subscribe(ctx, ChannelName(regionCode))

	// 等待订阅确认，保证"订阅返回后发布的事件必达"
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to region %s: %w", regionCode, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan models.BroadcastEvent, 16),
	}

	go func() {
		defer close(sub.events)
		for msg := range pubsub.Channel() {
			var event models.BroadcastEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("Dropping malformed broadcast event",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			// 消费者停滞时丢弃而不是阻塞：投递语义是尽力而为、
			// 至多一次，阻塞在这里会让解码协程在 Close 后泄漏
			select {
			case sub.events <- event:
			default:
				b.logger.Warn("Dropping broadcast event for stalled subscriber",
					zap.String("channel", msg.Channel),
					zap.String("incident_id", event.IncidentID),
				)
			}
		}
	}()

	return sub, nil
}

// Events 订阅事件流（Close 后通道关闭）
func (s *Subscription) Events() <-chan models.BroadcastEvent {
	return s.events
}

// Close 关闭订阅
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
