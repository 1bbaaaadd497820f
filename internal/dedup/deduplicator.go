package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// keyPrefix 去重键前缀
const keyPrefix = "panic:dedup:"

// Deduplicator 基于 Redis 的消息去重器
// AcceptOnce 必须是单个原子操作（SET NX EX）：
// 先查后写会在同一 nonce 的并发重投之间留下竞态窗口
type Deduplicator struct {
	redisClient *redis.Client
	timeout     time.Duration
	logger      *zap.Logger
}

// NewDeduplicator 创建去重器
// timeout: 单次 Redis 调用的超时上限（卡住的查询不能永久占用 worker）
func NewDeduplicator(redisClient *redis.Client, timeout time.Duration, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{
		redisClient: redisClient,
		timeout:     timeout,
		logger:      logger,
	}
}

// AcceptOnce 尝试在 TTL 窗口内首次占用 key
// 返回 true 表示本次调用是该 key 的第一个占用者；
// 之后（到期前）所有同 key 调用都返回 false
func (d *Deduplicator) AcceptOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ok, err := d.redisClient.SetNX(ctx, keyPrefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key: %w", err)
	}

	return ok, nil
}

// Release 释放已占用的 key
// 只在"占用成功但持久化最终失败"的回滚路径上调用，
// 让后续重投有机会重新处理该消息
func (d *Deduplicator) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.redisClient.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}

	d.logger.Warn("Released dedup claim after persistence failure",
		zap.String("key", key),
	)
	return nil
}
