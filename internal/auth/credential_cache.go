package auth

import (
	"context"
	"sync"
	"time"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// CredentialStore 凭证查询接口（由 repository.CredentialRepository 实现）
type CredentialStore interface {
	GetActiveCredential(ctx context.Context, deviceID string) (*models.DeviceCredential, error)
	GetCredentialByVersion(ctx context.Context, deviceID string, keyVersion int) (*models.DeviceCredential, error)
}

type cachedCredential struct {
	credential *models.DeviceCredential
	expiresAt  time.Time
}

// CredentialCache 带 TTL 的设备凭证缓存
// 只缓存 active 凭证；宽限期内旧版本的查询频率很低，直接走存储。
// TTL 限定了凭证轮换后缓存失效的最大延迟，轮换方也可调用 Invalidate 立即失效
type CredentialCache struct {
	store CredentialStore
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cachedCredential
}

// NewCredentialCache 创建凭证缓存
func NewCredentialCache(store CredentialStore, ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]cachedCredential),
	}
}

// GetActiveCredential 获取设备当前 active 凭证（优先读缓存）
func (c *CredentialCache) GetActiveCredential(ctx context.Context, deviceID string) (*models.DeviceCredential, error) {
	c.mu.RLock()
	entry, ok := c.entries[deviceID]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.credential, nil
	}

	cred, err := c.store.GetActiveCredential(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[deviceID] = cachedCredential{
		credential: cred,
		expiresAt:  time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return cred, nil
}

// GetCredentialByVersion 按版本获取凭证（不走缓存）
func (c *CredentialCache) GetCredentialByVersion(ctx context.Context, deviceID string, keyVersion int) (*models.DeviceCredential, error) {
	return c.store.GetCredentialByVersion(ctx, deviceID, keyVersion)
}

// Invalidate 使指定设备的缓存失效（凭证轮换时调用）
func (c *CredentialCache) Invalidate(deviceID string) {
	c.mu.Lock()
	delete(c.entries, deviceID)
	c.mu.Unlock()
}
