package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

func TestCredentialCache_ServesFromCacheWithinTTL(t *testing.T) {
	store := newFakeCredentialStore()
	store.add(&models.DeviceCredential{
		DeviceID:   "d1",
		KeyVersion: 1,
		Secret:     []byte("s"),
		Active:     true,
	})

	cache := NewCredentialCache(store, time.Minute)
	ctx := context.Background()

	first, err := cache.GetActiveCredential(ctx, "d1")
	require.NoError(t, err)
	second, err := cache.GetActiveCredential(ctx, "d1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.lookups)
}

func TestCredentialCache_ExpiredEntryRefetches(t *testing.T) {
	store := newFakeCredentialStore()
	store.add(&models.DeviceCredential{
		DeviceID:   "d1",
		KeyVersion: 1,
		Secret:     []byte("s"),
		Active:     true,
	})

	// TTL 为 0：每次都视为过期
	cache := NewCredentialCache(store, 0)
	ctx := context.Background()

	_, err := cache.GetActiveCredential(ctx, "d1")
	require.NoError(t, err)
	_, err = cache.GetActiveCredential(ctx, "d1")
	require.NoError(t, err)

	assert.Equal(t, 2, store.lookups)
}

func TestCredentialCache_InvalidateForcesRefetch(t *testing.T) {
	store := newFakeCredentialStore()
	store.add(&models.DeviceCredential{
		DeviceID:   "d1",
		KeyVersion: 1,
		Secret:     []byte("s"),
		Active:     true,
	})

	cache := NewCredentialCache(store, time.Minute)
	ctx := context.Background()

	_, err := cache.GetActiveCredential(ctx, "d1")
	require.NoError(t, err)

	// 模拟轮换：v1 失效，v2 启用
	store.credentials["d1"][0].Active = false
	store.add(&models.DeviceCredential{
		DeviceID:   "d1",
		KeyVersion: 2,
		Secret:     []byte("s2"),
		Active:     true,
	})
	cache.Invalidate("d1")

	cred, err := cache.GetActiveCredential(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, cred.KeyVersion)
}

func TestCredentialCache_ByVersionBypassesCache(t *testing.T) {
	store := newFakeCredentialStore()
	store.add(&models.DeviceCredential{
		DeviceID:   "d1",
		KeyVersion: 1,
		Secret:     []byte("s"),
		Active:     false,
	})

	cache := NewCredentialCache(store, time.Minute)

	cred, err := cache.GetCredentialByVersion(context.Background(), "d1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cred.KeyVersion)
	assert.Equal(t, 1, store.lookups)
}
