package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// fakeVerifier 固定结果的验签器
type fakeVerifier struct {
	ok bool
}

func (f *fakeVerifier) Verify(ctx context.Context, msg *models.InboundMessage) bool {
	return f.ok
}

// fakeClaimer 内存去重器
type fakeClaimer struct {
	mu       sync.Mutex
	claims   map[string]bool
	released []string
	err      error
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{claims: make(map[string]bool)}
}

func (f *fakeClaimer) AcceptOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.claims[key] {
		return false, nil
	}
	f.claims[key] = true
	return true, nil
}

func (f *fakeClaimer) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, key)
	f.released = append(f.released, key)
	return nil
}

// fakeIncidentWriter 内存告警写入器
type fakeIncidentWriter struct {
	mu        sync.Mutex
	incidents []*models.Incident
	calls     int
	err       error
}

func (f *fakeIncidentWriter) CreateIncident(ctx context.Context, incident *models.Incident, rawPayload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	copied := *incident
	f.incidents = append(f.incidents, &copied)
	return nil
}

// fakeRegionSource 固定凭证的区域查询
type fakeRegionSource struct {
	cred *models.DeviceCredential
	err  error
}

func (f *fakeRegionSource) GetActiveCredential(ctx context.Context, deviceID string) (*models.DeviceCredential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cred, nil
}

// fakePublisher 记录广播事件
type fakePublisher struct {
	mu      sync.Mutex
	regions []string
	events  []*models.BroadcastEvent
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, regionCode string, event *models.BroadcastEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.regions = append(f.regions, regionCode)
	f.events = append(f.events, event)
	return nil
}
