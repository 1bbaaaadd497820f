package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

func setupBroadcaster(t *testing.T) *Broadcaster {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewBroadcaster(redisClient, zap.NewNop())
}

func sampleEvent() *models.BroadcastEvent {
	lat := -24.5236
	lng := 28.4192
	return &models.BroadcastEvent{
		IncidentID: "incident-1",
		Kind:       models.BroadcastKindCreated,
		Message:    "SOS",
		Lat:        &lat,
		Lng:        &lng,
		OccurredAt: time.Now().Unix(),
	}
}

func receiveEvent(t *testing.T, sub *Subscription) models.BroadcastEvent {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast event")
		return models.BroadcastEvent{}
	}
}

func TestBroadcast_AllConnectedSubscribersReceive(t *testing.T) {
	b := setupBroadcaster(t)
	ctx := context.Background()

	sub1, err := b.Subscribe(ctx, "R")
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := b.Subscribe(ctx, "R")
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, b.Publish(ctx, "R", sampleEvent()))

	event1 := receiveEvent(t, sub1)
	event2 := receiveEvent(t, sub2)

	assert.Equal(t, "incident-1", event1.IncidentID)
	assert.Equal(t, "incident-1", event2.IncidentID)
	assert.Equal(t, models.BroadcastKindCreated, event1.Kind)
}

func TestBroadcast_LateSubscriberMissesEvent(t *testing.T) {
	b := setupBroadcaster(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "R", sampleEvent()))

	// 发布之后才订阅：收不到历史事件
	late, err := b.Subscribe(ctx, "R")
	require.NoError(t, err)
	defer late.Close()

	select {
	case event := <-late.Events():
		t.Fatalf("late subscriber unexpectedly received event %s", event.IncidentID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBroadcast_RegionsAreIsolated(t *testing.T) {
	b := setupBroadcaster(t)
	ctx := context.Background()

	subA, err := b.Subscribe(ctx, "A")
	require.NoError(t, err)
	defer subA.Close()

	subB, err := b.Subscribe(ctx, "B")
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, b.Publish(ctx, "A", sampleEvent()))

	event := receiveEvent(t, subA)
	assert.Equal(t, "incident-1", event.IncidentID)

	select {
	case event := <-subB.Events():
		t.Fatalf("region B unexpectedly received event %s", event.IncidentID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBroadcast_StalledSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := setupBroadcaster(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "R")
	require.NoError(t, err)

	// 订阅者完全不消费：发布量远超缓冲
	for i := 0; i < 40; i++ {
		event := sampleEvent()
		event.IncidentID = fmt.Sprintf("incident-%d", i)
		require.NoError(t, b.Publish(ctx, "R", event))
	}

	// 缓冲填满后解码协程必须继续运行（丢弃超额事件），而不是阻塞在投递上
	require.Eventually(t, func() bool {
		return len(sub.events) == cap(sub.events)
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, sub.Close())

	received := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-sub.Events():
			if !open {
				// 超出缓冲的事件被丢弃：至多一次，绝不积压
				assert.LessOrEqual(t, received, cap(sub.events))
				return
			}
			received++
		case <-deadline:
			t.Fatal("event channel not closed after Close")
		}
	}
}

func TestBroadcast_SubscriptionCloseEndsStream(t *testing.T) {
	b := setupBroadcaster(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "R")
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	select {
	case _, open := <-sub.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed after Close")
	}
}
