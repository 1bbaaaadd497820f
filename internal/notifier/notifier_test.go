package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

func testIncident() *models.Incident {
	return &models.Incident{
		IncidentID: "incident-1",
		DeviceID:   "d1",
		Message:    "SOS from ward 3",
		RegionCode: "R1",
		Status:     models.IncidentStatusOpen,
	}
}

// ============================================
// 模板渲染
// ============================================

func TestRenderTemplate(t *testing.T) {
	incident := testIncident()

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"空模板回退到消息原文", "", "SOS from ward 3"},
		{"消息占位符", "ALERT: {{message}}", "ALERT: SOS from ward 3"},
		{"双占位符", "[{{incident_id}}] {{message}}", "[incident-1] SOS from ward 3"},
		{"无占位符原样输出", "static text", "static text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.template, incident))
		})
	}
}

// ============================================
// 分发器
// ============================================

type recordingNotifier struct {
	sent []Notification
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, notification Notification) error {
	r.sent = append(r.sent, notification)
	return r.err
}

func TestDispatcher_RoutesByKind(t *testing.T) {
	sms := &recordingNotifier{}
	push := &recordingNotifier{}

	dispatcher := NewDispatcher()
	dispatcher.Register(models.TargetKindSMS, sms)
	dispatcher.Register(models.TargetKindPush, push)

	target := models.NotifyTarget{
		Kind:     models.TargetKindSMS,
		Address:  "+27820000001",
		Template: "{{message}}",
	}
	require.NoError(t, dispatcher.Dispatch(context.Background(), target, testIncident()))

	require.Len(t, sms.sent, 1)
	assert.Empty(t, push.sent)
	assert.Equal(t, "SOS from ward 3", sms.sent[0].Body)
	assert.Equal(t, "incident-1", sms.sent[0].IncidentID)
}

func TestDispatcher_UnknownKind(t *testing.T) {
	dispatcher := NewDispatcher()

	target := models.NotifyTarget{Kind: "pigeon", Address: "roof"}
	err := dispatcher.Dispatch(context.Background(), target, testIncident())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pigeon")
}

// ============================================
// 短信网关
// ============================================

func TestSMSNotifier_Send(t *testing.T) {
	var received smsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewSMSNotifier(server.URL, "test-token", zap.NewNop())
	err := notifier.Send(context.Background(), Notification{
		Target:     models.NotifyTarget{Kind: models.TargetKindSMS, Address: "+27820000001"},
		IncidentID: "incident-1",
		Body:       "SOS from ward 3",
	})

	require.NoError(t, err)
	assert.Equal(t, "+27820000001", received.To)
	assert.Equal(t, "SOS from ward 3", received.Body)
	assert.Equal(t, "incident-1", received.IncidentID)
}

func TestSMSNotifier_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	notifier := NewSMSNotifier(server.URL, "", zap.NewNop())
	err := notifier.Send(context.Background(), Notification{
		Target: models.NotifyTarget{Address: "+27820000001"},
		Body:   "SOS",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

// ============================================
// 推送网关
// ============================================

func TestPushNotifier_Send(t *testing.T) {
	var received pushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewPushNotifier(server.URL, zap.NewNop())
	err := notifier.Send(context.Background(), Notification{
		Target:     models.NotifyTarget{Kind: models.TargetKindPush, Address: "device-token-1"},
		IncidentID: "incident-1",
		Body:       "SOS from ward 3",
	})

	require.NoError(t, err)
	assert.Equal(t, "device-token-1", received.Token)
	assert.Equal(t, "SOS from ward 3", received.Body)
}

func TestPushNotifier_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewPushNotifier(server.URL, zap.NewNop())
	err := notifier.Send(context.Background(), Notification{
		Target: models.NotifyTarget{Address: "device-token-1"},
		Body:   "SOS",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
