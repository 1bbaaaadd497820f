package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PushNotifier 推送网关客户端
// 实际的推送投递（APNs/FCM）由外部网关负责，这里只触发
type PushNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// pushRequest 网关请求体
type pushRequest struct {
	Token      string `json:"token"`
	Body       string `json:"body"`
	IncidentID string `json:"incidentId"`
}

// NewPushNotifier 创建推送发送器
func NewPushNotifier(gatewayURL string, logger *zap.Logger) *PushNotifier {
	client := resty.New().
		SetBaseURL(gatewayURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &PushNotifier{
		httpClient: client,
		logger:     logger,
	}
}

// Send 触发推送
func (n *PushNotifier) Send(ctx context.Context, notification Notification) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(pushRequest{
			Token:      notification.Target.Address,
			Body:       notification.Body,
			IncidentID: notification.IncidentID,
		}).
		Post("/notifications")
	if err != nil {
		return fmt.Errorf("push gateway request failed: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode())
	}

	n.logger.Info("Push notification sent",
		zap.String("incident_id", notification.IncidentID),
	)
	return nil
}
