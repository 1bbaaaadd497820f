package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SMSNotifier 短信网关客户端
// 重试在升级扫描层统一控制，这里只发送一次
type SMSNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// smsRequest 网关请求体
type smsRequest struct {
	To         string `json:"to"`
	Body       string `json:"body"`
	IncidentID string `json:"incidentId"`
}

// NewSMSNotifier 创建短信发送器
func NewSMSNotifier(gatewayURL, authToken string, logger *zap.Logger) *SMSNotifier {
	client := resty.New().
		SetBaseURL(gatewayURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if authToken != "" {
		client.SetAuthToken(authToken)
	}

	return &SMSNotifier{
		httpClient: client,
		logger:     logger,
	}
}

// Send 发送短信
func (n *SMSNotifier) Send(ctx context.Context, notification Notification) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(smsRequest{
			To:         notification.Target.Address,
			Body:       notification.Body,
			IncidentID: notification.IncidentID,
		}).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode())
	}

	n.logger.Info("SMS notification sent",
		zap.String("incident_id", notification.IncidentID),
		zap.String("to", notification.Target.Address),
	)
	return nil
}
