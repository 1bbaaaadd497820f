package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// Notification 一次外呼通知请求
type Notification struct {
	Target     models.NotifyTarget
	IncidentID string
	Body       string
}

// Notifier 通知发送器接口（按目标类型各自实现）
type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// Dispatcher 按目标 kind 分发到对应发送器
// kind 是带载荷的标签变体，不做运行时字符串探测之外的动态分支
type Dispatcher struct {
	notifiers map[string]Notifier
}

// NewDispatcher 创建分发器
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		notifiers: make(map[string]Notifier),
	}
}

// Register 注册目标类型的发送器
func (d *Dispatcher) Register(kind string, notifier Notifier) {
	d.notifiers[kind] = notifier
}

// Dispatch 渲染模板并发送
func (d *Dispatcher) Dispatch(ctx context.Context, target models.NotifyTarget, incident *models.Incident) error {
	notifier, ok := d.notifiers[target.Kind]
	if !ok {
		return fmt.Errorf("no notifier registered for target kind %q", target.Kind)
	}

	return notifier.Send(ctx, Notification{
		Target:     target,
		IncidentID: incident.IncidentID,
		Body:       RenderTemplate(target.Template, incident),
	})
}

// RenderTemplate 渲染通知模板
// 支持 {{message}} 和 {{incident_id}} 占位符；模板为空时直接用消息原文
func RenderTemplate(template string, incident *models.Incident) string {
	if template == "" {
		return incident.Message
	}
	body := strings.ReplaceAll(template, "{{message}}", incident.Message)
	body = strings.ReplaceAll(body, "{{incident_id}}", incident.IncidentID)
	return body
}
