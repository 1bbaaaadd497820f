package escalator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/config"
	"github.com/knappy214/naboomcommunity-sub001/internal/models"
	"github.com/knappy214/naboomcommunity-sub001/internal/repository"
)

// RuleSource 升级规则查询接口（由 repository.EscalationRuleRepository 实现）
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]models.EscalationRule, error)
}

// IncidentSweepStore 升级扫描需要的告警存取接口
type IncidentSweepStore interface {
	FindStaleOpenIncidents(ctx context.Context, olderThan time.Time, limit int) ([]models.Incident, error)
	RecordEscalation(ctx context.Context, incidentID string, expectedUpdatedAt time.Time) error
}

// EventStore 审计记录存取接口
type EventStore interface {
	AppendEvent(ctx context.Context, incidentID, eventType, payload string) error
	CountRuleEscalationsSince(ctx context.Context, incidentID, ruleID string, since time.Time) (int, error)
}

// TargetDispatcher 通知分发接口（由 notifier.Dispatcher 实现）
type TargetDispatcher interface {
	Dispatch(ctx context.Context, target models.NotifyTarget, incident *models.Incident) error
}

// EventPublisher 广播发布接口（由 broadcast.Broadcaster 实现）
type EventPublisher interface {
	Publish(ctx context.Context, regionCode string, event *models.BroadcastEvent) error
}

// Scheduler 升级扫描器
// 单个周期任务：按规则阈值筛选超时未确认的 open 告警并触发通知。
// 扫描之间严格串行：上一轮未结束时新一轮直接跳过（TryLock 单飞保护），
// 避免调度重叠造成重复升级
type Scheduler struct {
	config      *config.Config
	rules       RuleSource
	incidents   IncidentSweepStore
	events      EventStore
	dispatcher  TargetDispatcher
	broadcaster EventPublisher
	logger      *zap.Logger

	sweepMu sync.Mutex

	cacheMu        sync.Mutex
	cachedRules    []models.EscalationRule
	rulesFetchedAt time.Time
}

// NewScheduler 创建升级扫描器
func NewScheduler(
	cfg *config.Config,
	rules RuleSource,
	incidents IncidentSweepStore,
	events EventStore,
	dispatcher TargetDispatcher,
	broadcaster EventPublisher,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		config:      cfg,
		rules:       rules,
		incidents:   incidents,
		events:      events,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Run 周期运行扫描直到上下文取消
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Escalation.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("Escalation scheduler started",
		zap.Duration("sweep_interval", s.config.Escalation.SweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Escalation scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("Escalation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep 执行一轮扫描
// 幂等性：同一告警在同一规则的阈值窗口内至多升级一次，
// 通过"先查窗口内该规则已有 escalated 记录、再记录本次"实现
func (s *Scheduler) Sweep(ctx context.Context) error {
	if !s.sweepMu.TryLock() {
		s.logger.Warn("Skipping escalation sweep: previous sweep still running")
		return nil
	}
	defer s.sweepMu.Unlock()

	rules, err := s.activeRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load escalation rules: %w", err)
	}

	now := time.Now()
	for _, rule := range rules {
		cutoff := now.Add(-rule.Threshold())
		incidents, err := s.incidents.FindStaleOpenIncidents(ctx, cutoff, s.config.Escalation.BatchLimit)
		if err != nil {
			s.logger.Error("Failed to query stale incidents",
				zap.String("rule_id", rule.RuleID),
				zap.Error(err),
			)
			continue
		}

		for i := range incidents {
			s.escalateIncident(ctx, rule, &incidents[i], now)
		}
	}

	return nil
}

// escalateIncident 对单个告警执行一次升级
func (s *Scheduler) escalateIncident(ctx context.Context, rule models.EscalationRule, incident *models.Incident, now time.Time) {
	// 幂等探测：当前阈值窗口内该规则已有升级记录则跳过
	// 粒度是 告警×规则，另一条规则的升级不抑制本规则
	windowStart := now.Add(-rule.Threshold())
	prior, err := s.events.CountRuleEscalationsSince(ctx, incident.IncidentID, rule.RuleID, windowStart)
	if err != nil {
		s.logger.Error("Failed to probe prior escalation attempts",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err),
		)
		return
	}
	if prior > 0 {
		return
	}

	// 乐观并发：操作员确认与扫描竞争时放弃本次升级，下轮重新评估
	if err := s.incidents.RecordEscalation(ctx, incident.IncidentID, incident.UpdatedAt); err != nil {
		if err == repository.ErrStaleIncident {
			s.logger.Debug("Skipping escalation: incident modified concurrently",
				zap.String("incident_id", incident.IncidentID),
			)
			return
		}
		s.logger.Error("Failed to record escalation",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err),
		)
		return
	}

	payload := fmt.Sprintf(`{"rule_id": %q, "rule_name": %q}`, rule.RuleID, rule.Name)
	if err := s.events.AppendEvent(ctx, incident.IncidentID, models.EventTypeEscalated, payload); err != nil {
		s.logger.Error("Failed to append escalated event",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err),
		)
	}

	s.logger.Info("Escalating incident",
		zap.String("incident_id", incident.IncidentID),
		zap.String("rule_id", rule.RuleID),
		zap.Int("targets", len(rule.Targets)),
	)

	for _, target := range rule.Targets {
		s.dispatchTarget(ctx, rule, target, incident)
	}

	// 升级事件同样广播给区域订阅者（尽力而为）
	event := &models.BroadcastEvent{
		IncidentID: incident.IncidentID,
		Kind:       models.BroadcastKindEscalated,
		Message:    incident.Message,
		Lat:        incident.Lat,
		Lng:        incident.Lng,
		OccurredAt: now.Unix(),
	}
	if err := s.broadcaster.Publish(ctx, incident.RegionCode, event); err != nil {
		s.logger.Warn("Broadcast publish failed",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err),
		)
	}
}

// dispatchTarget 向单个目标发送通知（有界重试，穷尽后记录失败，不静默吞掉）
func (s *Scheduler) dispatchTarget(ctx context.Context, rule models.EscalationRule, target models.NotifyTarget, incident *models.Incident) {
	maxAttempts := s.config.Escalation.MaxAttempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.dispatcher.Dispatch(ctx, target, incident); err != nil {
			lastErr = err
			s.logger.Warn("Notification attempt failed",
				zap.String("incident_id", incident.IncidentID),
				zap.String("target_kind", target.Kind),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if attempt < maxAttempts {
				select {
				case <-time.After(time.Duration(attempt) * s.config.Escalation.RetryBackoff):
				case <-ctx.Done():
					return
				}
			}
			continue
		}

		payload := fmt.Sprintf(`{"rule_id": %q, "kind": %q, "address": %q, "attempt": %d}`,
			rule.RuleID, target.Kind, target.Address, attempt)
		if err := s.events.AppendEvent(ctx, incident.IncidentID, models.EventTypeNotified, payload); err != nil {
			s.logger.Error("Failed to append notified event",
				zap.String("incident_id", incident.IncidentID),
				zap.Error(err),
			)
		}
		return
	}

	payload := fmt.Sprintf(`{"rule_id": %q, "kind": %q, "address": %q, "attempts": %d, "error": %q}`,
		rule.RuleID, target.Kind, target.Address, maxAttempts, lastErr.Error())
	if err := s.events.AppendEvent(ctx, incident.IncidentID, models.EventTypeNotifyFailed, payload); err != nil {
		s.logger.Error("Failed to append notify_failed event",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err),
		)
	}
}

// activeRules 带 TTL 的规则缓存（规则由管理端改动，缓存限定可见延迟）
func (s *Scheduler) activeRules(ctx context.Context) ([]models.EscalationRule, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if s.cachedRules != nil && time.Since(s.rulesFetchedAt) < s.config.Escalation.RuleCacheTTL {
		return s.cachedRules, nil
	}

	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		// 查询失败时退回上一次的缓存，扫描降级而不是中断
		if s.cachedRules != nil {
			s.logger.Warn("Using cached escalation rules after query failure", zap.Error(err))
			return s.cachedRules, nil
		}
		return nil, err
	}

	s.cachedRules = rules
	s.rulesFetchedAt = time.Now()
	return rules, nil
}
