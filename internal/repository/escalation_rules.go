package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// EscalationRuleRepository 升级规则仓库
// 规则由管理端维护，升级扫描只读
type EscalationRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEscalationRuleRepository 创建升级规则仓库
func NewEscalationRuleRepository(db *sql.DB, logger *zap.Logger) *EscalationRuleRepository {
	return &EscalationRuleRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveRules 列出所有启用的升级规则（targets 为 JSONB）
func (r *EscalationRuleRepository) ListActiveRules(ctx context.Context) ([]models.EscalationRule, error) {
	query := `
		SELECT rule_id, name, active, threshold_minutes, targets, created_at, updated_at
		FROM escalation_rules
		WHERE active = TRUE
		ORDER BY threshold_minutes ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation rules: %w", err)
	}
	defer rows.Close()

	var rules []models.EscalationRule
	for rows.Next() {
		var rule models.EscalationRule
		var targets []byte

		if err := rows.Scan(
			&rule.RuleID,
			&rule.Name,
			&rule.Active,
			&rule.ThresholdMinutes,
			&targets,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan escalation rule: %w", err)
		}

		if len(targets) > 0 {
			if err := json.Unmarshal(targets, &rule.Targets); err != nil {
				// 配置损坏时跳过该规则而不是中断整个扫描
				r.logger.Error("Failed to unmarshal rule targets",
					zap.String("rule_id", rule.RuleID),
					zap.Error(err),
				)
				continue
			}
		}

		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escalation rules: %w", err)
	}

	return rules, nil
}
