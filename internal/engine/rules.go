package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"actiongate/internal/domain"
	"actiongate/internal/events"
	"actiongate/internal/repo"
	"actiongate/internal/rules"
)

// CreateRuleOptions are parameters for an auto-approve rule.
type CreateRuleOptions struct {
	ActionType string
	Conditions []domain.Condition
	Enabled    *bool
	Priority   int
	ActorID    string
}

// CreateRule stores a new auto-approve rule. Conditions must be non-empty
// and well formed; a rule that would be skipped by the evaluator is rejected
// here instead of silently never matching.
func (e Engine) CreateRule(ctx context.Context, opts CreateRuleOptions) (domain.Rule, error) {
	if opts.ActionType == "" {
		return domain.Rule{}, validationf("action_type is required")
	}
	if len(opts.Conditions) == 0 {
		return domain.Rule{}, validationf("conditions must be a non-empty list")
	}
	for i, c := range opts.Conditions {
		if c.Field == "" {
			return domain.Rule{}, validationf("conditions[%d]: field is required", i)
		}
		if !rules.KnownOperator(c.Operator) {
			return domain.Rule{}, validationf("conditions[%d]: unknown operator %q", i, c.Operator)
		}
	}
	condJSON, err := json.Marshal(opts.Conditions)
	if err != nil {
		return domain.Rule{}, validationf("invalid conditions: %v", err)
	}
	enabled := true
	if opts.Enabled != nil {
		enabled = *opts.Enabled
	}
	now := e.nowRFC3339()
	rl := domain.Rule{
		ID:             uuid.New().String(),
		ActionType:     opts.ActionType,
		ConditionsJSON: string(condJSON),
		Enabled:        enabled,
		Priority:       opts.Priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, rl); err != nil {
		return domain.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "rule.created", "rule", rl.ID, opts.ActorID, events.EventPayload{
		"action_type": rl.ActionType,
		"enabled":     rl.Enabled,
	}); err != nil {
		return domain.Rule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rule{}, err
	}
	return rl, nil
}

// UpdateRuleOptions carries the partial update surface: enable/disable,
// the outcome reporter's success-rate write-back, and evaluation priority.
type UpdateRuleOptions struct {
	Enabled     *bool
	SuccessRate *float64
	Priority    *int
}

func (e Engine) UpdateRule(ctx context.Context, id string, opts UpdateRuleOptions) (domain.Rule, error) {
	if opts.SuccessRate != nil && (*opts.SuccessRate < 0 || *opts.SuccessRate > 1) {
		return domain.Rule{}, validationf("success_rate must be within [0,1]")
	}
	update := repo.RuleUpdate{
		Enabled:     opts.Enabled,
		SuccessRate: opts.SuccessRate,
		Priority:    opts.Priority,
	}
	if err := e.Repo.UpdateRule(ctx, id, update, e.nowRFC3339()); err != nil {
		return domain.Rule{}, err
	}
	return e.Repo.GetRule(ctx, id)
}

func (e Engine) DeleteRule(ctx context.Context, id string) error {
	return e.Repo.DeleteRule(ctx, id)
}
