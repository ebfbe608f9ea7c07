package server

import (
	"encoding/json"

	"actiongate/internal/domain"
)

// Request payloads

type CreateActionRequest struct {
	ActionType  string         `json:"action_type"`
	ActionData  map[string]any `json:"action_data"`
	ContextData map[string]any `json:"context_data,omitempty"`
	RiskLevel   string         `json:"risk_level" enum:"low,medium,high"`
}

type DenyActionRequest struct {
	Feedback string `json:"feedback"`
}

type EditActionRequest struct {
	EditedData map[string]any `json:"edited_data"`
	Execute    bool           `json:"execute,omitempty"`
}

type ConditionRequest struct {
	Field    string `json:"field"`
	Operator string `json:"operator" enum:"eq,neq,contains,gt,gte,lt,lte"`
	Value    any    `json:"value"`
}

type CreateRuleRequest struct {
	ActionType string             `json:"action_type"`
	Conditions []ConditionRequest `json:"conditions"`
	Enabled    *bool              `json:"enabled,omitempty"`
	Priority   int                `json:"priority,omitempty"`
}

type UpdateRuleRequest struct {
	Enabled     *bool    `json:"enabled,omitempty"`
	SuccessRate *float64 `json:"success_rate,omitempty" minimum:"0" maximum:"1"`
	Priority    *int     `json:"priority,omitempty"`
}

type CreateTaskRequest struct {
	Title           string  `json:"title"`
	AssignedAgentID *string `json:"assigned_agent_id,omitempty"`
	WorkspaceID     *string `json:"workspace_id,omitempty"`
}

type UpdateTaskRequest struct {
	Title            *string `json:"title,omitempty"`
	AssignedAgentID  *string `json:"assigned_agent_id,omitempty"`
	WorkspaceID      *string `json:"workspace_id,omitempty"`
	PlanningComplete *bool   `json:"planning_complete,omitempty"`
}

// Response payloads

type ActionResponse struct {
	ID          string         `json:"id"`
	ActionType  string         `json:"action_type"`
	ActionData  map[string]any `json:"action_data"`
	ContextData map[string]any `json:"context_data,omitempty"`
	RiskLevel   string         `json:"risk_level" enum:"low,medium,high"`
	Status      string         `json:"status" enum:"pending,approved,denied,edited,auto_approved"`
	EditedData  map[string]any `json:"edited_data,omitempty"`
	Feedback    *string        `json:"user_feedback,omitempty"`
	ExecutedAt  *string        `json:"executed_at,omitempty" format:"date-time"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type CreateActionResponse struct {
	Action       ActionResponse `json:"action"`
	AutoApproved bool           `json:"auto_approved"`
	RuleID       string         `json:"rule_id,omitempty"`
}

type RuleResponse struct {
	ID           string             `json:"id"`
	ActionType   string             `json:"action_type"`
	Conditions   []ConditionRequest `json:"conditions"`
	Enabled      bool               `json:"enabled"`
	Priority     int                `json:"priority"`
	TriggerCount int                `json:"trigger_count"`
	SuccessRate  float64            `json:"success_rate"`
	CreatedAt    string             `json:"created_at" format:"date-time"`
	UpdatedAt    string             `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	AssignedAgentID  *string `json:"assigned_agent_id,omitempty"`
	WorkspaceID      *string `json:"workspace_id,omitempty"`
	PlanningComplete bool    `json:"planning_complete"`
	Status           string  `json:"status" enum:"pending_dispatch,inbox"`
	DispatchError    *string `json:"planning_dispatch_error,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedActions struct {
	Items []ActionResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Mappers

func actionResponse(a domain.Action) ActionResponse {
	return ActionResponse{
		ID:          a.ID,
		ActionType:  a.ActionType,
		ActionData:  decodeJSONMap(&a.ActionDataJSON),
		ContextData: decodeJSONMap(a.ContextDataJSON),
		RiskLevel:   a.RiskLevel,
		Status:      a.Status,
		EditedData:  decodeJSONMap(a.EditedDataJSON),
		Feedback:    a.UserFeedback,
		ExecutedAt:  a.ExecutedAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func mapActions(items []domain.Action) []ActionResponse {
	res := make([]ActionResponse, 0, len(items))
	for _, a := range items {
		res = append(res, actionResponse(a))
	}
	return res
}

func ruleResponse(rl domain.Rule) RuleResponse {
	var conds []ConditionRequest
	_ = json.Unmarshal([]byte(rl.ConditionsJSON), &conds)
	return RuleResponse{
		ID:           rl.ID,
		ActionType:   rl.ActionType,
		Conditions:   conds,
		Enabled:      rl.Enabled,
		Priority:     rl.Priority,
		TriggerCount: rl.TriggerCount,
		SuccessRate:  rl.SuccessRate,
		CreatedAt:    rl.CreatedAt,
		UpdatedAt:    rl.UpdatedAt,
	}
}

func mapRules(items []domain.Rule) []RuleResponse {
	res := make([]RuleResponse, 0, len(items))
	for _, rl := range items {
		res = append(res, ruleResponse(rl))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID,
		Title:            t.Title,
		AssignedAgentID:  t.AssignedAgentID,
		WorkspaceID:      t.WorkspaceID,
		PlanningComplete: t.PlanningComplete,
		Status:           t.Status,
		DispatchError:    t.PlanningDispatchError,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(&e.Payload),
	}
}

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(*raw), &m); err != nil {
		return nil
	}
	return m
}

func domainConditions(in []ConditionRequest) []domain.Condition {
	res := make([]domain.Condition, 0, len(in))
	for _, c := range in {
		res = append(res, domain.Condition{Field: c.Field, Operator: c.Operator, Value: c.Value})
	}
	return res
}
