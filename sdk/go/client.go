// Package actiongatesdk is a minimal client for the Actiongate HTTP API,
// intended for agents that propose actions and poll for their disposition.
package actiongatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Actiongate HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ActorID: actorID,
		Timeout: 10 * time.Second,
	}
}

// Action represents the API action model.
type Action struct {
	ID          string         `json:"id"`
	ActionType  string         `json:"action_type"`
	ActionData  map[string]any `json:"action_data"`
	ContextData map[string]any `json:"context_data,omitempty"`
	RiskLevel   string         `json:"risk_level"`
	Status      string         `json:"status"`
	EditedData  map[string]any `json:"edited_data,omitempty"`
	Feedback    *string        `json:"user_feedback,omitempty"`
	ExecutedAt  *string        `json:"executed_at,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// CreateActionResult reports the stored action and the auto-approve outcome.
type CreateActionResult struct {
	Action       Action `json:"action"`
	AutoApproved bool   `json:"auto_approved"`
	RuleID       string `json:"rule_id,omitempty"`
}

// Rule represents an auto-approve rule.
type Rule struct {
	ID           string         `json:"id"`
	ActionType   string         `json:"action_type"`
	Conditions   []RuleCondition `json:"conditions"`
	Enabled      bool           `json:"enabled"`
	Priority     int            `json:"priority"`
	TriggerCount int            `json:"trigger_count"`
	SuccessRate  float64        `json:"success_rate"`
}

// RuleCondition is one predicate on the proposed action data.
type RuleCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Task represents the API task model.
type Task struct {
	ID                    string  `json:"id"`
	Title                 string  `json:"title"`
	AssignedAgentID       *string `json:"assigned_agent_id,omitempty"`
	PlanningComplete      bool    `json:"planning_complete"`
	Status                string  `json:"status"`
	PlanningDispatchError *string `json:"planning_dispatch_error,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAction proposes an action for review.
func (c *Client) CreateAction(ctx context.Context, actionType string, actionData map[string]any, riskLevel string, contextData map[string]any) (CreateActionResult, error) {
	body := map[string]any{
		"action_type": actionType,
		"action_data": actionData,
		"risk_level":  riskLevel,
	}
	if contextData != nil {
		body["context_data"] = contextData
	}
	var resp CreateActionResult
	err := c.do(ctx, http.MethodPost, "v0/actions", body, &resp)
	return resp, err
}

// GetAction fetches an action by id.
func (c *Client) GetAction(ctx context.Context, id string) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodGet, "v0/actions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListActions returns actions filtered by status.
func (c *Client) ListActions(ctx context.Context, status string, limit int) ([]Action, error) {
	endpoint := "v0/actions"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Action `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// ApproveAction approves a pending action.
func (c *Client) ApproveAction(ctx context.Context, id string) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, "v0/actions/"+url.PathEscape(id)+"/approve", nil, &resp)
	return resp, err
}

// DenyAction denies a pending action with feedback.
func (c *Client) DenyAction(ctx context.Context, id, feedback string) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, "v0/actions/"+url.PathEscape(id)+"/deny", map[string]any{"feedback": feedback}, &resp)
	return resp, err
}

// EditAction replaces a pending action's payload, optionally executing it.
func (c *Client) EditAction(ctx context.Context, id string, editedData map[string]any, execute bool) (Action, error) {
	var resp Action
	body := map[string]any{"edited_data": editedData, "execute": execute}
	err := c.do(ctx, http.MethodPost, "v0/actions/"+url.PathEscape(id)+"/edit", body, &resp)
	return resp, err
}

// ExecuteAction dispatches a reviewed action to its executor.
func (c *Client) ExecuteAction(ctx context.Context, id string) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, "v0/actions/"+url.PathEscape(id)+"/execute", nil, &resp)
	return resp, err
}

// CreateRule creates an auto-approve rule.
func (c *Client) CreateRule(ctx context.Context, actionType string, conditions []RuleCondition, priority int) (Rule, error) {
	body := map[string]any{
		"action_type": actionType,
		"conditions":  conditions,
		"priority":    priority,
	}
	var resp Rule
	err := c.do(ctx, http.MethodPost, "v0/rules", body, &resp)
	return resp, err
}

// SetRuleSuccessRate writes back the observed success rate for a rule.
func (c *Client) SetRuleSuccessRate(ctx context.Context, id string, rate float64) (Rule, error) {
	var resp Rule
	err := c.do(ctx, http.MethodPatch, "v0/rules/"+url.PathEscape(id), map[string]any{"success_rate": rate}, &resp)
	return resp, err
}

// RetryDispatch retries a failed task dispatch.
func (c *Client) RetryDispatch(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(taskID)+"/retry-dispatch", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
