// Package engine owns the action review state machine and the task
// dispatch/retry controllers. All multi-field updates happen inside one
// transaction together with their outcome event.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"actiongate/internal/config"
	"actiongate/internal/dispatch"
	"actiongate/internal/domain"
	"actiongate/internal/events"
	"actiongate/internal/repo"
	"actiongate/internal/rules"
)

// ActionDispatcher is the slice of the dispatcher the queue consumes.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, actionType string, data map[string]any) dispatch.Result
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Evaluator rules.Evaluator
	Actions   ActionDispatcher
	Agents    dispatch.TaskRunner
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, actions ActionDispatcher, agents dispatch.TaskRunner) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Evaluator: rules.Evaluator{Repo: r},
		Actions:   actions,
		Agents:    agents,
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateActionOptions are parameters for proposing an action.
type CreateActionOptions struct {
	ActionType  string
	ActionData  map[string]any
	ContextData map[string]any
	RiskLevel   string
	ActorID     string
}

// CreateActionResult reports the stored action and whether a rule
// auto-approved it.
type CreateActionResult struct {
	Action       domain.Action
	AutoApproved bool
	RuleID       string
}

// CreateAction queues a proposed action. The rule evaluator is consulted
// before persisting; on a match the action is stored directly as
// auto_approved and the rule's trigger count moves in the same transaction.
// This is the only path that bypasses human review.
func (e Engine) CreateAction(ctx context.Context, opts CreateActionOptions) (CreateActionResult, error) {
	if opts.ActionType == "" {
		return CreateActionResult{}, validationf("action_type is required")
	}
	if opts.ActionData == nil {
		return CreateActionResult{}, validationf("action_data is required")
	}
	switch opts.RiskLevel {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
	case "":
		return CreateActionResult{}, validationf("risk_level is required")
	default:
		return CreateActionResult{}, validationf("risk_level must be one of low, medium, high")
	}

	matched, err := e.Evaluator.Match(ctx, opts.ActionType, opts.ActionData)
	if err != nil {
		return CreateActionResult{}, err
	}

	dataJSON, err := json.Marshal(opts.ActionData)
	if err != nil {
		return CreateActionResult{}, validationf("invalid action_data: %v", err)
	}
	now := e.nowRFC3339()
	a := domain.Action{
		ID:             uuid.New().String(),
		ActionType:     opts.ActionType,
		ActionDataJSON: string(dataJSON),
		RiskLevel:      opts.RiskLevel,
		Status:         domain.ActionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.ContextData != nil {
		ctxJSON, err := json.Marshal(opts.ContextData)
		if err != nil {
			return CreateActionResult{}, validationf("invalid context_data: %v", err)
		}
		s := string(ctxJSON)
		a.ContextDataJSON = &s
	}
	if matched != nil {
		a.Status = domain.ActionAutoApproved
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CreateActionResult{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
		return CreateActionResult{}, fmt.Errorf("insert action: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "action.created", "action", a.ID, opts.ActorID, events.EventPayload{
		"action_type": a.ActionType,
		"risk_level":  a.RiskLevel,
		"status":      a.Status,
	}); err != nil {
		return CreateActionResult{}, err
	}
	result := CreateActionResult{Action: a}
	if matched != nil {
		if err := e.Repo.IncrementTrigger(ctx, tx, matched.ID, now); err != nil {
			return CreateActionResult{}, fmt.Errorf("increment trigger: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "action.auto_approved", "action", a.ID, opts.ActorID, events.EventPayload{
			"rule_id": matched.ID,
		}); err != nil {
			return CreateActionResult{}, err
		}
		result.AutoApproved = true
		result.RuleID = matched.ID
	}
	if err := tx.Commit(); err != nil {
		return CreateActionResult{}, err
	}
	return result, nil
}

// ApproveAction moves a pending action to approved.
func (e Engine) ApproveAction(ctx context.Context, id, actorID string) (domain.Action, error) {
	return e.review(ctx, id, actorID, EventApprove, repo.ActionTransition{}, nil)
}

// DenyAction moves a pending action to denied and records the reviewer's
// feedback.
func (e Engine) DenyAction(ctx context.Context, id, feedback, actorID string) (domain.Action, error) {
	if feedback == "" {
		return domain.Action{}, validationf("feedback is required")
	}
	return e.review(ctx, id, actorID, EventDeny, repo.ActionTransition{Feedback: &feedback},
		events.EventPayload{"feedback": feedback})
}

// EditAction moves a pending action to edited, storing the corrected
// payload. When execute is set, dispatch is attempted immediately afterward
// and executed_at is stamped on success.
func (e Engine) EditAction(ctx context.Context, id string, editedData map[string]any, execute bool, actorID string) (domain.Action, error) {
	if editedData == nil {
		return domain.Action{}, validationf("edited_data is required")
	}
	editedJSON, err := json.Marshal(editedData)
	if err != nil {
		return domain.Action{}, validationf("invalid edited_data: %v", err)
	}
	current, err := e.Repo.GetAction(ctx, id)
	if err != nil {
		return domain.Action{}, err
	}
	original, _ := decodeMap(current.ActionDataJSON)
	edited := string(editedJSON)
	a, err := e.review(ctx, id, actorID, EventEdit, repo.ActionTransition{EditedData: &edited},
		events.EventPayload{"changed_fields": changedFields(original, editedData)})
	if err != nil {
		return a, err
	}
	if execute {
		return e.ExecuteAction(ctx, id, actorID)
	}
	return a, nil
}

// review applies one state-machine event with the store-level guard: the
// UPDATE re-checks pending, so concurrent reviews of the same action yield
// exactly one success.
func (e Engine) review(ctx context.Context, id, actorID string, ev ReviewEvent, change repo.ActionTransition, payload events.EventPayload) (domain.Action, error) {
	current, err := e.Repo.GetAction(ctx, id)
	if err != nil {
		return domain.Action{}, err
	}
	next, err := NextStatus(current.Status, ev)
	if err != nil {
		var it InvalidTransitionError
		if errors.As(err, &it) {
			it.ID = id
			return domain.Action{}, it
		}
		return domain.Action{}, err
	}

	change.ID = id
	change.NewStatus = next
	change.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	applied, err := e.Repo.TransitionAction(ctx, tx, change)
	if err != nil {
		return domain.Action{}, err
	}
	if !applied {
		// Lost the race against another reviewer.
		latest, getErr := e.Repo.GetAction(ctx, id)
		if getErr != nil {
			return domain.Action{}, getErr
		}
		return domain.Action{}, InvalidTransitionError{ID: id, Status: latest.Status, Event: string(ev)}
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from"] = current.Status
	payload["to"] = next
	if err := e.Events.Append(ctx, tx, "action."+next, "action", id, actorID, payload); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return e.Repo.GetAction(ctx, id)
}

// ExecuteAction dispatches a reviewed action to its executor and stamps
// executed_at on success. Denied and still-pending actions are refused; an
// already-executed action is returned as-is.
func (e Engine) ExecuteAction(ctx context.Context, id, actorID string) (domain.Action, error) {
	a, err := e.Repo.GetAction(ctx, id)
	if err != nil {
		return domain.Action{}, err
	}
	switch a.Status {
	case domain.ActionApproved, domain.ActionAutoApproved, domain.ActionEdited:
	default:
		return domain.Action{}, InvalidTransitionError{ID: id, Status: a.Status, Event: "execute"}
	}
	if a.ExecutedAt != nil {
		return a, nil
	}

	payloadJSON := a.ActionDataJSON
	if a.EditedDataJSON != nil {
		payloadJSON = *a.EditedDataJSON
	}
	data, err := decodeMap(payloadJSON)
	if err != nil {
		return domain.Action{}, fmt.Errorf("decode action payload: %w", err)
	}
	res := e.Actions.Dispatch(ctx, a.ActionType, data)
	if !res.OK {
		// Durable first, then surfaced: a silently lost execution failure
		// is a correctness bug.
		if evErr := e.appendEvent(ctx, "action.execution_failed", "action", id, actorID, events.EventPayload{"error": res.Err}); evErr != nil {
			return domain.Action{}, evErr
		}
		return domain.Action{}, ExecutionError{Reason: res.Err}
	}
	return e.MarkExecuted(ctx, id, actorID)
}

// MarkExecuted stamps executed_at. First-write-wins: a repeat call is a
// no-op success and the original timestamp is preserved. Status is not
// validated here; approved and auto-approved actions dispatch independently
// of review.
func (e Engine) MarkExecuted(ctx context.Context, id, actorID string) (domain.Action, error) {
	if _, err := e.Repo.GetAction(ctx, id); err != nil {
		return domain.Action{}, err
	}
	now := e.nowRFC3339()
	applied, err := e.Repo.MarkActionExecuted(ctx, id, now, now)
	if err != nil {
		return domain.Action{}, err
	}
	if applied {
		if err := e.appendEvent(ctx, "action.executed", "action", id, actorID, events.EventPayload{"executed_at": now}); err != nil {
			return domain.Action{}, err
		}
	}
	return e.Repo.GetAction(ctx, id)
}

// appendEvent writes a single event in its own transaction, for outcomes
// that are not part of a larger multi-write.
func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func decodeMap(raw string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// changedFields lists top-level keys that differ between the original and
// edited payloads. The outcome reporter uses this as the edit-diff signal.
func changedFields(original, edited map[string]any) []string {
	seen := map[string]bool{}
	var fields []string
	for k, v := range edited {
		ov, ok := original[k]
		if !ok || !reflect.DeepEqual(ov, v) {
			fields = append(fields, k)
			seen[k] = true
		}
	}
	for k := range original {
		if _, ok := edited[k]; !ok && !seen[k] {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}
