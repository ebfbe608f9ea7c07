package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"actiongate/internal/config"
	"actiongate/internal/db"
	"actiongate/internal/dispatch"
	"actiongate/internal/domain"
	"actiongate/internal/engine"
	"actiongate/internal/migrate"
	"actiongate/internal/repo"
)

type stubDispatcher struct {
	result dispatch.Result
	calls  []string
}

func (s *stubDispatcher) Dispatch(ctx context.Context, actionType string, data map[string]any) dispatch.Result {
	s.calls = append(s.calls, actionType)
	return s.result
}

type stubRunner struct {
	result dispatch.Result
	calls  int
}

func (s *stubRunner) Run(ctx context.Context, task domain.Task) dispatch.Result {
	s.calls++
	return s.result
}

type testEnv struct {
	Engine  engine.Engine
	Actions *stubDispatcher
	Agents  *stubRunner
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	actions := &stubDispatcher{result: dispatch.Result{OK: true}}
	agents := &stubRunner{result: dispatch.Result{OK: true}}
	eng := engine.New(conn, config.Default(), actions, agents)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Actions: actions, Agents: agents, Ctx: context.Background()}
}

func createPending(t *testing.T, env testEnv) domain.Action {
	t.Helper()
	res, err := env.Engine.CreateAction(env.Ctx, engine.CreateActionOptions{
		ActionType: "send_email",
		ActionData: map[string]any{"to": "user@example.com", "amount": 50},
		RiskLevel:  domain.RiskLow,
		ActorID:    "agent-1",
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	return res.Action
}

func TestCreateActionValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.CreateActionOptions{
		{ActionData: map[string]any{}, RiskLevel: "low"},
		{ActionType: "send_email", RiskLevel: "low"},
		{ActionType: "send_email", ActionData: map[string]any{}},
		{ActionType: "send_email", ActionData: map[string]any{}, RiskLevel: "extreme"},
	}
	for _, opts := range cases {
		_, err := env.Engine.CreateAction(env.Ctx, opts)
		var ve engine.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected validation error for %+v, got %v", opts, err)
		}
	}
}

func TestCreateActionStaysPendingWithoutMatch(t *testing.T) {
	env := newTestEnv(t)
	a := createPending(t, env)
	if a.Status != domain.ActionPending {
		t.Fatalf("expected pending, got %s", a.Status)
	}
}

func TestAutoApproveIncrementsTriggerOnce(t *testing.T) {
	env := newTestEnv(t)
	rl, err := env.Engine.CreateRule(env.Ctx, engine.CreateRuleOptions{
		ActionType: "send_email",
		Conditions: []domain.Condition{{Field: "amount", Operator: "lt", Value: 100}},
		ActorID:    "admin",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	res, err := env.Engine.CreateAction(env.Ctx, engine.CreateActionOptions{
		ActionType: "send_email",
		ActionData: map[string]any{"amount": 50},
		RiskLevel:  domain.RiskLow,
		ActorID:    "agent-1",
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	if !res.AutoApproved || res.RuleID != rl.ID {
		t.Fatalf("expected auto-approve by %s, got %+v", rl.ID, res)
	}
	if res.Action.Status != domain.ActionAutoApproved {
		t.Fatalf("expected auto_approved, got %s", res.Action.Status)
	}
	got, err := env.Engine.Repo.GetRule(env.Ctx, rl.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.TriggerCount != 1 {
		t.Fatalf("expected trigger_count 1, got %d", got.TriggerCount)
	}

	// an action outside the threshold stays pending and does not trigger
	res2, err := env.Engine.CreateAction(env.Ctx, engine.CreateActionOptions{
		ActionType: "send_email",
		ActionData: map[string]any{"amount": 150},
		RiskLevel:  domain.RiskLow,
		ActorID:    "agent-1",
	})
	if err != nil {
		t.Fatalf("create second action: %v", err)
	}
	if res2.AutoApproved || res2.Action.Status != domain.ActionPending {
		t.Fatalf("expected pending, got %+v", res2)
	}
	got, _ = env.Engine.Repo.GetRule(env.Ctx, rl.ID)
	if got.TriggerCount != 1 {
		t.Fatalf("trigger_count moved to %d", got.TriggerCount)
	}
}

func TestReviewSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	a := createPending(t, env)
	approved, err := env.Engine.ApproveAction(env.Ctx, a.ID, "alice")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.ActionApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	_, err = env.Engine.DenyAction(env.Ctx, a.ID, "too risky", "bob")
	var it engine.InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if it.Status != domain.ActionApproved {
		t.Fatalf("expected conflict against approved, got %s", it.Status)
	}
}

func TestDenyRequiresFeedback(t *testing.T) {
	env := newTestEnv(t)
	a := createPending(t, env)
	_, err := env.Engine.DenyAction(env.Ctx, a.ID, "", "alice")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	denied, err := env.Engine.DenyAction(env.Ctx, a.ID, "wrong recipient", "alice")
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.Status != domain.ActionDenied || denied.UserFeedback == nil || *denied.UserFeedback != "wrong recipient" {
		t.Fatalf("feedback not stored: %+v", denied)
	}
}

func TestEditPreservesOriginalPayload(t *testing.T) {
	env := newTestEnv(t)
	a := createPending(t, env)
	edited, err := env.Engine.EditAction(env.Ctx, a.ID, map[string]any{"to": "other@example.com", "amount": 50}, false, "alice")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Status != domain.ActionEdited {
		t.Fatalf("expected edited, got %s", edited.Status)
	}
	if edited.EditedDataJSON == nil {
		t.Fatalf("edited_data not stored")
	}
	if edited.ActionDataJSON != a.ActionDataJSON {
		t.Fatalf("original payload mutated")
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "action.edited", "action", a.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one edit event, got %d", len(events))
	}
}

func TestExecuteActionSuccess(t *testing.T) {
	env := newTestEnv(t)
	a := createPending(t, env)
	if _, err := env.Engine.ApproveAction(env.Ctx, a.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	executed, err := env.Engine.ExecuteAction(env.Ctx, a.ID, "alice")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if executed.ExecutedAt == nil {
		t.Fatalf("executed_at not stamped")
	}
	if len(env.Actions.calls) != 1 || env.Actions.calls[0] != "send_email" {
		t.Fatalf("dispatcher calls: %v", env.Actions.calls)
	}
	// repeat is a no-op success, no second dispatch
	again, err := env.Engine.ExecuteAction(env.Ctx, a.ID, "alice")
	if err != nil {
		t.Fatalf("re-execute: %v", err)
	}
	if *again.ExecutedAt != *executed.ExecutedAt {
		t.Fatalf("executed_at changed on repeat")
	}
	if len(env.Actions.calls) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(env.Actions.calls))
	}
}

func TestExecuteActionFailureIsDurable(t *testing.T) {
	env := newTestEnv(t)
	env.Actions.result = dispatch.Result{Err: "executor rejected payload: status 500: boom"}
	a := createPending(t, env)
	if _, err := env.Engine.ApproveAction(env.Ctx, a.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.ExecuteAction(env.Ctx, a.ID, "alice")
	var xe engine.ExecutionError
	if !errors.As(err, &xe) {
		t.Fatalf("expected execution error, got %v", err)
	}
	got, err := env.Engine.Repo.GetAction(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExecutedAt != nil {
		t.Fatalf("failed execution must not stamp executed_at")
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "action.execution_failed", "action", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected durable failure event, got %d", len(events))
	}
}

func TestExecuteRefusesPendingAndDenied(t *testing.T) {
	env := newTestEnv(t)
	a := createPending(t, env)
	_, err := env.Engine.ExecuteAction(env.Ctx, a.ID, "alice")
	var it engine.InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("expected invalid transition for pending, got %v", err)
	}
	if _, err := env.Engine.DenyAction(env.Ctx, a.ID, "no", "alice"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ExecuteAction(env.Ctx, a.ID, "alice")
	if !errors.As(err, &it) {
		t.Fatalf("expected invalid transition for denied, got %v", err)
	}
	if len(env.Actions.calls) != 0 {
		t.Fatalf("dispatcher must not be called: %v", env.Actions.calls)
	}
}

func TestEditWithExecute(t *testing.T) {
	env := newTestEnv(t)
	a := createPending(t, env)
	got, err := env.Engine.EditAction(env.Ctx, a.ID, map[string]any{"to": "fixed@example.com"}, true, "alice")
	if err != nil {
		t.Fatalf("edit+execute: %v", err)
	}
	if got.Status != domain.ActionEdited || got.ExecutedAt == nil {
		t.Fatalf("expected edited and executed, got %+v", got)
	}
	if len(env.Actions.calls) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(env.Actions.calls))
	}
}

func TestMarkExecutedFirstWriteWins(t *testing.T) {
	env := newTestEnv(t)
	a := createPending(t, env)
	if _, err := env.Engine.ApproveAction(env.Ctx, a.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.MarkExecuted(env.Ctx, a.ID, "alice")
	if err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	second, err := env.Engine.MarkExecuted(env.Ctx, a.ID, "bob")
	if err != nil {
		t.Fatalf("repeat mark executed: %v", err)
	}
	if *second.ExecutedAt != *first.ExecutedAt {
		t.Fatalf("executed_at overwritten: %s != %s", *second.ExecutedAt, *first.ExecutedAt)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "action.executed", "action", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one executed event, got %d", len(events))
	}
}

func TestCreateRuleValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateRule(env.Ctx, engine.CreateRuleOptions{ActionType: "send_email", ActorID: "admin"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for empty conditions, got %v", err)
	}
	_, err = env.Engine.CreateRule(env.Ctx, engine.CreateRuleOptions{
		ActionType: "send_email",
		Conditions: []domain.Condition{{Field: "amount", Operator: "between", Value: 5}},
		ActorID:    "admin",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for unknown operator, got %v", err)
	}
}

func TestUpdateRuleSuccessRate(t *testing.T) {
	env := newTestEnv(t)
	rl, err := env.Engine.CreateRule(env.Ctx, engine.CreateRuleOptions{
		ActionType: "send_email",
		Conditions: []domain.Condition{{Field: "amount", Operator: "lt", Value: 100}},
		ActorID:    "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	rate := 0.85
	got, err := env.Engine.UpdateRule(env.Ctx, rl.ID, engine.UpdateRuleOptions{SuccessRate: &rate})
	if err != nil {
		t.Fatalf("update rule: %v", err)
	}
	if got.SuccessRate != 0.85 {
		t.Fatalf("success_rate %v", got.SuccessRate)
	}
	bad := 1.5
	_, err = env.Engine.UpdateRule(env.Ctx, rl.ID, engine.UpdateRuleOptions{SuccessRate: &bad})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func createTask(t *testing.T, env testEnv, agent string, planningDone bool) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		Title:           "build feature",
		AssignedAgentID: agent,
		ActorID:         "alice",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if planningDone {
		done := true
		task, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.UpdateTaskOptions{PlanningComplete: &done})
		if err != nil {
			t.Fatalf("set planning complete: %v", err)
		}
	}
	return task
}

func TestDispatchPreconditionsInOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.DispatchTask(env.Ctx, "missing", "alice")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	task := createTask(t, env, "agent-7", false)
	_, err = env.Engine.DispatchTask(env.Ctx, task.ID, "alice")
	var pe engine.PreconditionError
	if !errors.As(err, &pe) || pe.Reason != "planning is not complete" {
		t.Fatalf("expected planning precondition, got %v", err)
	}

	unassigned := createTask(t, env, "", true)
	_, err = env.Engine.DispatchTask(env.Ctx, unassigned.ID, "alice")
	if !errors.As(err, &pe) || pe.Reason != "no agent assigned" {
		t.Fatalf("expected agent precondition, got %v", err)
	}

	if env.Agents.calls != 0 {
		t.Fatalf("runner must not be called on precondition failure")
	}
	got, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskPendingDispatch || got.PlanningDispatchError != nil {
		t.Fatalf("precondition failure mutated task: %+v", got)
	}
}

func TestDispatchOutcomes(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "agent-7", true)

	env.Agents.result = dispatch.Result{Err: "agent unreachable: connection refused"}
	_, err := env.Engine.DispatchTask(env.Ctx, task.ID, "alice")
	var xe engine.ExecutionError
	if !errors.As(err, &xe) {
		t.Fatalf("expected execution error, got %v", err)
	}
	got, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskPendingDispatch {
		t.Fatalf("failed dispatch must keep pending_dispatch, got %s", got.Status)
	}
	if got.PlanningDispatchError == nil || *got.PlanningDispatchError != "agent unreachable: connection refused" {
		t.Fatalf("dispatch error not stored: %+v", got.PlanningDispatchError)
	}

	env.Agents.result = dispatch.Result{OK: true}
	retried, err := env.Engine.RetryDispatch(env.Ctx, task.ID, "alice")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != domain.TaskInbox {
		t.Fatalf("expected inbox, got %s", retried.Status)
	}
	if retried.PlanningDispatchError != nil {
		t.Fatalf("error not cleared on success: %v", *retried.PlanningDispatchError)
	}
	if env.Agents.calls != 2 {
		t.Fatalf("expected 2 runner calls, got %d", env.Agents.calls)
	}

	failures, _ := env.Engine.Repo.LatestEvents(env.Ctx, 10, "task.dispatch_failed", "task", task.ID)
	successes, _ := env.Engine.Repo.LatestEvents(env.Ctx, 10, "task.dispatched", "task", task.ID)
	if len(failures) != 1 || len(successes) != 1 {
		t.Fatalf("expected one failure and one success event, got %d/%d", len(failures), len(successes))
	}
}
