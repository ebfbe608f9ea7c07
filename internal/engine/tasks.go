package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"actiongate/internal/domain"
	"actiongate/internal/events"
	"actiongate/internal/repo"
)

// CreateTaskOptions are parameters for creating a dispatchable task.
type CreateTaskOptions struct {
	Title           string
	AssignedAgentID string
	WorkspaceID     string
	ActorID         string
}

func (e Engine) CreateTask(ctx context.Context, opts CreateTaskOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, validationf("title is required")
	}
	now := e.nowRFC3339()
	t := domain.Task{
		ID:        uuid.New().String(),
		Title:     opts.Title,
		Status:    domain.TaskPendingDispatch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.AssignedAgentID != "" {
		t.AssignedAgentID = &opts.AssignedAgentID
	}
	if opts.WorkspaceID != "" {
		t.WorkspaceID = &opts.WorkspaceID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTaskOptions covers the mutations owned by callers rather than the
// dispatch controller: agent assignment, workspace, planning completion.
type UpdateTaskOptions struct {
	Title            *string
	AssignAgent      *string
	WorkspaceID      *string
	PlanningComplete *bool
}

func (e Engine) UpdateTask(ctx context.Context, id string, opts UpdateTaskOptions) (domain.Task, error) {
	update := repo.TaskUpdate{
		Title:            opts.Title,
		AssignAgent:      opts.AssignAgent,
		WorkspaceID:      opts.WorkspaceID,
		PlanningComplete: opts.PlanningComplete,
	}
	if err := e.Repo.UpdateTask(ctx, id, update, e.nowRFC3339()); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, id)
}

// DispatchTask hands a planning-complete task to its assigned agent.
// Preconditions are checked in order, first failure wins: task exists,
// planning complete, agent assigned. The dispatch outcome lands as one
// atomic write together with its event: success clears the error and moves
// the task to inbox; failure stores the error text and forces
// pending_dispatch. Exactly one of the two happens for any call that passes
// the preconditions.
func (e Engine) DispatchTask(ctx context.Context, taskID, actorID string) (task domain.Task, err error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.PlanningComplete {
		return domain.Task{}, PreconditionError{Reason: "planning is not complete"}
	}
	if t.AssignedAgentID == nil || *t.AssignedAgentID == "" {
		return domain.Task{}, PreconditionError{Reason: "no agent assigned"}
	}

	// A controller-level fault is not a dispatch-reported failure, but it
	// must still be visible to a human. Persist it best-effort outside the
	// atomic outcome write and report failure to the caller.
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("dispatch fault: %v", r)
			if recErr := e.Repo.RecordDispatchFault(context.WithoutCancel(ctx), taskID, msg, e.nowRFC3339()); recErr != nil {
				log.Printf("task %s: record dispatch fault: %v", taskID, recErr)
			}
			task = domain.Task{}
			err = ExecutionError{Reason: msg}
		}
	}()

	res := e.Agents.Run(ctx, t)
	now := e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.recordFault(ctx, taskID, err)
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if res.OK {
		if err := e.Repo.SetDispatchOutcome(ctx, tx, taskID, domain.TaskInbox, nil, now); err != nil {
			return domain.Task{}, err
		}
		if err := e.Events.Append(ctx, tx, "task.dispatched", "task", taskID, actorID, events.EventPayload{
			"agent_id": *t.AssignedAgentID,
		}); err != nil {
			return domain.Task{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Task{}, err
		}
		return e.Repo.GetTask(ctx, taskID)
	}

	if err := e.Repo.SetDispatchOutcome(ctx, tx, taskID, domain.TaskPendingDispatch, &res.Err, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.dispatch_failed", "task", taskID, actorID, events.EventPayload{
		"agent_id": *t.AssignedAgentID,
		"error":    res.Err,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{}, ExecutionError{Reason: res.Err}
}

// RetryDispatch re-invokes the dispatcher for a previously failed dispatch.
// Eligibility and outcomes are identical to the initial dispatch; retrying
// is always an explicit call, never automatic.
func (e Engine) RetryDispatch(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.DispatchTask(ctx, taskID, actorID)
}

func (e Engine) recordFault(ctx context.Context, taskID string, cause error) {
	msg := fmt.Sprintf("dispatch fault: %v", cause)
	if err := e.Repo.RecordDispatchFault(context.WithoutCancel(ctx), taskID, msg, e.nowRFC3339()); err != nil {
		log.Printf("task %s: record dispatch fault: %v", taskID, err)
	}
}
