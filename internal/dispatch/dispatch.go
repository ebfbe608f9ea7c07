// Package dispatch routes approved actions and planning-complete tasks to
// external executor capabilities and normalizes their results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"actiongate/internal/domain"
)

// Result is the normalized outcome of a dispatch attempt. A missing
// executor and a rejected payload are both failures; only the error text
// differs. Retry policy lives one layer up.
type Result struct {
	OK  bool
	Err string
}

func success() Result           { return Result{OK: true} }
func failure(msg string) Result { return Result{Err: msg} }
func failuref(format string, args ...any) Result {
	return failure(fmt.Sprintf(format, args...))
}

// Executor performs one action type's effect. Implementations live outside
// the queue core and are registered on the Dispatcher, so they can be
// swapped or mocked without touching queue logic.
type Executor interface {
	ActionType() string
	Execute(ctx context.Context, data map[string]any) error
}

// DefaultTimeout bounds executor calls; a hung executor must not stall the
// queue.
const DefaultTimeout = 5 * time.Second

// Dispatcher routes by action type to a registered Executor.
type Dispatcher struct {
	timeout   time.Duration
	executors map[string]Executor
}

func New(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		timeout:   timeout,
		executors: make(map[string]Executor),
	}
}

// Register adds an executor capability. Later registrations for the same
// action type replace earlier ones.
func (d *Dispatcher) Register(ex Executor) {
	d.executors[ex.ActionType()] = ex
}

// Dispatch invokes the executor for actionType, bounded by the configured
// timeout. A timeout is a failure with a timeout-specific message.
func (d *Dispatcher) Dispatch(ctx context.Context, actionType string, data map[string]any) Result {
	ex, ok := d.executors[actionType]
	if !ok {
		return failuref("no executor registered for action type %q", actionType)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := ex.Execute(ctx, data); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failuref("executor for %q timed out after %s", actionType, d.timeout)
		}
		return failure(err.Error())
	}
	return success()
}

// TaskRunner hands a planning-complete task to its assigned agent.
type TaskRunner interface {
	Run(ctx context.Context, task domain.Task) Result
}
