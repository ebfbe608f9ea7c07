package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"actiongate/internal/engine"
	"actiongate/internal/repo"
)

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		opts := engine.CreateTaskOptions{
			Title:   input.Body.Title,
			ActorID: actorID(ctx),
		}
		if input.Body.AssignedAgentID != nil {
			opts.AssignedAgentID = *input.Body.AssignedAgentID
		}
		if input.Body.WorkspaceID != nil {
			opts.WorkspaceID = *input.Body.WorkspaceID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:",pending_dispatch,inbox"`
		Limit  int    `query:"limit" default:"50"`
		Offset int    `query:"offset"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			Status: input.Status,
			Limit:  normalizeLimit(input.Limit),
			Offset: input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		t, err := e.UpdateTask(ctx, input.ID, engine.UpdateTaskOptions{
			Title:            input.Body.Title,
			AssignAgent:      input.Body.AssignedAgentID,
			WorkspaceID:      input.Body.WorkspaceID,
			PlanningComplete: input.Body.PlanningComplete,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/dispatch",
		Summary:     "Dispatch task to its assigned agent",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.DispatchTask(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-dispatch-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/retry-dispatch",
		Summary:     "Retry a failed task dispatch",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.RetryDispatch(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}
