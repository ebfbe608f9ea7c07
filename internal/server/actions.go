package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"actiongate/internal/engine"
	"actiongate/internal/repo"
)

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-action",
		Method:        http.MethodPost,
		Path:          "/actions",
		Summary:       "Propose an action",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateActionRequest `json:"body"`
	}) (*struct {
		Body CreateActionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		res, err := e.CreateAction(ctx, engine.CreateActionOptions{
			ActionType:  input.Body.ActionType,
			ActionData:  input.Body.ActionData,
			ContextData: input.Body.ContextData,
			RiskLevel:   input.Body.RiskLevel,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateActionResponse `json:"body"`
		}{Body: CreateActionResponse{
			Action:       actionResponse(res.Action),
			AutoApproved: res.AutoApproved,
			RuleID:       res.RuleID,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List actions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:",pending,approved,denied,edited,auto_approved"`
		ActionType string `query:"action_type"`
		RiskLevel  string `query:"risk_level" enum:",low,medium,high"`
		Limit      int    `query:"limit" default:"50"`
		Offset     int    `query:"offset"`
	}) (*struct {
		Body paginatedActions `json:"body"`
	}, error) {
		items, err := e.Repo.ListActions(ctx, repo.ActionFilters{
			Status:     input.Status,
			ActionType: input.ActionType,
			RiskLevel:  input.RiskLevel,
			Limit:      normalizeLimit(input.Limit),
			Offset:     input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedActions `json:"body"`
		}{Body: paginatedActions{Items: mapActions(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{id}",
		Summary:     "Get action",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAction(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/approve",
		Summary:     "Approve a pending action",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		a, err := e.ApproveAction(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deny-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/deny",
		Summary:     "Deny a pending action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body DenyActionRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		a, err := e.DenyAction(ctx, input.ID, input.Body.Feedback, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/edit",
		Summary:     "Edit a pending action's payload",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body EditActionRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		a, err := e.EditAction(ctx, input.ID, input.Body.EditedData, input.Body.Execute, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/execute",
		Summary:     "Dispatch a reviewed action to its executor",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		a, err := e.ExecuteAction(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(a)}, nil
	})
}
