package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"actiongate/internal/engine"
	"actiongate/internal/repo"
)

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create auto-approve rule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		rl, err := e.CreateRule(ctx, engine.CreateRuleOptions{
			ActionType: input.Body.ActionType,
			Conditions: domainConditions(input.Body.Conditions),
			Enabled:    input.Body.Enabled,
			Priority:   input.Body.Priority,
			ActorID:    actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(rl)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List rules in evaluation order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActionType string `query:"action_type"`
		Enabled    bool   `query:"enabled"`
	}) (*struct {
		Body []RuleResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRules(ctx, repo.RuleFilters{
			ActionType:  input.ActionType,
			EnabledOnly: input.Enabled,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RuleResponse `json:"body"`
		}{Body: mapRules(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/rules/{id}",
		Summary:     "Get rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		rl, err := e.Repo.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(rl)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/rules/{id}",
		Summary:     "Update rule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateRuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		rl, err := e.UpdateRule(ctx, input.ID, engine.UpdateRuleOptions{
			Enabled:     input.Body.Enabled,
			SuccessRate: input.Body.SuccessRate,
			Priority:    input.Body.Priority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(rl)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-rule",
		Method:      http.MethodDelete,
		Path:        "/rules/{id}",
		Summary:     "Delete rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteRule(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
