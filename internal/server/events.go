package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"actiongate/internal/engine"
)

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",action,rule,task"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		if input.Cursor != "" {
			cursor, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation_error", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			items, err := e.Repo.EventsAfter(ctx, limit+1, cursor)
			if err != nil {
				return nil, handleError(err)
			}
			resp := paginatedEvents{Items: []EventResponse{}}
			if len(items) > limit {
				items = items[:limit]
			}
			for _, evt := range items {
				resp.Items = append(resp.Items, eventResponse(evt))
			}
			if len(resp.Items) > 0 {
				resp.NextCursor = fmt.Sprintf("%d", items[len(items)-1].ID)
			}
			return &struct {
				Body paginatedEvents `json:"body"`
			}{Body: resp}, nil
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
