package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/geoquest/internal/geoquest"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type idPath struct {
	ID string `path:"id"`
}

type feedRequest struct {
	Table string `path:"table" enum:"games,templates,lists"`
	ID    string `query:"id" description:"Narrow the stream to a single row."`
}

type healthResponse map[string]struct {
	Status string `json:"status"`
}

type operation struct {
	method, path, summary, description string
	req                                []any
	resp                               map[int]any
	contentType                        string
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "GeoQuest Store API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Canonical store for games, task templates, and task lists, with a row-level change feed.")

	ops := []operation{
		{
			method: http.MethodGet, path: "/healthz",
			summary:     "Health check",
			description: "Returns the health status of backend dependencies.",
			resp:        map[int]any{http.StatusOK: healthResponse{}, http.StatusServiceUnavailable: healthResponse{}},
		},
		{
			method: http.MethodGet, path: "/api/games",
			summary: "List games",
			resp:    map[int]any{http.StatusOK: []geoquest.Game{}},
		},
		{
			method: http.MethodPost, path: "/api/games",
			summary:     "Create game",
			description: "Stores a new game under a generated id.",
			req:         []any{geoquest.Game{}},
			resp:        map[int]any{http.StatusCreated: geoquest.Game{}, http.StatusBadRequest: ErrorResponse{}},
		},
		{
			method: http.MethodGet, path: "/api/games/{id}",
			summary: "Get game",
			req:     []any{idPath{}},
			resp:    map[int]any{http.StatusOK: geoquest.Game{}, http.StatusNotFound: ErrorResponse{}},
		},
		{
			method: http.MethodPut, path: "/api/games/{id}",
			summary:     "Save game",
			description: "Replaces the whole game document and stamps a new dbUpdatedAt.",
			req:         []any{idPath{}, geoquest.Game{}},
			resp:        map[int]any{http.StatusOK: geoquest.Game{}, http.StatusBadRequest: ErrorResponse{}},
		},
		{
			method: http.MethodPost, path: "/api/games/{id}/patch",
			summary:     "Patch points",
			description: "Applies point flag patches in one transaction. Flags only move from false to true. Returns the canonical game.",
			req:         []any{idPath{}, geoquest.PatchRequest{}},
			resp: map[int]any{
				http.StatusOK:         geoquest.Game{},
				http.StatusBadRequest: ErrorResponse{},
				http.StatusNotFound:   ErrorResponse{},
			},
		},
		{
			method: http.MethodDelete, path: "/api/games/{id}",
			summary: "Delete game",
			req:     []any{idPath{}},
			resp:    map[int]any{http.StatusNoContent: nil, http.StatusNotFound: ErrorResponse{}},
		},
		{
			method: http.MethodGet, path: "/api/templates",
			summary: "List task templates",
			resp:    map[int]any{http.StatusOK: []geoquest.TaskTemplate{}},
		},
		{
			method: http.MethodPut, path: "/api/templates/{id}",
			summary: "Save task template",
			req:     []any{idPath{}, geoquest.TaskTemplate{}},
			resp:    map[int]any{http.StatusOK: geoquest.TaskTemplate{}, http.StatusBadRequest: ErrorResponse{}},
		},
		{
			method: http.MethodGet, path: "/api/lists",
			summary: "List task lists",
			resp:    map[int]any{http.StatusOK: []geoquest.TaskList{}},
		},
		{
			method: http.MethodPut, path: "/api/lists/{id}",
			summary: "Save task list",
			req:     []any{idPath{}, geoquest.TaskList{}},
			resp:    map[int]any{http.StatusOK: geoquest.TaskList{}, http.StatusBadRequest: ErrorResponse{}},
		},
		{
			method: http.MethodGet, path: "/api/feed/{table}",
			summary:     "Change feed",
			description: "Server-Sent Events stream. A 'subscribed' event confirms the subscription, then each write arrives as a 'change' event.",
			req:         []any{feedRequest{}},
			resp:        map[int]any{http.StatusOK: nil},
			contentType: "text/event-stream",
		},
	}

	for _, op := range ops {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		if op.description != "" {
			oc.SetDescription(op.description)
		}
		for _, req := range op.req {
			oc.AddReqStructure(req)
		}
		for status, resp := range op.resp {
			opts := []openapi.ContentOption{openapi.WithHTTPStatus(status)}
			if op.contentType != "" {
				opts = append(opts, openapi.WithContentType(op.contentType))
			}
			oc.AddRespStructure(resp, opts...)
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
