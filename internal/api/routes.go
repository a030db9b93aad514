package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Workflows (каталог definitions)
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("GET /api/v1/workflows/{type}", chain(http.HandlerFunc(h.GetWorkflow)))

	// Instances
	mux.Handle("POST /api/v1/workflows/{type}/instances", chain(http.HandlerFunc(h.StartInstance)))
	mux.Handle("GET /api/v1/instances", chain(http.HandlerFunc(h.ListInstances)))
	mux.Handle("GET /api/v1/instances/{id}", chain(http.HandlerFunc(h.GetInstance)))
	mux.Handle("GET /api/v1/instances/{id}/events", chain(http.HandlerFunc(h.ListInstanceEvents)))
	mux.Handle("POST /api/v1/instances/{id}/input", chain(http.HandlerFunc(h.SubmitInput)))
	mux.Handle("POST /api/v1/instances/{id}/cancel", chain(http.HandlerFunc(h.CancelInstance)))

	// Callbacks коллабораторов (альтернатива очереди actions.callback)
	mux.Handle("POST /api/v1/callbacks", chain(http.HandlerFunc(h.PostCallback)))
}
