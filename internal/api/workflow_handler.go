package api

import (
	"net/http"
)

// ListWorkflows возвращает каталог зарегистрированных workflow types.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	types := h.registry.Types()

	result := make([]WorkflowResponse, 0, len(types))
	for _, t := range types {
		def, err := h.registry.Lookup(t)
		if err != nil {
			continue
		}
		result = append(result, WorkflowFromDomain(def))
	}

	List(w, result, len(result))
}

// GetWorkflow возвращает последнюю версию definition.
// GET /api/v1/workflows/{type}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := h.registry.Lookup(r.PathValue("type"))
	if HandleCoreError(w, h.logger, err, "workflow type not found") {
		return
	}

	Success(w, WorkflowFromDomain(def))
}
