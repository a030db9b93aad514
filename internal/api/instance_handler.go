package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Kontora/internal/domain"
)

// StartInstance запускает новую регистрацию.
// POST /api/v1/workflows/{type}/instances
func (h *Handler) StartInstance(w http.ResponseWriter, r *http.Request) {
	workflowType := r.PathValue("type")

	var req StartInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	inst, err := h.core.StartWorkflow(r.Context(), workflowType, req.Facts)
	if HandleCoreError(w, h.logger, err, "workflow type not found") {
		return
	}

	Created(w, h.instanceResponse(inst))
}

// GetInstance возвращает снимок instance.
// GET /api/v1/instances/{id}
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	inst, err := h.core.GetInstance(r.Context(), id)
	if HandleCoreError(w, h.logger, err, "instance not found") {
		return
	}

	Success(w, h.instanceResponse(inst))
}

// ListInstances возвращает instances в указанном статусе.
// GET /api/v1/instances?status=...&limit=...
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	status := domain.InstanceStatus(r.URL.Query().Get("status"))
	if status == "" {
		BadRequest(w, "status query parameter is required")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	instances, err := h.core.ListInstancesByStatus(r.Context(), status, limit)
	if HandleCoreError(w, h.logger, err, "") {
		return
	}

	result := make([]InstanceResponse, len(instances))
	for i := range instances {
		result[i] = h.instanceResponse(&instances[i])
	}

	List(w, result, len(result))
}

// ListInstanceEvents возвращает историю instance.
// GET /api/v1/instances/{id}/events
func (h *Handler) ListInstanceEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	events, err := h.core.ListInstanceEvents(r.Context(), id)
	if HandleCoreError(w, h.logger, err, "instance not found") {
		return
	}

	result := make([]StepEventResponse, len(events))
	for i, ev := range events {
		result[i] = StepEventFromDomain(ev)
	}

	List(w, result, len(result))
}

// SubmitInput подаёт ответ пользователя ожидающему instance.
// POST /api/v1/instances/{id}/input
func (h *Handler) SubmitInput(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	var req UserInputRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	inst, err := h.core.SubmitUserInput(r.Context(), id, req.Facts)
	if HandleCoreError(w, h.logger, err, "instance not found") {
		return
	}

	Success(w, h.instanceResponse(inst))
}

// CancelInstance отменяет регистрацию.
// POST /api/v1/instances/{id}/cancel
func (h *Handler) CancelInstance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	var req CancelInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	inst, err := h.core.CancelWorkflow(r.Context(), id, req.Reason)
	if HandleCoreError(w, h.logger, err, "instance not found") {
		return
	}

	Success(w, h.instanceResponse(inst))
}

// instanceResponse строит DTO, дополняя instance именем текущего шага.
func (h *Handler) instanceResponse(inst *domain.WorkflowInstance) InstanceResponse {
	var currentStep string
	if def, err := h.registry.Get(inst.WorkflowType, inst.DefinitionVersion); err == nil {
		if inst.CurrentStepIndex < len(def.Steps) {
			currentStep = def.Steps[inst.CurrentStepIndex].Name
		}
	}
	return InstanceFromDomain(inst, currentStep)
}

// decodeBody декодирует JSON тело запроса; пустое тело — не ошибка.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}
