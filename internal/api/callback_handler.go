package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Kontora/internal/mq"
)

// PostCallback принимает результат внешнего действия по HTTP.
// POST /api/v1/callbacks
//
// Callback не применяется здесь: он публикуется в очередь
// actions.callback и обрабатывается core-процессом. Это даёт
// коллабораторам единую семантику доставки независимо от ingress'а
// (HTTP или очередь напрямую).
func (h *Handler) PostCallback(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeInternalError, "callback ingress unavailable")
		return
	}

	var req CallbackRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Handle.InstanceID == uuid.Nil {
		BadRequest(w, "handle.instance_id is required")
		return
	}
	if req.Outcome.Kind == "" {
		BadRequest(w, "outcome.kind is required")
		return
	}

	err := h.publisher.PublishCallback(r.Context(), mq.CallbackPayload{
		Handle:  req.Handle,
		Outcome: req.Outcome,
	})
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Принято в обработку; итог станет виден в статусе instance
	JSON(w, http.StatusAccepted, DataResponse{Data: map[string]any{
		"accepted":    true,
		"instance_id": req.Handle.InstanceID,
	}})
}
