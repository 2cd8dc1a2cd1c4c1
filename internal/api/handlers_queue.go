package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/httputil"
	"github.com/ignite/mailqueue/internal/service/queue"
)

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// EnqueueMessage queues one message.
func (h *Handlers) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req queue.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	item, err := h.Queue.Enqueue(r.Context(), req)
	if err != nil {
		h.writeQueueError(w, err)
		return
	}
	httputil.Created(w, item)
}

// EnqueueBatch queues up to 1000 messages in one call.
func (h *Handlers) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []queue.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if len(reqs) == 0 || len(reqs) > 1000 {
		httputil.BadRequest(w, "batch must contain between 1 and 1000 messages")
		return
	}

	result, err := h.Queue.EnqueueBatch(r.Context(), reqs)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, result)
}

// GetQueueItem returns one queue item by ID.
func (h *Handlers) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	item, err := h.Queue.Get(r.Context(), id)
	if err != nil {
		h.writeQueueError(w, err)
		return
	}
	httputil.OK(w, item)
}

// ListQueueItems lists items, optionally filtered by ?status=.
func (h *Handlers) ListQueueItems(w http.ResponseWriter, r *http.Request) {
	status := domain.QueueStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	items, err := h.Queue.List(r.Context(), status, limit, offset)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if items == nil {
		items = []domain.QueueItem{}
	}
	httputil.OK(w, map[string]any{"items": items, "count": len(items)})
}

// CancelQueueItem cancels a pending or deferred item.
func (h *Handlers) CancelQueueItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.Queue.Cancel(r.Context(), id); err != nil {
		h.writeQueueError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "cancelled"})
}

// RetryQueueItem requeues a failed or cancelled item.
func (h *Handlers) RetryQueueItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.Queue.Retry(r.Context(), id); err != nil {
		h.writeQueueError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "pending"})
}

// QueueStats returns queue depth and 24h outcomes.
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

func (h *Handlers) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		httputil.NotFound(w, "queue item not found")
	case errors.Is(err, queue.ErrSuppressedRecipient):
		httputil.ErrorCode(w, http.StatusConflict, "suppressed_recipient", err.Error())
	case errors.Is(err, queue.ErrUnsubscribedRecipient):
		httputil.ErrorCode(w, http.StatusConflict, "unsubscribed_recipient", err.Error())
	case errors.Is(err, queue.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	default:
		httputil.BadRequest(w, err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
