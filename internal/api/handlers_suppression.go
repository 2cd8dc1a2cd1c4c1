package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/feedback"
	"github.com/ignite/mailqueue/internal/pkg/httputil"
	"github.com/ignite/mailqueue/internal/service/suppression"
)

// ListSuppressions lists active suppressions, optionally by ?reason=.
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	filter := suppression.ListFilter{
		Reason: domain.SuppressionReason(r.URL.Query().Get("reason")),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	sups, total, err := h.Suppressions.List(r.Context(), filter)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if sups == nil {
		sups = []domain.Suppression{}
	}
	httputil.OK(w, map[string]any{"suppressions": sups, "total": total})
}

// AddSuppression manually suppresses an address.
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string     `json:"email"`
		Reason    string     `json:"reason,omitempty"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	sup, err := h.Suppressions.Suppress(r.Context(), req.Email,
		domain.SuppressionReason(req.Reason), req.ExpiresAt)
	if err != nil {
		h.writeSuppressionError(w, err)
		return
	}
	httputil.Created(w, sup)
}

// GetSuppression returns the suppression record for one address.
func (h *Handlers) GetSuppression(w http.ResponseWriter, r *http.Request) {
	sup, err := h.Suppressions.Get(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.writeSuppressionError(w, err)
		return
	}
	httputil.OK(w, sup)
}

// RemoveSuppression deletes a suppression; bounce and complaint history stays.
func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	if err := h.Suppressions.Unsuppress(r.Context(), chi.URLParam(r, "email")); err != nil {
		h.writeSuppressionError(w, err)
		return
	}
	httputil.NoContent(w)
}

// GetBounce returns the bounce history for one address.
func (h *Handlers) GetBounce(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Suppressions.GetBounce(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.writeSuppressionError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// GetComplaint returns the complaint record for one address.
func (h *Handlers) GetComplaint(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Suppressions.GetComplaint(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.writeSuppressionError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// AddUnsubscribe records a list-scoped opt-out.
func (h *Handlers) AddUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		ListID string `json:"list_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if err := h.Suppressions.Unsubscribe(r.Context(), req.Email, req.ListID); err != nil {
		h.writeSuppressionError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"email": domain.NormalizeEmail(req.Email), "list_id": req.ListID})
}

// ReceiveFeedback ingests a provider feedback notification posted by a
// webhook bridge. Bounces and complaints update suppression state
// synchronously before the 200 goes back. The notification type comes from
// the body, or from the /feedback/{type} path when the bridge posts to the
// typed endpoints.
func (h *Handlers) ReceiveFeedback(w http.ResponseWriter, r *http.Request) {
	var n feedback.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if t := chi.URLParam(r, "type"); t != "" {
		n.Type = t
	}
	if err := h.Feedback.Process(r.Context(), n); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]string{"status": "processed"})
}

func (h *Handlers) writeSuppressionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, suppression.ErrNotFound):
		httputil.NotFound(w, "no record for address")
	case errors.Is(err, suppression.ErrInvalidEmail):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.BadRequest(w, err.Error())
	}
}
