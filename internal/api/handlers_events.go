package api

import (
	"net/http"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/httputil"
)

// QueryEvents returns events filtered by query parameters: kind, recipient,
// from, to (RFC 3339), errors_only, limit, offset.
func (h *Handlers) QueryEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.EventFilter{
		Recipient:  q.Get("recipient"),
		Kind:       domain.EventKind(q.Get("kind")),
		ErrorsOnly: q.Get("errors_only") == "true",
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	}
	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		httputil.BadRequest(w, "invalid from timestamp")
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		httputil.BadRequest(w, "invalid to timestamp")
		return
	}

	evs, err := h.Events.Query(r.Context(), filter)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if evs == nil {
		evs = []domain.DeliveryEvent{}
	}
	httputil.OK(w, map[string]any{"events": evs, "count": len(evs)})
}

// MessageHistory returns the event trail for one message.
func (h *Handlers) MessageHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	evs, err := h.Events.History(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if evs == nil {
		evs = []domain.DeliveryEvent{}
	}
	httputil.OK(w, map[string]any{"events": evs, "count": len(evs)})
}

// EventDailyCounts returns per-day per-kind counts, recomputed from the log.
func (h *Handlers) EventDailyCounts(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		httputil.BadRequest(w, "invalid from timestamp")
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		httputil.BadRequest(w, "invalid to timestamp")
		return
	}

	counts, err := h.Events.DailyCounts(r.Context(), from, to)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if counts == nil {
		counts = []domain.DailyCount{}
	}
	httputil.OK(w, map[string]any{"daily_counts": counts})
}

// EventFunnel returns the rolling delivery funnel. ?days= overrides the
// default 30-day window.
func (h *Handlers) EventFunnel(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	if days <= 0 || days > 365 {
		httputil.BadRequest(w, "days must be between 1 and 365")
		return
	}

	stats, err := h.Events.Funnel(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
