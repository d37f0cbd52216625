package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// Querier reads activity entries.
type Querier interface {
	QueryEvents(ctx context.Context, filter Filter) ([]Event, error)
}

// Handler serves the admin activity feed.
type Handler struct {
	events Querier
	logger *logging.Logger
}

func NewHandler(events Querier, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{events: events, logger: logger}
}

// ListActivity handles GET /admin/activity.
// Query params: actor_id, role, action (comma separated), from, to (RFC3339), page, page_size.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	filter := Filter{
		ActorID: strings.TrimSpace(q.Get("actor_id")),
		Roles:   splitList(q.Get("role")),
		Actions: splitList(q.Get("action")),
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	}
	var err error
	if filter.StartTime, err = parseTime(q.Get("from")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be RFC3339"})
		return
	}
	if filter.EndTime, err = parseTime(q.Get("to")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be RFC3339"})
		return
	}

	events, err := h.events.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit: list activity failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if events == nil {
		events = []Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":    events,
		"page":      page,
		"page_size": pageSize,
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTime(raw string) (time.Time, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
