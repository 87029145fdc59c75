package api

import (
	"net/http"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatcher/internal/service/suppression"
)

// ListSuppressions handles GET /api/suppressions
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	q := r.URL.Query()
	items, total, err := h.suppressions.List(r.Context(), userID(r), suppression.ListFilter{
		Reason: q.Get("reason"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Suppression{}
	}
	httputil.List(w, "suppressions", items, total)
}

type suppressRequest struct {
	Email  string                   `json:"email"`
	Reason domain.SuppressionReason `json:"reason"`
}

// AddSuppression handles POST /api/suppressions
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req suppressRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	if err := h.suppressions.Suppress(r.Context(), userID(r), req.Email, req.Reason, domain.SourceManual, ""); err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"email": req.Email, "status": "suppressed"})
}

// RemoveSuppression handles DELETE /api/suppressions?email=
func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		httputil.BadRequest(w, "email query parameter is required")
		return
	}
	if err := h.suppressions.Remove(r.Context(), userID(r), email); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// SuppressionStats handles GET /api/suppressions/stats
func (h *Handlers) SuppressionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.suppressions.GetStats(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, stats)
}
