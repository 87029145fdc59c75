package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
)

// StreamProgress handles GET /api/campaigns/{id}/progress/stream as
// Server-Sent Events. The current snapshot is sent first; the stream ends
// once the campaign reaches a terminal status.
func (h *Handlers) StreamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before reading the snapshot so no update falls in between.
	ctx := r.Context()
	var updates <-chan domain.Progress
	if h.broker != nil {
		ch, cancel := h.broker.Subscribe(ctx, id)
		defer cancel()
		updates = ch
	}

	current, err := h.campaigns.Progress(ctx, userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(p domain.Progress) bool {
		data, err := json.Marshal(p)
		if err != nil {
			logger.Warn("encode progress failed", "campaign_id", id, "error", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return !p.Status.IsTerminal()
	}

	if !send(current) || updates == nil {
		return
	}

	ping := time.NewTicker(h.ping)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			if !send(p) {
				return
			}
		case <-ping.C:
			fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}
