package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleWatch streams session snapshots to a proctor dashboard over SSE.
// The first event carries the full current state; every subsequent event is
// a fresh snapshot pushed when something changed. Comment lines keep the
// connection alive through idle proxies.
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	obs := h.hub.Subscribe()
	defer h.hub.Unsubscribe(obs)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-obs.C():
			if !open {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				h.log.Error("encoding observer message", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
