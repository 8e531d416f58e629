package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleEvents streams coordinator events as server-sent events. Delivery is
// best-effort: a reconnecting client snapshots via GET /v1/unit rather than
// replaying missed events.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: GET"}
	}
	if h.bus == nil {
		return httpError{Status: http.StatusNotImplemented, Code: "events_unavailable", Detail: "event streaming is disabled"}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		return httpError{Status: http.StatusInternalServerError, Code: "streaming_unsupported", Detail: "response writer does not support streaming"}
	}

	sub, err := h.bus.Subscribe(r.Context())
	if err != nil {
		return httpError{Status: http.StatusServiceUnavailable, Code: "events_unavailable", Detail: err.Error()}
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := h.clock.After(h.heartbeat)
	for {
		select {
		case <-r.Context().Done():
			return nil
		case event, open := <-sub.Events():
			if !open {
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("sse.encode_failed", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
				return nil
			}
			flusher.Flush()
		case <-heartbeat:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
			heartbeat = h.clock.After(h.heartbeat)
		}
	}
}
