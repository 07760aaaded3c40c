package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/odavlstudio/insight/internal/events"
)

// SSEHandler streams pool lifecycle events to connected clients as
// Server-Sent Events.
type SSEHandler struct {
	bus           *events.Bus
	heartbeatFreq time.Duration
}

// NewSSEHandler creates an SSE handler over the given bus.
func NewSSEHandler(bus *events.Bus) *SSEHandler {
	return &SSEHandler{
		bus:           bus,
		heartbeatFreq: 30 * time.Second,
	}
}

// SetHeartbeatFrequency sets the interval between keep-alive comments.
func (h *SSEHandler) SetHeartbeatFrequency(d time.Duration) {
	h.heartbeatFreq = d
}

// ServeHTTP implements http.Handler for SSE connections. The optional
// ?worker=<id> query filters events to one worker slot.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	if h.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	workerFilter := r.URL.Query().Get("worker")

	eventCh := h.bus.Subscribe()
	defer h.bus.Unsubscribe(eventCh)

	sendEvent(w, flusher, "connected", map[string]string{
		"worker": workerFilter,
	})

	heartbeat := time.NewTicker(h.heartbeatFreq)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if workerFilter != "" && event.Worker() != workerFilter {
				continue
			}
			sendEvent(w, flusher, event.EventType(), event)
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}
