package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"terraguard/internal/events"
)

const sseKeepAlive = 15 * time.Second

// SSEWriter writes Server-Sent Events and flushes each one.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter returns nil if the ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &SSEWriter{w: w, flusher: flusher}
}

// Send writes one event of the given type.
func (s *SSEWriter) Send(event string, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// every line of a multi-line payload needs its own "data:" prefix or it
	// ends the event early
	lines := strings.Split(strings.TrimRight(string(p), "\n"), "\n")
	fmt.Fprintf(s.w, "event: %s\n", event)
	for _, line := range lines {
		fmt.Fprintf(s.w, "data: %s\n", line)
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// comment writes an SSE comment line, used as a keep-alive.
func (s *SSEWriter) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sendSSEError sends an error event.
func sendSSEError(w http.ResponseWriter, errMsg string) {
	if flusher, ok := w.(http.Flusher); ok {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", errMsg)
		flusher.Flush()
	}
}

// HandleStream serves the live step feed as Server-Sent Events. The first
// event is the current state.
func (h *Handlers) HandleStream(hub *events.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sse := NewSSEWriter(w)
		if sse == nil {
			writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
			return
		}

		// the feed outlives the server's write timeout
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		sub := hub.Subscribe()
		if sub == nil {
			sendSSEError(w, "event feed unavailable")
			return
		}
		defer hub.Unsubscribe(sub)

		initial, err := encodeEvent(events.KindState, h.sim.Status())
		if err == nil {
			err = sse.Send(events.KindState, initial)
		}
		if err != nil {
			return
		}

		reqID := RequestIDFromContext(r.Context())
		log.Debug().Str("request_id", reqID).Msg("sse subscriber attached")
		defer log.Debug().Str("request_id", reqID).Msg("sse subscriber detached")

		keepAlive := time.NewTicker(sseKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if err := sse.comment("keep-alive"); err != nil {
					return
				}
			case msg, ok := <-sub.C:
				if !ok {
					sendSSEError(w, "event feed closed")
					return
				}
				if err := sse.Send(msg.Type, msg.Payload); err != nil {
					return
				}
			}
		}
	}
}

// encodeEvent builds the same envelope the hub delivers.
func encodeEvent(kind string, data any) ([]byte, error) {
	return json.Marshal(events.Event{Type: kind, Time: time.Now().UTC(), Data: data})
}
