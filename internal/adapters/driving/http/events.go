package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// streamBuffer bounds events queued for one slow client.
const streamBuffer = 64

// streamEvents serves committed events as server-sent events. The optional
// type query parameter narrows the stream to one event type.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming not supported"))
		return
	}
	only := domain.EventType(r.URL.Query().Get("type"))

	queue := make(chan domain.Event, streamBuffer)
	cancel := s.deps.Subscribe(func(event domain.Event) {
		if only != "" && event.Type != only {
			return
		}
		select {
		case queue <- event:
		default:
			logger.Warn("event stream full, dropping %s %s", event.Type, event.ID)
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-queue:
			body, err := json.Marshal(event)
			if err != nil {
				logger.Warn("encoding event %s: %v", event.ID, err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, body)
			flusher.Flush()
		}
	}
}
