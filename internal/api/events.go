package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tasktrack/pkg/activity"
)

func (s *Server) handleEventList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := activity.ClampLimit(queryInt(r, "limit", activity.DefaultLimit))

	if after := r.URL.Query().Get("after"); after != "" {
		events, err := s.events.Since(ctx, after, limit)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeList(w, "Events retrieved successfully", events, len(events))
		return
	}

	events, err := s.events.Recent(ctx, limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeList(w, "Events retrieved successfully", events, len(events))
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Events(r.Context(), r.PathValue("id"), queryInt(r, "limit", activity.DefaultLimit))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeList(w, "Task events retrieved successfully", events, len(events))
}

// handleEventStream serves activity as server-sent events. With a Bus the
// events are pushed as they are appended; otherwise the store is polled
// every streamInterval starting after the "after" query id.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var ch chan *activity.Event
	if s.bus != nil {
		ch = s.bus.Subscribe()
		defer s.bus.Unsubscribe(ch)
	}
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	if ch != nil {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				writeSSE(w, e)
				flusher.Flush()
			case <-ticker.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			}
		}
	}

	lastID := r.URL.Query().Get("after")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lastID == "" {
				evts, err := s.events.Recent(ctx, 1)
				if err != nil {
					s.log.Warn("SSE poll", "err", err)
					continue
				}
				if len(evts) > 0 {
					lastID = evts[0].ID
				}
				continue
			}
			evts, err := s.events.Since(ctx, lastID, 50)
			if err != nil {
				s.log.Warn("SSE poll", "err", err)
				continue
			}
			for i := range evts {
				writeSSE(w, &evts[i])
				lastID = evts[i].ID
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e *activity.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
}
