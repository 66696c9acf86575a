package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lost-found-portal/pkg/feed"
	"lost-found-portal/pkg/middleware"
	"lost-found-portal/pkg/response"
)

const keepAliveInterval = 25 * time.Second

// streamFeed pushes the feed view as server-sent events: once on connect and
// again after every recomputation. Slow readers only see the latest view.
func (s *server) streamFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates := make(chan feed.State, 1)
	cancel := s.feed.OnChange(func(st feed.State) {
		// keep only the newest view
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- st:
		default:
		}
	})
	defer cancel()

	traceID := middleware.GetTraceID(r)
	s.log.Info("feed stream opened", zap.String("trace_id", traceID))
	defer s.log.Info("feed stream closed", zap.String("trace_id", traceID))

	if err := writeEvent(w, "feed", s.feed.View()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.feed.Done():
			return
		case st := <-updates:
			if err := writeEvent(w, "feed", st); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
