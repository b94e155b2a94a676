package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// heartbeatInterval keeps intermediary proxies from closing an
// apparently idle connection between layer/stage events.
const heartbeatInterval = 15 * time.Second

// WriteSSE drains a Stream to an HTTP response as Server-Sent Events
// until the stream closes or the client disconnects, whichever first —
// the same disconnect-detection shape as the teacher's
// streamWithDisconnectDetection, adapted from a provider token stream
// to a bounded event buffer. The transport disables proxy buffering
// per §4.9.
func WriteSSE(ctx context.Context, w http.ResponseWriter, stream *Stream, logger zerolog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	sent := 0
	for {
		events, closed := stream.drain()
		for _, ev := range events {
			if err := writeEvent(w, ev); err != nil {
				logger.Warn().Err(err).Int("events_sent", sent).Msg("client disconnected mid-stream")
				return
			}
			sent++
		}
		flusher.Flush()

		if closed && len(events) == 0 {
			return
		}

		select {
		case <-ctx.Done():
			logger.Info().Int("events_sent", sent).Msg("stream subscriber context done")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case _, ok := <-stream.notifyCh:
			if !ok {
				continue
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, raw)
	return err
}
