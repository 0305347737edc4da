package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starford/steward/internal/llm"
)

// streamDone terminates every streamed reply that completes. A reply cut
// short by the backend ends with an error event instead.
const streamDone = "[DONE]"

// writeStream relays fragments as server-sent events. A fragment spanning
// several lines becomes one event with several data lines.
func writeStream(w http.ResponseWriter, r *http.Request, s *llm.Stream) {
	defer s.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	for s.Next() {
		if r.Context().Err() != nil {
			slog.Debug("chat stream: client disconnected")
			return
		}
		for _, line := range strings.Split(s.Current(), "\n") {
			fmt.Fprintf(w, "data: %s\n", line)
		}
		fmt.Fprint(w, "\n")
		flush()
	}
	if err := s.Err(); err != nil {
		if r.Context().Err() != nil {
			return
		}
		slog.Error("chat stream failed", slog.String("error", err.Error()))
		fmt.Fprint(w, "event: error\ndata: LLM service unavailable\n\n")
		flush()
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", streamDone)
	flush()
}
