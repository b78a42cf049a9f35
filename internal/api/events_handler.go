package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/herd/internal/events"
)

const (
	keepAliveInterval = 15 * time.Second
	reconnectDelay    = 3 * time.Second
)

// sseStream frames hub events for one client. filter holds event type
// prefixes from ?types=; empty passes everything.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	filter  []string
	lastID  int64
}

func (st *sseStream) wants(ev events.Event) bool {
	if len(st.filter) == 0 {
		return true
	}
	for _, prefix := range st.filter {
		if strings.HasPrefix(ev.Type, prefix) {
			return true
		}
	}
	return false
}

// send writes ev unless it was already sent or is filtered out. The ID still
// advances for filtered events so a replay never repeats them.
func (st *sseStream) send(ev events.Event) error {
	if ev.ID <= st.lastID {
		return nil
	}
	st.lastID = ev.ID
	if !st.wants(ev) {
		return nil
	}
	if _, err := fmt.Fprintf(st.w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(st.w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payload is single-line JSON, so one data line suffices.
	_, err := fmt.Fprintf(st.w, "data: %s\n\n", ev.Data)
	return err
}

func (st *sseStream) comment(text string) error {
	_, err := fmt.Fprintf(st.w, ": %s\n\n", text)
	return err
}

// handleEvents streams hub events as server-sent events. Last-Event-ID replays
// buffered events newer than that ID; ?types=job.,constraint. narrows the
// stream by type prefix.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	st := &sseStream{
		w:       w,
		flusher: flusher,
		filter:  parseTypeFilter(r.URL.Query().Get("types")),
		lastID:  parseLastEventID(r.Header.Get("Last-Event-ID")),
	}

	// Subscribe before the replay so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", reconnectDelay.Milliseconds()); err != nil {
		return
	}
	for _, ev := range s.events.SnapshotSince(st.lastID) {
		if err := st.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := st.send(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if err := st.comment("keep-alive"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseTypeFilter(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
