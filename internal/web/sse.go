package web

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// streamEvents relays ch to the client as Server-Sent Events until the
// channel closes or the client goes away.
//
// Intermediate values are sent as "progress" events. The value for which
// terminal returns true is sent as a "complete" event, after which the
// stream ends. Event ids increase by one so a reconnecting client can tell
// duplicates apart; the first event after a reconnect is always the latest
// state.
func streamEvents[T any](w http.ResponseWriter, r *http.Request, ch <-chan T, terminal func(T) bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	eventID := 0
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				return
			}

			event := "progress"
			if terminal(v) {
				event = "complete"
			}
			eventID++
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", eventID, event, data)
			if err := rc.Flush(); err != nil {
				return
			}
			if event == "complete" {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}
