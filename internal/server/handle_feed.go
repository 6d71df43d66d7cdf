package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/playperu/geoquest/internal/geoquest"
)

// feedPing is the keep-alive comment interval.
var feedPing = 30 * time.Second

// handleFeed streams change events for one table, optionally narrowed to a
// single row with ?id=. The first event is "subscribed", sent once the
// subscription is registered, so every later write reaches the client.
func handleFeed(feed *Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")
		switch table {
		case geoquest.TableGames, geoquest.TableTemplates, geoquest.TableLists:
		default:
			writeError(w, http.StatusNotFound, "unknown table")
			return
		}
		rowID := r.URL.Query().Get("id")

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		ch := feed.Subscribe(table, rowID)
		defer feed.Unsubscribe(table, rowID, ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		fmt.Fprintf(w, "event: subscribed\ndata: {\"id\":%q}\n\n", uuid.NewString())
		flusher.Flush()

		ping := time.NewTicker(feedPing)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-ch:
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
