package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/swaggest/swgui/v5emb"
)

// Routes returns a mount function registering the store API. A positive
// writeLimit caps the number of document writes served at once; excess
// writes queue briefly before being rejected with 503.
func Routes(logger *slog.Logger, store Store, feed *Feed, writeLimit int) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/openapi.json", handleOpenAPI())
		r.Mount("/docs", v5emb.New("GeoQuest Store API", "/openapi.json", "/docs"))

		// The feed streams; it must not sit behind the gzip writer.
		r.Get("/api/feed/{table}", handleFeed(feed))

		r.Group(func(r chi.Router) {
			r.Use(gzipJSON)

			r.Get("/api/games", handleListGames(store))
			r.Get("/api/games/{id}", handleGetGame(store))
			r.Get("/api/templates", handleListTemplates(store))
			r.Get("/api/lists", handleListLists(store))

			r.Group(func(r chi.Router) {
				if writeLimit > 0 {
					r.Use(middleware.ThrottleBacklog(writeLimit, writeBacklog, writeBacklogTimeout))
				}

				r.Post("/api/games", handleCreateGame(store))
				r.Put("/api/games/{id}", handlePutGame(store))
				r.Delete("/api/games/{id}", handleDeleteGame(store))
				r.Post("/api/games/{id}/patch", handlePatchGame(logger, store))
				r.Put("/api/templates/{id}", handlePutTemplate(store))
				r.Put("/api/lists/{id}", handlePutList(store))
			})
		})
	}
}

const (
	writeBacklog        = 256
	writeBacklogTimeout = 30 * time.Second
)

func gzipJSON(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
