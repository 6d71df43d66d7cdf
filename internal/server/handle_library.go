package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/geoquest/internal/geoquest"
)

func handleListTemplates(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := store.ListTemplates(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handlePutTemplate(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t geoquest.TaskTemplate
		if err := readJSON(w, r, &t); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		id := chi.URLParam(r, "id")
		if t.ID != "" && t.ID != id {
			writeError(w, http.StatusBadRequest, "id does not match path")
			return
		}
		t.ID = id

		saved, err := store.PutTemplate(r.Context(), t)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleListLists(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := store.ListLists(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handlePutList(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var l geoquest.TaskList
		if err := readJSON(w, r, &l); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		id := chi.URLParam(r, "id")
		if l.ID != "" && l.ID != id {
			writeError(w, http.StatusBadRequest, "id does not match path")
			return
		}
		l.ID = id

		saved, err := store.PutList(r.Context(), l)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}
