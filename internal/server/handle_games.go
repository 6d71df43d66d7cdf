package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/geoquest/internal/geoquest"
)

func handleListGames(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games, err := store.ListGames(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, games)
	}
}

func handleGetGame(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := store.GetGame(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err, "game")
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

// readGame reads and validates a game document from the request body.
func readGame(w http.ResponseWriter, r *http.Request) (geoquest.Game, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return geoquest.Game{}, false
	}
	if err := validateGame(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return geoquest.Game{}, false
	}
	var g geoquest.Game
	if err := json.Unmarshal(body, &g); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return geoquest.Game{}, false
	}
	return g, true
}

func handleCreateGame(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, ok := readGame(w, r)
		if !ok {
			return
		}
		g.ID = ""
		saved, err := store.PutGame(r.Context(), g)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handlePutGame(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		g, ok := readGame(w, r)
		if !ok {
			return
		}
		if g.ID != "" && g.ID != id {
			writeError(w, http.StatusBadRequest, "id does not match path")
			return
		}
		g.ID = id

		saved, err := store.PutGame(r.Context(), g)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handlePatchGame(logger *slog.Logger, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req geoquest.PatchRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if len(req.Patches) == 0 {
			writeError(w, http.StatusBadRequest, "patches required")
			return
		}

		g, err := store.PatchPoints(r.Context(), id, req.Patches, req.Meta)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.Error("patch failed", "game_id", id, "error", err)
			}
			writeStoreError(w, err, "game")
			return
		}

		logger.Info("points patched",
			"game_id", id,
			"point_count", len(req.Patches),
			"user", req.Meta.User,
			"action", req.Meta.Action,
		)
		writeJSON(w, http.StatusOK, g)
	}
}

func handleDeleteGame(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteGame(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, err, "game")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
