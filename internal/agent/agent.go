// Package agent exposes the engine to a device over a local HTTP control
// API and a websocket that carries location fixes in and haptic pulses out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/geoquest/internal/clientstate"
	"github.com/playperu/geoquest/internal/engine"
	"github.com/playperu/geoquest/internal/geoquest"
)

type Agent struct {
	session *engine.Session
	store   *engine.LocalStore
	bulk    *engine.BulkCoordinator
	library engine.Library
	state   *clientstate.File
	hub     *Hub
	logger  *slog.Logger

	// life ends at process shutdown; tag operations run under it.
	life context.Context
}

func New(session *engine.Session, store *engine.LocalStore, bulk *engine.BulkCoordinator,
	library engine.Library, state *clientstate.File, hub *Hub, logger *slog.Logger) *Agent {
	return &Agent{
		session: session,
		store:   store,
		bulk:    bulk,
		library: library,
		state:   state,
		hub:     hub,
		logger:  logger,
		life:    context.Background(),
	}
}

// Start seeds the local mirror from the library and re-enters the game
// that was active when the agent last stopped. An unreachable store leaves
// the mirror empty. ctx must live as long as the process.
func (a *Agent) Start(ctx context.Context) error {
	a.life = ctx
	if err := a.loadLibrary(ctx); err != nil {
		a.logger.Warn("library not loaded, starting empty", "error", err)
	}

	st, err := a.state.Load()
	if err != nil {
		return fmt.Errorf("loading client state: %w", err)
	}
	if st.LastActiveGameID == "" {
		return nil
	}
	if err := a.session.SetActiveGame(ctx, st.LastActiveGameID); err != nil {
		a.logger.Warn("last active game not restored", "game_id", st.LastActiveGameID, "error", err)
		if errors.Is(err, geoquest.ErrNotFound) {
			return a.state.Clear()
		}
		return nil
	}
	a.logger.Info("restored active game", "game_id", st.LastActiveGameID)
	return nil
}

func (a *Agent) loadLibrary(ctx context.Context) error {
	games, err := a.library.ListGames(ctx)
	if err != nil {
		return err
	}
	templates, err := a.library.ListTemplates(ctx)
	if err != nil {
		return err
	}
	lists, err := a.library.ListLists(ctx)
	if err != nil {
		return err
	}
	a.store.Load(games, templates, lists)
	a.logger.Info("library loaded", "games", len(games), "templates", len(templates), "lists", len(lists))
	return nil
}

// Mount registers the control routes on r.
func (a *Agent) Mount(r chi.Router) {
	r.Get("/state", a.handleState)
	r.Put("/mode", a.handleSetMode)
	r.Put("/active", a.handleSetActive)
	r.Delete("/active", a.handleClearActive)
	r.Post("/editors/{pointId}", a.handleOpenEditor)
	r.Delete("/editors/{pointId}", a.handleCloseEditor)
	r.Post("/tags/rename", a.handleRenameTag)
	r.Post("/tags/delete", a.handleDeleteTag)
	r.Get("/location", a.handleLocation)
}

type StateResponse struct {
	engine.Status
	Games     int `json:"games"`
	Templates int `json:"templates"`
	Lists     int `json:"lists"`
	Devices   int `json:"devices"`
}

func (a *Agent) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{
		Status:    a.session.Status(),
		Games:     len(a.store.Games()),
		Templates: len(a.store.Templates()),
		Lists:     len(a.store.Lists()),
		Devices:   a.hub.Peers(),
	})
}

type modeRequest struct {
	Mode geoquest.Mode `json:"mode"`
}

func (a *Agent) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := a.session.SetMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.logger.Info("mode changed", "mode", string(req.Mode))
	writeJSON(w, http.StatusOK, a.session.Status())
}

type activeRequest struct {
	GameID string `json:"gameId"`
}

func (a *Agent) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := readJSON(w, r, &req); err != nil || req.GameID == "" {
		writeError(w, http.StatusBadRequest, "gameId required")
		return
	}

	err := a.session.SetActiveGame(r.Context(), req.GameID)
	switch {
	case errors.Is(err, geoquest.ErrNotFound):
		writeError(w, http.StatusNotFound, "game not found")
		return
	case errors.Is(err, engine.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "store unavailable")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.state.SetActive(req.GameID); err != nil {
		a.logger.Error("saving client state", "error", err)
	}
	a.logger.Info("active game set", "game_id", req.GameID)
	writeJSON(w, http.StatusOK, a.session.Status())
}

// handleClearActive is the explicit exit from a game; the remembered game
// is forgotten.
func (a *Agent) handleClearActive(w http.ResponseWriter, r *http.Request) {
	a.session.ClearActiveGame()
	if err := a.state.Clear(); err != nil {
		a.logger.Error("clearing client state", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleOpenEditor(w http.ResponseWriter, r *http.Request) {
	if err := a.session.OpenEditor(chi.URLParam(r, "pointId")); err != nil {
		writeError(w, http.StatusConflict, "no active game")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleCloseEditor(w http.ResponseWriter, r *http.Request) {
	a.session.CloseEditor(chi.URLParam(r, "pointId"))
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type deleteRequest struct {
	Tag string `json:"tag"`
}

func (a *Agent) handleRenameTag(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	from, to := strings.TrimSpace(req.From), strings.TrimSpace(req.To)
	if to == "" {
		writeError(w, http.StatusBadRequest, "to required")
		return
	}
	a.runTagOp(w, r, geoquest.RenameTag(from, to))
}

func (a *Agent) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	a.runTagOp(w, r, geoquest.DeleteTag(strings.TrimSpace(req.Tag)))
}

// runTagOp runs op to completion even if the caller goes away. Only
// process shutdown cuts it short.
func (a *Agent) runTagOp(w http.ResponseWriter, r *http.Request, op geoquest.TagOp) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	defer context.AfterFunc(a.life, cancel)()

	res, err := a.bulk.Run(ctx, op, a.hub.Progress)
	if errors.Is(err, engine.ErrInvalidTagOp) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tagResponse{BulkResult: res, OK: res.OK(), Changed: res.Changed()})
}

type tagResponse struct {
	engine.BulkResult
	OK      bool `json:"ok"`
	Changed int  `json:"changed"`
}
