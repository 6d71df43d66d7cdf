package server

import (
	"context"

	"github.com/playperu/geoquest/internal/geoquest"
)

var ErrNotFound = geoquest.ErrNotFound

// Store is the canonical document store behind the HTTP API.
type Store interface {
	ListGames(ctx context.Context) ([]geoquest.Game, error)
	GetGame(ctx context.Context, id string) (geoquest.Game, error)
	// PutGame stores g as a full replacement and returns it stamped with a
	// new dbUpdatedAt. An empty id is assigned a fresh one.
	PutGame(ctx context.Context, g geoquest.Game) (geoquest.Game, error)
	// PatchPoints applies flag patches inside a transaction. Flags only move
	// from false to true.
	PatchPoints(ctx context.Context, gameID string, patches []geoquest.Patch, meta geoquest.PatchMeta) (geoquest.Game, error)
	DeleteGame(ctx context.Context, id string) error

	ListTemplates(ctx context.Context) ([]geoquest.TaskTemplate, error)
	PutTemplate(ctx context.Context, t geoquest.TaskTemplate) (geoquest.TaskTemplate, error)
	ListLists(ctx context.Context) ([]geoquest.TaskList, error)
	PutList(ctx context.Context, l geoquest.TaskList) (geoquest.TaskList, error)
}

// Publisher receives a change event after every committed write.
type Publisher interface {
	Publish(ctx context.Context, ev geoquest.ChangeEvent)
}
