// Package engine keeps the locally held mirror of games consistent with the
// authoritative store. It unlocks points when the device enters their
// geofence, follows the store's change feed (falling back to polling when
// the feed does not confirm), and runs library-wide tag mutations.
//
// All local state lives in a LocalStore actor. Producers never touch it
// directly; they send snapshot, patch, and delete messages to it.
package engine

import (
	"context"
	"errors"

	"github.com/playperu/geoquest/internal/batch"
	"github.com/playperu/geoquest/internal/geoquest"
)

var (
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrFeedClosed         = errors.New("change feed closed")
)

// Gateway is the persistence contract of the authoritative store.
type Gateway interface {
	FetchGame(ctx context.Context, id string) (geoquest.Game, error)
	// PatchPoints applies patches atomically and returns the canonical game.
	// Any error means the store could not be reached or refused the patch.
	PatchPoints(ctx context.Context, gameID string, patches []geoquest.Patch, meta geoquest.PatchMeta) (geoquest.Game, error)
	SaveGame(ctx context.Context, game geoquest.Game) error

	SaveTemplates(ctx context.Context, items []geoquest.TaskTemplate, opts batch.Options) (batch.Result, error)
	SaveLists(ctx context.Context, items []geoquest.TaskList, opts batch.Options) (batch.Result, error)
	SaveGames(ctx context.Context, items []geoquest.Game, opts batch.Options) (batch.Result, error)
}

// Library lists whole collections. Used to seed the local mirror.
type Library interface {
	ListGames(ctx context.Context) ([]geoquest.Game, error)
	ListTemplates(ctx context.Context) ([]geoquest.TaskTemplate, error)
	ListLists(ctx context.Context) ([]geoquest.TaskList, error)
}

// ChangeFeed pushes row-level change events for a table. An empty rowID
// subscribes to every row.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table, rowID string, onEvent func(geoquest.ChangeEvent)) (Subscription, error)
}

type Subscription interface {
	// Confirmed is closed once the feed has registered the subscription.
	Confirmed() <-chan struct{}
	// Done is closed when the subscription stops delivering events, whether
	// the stream broke or Unsubscribe was called.
	Done() <-chan struct{}
	Unsubscribe()
}

// Haptics triggers a short vibration on the player's device. Pulse must
// not block; errors are ignored by callers.
type Haptics interface {
	Pulse(ctx context.Context) error
}

type noHaptics struct{}

func (noHaptics) Pulse(context.Context) error { return nil }
