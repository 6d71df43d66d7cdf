package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
)

const unlockAction = "geofence_unlock"

// LocationFunc returns the latest location sample, if there is one.
type LocationFunc func() (geoquest.LocationSample, bool)

type GeofenceConfig struct {
	Interval time.Duration
	// MaxAccuracy drops samples whose accuracy radius exceeds it. Zero keeps all.
	MaxAccuracy float64
	User        string
}

// GeofenceEvaluator unlocks the points of one game whose radius contains
// the current location.
type GeofenceEvaluator struct {
	gameID   string
	cfg      GeofenceConfig
	store    *LocalStore
	gateway  Gateway
	guard    EditGuard
	haptics  Haptics
	location LocationFunc
	logger   *slog.Logger

	inFlight *semaphore.Weighted
}

func NewGeofenceEvaluator(gameID string, cfg GeofenceConfig, store *LocalStore, gateway Gateway,
	guard EditGuard, haptics Haptics, location LocationFunc, logger *slog.Logger) *GeofenceEvaluator {
	if guard == nil {
		guard = NoGuard
	}
	if haptics == nil {
		haptics = noHaptics{}
	}
	return &GeofenceEvaluator{
		gameID:   gameID,
		cfg:      cfg,
		store:    store,
		gateway:  gateway,
		guard:    guard,
		haptics:  haptics,
		location: location,
		logger:   logger.With("game_id", gameID),
		inFlight: semaphore.NewWeighted(1),
	}
}

// Candidates returns one unlock patch for every point of g that is spatial,
// radius-activated, still locked and not completed, and contains loc.
func Candidates(g geoquest.Game, loc geoquest.Coordinate) []geoquest.Patch {
	var patches []geoquest.Patch
	for _, p := range g.Points {
		if !p.Spatial() || !p.Activates(geoquest.ActivationRadius) {
			continue
		}
		if p.IsUnlocked || p.IsCompleted {
			continue
		}
		if geo.Within(loc, *p.Location, p.RadiusMeters) {
			patches = append(patches, geoquest.UnlockPatch(p.ID))
		}
	}
	return patches
}

// Run evaluates on every interval until ctx is done. Ticks run
// asynchronously; a tick that fires while the previous round-trip is still
// pending is skipped. Run waits for the in-flight tick before returning.
func (e *GeofenceEvaluator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.Tick(ctx); err != nil && ctx.Err() == nil {
					e.logger.Warn("geofence tick failed", "error", err)
				}
			}()
		}
	}
}

// Tick runs one evaluation and returns the number of unlock patches it
// submitted. It returns 0 without doing anything while another tick holds
// the in-flight guard or an editor has the game open.
func (e *GeofenceEvaluator) Tick(ctx context.Context) (int, error) {
	if !e.inFlight.TryAcquire(1) {
		e.logger.Debug("geofence tick skipped, previous still in flight")
		return 0, nil
	}
	defer e.inFlight.Release(1)

	// The canonical snapshot would be vetoed, so the point would stay
	// locked locally and the same patch would go out on every tick.
	if e.guard.Engaged(e.gameID) {
		e.logger.Debug("geofence tick deferred, game is being edited")
		return 0, nil
	}

	sample, ok := e.location()
	if !ok {
		return 0, nil
	}
	if e.cfg.MaxAccuracy > 0 && sample.Accuracy > e.cfg.MaxAccuracy {
		e.logger.Debug("location too inaccurate for geofencing", "accuracy", sample.Accuracy)
		return 0, nil
	}

	game, ok := e.store.Game(e.gameID)
	if !ok {
		return 0, nil
	}

	patches := Candidates(game, sample.Coordinate())
	if len(patches) == 0 {
		return 0, nil
	}

	meta := geoquest.PatchMeta{User: e.cfg.User, Action: unlockAction}
	canonical, err := e.gateway.PatchPoints(ctx, e.gameID, patches, meta)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		e.logger.Warn("patch failed, saving locally patched game", "error", err, "point_count", len(patches))
		if err := e.saveLocal(ctx, patches); err != nil {
			return len(patches), err
		}
	} else {
		res := e.store.ApplySnapshot(canonical, e.guard)
		e.logger.Info("points unlocked", "point_count", len(patches), "snapshot", res.String())
	}

	_ = e.haptics.Pulse(ctx)
	return len(patches), nil
}

func (e *GeofenceEvaluator) saveLocal(ctx context.Context, patches []geoquest.Patch) error {
	updated, ok := e.store.ApplyPatch(e.gameID, patches, e.guard)
	if !ok {
		e.logger.Info("local unlock deferred, game missing or being edited")
		return nil
	}
	return e.gateway.SaveGame(ctx, updated)
}
