package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/geoquest/internal/geoquest"
)

// LocationErrTransient is the location error code that is not surfaced.
const LocationErrTransient = "permission_transient"

type SessionConfig struct {
	GeofenceInterval time.Duration
	FeedGrace        time.Duration
	PollInterval     time.Duration
	MaxAccuracy      float64
	User             string
}

// DefaultSessionConfig holds the cadences the game client ships with.
var DefaultSessionConfig = SessionConfig{
	GeofenceInterval: 2 * time.Second,
	FeedGrace:        7 * time.Second,
	PollInterval:     20 * time.Second,
	MaxAccuracy:      100,
}

// scope is the combination every timer and subscription is tied to.
type scope struct {
	gameID  string
	mode    geoquest.Mode
	editing bool
}

// Session supervises geofencing and replication for the active game. Each
// time the (active game, mode, edit guard) scope changes, the running
// workers are cancelled and waited for before new ones start.
type Session struct {
	cfg     SessionConfig
	store   *LocalStore
	gateway Gateway
	feed    ChangeFeed
	editors *EditorTracker
	haptics Haptics
	logger  *slog.Logger

	wake chan struct{}

	mu          sync.Mutex
	mode        geoquest.Mode
	location    *geoquest.LocationSample
	locationErr string
	replState   ReplicationState
	scopes      int
}

func NewSession(cfg SessionConfig, store *LocalStore, gateway Gateway, feed ChangeFeed,
	editors *EditorTracker, haptics Haptics, logger *slog.Logger) *Session {
	if editors == nil {
		editors = NewEditorTracker()
	}
	return &Session{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		feed:    feed,
		editors: editors,
		haptics: haptics,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Run supervises workers until ctx is done, then tears them down.
func (s *Session) Run(ctx context.Context) error {
	var (
		cur     scope
		started bool
		cancel  context.CancelFunc
		wg      sync.WaitGroup
	)
	stop := func() {
		if cancel != nil {
			cancel()
			wg.Wait()
			cancel = nil
		}
	}
	defer stop()

	for {
		next := s.scope()
		if !started || next != cur {
			stop()
			cur, started = next, true

			scoped, c := context.WithCancel(ctx)
			cancel = c
			s.start(scoped, cur, &wg)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-s.store.Changes():
		case <-s.editors.Changes():
		}
	}
}

func (s *Session) scope() scope {
	id := s.store.ActiveID()
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	return scope{gameID: id, mode: mode, editing: id != "" && s.editors.Engaged(id)}
}

func (s *Session) start(ctx context.Context, sc scope, wg *sync.WaitGroup) {
	s.mu.Lock()
	s.scopes++
	s.mu.Unlock()
	logger := s.logger.With("game_id", sc.gameID, "mode", string(sc.mode), "editing", sc.editing)

	if sc.gameID != "" && sc.mode == geoquest.ModePlay {
		ev := NewGeofenceEvaluator(sc.gameID, GeofenceConfig{
			Interval:    s.cfg.GeofenceInterval,
			MaxAccuracy: s.cfg.MaxAccuracy,
			User:        s.cfg.User,
		}, s.store, s.gateway, s.editors, s.haptics, s.Location, s.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ev.Run(ctx)
		}()
		logger.Info("geofencing started")
	}

	if sc.gameID == "" || !sc.mode.Replicates() || sc.editing {
		s.setReplication(StateIdle)
		return
	}

	rc := NewReplicationController(sc.gameID, ReplicationConfig{
		Grace:        s.cfg.FeedGrace,
		PollInterval: s.cfg.PollInterval,
	}, s.store, s.gateway, s.feed, s.editors, s.logger)
	rc.OnStateChange(s.setReplication)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rc.Run(ctx)
	}()
	logger.Info("replication started")
}

func (s *Session) setReplication(st ReplicationState) {
	s.mu.Lock()
	s.replState = st
	s.mu.Unlock()
}

func (s *Session) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) SetMode(m geoquest.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("unknown mode %q", m)
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.poke()
	return nil
}

func (s *Session) Mode() geoquest.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetActiveGame switches the session to gameID. If the game is not held
// locally it is fetched first.
func (s *Session) SetActiveGame(ctx context.Context, gameID string) error {
	if _, ok := s.store.Game(gameID); !ok {
		g, err := s.gateway.FetchGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("fetching game %s: %w", gameID, err)
		}
		s.store.ApplySnapshot(g, nil)
	}
	if prev := s.store.ActiveID(); prev != "" && prev != gameID {
		s.editors.CloseAll(prev)
	}
	s.store.SetActive(gameID)
	return nil
}

// ClearActiveGame leaves the current game.
func (s *Session) ClearActiveGame() {
	if prev := s.store.ActiveID(); prev != "" {
		s.editors.CloseAll(prev)
	}
	s.store.SetActive("")
}

// OpenEditor engages the edit guard for pointID of the active game.
func (s *Session) OpenEditor(pointID string) error {
	id := s.store.ActiveID()
	if id == "" {
		return fmt.Errorf("no active game: %w", geoquest.ErrNotFound)
	}
	s.editors.Open(id, pointID)
	return nil
}

func (s *Session) CloseEditor(pointID string) {
	if id := s.store.ActiveID(); id != "" {
		s.editors.Close(id, pointID)
	}
}

// UpdateLocation records a new sample and clears any location error.
func (s *Session) UpdateLocation(sample geoquest.LocationSample) {
	s.mu.Lock()
	s.location = &sample
	s.locationErr = ""
	s.mu.Unlock()
}

// LocationFailed records a location error. Transient permission errors are
// ignored; everything else is kept as text for the caller to show.
func (s *Session) LocationFailed(code, message string) {
	if code == LocationErrTransient {
		return
	}
	text := message
	if text == "" {
		text = code
	}
	s.mu.Lock()
	s.locationErr = text
	s.mu.Unlock()
	s.logger.Warn("location error", "code", code, "message", message)
}

func (s *Session) Location() (geoquest.LocationSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil {
		return geoquest.LocationSample{}, false
	}
	return *s.location, true
}

type Status struct {
	Mode          geoquest.Mode `json:"mode"`
	ActiveGameID  string        `json:"activeGameId,omitempty"`
	Replication   string        `json:"replication"`
	Editing       []string      `json:"editing,omitempty"`
	HasLocation   bool          `json:"hasLocation"`
	LocationError string        `json:"locationError,omitempty"`
	Revision      uint64        `json:"revision"`
	Scopes        int           `json:"scopes"`
}

func (s *Session) Status() Status {
	id := s.store.ActiveID()
	st := Status{ActiveGameID: id, Revision: s.store.Revision()}
	if id != "" {
		st.Editing = s.editors.OpenPoints(id)
	}
	s.mu.Lock()
	st.Mode = s.mode
	st.Replication = s.replState.String()
	st.HasLocation = s.location != nil
	st.LocationError = s.locationErr
	st.Scopes = s.scopes
	s.mu.Unlock()
	return st
}
