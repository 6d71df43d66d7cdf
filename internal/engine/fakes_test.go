package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/playperu/geoquest/internal/batch"
	"github.com/playperu/geoquest/internal/geoquest"
)

var errDown = errors.New("store down")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway is an in-memory Gateway that records every call.
type fakeGateway struct {
	mu        sync.Mutex
	games     map[string]geoquest.Game
	stamp     int
	patchErr  error
	fetchErr  error
	failSave  map[string]bool
	block     chan struct{}
	entered   chan struct{}
	patches   [][]geoquest.Patch
	saved     []geoquest.Game
	templates []geoquest.TaskTemplate
	lists     []geoquest.TaskList
	bulkGames []geoquest.Game
	fetches   atomic.Int32
	// duringTemplates runs once SaveTemplates has been entered.
	duringTemplates func()
}

func newFakeGateway(games ...geoquest.Game) *fakeGateway {
	gw := &fakeGateway{games: make(map[string]geoquest.Game), failSave: make(map[string]bool)}
	for _, g := range games {
		gw.games[g.ID] = g.Clone()
	}
	return gw
}

func (f *fakeGateway) nextStamp() string {
	f.stamp++
	return "v" + strconv.Itoa(f.stamp)
}

func (f *fakeGateway) FetchGame(_ context.Context, id string) (geoquest.Game, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return geoquest.Game{}, f.fetchErr
	}
	g, ok := f.games[id]
	if !ok {
		return geoquest.Game{}, geoquest.ErrNotFound
	}
	return g.Clone(), nil
}

func (f *fakeGateway) PatchPoints(ctx context.Context, gameID string, patches []geoquest.Patch, _ geoquest.PatchMeta) (geoquest.Game, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return geoquest.Game{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patches)
	if f.patchErr != nil {
		return geoquest.Game{}, f.patchErr
	}
	g, ok := f.games[gameID]
	if !ok {
		return geoquest.Game{}, geoquest.ErrNotFound
	}
	g.Apply(patches)
	g.DBUpdatedAt = f.nextStamp()
	f.games[gameID] = g
	return g.Clone(), nil
}

func (f *fakeGateway) SaveGame(_ context.Context, g geoquest.Game) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, g.Clone())
	f.games[g.ID] = g.Clone()
	return nil
}

func (f *fakeGateway) SaveTemplates(ctx context.Context, items []geoquest.TaskTemplate, opts batch.Options) (batch.Result, error) {
	if f.duringTemplates != nil {
		f.duringTemplates()
	}
	return batch.Save(ctx, items, opts, func(_ context.Context, t geoquest.TaskTemplate) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failSave[geoquest.TableTemplates] {
			return errDown
		}
		f.templates = append(f.templates, t)
		return nil
	})
}

func (f *fakeGateway) SaveLists(ctx context.Context, items []geoquest.TaskList, opts batch.Options) (batch.Result, error) {
	return batch.Save(ctx, items, opts, func(_ context.Context, l geoquest.TaskList) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failSave[geoquest.TableLists] {
			return errDown
		}
		f.lists = append(f.lists, l)
		return nil
	})
}

func (f *fakeGateway) SaveGames(ctx context.Context, items []geoquest.Game, opts batch.Options) (batch.Result, error) {
	return batch.Save(ctx, items, opts, func(_ context.Context, g geoquest.Game) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failSave[geoquest.TableGames] {
			return errDown
		}
		f.bulkGames = append(f.bulkGames, g)
		return nil
	})
}

func (f *fakeGateway) patchCalls() [][]geoquest.Patch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]geoquest.Patch(nil), f.patches...)
}

// fakeFeed hands out subscriptions that confirm only when told to.
type fakeFeed struct {
	mu           sync.Mutex
	subs         []*fakeSub
	autoConfirm  bool
	subscribeErr error
}

type fakeSub struct {
	rowID     string
	onEvent   func(geoquest.ChangeEvent)
	confirmed chan struct{}
	once      sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closed    atomic.Bool
}

func (s *fakeSub) Confirmed() <-chan struct{} { return s.confirmed }
func (s *fakeSub) Done() <-chan struct{}      { return s.done }
func (s *fakeSub) confirm()                   { s.once.Do(func() { close(s.confirmed) }) }

func (s *fakeSub) Unsubscribe() {
	s.closed.Store(true)
	s.drop()
}

// drop ends the stream as a network failure would.
func (s *fakeSub) drop() { s.doneOnce.Do(func() { close(s.done) }) }

func (f *fakeFeed) Subscribe(_ context.Context, _, rowID string, onEvent func(geoquest.ChangeEvent)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	s := &fakeSub{rowID: rowID, onEvent: onEvent, confirmed: make(chan struct{}), done: make(chan struct{})}
	if f.autoConfirm {
		s.confirm()
	}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeFeed) all() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSub(nil), f.subs...)
}

func (f *fakeFeed) last() *fakeSub {
	subs := f.all()
	if len(subs) == 0 {
		return nil
	}
	return subs[len(subs)-1]
}

type countingHaptics struct{ n atomic.Int32 }

func (h *countingHaptics) Pulse(context.Context) error {
	h.n.Add(1)
	return errors.New("no vibration motor")
}

func radiusPoint(id string, lat, lng, radius float64) geoquest.GamePoint {
	return geoquest.GamePoint{
		ID:              id,
		Location:        &geoquest.Coordinate{Lat: lat, Lng: lng},
		RadiusMeters:    radius,
		ActivationTypes: []geoquest.ActivationType{geoquest.ActivationRadius},
	}
}
