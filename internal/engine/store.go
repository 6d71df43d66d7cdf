package engine

import (
	"slices"

	"github.com/playperu/geoquest/internal/geoquest"
)

// SnapshotResult tells what LocalStore did with an incoming snapshot.
type SnapshotResult int

const (
	SnapshotApplied SnapshotResult = iota
	SnapshotEditing
	SnapshotStale
	SnapshotClosed
)

func (r SnapshotResult) String() string {
	switch r {
	case SnapshotApplied:
		return "applied"
	case SnapshotEditing:
		return "discarded_editing"
	case SnapshotStale:
		return "discarded_stale"
	case SnapshotClosed:
		return "store_closed"
	}
	return "unknown"
}

type storeState struct {
	games     map[string]geoquest.Game
	order     []string
	templates []geoquest.TaskTemplate
	lists     []geoquest.TaskList
	activeID  string
	revision  uint64
}

func (s *storeState) put(g geoquest.Game) {
	if _, ok := s.games[g.ID]; !ok {
		s.order = append(s.order, g.ID)
	}
	s.games[g.ID] = g
}

// LocalStore is the in-memory mirror of every game, template, and list plus
// the active-game pointer. A single goroutine owns the state; all reads and
// writes are messages to it, and every game write replaces a whole document.
type LocalStore struct {
	cmds    chan func(*storeState)
	quit    chan struct{}
	done    chan struct{}
	changes chan struct{}
}

func NewLocalStore() *LocalStore {
	s := &LocalStore{
		cmds:    make(chan func(*storeState)),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		changes: make(chan struct{}, 1),
	}
	go s.loop()
	return s
}

func (s *LocalStore) loop() {
	defer close(s.done)
	st := &storeState{games: make(map[string]geoquest.Game)}
	for {
		select {
		case fn := <-s.cmds:
			fn(st)
		case <-s.quit:
			return
		}
	}
}

// Close stops the actor. Calls after Close return zero values.
func (s *LocalStore) Close() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
}

func (s *LocalStore) do(fn func(*storeState)) bool {
	ran := make(chan struct{})
	select {
	case s.cmds <- func(st *storeState) { fn(st); close(ran) }:
	case <-s.done:
		return false
	}
	<-ran
	return true
}

// Changes signals when the active game switches or is removed. Signals
// coalesce; it is meant for a single consumer.
func (s *LocalStore) Changes() <-chan struct{} { return s.changes }

func (s *LocalStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Load replaces the whole library.
func (s *LocalStore) Load(games []geoquest.Game, templates []geoquest.TaskTemplate, lists []geoquest.TaskList) {
	s.do(func(st *storeState) {
		st.games = make(map[string]geoquest.Game, len(games))
		st.order = st.order[:0]
		for _, g := range games {
			st.put(g.Clone())
		}
		st.templates = slices.Clone(templates)
		st.lists = slices.Clone(lists)
		st.revision++
	})
}

// ApplySnapshot replaces the held copy of g.ID with g unless an editor has
// the game open or g carries the same dbUpdatedAt as the held copy. Flags
// already true locally stay true.
func (s *LocalStore) ApplySnapshot(g geoquest.Game, guard EditGuard) SnapshotResult {
	res := SnapshotClosed
	g = g.Clone()
	s.do(func(st *storeState) {
		if guard != nil && guard.Engaged(g.ID) {
			res = SnapshotEditing
			return
		}
		held, ok := st.games[g.ID]
		if ok && held.DBUpdatedAt == g.DBUpdatedAt {
			res = SnapshotStale
			return
		}
		if ok {
			g.KeepProgress(held)
		}
		st.put(g)
		st.revision++
		res = SnapshotApplied
	})
	return res
}

// ApplyPatch applies patches to the held copy of gameID and returns the
// updated document. It reports false when the game is unknown or an editor
// has it open.
func (s *LocalStore) ApplyPatch(gameID string, patches []geoquest.Patch, guard EditGuard) (geoquest.Game, bool) {
	var (
		out geoquest.Game
		ok  bool
	)
	s.do(func(st *storeState) {
		held, found := st.games[gameID]
		if !found {
			return
		}
		if guard != nil && guard.Engaged(gameID) {
			return
		}
		g := held.Clone()
		if g.Apply(patches) > 0 {
			st.games[gameID] = g
			st.revision++
		}
		out, ok = g.Clone(), true
	})
	return out, ok
}

// ApplyDelete removes gameID and clears the active pointer if it pointed at
// it. Neither the edit guard nor versions are consulted.
func (s *LocalStore) ApplyDelete(gameID string) bool {
	removed := false
	s.do(func(st *storeState) {
		if _, ok := st.games[gameID]; ok {
			delete(st.games, gameID)
			st.order = slices.DeleteFunc(st.order, func(id string) bool { return id == gameID })
			removed = true
			st.revision++
		}
		if st.activeID == gameID {
			st.activeID = ""
			s.notify()
		}
	})
	return removed
}

// UpdateGames runs fn over every held game and stores the results fn
// reports as changed. It returns how many games changed.
func (s *LocalStore) UpdateGames(fn func(geoquest.Game) (geoquest.Game, bool)) int {
	n := 0
	s.do(func(st *storeState) {
		for _, id := range st.order {
			g, changed := fn(st.games[id].Clone())
			if !changed {
				continue
			}
			g.ID = id
			st.games[id] = g
			n++
		}
		if n > 0 {
			st.revision++
		}
	})
	return n
}

func (s *LocalStore) ReplaceTemplates(templates []geoquest.TaskTemplate) {
	s.do(func(st *storeState) {
		st.templates = slices.Clone(templates)
		st.revision++
	})
}

func (s *LocalStore) ReplaceLists(lists []geoquest.TaskList) {
	s.do(func(st *storeState) {
		st.lists = slices.Clone(lists)
		st.revision++
	})
}

// SetActive points the session at gameID. An empty id clears it.
func (s *LocalStore) SetActive(gameID string) {
	s.do(func(st *storeState) {
		if st.activeID == gameID {
			return
		}
		st.activeID = gameID
		s.notify()
	})
}

func (s *LocalStore) ActiveID() string {
	var id string
	s.do(func(st *storeState) { id = st.activeID })
	return id
}

// Active returns the active game, if one is set and held.
func (s *LocalStore) Active() (geoquest.Game, bool) {
	var (
		g  geoquest.Game
		ok bool
	)
	s.do(func(st *storeState) {
		if st.activeID == "" {
			return
		}
		g, ok = st.games[st.activeID]
		g = g.Clone()
	})
	return g, ok
}

func (s *LocalStore) Game(id string) (geoquest.Game, bool) {
	var (
		g  geoquest.Game
		ok bool
	)
	s.do(func(st *storeState) {
		g, ok = st.games[id]
		g = g.Clone()
	})
	return g, ok
}

// Games returns copies of all held games in load/insert order.
func (s *LocalStore) Games() []geoquest.Game {
	var out []geoquest.Game
	s.do(func(st *storeState) {
		out = make([]geoquest.Game, 0, len(st.order))
		for _, id := range st.order {
			out = append(out, st.games[id].Clone())
		}
	})
	return out
}

func (s *LocalStore) Templates() []geoquest.TaskTemplate {
	var out []geoquest.TaskTemplate
	s.do(func(st *storeState) { out = slices.Clone(st.templates) })
	return out
}

func (s *LocalStore) Lists() []geoquest.TaskList {
	var out []geoquest.TaskList
	s.do(func(st *storeState) { out = slices.Clone(st.lists) })
	return out
}

// Revision increases on every applied mutation.
func (s *LocalStore) Revision() uint64 {
	var r uint64
	s.do(func(st *storeState) { r = st.revision })
	return r
}
