package engine

import "sync"

// EditGuard reports whether a human editor currently has a point of the
// given game open. While it does, automatic overwrites of that game are
// discarded. It is consulted at the moment of every overwrite.
type EditGuard interface {
	Engaged(gameID string) bool
}

// GuardFunc adapts a function to EditGuard.
type GuardFunc func(gameID string) bool

func (f GuardFunc) Engaged(gameID string) bool { return f(gameID) }

// NoGuard never vetoes.
var NoGuard EditGuard = GuardFunc(func(string) bool { return false })

// EditorTracker counts open point editors per game.
type EditorTracker struct {
	mu      sync.Mutex
	open    map[string]map[string]int
	changes chan struct{}
}

func NewEditorTracker() *EditorTracker {
	return &EditorTracker{
		open:    make(map[string]map[string]int),
		changes: make(chan struct{}, 1),
	}
}

// Open records an editor opened on pointID. Opens nest; each needs a Close.
func (t *EditorTracker) Open(gameID, pointID string) {
	t.mu.Lock()
	was := len(t.open[gameID]) > 0
	if t.open[gameID] == nil {
		t.open[gameID] = make(map[string]int)
	}
	t.open[gameID][pointID]++
	t.mu.Unlock()

	if !was {
		t.notify()
	}
}

// Close records an editor closed on pointID. Closing a point that is not
// open is a no-op.
func (t *EditorTracker) Close(gameID, pointID string) {
	t.mu.Lock()
	points := t.open[gameID]
	if points[pointID] == 0 {
		t.mu.Unlock()
		return
	}
	points[pointID]--
	if points[pointID] == 0 {
		delete(points, pointID)
	}
	cleared := len(points) == 0
	if cleared {
		delete(t.open, gameID)
	}
	t.mu.Unlock()

	if cleared {
		t.notify()
	}
}

// CloseAll drops every editor of gameID.
func (t *EditorTracker) CloseAll(gameID string) {
	t.mu.Lock()
	_, had := t.open[gameID]
	delete(t.open, gameID)
	t.mu.Unlock()

	if had {
		t.notify()
	}
}

func (t *EditorTracker) Engaged(gameID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open[gameID]) > 0
}

// OpenPoints returns the ids of points with an open editor in gameID.
func (t *EditorTracker) OpenPoints(gameID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.open[gameID]))
	for id := range t.open[gameID] {
		ids = append(ids, id)
	}
	return ids
}

// Changes signals whenever some game's guard flips. Signals coalesce.
func (t *EditorTracker) Changes() <-chan struct{} { return t.changes }

func (t *EditorTracker) notify() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}
