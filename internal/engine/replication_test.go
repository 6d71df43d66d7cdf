package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playperu/geoquest/internal/geoquest"
)

const (
	testGrace = 50 * time.Millisecond
	testPoll  = 300 * time.Millisecond
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type replicationRig struct {
	store *LocalStore
	gw    *fakeGateway
	feed  *fakeFeed
	rc    *ReplicationController
	done  chan struct{}
	stop  context.CancelFunc
}

func startReplication(t *testing.T, guard EditGuard, feed *fakeFeed) *replicationRig {
	t.Helper()
	g := geoquest.Game{ID: "G", DBUpdatedAt: "v1", Points: []geoquest.GamePoint{{ID: "P", Title: "local"}}}
	store := NewLocalStore()
	t.Cleanup(store.Close)
	store.Load([]geoquest.Game{g}, nil, nil)
	store.SetActive("G")

	gw := newFakeGateway(g)
	if feed == nil {
		feed = &fakeFeed{}
	}
	rc := NewReplicationController("G", ReplicationConfig{Grace: testGrace, PollInterval: testPoll},
		store, gw, feed, guard, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	r := &replicationRig{store: store, gw: gw, feed: feed, rc: rc, done: make(chan struct{}), stop: cancel}
	go func() {
		defer close(r.done)
		_ = rc.Run(ctx)
	}()
	t.Cleanup(func() { r.shutdown(t) })
	return r
}

func (r *replicationRig) shutdown(t *testing.T) {
	t.Helper()
	r.stop()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("replication did not stop")
	}
}

func updateEvent(t *testing.T, g geoquest.Game) geoquest.ChangeEvent {
	t.Helper()
	raw, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	return geoquest.ChangeEvent{Table: geoquest.TableGames, EventType: geoquest.EventUpdate, New: raw}
}

func TestReplicationConfirmedNeverPolls(t *testing.T) {
	r := startReplication(t, nil, nil)

	waitFor(t, "subscription", func() bool { return r.feed.last() != nil })
	r.feed.last().confirm()
	waitFor(t, "SUBSCRIBED", func() bool { return r.rc.State() == StateSubscribed })

	time.Sleep(testGrace + testPoll + 100*time.Millisecond)

	if st := r.rc.State(); st != StateSubscribed {
		t.Errorf("state = %v, want SUBSCRIBED", st)
	}
	if n := r.gw.fetches.Load(); n != 0 {
		t.Errorf("fetches = %d, want 0", n)
	}
}

func TestReplicationFallsBackToPolling(t *testing.T) {
	start := time.Now()
	r := startReplication(t, nil, nil)

	waitFor(t, "POLLING", func() bool { return r.rc.State() == StatePolling })
	if elapsed := time.Since(start); elapsed < testGrace {
		t.Errorf("polling began after %v, before the %v grace window", elapsed, testGrace)
	}
	if n := r.gw.fetches.Load(); n != 0 {
		t.Errorf("fetches at grace = %d, want 0", n)
	}

	time.Sleep(time.Until(start.Add(testGrace + testPoll + 100*time.Millisecond)))
	if n := r.gw.fetches.Load(); n != 1 {
		t.Errorf("fetches after one poll interval = %d, want 1", n)
	}
}

func TestReplicationSubscribeErrorPolls(t *testing.T) {
	r := startReplication(t, nil, &fakeFeed{subscribeErr: ErrFeedClosed})

	waitFor(t, "POLLING", func() bool { return r.rc.State() == StatePolling })
	waitFor(t, "a poll", func() bool { return r.gw.fetches.Load() >= 1 })
}

func TestReplicationLateConfirmStopsPolling(t *testing.T) {
	r := startReplication(t, nil, nil)

	waitFor(t, "POLLING", func() bool { return r.rc.State() == StatePolling })
	r.feed.last().confirm()
	waitFor(t, "SUBSCRIBED", func() bool { return r.rc.State() == StateSubscribed })

	time.Sleep(testPoll + 100*time.Millisecond)
	if n := r.gw.fetches.Load(); n != 0 {
		t.Errorf("fetches = %d, want 0 once the feed confirmed", n)
	}
}

func TestReplicationPollsAfterFeedDrops(t *testing.T) {
	r := startReplication(t, nil, nil)

	waitFor(t, "subscription", func() bool { return r.feed.last() != nil })
	r.feed.last().confirm()
	waitFor(t, "SUBSCRIBED", func() bool { return r.rc.State() == StateSubscribed })

	r.gw.mu.Lock()
	r.gw.games["G"] = geoquest.Game{ID: "G", DBUpdatedAt: "v2", Points: []geoquest.GamePoint{{ID: "P", Title: "remote"}}}
	r.gw.mu.Unlock()

	r.feed.last().drop()
	waitFor(t, "POLLING", func() bool { return r.rc.State() == StatePolling })
	waitFor(t, "polled snapshot", func() bool {
		g, _ := r.store.Game("G")
		return g.DBUpdatedAt == "v2" && g.Points[0].Title == "remote"
	})
	if n := len(r.feed.all()); n != 1 {
		t.Errorf("subscriptions = %d, want 1 per scope", n)
	}
}

func TestReplicationEditGuardVeto(t *testing.T) {
	var calls atomic.Int32
	guard := GuardFunc(func(string) bool {
		calls.Add(1)
		return true
	})
	r := startReplication(t, guard, &fakeFeed{autoConfirm: true})
	waitFor(t, "SUBSCRIBED", func() bool { return r.rc.State() == StateSubscribed })
	before := r.store.Revision()

	r.feed.last().onEvent(updateEvent(t, geoquest.Game{ID: "G", DBUpdatedAt: "v2", Points: []geoquest.GamePoint{{ID: "P", Title: "remote"}}}))
	waitFor(t, "guard consulted", func() bool { return calls.Load() > 0 })

	g, _ := r.store.Game("G")
	if g.Points[0].Title != "local" || g.DBUpdatedAt != "v1" {
		t.Errorf("store changed while editing: %+v", g)
	}
	if r.store.Revision() != before {
		t.Error("revision moved while editing")
	}
}

func TestReplicationVersionVeto(t *testing.T) {
	var calls atomic.Int32
	guard := GuardFunc(func(string) bool {
		calls.Add(1)
		return false
	})
	r := startReplication(t, guard, &fakeFeed{autoConfirm: true})
	waitFor(t, "SUBSCRIBED", func() bool { return r.rc.State() == StateSubscribed })

	r.feed.last().onEvent(updateEvent(t, geoquest.Game{ID: "G", DBUpdatedAt: "v1", Points: []geoquest.GamePoint{{ID: "P", Title: "remote"}}}))
	waitFor(t, "guard consulted", func() bool { return calls.Load() > 0 })

	g, _ := r.store.Game("G")
	if g.Points[0].Title != "local" {
		t.Errorf("same-version snapshot overwrote the store: %+v", g)
	}

	r.feed.last().onEvent(updateEvent(t, geoquest.Game{ID: "G", DBUpdatedAt: "v2", Points: []geoquest.GamePoint{{ID: "P", Title: "remote"}}}))
	waitFor(t, "newer snapshot applied", func() bool {
		g, _ := r.store.Game("G")
		return g.Points[0].Title == "remote"
	})
	if a, ok := r.store.Active(); !ok || a.DBUpdatedAt != "v2" {
		t.Errorf("active game = %+v, %v; want v2", a, ok)
	}
}

func TestReplicationIgnoresOtherRows(t *testing.T) {
	var calls atomic.Int32
	guard := GuardFunc(func(string) bool {
		calls.Add(1)
		return false
	})
	r := startReplication(t, guard, &fakeFeed{autoConfirm: true})
	waitFor(t, "SUBSCRIBED", func() bool { return r.rc.State() == StateSubscribed })

	r.feed.last().onEvent(updateEvent(t, geoquest.Game{ID: "OTHER", DBUpdatedAt: "v9"}))
	r.feed.last().onEvent(updateEvent(t, geoquest.Game{ID: "G", DBUpdatedAt: "v2"}))
	waitFor(t, "own snapshot", func() bool { return calls.Load() > 0 })

	if _, ok := r.store.Game("OTHER"); ok {
		t.Error("event for another game was applied")
	}
}

func TestReplicationDeleteIgnoresGuard(t *testing.T) {
	guard := GuardFunc(func(string) bool { return true })
	r := startReplication(t, guard, &fakeFeed{autoConfirm: true})
	waitFor(t, "SUBSCRIBED", func() bool { return r.rc.State() == StateSubscribed })

	r.feed.last().onEvent(geoquest.ChangeEvent{
		Table:     geoquest.TableGames,
		EventType: geoquest.EventDelete,
		Old:       json.RawMessage(`{"id":"G"}`),
	})

	waitFor(t, "game removed", func() bool {
		_, ok := r.store.Game("G")
		return !ok
	})
	if id := r.store.ActiveID(); id != "" {
		t.Errorf("active = %q, want cleared", id)
	}
}

func TestReplicationTeardown(t *testing.T) {
	r := startReplication(t, nil, nil)
	waitFor(t, "subscription", func() bool { return r.feed.last() != nil })

	r.shutdown(t)

	if st := r.rc.State(); st != StateTornDown {
		t.Errorf("state = %v, want TORN_DOWN", st)
	}
	if !r.feed.last().closed.Load() {
		t.Error("subscription not released")
	}
	if subs := r.feed.all(); len(subs) != 1 {
		t.Errorf("subscriptions = %d, want 1", len(subs))
	}
}
