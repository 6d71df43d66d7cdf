package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/playperu/geoquest/internal/geoquest"
)

func tagLibrary() ([]geoquest.Game, []geoquest.TaskTemplate, []geoquest.TaskList) {
	templates := []geoquest.TaskTemplate{
		{ID: "t1", Tags: []string{"city"}},
		{ID: "t2", Tags: []string{"City", "history"}},
		{ID: "t3", Tags: []string{"art", "CITY"}},
		{ID: "t4", Tags: []string{"forest"}},
		{ID: "t5"},
	}
	lists := []geoquest.TaskList{
		{ID: "l1", Tasks: []geoquest.TaskTemplate{{ID: "l1a", Tags: []string{"city"}}, {ID: "l1b", Tags: []string{"lake"}}}},
		{ID: "l2", Tasks: []geoquest.TaskTemplate{{ID: "l2a", Tags: []string{"cIty"}}}},
		{ID: "l3", Tasks: []geoquest.TaskTemplate{{ID: "l3a", Tags: []string{"lake"}}}},
	}
	games := []geoquest.Game{
		{ID: "g1", Points: []geoquest.GamePoint{
			{ID: "g1a", Tags: []string{"city"}},
			{ID: "g1b", Tags: []string{"city", "park"}},
			{ID: "g1c", Tags: []string{"CITY"}},
			{ID: "g1d", Tags: []string{"park"}},
		}},
		{ID: "g2", Points: []geoquest.GamePoint{
			{ID: "g2a", Tags: []string{"City"}},
			{ID: "g2b", Tags: []string{"city"}, IsUnlocked: true},
		}},
		{ID: "g3", Points: []geoquest.GamePoint{{ID: "g3a", Tags: []string{"river"}}}},
	}
	return games, templates, lists
}

// taggedItems returns the ids of every template, list task, and game point
// carrying tag, compared case-insensitively.
func taggedItems(s *LocalStore, tag string) []string {
	has := func(tags []string) bool {
		return slices.ContainsFunc(tags, func(t string) bool { return strings.EqualFold(t, tag) })
	}
	var ids []string
	for _, t := range s.Templates() {
		if has(t.Tags) {
			ids = append(ids, t.ID)
		}
	}
	for _, l := range s.Lists() {
		for _, task := range l.Tasks {
			if has(task.Tags) {
				ids = append(ids, task.ID)
			}
		}
	}
	for _, g := range s.Games() {
		for _, p := range g.Points {
			if has(p.Tags) {
				ids = append(ids, p.ID)
			}
		}
	}
	return ids
}

func newBulkRig(t *testing.T) (*BulkCoordinator, *LocalStore, *fakeGateway) {
	t.Helper()
	games, templates, lists := tagLibrary()
	store := NewLocalStore()
	t.Cleanup(store.Close)
	store.Load(games, templates, lists)
	gw := newFakeGateway(games...)
	return NewBulkCoordinator(store, gw, ChunkSizes{Templates: 2, Lists: 1, Games: 1}, quietLogger()), store, gw
}

func TestBulkRenameThenDelete(t *testing.T) {
	bc, store, gw := newBulkRig(t)
	want := []string{"t1", "t2", "t3", "l1a", "l2a", "g1a", "g1b", "g1c", "g2a", "g2b"}

	if got := taggedItems(store, "city"); !slices.Equal(got, want) {
		t.Fatalf("fixture tagged = %v", got)
	}

	res, err := bc.Run(context.Background(), geoquest.RenameTag("city", "town"), nil)
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if !res.OK() {
		t.Errorf("rename not ok: %+v", res)
	}
	if got := taggedItems(store, "town"); !slices.Equal(got, want) {
		t.Errorf("town tagged = %v, want %v", got, want)
	}
	if got := taggedItems(store, "city"); len(got) != 0 {
		t.Errorf("city still tagged on %v", got)
	}

	gw.mu.Lock()
	if len(gw.templates) != 3 || len(gw.lists) != 2 || len(gw.bulkGames) != 2 {
		t.Errorf("persisted templates=%d lists=%d games=%d, want 3/2/2",
			len(gw.templates), len(gw.lists), len(gw.bulkGames))
	}
	gw.mu.Unlock()

	untouched, _ := store.Game("g3")
	if !slices.Equal(untouched.Points[0].Tags, []string{"river"}) {
		t.Errorf("g3 changed: %v", untouched.Points[0].Tags)
	}
	g2, _ := store.Game("g2")
	if !g2.Points[1].IsUnlocked {
		t.Error("unlock lost during rename")
	}

	res, err = bc.Run(context.Background(), geoquest.DeleteTag("town"), nil)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Changed() != 7 {
		t.Errorf("delete changed %d collection items, want 7", res.Changed())
	}
	if got := taggedItems(store, "town"); len(got) != 0 {
		t.Errorf("town still tagged on %v", got)
	}
	tmpl := store.Templates()
	if !slices.Equal(tmpl[1].Tags, []string{"history"}) || !slices.Equal(tmpl[3].Tags, []string{"forest"}) {
		t.Errorf("templates after delete = %+v", tmpl)
	}
}

func TestBulkPartialFailure(t *testing.T) {
	bc, store, gw := newBulkRig(t)
	gw.failSave[geoquest.TableTemplates] = true

	res, err := bc.Run(context.Background(), geoquest.RenameTag("city", "town"), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OK() {
		t.Fatal("expected failure to be reported")
	}
	if len(res.Phases) != 3 {
		t.Fatalf("phases = %d, want 3", len(res.Phases))
	}
	if p := res.Phases[0]; p.OK || p.Failed != 3 || p.Error == "" {
		t.Errorf("templates phase = %+v", p)
	}
	if !res.Phases[1].OK || !res.Phases[2].OK {
		t.Errorf("later phases should still succeed: %+v", res.Phases[1:])
	}

	// The local library reflects the rename even though templates never
	// reached the store.
	if got := taggedItems(store, "town"); len(got) != 10 {
		t.Errorf("town tagged on %d items, want 10", len(got))
	}
}

func TestBulkProgress(t *testing.T) {
	bc, _, _ := newBulkRig(t)

	var (
		fractions []float64
		labels    []string
	)
	_, err := bc.Run(context.Background(), geoquest.RenameTag("city", "town"), func(f float64, label string) {
		fractions = append(fractions, f)
		labels = append(labels, label)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(fractions) < 5 {
		t.Fatalf("only %d progress reports", len(fractions))
	}
	for i, f := range fractions {
		if f < 0 || f > 1 {
			t.Errorf("fraction[%d] = %v out of range", i, f)
		}
		if i > 0 && f < fractions[i-1] {
			t.Errorf("fraction decreased at %d: %v -> %v", i, fractions[i-1], f)
		}
	}
	if last := fractions[len(fractions)-1]; last != 1 {
		t.Errorf("final fraction = %v, want 1", last)
	}
	if !slices.Contains(labels, "saving templates") || !slices.Contains(labels, "saving games") {
		t.Errorf("labels = %v", labels)
	}
}

func TestBulkNoMatchWritesNothing(t *testing.T) {
	bc, _, gw := newBulkRig(t)

	res, err := bc.Run(context.Background(), geoquest.DeleteTag("volcano"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() != 0 || !res.OK() {
		t.Errorf("result = %+v", res)
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.templates)+len(gw.lists)+len(gw.bulkGames) != 0 {
		t.Error("unchanged items were written")
	}
}

func TestBulkRejectsEmptyTag(t *testing.T) {
	bc, _, _ := newBulkRig(t)
	if _, err := bc.Run(context.Background(), geoquest.DeleteTag(""), nil); !errors.Is(err, ErrInvalidTagOp) {
		t.Errorf("err = %v, want ErrInvalidTagOp", err)
	}
}

func TestBulkKeepsUnlocksLandingMidRun(t *testing.T) {
	bulk, store, gw := newBulkRig(t)

	gw.duringTemplates = func() {
		// Local unlock fallback on g1.
		if _, ok := store.ApplyPatch("g1", []geoquest.Patch{geoquest.UnlockPatch("g1a")}, nil); !ok {
			t.Error("ApplyPatch on g1 refused")
		}
		// Canonical snapshot of g2 arriving over replication.
		g2, _ := store.Game("g2")
		g2.DBUpdatedAt = "v9"
		g2.Points[0].IsUnlocked = true
		if res := store.ApplySnapshot(g2, nil); res != SnapshotApplied {
			t.Errorf("snapshot = %v", res)
		}
	}

	res, err := bulk.Run(context.Background(), geoquest.RenameTag("city", "town"), nil)
	if err != nil || !res.OK() {
		t.Fatalf("Run = %+v, %v", res, err)
	}

	for _, tt := range []struct{ game, point string }{{"g1", "g1a"}, {"g2", "g2a"}} {
		g, _ := store.Game(tt.game)
		i := slices.IndexFunc(g.Points, func(p geoquest.GamePoint) bool { return p.ID == tt.point })
		p := g.Points[i]
		if !p.IsUnlocked {
			t.Errorf("%s unlock lost by the tag commit", tt.point)
		}
		if !slices.Equal(p.Tags, []string{"town"}) {
			t.Errorf("%s tags = %v, want [town]", tt.point, p.Tags)
		}
	}
	if g2, _ := store.Game("g2"); g2.DBUpdatedAt != "v9" {
		t.Errorf("g2 version = %q, want the mid-run snapshot's", g2.DBUpdatedAt)
	}
	if left := taggedItems(store, "city"); len(left) != 0 {
		t.Errorf("still tagged city: %v", left)
	}
}
