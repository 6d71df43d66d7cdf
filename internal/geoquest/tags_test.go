package geoquest

import (
	"slices"
	"testing"
)

func TestTagOpTags(t *testing.T) {
	tests := []struct {
		name        string
		op          TagOp
		in          []string
		want        []string
		wantChanged bool
	}{
		{"rename exact", RenameTag("city", "town"), []string{"city", "park"}, []string{"town", "park"}, true},
		{"rename case-insensitive", RenameTag("city", "town"), []string{"City"}, []string{"town"}, true},
		{"rename collapses duplicate", RenameTag("city", "town"), []string{"town", "CITY"}, []string{"town"}, true},
		{"rename to itself", RenameTag("city", "city"), []string{"city", "park"}, []string{"city", "park"}, false},
		{"rename case only", RenameTag("city", "City"), []string{"city"}, []string{"City"}, true},
		{"rename no match", RenameTag("city", "town"), []string{"park"}, []string{"park"}, false},
		{"delete", DeleteTag("town"), []string{"a", "TOWN", "b"}, []string{"a", "b"}, true},
		{"delete no match", DeleteTag("town"), []string{"a"}, []string{"a"}, false},
		{"nil tags", DeleteTag("town"), nil, nil, false},
		{"empty from", RenameTag("", "x"), []string{"a"}, []string{"a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := slices.Clone(tt.in)
			got, changed := tt.op.Tags(in)
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("tags = %v, want %v", got, tt.want)
			}
			if !slices.Equal(in, tt.in) {
				t.Errorf("input mutated: %v", in)
			}
		})
	}
}

func TestTagOpListTouchesTasks(t *testing.T) {
	l := TaskList{
		ID: "l1",
		Tasks: []TaskTemplate{
			{ID: "t1", Tags: []string{"city"}},
			{ID: "t2", Tags: []string{"forest"}},
		},
	}

	got, changed := RenameTag("city", "town").List(l)
	if !changed {
		t.Fatal("expected list to change")
	}
	if !slices.Equal(got.Tasks[0].Tags, []string{"town"}) {
		t.Errorf("task t1 tags = %v", got.Tasks[0].Tags)
	}
	if !slices.Equal(l.Tasks[0].Tags, []string{"city"}) {
		t.Errorf("original list mutated: %v", l.Tasks[0].Tags)
	}
}

func TestTagOpGameLeavesOriginal(t *testing.T) {
	g := Game{ID: "g", Points: []GamePoint{
		{ID: "p1", Tags: []string{"city"}},
		{ID: "p2", Tags: []string{"lake"}},
	}}

	got, changed := DeleteTag("CITY").Game(g)
	if !changed {
		t.Fatal("expected game to change")
	}
	if len(got.Points[0].Tags) != 0 {
		t.Errorf("p1 tags = %v, want empty", got.Points[0].Tags)
	}
	if !slices.Equal(g.Points[0].Tags, []string{"city"}) {
		t.Errorf("original game mutated: %v", g.Points[0].Tags)
	}

	if _, changed := DeleteTag("mountain").Game(g); changed {
		t.Error("unrelated delete reported a change")
	}
	if _, changed := RenameTag("lake", "lake").Game(g); changed {
		t.Error("identity rename reported a change")
	}
}
