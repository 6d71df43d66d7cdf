package geoquest

import (
	"slices"
	"strings"
)

// TagOp is a library-wide tag mutation: a rename when To is non-empty,
// a delete otherwise. Matching is case-insensitive.
type TagOp struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

func RenameTag(from, to string) TagOp { return TagOp{From: from, To: to} }

func DeleteTag(tag string) TagOp { return TagOp{From: tag} }

func (op TagOp) IsDelete() bool { return op.To == "" }

func (op TagOp) String() string {
	if op.IsDelete() {
		return "delete " + op.From
	}
	return "rename " + op.From + " -> " + op.To
}

// Tags returns the transformed copy of tags and whether anything changed.
// A rename that would duplicate an existing tag collapses to one entry, and
// a rename to the identical string is not a change.
// The input slice is never modified.
func (op TagOp) Tags(tags []string) ([]string, bool) {
	if op.From == "" {
		return tags, false
	}
	hit := false
	for _, t := range tags {
		if strings.EqualFold(t, op.From) {
			hit = true
			break
		}
	}
	if !hit {
		return tags, false
	}

	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if strings.EqualFold(t, op.From) {
			if op.IsDelete() {
				continue
			}
			t = op.To
		}
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	if slices.Equal(out, tags) {
		return tags, false
	}
	return out, true
}

// Template returns the transformed template and whether it changed.
func (op TagOp) Template(t TaskTemplate) (TaskTemplate, bool) {
	tags, changed := op.Tags(t.Tags)
	if changed {
		t.Tags = tags
	}
	return t, changed
}

// List returns the transformed list and whether it or any of its tasks changed.
func (op TagOp) List(l TaskList) (TaskList, bool) {
	tags, changed := op.Tags(l.Tags)
	if changed {
		l.Tags = tags
	}
	var tasks []TaskTemplate
	for i, task := range l.Tasks {
		nt, ok := op.Template(task)
		if !ok {
			continue
		}
		if tasks == nil {
			tasks = append([]TaskTemplate(nil), l.Tasks...)
		}
		tasks[i] = nt
		changed = true
	}
	if tasks != nil {
		l.Tasks = tasks
	}
	return l, changed
}

// Game returns the transformed game and whether any point's tags changed.
func (op TagOp) Game(g Game) (Game, bool) {
	var points []GamePoint
	for i, p := range g.Points {
		tags, ok := op.Tags(p.Tags)
		if !ok {
			continue
		}
		if points == nil {
			points = append([]GamePoint(nil), g.Points...)
		}
		points[i].Tags = tags
	}
	if points == nil {
		return g, false
	}
	g.Points = points
	return g, true
}
