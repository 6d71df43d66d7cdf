package geoquest

// PointPatch is a field-level mutation of a single point. Nil fields are
// left untouched.
type PointPatch struct {
	IsUnlocked  *bool `json:"isUnlocked,omitempty"`
	IsCompleted *bool `json:"isCompleted,omitempty"`
}

type Patch struct {
	PointID string     `json:"pointId"`
	Patch   PointPatch `json:"patch"`
}

// PatchMeta describes who submitted a patch and why.
type PatchMeta struct {
	User   string `json:"user,omitempty"`
	Action string `json:"action"`
}

// UnlockPatch returns the patch that unlocks the given point.
func UnlockPatch(pointID string) Patch {
	t := true
	return Patch{PointID: pointID, Patch: PointPatch{IsUnlocked: &t}}
}

// Apply applies patches to g in place and returns how many points changed.
// Unlocked and completed flags only ever move from false to true; a patch
// asking for false on a flag that is already true is ignored. Patches for
// unknown point ids are skipped.
func (g *Game) Apply(patches []Patch) int {
	changed := 0
	for _, p := range patches {
		for i := range g.Points {
			if g.Points[i].ID != p.PointID {
				continue
			}
			if g.Points[i].applyPatch(p.Patch) {
				changed++
			}
			break
		}
	}
	return changed
}

func (p *GamePoint) applyPatch(pp PointPatch) bool {
	changed := false
	if pp.IsUnlocked != nil && *pp.IsUnlocked && !p.IsUnlocked {
		p.IsUnlocked = true
		changed = true
	}
	if pp.IsCompleted != nil && *pp.IsCompleted && !p.IsCompleted {
		p.IsCompleted = true
		changed = true
	}
	return changed
}

// KeepProgress copies unlocked and completed flags that are true in prev onto
// the matching points of g, so a replacement document can never reset them.
func (g *Game) KeepProgress(prev Game) {
	if len(prev.Points) == 0 {
		return
	}
	held := make(map[string]GamePoint, len(prev.Points))
	for _, p := range prev.Points {
		held[p.ID] = p
	}
	for i := range g.Points {
		old, ok := held[g.Points[i].ID]
		if !ok {
			continue
		}
		if old.IsUnlocked {
			g.Points[i].IsUnlocked = true
		}
		if old.IsCompleted {
			g.Points[i].IsCompleted = true
		}
	}
}

// PatchRequest is the wire form of a batched point patch.
type PatchRequest struct {
	Patches []Patch   `json:"patches"`
	Meta    PatchMeta `json:"meta"`
}
