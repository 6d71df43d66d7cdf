package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/playperu/geoquest/internal/batch"
	"github.com/playperu/geoquest/internal/geoquest"
)

// Share of the progress budget spent in each phase.
const (
	weightScan      = 0.05
	weightTemplates = 0.55
	weightLists     = 0.15
	weightGames     = 0.20
)

var ErrInvalidTagOp = errors.New("invalid tag operation")

// ProgressFunc receives a monotonically increasing fraction in [0,1] and a
// label describing the current phase.
type ProgressFunc func(fraction float64, label string)

type ChunkSizes struct {
	Templates int
	Lists     int
	Games     int
}

// DefaultChunkSizes keeps heavy game documents in small chunks and
// lightweight templates in large ones.
var DefaultChunkSizes = ChunkSizes{Templates: 50, Lists: 20, Games: 5}

// Snapshot is one consistent copy of the three tagged collections.
type Snapshot struct {
	Templates []geoquest.TaskTemplate
	Lists     []geoquest.TaskList
	Games     []geoquest.Game
}

type PhaseResult struct {
	Collection string `json:"collection"`
	Changed    int    `json:"changed"`
	batch.Result
	Error string `json:"error,omitempty"`
}

type BulkResult struct {
	Op     geoquest.TagOp `json:"op"`
	Phases []PhaseResult  `json:"phases"`
}

// OK reports whether every changed item reached the gateway.
func (r BulkResult) OK() bool {
	for _, p := range r.Phases {
		if !p.OK {
			return false
		}
	}
	return true
}

// Changed returns the total number of items the operation changed.
func (r BulkResult) Changed() int {
	n := 0
	for _, p := range r.Phases {
		n += p.Changed
	}
	return n
}

// BulkCoordinator applies a tag operation across templates, lists, and
// games, persisting only the items it changes.
type BulkCoordinator struct {
	store   *LocalStore
	gateway Gateway
	chunks  ChunkSizes
	logger  *slog.Logger
}

func NewBulkCoordinator(store *LocalStore, gateway Gateway, chunks ChunkSizes, logger *slog.Logger) *BulkCoordinator {
	return &BulkCoordinator{store: store, gateway: gateway, chunks: chunks, logger: logger}
}

// Run applies op to the library held in the local store, persists the
// changed items, and then commits the transformed collections locally. A
// sub-phase that fails to persist is logged and reported in the result;
// later sub-phases still run and the local commit still happens.
func (c *BulkCoordinator) Run(ctx context.Context, op geoquest.TagOp, progress ProgressFunc) (BulkResult, error) {
	snap := Snapshot{
		Templates: c.store.Templates(),
		Lists:     c.store.Lists(),
		Games:     c.store.Games(),
	}

	out, res, err := c.Apply(ctx, op, snap, progress)
	if err != nil {
		return res, err
	}

	c.store.ReplaceTemplates(out.Templates)
	c.store.ReplaceLists(out.Lists)
	// Games are re-transformed from the current mirror so unlocks that
	// landed while the writes were in flight survive the commit.
	c.store.UpdateGames(op.Game)

	report(progress, 1, "done")
	c.logger.Info("tag operation finished", "op", op.String(), "changed", res.Changed(), "ok", res.OK())
	return res, nil
}

// Apply transforms snap with op and persists the changed items in three
// ordered sub-phases. It returns the fully transformed snapshot, changed
// and unchanged items together.
func (c *BulkCoordinator) Apply(ctx context.Context, op geoquest.TagOp, snap Snapshot, progress ProgressFunc) (Snapshot, BulkResult, error) {
	res := BulkResult{Op: op}
	if op.From == "" {
		return snap, res, fmt.Errorf("%w: empty tag", ErrInvalidTagOp)
	}
	p := &progressTracker{fn: progress}

	p.report(0, "scanning")
	out := Snapshot{
		Templates: make([]geoquest.TaskTemplate, len(snap.Templates)),
		Lists:     make([]geoquest.TaskList, len(snap.Lists)),
		Games:     make([]geoquest.Game, len(snap.Games)),
	}
	var (
		changedTemplates []geoquest.TaskTemplate
		changedLists     []geoquest.TaskList
		changedGames     []geoquest.Game
	)
	for i, t := range snap.Templates {
		nt, changed := op.Template(t)
		out.Templates[i] = nt
		if changed {
			changedTemplates = append(changedTemplates, nt)
		}
	}
	for i, l := range snap.Lists {
		nl, changed := op.List(l)
		out.Lists[i] = nl
		if changed {
			changedLists = append(changedLists, nl)
		}
	}
	for i, g := range snap.Games {
		ng, changed := op.Game(g)
		out.Games[i] = ng
		if changed {
			changedGames = append(changedGames, ng)
		}
	}
	p.report(weightScan, "scanned")

	base := weightScan
	res.Phases = append(res.Phases, c.persist(ctx, p, geoquest.TableTemplates, base, weightTemplates,
		len(changedTemplates), func(opts batch.Options) (batch.Result, error) {
			return c.gateway.SaveTemplates(ctx, changedTemplates, opts)
		}, c.chunks.Templates))
	base += weightTemplates

	res.Phases = append(res.Phases, c.persist(ctx, p, geoquest.TableLists, base, weightLists,
		len(changedLists), func(opts batch.Options) (batch.Result, error) {
			return c.gateway.SaveLists(ctx, changedLists, opts)
		}, c.chunks.Lists))
	base += weightLists

	res.Phases = append(res.Phases, c.persist(ctx, p, geoquest.TableGames, base, weightGames,
		len(changedGames), func(opts batch.Options) (batch.Result, error) {
			return c.gateway.SaveGames(ctx, changedGames, opts)
		}, c.chunks.Games))
	base += weightGames

	p.report(base, "saved")
	return out, res, nil
}

func (c *BulkCoordinator) persist(ctx context.Context, p *progressTracker, collection string, base, weight float64,
	n int, save func(batch.Options) (batch.Result, error), chunk int) PhaseResult {
	phase := PhaseResult{Collection: collection, Changed: n}
	label := "saving " + collection
	if n == 0 {
		phase.OK = true
		p.report(base+weight, label)
		return phase
	}

	r, err := save(batch.Options{
		ChunkSize: chunk,
		OnProgress: func(done, total int) {
			p.report(base+weight*float64(done)/float64(total), label)
		},
	})
	phase.Result = r
	if err != nil {
		phase.OK = false
		phase.Error = err.Error()
		c.logger.Error("bulk save failed", "collection", collection, "changed", n, "failed", r.Failed, "error", err)
	}
	p.report(base+weight, label)
	return phase
}

type progressTracker struct {
	fn   ProgressFunc
	last float64
}

func (t *progressTracker) report(f float64, label string) {
	if f < t.last {
		f = t.last
	}
	t.last = f
	report(t.fn, f, label)
}

func report(fn ProgressFunc, f float64, label string) {
	if fn == nil {
		return
	}
	fn(min(max(f, 0), 1), label)
}
