package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/geoquest/internal/geoquest"
)

// DocStore implements Store using per-collection tables with JSONB data
// columns. Tables are created by the migrations package.
type DocStore struct {
	db  *sql.DB
	pub Publisher

	clockMu sync.Mutex
	last    time.Time
}

func NewDocStore(db *sql.DB, pub Publisher) *DocStore {
	return &DocStore{db: db, pub: pub}
}

const stampLayout = "2006-01-02T15:04:05.000000Z"

// stamp returns a strictly increasing UTC timestamp for dbUpdatedAt.
func (s *DocStore) stamp() string {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now.Format(stampLayout)
}

func newID() string {
	return uuid.NewString()
}

func (s *DocStore) publish(ctx context.Context, table string, typ geoquest.EventType, newDoc, oldDoc any) {
	if s.pub == nil {
		return
	}
	ev := geoquest.ChangeEvent{Table: table, EventType: typ}
	if newDoc != nil {
		ev.New, _ = json.Marshal(newDoc)
	}
	if oldDoc != nil {
		ev.Old, _ = json.Marshal(oldDoc)
	}
	s.pub.Publish(ctx, ev)
}

// Generic helpers, parameterised by table.

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q querier, table, id string, dest any) error {
	var data string
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT json(data) FROM %s WHERE id = ?`, table), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func all[T any](ctx context.Context, db *sql.DB, table string) ([]T, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT json(data) FROM %s ORDER BY rowid`, table),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// putDoc upserts a document in a single-column table and reports whether
// the row already existed.
func (s *DocStore) putDoc(ctx context.Context, table, id string, doc any) (existed bool, old json.RawMessage, err error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT json(data) FROM %s WHERE id = ?`, table), id).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, nil, err
	default:
		existed, old = true, json.RawMessage(prev)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, table),
		id, string(data),
	)
	if err != nil {
		return false, nil, err
	}
	return existed, old, tx.Commit()
}

// Games

func (s *DocStore) ListGames(ctx context.Context) ([]geoquest.Game, error) {
	games, err := all[geoquest.Game](ctx, s.db, geoquest.TableGames)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	return games, nil
}

func (s *DocStore) GetGame(ctx context.Context, id string) (geoquest.Game, error) {
	var g geoquest.Game
	if err := get(ctx, s.db, geoquest.TableGames, id, &g); err != nil {
		return geoquest.Game{}, err
	}
	return g, nil
}

func (s *DocStore) PutGame(ctx context.Context, g geoquest.Game) (geoquest.Game, error) {
	if g.ID == "" {
		g.ID = newID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return geoquest.Game{}, err
	}
	defer tx.Rollback()

	var prev geoquest.Game
	existed := true
	if err := get(ctx, tx, geoquest.TableGames, g.ID, &prev); errors.Is(err, ErrNotFound) {
		existed = false
	} else if err != nil {
		return geoquest.Game{}, fmt.Errorf("loading game %s: %w", g.ID, err)
	}
	if existed {
		// A full save never re-locks or un-completes a point.
		g.KeepProgress(prev)
	}

	g.DBUpdatedAt = s.stamp()
	if err := writeGame(ctx, tx, g); err != nil {
		return geoquest.Game{}, fmt.Errorf("saving game %s: %w", g.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return geoquest.Game{}, err
	}

	if existed {
		s.publish(ctx, geoquest.TableGames, geoquest.EventUpdate, g, prev)
	} else {
		s.publish(ctx, geoquest.TableGames, geoquest.EventInsert, g, nil)
	}
	return g, nil
}

func writeGame(ctx context.Context, tx *sql.Tx, g geoquest.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO games (id, name, is_template, updated_at, data) VALUES (?, ?, ?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_template = excluded.is_template,
		   updated_at = excluded.updated_at, data = excluded.data`,
		g.ID, g.Name, boolInt(g.IsGameTemplate), g.DBUpdatedAt, string(data),
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// modifyGame loads a game, applies fn, stamps and saves it in one
// transaction, and returns the stored game with its previous version.
func (s *DocStore) modifyGame(ctx context.Context, gameID string, fn func(*sql.Tx, *geoquest.Game) error) (geoquest.Game, geoquest.Game, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return geoquest.Game{}, geoquest.Game{}, err
	}
	defer tx.Rollback()

	var prev geoquest.Game
	if err := get(ctx, tx, geoquest.TableGames, gameID, &prev); err != nil {
		return geoquest.Game{}, geoquest.Game{}, err
	}

	g := prev.Clone()
	if err := fn(tx, &g); err != nil {
		return geoquest.Game{}, geoquest.Game{}, err
	}
	g.DBUpdatedAt = s.stamp()
	if err := writeGame(ctx, tx, g); err != nil {
		return geoquest.Game{}, geoquest.Game{}, err
	}
	if err := tx.Commit(); err != nil {
		return geoquest.Game{}, geoquest.Game{}, err
	}
	return g, prev, nil
}

func (s *DocStore) PatchPoints(ctx context.Context, gameID string, patches []geoquest.Patch, meta geoquest.PatchMeta) (geoquest.Game, error) {
	g, prev, err := s.modifyGame(ctx, gameID, func(tx *sql.Tx, g *geoquest.Game) error {
		g.Apply(patches)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO patch_log (id, game_id, user_name, action, point_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			newID(), gameID, meta.User, meta.Action, len(patches), time.Now().UTC().Format(stampLayout),
		)
		return err
	})
	if err != nil {
		return geoquest.Game{}, fmt.Errorf("patching game %s: %w", gameID, err)
	}
	s.publish(ctx, geoquest.TableGames, geoquest.EventUpdate, g, prev)
	return g, nil
}

func (s *DocStore) DeleteGame(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prev geoquest.Game
	if err := get(ctx, tx, geoquest.TableGames, id, &prev); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting game %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.publish(ctx, geoquest.TableGames, geoquest.EventDelete, nil, prev)
	return nil
}

// Patches returns the number of patch requests recorded for gameID.
func (s *DocStore) Patches(ctx context.Context, gameID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM patch_log WHERE game_id = ?`, gameID).Scan(&n)
	return n, err
}

// Templates and lists

func (s *DocStore) ListTemplates(ctx context.Context) ([]geoquest.TaskTemplate, error) {
	out, err := all[geoquest.TaskTemplate](ctx, s.db, geoquest.TableTemplates)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return out, nil
}

func (s *DocStore) PutTemplate(ctx context.Context, t geoquest.TaskTemplate) (geoquest.TaskTemplate, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	existed, old, err := s.putDoc(ctx, geoquest.TableTemplates, t.ID, t)
	if err != nil {
		return geoquest.TaskTemplate{}, fmt.Errorf("saving template %s: %w", t.ID, err)
	}
	s.publishDoc(ctx, geoquest.TableTemplates, existed, t, old)
	return t, nil
}

func (s *DocStore) ListLists(ctx context.Context) ([]geoquest.TaskList, error) {
	out, err := all[geoquest.TaskList](ctx, s.db, geoquest.TableLists)
	if err != nil {
		return nil, fmt.Errorf("listing lists: %w", err)
	}
	return out, nil
}

func (s *DocStore) PutList(ctx context.Context, l geoquest.TaskList) (geoquest.TaskList, error) {
	if l.ID == "" {
		l.ID = newID()
	}
	existed, old, err := s.putDoc(ctx, geoquest.TableLists, l.ID, l)
	if err != nil {
		return geoquest.TaskList{}, fmt.Errorf("saving list %s: %w", l.ID, err)
	}
	s.publishDoc(ctx, geoquest.TableLists, existed, l, old)
	return l, nil
}

func (s *DocStore) publishDoc(ctx context.Context, table string, existed bool, doc any, old json.RawMessage) {
	if !existed {
		s.publish(ctx, table, geoquest.EventInsert, doc, nil)
		return
	}
	s.publish(ctx, table, geoquest.EventUpdate, doc, old)
}
