package server

import (
	"context"
	"sync"

	"github.com/playperu/geoquest/internal/geoquest"
)

// Feed is an in-process pub/sub for change events, keyed by table and row
// id. A subscription with an empty row id receives every row of its table.
type Feed struct {
	mu   sync.RWMutex
	subs map[feedKey]map[chan geoquest.ChangeEvent]struct{}
}

type feedKey struct {
	table string
	rowID string
}

func NewFeed() *Feed {
	return &Feed{
		subs: make(map[feedKey]map[chan geoquest.ChangeEvent]struct{}),
	}
}

// Subscribe returns a channel receiving events for the given row. The
// registration is complete when Subscribe returns.
func (f *Feed) Subscribe(table, rowID string) chan geoquest.ChangeEvent {
	ch := make(chan geoquest.ChangeEvent, 16)
	k := feedKey{table, rowID}
	f.mu.Lock()
	if f.subs[k] == nil {
		f.subs[k] = make(map[chan geoquest.ChangeEvent]struct{})
	}
	f.subs[k][ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) Unsubscribe(table, rowID string, ch chan geoquest.ChangeEvent) {
	k := feedKey{table, rowID}
	f.mu.Lock()
	delete(f.subs[k], ch)
	if len(f.subs[k]) == 0 {
		delete(f.subs, k)
	}
	f.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, chans := range f.subs {
		n += len(chans)
	}
	return n
}

// Publish delivers ev to subscribers of its row and of its whole table.
func (f *Feed) Publish(_ context.Context, ev geoquest.ChangeEvent) {
	keys := []feedKey{{ev.Table, ""}}
	if id := ev.RowID(); id != "" {
		keys = append(keys, feedKey{ev.Table, id})
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, k := range keys {
		for ch := range f.subs[k] {
			select {
			case ch <- ev:
			default:
				// Drop if subscriber is slow.
			}
		}
	}
}
