package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/playperu/geoquest/internal/geoquest"
)

func gameEvent(id string) geoquest.ChangeEvent {
	raw, _ := json.Marshal(map[string]string{"id": id})
	return geoquest.ChangeEvent{Table: geoquest.TableGames, EventType: geoquest.EventUpdate, New: raw}
}

func pending(ch chan geoquest.ChangeEvent) int { return len(ch) }

func TestFeedRouting(t *testing.T) {
	f := NewFeed()
	rowA := f.Subscribe(geoquest.TableGames, "A")
	rowB := f.Subscribe(geoquest.TableGames, "B")
	table := f.Subscribe(geoquest.TableGames, "")
	other := f.Subscribe(geoquest.TableTemplates, "")

	f.Publish(context.Background(), gameEvent("A"))
	f.Publish(context.Background(), gameEvent("A"))
	f.Publish(context.Background(), gameEvent("B"))

	tests := []struct {
		name string
		ch   chan geoquest.ChangeEvent
		want int
	}{
		{"row A", rowA, 2},
		{"row B", rowB, 1},
		{"whole table", table, 3},
		{"other table", other, 0},
	}
	for _, tt := range tests {
		if got := pending(tt.ch); got != tt.want {
			t.Errorf("%s: %d events, want %d", tt.name, got, tt.want)
		}
	}

	if n := f.Subscribers(); n != 4 {
		t.Errorf("subscribers = %d", n)
	}
	f.Unsubscribe(geoquest.TableGames, "A", rowA)
	f.Publish(context.Background(), gameEvent("A"))
	if got := pending(rowA); got != 2 {
		t.Errorf("unsubscribed channel received: %d", got)
	}
	if n := f.Subscribers(); n != 3 {
		t.Errorf("subscribers after unsubscribe = %d", n)
	}
}

func TestFeedDropsForSlowSubscriber(t *testing.T) {
	f := NewFeed()
	ch := f.Subscribe(geoquest.TableGames, "A")
	for range cap(ch) + 5 {
		f.Publish(context.Background(), gameEvent("A"))
	}
	if got := pending(ch); got != cap(ch) {
		t.Errorf("buffered %d, want %d", got, cap(ch))
	}
}
