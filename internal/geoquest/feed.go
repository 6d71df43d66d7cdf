package geoquest

import "encoding/json"

// Tables published on the change feed.
const (
	TableGames     = "games"
	TableTemplates = "templates"
	TableLists     = "lists"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is a row-level change notification. New carries the row after
// an insert or update, Old the row (at least its id) before a delete.
type ChangeEvent struct {
	Table     string          `json:"table"`
	EventType EventType       `json:"eventType"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// RowID returns the id of the affected row.
func (e ChangeEvent) RowID() string {
	raw := e.New
	if len(raw) == 0 {
		raw = e.Old
	}
	var row struct {
		ID string `json:"id"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &row) != nil {
		return ""
	}
	return row.ID
}

// Game decodes the new row of a games-table event.
func (e ChangeEvent) Game() (Game, error) {
	var g Game
	err := json.Unmarshal(e.New, &g)
	return g, err
}

// LocationSample is one device position fix. Accuracy is in metres.
type LocationSample struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

func (s LocationSample) Coordinate() Coordinate {
	return Coordinate{Lat: s.Lat, Lng: s.Lng}
}
