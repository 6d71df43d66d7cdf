// Package geoquest defines the core domain types shared by the store server
// and the client-resident engine. It has zero external dependencies.
package geoquest

import "errors"

var ErrNotFound = errors.New("not found")

// Mode is the interaction mode of the local session.
type Mode string

const (
	ModeNone       Mode = ""
	ModePlay       Mode = "PLAY"
	ModeEdit       Mode = "EDIT"
	ModeInstructor Mode = "INSTRUCTOR"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModePlay, ModeEdit, ModeInstructor:
		return true
	}
	return false
}

// Replicates reports whether games are kept in sync with the store in this mode.
func (m Mode) Replicates() bool {
	return m == ModeEdit || m == ModeInstructor
}

type ActivationType string

const (
	ActivationRadius  ActivationType = "radius"
	ActivationClick   ActivationType = "click"
	ActivationQR      ActivationType = "qr"
	ActivationNFC     ActivationType = "nfc"
	ActivationIBeacon ActivationType = "ibeacon"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Game struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Points         []GamePoint  `json:"points"`
	DangerZones    []DangerZone `json:"dangerZones,omitempty"`
	Routes         []Route      `json:"routes,omitempty"`
	DBUpdatedAt    string       `json:"dbUpdatedAt,omitempty"`
	IsGameTemplate bool         `json:"isGameTemplate,omitempty"`
	Config         GameConfig   `json:"config"`
}

// GameConfig carries the mode-relevant settings of a game.
type GameConfig struct {
	TimerMinutes   int  `json:"timerMinutes,omitempty"`
	ShowOtherTeams bool `json:"showOtherTeams,omitempty"`
	Supervised     bool `json:"supervised,omitempty"`
}

type GamePoint struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Location        *Coordinate      `json:"location"`
	RadiusMeters    float64          `json:"radiusMeters"`
	ActivationTypes []ActivationType `json:"activationTypes"`
	IsUnlocked      bool             `json:"isUnlocked"`
	IsCompleted     bool             `json:"isCompleted"`
	IsSectionHeader bool             `json:"isSectionHeader,omitempty"`
	PlaygroundID    string           `json:"playgroundId,omitempty"`
	Tags            []string         `json:"tags"`
}

// Activates reports whether t is among the point's activation types.
func (p GamePoint) Activates(t ActivationType) bool {
	for _, a := range p.ActivationTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Spatial reports whether the point takes part in geofence evaluation.
// Section headers and playground points are decorative.
func (p GamePoint) Spatial() bool {
	return !p.IsSectionHeader && p.PlaygroundID == "" && p.Location != nil
}

type DangerZone struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Location     Coordinate `json:"location"`
	RadiusMeters float64    `json:"radiusMeters"`
}

type Route struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Points []Coordinate `json:"points"`
}

type TaskTemplate struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Body  string   `json:"body,omitempty"`
	Tags  []string `json:"tags"`
}

type TaskList struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Tasks []TaskTemplate `json:"tasks"`
	Tags  []string       `json:"tags,omitempty"`
}

// Clone returns a deep copy of g so callers can mutate it without
// affecting the original.
func (g Game) Clone() Game {
	c := g
	if g.Points != nil {
		c.Points = make([]GamePoint, len(g.Points))
		for i, p := range g.Points {
			c.Points[i] = p.clone()
		}
	}
	if g.DangerZones != nil {
		c.DangerZones = append([]DangerZone(nil), g.DangerZones...)
	}
	if g.Routes != nil {
		c.Routes = make([]Route, len(g.Routes))
		for i, r := range g.Routes {
			r.Points = append([]Coordinate(nil), r.Points...)
			c.Routes[i] = r
		}
	}
	return c
}

func (p GamePoint) clone() GamePoint {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	if p.ActivationTypes != nil {
		p.ActivationTypes = append([]ActivationType(nil), p.ActivationTypes...)
	}
	if p.Tags != nil {
		p.Tags = append([]string(nil), p.Tags...)
	}
	return p
}

// Point returns the point with the given id.
func (g Game) Point(id string) (GamePoint, bool) {
	for _, p := range g.Points {
		if p.ID == id {
			return p, true
		}
	}
	return GamePoint{}, false
}
