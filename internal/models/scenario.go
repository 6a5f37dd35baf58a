package models

import "fmt"

// Position is a point in the scenario's 3D space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Emitter is a positioned audio source, optionally bound to an uploaded audio file.
type Emitter struct {
	ID           int64    `json:"id"`
	Position     Position `json:"position"`
	AudioFileURI *string  `json:"audioFileUri"` // nil is sent as null
}

// Listener is a positioned audio receiver.
type Listener struct {
	ID       int64    `json:"id"`
	Position Position `json:"position"`
}

// Scenario is the live, authoritative copy of one scenario as shared by every
// connection viewing it.
type Scenario struct {
	ID        int64      `json:"id"`        // Matches the persistent store's primary key
	Name      string     `json:"name"`      // Mutable display name
	Emitters  []Emitter  `json:"emitters"`  // Ordered; ids are unique by caller convention only
	Listeners []Listener `json:"listeners"` // Ordered; ids are unique by caller convention only
}

// RoomName returns the broadcast group name for a scenario id.
func RoomName(scenarioID int64) string {
	return fmt.Sprintf("scenario:%d", scenarioID)
}

// Clone returns a deep copy of the scenario. Nil slices come back as empty
// slices so the JSON form always carries arrays.
func (s *Scenario) Clone() *Scenario {
	if s == nil {
		return nil
	}

	c := &Scenario{
		ID:        s.ID,
		Name:      s.Name,
		Emitters:  make([]Emitter, len(s.Emitters)),
		Listeners: make([]Listener, len(s.Listeners)),
	}
	for i, e := range s.Emitters {
		c.Emitters[i] = e.clone()
	}
	copy(c.Listeners, s.Listeners)

	return c
}

func (e Emitter) clone() Emitter {
	if e.AudioFileURI != nil {
		uri := *e.AudioFileURI
		e.AudioFileURI = &uri
	}
	return e
}

// EmitterByID returns a pointer to the first emitter with the given id.
func (s *Scenario) EmitterByID(id int64) *Emitter {
	for i := range s.Emitters {
		if s.Emitters[i].ID == id {
			return &s.Emitters[i]
		}
	}
	return nil
}

// DeviceCount is the number of emitters plus listeners.
func (s *Scenario) DeviceCount() int {
	return len(s.Emitters) + len(s.Listeners)
}
