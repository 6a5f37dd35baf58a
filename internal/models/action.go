package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Action names accepted on the scenario:update event.
const (
	ActionUpdateAudioFileURI = "updateAudioFileUri"
	ActionAddEmitter         = "addEmitter"
	ActionDeleteEmitter      = "deleteEmitter"
	ActionAddListener        = "addListener"
	ActionDeleteListener     = "deleteListener"
	ActionUpdateName         = "updateName"
)

var (
	ErrMissingPayload = errors.New("action payload is missing")
	ErrMissingField   = errors.New("required payload field is missing")
)

// Action is one edit applied to a live scenario. The set of implementations
// is closed: only the types in this file satisfy it.
type Action interface {
	// Name is the wire name of the action.
	Name() string
	// Apply mutates s and reports whether anything changed.
	Apply(s *Scenario) bool

	sealed()
}

// UpdateAudioFileURI binds (or unbinds, when AudioFileURI is nil) an audio
// file to an existing emitter.
type UpdateAudioFileURI struct {
	ID           int64
	AudioFileURI *string
}

// AddEmitter appends a full emitter record. Ids are not deduplicated.
type AddEmitter struct {
	Emitter Emitter
}

// DeleteEmitter removes every emitter carrying ID.
type DeleteEmitter struct {
	ID int64
}

// AddListener appends a full listener record. Ids are not deduplicated.
type AddListener struct {
	Listener Listener
}

// DeleteListener removes every listener carrying ID.
type DeleteListener struct {
	ID int64
}

// UpdateName renames the scenario.
type UpdateName struct {
	NewName string
}

// UnknownAction is an action name this server does not understand. It never
// touches state.
type UnknownAction struct {
	Raw string
}

func (a UpdateAudioFileURI) Name() string { return ActionUpdateAudioFileURI }
func (a AddEmitter) Name() string         { return ActionAddEmitter }
func (a DeleteEmitter) Name() string      { return ActionDeleteEmitter }
func (a AddListener) Name() string        { return ActionAddListener }
func (a DeleteListener) Name() string     { return ActionDeleteListener }
func (a UpdateName) Name() string         { return ActionUpdateName }
func (a UnknownAction) Name() string      { return a.Raw }

func (UpdateAudioFileURI) sealed() {}
func (AddEmitter) sealed()         {}
func (DeleteEmitter) sealed()      {}
func (AddListener) sealed()        {}
func (DeleteListener) sealed()     {}
func (UpdateName) sealed()         {}
func (UnknownAction) sealed()      {}

func (a UpdateAudioFileURI) Apply(s *Scenario) bool {
	e := s.EmitterByID(a.ID)
	if e == nil {
		return false
	}
	e.AudioFileURI = nil
	if a.AudioFileURI != nil {
		uri := *a.AudioFileURI
		e.AudioFileURI = &uri
	}
	return true
}

func (a AddEmitter) Apply(s *Scenario) bool {
	s.Emitters = append(s.Emitters, a.Emitter.clone())
	return true
}

func (a DeleteEmitter) Apply(s *Scenario) bool {
	before := len(s.Emitters)
	s.Emitters = slices.DeleteFunc(s.Emitters, func(e Emitter) bool { return e.ID == a.ID })
	return len(s.Emitters) != before
}

func (a AddListener) Apply(s *Scenario) bool {
	s.Listeners = append(s.Listeners, a.Listener)
	return true
}

func (a DeleteListener) Apply(s *Scenario) bool {
	before := len(s.Listeners)
	s.Listeners = slices.DeleteFunc(s.Listeners, func(l Listener) bool { return l.ID == a.ID })
	return len(s.Listeners) != before
}

func (a UpdateName) Apply(s *Scenario) bool {
	changed := s.Name != a.NewName
	s.Name = a.NewName
	return changed
}

func (UnknownAction) Apply(*Scenario) bool { return false }

// ParseAction decodes the payload of a scenario:update event into its action
// variant. Unrecognised names yield an UnknownAction and no error; a
// recognised name with a payload that lacks the fields its variant needs
// yields an error.
func ParseAction(name string, payload json.RawMessage) (Action, error) {
	switch name {
	case ActionUpdateAudioFileURI:
		var p struct {
			ID           *int64  `json:"id"`
			AudioFileURI *string `json:"audioFileUri"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == nil {
			return nil, fmt.Errorf("%s: id: %w", name, ErrMissingField)
		}
		return UpdateAudioFileURI{ID: *p.ID, AudioFileURI: p.AudioFileURI}, nil

	case ActionAddEmitter:
		var p struct {
			ID           *int64   `json:"id"`
			Position     Position `json:"position"`
			AudioFileURI *string  `json:"audioFileUri"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == nil {
			return nil, fmt.Errorf("%s: id: %w", name, ErrMissingField)
		}
		return AddEmitter{Emitter: Emitter{ID: *p.ID, Position: p.Position, AudioFileURI: p.AudioFileURI}}, nil

	case ActionAddListener:
		var p struct {
			ID       *int64   `json:"id"`
			Position Position `json:"position"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == nil {
			return nil, fmt.Errorf("%s: id: %w", name, ErrMissingField)
		}
		return AddListener{Listener: Listener{ID: *p.ID, Position: p.Position}}, nil

	case ActionDeleteEmitter, ActionDeleteListener:
		var p struct {
			ID *int64 `json:"id"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == nil {
			return nil, fmt.Errorf("%s: id: %w", name, ErrMissingField)
		}
		if name == ActionDeleteEmitter {
			return DeleteEmitter{ID: *p.ID}, nil
		}
		return DeleteListener{ID: *p.ID}, nil

	case ActionUpdateName:
		var p struct {
			Name *string `json:"name"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Name == nil {
			return nil, fmt.Errorf("%s: name: %w", name, ErrMissingField)
		}
		return UpdateName{NewName: *p.Name}, nil

	default:
		return UnknownAction{Raw: name}, nil
	}
}

func decodePayload(payload json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}
