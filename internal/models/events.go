package models

import "encoding/json"

// Event names carried in the envelope of every websocket frame.
const (
	EventJoinScenario   = "joinScenario"
	EventScenarioUpdate = "scenario:update"
	EventScenarioState  = "scenario:state"
	EventError          = "error"
)

// Envelope is the frame format in both directions: {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UpdateRequest is the data of an inbound scenario:update event.
type UpdateRequest struct {
	ScenarioID int64           `json:"scenarioId"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
}

// UpdateBroadcast is the data of an outbound scenario:update event. Payload is
// relayed exactly as the sender wrote it.
type UpdateBroadcast struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals data and wraps it under event.
func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
