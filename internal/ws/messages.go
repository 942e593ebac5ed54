package ws

import (
	"encoding/json"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants. Iteration and period payloads are the engine's
// own event structs, marshaled as-is.
const (
	// Client -> Server
	TypeRunStart = "run:start"
	TypeRunAbort = "run:abort"

	// Server -> Client
	TypeRunState     = "run:state"
	TypeRunStarted   = "run:started"
	TypeRunIteration = "run:iteration"
	TypeRunPeriod    = "run:period"
	TypeRunFinished  = "run:finished"
	TypeRunError     = "run:error"
)

// RunStatePayload is sent to every client on connect.
type RunStatePayload struct {
	Running bool   `json:"running"`
	ID      string `json:"id,omitempty"`
}

type RunStartedPayload struct {
	ID      string `json:"id"`
	Started string `json:"started"`
}

type RunFinishedPayload struct {
	ID      string `json:"id"`
	Elapsed string `json:"elapsed"`
	Aborted bool   `json:"aborted,omitempty"`
}

type RunErrorPayload struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}
