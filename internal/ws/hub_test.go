package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	payload := RunStartedPayload{
		ID:      "5f9c",
		Started: "2025-08-21T12:00:00Z",
	}

	msg, err := NewEnvelope(TypeRunStarted, payload)
	require.NoError(t, err)

	var env Envelope
	err = json.Unmarshal(msg, &env)
	require.NoError(t, err)

	assert.Equal(t, TypeRunStarted, env.Type)

	var parsed RunStartedPayload
	err = json.Unmarshal(env.Payload, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "5f9c", parsed.ID)
	assert.Equal(t, "2025-08-21T12:00:00Z", parsed.Started)
}

func TestNewEnvelope_NoPayload(t *testing.T) {
	msg, err := NewEnvelope(TypeRunAbort, nil)
	require.NoError(t, err)

	var env Envelope
	err = json.Unmarshal(msg, &env)
	require.NoError(t, err)

	assert.Equal(t, TypeRunAbort, env.Type)
	assert.Nil(t, env.Payload)
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()

	c := &Client{
		hub:  hub,
		send: make(chan []byte, 16),
	}

	hub.Register(c)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()

	c1 := &Client{hub: hub, send: make(chan []byte, 16)}
	c2 := &Client{hub: hub, send: make(chan []byte, 16)}

	hub.Register(c1)
	hub.Register(c2)

	msg := []byte(`{"type":"test"}`)
	hub.Broadcast(msg)

	assert.Equal(t, msg, <-c1.send)
	assert.Equal(t, msg, <-c2.send)
}

func TestHub_BroadcastSkipsFullClient(t *testing.T) {
	hub := NewHub()

	full := &Client{hub: hub, send: make(chan []byte)}
	open := &Client{hub: hub, send: make(chan []byte, 16)}

	hub.Register(full)
	hub.Register(open)

	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two"))

	assert.Equal(t, []byte("one"), <-open.send)
	assert.Equal(t, []byte("two"), <-open.send)
	assert.Empty(t, full.send)
}

func TestHub_SetStateReplayedOnRegister(t *testing.T) {
	hub := NewHub()

	early := &Client{hub: hub, send: make(chan []byte, 16)}
	hub.Register(early)

	state := []byte(`{"type":"run:state"}`)
	hub.SetState(state)
	assert.Empty(t, early.send)

	late := &Client{hub: hub, send: make(chan []byte, 16)}
	hub.Register(late)
	assert.Equal(t, state, <-late.send)
}

func TestMessageTypes(t *testing.T) {
	assert.Equal(t, "run:start", TypeRunStart)
	assert.Equal(t, "run:abort", TypeRunAbort)
	assert.Equal(t, "run:state", TypeRunState)
	assert.Equal(t, "run:started", TypeRunStarted)
	assert.Equal(t, "run:iteration", TypeRunIteration)
	assert.Equal(t, "run:period", TypeRunPeriod)
	assert.Equal(t, "run:finished", TypeRunFinished)
	assert.Equal(t, "run:error", TypeRunError)
}
