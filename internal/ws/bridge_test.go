package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGIModel/MUSE-OS/internal/mca"
)

func newTestBridge() (*Bridge, *Client) {
	hub := NewHub()
	client := &Client{hub: hub, send: make(chan []byte, 256)}
	hub.Register(client)
	return NewBridge(hub), client
}

func receiveEnvelope(t *testing.T, c *Client) Envelope {
	t.Helper()
	msg := <-c.send
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func TestBridge_OnIteration(t *testing.T) {
	bridge, client := newTestBridge()

	bridge.OnIteration(mca.Event{
		Year:      2025,
		Iteration: 3,
		MaxDelta:  0.42,
		Unmet:     -0.05,
	})

	env := receiveEnvelope(t, client)
	assert.Equal(t, TypeRunIteration, env.Type)

	var p mca.Event
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 2025, p.Year)
	assert.Equal(t, 3, p.Iteration)
	assert.InDelta(t, 0.42, p.MaxDelta, 1e-9)
	assert.InDelta(t, -0.05, p.Unmet, 1e-9)
	assert.False(t, p.Converged)
}

func TestBridge_OnPeriod(t *testing.T) {
	bridge, client := newTestBridge()

	bridge.OnPeriod(mca.Period{
		Year:        2020,
		Next:        2025,
		Converged:   true,
		Iterations:  4,
		Supply:      18.5,
		Consumption: 17.9,
	}, nil)

	env := receiveEnvelope(t, client)
	assert.Equal(t, TypeRunPeriod, env.Type)

	var p mca.Period
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 2020, p.Year)
	assert.Equal(t, 2025, p.Next)
	assert.True(t, p.Converged)
	assert.Equal(t, 4, p.Iterations)
	assert.InDelta(t, 18.5, p.Supply, 1e-9)
	assert.InDelta(t, 17.9, p.Consumption, 1e-9)
}
