package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGIModel/MUSE-OS/internal/mca"
)

// scriptedRun reports a short canned sequence through the callback, then
// blocks until released or canceled.
type scriptedRun struct {
	release chan error

	mu    sync.Mutex
	calls int
}

func newScriptedRun() *scriptedRun {
	return &scriptedRun{release: make(chan error)}
}

func (s *scriptedRun) run(ctx context.Context, cb mca.Callback) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	cb.OnIteration(mca.Event{Year: 2020, Iteration: 1, MaxDelta: 0.4})
	cb.OnIteration(mca.Event{Year: 2020, Iteration: 2, MaxDelta: 0.02, Converged: true})
	cb.OnPeriod(mca.Period{Year: 2020, Next: 2025, Converged: true, Iterations: 2, Supply: 12, Consumption: 12}, nil)

	select {
	case err := <-s.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scriptedRun) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// dialHandler sets up a test server with the handler and returns a WS connection.
func dialHandler(t *testing.T, handler *Handler) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

// readJSON reads the next JSON message from the connection.
func readJSON(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

// sendJSON sends a JSON message on the connection.
func sendJSON(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := NewEnvelope(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestHandler_StateOnConnect(t *testing.T) {
	script := newScriptedRun()
	handler := NewHandler(NewHub(), script.run)

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()

	env := readJSON(t, conn)
	require.Equal(t, TypeRunState, env.Type)

	var p RunStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.False(t, p.Running)
	assert.Empty(t, p.ID)
}

func TestHandler_RunLifecycle(t *testing.T) {
	script := newScriptedRun()
	defer close(script.release)
	handler := NewHandler(NewHub(), script.run)

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()

	readJSON(t, conn) // run:state

	sendJSON(t, conn, TypeRunStart, nil)

	env := readJSON(t, conn)
	require.Equal(t, TypeRunStarted, env.Type)
	var started RunStartedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &started))
	assert.NotEmpty(t, started.ID)
	assert.NotEmpty(t, started.Started)

	env = readJSON(t, conn)
	require.Equal(t, TypeRunIteration, env.Type)
	var it mca.Event
	require.NoError(t, json.Unmarshal(env.Payload, &it))
	assert.Equal(t, 1, it.Iteration)
	assert.InDelta(t, 0.4, it.MaxDelta, 1e-9)

	env = readJSON(t, conn)
	require.Equal(t, TypeRunIteration, env.Type)
	require.NoError(t, json.Unmarshal(env.Payload, &it))
	assert.True(t, it.Converged)

	env = readJSON(t, conn)
	require.Equal(t, TypeRunPeriod, env.Type)
	var period mca.Period
	require.NoError(t, json.Unmarshal(env.Payload, &period))
	assert.Equal(t, 2020, period.Year)
	assert.Equal(t, 2, period.Iterations)

	script.release <- nil

	env = readJSON(t, conn)
	require.Equal(t, TypeRunFinished, env.Type)
	var fin RunFinishedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &fin))
	assert.Equal(t, started.ID, fin.ID)
	assert.False(t, fin.Aborted)
	assert.NotEmpty(t, fin.Elapsed)
}

func TestHandler_RejectsConcurrentRuns(t *testing.T) {
	script := newScriptedRun()
	defer close(script.release)
	handler := NewHandler(NewHub(), script.run)

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()

	readJSON(t, conn) // run:state

	sendJSON(t, conn, TypeRunStart, nil)
	for i := 0; i < 4; i++ {
		readJSON(t, conn) // run:started + two iterations + period
	}

	sendJSON(t, conn, TypeRunStart, nil)

	env := readJSON(t, conn)
	require.Equal(t, TypeRunError, env.Type)
	var p RunErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Contains(t, p.Message, "already active")
	assert.Equal(t, 1, script.started())

	script.release <- nil
	env = readJSON(t, conn)
	require.Equal(t, TypeRunFinished, env.Type)

	// A finished run frees the slot.
	sendJSON(t, conn, TypeRunStart, nil)
	env = readJSON(t, conn)
	require.Equal(t, TypeRunStarted, env.Type)
	assert.Eventually(t, func() bool { return script.started() == 2 }, time.Second, 10*time.Millisecond)
}

func TestHandler_AbortFinishesAsAborted(t *testing.T) {
	script := newScriptedRun()
	handler := NewHandler(NewHub(), script.run)

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()

	readJSON(t, conn) // run:state

	sendJSON(t, conn, TypeRunStart, nil)
	for i := 0; i < 4; i++ {
		readJSON(t, conn)
	}

	sendJSON(t, conn, TypeRunAbort, nil)

	env := readJSON(t, conn)
	require.Equal(t, TypeRunFinished, env.Type)
	var fin RunFinishedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &fin))
	assert.True(t, fin.Aborted)
}

func TestHandler_RunErrorIsBroadcast(t *testing.T) {
	script := newScriptedRun()
	handler := NewHandler(NewHub(), script.run)

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()

	readJSON(t, conn) // run:state

	sendJSON(t, conn, TypeRunStart, nil)
	env := readJSON(t, conn)
	require.Equal(t, TypeRunStarted, env.Type)
	var started RunStartedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &started))
	for i := 0; i < 3; i++ {
		readJSON(t, conn)
	}

	script.release <- errors.New("sector residential: no demand to share")

	env = readJSON(t, conn)
	require.Equal(t, TypeRunError, env.Type)
	var p RunErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, started.ID, p.ID)
	assert.Contains(t, p.Message, "no demand to share")
}

func TestHandler_InvalidMessage(t *testing.T) {
	script := newScriptedRun()
	defer close(script.release)
	handler := NewHandler(NewHub(), script.run)

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()

	readJSON(t, conn) // run:state

	// Garbage and unknown types are logged and ignored; the connection
	// stays usable.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendJSON(t, conn, "run:dance", nil)

	sendJSON(t, conn, TypeRunStart, nil)
	env := readJSON(t, conn)
	assert.Equal(t, TypeRunStarted, env.Type)
}

func TestHandler_SecondClientSeesRunningState(t *testing.T) {
	script := newScriptedRun()
	defer close(script.release)
	hub := NewHub()
	handler := NewHandler(hub, script.run)

	server := httptest.NewServer(handler)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer first.Close()

	readJSON(t, first) // run:state
	sendJSON(t, first, TypeRunStart, nil)
	env := readJSON(t, first)
	require.Equal(t, TypeRunStarted, env.Type)
	var started RunStartedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &started))

	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer second.Close()

	env = readJSON(t, second)
	require.Equal(t, TypeRunState, env.Type)
	var p RunStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.True(t, p.Running)
	assert.Equal(t, started.ID, p.ID)
}
