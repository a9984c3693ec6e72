package realtime

import (
	"encoding/json"
	"fmt"
	"testing"

	"jeditr/internal/protocol"
	"jeditr/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(h *Hub) *client {
	return &client{id: "test", send: make(chan []byte, h.sendBuffer), hub: h}
}

// drain returns every message queued for c.
func drain(t *testing.T, c *client) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return msgs
			}
			var msg protocol.Message
			require.NoError(t, json.Unmarshal(data, &msg))
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func outputEvent(id, line string) session.Event {
	return session.Event{Kind: session.KindOutput, SessionID: id, Output: line}
}

func TestHub_EmitFansOut(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 10, 0)
	c1, c2 := newTestClient(h), newTestClient(h)
	h.register(c1)
	h.register(c2)

	h.Emit(outputEvent("a", "hello"))

	for _, c := range []*client{c1, c2} {
		msgs := drain(t, c)
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.TypeShellOutput, msgs[0].Type)

		var p protocol.ShellOutputPayload
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &p))
		assert.Equal(t, "a", p.SessionID)
		assert.Equal(t, "hello", p.Output)
	}
}

func TestHub_ExitPayload(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 10, 0)
	c := newTestClient(h)
	h.register(c)

	status := 3
	h.Emit(session.Event{Kind: session.KindExit, SessionID: "a", ExitStatus: &status})
	h.Emit(session.Event{Kind: session.KindExit, SessionID: "b"})

	msgs := drain(t, c)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"session_id":"a","exit_status":3}`, string(msgs[0].Payload))
	assert.JSONEq(t, `{"session_id":"b","exit_status":null}`, string(msgs[1].Payload))
}

func TestHub_ReplaysHistoryOnRegister(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 2, 0)

	h.Emit(outputEvent("b", "b1"))
	h.Emit(outputEvent("a", "a1"))
	h.Emit(outputEvent("a", "a2"))
	h.Emit(outputEvent("a", "a3"))

	c := newTestClient(h)
	greeting, err := protocol.NewMessage(protocol.TypeShellList, protocol.ShellListPayload{})
	require.NoError(t, err)
	h.register(c, greeting)

	msgs := drain(t, c)
	require.Len(t, msgs, 4)
	assert.Equal(t, protocol.TypeShellList, msgs[0].Type)

	var lines []string
	for _, msg := range msgs[1:] {
		var p protocol.ShellOutputPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		lines = append(lines, p.Output)
	}
	// History is capped per session and replayed in id order.
	assert.Equal(t, []string{"a2", "a3", "b1"}, lines)
}

func TestHub_ExitDropsHistory(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 10, 0)

	h.Emit(outputEvent("a", "one"))
	h.Emit(session.Event{Kind: session.KindExit, SessionID: "a"})

	c := newTestClient(h)
	h.register(c)
	assert.Empty(t, drain(t, c))
}

func TestHub_HistoryDisabled(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 0, 0)

	h.Emit(outputEvent("a", "one"))

	c := newTestClient(h)
	h.register(c)
	assert.Empty(t, drain(t, c))
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 10, 0)
	c := newTestClient(h)
	h.register(c)
	require.Equal(t, 1, h.ClientCount())

	h.unregister(c)
	assert.NotPanics(t, func() { h.unregister(c) })
	assert.Equal(t, 0, h.ClientCount())

	// Sending to a removed client is a no-op.
	msg, err := protocol.NewMessage(protocol.TypeFileSaved, protocol.FileSavedPayload{Path: "x"})
	require.NoError(t, err)
	assert.NotPanics(t, func() { h.send(c, msg) })
}

func TestHub_SlowClientIsDisconnected(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 100, 4)
	slow := newTestClient(h)
	h.register(slow)

	for i := 0; i < 10; i++ {
		h.Emit(outputEvent("a", fmt.Sprintf("line %d", i)))
	}

	// The slow client keeps what was queued and its channel is closed, so
	// it never sees a stream with a hole in it.
	assert.Equal(t, 0, h.ClientCount())
	queued := drain(t, slow)
	require.Len(t, queued, 4)
	_, open := <-slow.send
	assert.False(t, open)

	// Reconnecting replays the full history.
	fresh := newTestClient(h)
	h.register(fresh)
	h.Emit(session.Event{Kind: session.KindExit, SessionID: "a"})

	msgs := drain(t, fresh)
	require.Len(t, msgs, 11)
	for i, msg := range msgs[:10] {
		var p protocol.ShellOutputPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, fmt.Sprintf("line %d", i), p.Output)
	}
	assert.Equal(t, protocol.TypeShellExit, msgs[10].Type)
	assert.Equal(t, 1, h.ClientCount())
}

func TestHub_ReplayLargerThanSendBuffer(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 50, 2)
	for i := 0; i < 20; i++ {
		h.Emit(outputEvent("a", fmt.Sprintf("line %d", i)))
	}

	c := newTestClient(h)
	h.register(c)

	assert.Len(t, drain(t, c), 20)
	assert.Equal(t, 1, h.ClientCount())
}

func TestHub_OnFileUpdate(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, 10, 0)
	c := newTestClient(h)
	h.register(c)

	h.OnFileUpdate(42)

	msgs := drain(t, c)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeFilesUpdate, msgs[0].Type)
	assert.JSONEq(t, `{"fileCount":42}`, string(msgs[0].Payload))
}

func TestHub_ImplementsEmitter(t *testing.T) {
	var _ session.Emitter = NewHub(nil, nil, 0, 0)
}
