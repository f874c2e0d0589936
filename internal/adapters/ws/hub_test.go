package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopSocket struct{}

func (nopSocket) ReadMessage() (int, []byte, error) { return 0, nil, nil }
func (nopSocket) WriteMessage(int, []byte) error    { return nil }
func (nopSocket) SetWriteDeadline(time.Time) error  { return nil }
func (nopSocket) Close() error                      { return nil }

func drain(c *Conn) []envelope {
	var out []envelope
	for {
		select {
		case data := <-c.send:
			var env envelope
			if err := json.Unmarshal(data, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestHub_EmitToRoomExcludes(t *testing.T) {
	h := NewHub()
	a, b := newConn(nopSocket{}), newConn(nopSocket{})
	h.add(a)
	h.add(b)
	h.JoinRoom(a.handle, "general_chat")
	h.JoinRoom(b.handle, "general_chat")

	h.EmitToRoom("general_chat", "new_message", map[string]string{"content": "hi"}, a.handle)

	require.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	require.Equal(t, "new_message", got[0].Type)
}

func TestHub_BroadcastIgnoresRooms(t *testing.T) {
	h := NewHub()
	a, b := newConn(nopSocket{}), newConn(nopSocket{})
	h.add(a)
	h.add(b)
	h.JoinRoom(a.handle, "general_chat")

	h.Broadcast("room_list", map[string]any{"rooms": []string{"general_chat"}})

	require.Len(t, drain(a), 1)
	require.Len(t, drain(b), 1)
}

func TestHub_RemoveClearsSubscriptions(t *testing.T) {
	h := NewHub()
	a := newConn(nopSocket{})
	h.add(a)
	h.JoinRoom(a.handle, "general_chat")

	h.remove(a.handle)

	h.EmitToRoom("general_chat", "new_message", nil, "")
	require.Empty(t, drain(a))
	require.ErrorIs(t, h.EmitToConnection(a.handle, "ping", nil), errNoConnection)
}

func TestConn_ClosedRejectsSends(t *testing.T) {
	c := newConn(nopSocket{})
	c.Close()
	c.Close() // idempotent

	require.Error(t, c.TrySend([]byte("x")))
}
