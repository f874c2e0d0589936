package ws

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"parley/internal/domain"
)

// envelope is the wire format both ways: a type tag plus the payload.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

var errNoConnection = errors.New("no such connection")

// Hub tracks live connections and their room subscriptions. The presence
// layer emits through it and the registry drops evicted handles through it.
type Hub struct {
	mu    sync.RWMutex
	conns map[domain.ConnHandle]*Conn
	rooms map[domain.RoomName]map[domain.ConnHandle]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[domain.ConnHandle]*Conn),
		rooms: make(map[domain.RoomName]map[domain.ConnHandle]struct{}),
	}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.handle] = c
}

func (h *Hub) remove(handle domain.ConnHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, handle)
	for room, members := range h.rooms {
		delete(members, handle)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) JoinRoom(handle domain.ConnHandle, room domain.RoomName) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[domain.ConnHandle]struct{})
	}
	h.rooms[room][handle] = struct{}{}
}

func (h *Hub) LeaveRoom(handle domain.ConnHandle, room domain.RoomName) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, handle)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) EmitToConnection(handle domain.ConnHandle, event string, payload any) error {
	data, err := marshalEvent(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	c, ok := h.conns[handle]
	h.mu.RUnlock()
	if !ok {
		return errNoConnection
	}
	return c.TrySend(data)
}

func (h *Hub) EmitToRoom(room domain.RoomName, event string, payload any, exclude domain.ConnHandle) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("event", event).Msg("room emit marshal")
		return
	}
	for _, c := range h.roomConns(room, exclude) {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "ws").Str("event", event).Str("handle", string(c.handle)).Msg("room emit dropped")
		}
	}
}

func (h *Hub) Broadcast(event string, payload any) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("event", event).Msg("broadcast marshal")
		return
	}
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "ws").Str("event", event).Str("handle", string(c.handle)).Msg("broadcast dropped")
		}
	}
}

// Disconnect closes the connection; its read pump does the rest of the
// cleanup on exit.
func (h *Hub) Disconnect(handle domain.ConnHandle) {
	h.mu.RLock()
	c, ok := h.conns[handle]
	h.mu.RUnlock()
	if ok {
		c.Close()
	}
}

func (h *Hub) roomConns(room domain.RoomName, exclude domain.ConnHandle) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]*Conn, 0, len(members))
	for handle := range members {
		if handle == exclude {
			continue
		}
		if c, ok := h.conns[handle]; ok {
			out = append(out, c)
		}
	}
	return out
}

func marshalEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(envelope{Type: event, Data: payload})
}
