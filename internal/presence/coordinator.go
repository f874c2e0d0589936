package presence

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"parley/internal/domain"
	"parley/internal/state"
	"parley/internal/storage"
)

// ConnState is the per-user presence state derived from the stores.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnected
	StateInRoom
)

// Coordinator drives the presence state machine. It owns no state of its
// own: every transition reads and writes through the three stores, which
// keeps the local/remote consistency rules in one place.
type Coordinator struct {
	membership *state.Membership
	registry   *state.Registry
	directory  *state.Directory
	store      storage.DataStore
	transport  Transport
	validator  Validator

	defaultRoom  domain.RoomName
	historyLimit int
}

func NewCoordinator(
	membership *state.Membership,
	registry *state.Registry,
	directory *state.Directory,
	store storage.DataStore,
	transport Transport,
	validator Validator,
	defaultRoom domain.RoomName,
	historyLimit int,
) *Coordinator {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Coordinator{
		membership:   membership,
		registry:     registry,
		directory:    directory,
		store:        store,
		transport:    transport,
		validator:    validator,
		defaultRoom:  defaultRoom,
		historyLimit: historyLimit,
	}
}

func (c *Coordinator) DefaultRoom() domain.RoomName {
	return c.defaultRoom
}

// Connect registers the connection, joins the default room and sends the
// initial snapshot. A stale duplicate connection for the same user goes
// through the full disconnect transition for its membership first, so one
// user never shows two entries.
func (c *Coordinator) Connect(ctx context.Context, who Identity, h domain.ConnHandle) {
	if old, ok := c.registry.GetSocket(ctx, who.ID); ok && old != h {
		c.teardownRooms(ctx, who, old)
	}
	c.registry.Register(ctx, who.ID, h)

	c.transport.JoinRoom(h, c.defaultRoom)
	c.directory.CreateIfAbsent(ctx, c.defaultRoom, who.ID)
	c.membership.EnsureRoom(c.defaultRoom)
	c.membership.AddUser(ctx, who.ID, who.Username, c.defaultRoom)

	if err := c.store.SetUserOnline(ctx, who.ID, true); err != nil {
		log.Warn().Err(err).Str("module", "presence").Int64("user_id", int64(who.ID)).Msg("set online failed")
	}

	c.transport.Broadcast(EvUserStatus, UserStatusEvent{UserID: who.ID, Online: true})
	c.transport.EmitToRoom(c.defaultRoom, EvUserJoined, RoomPresenceEvent{
		UserID: who.ID, Username: who.Username, Room: c.defaultRoom,
	}, h)

	c.sendCurrentUsers(ctx, h, c.defaultRoom)
	c.broadcastRoomList(ctx)
	c.sendHistory(ctx, h, c.defaultRoom)

	log.Info().Str("module", "presence").Int64("user_id", int64(who.ID)).Str("username", who.Username).Msg("connected")
}

// JoinRoom switches the user into newRoom. Order matters: leave first, then
// join, so the one-non-DM-room invariant never sees a double membership.
// Joining the room the user is already in is a no-op.
func (c *Coordinator) JoinRoom(ctx context.Context, who Identity, h domain.ConnHandle, newRoom string) error {
	name := domain.RoomName(strings.TrimSpace(newRoom))
	if name == "" {
		return nil
	}

	rooms := c.membership.GetUserRooms(ctx, who.ID)
	if _, ok := rooms[name]; ok {
		return nil
	}

	for room := range rooms {
		if room.IsDM() || room == name {
			continue
		}
		c.leaveOne(ctx, who, h, room)
	}

	if !name.IsDM() {
		c.directory.CreateIfAbsent(ctx, name, who.ID)
		c.ensureRoomRecord(ctx, name, who.ID)
	}

	c.transport.JoinRoom(h, name)
	c.membership.EnsureRoom(name)
	c.membership.AddUser(ctx, who.ID, who.Username, name)

	c.transport.EmitToRoom(name, EvUserJoined, RoomPresenceEvent{
		UserID: who.ID, Username: who.Username, Room: name,
	}, h)
	c.sendCurrentUsers(ctx, h, name)
	c.broadcastRoomList(ctx)

	log.Info().Str("module", "presence").Int64("user_id", int64(who.ID)).Str("room", string(name)).Msg("joined room")
	return nil
}

// LeaveRoom is an explicit leave without joining elsewhere.
func (c *Coordinator) LeaveRoom(ctx context.Context, who Identity, h domain.ConnHandle, room string) {
	name := domain.RoomName(strings.TrimSpace(room))
	if name == "" {
		return
	}
	users := c.membership.GetRoomUsers(ctx, name)
	if _, ok := users[who.ID]; !ok {
		return
	}
	c.leaveOne(ctx, who, h, name)
}

// Disconnect tears down every room the user occupies, then the connection
// record. A close event from an already-evicted handle is ignored so it
// cannot tear down the replacement connection's state.
func (c *Coordinator) Disconnect(ctx context.Context, who Identity, h domain.ConnHandle) {
	if cur, ok := c.registry.GetSocket(ctx, who.ID); ok && cur != h {
		log.Debug().Str("module", "presence").Int64("user_id", int64(who.ID)).Str("handle", string(h)).Msg("stale disconnect ignored")
		return
	}

	c.teardownRooms(ctx, who, h)
	c.registry.Remove(ctx, who.ID)

	if err := c.store.SetUserOnline(ctx, who.ID, false); err != nil {
		log.Warn().Err(err).Str("module", "presence").Int64("user_id", int64(who.ID)).Msg("set offline failed")
	}
	c.transport.Broadcast(EvUserStatus, UserStatusEvent{UserID: who.ID, Online: false})
	c.broadcastRoomList(ctx)

	log.Info().Str("module", "presence").Int64("user_id", int64(who.ID)).Msg("disconnected")
}

// Heartbeat refreshes liveness only; no membership side effects.
func (c *Coordinator) Heartbeat(ctx context.Context, who Identity) {
	c.registry.RefreshHeartbeat(ctx, who.ID, 0)
}

// CreateRoom validates the name and registers the room, answering the
// request/response create_room action. The pre-existing room wins a name
// conflict; the duplicate check goes to the store, not a possibly stale
// local cache.
func (c *Coordinator) CreateRoom(ctx context.Context, who Identity, rawName string) (*domain.Room, error) {
	name, err := c.validator.ValidateRoomName(rawName)
	if err != nil {
		return nil, err
	}

	if _, err := c.store.RoomByName(ctx, domain.RoomName(name)); err == nil {
		return nil, ErrRoomExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	room, err := c.store.CreateRoom(ctx, domain.RoomName(name), who.ID)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrRoomExists
		}
		return nil, err
	}

	c.directory.CreateIfAbsent(ctx, room.Name, who.ID)
	c.broadcastRoomList(ctx)
	return room, nil
}

// CurrentUsers returns the occupant snapshot for one room.
func (c *Coordinator) CurrentUsers(ctx context.Context, room domain.RoomName) map[domain.UserID]string {
	return c.membership.GetRoomUsers(ctx, room)
}

// RoomList returns the sorted directory listing.
func (c *Coordinator) RoomList(ctx context.Context) []string {
	rooms := c.directory.ListAll(ctx)
	out := make([]string, 0, len(rooms))
	for r := range rooms {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}

// StateOf derives the user's presence state from the stores.
func (c *Coordinator) StateOf(ctx context.Context, id domain.UserID) ConnState {
	if !c.registry.IsConnected(ctx, id) {
		return StateDisconnected
	}
	for room := range c.membership.GetUserRooms(ctx, id) {
		if !room.IsDM() {
			return StateInRoom
		}
	}
	return StateConnected
}

func (c *Coordinator) teardownRooms(ctx context.Context, who Identity, h domain.ConnHandle) {
	for room := range c.membership.GetUserRooms(ctx, who.ID) {
		c.leaveOne(ctx, who, h, room)
	}
}

func (c *Coordinator) leaveOne(ctx context.Context, who Identity, h domain.ConnHandle, room domain.RoomName) {
	c.transport.LeaveRoom(h, room)
	c.membership.RemoveUser(ctx, who.ID, room)

	c.transport.EmitToRoom(room, EvUserLeft, RoomPresenceEvent{
		UserID: who.ID, Username: who.Username, Room: room,
	}, h)
	c.transport.EmitToRoom(room, EvCurrentUsers, CurrentUsersEvent{
		Users: c.membership.GetRoomUsers(ctx, room), Room: room,
	}, h)

	c.reapIfEmpty(ctx, room)
}

// reapIfEmpty removes a room once both the local and the remote view agree
// it is empty. DM rooms only ever clear their membership entry; they have
// no directory or storage footprint.
func (c *Coordinator) reapIfEmpty(ctx context.Context, room domain.RoomName) {
	if !c.membership.CleanupIfEmpty(ctx, room) {
		return
	}
	if room.IsDM() {
		return
	}

	c.directory.RemoveMeta(ctx, room)
	if rec, err := c.store.RoomByName(ctx, room); err == nil {
		if err := c.store.DeleteRoomMessages(ctx, rec.ID); err != nil {
			log.Warn().Err(err).Str("module", "presence").Str("room", string(room)).Msg("delete room messages failed")
		}
		if err := c.store.DeactivateRoom(ctx, room); err != nil {
			log.Warn().Err(err).Str("module", "presence").Str("room", string(room)).Msg("deactivate room failed")
		}
	}
	c.broadcastRoomList(ctx)
	log.Info().Str("module", "presence").Str("room", string(room)).Msg("reaped empty room")
}

func (c *Coordinator) ensureRoomRecord(ctx context.Context, room domain.RoomName, creator domain.UserID) {
	_, err := c.store.RoomByName(ctx, room)
	if err == nil {
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("module", "presence").Str("room", string(room)).Msg("room lookup failed")
		return
	}
	if _, err := c.store.CreateRoom(ctx, room, creator); err != nil && !errors.Is(err, storage.ErrDuplicate) {
		log.Warn().Err(err).Str("module", "presence").Str("room", string(room)).Msg("room record create failed")
	}
}

func (c *Coordinator) sendCurrentUsers(ctx context.Context, h domain.ConnHandle, room domain.RoomName) {
	users := c.membership.GetRoomUsers(ctx, room)
	if err := c.transport.EmitToConnection(h, EvCurrentUsers, CurrentUsersEvent{Users: users, Room: room}); err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("room", string(room)).Msg("current users emit failed")
	}
}

func (c *Coordinator) broadcastRoomList(ctx context.Context) {
	c.transport.Broadcast(EvRoomList, RoomListEvent{Rooms: c.RoomList(ctx)})
}

func (c *Coordinator) sendHistory(ctx context.Context, h domain.ConnHandle, room domain.RoomName) {
	rec, err := c.store.RoomByName(ctx, room)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("module", "presence").Str("room", string(room)).Msg("history room lookup failed")
		}
		return
	}
	msgs, err := c.store.RoomMessages(ctx, rec.ID, c.historyLimit, 0)
	if err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("room", string(room)).Msg("history fetch failed")
		return
	}
	reverseMessages(msgs)
	if err := c.transport.EmitToConnection(h, EvMessageHistory, MessageHistoryEvent{
		Room: room, Messages: msgs, HasMore: len(msgs) == c.historyLimit,
	}); err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("room", string(room)).Msg("history emit failed")
	}
}

// Stored history is fetched newest-first; clients display oldest-first.
func reverseMessages(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
