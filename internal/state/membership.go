package state

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"parley/internal/domain"
)

// Membership is the authoritative mapping room -> {user -> username} with a
// reverse index user -> rooms.
type Membership struct {
	mu        sync.RWMutex
	roomUsers map[domain.RoomName]map[domain.UserID]string
	userRooms map[domain.UserID]map[domain.RoomName]struct{}

	rdb         *redis.Client // nil in local-only mode
	defaultRoom domain.RoomName
}

func NewMembership(rdb *redis.Client, defaultRoom domain.RoomName) *Membership {
	return &Membership{
		roomUsers:   make(map[domain.RoomName]map[domain.UserID]string),
		userRooms:   make(map[domain.UserID]map[domain.RoomName]struct{}),
		rdb:         rdb,
		defaultRoom: defaultRoom,
	}
}

// EnsureRoom is idempotent. With a remote backend the room materializes on
// the first member add, so this is a no-op to avoid empty keys.
func (m *Membership) EnsureRoom(room domain.RoomName) {
	if m.rdb != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roomUsers[room]; !ok {
		m.roomUsers[room] = make(map[domain.UserID]string)
	}
}

func (m *Membership) AddUser(ctx context.Context, id domain.UserID, username string, room domain.RoomName) {
	m.mu.Lock()
	if _, ok := m.roomUsers[room]; !ok {
		m.roomUsers[room] = make(map[domain.UserID]string)
	}
	m.roomUsers[room][id] = username
	if _, ok := m.userRooms[id]; !ok {
		m.userRooms[id] = make(map[domain.RoomName]struct{})
	}
	m.userRooms[id][room] = struct{}{}
	m.mu.Unlock()

	if m.rdb == nil {
		return
	}
	if err := m.rdb.HSet(ctx, roomUsersKey(room), strconv.FormatInt(int64(id), 10), username).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.membership").Str("room", string(room)).Msg("redis add user failed, local view only")
		return
	}
	if err := m.rdb.SAdd(ctx, userRoomsKey(id), string(room)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.membership").Str("room", string(room)).Msg("redis reverse index failed")
	}
}

// RemoveUser deletes the forward and reverse entries. Removing an absent
// user is a no-op, not an error.
func (m *Membership) RemoveUser(ctx context.Context, id domain.UserID, room domain.RoomName) {
	m.mu.Lock()
	if users, ok := m.roomUsers[room]; ok {
		delete(users, id)
	}
	if rooms, ok := m.userRooms[id]; ok {
		delete(rooms, room)
	}
	m.mu.Unlock()

	if m.rdb == nil {
		return
	}
	if err := m.rdb.HDel(ctx, roomUsersKey(room), strconv.FormatInt(int64(id), 10)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.membership").Str("room", string(room)).Msg("redis remove user failed, local view only")
		return
	}
	if err := m.rdb.SRem(ctx, userRoomsKey(id), string(room)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.membership").Str("room", string(room)).Msg("redis reverse index failed")
	}
}

// GetRoomUsers returns a snapshot copy; unknown rooms yield an empty map.
func (m *Membership) GetRoomUsers(ctx context.Context, room domain.RoomName) map[domain.UserID]string {
	if m.rdb != nil {
		data, err := m.rdb.HGetAll(ctx, roomUsersKey(room)).Result()
		if err == nil {
			out := make(map[domain.UserID]string, len(data))
			for uid, username := range data {
				n, convErr := strconv.ParseInt(uid, 10, 64)
				if convErr != nil {
					continue
				}
				out[domain.UserID(n)] = username
			}
			return out
		}
		log.Warn().Err(err).Str("module", "state.membership").Str("room", string(room)).Msg("redis get room users failed, falling back to memory")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.UserID]string, len(m.roomUsers[room]))
	for uid, username := range m.roomUsers[room] {
		out[uid] = username
	}
	return out
}

func (m *Membership) GetUserRooms(ctx context.Context, id domain.UserID) map[domain.RoomName]struct{} {
	if m.rdb != nil {
		rooms, err := m.rdb.SMembers(ctx, userRoomsKey(id)).Result()
		if err == nil {
			out := make(map[domain.RoomName]struct{}, len(rooms))
			for _, r := range rooms {
				out[domain.RoomName(r)] = struct{}{}
			}
			return out
		}
		log.Warn().Err(err).Str("module", "state.membership").Int64("user_id", int64(id)).Msg("redis get user rooms failed, falling back to memory")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.RoomName]struct{}, len(m.userRooms[id]))
	for r := range m.userRooms[id] {
		out[r] = struct{}{}
	}
	return out
}

// CleanupIfEmpty drops the room's membership entry once both the local view
// and the shared store report zero occupants. The default room is never
// touched. A Redis read error degrades the decision to the local signal.
func (m *Membership) CleanupIfEmpty(ctx context.Context, room domain.RoomName) bool {
	if room == m.defaultRoom {
		return false
	}

	m.mu.RLock()
	localCount := len(m.roomUsers[room])
	m.mu.RUnlock()

	remoteCount := 0
	if m.rdb != nil {
		n, err := m.rdb.HLen(ctx, roomUsersKey(room)).Result()
		if err != nil {
			log.Warn().Err(err).Str("module", "state.membership").Str("room", string(room)).Msg("redis hlen failed, local count only")
		} else {
			remoteCount = int(n)
		}
	}

	if localCount != 0 || remoteCount != 0 {
		return false
	}

	m.mu.Lock()
	delete(m.roomUsers, room)
	m.mu.Unlock()

	if m.rdb != nil {
		if err := m.rdb.Del(ctx, roomUsersKey(room)).Err(); err != nil {
			log.Warn().Err(err).Str("module", "state.membership").Str("room", string(room)).Msg("redis delete room failed")
		}
	}
	log.Debug().Str("module", "state.membership").Str("room", string(room)).Msg("removed empty room")
	return true
}
