package state

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"parley/internal/domain"
)

// Dropper is the slice of the transport the registry needs to force out a
// stale duplicate connection.
type Dropper interface {
	LeaveRoom(h domain.ConnHandle, room domain.RoomName)
	Disconnect(h domain.ConnHandle)
}

// Registry enforces the single-connection-per-user invariant and tracks
// liveness through a heartbeat TTL. Expiry is lazy: stale records are
// evicted the next time IsConnected inspects them.
type Registry struct {
	mu           sync.Mutex
	userToSocket map[domain.UserID]domain.ConnHandle
	socketToUser map[domain.ConnHandle]domain.UserID
	heartbeatExp map[domain.UserID]time.Time

	rdb         *redis.Client // nil in local-only mode
	drop        Dropper
	defaultRoom domain.RoomName
	ttl         time.Duration
}

func NewRegistry(rdb *redis.Client, drop Dropper, defaultRoom domain.RoomName, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &Registry{
		userToSocket: make(map[domain.UserID]domain.ConnHandle),
		socketToUser: make(map[domain.ConnHandle]domain.UserID),
		heartbeatExp: make(map[domain.UserID]time.Time),
		rdb:          rdb,
		drop:         drop,
		defaultRoom:  defaultRoom,
		ttl:          ttl,
	}
}

// Register maps the user to the new handle and starts a fresh heartbeat
// window. A differing prior handle is force-disconnected first: the
// transport is told to leave the default room and drop it.
func (r *Registry) Register(ctx context.Context, id domain.UserID, h domain.ConnHandle) {
	r.mu.Lock()
	old, hadOld := r.userToSocket[id]
	if hadOld && old != h {
		delete(r.socketToUser, old)
	}
	r.userToSocket[id] = h
	r.socketToUser[h] = id
	r.heartbeatExp[id] = time.Now().Add(r.ttl)
	r.mu.Unlock()

	if hadOld && old != h && r.drop != nil {
		r.drop.LeaveRoom(old, r.defaultRoom)
		r.drop.Disconnect(old)
		log.Info().Str("module", "state.registry").Int64("user_id", int64(id)).Str("old_handle", string(old)).Msg("evicted duplicate connection")
	}

	if r.rdb == nil {
		return
	}
	uid := strconv.FormatInt(int64(id), 10)
	if remoteOld, err := r.rdb.HGet(ctx, userToSocketKey, uid).Result(); err == nil && remoteOld != "" {
		if err := r.rdb.HDel(ctx, socketToUserKey, remoteOld).Err(); err != nil {
			log.Warn().Err(err).Str("module", "state.registry").Msg("redis drop stale reverse entry failed")
		}
	}
	if err := r.rdb.HSet(ctx, userToSocketKey, uid, string(h)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis register failed, local view only")
		return
	}
	if err := r.rdb.HSet(ctx, socketToUserKey, string(h), uid).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis reverse register failed")
	}
	if err := r.rdb.Set(ctx, heartbeatKey(id), "1", r.redisTTL(r.ttl)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis heartbeat init failed")
	}
}

// Remove clears both directions and the heartbeat. No-op if absent.
func (r *Registry) Remove(ctx context.Context, id domain.UserID) {
	r.mu.Lock()
	if h, ok := r.userToSocket[id]; ok {
		delete(r.userToSocket, id)
		delete(r.socketToUser, h)
	}
	delete(r.heartbeatExp, id)
	r.mu.Unlock()

	if r.rdb == nil {
		return
	}
	uid := strconv.FormatInt(int64(id), 10)
	if h, err := r.rdb.HGet(ctx, userToSocketKey, uid).Result(); err == nil && h != "" {
		if err := r.rdb.HDel(ctx, socketToUserKey, h).Err(); err != nil {
			log.Warn().Err(err).Str("module", "state.registry").Msg("redis remove reverse entry failed")
		}
	}
	if err := r.rdb.HDel(ctx, userToSocketKey, uid).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis remove failed, local view only")
	}
	if err := r.rdb.Del(ctx, heartbeatKey(id)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis heartbeat delete failed")
	}
}

func (r *Registry) GetSocket(ctx context.Context, id domain.UserID) (domain.ConnHandle, bool) {
	if r.rdb != nil {
		h, err := r.rdb.HGet(ctx, userToSocketKey, strconv.FormatInt(int64(id), 10)).Result()
		switch {
		case err == nil && h != "":
			return domain.ConnHandle(h), true
		case err == nil || err == redis.Nil:
			// The shared store is authoritative for absence too.
			return "", false
		default:
			log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis get socket failed, falling back to memory")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.userToSocket[id]
	return h, ok
}

// GetSocketCached prefers the local map and only consults the shared store
// on a local miss. Delivery lookups use it so a hot local hit skips the
// round trip.
func (r *Registry) GetSocketCached(ctx context.Context, id domain.UserID) (domain.ConnHandle, bool) {
	r.mu.Lock()
	h, ok := r.userToSocket[id]
	r.mu.Unlock()
	if ok {
		return h, true
	}
	if r.rdb == nil {
		return "", false
	}
	remote, err := r.rdb.HGet(ctx, userToSocketKey, strconv.FormatInt(int64(id), 10)).Result()
	if err != nil || remote == "" {
		if err != nil && err != redis.Nil {
			log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis cached lookup failed")
		}
		return "", false
	}
	return domain.ConnHandle(remote), true
}

func (r *Registry) GetUser(ctx context.Context, h domain.ConnHandle) (domain.UserID, bool) {
	if r.rdb != nil {
		uid, err := r.rdb.HGet(ctx, socketToUserKey, string(h)).Result()
		if err == nil {
			n, convErr := strconv.ParseInt(uid, 10, 64)
			if convErr == nil {
				return domain.UserID(n), true
			}
			return 0, false
		}
		if err == redis.Nil {
			return 0, false
		}
		log.Warn().Err(err).Str("module", "state.registry").Str("handle", string(h)).Msg("redis get user failed, falling back to memory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.socketToUser[h]
	return id, ok
}

// IsConnected reports liveness. A mapping with an expired heartbeat is
// evicted as a side effect and reported as disconnected; a mapping with no
// heartbeat recorded yet counts as connected.
func (r *Registry) IsConnected(ctx context.Context, id domain.UserID) bool {
	if r.rdb != nil {
		n, err := r.rdb.Exists(ctx, heartbeatKey(id)).Result()
		if err == nil {
			return n == 1
		}
		log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis liveness check failed, falling back to memory")
	}

	r.mu.Lock()
	h, ok := r.userToSocket[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	exp, hasExp := r.heartbeatExp[id]
	if hasExp && !time.Now().Before(exp) {
		delete(r.userToSocket, id)
		delete(r.socketToUser, h)
		delete(r.heartbeatExp, id)
		r.mu.Unlock()
		log.Debug().Str("module", "state.registry").Int64("user_id", int64(id)).Msg("evicted expired connection")
		return false
	}
	r.mu.Unlock()
	return true
}

// RefreshHeartbeat extends the expiry window from now. It succeeds even
// without a prior record, registering a synthetic fallback handle, so
// out-of-order heartbeat delivery is tolerated.
func (r *Registry) RefreshHeartbeat(ctx context.Context, id domain.UserID, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}

	if r.rdb != nil {
		err := r.rdb.Set(ctx, heartbeatKey(id), "1", r.redisTTL(ttl)).Err()
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("module", "state.registry").Int64("user_id", int64(id)).Msg("redis heartbeat refresh failed, falling back to memory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.userToSocket[id]; !ok {
		h := domain.ConnHandle(fmt.Sprintf("fallback_socket_%d", id))
		r.userToSocket[id] = h
		r.socketToUser[h] = id
	}
	r.heartbeatExp[id] = time.Now().Add(ttl)
}

// Redis expects a TTL of at least one second.
func (r *Registry) redisTTL(ttl time.Duration) time.Duration {
	if ttl < time.Second {
		return time.Second
	}
	return ttl.Truncate(time.Second)
}
