package state

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"parley/internal/domain"
)

// Directory is the catalog of known room names with minimal ownership
// meta-data, independent of live membership.
type Directory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]domain.RoomDescriptor

	rdb         *redis.Client // nil in local-only mode
	defaultRoom domain.RoomName
}

func NewDirectory(rdb *redis.Client, defaultRoom domain.RoomName) *Directory {
	return &Directory{
		rooms:       make(map[domain.RoomName]domain.RoomDescriptor),
		rdb:         rdb,
		defaultRoom: defaultRoom,
	}
}

// CreateIfAbsent registers the room. Idempotent: the first writer wins and
// concurrent calls converge on a single descriptor.
func (d *Directory) CreateIfAbsent(ctx context.Context, room domain.RoomName, creator domain.UserID) {
	d.mu.Lock()
	if _, ok := d.rooms[room]; !ok {
		d.rooms[room] = domain.RoomDescriptor{
			Name:      room,
			CreatedBy: creator,
			IsActive:  true,
			IsDefault: room == d.defaultRoom,
		}
		log.Debug().Str("module", "state.directory").Str("room", string(room)).Msg("registered room")
	}
	d.mu.Unlock()

	if d.rdb == nil {
		return
	}
	if err := d.rdb.SAdd(ctx, roomsSetKey, string(room)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.directory").Str("room", string(room)).Msg("redis register room failed, local view only")
		return
	}
	metaKey := roomMetaKey(room)
	exists, err := d.rdb.Exists(ctx, metaKey).Result()
	if err != nil {
		log.Warn().Err(err).Str("module", "state.directory").Str("room", string(room)).Msg("redis meta lookup failed")
		return
	}
	if exists == 0 {
		err := d.rdb.HSet(ctx, metaKey,
			"name", string(room),
			"created_by", strconv.FormatInt(int64(creator), 10),
			"is_active", "1",
		).Err()
		if err != nil {
			log.Warn().Err(err).Str("module", "state.directory").Str("room", string(room)).Msg("redis meta write failed")
		}
	}
}

// GetInfo returns the descriptor or nil for an unknown room.
func (d *Directory) GetInfo(ctx context.Context, room domain.RoomName) *domain.RoomDescriptor {
	if d.rdb != nil {
		data, err := d.rdb.HGetAll(ctx, roomMetaKey(room)).Result()
		if err == nil {
			if len(data) == 0 {
				return nil
			}
			desc := domain.RoomDescriptor{
				Name:      room,
				IsActive:  data["is_active"] == "1",
				IsDefault: room == d.defaultRoom,
			}
			if n, convErr := strconv.ParseInt(data["created_by"], 10, 64); convErr == nil {
				desc.CreatedBy = domain.UserID(n)
			}
			return &desc
		}
		log.Warn().Err(err).Str("module", "state.directory").Str("room", string(room)).Msg("redis meta read failed, falling back to memory")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if desc, ok := d.rooms[room]; ok {
		return &desc
	}
	return nil
}

// ListAll returns the union of directory entries. The default room is
// always present, even when it was never explicitly created.
func (d *Directory) ListAll(ctx context.Context) map[domain.RoomName]struct{} {
	out := make(map[domain.RoomName]struct{})
	out[d.defaultRoom] = struct{}{}

	if d.rdb != nil {
		rooms, err := d.rdb.SMembers(ctx, roomsSetKey).Result()
		if err == nil {
			for _, r := range rooms {
				out[domain.RoomName(r)] = struct{}{}
			}
			return out
		}
		log.Warn().Err(err).Str("module", "state.directory").Msg("redis list rooms failed, falling back to memory")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for r := range d.rooms {
		out[r] = struct{}{}
	}
	return out
}

// RemoveMeta deletes the descriptor.
func (d *Directory) RemoveMeta(ctx context.Context, room domain.RoomName) {
	d.mu.Lock()
	delete(d.rooms, room)
	d.mu.Unlock()

	if d.rdb == nil {
		return
	}
	if err := d.rdb.SRem(ctx, roomsSetKey, string(room)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.directory").Str("room", string(room)).Msg("redis unregister room failed, local view only")
		return
	}
	if err := d.rdb.Del(ctx, roomMetaKey(room)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "state.directory").Str("room", string(room)).Msg("redis meta delete failed")
	}
}
