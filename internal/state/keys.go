// Package state holds the shared presence state: room membership, live
// connections and the room directory. Every store keeps a local in-memory
// view and, when a Redis client is configured, mirrors it to the shared
// store so several server processes can coordinate. The local view is the
// degraded fallback: remote failures are logged, never propagated, and the
// mutation still lands locally so this process stays consistent.
package state

import (
	"fmt"

	"parley/internal/domain"
)

const (
	userToSocketKey = "conn:user_to_socket"
	socketToUserKey = "conn:socket_to_user"
	roomsSetKey     = "rooms"
)

func roomUsersKey(room domain.RoomName) string {
	return fmt.Sprintf("room:%s:users", room)
}

func userRoomsKey(id domain.UserID) string {
	return fmt.Sprintf("user:%d:rooms", id)
}

func heartbeatKey(id domain.UserID) string {
	return fmt.Sprintf("conn:heartbeat:%d", id)
}

func roomMetaKey(room domain.RoomName) string {
	return fmt.Sprintf("room:meta:%s", room)
}
