// Package presence orchestrates connect/disconnect/join/leave transitions
// across the membership, registry and directory stores, and routes room and
// direct messages to live connections.
package presence

import "parley/internal/domain"

// Transport is the connection-layer collaborator. Emit failures are the
// transport's problem: presence correctness never depends on a notification
// landing.
type Transport interface {
	JoinRoom(h domain.ConnHandle, room domain.RoomName)
	LeaveRoom(h domain.ConnHandle, room domain.RoomName)
	EmitToConnection(h domain.ConnHandle, event string, payload any) error
	EmitToRoom(room domain.RoomName, event string, payload any, exclude domain.ConnHandle)
	Broadcast(event string, payload any)
	Disconnect(h domain.ConnHandle)
}

// Identity is the authenticated user behind a connection. Connections
// without one are accepted at transport level but excluded from all
// presence operations.
type Identity struct {
	ID       domain.UserID
	Username string
}
