package storage

import (
	"context"
	"errors"

	"parley/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// DataStore is the persistence collaborator for users, rooms and message
// history. The presence core treats it as an external dependency: a failure
// here aborts at most the one operation that needed it.
type DataStore interface {
	Close() error
	Ping(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, username, passwordHash string) (*domain.User, error)
	UserByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	UserByName(ctx context.Context, username string) (*domain.User, string, error)
	SetUserOnline(ctx context.Context, id domain.UserID, online bool) error

	// Rooms
	CreateRoom(ctx context.Context, name domain.RoomName, creator domain.UserID) (*domain.Room, error)
	RoomByName(ctx context.Context, name domain.RoomName) (*domain.Room, error)
	DeactivateRoom(ctx context.Context, name domain.RoomName) error

	// Messages
	CreateMessage(ctx context.Context, msg domain.Message) (*domain.Message, error)
	RoomMessages(ctx context.Context, roomID domain.RoomID, limit, offset int) ([]domain.Message, error)
	DMMessages(ctx context.Context, a, b domain.UserID, limit int) ([]domain.Message, error)
	DMConversations(ctx context.Context, id domain.UserID) ([]domain.DMConversation, error)
	MarkMessagesRead(ctx context.Context, recipient, sender domain.UserID) (int64, error)
	DeleteRoomMessages(ctx context.Context, roomID domain.RoomID) error
}
