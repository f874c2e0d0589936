package domain

import (
	"strings"
	"time"
)

type (
	RoomName string
	RoomID   int64
)

// DMRoomPrefix marks synthetic direct-message rooms. They never reach the
// room directory and are exempt from the one-room-per-user rule.
const DMRoomPrefix = "dm_"

func (n RoomName) IsDM() bool {
	return strings.HasPrefix(string(n), DMRoomPrefix)
}

type Room struct {
	ID        RoomID    `json:"id"`
	Name      RoomName  `json:"name"`
	CreatorID UserID    `json:"creator_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomDescriptor is the directory view of a room: existence and minimal
// ownership meta-data, independent of live membership.
type RoomDescriptor struct {
	Name      RoomName `json:"name"`
	CreatedBy UserID   `json:"created_by"`
	IsActive  bool     `json:"is_active"`
	IsDefault bool     `json:"is_default"`
}
