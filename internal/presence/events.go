package presence

import (
	"time"

	"parley/internal/domain"
)

// Server-emitted event names. Client requests are dispatched by the
// websocket adapter; these are the answers and notifications.
const (
	EvUserStatus         = "user_status"
	EvUserJoined         = "user_joined"
	EvUserLeft           = "user_left"
	EvCurrentUsers       = "current_users"
	EvRoomList           = "room_list"
	EvRoomCreated        = "room_created"
	EvNewMessage         = "new_message"
	EvMessageHistory     = "message_history"
	EvMoreMessages       = "more_messages_loaded"
	EvNewDM              = "new_dm"
	EvDMSent             = "dm_sent"
	EvDMHistory          = "dm_history"
	EvDMConversations    = "dm_conversations"
	EvMessagesMarkedRead = "messages_marked_read"
	EvHeartbeatAck       = "heartbeat_ack"

	EvRoomJoinError       = "room_join_error"
	EvMessageError        = "message_error"
	EvDMError             = "dm_error"
	EvLoadMoreError       = "load_more_error"
	EvMessageHistoryError = "message_history_error"
)

type UserStatusEvent struct {
	UserID domain.UserID `json:"user_id"`
	Online bool          `json:"online"`
}

// RoomPresenceEvent announces one user entering or leaving one room.
type RoomPresenceEvent struct {
	UserID   domain.UserID   `json:"user_id"`
	Username string          `json:"username"`
	Room     domain.RoomName `json:"room"`
}

type CurrentUsersEvent struct {
	Users map[domain.UserID]string `json:"users"`
	Room  domain.RoomName          `json:"room"`
}

type RoomListEvent struct {
	Rooms []string `json:"rooms"`
}

type RoomCreatedEvent struct {
	Success  bool   `json:"success"`
	RoomName string `json:"room_name,omitempty"`
	Message  string `json:"message"`
	AutoJoin bool   `json:"auto_join,omitempty"`
}

type RoomMessageEvent struct {
	SenderID       domain.UserID   `json:"sender_id"`
	SenderUsername string          `json:"sender_username"`
	Content        string          `json:"content"`
	Room           domain.RoomName `json:"room"`
	RoomID         domain.RoomID   `json:"room_id"`
	Timestamp      time.Time       `json:"timestamp"`
	IsDM           bool            `json:"is_dm"`
}

type MessageHistoryEvent struct {
	Room     domain.RoomName  `json:"room"`
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

type MoreMessagesEvent struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
	Offset   int              `json:"offset"`
	Room     domain.RoomName  `json:"room"`
}

type DMEvent struct {
	SenderID       domain.UserID `json:"sender_id"`
	SenderUsername string        `json:"sender_username"`
	RecipientID    domain.UserID `json:"recipient_id"`
	Content        string        `json:"content"`
	Timestamp      time.Time     `json:"timestamp"`
	IsDM           bool          `json:"is_dm"`
}

type DMSentEvent struct {
	Success           bool             `json:"success"`
	RecipientID       domain.UserID    `json:"recipient_id"`
	RecipientUsername string           `json:"recipient_username"`
	MessageID         domain.MessageID `json:"message_id"`
	Offline           bool             `json:"offline,omitempty"`
}

type DMHistoryEvent struct {
	RecipientID   domain.UserID    `json:"recipient_id"`
	RecipientName string           `json:"recipient_name"`
	Messages      []domain.Message `json:"messages"`
}

type DMConversationsEvent struct {
	Conversations []domain.DMConversation `json:"conversations"`
}

type MarkedReadEvent struct {
	Success  bool          `json:"success"`
	SenderID domain.UserID `json:"sender_id"`
}

type HeartbeatAckEvent struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}
