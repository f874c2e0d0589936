package domain

import "time"

type MessageID int64

type Message struct {
	ID             MessageID `json:"id"`
	Content        string    `json:"content"`
	SenderID       UserID    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	RoomID         RoomID    `json:"room_id,omitempty"`
	RecipientID    UserID    `json:"recipient_id,omitempty"`
	IsDM           bool      `json:"is_dm"`
	IsRead         bool      `json:"is_read"`
	Timestamp      time.Time `json:"timestamp"`
}

// DMConversation is one row of a user's direct-message inbox.
type DMConversation struct {
	PeerID       UserID    `json:"peer_id"`
	PeerUsername string    `json:"peer_username"`
	LastMessage  string    `json:"last_message"`
	LastAt       time.Time `json:"last_at"`
	UnreadCount  int       `json:"unread_count"`
}
