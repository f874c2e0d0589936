package presence

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"parley/internal/domain"
	"parley/internal/state"
	"parley/internal/storage"
)

// MessageRouter resolves room and direct messages to their target
// connections and persists them. Durability and real-time delivery are
// decoupled: a persistence failure aborts the send, an offline target
// never does.
type MessageRouter struct {
	registry  *state.Registry
	coord     *Coordinator
	store     storage.DataStore
	transport Transport
	validator Validator
}

func NewMessageRouter(registry *state.Registry, coord *Coordinator, store storage.DataStore, transport Transport, validator Validator) *MessageRouter {
	return &MessageRouter{
		registry:  registry,
		coord:     coord,
		store:     store,
		transport: transport,
		validator: validator,
	}
}

// DMResult reports what happened to a direct message. Delivered=false is
// the normal offline outcome, not an error: the message is persisted and
// surfaces on the recipient's next history fetch.
type DMResult struct {
	Message   *domain.Message
	Recipient *domain.User
	Delivered bool
}

// SendRoomMessage validates, persists (auto-creating the room record) and
// fans the message out to every connection in the room except the sender's.
func (r *MessageRouter) SendRoomMessage(ctx context.Context, who Identity, room domain.RoomName, content string) (*domain.Message, error) {
	text, err := r.validator.ValidateMessageContent(content)
	if err != nil {
		return nil, err
	}

	rec, err := r.store.RoomByName(ctx, room)
	if errors.Is(err, storage.ErrNotFound) {
		rec, err = r.store.CreateRoom(ctx, room, who.ID)
		if err == nil {
			r.coord.directory.CreateIfAbsent(ctx, room, who.ID)
		}
	}
	if err != nil {
		return nil, err
	}

	msg, err := r.store.CreateMessage(ctx, domain.Message{
		Content:        text,
		SenderID:       who.ID,
		SenderUsername: who.Username,
		RoomID:         rec.ID,
	})
	if err != nil {
		return nil, err
	}

	exclude, _ := r.registry.GetSocketCached(ctx, who.ID)
	r.transport.EmitToRoom(room, EvNewMessage, RoomMessageEvent{
		SenderID:       msg.SenderID,
		SenderUsername: who.Username,
		Content:        msg.Content,
		Room:           room,
		RoomID:         rec.ID,
		Timestamp:      msg.Timestamp,
	}, exclude)

	return msg, nil
}

// SendDirectMessage validates, persists with the DM flag and delivers to
// the recipient's connection when one can be resolved, local cache first,
// shared registry second.
func (r *MessageRouter) SendDirectMessage(ctx context.Context, who Identity, recipientID domain.UserID, content string) (*DMResult, error) {
	text, err := r.validator.ValidateMessageContent(content)
	if err != nil {
		return nil, err
	}
	if recipientID == who.ID {
		return nil, ErrSelfDM
	}

	recipient, err := r.store.UserByID(ctx, recipientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}

	msg, err := r.store.CreateMessage(ctx, domain.Message{
		Content:        text,
		SenderID:       who.ID,
		SenderUsername: who.Username,
		RecipientID:    recipientID,
		IsDM:           true,
	})
	if err != nil {
		return nil, err
	}

	result := &DMResult{Message: msg, Recipient: recipient}
	if h, ok := r.registry.GetSocketCached(ctx, recipientID); ok {
		emitErr := r.transport.EmitToConnection(h, EvNewDM, DMEvent{
			SenderID:       who.ID,
			SenderUsername: who.Username,
			RecipientID:    recipientID,
			Content:        msg.Content,
			Timestamp:      msg.Timestamp,
			IsDM:           true,
		})
		if emitErr != nil {
			log.Warn().Err(emitErr).Str("module", "presence.router").Int64("recipient_id", int64(recipientID)).Msg("dm emit failed, deferred to history")
		} else {
			result.Delivered = true
		}
	}
	return result, nil
}

// RoomHistory returns the room's recent messages oldest-first.
func (r *MessageRouter) RoomHistory(ctx context.Context, room domain.RoomName, limit, offset int) ([]domain.Message, bool, error) {
	rec, err := r.store.RoomByName(ctx, room)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, ErrRoomNotFound
	}
	if err != nil {
		return nil, false, err
	}

	msgs, err := r.store.RoomMessages(ctx, rec.ID, limit, offset)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(msgs) == limit
	reverseMessages(msgs)
	return msgs, hasMore, nil
}

// DMHistory returns the conversation with the given peer oldest-first.
func (r *MessageRouter) DMHistory(ctx context.Context, who Identity, recipientID domain.UserID, limit int) (*domain.User, []domain.Message, error) {
	if recipientID == who.ID {
		return nil, nil, ErrSelfDM
	}
	recipient, err := r.store.UserByID(ctx, recipientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	msgs, err := r.store.DMMessages(ctx, who.ID, recipientID, limit)
	if err != nil {
		return nil, nil, err
	}
	reverseMessages(msgs)
	return recipient, msgs, nil
}

// Conversations returns the user's DM inbox.
func (r *MessageRouter) Conversations(ctx context.Context, who Identity) ([]domain.DMConversation, error) {
	return r.store.DMConversations(ctx, who.ID)
}

// MarkRead marks everything the given sender sent to this user as read and
// returns how many messages flipped.
func (r *MessageRouter) MarkRead(ctx context.Context, who Identity, senderID domain.UserID) (int64, error) {
	return r.store.MarkMessagesRead(ctx, who.ID, senderID)
}
