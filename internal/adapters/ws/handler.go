package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"parley/internal/domain"
	"parley/internal/presence"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller owns the websocket endpoint: it upgrades, binds the session
// identity and dispatches client events onto the presence layer.
type Controller struct {
	hub    *Hub
	coord  *presence.Coordinator
	router *presence.MessageRouter

	historyLimit int
}

func NewController(hub *Hub, coord *presence.Coordinator, router *presence.MessageRouter, historyLimit int) *Controller {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Controller{
		hub:          hub,
		coord:        coord,
		router:       router,
		historyLimit: historyLimit,
	}
}

// HandleWS upgrades the request and starts the pumps. A connection without
// a logged-in session is upgraded but produces no presence side effects.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	sess := sessions.Default(c)
	uid, _ := sess.Get("user_id").(int64)
	username, _ := sess.Get("username").(string)

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}

	conn := newConn(sock)
	ctl.hub.add(conn)

	who := presence.Identity{ID: domain.UserID(uid), Username: username}
	identified := uid != 0 && username != ""

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)

	if identified {
		ctl.coord.Connect(ctx, who, conn.handle)
	} else {
		log.Debug().Str("module", "ws").Str("handle", string(conn.handle)).Msg("anonymous connection")
	}
	go ctl.readPump(ctx, cancel, who, identified, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.sock.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, who presence.Identity, identified bool, c *Conn) {
	defer func() {
		if identified {
			ctl.coord.Disconnect(ctx, who, c.handle)
		}
		ctl.hub.remove(c.handle)
		c.Close()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.sock.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(ctx, who, identified, c, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, who presence.Identity, identified bool, c *Conn, data []byte) {
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad json")
		return
	}
	if !identified {
		log.Debug().Str("module", "ws").Str("type", env.Type).Msg("event from anonymous connection dropped")
		return
	}

	switch env.Type {
	case "heartbeat":
		ctl.handleHeartbeat(ctx, who, c)
	case "create_room":
		ctl.handleCreateRoom(ctx, who, c, env.Data)
	case "join_room":
		ctl.handleJoinRoom(ctx, who, c, env.Data)
	case "leave_room":
		ctl.handleLeaveRoom(ctx, who, c, env.Data)
	case "get_current_users":
		ctl.handleCurrentUsers(ctx, c, env.Data)
	case "send_message":
		ctl.handleSendMessage(ctx, who, c, env.Data)
	case "get_message_history":
		ctl.handleMessageHistory(ctx, c, env.Data)
	case "load_more_messages":
		ctl.handleLoadMore(ctx, c, env.Data)
	case "start_dm":
		ctl.handleStartDM(ctx, who, c, env.Data)
	case "send_dm":
		ctl.handleSendDM(ctx, who, c, env.Data)
	case "get_dm_conversations":
		ctl.handleConversations(ctx, who, c)
	case "mark_messages_as_read":
		ctl.handleMarkRead(ctx, who, c, env.Data)
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *Controller) handleHeartbeat(ctx context.Context, who presence.Identity, c *Conn) {
	ctl.coord.Heartbeat(ctx, who)
	ctl.sendEvent(c, presence.EvHeartbeatAck, presence.HeartbeatAckEvent{Timestamp: time.Now().Unix()})
}

func (ctl *Controller) handleCreateRoom(ctx context.Context, who presence.Identity, c *Conn, data []byte) {
	var p struct {
		RoomName string `json:"room_name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad create_room payload")
		return
	}

	room, err := ctl.coord.CreateRoom(ctx, who, p.RoomName)
	if err != nil {
		ctl.sendEvent(c, presence.EvRoomCreated, presence.RoomCreatedEvent{Success: false, Message: err.Error()})
		return
	}
	ctl.sendEvent(c, presence.EvRoomCreated, presence.RoomCreatedEvent{
		Success:  true,
		RoomName: string(room.Name),
		Message:  "room created",
		AutoJoin: true,
	})
	if err := ctl.coord.JoinRoom(ctx, who, c.handle, string(room.Name)); err != nil {
		ctl.sendEvent(c, presence.EvRoomJoinError, presence.ErrorEvent{Error: err.Error()})
	}
}

func (ctl *Controller) handleJoinRoom(ctx context.Context, who presence.Identity, c *Conn, data []byte) {
	var p struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad join_room payload")
		return
	}
	if err := ctl.coord.JoinRoom(ctx, who, c.handle, p.Room); err != nil {
		ctl.sendEvent(c, presence.EvRoomJoinError, presence.ErrorEvent{Error: err.Error()})
	}
}

func (ctl *Controller) handleLeaveRoom(ctx context.Context, who presence.Identity, c *Conn, data []byte) {
	var p struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad leave_room payload")
		return
	}
	ctl.coord.LeaveRoom(ctx, who, c.handle, p.Room)
}

func (ctl *Controller) handleCurrentUsers(ctx context.Context, c *Conn, data []byte) {
	var p struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad get_current_users payload")
		return
	}
	room := domain.RoomName(p.Room)
	if room == "" {
		room = ctl.coord.DefaultRoom()
	}
	ctl.sendEvent(c, presence.EvCurrentUsers, presence.CurrentUsersEvent{
		Users: ctl.coord.CurrentUsers(ctx, room),
		Room:  room,
	})
}

func (ctl *Controller) handleSendMessage(ctx context.Context, who presence.Identity, c *Conn, data []byte) {
	var p struct {
		Room    string `json:"room"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad send_message payload")
		return
	}
	room := domain.RoomName(p.Room)
	if room == "" {
		room = ctl.coord.DefaultRoom()
	}

	msg, err := ctl.router.SendRoomMessage(ctx, who, room, p.Message)
	if err != nil {
		ctl.sendEvent(c, presence.EvMessageError, presence.ErrorEvent{Error: err.Error()})
		return
	}
	// the room emit excludes the sender; echo their own copy back
	ctl.sendEvent(c, presence.EvNewMessage, presence.RoomMessageEvent{
		SenderID:       msg.SenderID,
		SenderUsername: who.Username,
		Content:        msg.Content,
		Room:           room,
		RoomID:         msg.RoomID,
		Timestamp:      msg.Timestamp,
	})
}

func (ctl *Controller) handleMessageHistory(ctx context.Context, c *Conn, data []byte) {
	var p struct {
		Room  string `json:"room"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad get_message_history payload")
		return
	}
	room := domain.RoomName(p.Room)
	if room == "" {
		room = ctl.coord.DefaultRoom()
	}
	limit := p.Limit
	if limit <= 0 {
		limit = ctl.historyLimit
	}

	msgs, hasMore, err := ctl.router.RoomHistory(ctx, room, limit, 0)
	if err != nil {
		ctl.sendEvent(c, presence.EvMessageHistoryError, presence.ErrorEvent{Error: err.Error()})
		return
	}
	ctl.sendEvent(c, presence.EvMessageHistory, presence.MessageHistoryEvent{
		Room: room, Messages: msgs, HasMore: hasMore,
	})
}

func (ctl *Controller) handleLoadMore(ctx context.Context, c *Conn, data []byte) {
	var p struct {
		Room   string `json:"room"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad load_more_messages payload")
		return
	}
	room := domain.RoomName(p.Room)
	if room == "" {
		room = ctl.coord.DefaultRoom()
	}
	limit := p.Limit
	if limit <= 0 {
		limit = ctl.historyLimit
	}

	msgs, hasMore, err := ctl.router.RoomHistory(ctx, room, limit, p.Offset)
	if err != nil {
		ctl.sendEvent(c, presence.EvLoadMoreError, presence.ErrorEvent{Error: err.Error()})
		return
	}
	ctl.sendEvent(c, presence.EvMoreMessages, presence.MoreMessagesEvent{
		Messages: msgs, HasMore: hasMore, Offset: p.Offset, Room: room,
	})
}

func (ctl *Controller) handleStartDM(ctx context.Context, who presence.Identity, c *Conn, data []byte) {
	var p struct {
		RecipientID int64 `json:"recipient_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad start_dm payload")
		return
	}

	recipient, msgs, err := ctl.router.DMHistory(ctx, who, domain.UserID(p.RecipientID), ctl.historyLimit)
	if err != nil {
		ctl.sendEvent(c, presence.EvDMError, presence.ErrorEvent{Error: err.Error()})
		return
	}
	ctl.sendEvent(c, presence.EvDMHistory, presence.DMHistoryEvent{
		RecipientID:   recipient.ID,
		RecipientName: recipient.Username,
		Messages:      msgs,
	})
}

func (ctl *Controller) handleSendDM(ctx context.Context, who presence.Identity, c *Conn, data []byte) {
	var p struct {
		RecipientID int64  `json:"recipient_id"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad send_dm payload")
		return
	}

	res, err := ctl.router.SendDirectMessage(ctx, who, domain.UserID(p.RecipientID), p.Message)
	if err != nil {
		ctl.sendEvent(c, presence.EvDMError, presence.ErrorEvent{Error: err.Error()})
		return
	}
	ctl.sendEvent(c, presence.EvDMSent, presence.DMSentEvent{
		Success:           true,
		RecipientID:       res.Recipient.ID,
		RecipientUsername: res.Recipient.Username,
		MessageID:         res.Message.ID,
		Offline:           !res.Delivered,
	})
}

func (ctl *Controller) handleConversations(ctx context.Context, who presence.Identity, c *Conn) {
	convs, err := ctl.router.Conversations(ctx, who)
	if err != nil {
		ctl.sendEvent(c, presence.EvDMError, presence.ErrorEvent{Error: err.Error()})
		return
	}
	ctl.sendEvent(c, presence.EvDMConversations, presence.DMConversationsEvent{Conversations: convs})
}

func (ctl *Controller) handleMarkRead(ctx context.Context, who presence.Identity, c *Conn, data []byte) {
	var p struct {
		SenderID int64 `json:"sender_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad mark_messages_as_read payload")
		return
	}
	if _, err := ctl.router.MarkRead(ctx, who, domain.UserID(p.SenderID)); err != nil {
		ctl.sendEvent(c, presence.EvDMError, presence.ErrorEvent{Error: err.Error()})
		return
	}
	ctl.sendEvent(c, presence.EvMessagesMarkedRead, presence.MarkedReadEvent{
		Success:  true,
		SenderID: domain.UserID(p.SenderID),
	})
}

func (ctl *Controller) sendEvent(c *Conn, event string, payload any) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("event", event).Msg("sendEvent marshal")
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("event", event).Msg("sendEvent dropped")
	}
}
