package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"parley/internal/domain"
	"parley/internal/storage"
)

var errDown = errors.New("store down")

// fakeTransport records every transport interaction for assertions.
type fakeTransport struct {
	mu           sync.Mutex
	rooms        map[domain.RoomName]map[domain.ConnHandle]struct{}
	emits        []emitRecord
	disconnected []domain.ConnHandle
}

type emitRecord struct {
	Event   string
	Payload any

	// exactly one of these identifies the target
	Handle    domain.ConnHandle
	Room      domain.RoomName
	Exclude   domain.ConnHandle
	Broadcast bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rooms: make(map[domain.RoomName]map[domain.ConnHandle]struct{})}
}

func (t *fakeTransport) JoinRoom(h domain.ConnHandle, room domain.RoomName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rooms[room]; !ok {
		t.rooms[room] = make(map[domain.ConnHandle]struct{})
	}
	t.rooms[room][h] = struct{}{}
}

func (t *fakeTransport) LeaveRoom(h domain.ConnHandle, room domain.RoomName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms[room], h)
}

func (t *fakeTransport) EmitToConnection(h domain.ConnHandle, event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emits = append(t.emits, emitRecord{Event: event, Payload: payload, Handle: h})
	return nil
}

func (t *fakeTransport) EmitToRoom(room domain.RoomName, event string, payload any, exclude domain.ConnHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emits = append(t.emits, emitRecord{Event: event, Payload: payload, Room: room, Exclude: exclude})
}

func (t *fakeTransport) Broadcast(event string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emits = append(t.emits, emitRecord{Event: event, Payload: payload, Broadcast: true})
}

func (t *fakeTransport) Disconnect(h domain.ConnHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnected = append(t.disconnected, h)
}

// received reports the events a member of room would have seen through h:
// room emits not excluding it, direct emits to it, and broadcasts.
func (t *fakeTransport) received(h domain.ConnHandle, room domain.RoomName, event string) []emitRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []emitRecord
	for _, e := range t.emits {
		if e.Event != event {
			continue
		}
		switch {
		case e.Broadcast:
			out = append(out, e)
		case e.Handle == h && e.Handle != "":
			out = append(out, e)
		case e.Room == room && e.Room != "" && e.Exclude != h:
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTransport) inRoom(h domain.ConnHandle, room domain.RoomName) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rooms[room][h]
	return ok
}

// fakeStore is an in-memory DataStore.
type fakeStore struct {
	mu      sync.Mutex
	users   map[domain.UserID]*domain.User
	rooms   map[domain.RoomName]*domain.Room
	msgs    []domain.Message
	nextID  int64
	nextMsg int64

	failCreateMessage bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[domain.UserID]*domain.User),
		rooms: make(map[domain.RoomName]*domain.Room),
	}
}

func (s *fakeStore) addUser(id domain.UserID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &domain.User{ID: id, Username: username}
}

func (s *fakeStore) Close() error               { return nil }
func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) CreateUser(_ context.Context, username, _ string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := &domain.User{ID: domain.UserID(s.nextID), Username: username}
	s.users[u.ID] = u
	return u, nil
}

func (s *fakeStore) UserByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) UserByName(_ context.Context, username string) (*domain.User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, "", nil
		}
	}
	return nil, "", storage.ErrNotFound
}

func (s *fakeStore) SetUserOnline(_ context.Context, id domain.UserID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Online = online
	}
	return nil
}

func (s *fakeStore) CreateRoom(_ context.Context, name domain.RoomName, creator domain.UserID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[name]; ok {
		if r.IsActive {
			return nil, storage.ErrDuplicate
		}
		r.IsActive = true
		r.CreatorID = creator
		cp := *r
		return &cp, nil
	}
	s.nextID++
	r := &domain.Room{ID: domain.RoomID(s.nextID), Name: name, CreatorID: creator, IsActive: true, CreatedAt: time.Now()}
	s.rooms[name] = r
	cp := *r
	return &cp, nil
}

func (s *fakeStore) RoomByName(_ context.Context, name domain.RoomName) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[name]; ok && r.IsActive {
		cp := *r
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) DeactivateRoom(_ context.Context, name domain.RoomName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[name]; ok {
		r.IsActive = false
	}
	return nil
}

func (s *fakeStore) CreateMessage(_ context.Context, msg domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateMessage {
		return nil, errDown
	}
	s.nextMsg++
	msg.ID = domain.MessageID(s.nextMsg)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.msgs = append(s.msgs, msg)
	cp := msg
	return &cp, nil
}

func (s *fakeStore) RoomMessages(_ context.Context, roomID domain.RoomID, limit, offset int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Message
	for i := len(s.msgs) - 1; i >= 0; i-- { // newest first
		m := s.msgs[i]
		if !m.IsDM && m.RoomID == roomID {
			all = append(all, m)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fakeStore) DMMessages(_ context.Context, a, b domain.UserID, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Message
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.IsDM && ((m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)) {
			all = append(all, m)
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fakeStore) DMConversations(_ context.Context, id domain.UserID) ([]domain.DMConversation, error) {
	return nil, nil
}

func (s *fakeStore) MarkMessagesRead(_ context.Context, recipient, sender domain.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.IsDM && m.SenderID == sender && m.RecipientID == recipient && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DeleteRoomMessages(_ context.Context, roomID domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.RoomID != roomID {
			kept = append(kept, m)
		}
	}
	s.msgs = kept
	return nil
}
