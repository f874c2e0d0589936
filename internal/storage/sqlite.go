package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"parley/internal/domain"
)

// SQLiteStore implements DataStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/parley.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		online        INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL UNIQUE,
		creator_id INTEGER NOT NULL,
		is_active  INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		content      TEXT NOT NULL,
		sender_id    INTEGER NOT NULL,
		room_id      INTEGER,
		recipient_id INTEGER,
		is_dm        INTEGER NOT NULL DEFAULT 0,
		is_read      INTEGER NOT NULL DEFAULT 0,
		timestamp    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_dm ON messages(sender_id, recipient_id, is_dm);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.User{ID: domain.UserID(id), Username: username}, nil
}

func (s *SQLiteStore) UserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, online FROM users WHERE id = ?`, int64(id)).
		Scan(&u.ID, &u.Username, &u.Online)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) UserByName(ctx context.Context, username string) (*domain.User, string, error) {
	var u domain.User
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, online, password_hash FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.Online, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return &u, hash, nil
}

func (s *SQLiteStore) SetUserOnline(ctx context.Context, id domain.UserID, online bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET online = ? WHERE id = ?`, boolToInt(online), int64(id))
	return err
}

func (s *SQLiteStore) CreateRoom(ctx context.Context, name domain.RoomName, creator domain.UserID) (*domain.Room, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (name, creator_id, is_active, created_at) VALUES (?, ?, 1, ?)`,
		string(name), int64(creator), now)
	if err != nil {
		if isUniqueViolation(err) {
			// A reaped room leaves a soft-deleted row behind; revive it.
			upd, updErr := s.db.ExecContext(ctx,
				`UPDATE rooms SET is_active = 1, creator_id = ?, created_at = ? WHERE name = ? AND is_active = 0`,
				int64(creator), now, string(name))
			if updErr == nil {
				if n, _ := upd.RowsAffected(); n == 1 {
					return s.RoomByName(ctx, name)
				}
			}
			return nil, ErrDuplicate
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Room{
		ID:        domain.RoomID(id),
		Name:      name,
		CreatorID: creator,
		IsActive:  true,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) RoomByName(ctx context.Context, name domain.RoomName) (*domain.Room, error) {
	var r domain.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, creator_id, is_active, created_at FROM rooms WHERE name = ? AND is_active = 1`,
		string(name)).
		Scan(&r.ID, &r.Name, &r.CreatorID, &r.IsActive, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeactivateRoom soft-deletes: the row stays, history queries stop seeing it.
func (s *SQLiteStore) DeactivateRoom(ctx context.Context, name domain.RoomName) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET is_active = 0 WHERE name = ?`, string(name))
	return err
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	var roomID, recipientID any
	if msg.RoomID != 0 {
		roomID = int64(msg.RoomID)
	}
	if msg.RecipientID != 0 {
		recipientID = int64(msg.RecipientID)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (content, sender_id, room_id, recipient_id, is_dm, is_read, timestamp)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		msg.Content, int64(msg.SenderID), roomID, recipientID, boolToInt(msg.IsDM), msg.Timestamp)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	msg.ID = domain.MessageID(id)
	return &msg, nil
}

// RoomMessages returns the newest messages first; callers reverse for
// oldest-first display.
func (s *SQLiteStore) RoomMessages(ctx context.Context, roomID domain.RoomID, limit, offset int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.content, m.sender_id, COALESCE(u.username, 'Unknown'), m.room_id, m.is_read, m.timestamp
		 FROM messages m LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = ? AND m.is_dm = 0
		 ORDER BY m.timestamp DESC, m.id DESC
		 LIMIT ? OFFSET ?`,
		int64(roomID), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Content, &m.SenderID, &m.SenderUsername, &m.RoomID, &m.IsRead, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DMMessages(ctx context.Context, a, b domain.UserID, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.content, m.sender_id, COALESCE(u.username, 'Unknown'), m.recipient_id, m.is_read, m.timestamp
		 FROM messages m LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.is_dm = 1 AND ((m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?))
		 ORDER BY m.timestamp DESC, m.id DESC
		 LIMIT ?`,
		int64(a), int64(b), int64(b), int64(a), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m := domain.Message{IsDM: true}
		if err := rows.Scan(&m.ID, &m.Content, &m.SenderID, &m.SenderUsername, &m.RecipientID, &m.IsRead, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DMConversations(ctx context.Context, id domain.UserID) ([]domain.DMConversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.peer_id, COALESCE(u.username, 'Unknown'), c.last_at, c.unread
		 FROM (
			SELECT CASE WHEN m.sender_id = ?1 THEN m.recipient_id ELSE m.sender_id END AS peer_id,
			       MAX(m.timestamp) AS last_at,
			       SUM(CASE WHEN m.recipient_id = ?1 AND m.is_read = 0 THEN 1 ELSE 0 END) AS unread
			FROM messages m
			WHERE m.is_dm = 1 AND (m.sender_id = ?1 OR m.recipient_id = ?1)
			GROUP BY peer_id
		 ) c LEFT JOIN users u ON u.id = c.peer_id
		 ORDER BY c.last_at DESC`,
		int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DMConversation
	for rows.Next() {
		var c domain.DMConversation
		if err := rows.Scan(&c.PeerID, &c.PeerUsername, &c.LastAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Conversation lists are short; one extra lookup per peer is fine.
	for i := range out {
		err := s.db.QueryRowContext(ctx,
			`SELECT content FROM messages
			 WHERE is_dm = 1 AND ((sender_id = ?1 AND recipient_id = ?2) OR (sender_id = ?2 AND recipient_id = ?1))
			 ORDER BY timestamp DESC, id DESC LIMIT 1`,
			int64(id), int64(out[i].PeerID)).Scan(&out[i].LastMessage)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, recipient, sender domain.UserID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1
		 WHERE sender_id = ? AND recipient_id = ? AND is_dm = 1 AND is_read = 0`,
		int64(sender), int64(recipient))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteRoomMessages(ctx context.Context, roomID domain.RoomID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, int64(roomID))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
