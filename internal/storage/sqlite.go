package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ollamachat/internal/chat"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现。每个 session id 的变更串行化，
// 不同 session 互不阻塞；每个变更在返回前提交事务。
// SQLiteStore implements Store using SQLite with WAL mode. Mutations are
// serialized per session id; distinct sessions never block each other. Every
// mutation commits its transaction before returning.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	locks keyedMutex
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE COLLATE NOCASE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		text       TEXT NOT NULL DEFAULT '',
		sender     TEXT NOT NULL,
		model      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		PRIMARY KEY(session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Session Operations ---

func (s *SQLiteStore) Create(name string) (chat.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return chat.Session{}, ErrInvalidName
	}

	tx, err := s.db.Begin()
	if err != nil {
		return chat.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(1) FROM sessions WHERE name = ? COLLATE NOCASE`, name).Scan(&exists)
	if err != nil {
		return chat.Session{}, fmt.Errorf("check name: %w", err)
	}
	if exists > 0 {
		return chat.Session{}, ErrDuplicateName
	}

	now := time.Now().UTC()
	sess := chat.Session{
		ID:        NewSessionID(),
		Name:      name,
		CreatedAt: now,
		Messages:  []chat.Message{},
	}
	if _, err := tx.Exec(`INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Name, formatTime(now)); err != nil {
		if isUniqueViolation(err) {
			return chat.Session{}, ErrDuplicateName
		}
		return chat.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return chat.Session{}, fmt.Errorf("commit create: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Rename(id, newName string) (chat.Session, error) {
	id = strings.TrimSpace(id)
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return chat.Session{}, ErrInvalidName
	}

	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return chat.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var createdAt string
	err = tx.QueryRow(`SELECT created_at FROM sessions WHERE id = ?`, id).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("load session: %w", err)
	}

	// 排除自身后检查重名 / Collision check excludes the session's own row
	var exists int
	err = tx.QueryRow(`SELECT COUNT(1) FROM sessions WHERE name = ? COLLATE NOCASE AND id != ?`, newName, id).Scan(&exists)
	if err != nil {
		return chat.Session{}, fmt.Errorf("check name: %w", err)
	}
	if exists > 0 {
		return chat.Session{}, ErrDuplicateName
	}

	if _, err := tx.Exec(`UPDATE sessions SET name = ? WHERE id = ?`, newName, id); err != nil {
		if isUniqueViolation(err) {
			return chat.Session{}, ErrDuplicateName
		}
		return chat.Session{}, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return chat.Session{}, fmt.Errorf("commit rename: %w", err)
	}

	created, _ := parseTime(createdAt)
	return chat.Session{ID: id, Name: newName, CreatedAt: created, Messages: []chat.Message{}}, nil
}

// Delete 删除会话及其全部消息；未知 id 返回 ErrNotFound
// Delete removes a session and all of its messages; unknown ids are ErrNotFound
func (s *SQLiteStore) Delete(id string) error {
	id = strings.TrimSpace(id)

	unlock := s.locks.lock(id)
	defer unlock()

	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	// 会话没了，它的锁条目也不再保留
	// The session is gone; do not keep its lock entry around
	s.locks.forget(id)
	return nil
}

func (s *SQLiteStore) Get(id string) (chat.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return chat.Session{}, ErrNotFound
	}

	var name, createdAt string
	err := s.db.QueryRow(`SELECT name, created_at FROM sessions WHERE id = ?`, id).Scan(&name, &createdAt)
	if err == sql.ErrNoRows {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("load session: %w", err)
	}

	messages, err := s.Messages(id)
	if err != nil {
		return chat.Session{}, err
	}
	created, _ := parseTime(createdAt)
	return chat.Session{ID: id, Name: name, CreatedAt: created, Messages: messages}, nil
}

// List 返回全部会话快照，按创建顺序排列（不含消息）
// List returns a snapshot of all sessions in creation order, without transcripts
func (s *SQLiteStore) List() ([]chat.Session, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM sessions ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []chat.Session{}
	for rows.Next() {
		var id, name, createdAt string
		if err := rows.Scan(&id, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		created, _ := parseTime(createdAt)
		sessions = append(sessions, chat.Session{ID: id, Name: name, CreatedAt: created, Messages: []chat.Message{}})
	}
	return sessions, rows.Err()
}

// --- Message Operations ---

// Append 在写入时重新校验会话存在，分配下一个序号并在返回前落盘
// Append re-validates session existence at write time, assigns the next
// sequence position, and is durable before it returns
func (s *SQLiteStore) Append(sessionID string, msg chat.Message) ([]chat.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if !msg.Sender.Valid() {
		return nil, fmt.Errorf("unknown sender %q", msg.Sender)
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	var nextSeq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("next seq: %w", err)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (session_id, seq, text, sender, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, nextSeq, msg.Text, string(msg.Sender), msg.Model, formatTime(ts)); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	messages, err := scanMessages(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) Messages(sessionID string) ([]chat.Message, error) {
	sessionID = strings.TrimSpace(sessionID)

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	return scanMessages(s.db, sessionID)
}

// querier 同时覆盖 *sql.DB 与 *sql.Tx / querier covers both *sql.DB and *sql.Tx
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func scanMessages(q querier, sessionID string) ([]chat.Message, error) {
	rows, err := q.Query(`
		SELECT seq, text, sender, model, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		var msg chat.Message
		var sender, createdAt string
		if err := rows.Scan(&msg.ID, &msg.Text, &sender, &msg.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender = chat.Sender(sender)
		msg.Timestamp, _ = parseTime(createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// --- Helpers ---

// keyedMutex 以 session id 为键的互斥锁集合
// keyedMutex is a set of mutexes keyed by session id
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// forget 释放某个键的锁条目。与删除竞争的写者会新建一把锁，但 Append
// 在事务内重新校验会话存在，所以并发只会各自得到 ErrNotFound。
// forget drops the lock entry for a key. A writer racing the delete may
// allocate a fresh mutex, but Append re-validates session existence inside
// its transaction, so the race can only yield ErrNotFound.
func (k *keyedMutex) forget(key string) {
	k.mu.Lock()
	delete(k.locks, key)
	k.mu.Unlock()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
