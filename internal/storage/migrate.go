package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"ollamachat/internal/chat"
)

// legacySession 旧版 electron-store 布局 / legacy electron-store layout
type legacySession struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Messages []legacyMessage `json:"messages"`
}

type legacyMessage struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Model     string `json:"model"`
}

type legacyFile struct {
	Sessions []legacySession `json:"sessions"`
}

// MigrateFromJSON 将旧版 JSON 会话文件迁移到 SQLite，按会话幂等
// MigrateFromJSON migrates the legacy JSON session file into SQLite,
// idempotent per session id
func MigrateFromJSON(jsonPath string, store *SQLiteStore) (int, error) {
	jsonPath = strings.TrimSpace(jsonPath)
	if jsonPath == "" {
		return 0, nil
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read legacy sessions: %w", err)
	}

	var file legacyFile
	if err := json.Unmarshal(data, &file); err != nil {
		// 旧版某些修订直接存数组 / Some legacy revisions store a bare array
		if arrErr := json.Unmarshal(data, &file.Sessions); arrErr != nil {
			return 0, fmt.Errorf("parse legacy sessions: %w", err)
		}
	}

	migrated := 0
	for _, legacy := range file.Sessions {
		if strings.TrimSpace(legacy.ID) == "" || strings.TrimSpace(legacy.Name) == "" {
			continue
		}

		// 已迁移则跳过 / Skip sessions already migrated
		if _, err := store.Get(legacy.ID); err == nil {
			continue
		}

		if err := store.importSession(legacy); err != nil {
			fmt.Fprintf(os.Stderr, "skip migrate %s: %v\n", legacy.ID, err)
			continue
		}
		migrated++
	}
	return migrated, nil
}

// importSession 原样保留旧版 id 与消息顺序 / Preserves the legacy id and message order
func (s *SQLiteStore) importSession(legacy legacySession) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := time.Now().UTC()
	if len(legacy.Messages) > 0 {
		if ts, err := parseLegacyTime(legacy.Messages[0].Timestamp); err == nil {
			created = ts
		}
	}

	if _, err := tx.Exec(`INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)`,
		legacy.ID, strings.TrimSpace(legacy.Name), formatTime(created)); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("insert session: %w", err)
	}

	for i, msg := range legacy.Messages {
		sender := chat.SenderAssistant
		if msg.Sender == "user" {
			sender = chat.SenderUser
		}
		ts, err := parseLegacyTime(msg.Timestamp)
		if err != nil {
			ts = created
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (session_id, seq, text, sender, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			legacy.ID, i+1, msg.Text, string(sender), msg.Model, formatTime(ts)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func parseLegacyTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
