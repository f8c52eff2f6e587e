package chat

import "time"

// Sender 消息来源 / Sender identifies who produced a message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Valid reports whether s is a known sender value.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// Message 单条聊天消息，追加后不可变
// Message is a single chat message; immutable once appended
type Message struct {
	// ID is the message's sequence position within its session, assigned by the store.
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
}

// Session 一个命名会话及其有序消息记录
// Session is a named conversation with its ordered transcript
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}
