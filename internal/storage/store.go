package storage

import (
	"errors"

	"ollamachat/internal/chat"
)

// 存储层校验错误，调用方据此区分用户可修正的失败
// Store-level validation errors; callers branch on these
var (
	ErrNotFound      = errors.New("session not found")
	ErrDuplicateName = errors.New("session name already exists")
	ErrInvalidName   = errors.New("session name is empty")
)

// Store 持久化接口 / Store is the persistence interface
type Store interface {
	// Session 操作 / Session operations
	Create(name string) (chat.Session, error)
	Rename(id, newName string) (chat.Session, error)
	Delete(id string) error
	Get(id string) (chat.Session, error)
	List() ([]chat.Session, error)

	// Message 操作 / Message operations
	Append(sessionID string, msg chat.Message) ([]chat.Message, error)
	Messages(sessionID string) ([]chat.Message, error)

	// 生命周期 / Lifecycle
	Close() error
}
