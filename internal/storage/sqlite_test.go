package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"ollamachat/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Create("My Chat")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("Create returned empty id")
	}
	if sess.Name != "My Chat" {
		t.Fatalf("Name=%q, want %q", sess.Name, "My Chat")
	}

	loaded, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.Name != "My Chat" {
		t.Fatalf("loaded Name=%q, want %q", loaded.Name, "My Chat")
	}
	if len(loaded.Messages) != 0 {
		t.Fatalf("new session has %d messages, want 0", len(loaded.Messages))
	}
}

func TestSQLiteStore_CreateDuplicateNameCaseInsensitive(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create("Foo"); err != nil {
		t.Fatalf("Create Foo: %v", err)
	}
	_, err := store.Create("foo")
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Create foo err=%v, want ErrDuplicateName", err)
	}
}

func TestSQLiteStore_CreateInvalidName(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"", "   ", "\t\n"} {
		if _, err := store.Create(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Create(%q) err=%v, want ErrInvalidName", name, err)
		}
	}
}

func TestSQLiteStore_Rename(t *testing.T) {
	store := newTestStore(t)

	sess, _ := store.Create("old name")

	renamed, err := store.Rename(sess.ID, "new name")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if renamed.Name != "new name" {
		t.Fatalf("Name=%q, want %q", renamed.Name, "new name")
	}

	// 重命名为自身（仅大小写不同）不应视为冲突
	// Renaming to the session's own name with different case is not a collision
	if _, err := store.Rename(sess.ID, "NEW NAME"); err != nil {
		t.Fatalf("Rename to own name: %v", err)
	}

	other, _ := store.Create("taken")
	if _, err := store.Rename(sess.ID, "TAKEN"); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Rename to %q err=%v, want ErrDuplicateName", other.Name, err)
	}

	if _, err := store.Rename(sess.ID, "  "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Rename to blank err=%v, want ErrInvalidName", err)
	}
	// 无效名不应产生任何变更 / Invalid name must not mutate
	loaded, _ := store.Get(sess.ID)
	if loaded.Name != "NEW NAME" {
		t.Fatalf("Name after failed rename=%q, want %q", loaded.Name, "NEW NAME")
	}

	if _, err := store.Rename("sess_missing", "whatever"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Rename unknown id err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_DeleteRemovesMessages(t *testing.T) {
	store := newTestStore(t)

	sess, _ := store.Create("doomed")
	if _, err := store.Append(sess.ID, chat.Message{Text: "hello", Sender: chat.SenderUser, Model: "m1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := store.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err=%v, want ErrNotFound", err)
	}
	if _, err := store.Messages(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Messages after delete err=%v, want ErrNotFound", err)
	}

	// 删除未知 id 报 ErrNotFound / Deleting an unknown id is an error
	if err := store.Delete(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_DeleteReleasesSessionLock(t *testing.T) {
	store := newTestStore(t)

	sess, _ := store.Create("short-lived")
	if _, err := store.Append(sess.ID, chat.Message{Text: "hello", Sender: chat.SenderUser, Model: "m1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	hasLock := func(id string) bool {
		store.locks.mu.Lock()
		defer store.locks.mu.Unlock()
		_, ok := store.locks.locks[id]
		return ok
	}
	if !hasLock(sess.ID) {
		t.Fatal("expected a lock entry after Append")
	}

	if err := store.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if hasLock(sess.ID) {
		t.Fatal("lock entry should be dropped with the session")
	}
}

func TestSQLiteStore_AppendOrderAndSeq(t *testing.T) {
	store := newTestStore(t)

	sess, _ := store.Create("ordered")

	texts := []string{"one", "two", "three", "four"}
	for i, text := range texts {
		sender := chat.SenderUser
		if i%2 == 1 {
			sender = chat.SenderAssistant
		}
		messages, err := store.Append(sess.ID, chat.Message{Text: text, Sender: sender, Model: "m1"})
		if err != nil {
			t.Fatalf("Append %q: %v", text, err)
		}
		if len(messages) != i+1 {
			t.Fatalf("Append returned %d messages, want %d", len(messages), i+1)
		}
	}

	loaded, err := store.Messages(sess.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	for i, msg := range loaded {
		if msg.Text != texts[i] {
			t.Fatalf("msg[%d].Text=%q, want %q", i, msg.Text, texts[i])
		}
		if msg.ID != int64(i+1) {
			t.Fatalf("msg[%d].ID=%d, want %d", i, msg.ID, i+1)
		}
	}
}

func TestSQLiteStore_AppendUnknownSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Append("sess_gone", chat.Message{Text: "hi", Sender: chat.SenderUser})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Append unknown session err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_AppendRejectsUnknownSender(t *testing.T) {
	store := newTestStore(t)

	sess, _ := store.Create("strict")
	if _, err := store.Append(sess.ID, chat.Message{Text: "hi", Sender: "robot"}); err == nil {
		t.Fatalf("Append with unknown sender should fail")
	}
}

func TestSQLiteStore_ListCreationOrder(t *testing.T) {
	store := newTestStore(t)

	names := []string{"alpha", "beta", "gamma"}
	for _, name := range names {
		if _, err := store.Create(name); err != nil {
			t.Fatalf("Create %q: %v", name, err)
		}
	}

	sessions, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != len(names) {
		t.Fatalf("List count=%d, want %d", len(sessions), len(names))
	}
	for i, sess := range sessions {
		if sess.Name != names[i] {
			t.Fatalf("sessions[%d].Name=%q, want %q", i, sess.Name, names[i])
		}
	}
}

func TestSQLiteStore_ConcurrentAppendsDistinctSessions(t *testing.T) {
	store := newTestStore(t)

	const perSession = 20
	a, _ := store.Create("a")
	b, _ := store.Create("b")

	var wg sync.WaitGroup
	appendAll := func(id string) {
		defer wg.Done()
		for i := 0; i < perSession; i++ {
			if _, err := store.Append(id, chat.Message{
				Text:   fmt.Sprintf("msg %d", i),
				Sender: chat.SenderUser,
				Model:  "m1",
			}); err != nil {
				t.Errorf("Append(%s): %v", id, err)
				return
			}
		}
	}
	wg.Add(2)
	go appendAll(a.ID)
	go appendAll(b.ID)
	wg.Wait()

	for _, id := range []string{a.ID, b.ID} {
		messages, err := store.Messages(id)
		if err != nil {
			t.Fatalf("Messages(%s): %v", id, err)
		}
		if len(messages) != perSession {
			t.Fatalf("Messages(%s) count=%d, want %d", id, len(messages), perSession)
		}
		for i, msg := range messages {
			if msg.ID != int64(i+1) {
				t.Fatalf("Messages(%s)[%d].ID=%d, want %d", id, i, msg.ID, i+1)
			}
		}
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	sess, _ := store.Create("persisted")
	if _, err := store.Append(sess.ID, chat.Message{Text: "still here", Sender: chat.SenderUser, Model: "m1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Text != "still here" {
		t.Fatalf("messages after reopen: %+v", loaded.Messages)
	}
}
