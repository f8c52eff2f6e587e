package app

import (
	"context"
	"fmt"
	"strings"

	"ollamachat/internal/backend"
	"ollamachat/internal/chat"
	"ollamachat/internal/gateway"
	"ollamachat/internal/storage"
	"ollamachat/internal/supervisor"
)

// Core 是暴露给界面层的请求/响应边界：把调用翻译成存储与网关操作，
// 并把状态机事件推给订阅者。存储与网关的失败原样返回，从不伪造成功。
// Core is the request/response boundary consumed by the UI layer. It
// translates calls into store and gateway operations and forwards status
// machine events to subscribers. Store and gateway failures are returned
// verbatim, never translated into fabricated success.
type Core struct {
	store      storage.Store
	gateway    *gateway.Gateway
	sup        *supervisor.Supervisor
	completer  backend.Completer
	installURL string
}

func New(store storage.Store, gw *gateway.Gateway, sup *supervisor.Supervisor, completer backend.Completer, installURL string) *Core {
	return &Core{
		store:      store,
		gateway:    gw,
		sup:        sup,
		completer:  completer,
		installURL: installURL,
	}
}

// --- Session operations ---

func (a *Core) GetSessions() ([]chat.Session, error) {
	return a.store.List()
}

func (a *Core) CreateSession(name string) (chat.Session, error) {
	return a.store.Create(name)
}

func (a *Core) RenameSession(id, newName string) (chat.Session, error) {
	return a.store.Rename(id, newName)
}

func (a *Core) DeleteSession(id string) error {
	return a.store.Delete(id)
}

func (a *Core) GetMessages(sessionID string) ([]chat.Message, error) {
	return a.store.Messages(sessionID)
}

// --- Chat ---

// SendMessage 执行三个各自持久、独立可见的步骤：先落盘用户回合，再生成，
// 成功后落盘助手回合。生成失败时用户输入已保存，不会丢失；后端未就绪时
// 在任何落盘之前快速失败。会话若在生成期间被删除，Append 的写时校验会
// 丢弃补全并返回 ErrNotFound。
// SendMessage performs three ordered, individually durable steps: persist
// the user turn, generate, persist the assistant turn on success. A failed
// generation leaves the user turn stored so no input is lost; when the
// backend is not active it fails fast before any store mutation. If the
// session is deleted mid-flight, Append's write-time validation discards
// the completion with ErrNotFound.
func (a *Core) SendMessage(ctx context.Context, sessionID, text, model string, onChunk backend.TextChunkFunc) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("message text is empty")
	}

	if !a.sup.Publisher().Current().IsActive() {
		return "", gateway.ErrBackendUnavailable
	}

	if _, err := a.store.Append(sessionID, chat.Message{
		Text:   text,
		Sender: chat.SenderUser,
		Model:  model,
	}); err != nil {
		return "", err
	}

	completion, err := a.gateway.Converse(ctx, sessionID, model, text, onChunk)
	if err != nil {
		return "", err
	}

	if _, err := a.store.Append(sessionID, chat.Message{
		Text:   completion,
		Sender: chat.SenderAssistant,
		Model:  model,
	}); err != nil {
		return "", err
	}
	return completion, nil
}

// GetAvailableModels 失败时返回空列表，从不向界面层抛错
// GetAvailableModels returns an empty list on failure, never an error
func (a *Core) GetAvailableModels(ctx context.Context) []string {
	models, err := a.completer.ListModels(ctx)
	if err != nil {
		return []string{}
	}
	return models
}

// --- Backend status ---

func (a *Core) Status() supervisor.Status {
	return a.sup.Publisher().Current()
}

// StatusEvents 每次实际状态转移至多投递一个事件
// StatusEvents delivers at most one event per actual transition
func (a *Core) StatusEvents() (<-chan supervisor.Status, func()) {
	return a.sup.Publisher().Subscribe()
}

// CheckBackendStatus 触发一轮带外检查 / CheckBackendStatus triggers an
// out-of-band probe cycle
func (a *Core) CheckBackendStatus() {
	go a.sup.Check(context.Background())
}

// InstallBackend 打开外部安装页面，不等待结果
// InstallBackend opens the external installation flow; nothing is awaited
func (a *Core) InstallBackend() error {
	return openURL(a.installURL)
}

// Close 终止拉起的后端子进程并关闭存储
// Close terminates the spawned backend child and closes the store
func (a *Core) Close() error {
	a.sup.Stop()
	return a.store.Close()
}
