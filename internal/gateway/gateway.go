package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ollamachat/internal/backend"
	"ollamachat/internal/chat"
	"ollamachat/internal/storage"
	"ollamachat/internal/supervisor"
)

var (
	// ErrBackendUnavailable 后端未就绪时快速失败，绝不静默排队
	// ErrBackendUnavailable fails fast when the backend is not active;
	// requests are never silently queued
	ErrBackendUnavailable = errors.New("backend is not available")
	// ErrGenerationFailed 后端可达但请求失败；从不伪造部分补全
	// ErrGenerationFailed wraps backend request failures; no partial or
	// placeholder completion is ever fabricated
	ErrGenerationFailed = errors.New("generation failed")
)

const (
	humanPrefix     = "Human: "
	assistantPrefix = "Assistant: "
)

// Gateway 为一次聊天回合重建有界上下文并调用后端。
// 它只返回补全文本；落盘由调用方负责，用户回合与助手回合是两次独立可见的变更。
// Gateway reconstructs a bounded conversational context for a chat turn and
// calls the backend. It returns the completion text only; persisting it is
// the caller's job, so the user turn and assistant turn stay two separately
// observable store mutations.
type Gateway struct {
	store      storage.Store
	completer  backend.Completer
	publisher  *supervisor.Publisher
	tokenizer  *Tokenizer
	tokenLimit int
}

func New(store storage.Store, completer backend.Completer, publisher *supervisor.Publisher, tokenizer *Tokenizer, tokenLimit int) *Gateway {
	if tokenizer == nil {
		tokenizer = NewTokenizer("")
	}
	if tokenLimit <= 0 {
		tokenLimit = 8000
	}
	return &Gateway{
		store:      store,
		completer:  completer,
		publisher:  publisher,
		tokenizer:  tokenizer,
		tokenLimit: tokenLimit,
	}
}

// Converse 状态门禁 → 读取记录 → 渲染上下文 → 单次可取消的补全调用。
// 读记录不跨网络调用持有任何会话锁。
// Converse: status gate, transcript read, context render, then one
// cancellable completion call. No session lock is held across the network
// call; the transcript read completes first.
func (g *Gateway) Converse(ctx context.Context, sessionID, model, prompt string, onChunk backend.TextChunkFunc) (string, error) {
	if !g.publisher.Current().IsActive() {
		return "", ErrBackendUnavailable
	}

	messages, err := g.store.Messages(sessionID)
	if err != nil {
		return "", err
	}

	// 调用方先落盘本轮用户消息再调用这里；渲染历史时剔除该回合，
	// 否则它会与尾部的提示重复出现。
	// The caller persists the user turn before calling Converse; drop it
	// from the history or it would appear twice, once more as the tail.
	if n := len(messages); n > 0 && messages[n-1].Sender == chat.SenderUser && messages[n-1].Text == prompt {
		messages = messages[:n-1]
	}

	rendered := g.renderPrompt(messages, prompt)

	text, err := g.completer.Generate(ctx, model, rendered, onChunk)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return text, nil
}

// renderPrompt 按固定角色前缀拼接历史回合，超出预算时整回合地丢弃最旧的
// renderPrompt concatenates prior turns with the fixed role prefixes,
// dropping whole oldest turns first when over the token budget
func (g *Gateway) renderPrompt(messages []chat.Message, prompt string) string {
	tail := humanPrefix + prompt + "\n" + strings.TrimSuffix(assistantPrefix, " ")
	budget := g.tokenLimit - g.tokenizer.CountText(tail)

	turns := make([]string, 0, len(messages))
	for _, msg := range messages {
		prefix := humanPrefix
		if msg.Sender == chat.SenderAssistant {
			prefix = assistantPrefix
		}
		turns = append(turns, prefix+msg.Text)
	}

	// 由新到旧纳入完整回合，预算耗尽即止
	// Include whole turns newest-first until the budget runs out
	start := len(turns)
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := g.tokenizer.CountText(turns[i]) + 1
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	var builder strings.Builder
	for _, turn := range turns[start:] {
		builder.WriteString(turn)
		builder.WriteString("\n")
	}
	builder.WriteString(tail)
	return builder.String()
}
