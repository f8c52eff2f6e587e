package backend

import (
	"context"
	"net/http"
	"time"

	"ollamachat/internal/config"
)

// TextChunkFunc 流式文本回调 / TextChunkFunc receives streamed completion text
type TextChunkFunc func(chunk string)

// Completer 推理后端的固定外部契约：列出模型、生成补全
// Completer is the fixed external contract of the inference backend:
// list models and generate a completion
type Completer interface {
	ListModels(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, model, prompt string, onChunk TextChunkFunc) (string, error)
}

// New 按配置选择 native 或 openai 兼容客户端
// New selects the native or OpenAI-compatible client per config
func New(cfg config.BackendConfig, requestTimeout time.Duration) Completer {
	httpClient := &http.Client{Timeout: requestTimeout}
	if cfg.API == "openai" {
		return NewOpenAIClient(cfg.BaseURL, httpClient)
	}
	return NewOllamaClient(cfg.BaseURL, httpClient)
}
