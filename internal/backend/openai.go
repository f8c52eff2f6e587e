package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient 通过 Ollama 的 OpenAI 兼容 /v1 接口生成补全
// OpenAIClient talks to Ollama's OpenAI-compatible /v1 surface
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient wires the go-openai SDK against the local backend. Ollama
// ignores the API key but the SDK requires one.
func NewOpenAIClient(baseURL string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		models = append(models, m.ID)
	}
	return models, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, model, prompt string, onChunk TextChunkFunc) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("model is empty")
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	if onChunk == nil {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("chat completion has no choices")
		}
		return resp.Choices[0].Message.Content, nil
	}

	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read stream: %w", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			builder.WriteString(choice.Delta.Content)
			onChunk(choice.Delta.Content)
		}
	}
	return builder.String(), nil
}
