package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaClient Ollama 原生 JSON API 客户端
// OllamaClient speaks the native Ollama JSON API
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaClient(baseURL string, httpClient *http.Client) *OllamaClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// ListModels 调用 /api/tags 列出已安装模型；同时用作存活探测
// ListModels hits /api/tags; it doubles as the liveness probe
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send tags request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tags request failed: status=%d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("parse tags response: %w", err)
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		models = append(models, m.Name)
	}
	return models, nil
}

// Generate 调用 /api/generate；onChunk 非空时走流式 NDJSON
// Generate hits /api/generate; with onChunk set it streams NDJSON
func (c *OllamaClient) Generate(ctx context.Context, model, prompt string, onChunk TextChunkFunc) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("model is empty")
	}

	payload := generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: onChunk != nil,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", fmt.Errorf("generate request failed: status=%d (read error: %v)", resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("generate request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if payload.Stream {
		return parseStreamGenerate(resp.Body, onChunk)
	}
	return parseSingleGenerate(resp.Body)
}

func parseSingleGenerate(body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read generate response: %w", err)
	}

	var gen generateResponse
	if err := json.Unmarshal(data, &gen); err != nil {
		return "", fmt.Errorf("parse generate response: %w", err)
	}
	if gen.Error != "" {
		return "", fmt.Errorf("backend error: %s", gen.Error)
	}
	return gen.Response, nil
}

// parseStreamGenerate 逐行解析 NDJSON 片段直到 done
// parseStreamGenerate reads NDJSON fragments until done
func parseStreamGenerate(body io.Reader, onChunk TextChunkFunc) (string, error) {
	decoder := json.NewDecoder(body)
	var builder strings.Builder
	for {
		var gen generateResponse
		if err := decoder.Decode(&gen); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("parse stream fragment: %w", err)
		}
		if gen.Error != "" {
			return "", fmt.Errorf("backend error: %s", gen.Error)
		}
		if gen.Response != "" {
			builder.WriteString(gen.Response)
			if onChunk != nil {
				onChunk(gen.Response)
			}
		}
		if gen.Done {
			break
		}
	}
	return builder.String(), nil
}
