package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaClient_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path=%q, want /api/tags", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:8b"},{"name":"mistral"},{"name":""}]}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, server.Client())
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models=%v, want 2 entries", models)
	}
	if models[0] != "llama3:8b" || models[1] != "mistral" {
		t.Fatalf("models=%v", models)
	}
}

func TestOllamaClient_ListModelsServerDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewOllamaClient(server.URL, nil)
	if _, err := client.ListModels(context.Background()); err == nil {
		t.Fatalf("ListModels against closed server should fail")
	}
}

func TestOllamaClient_GenerateNonStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path=%q, want /api/generate", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Errorf("stream=true, want false without chunk callback")
		}
		if req.Model != "llama3" {
			t.Errorf("model=%q, want llama3", req.Model)
		}
		if !strings.Contains(req.Prompt, "Human: hi") {
			t.Errorf("prompt=%q missing rendered turn", req.Prompt)
		}
		_, _ = w.Write([]byte(`{"response":"hello there","done":true}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, server.Client())
	text, err := client.Generate(context.Background(), "llama3", "Human: hi\nAssistant:", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text=%q, want %q", text, "hello there")
	}
}

func TestOllamaClient_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Errorf("stream=false, want true with chunk callback")
		}
		_, _ = w.Write([]byte(`{"response":"hel","done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"response":"lo","done":true}` + "\n"))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, server.Client())
	var chunks []string
	text, err := client.Generate(context.Background(), "llama3", "prompt", func(chunk string) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text=%q, want %q", text, "hello")
	}
	if len(chunks) != 2 || chunks[0] != "hel" || chunks[1] != "lo" {
		t.Fatalf("chunks=%v", chunks)
	}
}

func TestOllamaClient_GenerateBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, server.Client())
	if _, err := client.Generate(context.Background(), "nope", "prompt", nil); err == nil {
		t.Fatalf("Generate should surface backend error")
	}
}

func TestOllamaClient_GenerateNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, server.Client())
	if _, err := client.Generate(context.Background(), "llama3", "prompt", nil); err == nil {
		t.Fatalf("Generate should fail on non-2xx")
	}
}

func TestOllamaClient_GenerateEmptyModel(t *testing.T) {
	client := NewOllamaClient("http://127.0.0.1:0", nil)
	if _, err := client.Generate(context.Background(), "  ", "prompt", nil); err == nil {
		t.Fatalf("Generate with empty model should fail")
	}
}
