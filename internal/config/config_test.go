package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Backend.BaseURL != "http://127.0.0.1:11434" {
		t.Fatalf("BaseURL=%q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.API != "native" {
		t.Fatalf("API=%q, want native", cfg.Backend.API)
	}
	if len(cfg.Backend.ServeArgs) != 1 || cfg.Backend.ServeArgs[0] != "serve" {
		t.Fatalf("ServeArgs=%v", cfg.Backend.ServeArgs)
	}
	if cfg.Chat.ContextTokenLimit <= 0 {
		t.Fatalf("ContextTokenLimit=%d", cfg.Chat.ContextTokenLimit)
	}
}

func TestLoad_OverridesFromJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		// 本地覆盖 / local overrides
		"backend": {
			"base_url": "http://127.0.0.1:9999/",
			"api": "openai",
			"warmup_delay_ms": 500
		},
		"chat": {
			"default_model": "llama3:8b",
			"context_token_limit": 4000
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// 尾部斜杠在归一化时去除 / Trailing slash is trimmed by normalize
	if cfg.Backend.BaseURL != "http://127.0.0.1:9999" {
		t.Fatalf("BaseURL=%q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.API != "openai" {
		t.Fatalf("API=%q", cfg.Backend.API)
	}
	if cfg.Backend.WarmupDelayMS != 500 {
		t.Fatalf("WarmupDelayMS=%d", cfg.Backend.WarmupDelayMS)
	}
	if cfg.Chat.DefaultModel != "llama3:8b" {
		t.Fatalf("DefaultModel=%q", cfg.Chat.DefaultModel)
	}
	if cfg.Chat.ContextTokenLimit != 4000 {
		t.Fatalf("ContextTokenLimit=%d", cfg.Chat.ContextTokenLimit)
	}
	// 未覆盖的字段保持默认 / Untouched fields keep their defaults
	if cfg.Backend.ProbeTimeoutMS != 3000 {
		t.Fatalf("ProbeTimeoutMS=%d", cfg.Backend.ProbeTimeoutMS)
	}
}

func TestLoad_RejectsUnknownAPI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"backend":{"api":"grpc"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load should reject unknown backend.api")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != Default().Backend.BaseURL {
		t.Fatalf("BaseURL=%q", cfg.Backend.BaseURL)
	}
}

func TestStripJSONComments(t *testing.T) {
	in := `{
		// line comment
		"a": "value // not a comment",
		/* block
		   comment */
		"b": 2
	}`
	out := string(stripJSONComments([]byte(in)))
	if !strings.Contains(out, `"value // not a comment"`) {
		t.Fatalf("string content was mangled: %s", out)
	}
	if strings.Contains(out, "line comment") || strings.Contains(out, "block") {
		t.Fatalf("comments not stripped: %s", out)
	}
}
