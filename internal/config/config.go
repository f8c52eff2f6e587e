package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// BackendConfig 本地推理后端（Ollama）配置
// BackendConfig configures the local inference backend (Ollama)
type BackendConfig struct {
	// Binary is the server executable looked up on PATH (ollama / ollama.exe).
	Binary string `json:"binary"`
	// ServeArgs are the arguments used when the backend must be launched.
	ServeArgs []string `json:"serve_args"`
	BaseURL   string   `json:"base_url"`
	// API selects the wire client: "native" (Ollama JSON API) or "openai"
	// (Ollama's OpenAI-compatible /v1 surface).
	API            string `json:"api"`
	ProbeTimeoutMS int    `json:"probe_timeout_ms"`
	// ProbeIntervalMS is the periodic re-check cadence.
	ProbeIntervalMS int `json:"probe_interval_ms"`
	// WarmupDelayMS is how long to wait after a launch before the first probe.
	WarmupDelayMS int    `json:"warmup_delay_ms"`
	InstallURL    string `json:"install_url"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
	// LegacyJSONPath, when set and the file exists, is imported into SQLite once.
	LegacyJSONPath string `json:"legacy_json_path"`
}

type ChatConfig struct {
	DefaultModel     string `json:"default_model"`
	RequestTimeoutMS int    `json:"request_timeout_ms"`
	// ContextTokenLimit bounds the rendered conversation context; oldest
	// turns are dropped first when the transcript exceeds it.
	ContextTokenLimit int    `json:"context_token_limit"`
	TokenizerEncoding string `json:"tokenizer_encoding"`
}

type Config struct {
	Backend BackendConfig `json:"backend"`
	Storage StorageConfig `json:"storage"`
	Chat    ChatConfig    `json:"chat"`
}

type fileBackendConfig struct {
	Binary          *string   `json:"binary"`
	ServeArgs       *[]string `json:"serve_args"`
	BaseURL         *string   `json:"base_url"`
	API             *string   `json:"api"`
	ProbeTimeoutMS  *int      `json:"probe_timeout_ms"`
	ProbeIntervalMS *int      `json:"probe_interval_ms"`
	WarmupDelayMS   *int      `json:"warmup_delay_ms"`
	InstallURL      *string   `json:"install_url"`
}

type fileStorageConfig struct {
	BaseDir        *string `json:"base_dir"`
	LegacyJSONPath *string `json:"legacy_json_path"`
}

type fileChatConfig struct {
	DefaultModel      *string `json:"default_model"`
	RequestTimeoutMS  *int    `json:"request_timeout_ms"`
	ContextTokenLimit *int    `json:"context_token_limit"`
	TokenizerEncoding *string `json:"tokenizer_encoding"`
}

type fileConfig struct {
	Backend *fileBackendConfig `json:"backend"`
	Storage *fileStorageConfig `json:"storage"`
	Chat    *fileChatConfig    `json:"chat"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			Binary:          defaultBinaryName(),
			ServeArgs:       []string{"serve"},
			BaseURL:         "http://127.0.0.1:11434",
			API:             "native",
			ProbeTimeoutMS:  3000,
			ProbeIntervalMS: 10000,
			WarmupDelayMS:   2000,
			InstallURL:      "https://ollama.com/download",
		},
		Storage: StorageConfig{
			BaseDir: "~/.ollamachat",
		},
		Chat: ChatConfig{
			DefaultModel:      "",
			RequestTimeoutMS:  120000,
			ContextTokenLimit: 8000,
			TokenizerEncoding: "cl100k_base",
		},
	}
}

// Load 读取配置：默认值 → 全局文件 → 显式路径逐层覆盖
// Load resolves config: defaults, then global file, then explicit path overrides
func Load(path string) (Config, error) {
	cfg := Default()

	if err := mergeFromFile(&cfg, globalConfigPath()); err != nil {
		return Config{}, err
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("OLLAMACHAT_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func globalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ollamachat", "config.json")
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := ExpandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Backend != nil {
		b := fc.Backend
		if b.Binary != nil && strings.TrimSpace(*b.Binary) != "" {
			cfg.Backend.Binary = strings.TrimSpace(*b.Binary)
		}
		if b.ServeArgs != nil && len(*b.ServeArgs) > 0 {
			cfg.Backend.ServeArgs = append([]string(nil), (*b.ServeArgs)...)
		}
		if b.BaseURL != nil && strings.TrimSpace(*b.BaseURL) != "" {
			cfg.Backend.BaseURL = strings.TrimSpace(*b.BaseURL)
		}
		if b.API != nil && strings.TrimSpace(*b.API) != "" {
			cfg.Backend.API = strings.TrimSpace(*b.API)
		}
		if b.ProbeTimeoutMS != nil && *b.ProbeTimeoutMS > 0 {
			cfg.Backend.ProbeTimeoutMS = *b.ProbeTimeoutMS
		}
		if b.ProbeIntervalMS != nil && *b.ProbeIntervalMS > 0 {
			cfg.Backend.ProbeIntervalMS = *b.ProbeIntervalMS
		}
		if b.WarmupDelayMS != nil && *b.WarmupDelayMS > 0 {
			cfg.Backend.WarmupDelayMS = *b.WarmupDelayMS
		}
		if b.InstallURL != nil && strings.TrimSpace(*b.InstallURL) != "" {
			cfg.Backend.InstallURL = strings.TrimSpace(*b.InstallURL)
		}
	}
	if fc.Storage != nil {
		s := fc.Storage
		if s.BaseDir != nil && strings.TrimSpace(*s.BaseDir) != "" {
			cfg.Storage.BaseDir = strings.TrimSpace(*s.BaseDir)
		}
		if s.LegacyJSONPath != nil {
			cfg.Storage.LegacyJSONPath = strings.TrimSpace(*s.LegacyJSONPath)
		}
	}
	if fc.Chat != nil {
		c := fc.Chat
		if c.DefaultModel != nil {
			cfg.Chat.DefaultModel = strings.TrimSpace(*c.DefaultModel)
		}
		if c.RequestTimeoutMS != nil && *c.RequestTimeoutMS > 0 {
			cfg.Chat.RequestTimeoutMS = *c.RequestTimeoutMS
		}
		if c.ContextTokenLimit != nil && *c.ContextTokenLimit > 0 {
			cfg.Chat.ContextTokenLimit = *c.ContextTokenLimit
		}
		if c.TokenizerEncoding != nil && strings.TrimSpace(*c.TokenizerEncoding) != "" {
			cfg.Chat.TokenizerEncoding = strings.TrimSpace(*c.TokenizerEncoding)
		}
	}
}

func normalize(cfg *Config) error {
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is empty")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend.API)) {
	case "", "native":
		cfg.Backend.API = "native"
	case "openai":
		cfg.Backend.API = "openai"
	default:
		return fmt.Errorf("backend.api must be %q or %q, got %q", "native", "openai", cfg.Backend.API)
	}

	baseDir, err := ExpandPath(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("expand storage.base_dir: %w", err)
	}
	if baseDir == "" {
		return fmt.Errorf("storage.base_dir is empty")
	}
	cfg.Storage.BaseDir = baseDir

	if cfg.Storage.LegacyJSONPath != "" {
		legacy, err := ExpandPath(cfg.Storage.LegacyJSONPath)
		if err != nil {
			return fmt.Errorf("expand storage.legacy_json_path: %w", err)
		}
		cfg.Storage.LegacyJSONPath = legacy
	}
	return nil
}

func defaultBinaryName() string {
	if runtime.GOOS == "windows" {
		return "ollama.exe"
	}
	return "ollama"
}

// ExpandPath resolves ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments 去除 // 与 /* */ 注释，字符串内的内容保持原样
// stripJSONComments removes // and /* */ comments, leaving string contents intact
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
