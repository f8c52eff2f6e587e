package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ollamachat/internal/app"
	"ollamachat/internal/backend"
	"ollamachat/internal/chat"
	"ollamachat/internal/config"
	"ollamachat/internal/gateway"
	"ollamachat/internal/storage"
	"ollamachat/internal/supervisor"
	"ollamachat/internal/tui"

	"github.com/chzyer/readline"
)

func main() {
	var (
		configPath string
		modelFlag  string
		useTUI     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.StringVar(&modelFlag, "model", "", "Model override for this run")
	flag.BoolVar(&useTUI, "tui", false, "Start the full-screen chat interface")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	baseDir, err := config.ExpandPath(cfg.Storage.BaseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve data dir failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create data dir failed: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(filepath.Join(baseDir, "sessions.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open session store failed: %v\n", err)
		os.Exit(1)
	}

	if legacy := strings.TrimSpace(cfg.Storage.LegacyJSONPath); legacy != "" {
		legacyPath, pathErr := config.ExpandPath(legacy)
		if pathErr == nil {
			if n, migErr := storage.MigrateFromJSON(legacyPath, store); migErr != nil {
				fmt.Fprintf(os.Stderr, "legacy session import failed: %v\n", migErr)
			} else if n > 0 {
				fmt.Printf("imported %d legacy session(s) from %s\n", n, legacyPath)
			}
		}
	}

	completer := backend.New(cfg.Backend, time.Duration(cfg.Chat.RequestTimeoutMS)*time.Millisecond)
	sup := supervisor.New(cfg.Backend, completer, os.Stderr)
	tokenizer := gateway.NewTokenizer(cfg.Chat.TokenizerEncoding)
	gw := gateway.New(store, completer, sup.Publisher(), tokenizer, cfg.Chat.ContextTokenLimit)
	core := app.New(store, gw, sup, completer, cfg.Backend.InstallURL)
	defer core.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	status := sup.Check(ctx)
	go sup.Run(ctx)

	session, err := ensureSession(core)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prepare session failed: %v\n", err)
		os.Exit(1)
	}
	model := pickModel(modelFlag, cfg.Chat.DefaultModel, core.GetAvailableModels(ctx))

	if useTUI {
		if err := tui.Run(core, session.ID, session.Name, model); err != nil {
			fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("ollamachat — backend %s\n", status)
	fmt.Printf("session: %s (%s)  model: %s\n", session.Name, session.ID, displayModel(model))
	if status.State == supervisor.StateNotInstalled {
		fmt.Printf("ollama not found; /install opens %s\n", cfg.Backend.InstallURL)
	}
	printREPLCommands(os.Stdout)

	term, termErr := newConsole(filepath.Join(baseDir, "repl.history"))
	if termErr != nil {
		fmt.Fprintf(os.Stderr, "line editing unavailable, plain input: %v\n", termErr)
	}
	defer term.Close()

	state := &replState{session: session, model: model}

	for {
		line, err := term.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(os.Stdout)
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(os.Stderr, "\nexit")
				return
			default:
				fmt.Fprintf(os.Stderr, "read input failed: %v\n", err)
				return
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if handled, shouldExit := handleCommand(input, core, state); handled {
				if shouldExit {
					return
				}
				continue
			}
			fmt.Printf("unknown command: %s (try /help)\n", input)
			continue
		}

		runTurn(core, state, input)
	}
}

// runTurn 发送一条用户消息并把流式输出写到 stdout
// runTurn sends one user message and streams the reply to stdout
func runTurn(core *app.Core, state *replState, text string) {
	started := false
	_, err := core.SendMessage(context.Background(), state.session.ID, text, state.model, func(chunk string) {
		started = true
		fmt.Print(chunk)
	})
	if started {
		fmt.Println()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
	}
}

// ensureSession 返回最近的会话，没有则新建一个
// ensureSession returns the newest session, creating one if none exist
func ensureSession(core *app.Core) (chat.Session, error) {
	sessions, err := core.GetSessions()
	if err != nil {
		return chat.Session{}, err
	}
	if len(sessions) > 0 {
		return sessions[len(sessions)-1], nil
	}
	return core.CreateSession(nextSessionName(sessions))
}

// pickModel 解析本次运行使用的模型：flag > 配置 > 第一个已安装模型
// pickModel resolves the model for this run: flag > config > first installed
func pickModel(flagValue, configured string, available []string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

func displayModel(model string) string {
	if model == "" {
		return "(none — pull one with 'ollama pull')"
	}
	return model
}
