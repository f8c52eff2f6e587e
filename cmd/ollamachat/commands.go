package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ollamachat/internal/app"
	"ollamachat/internal/chat"
	"ollamachat/internal/tui"
)

var replCommands = []string{
	"/help                 show this list",
	"/sessions             list sessions",
	"/new [name]           create a session and switch to it",
	"/use <id|index>       switch to a session",
	"/rename <name>        rename the current session",
	"/delete <id|index>    delete a session",
	"/history              print the current transcript",
	"/models               list installed models",
	"/model <name|index>   switch model",
	"/status               show backend status",
	"/check                re-probe the backend now",
	"/install              open the backend download page",
	"/tui                  switch to the full-screen interface",
	"/exit, /quit          leave",
}

func printREPLCommands(out io.Writer) {
	fmt.Fprintln(out, "commands:")
	for _, cmd := range replCommands {
		fmt.Fprintf(out, "  %s\n", cmd)
	}
}

type replState struct {
	session chat.Session
	model   string
}

// handleCommand 处理斜杠命令；返回 (是否已处理, 是否退出)
// handleCommand dispatches a slash command, returning (handled, exit)
func handleCommand(input string, core *app.Core, state *replState) (bool, bool) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, false
	}
	switch parts[0] {
	case "/exit", "/quit":
		return true, true

	case "/help":
		printREPLCommands(os.Stdout)
		return true, false

	case "/sessions":
		sessions, err := core.GetSessions()
		if err != nil {
			fmt.Printf("list sessions failed: %v\n", err)
			return true, false
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return true, false
		}
		for idx, s := range sessions {
			marker := " "
			if s.ID == state.session.ID {
				marker = "*"
			}
			fmt.Printf("%s [%d] %s  id=%s  created=%s\n", marker, idx+1, s.Name, s.ID, s.CreatedAt.Format("2006-01-02 15:04"))
		}
		return true, false

	case "/new":
		name := strings.TrimSpace(strings.TrimPrefix(input, "/new"))
		if name == "" {
			sessions, err := core.GetSessions()
			if err != nil {
				fmt.Printf("list sessions failed: %v\n", err)
				return true, false
			}
			name = nextSessionName(sessions)
		}
		session, err := core.CreateSession(name)
		if err != nil {
			fmt.Printf("create session failed: %v\n", err)
			return true, false
		}
		state.session = session
		fmt.Printf("new session: %s (%s)\n", session.Name, session.ID)
		return true, false

	case "/use":
		if len(parts) < 2 {
			fmt.Println("usage: /use <id|index>")
			return true, false
		}
		session, err := lookupSession(core, parts[1])
		if err != nil {
			fmt.Printf("switch session failed: %v\n", err)
			return true, false
		}
		state.session = session
		fmt.Printf("using session: %s (%s)\n", session.Name, session.ID)
		return true, false

	case "/rename":
		name := strings.TrimSpace(strings.TrimPrefix(input, "/rename"))
		if name == "" {
			fmt.Println("usage: /rename <new name>")
			return true, false
		}
		session, err := core.RenameSession(state.session.ID, name)
		if err != nil {
			fmt.Printf("rename failed: %v\n", err)
			return true, false
		}
		state.session = session
		fmt.Printf("renamed to: %s\n", session.Name)
		return true, false

	case "/delete":
		if len(parts) < 2 {
			fmt.Println("usage: /delete <id|index>")
			return true, false
		}
		session, err := lookupSession(core, parts[1])
		if err != nil {
			fmt.Printf("delete failed: %v\n", err)
			return true, false
		}
		if err := core.DeleteSession(session.ID); err != nil {
			fmt.Printf("delete failed: %v\n", err)
			return true, false
		}
		fmt.Printf("deleted session: %s\n", session.Name)
		if session.ID == state.session.ID {
			replacement, err := ensureSession(core)
			if err != nil {
				fmt.Printf("prepare session failed: %v\n", err)
				return true, true
			}
			state.session = replacement
			fmt.Printf("using session: %s (%s)\n", replacement.Name, replacement.ID)
		}
		return true, false

	case "/history":
		messages, err := core.GetMessages(state.session.ID)
		if err != nil {
			fmt.Printf("load history failed: %v\n", err)
			return true, false
		}
		if len(messages) == 0 {
			fmt.Println("no messages yet")
			return true, false
		}
		for _, m := range messages {
			if m.Sender == chat.SenderUser {
				fmt.Printf("you: %s\n", m.Text)
				continue
			}
			fmt.Println(tui.RenderMarkdown(m.Text, 100))
		}
		return true, false

	case "/models":
		models := core.GetAvailableModels(context.Background())
		if len(models) == 0 {
			fmt.Println("no models installed (is the backend running?)")
			return true, false
		}
		for idx, m := range models {
			marker := " "
			if m == state.model {
				marker = "*"
			}
			fmt.Printf("%s [%d] %s\n", marker, idx+1, m)
		}
		fmt.Println("switch with: /model <name|index>")
		return true, false

	case "/model":
		if len(parts) < 2 {
			fmt.Printf("current model: %s\n", displayModel(state.model))
			return true, false
		}
		target, err := resolveModelTarget(parts[1], core.GetAvailableModels(context.Background()))
		if err != nil {
			fmt.Printf("switch model failed: %v\n", err)
			return true, false
		}
		state.model = target
		fmt.Printf("model switched to: %s\n", target)
		return true, false

	case "/status":
		fmt.Println(core.Status())
		return true, false

	case "/check":
		core.CheckBackendStatus()
		fmt.Println("re-checking backend...")
		return true, false

	case "/install":
		if err := core.InstallBackend(); err != nil {
			fmt.Printf("open download page failed: %v\n", err)
		}
		return true, false

	case "/tui":
		if err := tui.Run(core, state.session.ID, state.session.Name, state.model); err != nil {
			fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
		}
		return true, false

	default:
		return false, false
	}
}

// lookupSession 按 1 起始序号、会话 id 或名称查找会话
// lookupSession resolves a 1-based index, session id, or name
func lookupSession(core *app.Core, target string) (chat.Session, error) {
	sessions, err := core.GetSessions()
	if err != nil {
		return chat.Session{}, err
	}
	return resolveSessionTarget(target, sessions)
}

func resolveSessionTarget(target string, sessions []chat.Session) (chat.Session, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return chat.Session{}, fmt.Errorf("empty session target")
	}
	if idx, err := strconv.Atoi(target); err == nil {
		if idx < 1 || idx > len(sessions) {
			return chat.Session{}, fmt.Errorf("index %d out of range (1..%d)", idx, len(sessions))
		}
		return sessions[idx-1], nil
	}
	for _, s := range sessions {
		if s.ID == target {
			return s, nil
		}
	}
	for _, s := range sessions {
		if strings.EqualFold(s.Name, target) {
			return s, nil
		}
	}
	return chat.Session{}, fmt.Errorf("no session matching %q", target)
}

// resolveModelTarget 按 1 起始序号或模型名解析目标模型
// resolveModelTarget resolves a 1-based index or model name
func resolveModelTarget(target string, models []string) (string, error) {
	target = strings.TrimSpace(target)
	if idx, err := strconv.Atoi(target); err == nil {
		if idx < 1 || idx > len(models) {
			return "", fmt.Errorf("index %d out of range (1..%d)", idx, len(models))
		}
		return models[idx-1], nil
	}
	if target == "" {
		return "", fmt.Errorf("empty model target")
	}
	return target, nil
}

// nextSessionName 生成不与现有会话冲突的默认名称
// nextSessionName picks a default name that does not collide
func nextSessionName(sessions []chat.Session) string {
	taken := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		taken[strings.ToLower(s.Name)] = true
	}
	for n := len(sessions) + 1; ; n++ {
		name := fmt.Sprintf("chat %d", n)
		if !taken[name] {
			return name
		}
	}
}
