package tui

import (
	"context"
	"fmt"
	"strings"

	"ollamachat/internal/app"
	"ollamachat/internal/chat"
	"ollamachat/internal/supervisor"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Tea Messages ---

// TextChunkMsg 流式文本块
// TextChunkMsg is a streaming completion chunk
type TextChunkMsg struct{ Text string }

// TurnDoneMsg 一轮对话完成
// TurnDoneMsg indicates the current turn finished
type TurnDoneMsg struct {
	Content string
	Err     error
}

// StatusMsg 后端状态变更
// StatusMsg carries a backend status transition
type StatusMsg struct{ Status supervisor.Status }

// TranscriptMsg 会话历史加载完成
// TranscriptMsg carries the loaded session transcript
type TranscriptMsg struct {
	Messages []chat.Message
	Err      error
}

// SessionsMsg 会话列表加载完成
// SessionsMsg carries the refreshed session list
type SessionsMsg struct {
	Sessions []chat.Session
	Err      error
}

// Model Bubble Tea 主模型
// Model is the main Bubble Tea model
type Model struct {
	core *app.Core

	// 布局 / Layout
	width  int
	height int

	chatView viewport.Model
	input    textarea.Model

	// 当前会话 / Current session
	sessionID   string
	sessionName string
	modelName   string
	sessions    []chat.Session

	// 后端状态 / Backend status
	status   supervisor.Status
	statusCh <-chan supervisor.Status

	// 内容缓冲；模型按值复制，所以用普通字符串
	// Content buffers; plain strings because the model is copied by value
	chatContent  string
	streaming    bool
	streamBuffer string
	lastError    string

	// 进行中的一轮对话 / The in-flight turn
	turnEvents <-chan tea.Msg
	cancelTurn context.CancelFunc

	theme Theme
	keys  KeyMap
}

// NewModel 创建 TUI 模型
// NewModel creates the TUI model for one session
func NewModel(core *app.Core, sessionID, sessionName, model string, statusCh <-chan supervisor.Status) Model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	m := Model{
		core:        core,
		input:       ta,
		sessionID:   sessionID,
		sessionName: sessionName,
		modelName:   model,
		statusCh:    statusCh,
		theme:       DarkTheme(),
		keys:        DefaultKeyMap(),
	}
	if core != nil {
		m.status = core.Status()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.loadTranscript(), m.loadSessions(), waitStatus(m.statusCh))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			return m.submit()
		case key.Matches(msg, m.keys.Cancel):
			if m.streaming {
				// 取消请求但继续排空事件，直到 TurnDoneMsg 到达
				// Cancel the request but keep draining events until TurnDoneMsg arrives
				m.streaming = false
				if m.cancelTurn != nil {
					m.cancelTurn()
				}
				m.flushStreamToChat()
			}
			return m, nil
		case key.Matches(msg, m.keys.NextSession):
			return m.cycleSession()
		case key.Matches(msg, m.keys.PageUp):
			m.chatView.HalfViewUp()
			return m, nil
		case key.Matches(msg, m.keys.PageDown):
			m.chatView.HalfViewDown()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.relayout()
		return m, nil

	case TextChunkMsg:
		if m.streaming {
			m.streamBuffer += msg.Text
			m.updateChatFromStream()
		}
		if m.turnEvents != nil {
			return m, nextTurnEvent(m.turnEvents)
		}
		return m, nil

	case TurnDoneMsg:
		interrupted := !m.streaming
		m.streaming = false
		m.turnEvents = nil
		m.streamBuffer = ""
		if m.cancelTurn != nil {
			m.cancelTurn()
			m.cancelTurn = nil
		}
		if interrupted {
			return m, nil
		}
		if msg.Err != nil {
			m.lastError = msg.Err.Error()
			m.appendChat(m.theme.ErrorStyle.Render("✗ " + msg.Err.Error()))
			return m, nil
		}
		m.lastError = ""
		m.appendChat(RenderMarkdown(msg.Content, m.chatWidth()) + "\n")
		return m, nil

	case StatusMsg:
		m.status = msg.Status
		return m, waitStatus(m.statusCh)

	case TranscriptMsg:
		if msg.Err != nil {
			m.lastError = msg.Err.Error()
			return m, nil
		}
		m.chatContent = RenderTranscript(msg.Messages, m.theme, m.chatWidth())
		m.chatView.SetContent(m.chatContent)
		m.chatView.GotoBottom()
		return m, nil

	case SessionsMsg:
		if msg.Err == nil {
			m.sessions = msg.Sessions
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sidebarWidth := m.width * 25 / 100
	if sidebarWidth < 20 {
		sidebarWidth = 20
	}
	if sidebarWidth > 36 {
		sidebarWidth = 36
	}
	if m.width < 80 {
		sidebarWidth = 0
	}

	mainWidth := m.width - sidebarWidth
	if sidebarWidth > 0 {
		mainWidth-- // border
	}

	inputHeight := 5
	statusHeight := 1
	chatHeight := m.height - inputHeight - statusHeight
	if chatHeight < 3 {
		chatHeight = 3
	}

	chatPanel := lipgloss.NewStyle().Width(mainWidth).Height(chatHeight).Render(m.chatView.View())
	inputBox := m.theme.InputStyle.Width(mainWidth).Render(m.input.View())
	statusBar := m.renderStatusBar(m.width)

	main := lipgloss.JoinVertical(lipgloss.Left, chatPanel, inputBox)

	if sidebarWidth > 0 {
		sidebar := m.renderSidebar(sidebarWidth, m.height-statusHeight)
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, sidebar)
	}

	return lipgloss.JoinVertical(lipgloss.Left, main, statusBar)
}

// --- 内部方法 / Internal methods ---

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.streaming {
		return m, nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if !m.status.IsActive() {
		m.lastError = "backend unavailable"
		return m, nil
	}

	m.input.Reset()
	m.lastError = ""
	m.appendChat(m.theme.UserStyle.Render("You") + "\n" + text + "\n")
	m.streaming = true
	m.streamBuffer = ""

	cmd := m.startTurn(text)
	return m, cmd
}

// startTurn 在后台执行一轮对话，将流式块与结果按序送回模型
// startTurn runs one turn in the background, feeding chunks and the
// final result back to the model in order
func (m *Model) startTurn(text string) tea.Cmd {
	events := make(chan tea.Msg, 16)
	ctx, cancel := context.WithCancel(context.Background())
	core, sessionID, model := m.core, m.sessionID, m.modelName

	go func() {
		content, err := core.SendMessage(ctx, sessionID, text, model, func(chunk string) {
			events <- TextChunkMsg{Text: chunk}
		})
		events <- TurnDoneMsg{Content: content, Err: err}
		close(events)
	}()

	m.turnEvents = events
	m.cancelTurn = cancel
	return nextTurnEvent(events)
}

func (m Model) cycleSession() (tea.Model, tea.Cmd) {
	if m.streaming || len(m.sessions) < 2 {
		return m, nil
	}
	for i, s := range m.sessions {
		if s.ID == m.sessionID {
			next := m.sessions[(i+1)%len(m.sessions)]
			m.sessionID = next.ID
			m.sessionName = next.Name
			return m, m.loadTranscript()
		}
	}
	return m, nil
}

func (m Model) loadTranscript() tea.Cmd {
	core, sessionID := m.core, m.sessionID
	return func() tea.Msg {
		messages, err := core.GetMessages(sessionID)
		return TranscriptMsg{Messages: messages, Err: err}
	}
}

func (m Model) loadSessions() tea.Cmd {
	core := m.core
	return func() tea.Msg {
		sessions, err := core.GetSessions()
		return SessionsMsg{Sessions: sessions, Err: err}
	}
}

func nextTurnEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func waitStatus(ch <-chan supervisor.Status) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		status, ok := <-ch
		if !ok {
			return nil
		}
		return StatusMsg{Status: status}
	}
}

func (m *Model) relayout() {
	mainWidth := m.chatWidth()
	chatHeight := m.height - 6
	if chatHeight < 3 {
		chatHeight = 3
	}

	m.chatView = viewport.New(mainWidth, chatHeight)
	m.chatView.SetContent(m.chatContent)
	m.chatView.GotoBottom()

	m.input.SetWidth(mainWidth - 2)
}

func (m Model) chatWidth() int {
	w := m.width * 75 / 100
	if m.width < 80 {
		w = m.width
	}
	if w <= 0 {
		w = 80
	}
	return w
}

func (m *Model) appendChat(text string) {
	m.chatContent += text + "\n"
	m.chatView.SetContent(m.chatContent)
	m.chatView.GotoBottom()
}

func (m *Model) updateChatFromStream() {
	m.chatView.SetContent(m.chatContent + m.streamBuffer)
	m.chatView.GotoBottom()
}

func (m *Model) flushStreamToChat() {
	if m.streamBuffer != "" {
		m.appendChat(m.streamBuffer)
		m.streamBuffer = ""
	}
}

func (m Model) renderSidebar(width, height int) string {
	var parts []string

	parts = append(parts, m.theme.TitleStyle.Render(" Sessions"))
	for _, s := range m.sessions {
		line := "  " + s.Name
		if s.ID == m.sessionID {
			line = m.theme.ActiveItem.Render("▸ " + s.Name)
		}
		parts = append(parts, line)
	}
	parts = append(parts, "")

	parts = append(parts, m.theme.TitleStyle.Render(" Model"))
	parts = append(parts, "  "+m.modelName)
	parts = append(parts, "")

	parts = append(parts, m.theme.TitleStyle.Render(" Backend"))
	parts = append(parts, "  "+RenderStatus(m.status, m.theme))

	content := strings.Join(parts, "\n")
	return m.theme.SidebarStyle.Width(width).Height(height).Render(content)
}

func (m Model) renderStatusBar(width int) string {
	state := "ready"
	if m.streaming {
		state = "generating..."
	}

	left := fmt.Sprintf(" %s · %s · %s", m.sessionName, m.modelName, state)
	if m.lastError != "" {
		left += " · " + m.theme.ErrorStyle.Render(m.lastError)
	}
	right := "enter send · esc interrupt · ctrl+s session · ctrl+c quit  "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return m.theme.StatusBarStyle.Width(width).Render(bar)
}

// Run 启动 Bubble Tea 聊天界面
// Run starts the Bubble Tea chat interface for the given session
func Run(core *app.Core, sessionID, sessionName, model string) error {
	statusCh, cancel := core.StatusEvents()
	defer cancel()

	m := NewModel(core, sessionID, sessionName, model, statusCh)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
