package tui

import (
	"strings"

	"ollamachat/internal/chat"
	"ollamachat/internal/supervisor"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderStatus 为后端状态着色
// RenderStatus colorizes a backend status line
func RenderStatus(status supervisor.Status, theme Theme) string {
	switch status.State {
	case supervisor.StateActive:
		return theme.SuccessStyle.Render("● " + status.String())
	case supervisor.StateNotInstalled:
		return theme.ErrorStyle.Render("● " + status.String())
	default:
		return theme.WarningStyle.Render("● " + status.String())
	}
}

// RenderTranscript 渲染会话历史
// RenderTranscript renders stored messages as a chat transcript
func RenderTranscript(messages []chat.Message, theme Theme, width int) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Sender == chat.SenderUser {
			b.WriteString(theme.UserStyle.Render("You") + "\n")
			b.WriteString(m.Text + "\n\n")
			continue
		}
		label := "Assistant"
		if m.Model != "" {
			label += " · " + m.Model
		}
		b.WriteString(theme.TitleStyle.Render(label) + "\n")
		b.WriteString(RenderMarkdown(m.Text, width) + "\n\n")
	}
	return b.String()
}
