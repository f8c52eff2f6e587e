package app

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// openURL 用系统默认方式打开链接；命令只启动，不等待
// openURL opens a link with the platform handler; started, never awaited
func openURL(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return fmt.Errorf("install url is empty")
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
