package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Monitor 拥有外部后端进程的句柄：检测二进制、按需拉起、退出时回收。
// 宿主退出前必须调用 Stop，不允许留下孤儿子进程。
// Monitor owns the external backend process handle: binary detection,
// on-demand launch, and teardown. Stop must run before host exit so no
// spawned child outlives the host.
type Monitor struct {
	binary string
	args   []string
	diag   io.Writer

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewMonitor(binary string, args []string, diag io.Writer) *Monitor {
	if diag == nil {
		diag = os.Stderr
	}
	return &Monitor{
		binary: binary,
		args:   append([]string(nil), args...),
		diag:   diag,
	}
}

// Version 执行 `<binary> --version`；失败说明后端未安装，这是终态，
// 由用户处理，监控器不会自动重试。
// Version runs `<binary> --version`; failure means the backend is not
// installed — a terminal, user-actionable condition never retried here.
func (m *Monitor) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, m.binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("query %s version: %w", m.binary, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Launch 以游离子进程方式拉起后端，输出流仅用于诊断日志。
// 成功与否由后续探测判定，不看 spawn 的返回值。
// Launch spawns the backend as a detached child; its streams feed diagnostic
// logging only. Success is decided by the next probe, not by spawn.
func (m *Monitor) Launch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		return nil
	}

	cmd := exec.Command(m.binary, m.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", m.binary, err)
	}
	m.cmd = cmd

	go m.drain("stdout", stdout)
	go m.drain("stderr", stderr)
	go m.watch(cmd)

	return nil
}

func (m *Monitor) drain(stream string, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			fmt.Fprintf(m.diag, "[%s %s] %s", m.binary, stream, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// watch 记录子进程退出；不在本周期内自动重启，下一次检查从头评估
// watch logs child exit; no respawn here — the next check cycle re-evaluates
func (m *Monitor) watch(cmd *exec.Cmd) {
	err := cmd.Wait()

	m.mu.Lock()
	if m.cmd == cmd {
		m.cmd = nil
	}
	m.mu.Unlock()

	if err != nil {
		fmt.Fprintf(m.diag, "[%s] process exited: %v\n", m.binary, err)
		return
	}
	fmt.Fprintf(m.diag, "[%s] process exited\n", m.binary)
}

// Running reports whether a child spawned by this monitor is still alive.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd != nil
}

// Stop 终止本监控器拉起的子进程 / Stop terminates the child spawned by this monitor
func (m *Monitor) Stop() {
	m.mu.Lock()
	cmd := m.cmd
	m.cmd = nil
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		fmt.Fprintf(m.diag, "[%s] kill: %v\n", m.binary, err)
	}
}
