package supervisor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"ollamachat/internal/backend"
	"ollamachat/internal/config"
)

// fakeBinary 写一个伪 ollama 脚本：--version 打印版本，serve 长驻
// fakeBinary writes a fake ollama script: --version prints, serve blocks
func fakeBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary scripts require a POSIX shell")
	}
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
	echo "ollama version 0.5.0"
	exit 0
fi
sleep 60
`
	path := filepath.Join(t.TempDir(), "ollama")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func testConfig(binary, baseURL string) config.BackendConfig {
	return config.BackendConfig{
		Binary:          binary,
		ServeArgs:       []string{"serve"},
		BaseURL:         baseURL,
		API:             "native",
		ProbeTimeoutMS:  500,
		ProbeIntervalMS: 60000,
		WarmupDelayMS:   10,
	}
}

func TestMonitor_VersionNotInstalled(t *testing.T) {
	m := NewMonitor(filepath.Join(t.TempDir(), "no-such-binary"), nil, io.Discard)
	if _, err := m.Version(context.Background()); err == nil {
		t.Fatalf("Version of missing binary should fail")
	}
}

func TestMonitor_Version(t *testing.T) {
	m := NewMonitor(fakeBinary(t), nil, io.Discard)
	version, err := m.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != "ollama version 0.5.0" {
		t.Fatalf("version=%q", version)
	}
}

func TestMonitor_LaunchAndStop(t *testing.T) {
	m := NewMonitor(fakeBinary(t), []string{"serve"}, io.Discard)

	if err := m.Launch(); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !m.Running() {
		t.Fatalf("child should be running after Launch")
	}
	// 重复拉起不应产生第二个子进程 / A second Launch must be a no-op
	if err := m.Launch(); err != nil {
		t.Fatalf("second Launch: %v", err)
	}

	m.Stop()
	deadline := time.Now().Add(3 * time.Second)
	for m.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("child still running after Stop")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProber_ActiveAndInactive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	}))
	defer server.Close()

	prober := NewProber(backend.NewOllamaClient(server.URL, server.Client()), 500*time.Millisecond)
	if err := prober.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	server.Close()
	if err := prober.Probe(context.Background()); err == nil {
		t.Fatalf("Probe against closed server should fail")
	}
}

func TestSupervisor_CheckNotInstalled(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"), "http://127.0.0.1:1")
	s := New(cfg, backend.NewOllamaClient(cfg.BaseURL, nil), io.Discard)
	defer s.Stop()

	events, cancel := s.Publisher().Subscribe()
	defer cancel()

	status := s.Check(context.Background())
	if status.State != StateNotInstalled {
		t.Fatalf("status=%v, want not-installed", status)
	}

	// 再查一次仍是 not-installed，但只发布一次事件
	// Re-checking stays not-installed with exactly one published event
	s.Check(context.Background())
	if got := len(events); got != 1 {
		t.Fatalf("events=%d, want 1", got)
	}
}

func TestSupervisor_CheckActiveWhenReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	}))
	defer server.Close()

	cfg := testConfig(fakeBinary(t), server.URL)
	s := New(cfg, backend.NewOllamaClient(server.URL, server.Client()), io.Discard)
	defer s.Stop()

	status := s.Check(context.Background())
	if !status.IsActive() {
		t.Fatalf("status=%v, want active", status)
	}
	if status.Version != "ollama version 0.5.0" {
		t.Fatalf("version=%q", status.Version)
	}
	// 已可达时不应拉起子进程 / No child is spawned when already reachable
	if s.monitor.Running() {
		t.Fatalf("monitor spawned a child for an already-running backend")
	}
}

func TestSupervisor_LaunchThenSecondProbeSucceeds(t *testing.T) {
	// 第一次探测失败，拉起后第二次成功；只应发布一次 Active
	// First probe fails; after launch the second succeeds; exactly one
	// Active event is published
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	}))
	defer server.Close()

	cfg := testConfig(fakeBinary(t), server.URL)
	s := New(cfg, backend.NewOllamaClient(server.URL, server.Client()), io.Discard)
	defer s.Stop()

	events, cancel := s.Publisher().Subscribe()
	defer cancel()

	status := s.Check(context.Background())
	if !status.IsActive() {
		t.Fatalf("status=%v, want active", status)
	}
	if !s.monitor.Running() {
		t.Fatalf("monitor should have launched the backend")
	}
	if got := len(events); got != 1 {
		t.Fatalf("events=%d, want exactly 1 Active transition", got)
	}
}

func TestSupervisor_ActiveToInactiveOnProbeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))

	cfg := testConfig(fakeBinary(t), server.URL)
	s := New(cfg, backend.NewOllamaClient(server.URL, server.Client()), io.Discard)
	defer s.Stop()

	if status := s.Check(context.Background()); !status.IsActive() {
		t.Fatalf("status=%v, want active", status)
	}

	// 后端消失：两次探测都失败，状态应回到 inactive
	// Backend goes away: both probes fail, state returns to inactive
	server.Close()
	status := s.Check(context.Background())
	if status.State != StateInactive {
		t.Fatalf("status=%v, want inactive", status)
	}
}
