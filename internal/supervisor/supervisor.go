package supervisor

import (
	"context"
	"fmt"
	"io"
	"time"

	"ollamachat/internal/backend"
	"ollamachat/internal/config"
)

// Supervisor 把 Monitor、Prober、Publisher 串成一个检查周期：
// 检测二进制 → 探测存活 → 必要时拉起 → 暖机后复探 → 发布结果。
// Supervisor runs Monitor, Prober and Publisher as one check cycle:
// detect the binary, probe liveness, launch when unreachable, re-probe after
// warm-up, publish the outcome.
type Supervisor struct {
	monitor   *Monitor
	prober    *Prober
	publisher *Publisher
	diag      io.Writer

	warmupDelay time.Duration
	interval    time.Duration

	// sleep is replaced in tests to skip the warm-up wait.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.BackendConfig, completer backend.Completer, diag io.Writer) *Supervisor {
	return &Supervisor{
		monitor:     NewMonitor(cfg.Binary, cfg.ServeArgs, diag),
		prober:      NewProber(completer, time.Duration(cfg.ProbeTimeoutMS)*time.Millisecond),
		publisher:   NewPublisher(),
		diag:        diag,
		warmupDelay: time.Duration(cfg.WarmupDelayMS) * time.Millisecond,
		interval:    time.Duration(cfg.ProbeIntervalMS) * time.Millisecond,
		sleep:       sleepCtx,
	}
}

func (s *Supervisor) Publisher() *Publisher { return s.publisher }

// Check 执行一个完整周期并返回发布后的状态。失败只改变状态，从不让宿主崩溃。
// Check runs one full cycle and returns the published status. Failures only
// change state; they never crash the host.
func (s *Supervisor) Check(ctx context.Context) Status {
	version, err := s.monitor.Version(ctx)
	if err != nil {
		s.publisher.Set(NotInstalled())
		return s.publisher.Current()
	}

	if err := s.prober.Probe(ctx); err == nil {
		s.publisher.Set(Active(version))
		return s.publisher.Current()
	}

	// 后端已安装但不可达：拉起后等待暖机再探一次
	// Installed but unreachable: launch, wait out warm-up, probe once more
	if err := s.monitor.Launch(); err != nil {
		if s.diag != nil {
			fmt.Fprintf(s.diag, "launch backend: %v\n", err)
		}
		s.publisher.Set(Inactive())
		return s.publisher.Current()
	}

	if err := s.sleep(ctx, s.warmupDelay); err != nil {
		s.publisher.Set(Inactive())
		return s.publisher.Current()
	}

	if err := s.prober.Probe(ctx); err != nil {
		// 本周期不再重试；下一次显式检查从头评估
		// No retry within this cycle; the next explicit check starts over
		s.publisher.Set(Inactive())
		return s.publisher.Current()
	}
	s.publisher.Set(Active(version))
	return s.publisher.Current()
}

// Run 周期性检查，保证 Active 的新鲜度不落后超过一个探测间隔
// Run re-checks periodically so Active is never staler than one interval
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Stop 终止拉起的后端子进程 / Stop terminates the spawned backend child
func (s *Supervisor) Stop() {
	s.monitor.Stop()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
