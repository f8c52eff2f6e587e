package supervisor

import (
	"context"
	"time"

	"ollamachat/internal/backend"
)

// Prober 有界时长的存活探测：请求后端模型列表。
// 任何失败（拒绝连接、超时、响应不合法）都视为 Inactive；探测器自身从不重试。
// Prober is a bounded-time liveness check against the backend's model list.
// Any failure (refused, timeout, malformed) means inactive; the prober itself
// never retries.
type Prober struct {
	completer backend.Completer
	timeout   time.Duration
}

func NewProber(completer backend.Completer, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{completer: completer, timeout: timeout}
}

// Probe 成功返回 nil，即后端存活 / Probe returns nil when the backend is alive
func (p *Prober) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.completer.ListModels(ctx)
	return err
}
