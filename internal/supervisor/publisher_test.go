package supervisor

import "testing"

func TestPublisher_InitialState(t *testing.T) {
	p := NewPublisher()
	if got := p.Current(); got.State != StateInactive {
		t.Fatalf("initial state=%v, want inactive", got)
	}
}

func TestPublisher_EmitsOncePerTransition(t *testing.T) {
	p := NewPublisher()
	events, cancel := p.Subscribe()
	defer cancel()

	p.Set(Inactive())          // 与初始相同，不应有事件 / same as initial, no event
	p.Set(Active("v0.5.0"))    // 一次转移 / one transition
	p.Set(Active("v0.5.0"))    // 重复，无事件 / duplicate, no event
	p.Set(Inactive())          // 第二次转移 / second transition

	if got := len(events); got != 2 {
		t.Fatalf("buffered events=%d, want 2", got)
	}
	first := <-events
	if first.State != StateActive || first.Version != "v0.5.0" {
		t.Fatalf("first event=%v, want active v0.5.0", first)
	}
	second := <-events
	if second.State != StateInactive {
		t.Fatalf("second event=%v, want inactive", second)
	}
}

func TestPublisher_CurrentTracksLatest(t *testing.T) {
	p := NewPublisher()
	p.Set(NotInstalled())
	if got := p.Current(); got.State != StateNotInstalled {
		t.Fatalf("Current=%v, want not-installed", got)
	}
	p.Set(Active("v1"))
	if got := p.Current(); !got.IsActive() {
		t.Fatalf("Current=%v, want active", got)
	}
}

func TestPublisher_CancelClosesChannel(t *testing.T) {
	p := NewPublisher()
	events, cancel := p.Subscribe()
	cancel()
	cancel() // 重复取消应幂等 / double cancel must be safe

	if _, ok := <-events; ok {
		t.Fatalf("channel should be closed after cancel")
	}

	// 取消后的 Set 不应 panic / Set after cancel must not panic
	p.Set(Active("v1"))
}

func TestStatus_String(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{NotInstalled(), "not-installed"},
		{Inactive(), "inactive"},
		{Active(""), "active"},
		{Active("v0.5.0"), "active (v0.5.0)"},
	}
	for _, c := range cases {
		if got := c.status.String(); got != c.want {
			t.Fatalf("String()=%q, want %q", got, c.want)
		}
	}
}
