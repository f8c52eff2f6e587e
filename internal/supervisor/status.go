package supervisor

// State 后端状态机的三个状态 / State is the backend status machine's state
type State int

const (
	// StateInactive 进程启动时的初始状态；状态从不跨重启持久化
	// StateInactive is the initial state at process start; status is never
	// persisted across restarts
	StateInactive State = iota
	StateNotInstalled
	StateActive
)

// Status 当前发布的后端状态 / Status is the published backend status
type Status struct {
	State State
	// Version is the backend binary version, set only when State is StateActive.
	Version string
}

func (s Status) String() string {
	switch s.State {
	case StateNotInstalled:
		return "not-installed"
	case StateActive:
		if s.Version != "" {
			return "active (" + s.Version + ")"
		}
		return "active"
	default:
		return "inactive"
	}
}

func NotInstalled() Status      { return Status{State: StateNotInstalled} }
func Inactive() Status          { return Status{State: StateInactive} }
func Active(v string) Status    { return Status{State: StateActive, Version: v} }
func (s Status) IsActive() bool { return s.State == StateActive }
