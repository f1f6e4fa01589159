package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// ErrSyncRunning 表示已有同步在执行，触发请求被拒绝（不排队）。
var ErrSyncRunning = errors.New("sync already in progress")

const (
	stateIdle    = "idle"
	stateRunning = "running"
)

// RunState 是同步流程的进程内状态机，只有 idle / running 两个状态。
//
// 同一时刻最多一次同步；running 期间再触发直接失败，由上层映射成 409。
type RunState struct {
	mu        sync.Mutex
	machine   *fsm.FSM
	startedAt time.Time
	lastMsg   string
}

// NewRunState 创建空闲状态的状态机。
func NewRunState() *RunState {
	r := &RunState{lastMsg: "Never run"}
	r.machine = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: "start", Src: []string{stateIdle}, Dst: stateRunning},
			{Name: "finish", Src: []string{stateRunning}, Dst: stateIdle},
		},
		fsm.Callbacks{},
	)
	return r
}

// Begin 尝试进入 running 状态，已在运行时返回 ErrSyncRunning。
func (r *RunState) Begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.machine.Event(context.Background(), "start"); err != nil {
		return ErrSyncRunning
	}
	r.startedAt = time.Now().UTC()
	r.lastMsg = "Running..."
	return nil
}

// Finish 回到 idle 并记录本次结果摘要。
func (r *RunState) Finish(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.machine.Event(context.Background(), "finish")
	r.lastMsg = msg
}

// Status 是对外暴露的运行状态快照。
type Status struct {
	Running     bool       `json:"running"`
	StartedAt   *time.Time `json:"started_at"`
	LastMessage string     `json:"last_message"`
}

// Status 返回当前状态快照。
func (r *RunState) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Running:     r.machine.Current() == stateRunning,
		LastMessage: r.lastMsg,
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		st.StartedAt = &t
	}
	return st
}
