package syncer

import (
	"errors"
	"testing"
)

func TestRunState_OverlapRejected(t *testing.T) {
	rs := NewRunState()

	if err := rs.Begin(); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if err := rs.Begin(); !errors.Is(err, ErrSyncRunning) {
		t.Fatalf("expected ErrSyncRunning, got %v", err)
	}

	st := rs.Status()
	if !st.Running {
		t.Fatalf("expected running status")
	}
	if st.StartedAt == nil {
		t.Fatalf("expected started_at to be set")
	}
	if st.LastMessage != "Running..." {
		t.Fatalf("unexpected message: %q", st.LastMessage)
	}
}

func TestRunState_FinishReturnsToIdle(t *testing.T) {
	rs := NewRunState()

	st := rs.Status()
	if st.Running {
		t.Fatalf("expected idle before first run")
	}
	if st.LastMessage != "Never run" {
		t.Fatalf("unexpected initial message: %q", st.LastMessage)
	}

	if err := rs.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	rs.Finish("Synced 42 vehicles")

	st = rs.Status()
	if st.Running {
		t.Fatalf("expected idle after finish")
	}
	if st.LastMessage != "Synced 42 vehicles" {
		t.Fatalf("unexpected message: %q", st.LastMessage)
	}

	// 回到 idle 后可以再次启动
	if err := rs.Begin(); err != nil {
		t.Fatalf("begin after finish: %v", err)
	}
}

func TestRunState_FinishWithoutBegin(t *testing.T) {
	rs := NewRunState()
	rs.Finish("noop")

	if rs.Status().Running {
		t.Fatalf("expected idle")
	}
}
