package strategy

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeRunner stands in for a real engine in manager tests.
type fakeRunner struct {
	lifecycle
	id         string
	startErr   error
	stopCalled int
	buf        *LogBuffer
}

func (f *fakeRunner) ID() string   { return f.id }
func (f *fakeRunner) Type() string { return "fake" }

func (f *fakeRunner) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.setStatus(StatusRunning, "")
	return nil
}

func (f *fakeRunner) Stop() bool {
	f.stopCalled++
	f.setStatus(StatusStopped, "")
	return true
}

func (f *fakeRunner) Status() StatusInfo {
	start, stop := f.times()
	return StatusInfo{
		StrategyID:   f.id,
		StrategyType: "fake",
		Status:       f.currentStatus(),
		StartTime:    start,
		StopTime:     stop,
		ErrorMessage: f.errorMessage(),
	}
}

func (f *fakeRunner) Logs(limit int) string { return f.buf.Tail(limit) }

func registerFakeFactory(t *testing.T, startErr error) {
	t.Helper()
	RegisterFactory("fake", func(id string, _ Config, deps Deps) (Runner, error) {
		r := &fakeRunner{id: id, startErr: startErr, buf: NewLogBuffer("[fake]")}
		r.lifecycle.status = StatusStopped
		r.lifecycle.onTransition = deps.OnTransition
		return r, nil
	})
}

func TestStartUnknownTypeLeavesRegistryEmpty(t *testing.T) {
	m := NewManager(Deps{}, nil, nil)

	_, err := m.Start("martingale", Config{})
	if err == nil || !strings.Contains(err.Error(), "unknown strategy type") {
		t.Fatalf("expected unknown-type error, got %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("registry must stay empty, has %d entries", m.Count())
	}
}

func TestFailedStartIsNotRegistered(t *testing.T) {
	registerFakeFactory(t, errors.New("no credentials"))
	m := NewManager(Deps{}, nil, nil)

	_, err := m.Start("fake", Config{})
	if err == nil {
		t.Fatal("expected start failure")
	}
	if m.Count() != 0 {
		t.Errorf("failed start must not register the instance, got %d", m.Count())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	registerFakeFactory(t, nil)
	m := NewManager(Deps{}, nil, nil)

	id, err := m.Start("fake", Config{Symbol: "BTCUSD"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	info := m.Status(id)
	if info == nil || info.Status != StatusRunning {
		t.Fatalf("expected running status, got %+v", info)
	}
	if info.StartTime == nil {
		t.Fatal("start_time must be set on transition into running")
	}
	if info.StopTime != nil {
		t.Fatal("stop_time must be unset while running")
	}

	if !m.Stop(id) {
		t.Fatal("stop returned false for a known id")
	}
	stopped := m.Status(id)
	if stopped.Status != StatusStopped {
		t.Errorf("expected stopped, got %s", stopped.Status)
	}
	if stopped.StopTime == nil {
		t.Fatal("stop_time must be set on transition into stopped")
	}

	// Both timestamps are set exactly once; a second stop must not move them.
	firstStart, firstStop := *stopped.StartTime, *stopped.StopTime
	time.Sleep(5 * time.Millisecond)
	m.Stop(id)
	again := m.Status(id)
	if !again.StartTime.Equal(firstStart) || !again.StopTime.Equal(firstStop) {
		t.Error("start_time/stop_time changed on repeated stop")
	}
}

func TestStopUnknownIDReturnsFalse(t *testing.T) {
	m := NewManager(Deps{}, nil, nil)
	if m.Stop("no-such-id") {
		t.Error("stop of unknown id must return false")
	}
}

func TestStoppedInstanceRemainsQueryable(t *testing.T) {
	registerFakeFactory(t, nil)
	m := NewManager(Deps{}, nil, nil)

	id, err := m.Start("fake", Config{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	m.Stop(id)

	if m.Status(id) == nil {
		t.Error("stopped instance must stay in the registry for status queries")
	}
	if _, ok := m.Logs(id, 10); !ok {
		t.Error("stopped instance must stay queryable for logs")
	}
}

func TestRemoveStopsRunningInstanceFirst(t *testing.T) {
	registerFakeFactory(t, nil)
	m := NewManager(Deps{}, nil, nil)

	id, err := m.Start("fake", Config{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if !m.Remove(id) {
		t.Fatal("remove returned false for a known id")
	}
	if m.Count() != 0 {
		t.Errorf("expected empty registry after remove, got %d", m.Count())
	}
	if m.Status(id) != nil {
		t.Error("removed instance must not be queryable")
	}
	if m.Remove(id) {
		t.Error("second remove must return false")
	}
}

func TestListReturnsAllInstances(t *testing.T) {
	registerFakeFactory(t, nil)
	m := NewManager(Deps{}, nil, nil)

	id1, _ := m.Start("fake", Config{})
	id2, _ := m.Start("fake", Config{})

	infos := m.List()
	if len(infos) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(infos))
	}
	seen := map[string]bool{infos[0].StrategyID: true, infos[1].StrategyID: true}
	if !seen[id1] || !seen[id2] {
		t.Errorf("list missing started instances: %+v", infos)
	}
}

func TestLogBufferIsBoundedAndTailed(t *testing.T) {
	buf := NewLogBuffer("[test]")
	for i := 0; i < defaultLogLines+50; i++ {
		buf.Printf("line %d", i)
	}
	if buf.Len() != defaultLogLines {
		t.Errorf("expected buffer capped at %d lines, got %d", defaultLogLines, buf.Len())
	}

	tail := buf.Tail(2)
	lines := strings.Split(tail, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 tail lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "line 549") {
		t.Errorf("unexpected last line: %q", lines[1])
	}
}
