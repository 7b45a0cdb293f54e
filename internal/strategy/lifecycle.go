package strategy

import (
	"sync"
	"time"
)

// lifecycle tracks the status fields common to every strategy instance.
// start_time and stop_time are set exactly once, on the first transition
// into RUNNING and STOPPED respectively.
type lifecycle struct {
	mu           sync.Mutex
	status       Status
	errMsg       string
	startTime    time.Time
	stopTime     time.Time
	onTransition func(st Status, errMsg string)
}

func (l *lifecycle) setStatus(st Status, errMsg string) {
	l.mu.Lock()
	l.status = st
	if errMsg != "" {
		l.errMsg = errMsg
	}
	now := time.Now()
	if st == StatusRunning && l.startTime.IsZero() {
		l.startTime = now
	}
	if (st == StatusStopped || st == StatusCompleted) && l.stopTime.IsZero() {
		l.stopTime = now
	}
	cb := l.onTransition
	l.mu.Unlock()

	if cb != nil {
		cb(st, errMsg)
	}
}

func (l *lifecycle) currentStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// times returns start/stop timestamps, nil while unset.
func (l *lifecycle) times() (start, stop *time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.startTime.IsZero() {
		t := l.startTime
		start = &t
	}
	if !l.stopTime.IsZero() {
		t := l.stopTime
		stop = &t
	}
	return start, stop
}

func (l *lifecycle) errorMessage() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errMsg
}
