package strategy

import "time"

// Status is the lifecycle state of one strategy instance.
type Status string

const (
	StatusStopped   Status = "stopped"
	StatusRunning   Status = "running"
	StatusError     Status = "error"
	StatusCompleted Status = "completed"
)

// TypeBreakout is the built-in period-high/low breakout strategy.
const TypeBreakout = "breakout"

// StatusInfo is a point-in-time snapshot of one instance. It carries no live
// references; readers cannot disturb the running engine.
type StatusInfo struct {
	StrategyID   string         `json:"strategy_id"`
	StrategyType string         `json:"strategy_type"`
	Symbol       string         `json:"symbol"`
	Timeframe    string         `json:"timeframe"`
	Status       Status         `json:"status"`
	StartTime    *time.Time     `json:"start_time,omitempty"`
	StopTime     *time.Time     `json:"stop_time,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	State        map[string]any `json:"state,omitempty"`
}

// Runner is one supervised strategy instance. Start launches the background
// worker; Stop is cooperative and bounded. Both are idempotent in the
// direction of their target state.
type Runner interface {
	ID() string
	Type() string
	Start() error
	Stop() bool
	Status() StatusInfo
	Logs(limit int) string
}

// CancelOutcome reports the best-effort order cancellation attempted while
// stopping an instance. Failures are logged, never propagated.
type CancelOutcome string

const (
	CancelOK      CancelOutcome = "ok"
	CancelFailed  CancelOutcome = "failed"
	CancelSkipped CancelOutcome = "skipped"
)
