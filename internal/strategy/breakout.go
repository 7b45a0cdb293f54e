package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"delta-core/internal/events"
	"delta-core/internal/trading"
	"delta-core/pkg/delta"
)

// stopJoinTimeout bounds how long Stop waits for the worker to acknowledge
// cancellation before returning anyway.
const stopJoinTimeout = 5 * time.Second

// timeframeMinutes maps a candle timeframe to its period length.
var timeframeMinutes = map[string]int{
	"1m": 1, "3m": 3, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "2h": 120, "4h": 240, "6h": 360,
	"1d": 1440, "1w": 10080,
}

// Config carries the immutable parameters of one strategy instance,
// snapshotted at start time. Credentials live only as long as the instance.
type Config struct {
	Symbol                 string  `json:"symbol"`
	ProductID              int     `json:"product_id"`
	OrderSize              int     `json:"order_size"`
	MaxPositionSize        int     `json:"max_position_size,omitempty"`
	Timeframe              string  `json:"timeframe"`
	StopLossPoints         float64 `json:"stop_loss_points"`
	TakeProfitPoints       float64 `json:"take_profit_points"`
	BreakevenTriggerPoints float64 `json:"breakeven_trigger_points,omitempty"`
	PositionCheckInterval  int     `json:"position_check_interval,omitempty"` // seconds
	OrderCheckInterval     int     `json:"order_check_interval,omitempty"`    // seconds

	Credentials trading.Credentials `json:"-"`
}

// MarketGateway extends the trading gateway with the reads the breakout
// engine polls: ticker price and working-order state.
type MarketGateway interface {
	trading.Gateway
	GetTicker(ctx context.Context, symbol string) (*delta.Ticker, error)
	GetLiveOrders(ctx context.Context) ([]delta.Order, error)
}

// Deps bundles the collaborators a strategy instance is constructed with.
// OnTransition, when set, is invoked on every lifecycle change.
type Deps struct {
	Orders       *trading.Service
	NewGateway   func(trading.Credentials) MarketGateway
	Bus          *events.Bus
	OnTransition func(st Status, errMsg string)
}

func defaultMarketGateway(c trading.Credentials) MarketGateway {
	return delta.NewClient(c.BaseURL, c.APIKey, c.APISecret)
}

type positionSummary struct {
	Side       string
	EntryPrice float64
	Size       float64
}

// Breakout trades period-high/low breakouts. It polls the ticker on a fixed
// interval, tracks the previous period's high and low, and on a breakout
// places a stop-limit entry with bracket protection through the order
// placement service.
type Breakout struct {
	lifecycle

	id   string
	cfg  Config
	deps Deps
	gw   MarketGateway
	buf  *LogBuffer

	cancel context.CancelFunc
	done   chan struct{}

	// Live engine state, read by status snapshots while the worker mutates it.
	stateMu          sync.Mutex
	prevHigh         float64
	prevLow          float64
	curHigh          float64
	curLow           float64
	lastPrice        float64
	buyOrderID       string
	sellOrderID      string
	slOrderID        string
	tpOrderID        string
	position         *positionSummary
	breakevenApplied bool
	lastCancel       CancelOutcome
}

// NewBreakout validates config and builds an instance; it does not start the
// worker.
func NewBreakout(id string, cfg Config, deps Deps) (*Breakout, error) {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("breakout: symbol is required")
	}
	if cfg.ProductID <= 0 {
		return nil, fmt.Errorf("breakout: product_id is required")
	}
	if cfg.OrderSize <= 0 {
		return nil, fmt.Errorf("breakout: order_size must be positive")
	}
	if cfg.StopLossPoints <= 0 || cfg.TakeProfitPoints <= 0 {
		return nil, fmt.Errorf("breakout: stop_loss_points and take_profit_points must be positive")
	}
	if _, ok := timeframeMinutes[cfg.Timeframe]; !ok {
		return nil, fmt.Errorf("breakout: unknown timeframe %q", cfg.Timeframe)
	}
	if cfg.Credentials.APIKey == "" || cfg.Credentials.APISecret == "" {
		return nil, fmt.Errorf("breakout: api credentials are required")
	}
	if cfg.PositionCheckInterval <= 0 {
		cfg.PositionCheckInterval = 5
	}
	if cfg.OrderCheckInterval <= 0 {
		cfg.OrderCheckInterval = 10
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("breakout: order service is required")
	}
	if deps.NewGateway == nil {
		deps.NewGateway = defaultMarketGateway
	}

	b := &Breakout{
		id:   id,
		cfg:  cfg,
		deps: deps,
		gw:   deps.NewGateway(cfg.Credentials),
		buf:  NewLogBuffer(fmt.Sprintf("[strategy %s]", shortID(id))),
	}
	b.lifecycle.status = StatusStopped
	b.lifecycle.onTransition = deps.OnTransition
	return b, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (b *Breakout) ID() string   { return b.id }
func (b *Breakout) Type() string { return TypeBreakout }

// Start launches the supervising worker. Starting a running instance is an
// error; stopped instances are never resurrected (the manager creates a new
// one instead).
func (b *Breakout) Start() error {
	if b.currentStatus() == StatusRunning {
		return fmt.Errorf("strategy %s is already running", b.id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.setStatus(StatusRunning, "")
	go b.run(ctx)
	b.buf.Printf("breakout started: symbol=%s product_id=%d timeframe=%s size=%d",
		b.cfg.Symbol, b.cfg.ProductID, b.cfg.Timeframe, b.cfg.OrderSize)
	return nil
}

// Stop signals cooperative cancellation, cancels working orders best-effort
// and waits up to stopJoinTimeout for the worker to acknowledge. It returns
// true even if the worker is slow to exit; the flag is already set and the
// worker observes it on its next iteration.
func (b *Breakout) Stop() bool {
	if b.currentStatus() == StatusStopped && b.cancel == nil {
		return true
	}
	if b.cancel != nil {
		b.cancel()
	}

	out := b.cancelWorkingOrders()
	b.stateMu.Lock()
	b.lastCancel = out
	b.stateMu.Unlock()

	if b.done != nil {
		select {
		case <-b.done:
		case <-time.After(stopJoinTimeout):
			b.buf.Printf("worker did not acknowledge stop within %s, continuing shutdown", stopJoinTimeout)
		}
	}
	b.setStatus(StatusStopped, "")
	return true
}

// cancelWorkingOrders is attempt-and-log: failure never blocks the stop path.
func (b *Breakout) cancelWorkingOrders() CancelOutcome {
	if b.cfg.ProductID <= 0 {
		return CancelSkipped
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.gw.CancelAllOrders(ctx, b.cfg.ProductID); err != nil {
		b.buf.Printf("cancel working orders failed: %v", err)
		return CancelFailed
	}
	b.buf.Printf("cancelled all working orders for product %d", b.cfg.ProductID)
	return CancelOK
}

func (b *Breakout) run(ctx context.Context) {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			b.buf.Printf("fatal: %v", r)
			b.setStatus(StatusError, fmt.Sprint(r))
		}
	}()

	tick := time.NewTicker(time.Duration(b.cfg.PositionCheckInterval) * time.Second)
	defer tick.Stop()
	orderTick := time.NewTicker(time.Duration(b.cfg.OrderCheckInterval) * time.Second)
	defer orderTick.Stop()
	period := time.NewTicker(time.Duration(timeframeMinutes[b.cfg.Timeframe]) * time.Minute)
	defer period.Stop()

	for {
		select {
		case <-ctx.Done():
			if b.currentStatus() == StatusRunning {
				b.setStatus(StatusStopped, "")
			}
			return
		case <-period.C:
			b.rotatePeriod()
		case <-orderTick.C:
			if err := b.checkWorkingOrders(ctx); err != nil {
				b.buf.Printf("order check error: %v", err)
			}
		case <-tick.C:
			if err := b.step(ctx); err != nil {
				// Transient exchange errors: log and keep looping.
				b.buf.Printf("step error: %v", err)
			}
		}
	}
}

// checkWorkingOrders reconciles the recorded bracket leg ids against the
// exchange's live orders. A leg that disappeared (filled or cancelled outside
// this process) is logged and cleared so the snapshot stops advertising it.
func (b *Breakout) checkWorkingOrders(ctx context.Context) error {
	b.stateMu.Lock()
	slID, tpID := b.slOrderID, b.tpOrderID
	b.stateMu.Unlock()
	if slID == "" && tpID == "" {
		return nil
	}

	orders, err := b.gw.GetLiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("live orders: %w", err)
	}
	live := make(map[string]bool, len(orders))
	for _, o := range orders {
		live[strconv.FormatInt(o.ID, 10)] = true
	}

	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if slID != "" && !live[slID] {
		b.buf.Printf("stop-loss order %s is no longer working", slID)
		b.slOrderID = ""
	}
	if tpID != "" && !live[tpID] {
		b.buf.Printf("take-profit order %s is no longer working", tpID)
		b.tpOrderID = ""
	}
	return nil
}

// rotatePeriod closes the current candle: its high/low become the breakout
// levels for the new period.
func (b *Breakout) rotatePeriod() {
	b.stateMu.Lock()
	b.prevHigh = b.curHigh
	b.prevLow = b.curLow
	b.curHigh = b.lastPrice
	b.curLow = b.lastPrice
	high, low := b.prevHigh, b.prevLow
	b.stateMu.Unlock()
	b.buf.Printf("period rotated: breakout levels high=%.2f low=%.2f", high, low)
}

func (b *Breakout) step(ctx context.Context) error {
	t, err := b.gw.GetTicker(ctx, b.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("ticker %s: %w", b.cfg.Symbol, err)
	}
	price := t.Close
	if price <= 0 {
		return nil
	}

	b.stateMu.Lock()
	b.lastPrice = price
	if b.curHigh == 0 || price > b.curHigh {
		b.curHigh = price
	}
	if b.curLow == 0 || price < b.curLow {
		b.curLow = price
	}
	prevHigh, prevLow := b.prevHigh, b.prevLow
	inPosition := b.position != nil
	b.stateMu.Unlock()

	if b.deps.Bus != nil {
		b.deps.Bus.Publish(events.EventPriceTick, map[string]any{
			"symbol": b.cfg.Symbol,
			"price":  price,
		})
	}

	if inPosition {
		return b.managePosition(ctx, price)
	}
	switch {
	case prevHigh > 0 && price > prevHigh:
		return b.enter(ctx, delta.SideBuy, prevHigh)
	case prevLow > 0 && price < prevLow:
		return b.enter(ctx, delta.SideSell, prevLow)
	}
	return nil
}

// enter places the breakout entry with bracket protection at the crossed
// level. An exchange rejection is logged, not fatal to the loop.
func (b *Breakout) enter(ctx context.Context, side string, level float64) error {
	size := b.cfg.OrderSize
	if b.cfg.MaxPositionSize > 0 && size > b.cfg.MaxPositionSize {
		size = b.cfg.MaxPositionSize
	}

	var sl, tp float64
	if side == delta.SideBuy {
		sl = level - b.cfg.StopLossPoints
		tp = level + b.cfg.TakeProfitPoints
	} else {
		sl = level + b.cfg.StopLossPoints
		tp = level - b.cfg.TakeProfitPoints
	}

	b.buf.Printf("breakout %s: entering at %.2f (SL=%.2f TP=%.2f size=%d)", side, level, sl, tp, size)
	res := b.deps.Orders.PlaceLimitOrderAndWait(ctx, b.cfg.Credentials, trading.OrderParams{
		EntryPrice:      level,
		Size:            size,
		Side:            side,
		StopLossPrice:   sl,
		TakeProfitPrice: tp,
		ProductID:       b.cfg.ProductID,
		ClientOrderID:   "breakout-" + shortID(b.id),
	})
	if !res.Success {
		b.buf.Printf("entry rejected: %s", res.Error)
		return nil
	}

	slID, tpID := bracketOrderIDs(res.OrderData)
	b.stateMu.Lock()
	if side == delta.SideBuy {
		b.buyOrderID = res.OrderID
	} else {
		b.sellOrderID = res.OrderID
	}
	b.slOrderID = slID
	b.tpOrderID = tpID
	b.position = &positionSummary{Side: side, EntryPrice: level, Size: float64(size)}
	b.breakevenApplied = false
	b.stateMu.Unlock()

	if res.Error != "" {
		b.buf.Printf("entry live but bracket attachment failed: %s", res.Error)
	} else {
		b.buf.Printf("entry placed: order_id=%s", res.OrderID)
	}
	return nil
}

func (b *Breakout) managePosition(ctx context.Context, price float64) error {
	b.stateMu.Lock()
	pos := *b.position
	applied := b.breakevenApplied
	b.stateMu.Unlock()

	// Detect closure (SL/TP hit or manual flat).
	p, err := b.gw.GetPosition(ctx, b.cfg.ProductID)
	if err != nil {
		return fmt.Errorf("position check: %w", err)
	}
	if p == nil || p.Size == 0 {
		b.buf.Printf("position closed at %.2f", price)
		b.stateMu.Lock()
		b.position = nil
		b.buyOrderID, b.sellOrderID = "", ""
		b.slOrderID, b.tpOrderID = "", ""
		b.breakevenApplied = false
		b.stateMu.Unlock()
		return nil
	}

	if applied || b.cfg.BreakevenTriggerPoints <= 0 {
		return nil
	}
	triggered := (pos.Side == delta.SideBuy && price >= pos.EntryPrice+b.cfg.BreakevenTriggerPoints) ||
		(pos.Side == delta.SideSell && price <= pos.EntryPrice-b.cfg.BreakevenTriggerPoints)
	if !triggered {
		return nil
	}
	b.applyBreakeven(ctx, pos)
	return nil
}

// applyBreakeven moves the stop-loss to the entry price once price has moved
// the trigger distance in favor. One-shot per position, even on failure, so a
// failing exchange is not hammered every tick.
func (b *Breakout) applyBreakeven(ctx context.Context, pos positionSummary) {
	b.stateMu.Lock()
	b.breakevenApplied = true
	b.stateMu.Unlock()

	entry := strconv.FormatFloat(pos.EntryPrice, 'f', -1, 64)
	_, err := b.gw.CreateBracketOrder(ctx, delta.BracketOrderRequest{
		ProductID: b.cfg.ProductID,
		StopLossOrder: &delta.BracketLeg{
			OrderType:  delta.OrderTypeLimit,
			StopPrice:  entry,
			LimitPrice: entry,
		},
		BracketStopTriggerMethod: delta.TriggerLastTraded,
	})
	if err != nil {
		b.buf.Printf("breakeven stop move failed: %v", err)
		return
	}
	b.buf.Printf("breakeven applied: stop-loss moved to entry %.2f", pos.EntryPrice)
}

// bracketOrderIDs pulls the leg order ids out of the raw bracket result.
func bracketOrderIDs(orderData map[string]any) (slID, tpID string) {
	raw, ok := orderData["bracket_order"].(json.RawMessage)
	if !ok {
		return "", ""
	}
	var legs struct {
		StopLossOrder struct {
			ID int64 `json:"id"`
		} `json:"stop_loss_order"`
		TakeProfitOrder struct {
			ID int64 `json:"id"`
		} `json:"take_profit_order"`
	}
	if err := json.Unmarshal(raw, &legs); err != nil {
		return "", ""
	}
	if legs.StopLossOrder.ID != 0 {
		slID = strconv.FormatInt(legs.StopLossOrder.ID, 10)
	}
	if legs.TakeProfitOrder.ID != 0 {
		tpID = strconv.FormatInt(legs.TakeProfitOrder.ID, 10)
	}
	return slID, tpID
}

// Status returns a lock-protected snapshot; no live references leak out.
func (b *Breakout) Status() StatusInfo {
	start, stop := b.times()
	info := StatusInfo{
		StrategyID:   b.id,
		StrategyType: TypeBreakout,
		Symbol:       b.cfg.Symbol,
		Timeframe:    b.cfg.Timeframe,
		Status:       b.currentStatus(),
		StartTime:    start,
		StopTime:     stop,
		ErrorMessage: b.errorMessage(),
	}

	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	state := map[string]any{
		"prev_period_high":     b.prevHigh,
		"prev_period_low":      b.prevLow,
		"last_price":           b.lastPrice,
		"buy_order_id":         b.buyOrderID,
		"sell_order_id":        b.sellOrderID,
		"stop_loss_order_id":   b.slOrderID,
		"take_profit_order_id": b.tpOrderID,
		"breakeven_applied":    b.breakevenApplied,
	}
	if b.position != nil {
		state["active_position"] = map[string]any{
			"side":        b.position.Side,
			"entry_price": b.position.EntryPrice,
			"size":        b.position.Size,
		}
	}
	if b.lastCancel != "" {
		state["cancel_outcome"] = string(b.lastCancel)
	}
	info.State = state
	return info
}

// Logs returns the most recent limit lines from the capture buffer.
func (b *Breakout) Logs(limit int) string {
	return b.buf.Tail(limit)
}
