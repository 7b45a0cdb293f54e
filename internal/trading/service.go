package trading

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"delta-core/internal/events"
	"delta-core/pkg/db"
	"delta-core/pkg/delta"
)

// retryBudget bounds how long bracket attachment may poll for a position.
type retryBudget struct {
	MaxRetries int
	Delay      time.Duration
}

var (
	// budgetExecuted applies when the entry order filled immediately; the
	// position should appear within a few hundred milliseconds.
	budgetExecuted = retryBudget{MaxRetries: 10, Delay: 500 * time.Millisecond}

	// budgetResting applies when the entry order is waiting for price. The
	// position may take up to the caller's wait window to materialize.
	budgetResting = retryBudget{MaxRetries: 60, Delay: time.Second}
)

// OrderParams is one stop-limit entry request with optional bracket prices.
// Exactly one of ProductID, ProductSymbol or Symbol must identify the
// instrument.
type OrderParams struct {
	EntryPrice      float64
	Size            int
	Side            string
	StopLossPrice   float64 // 0 means not requested
	TakeProfitPrice float64 // 0 means not requested
	ClientOrderID   string
	ProductID       int
	ProductSymbol   string
	Symbol          string

	// WaitTime bounds how long bracket attachment may poll for a resting
	// order's position. Zero means the default 60s window.
	WaitTime time.Duration
}

// Result is the caller-facing outcome of a placement request. Success refers
// to the entry order only; a failed bracket attachment is reported inside
// OrderData and in Error without flipping Success.
type Result struct {
	Success   bool           `json:"success"`
	OrderID   string         `json:"order_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	OrderData map[string]any `json:"order_data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Service drives entry-order placement and deferred bracket attachment
// against the exchange gateway.
type Service struct {
	newGateway func(Credentials) Gateway
	store      *db.Store
	bus        *events.Bus

	// sleep is injectable so tests can run the retry loop without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService builds the order placement service. store and bus may be nil
// (audit and event publication are then skipped).
func NewService(store *db.Store, bus *events.Bus) *Service {
	return &Service{
		newGateway: NewDeltaGateway,
		store:      store,
		bus:        bus,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PlaceLimitOrderAndWait submits a stop-limit entry order, then waits for the
// resulting position and attaches stop-loss/take-profit bracket orders.
//
// The entry order is a limit order with stop_price == limit_price ==
// EntryPrice: it rests until the market trades through the entry level, then
// executes as a limit at that price. Bracket attachment is best-effort and
// never converts a successful entry into an overall failure.
func (s *Service) PlaceLimitOrderAndWait(ctx context.Context, creds Credentials, p OrderParams) Result {
	if err := validateParams(creds, p); err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	inst, err := resolveInstrument(p)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	gw := s.newGateway(creds)

	req := delta.OrderRequest{
		ProductID:         inst.ProductID,
		ProductSymbol:     inst.ProductSymbol,
		Size:              p.Size,
		Side:              p.Side,
		OrderType:         delta.OrderTypeLimit,
		LimitPrice:        formatPrice(p.EntryPrice),
		StopPrice:         formatPrice(p.EntryPrice),
		StopOrderType:     delta.StopOrderTypeStopLoss,
		StopTriggerMethod: delta.TriggerLastTraded,
		TimeInForce:       "gtc",
		ReduceOnly:        "false",
		MMP:               "disabled",
		ClientOrderID:     p.ClientOrderID,
	}

	log.Printf("[trading] placing stop-limit entry: %s %d %s at %v (SL=%v TP=%v)",
		p.Side, p.Size, inst.describe(), p.EntryPrice, p.StopLossPrice, p.TakeProfitPrice)

	order, err := gw.CreateOrder(ctx, req)
	if err != nil {
		log.Printf("[trading] entry order rejected: %v", err)
		s.publish(events.EventOrderRejected, events.OrderPlaced{
			ProductSymbol: inst.ProductSymbol,
			ProductID:     inst.ProductID,
			Side:          p.Side,
			Success:       false,
			Error:         err.Error(),
		})
		return Result{Success: false, Error: err.Error()}
	}

	orderData := orderToMap(order)
	res := Result{
		Success:   true,
		OrderID:   strconv.FormatInt(order.ID, 10),
		Message:   "Entry order placed",
		OrderData: orderData,
	}

	// Immediate fill means the position already exists; otherwise the order
	// is resting and the position may take up to a minute to appear.
	executed := order.State == delta.OrderStateClosed && order.AverageFillPrice != nil

	bracketStatus := ""
	bracketErr := ""
	bracketNote := ""
	if p.StopLossPrice > 0 || p.TakeProfitPrice > 0 {
		budget := budgetResting
		if p.WaitTime > 0 {
			budget.MaxRetries = int(p.WaitTime / budget.Delay)
		}
		if executed {
			log.Printf("[trading] entry order executed immediately, attaching brackets")
			budget = budgetExecuted
		} else {
			log.Printf("[trading] entry order is %s, waiting for position before attaching brackets", orderState(order))
		}

		bracket, attachErr := s.attachBrackets(ctx, gw, inst, p.StopLossPrice, p.TakeProfitPrice, budget)
		if attachErr == "" {
			orderData["bracket_order"] = bracket
			bracketStatus = "attached"
		} else {
			log.Printf("[trading] bracket attachment failed: %s", attachErr)
			bracketNote = "Entry order is live but protection orders did not attach; retry or monitor manually"
			orderData["bracket_order_error"] = attachErr
			orderData["bracket_order_note"] = bracketNote
			res.Error = attachErr
			bracketStatus = "failed"
			bracketErr = attachErr
		}
		s.publish(events.EventBracketOutcome, events.OrderPlaced{
			OrderID:       res.OrderID,
			ProductSymbol: inst.ProductSymbol,
			ProductID:     inst.ProductID,
			Side:          p.Side,
			Success:       true,
			BracketStatus: bracketStatus,
			Error:         bracketErr,
		})
	}

	s.publish(events.EventOrderPlaced, events.OrderPlaced{
		OrderID:       res.OrderID,
		ProductSymbol: inst.ProductSymbol,
		ProductID:     inst.ProductID,
		Side:          p.Side,
		Success:       true,
		BracketStatus: bracketStatus,
	})
	s.audit(ctx, p, inst, res, bracketStatus, bracketErr, bracketNote)
	return res
}

// attachBrackets waits for a position on the instrument, then submits a
// single bracket order carrying the requested legs. The returned string is a
// human-readable error ("" on success); nothing is retried past the budget.
func (s *Service) attachBrackets(ctx context.Context, gw Gateway, inst instrument, slPrice, tpPrice float64, budget retryBudget) (json.RawMessage, string) {
	if inst.ProductID > 0 {
		found := false
		for attempt := 1; attempt <= budget.MaxRetries; attempt++ {
			pos, err := gw.GetPosition(ctx, inst.ProductID)
			if err == nil && pos != nil && pos.Size != 0 {
				log.Printf("[trading] position confirmed on attempt %d/%d (size=%v)", attempt, budget.MaxRetries, pos.Size)
				found = true
				break
			}
			if err != nil {
				// Position lookups fail while the position does not exist
				// yet; treat the same as size 0 and keep polling.
				log.Printf("[trading] position check error (attempt %d/%d): %v", attempt, budget.MaxRetries, err)
			} else if attempt%5 == 1 {
				log.Printf("[trading] waiting for position (attempt %d/%d)...", attempt, budget.MaxRetries)
			}
			if attempt < budget.MaxRetries {
				if err := s.sleep(ctx, budget.Delay); err != nil {
					return nil, fmt.Sprintf("cancelled while waiting for position: %v", err)
				}
			}
		}
		if !found {
			total := time.Duration(budget.MaxRetries) * budget.Delay
			return nil, fmt.Sprintf("Position not found after %d attempts (%gs). Bracket orders require an existing position.",
				budget.MaxRetries, total.Seconds())
		}
	} else {
		// Without a product id there is no position lookup; submit directly
		// and let the exchange reject if no position exists.
		log.Printf("[trading] no product_id available, attempting bracket order placement directly")
	}

	req := delta.BracketOrderRequest{
		ProductID:                inst.ProductID,
		ProductSymbol:            inst.ProductSymbol,
		BracketStopTriggerMethod: delta.TriggerLastTraded,
	}
	if slPrice > 0 {
		req.StopLossOrder = &delta.BracketLeg{
			OrderType:  delta.OrderTypeLimit,
			StopPrice:  formatPrice(slPrice),
			LimitPrice: formatPrice(slPrice),
		}
	}
	if tpPrice > 0 {
		req.TakeProfitOrder = &delta.BracketLeg{
			OrderType:  delta.OrderTypeLimit,
			StopPrice:  formatPrice(tpPrice),
			LimitPrice: formatPrice(tpPrice),
		}
	}

	log.Printf("[trading] placing bracket orders: SL=%v TP=%v", slPrice, tpPrice)
	bracket, err := gw.CreateBracketOrder(ctx, req)
	if err != nil {
		return nil, err.Error()
	}
	return bracket, ""
}

func validateParams(creds Credentials, p OrderParams) error {
	if creds.APIKey == "" || creds.APISecret == "" {
		return fmt.Errorf("api key and secret must be provided")
	}
	if p.Side != delta.SideBuy && p.Side != delta.SideSell {
		return fmt.Errorf("side must be %q or %q", delta.SideBuy, delta.SideSell)
	}
	if p.Size <= 0 {
		return fmt.Errorf("size must be a positive integer")
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("entry_price must be positive")
	}
	if p.StopLossPrice < 0 || p.TakeProfitPrice < 0 {
		return fmt.Errorf("stop_loss_price and take_profit_price must be positive when provided")
	}
	return nil
}

func orderState(o *delta.Order) string {
	if o == nil || o.State == "" {
		return delta.OrderStateOpen
	}
	return o.State
}

// orderToMap round-trips the order through JSON so the API response carries
// the exchange's field names verbatim.
func orderToMap(o *delta.Order) map[string]any {
	m := map[string]any{}
	raw, err := json.Marshal(o)
	if err != nil {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *Service) publish(e events.Event, payload events.OrderPlaced) {
	if s.bus != nil {
		s.bus.Publish(e, payload)
	}
}

// audit records the placement attempt; failures are logged, never surfaced.
func (s *Service) audit(ctx context.Context, p OrderParams, inst instrument, res Result, bracketStatus, bracketErr, bracketNote string) {
	if s.store == nil {
		return
	}
	rec := db.PlacedOrder{
		ID:              uuid.NewString(),
		ExchangeOrderID: res.OrderID,
		ProductID:       inst.ProductID,
		ProductSymbol:   inst.ProductSymbol,
		Side:            p.Side,
		Size:            float64(p.Size),
		EntryPrice:      p.EntryPrice,
		Success:         res.Success,
		BracketStatus:   bracketStatus,
		BracketError:    bracketErr,
		BracketNote:     bracketNote,
		Message:         res.Message,
	}
	if p.StopLossPrice > 0 {
		rec.StopLossPrice = sql.NullFloat64{Float64: p.StopLossPrice, Valid: true}
	}
	if p.TakeProfitPrice > 0 {
		rec.TakeProfitPrice = sql.NullFloat64{Float64: p.TakeProfitPrice, Valid: true}
	}
	if err := s.store.InsertPlacedOrder(ctx, rec); err != nil {
		log.Printf("[trading] audit write failed: %v", err)
	}
}

// WithGatewayFactory overrides gateway construction; used by tests and by the
// strategy engine to share one fake.
func (s *Service) WithGatewayFactory(f func(Credentials) Gateway) *Service {
	s.newGateway = f
	return s
}

// WithSleeper overrides the retry-loop sleeper; used by tests.
func (s *Service) WithSleeper(f func(ctx context.Context, d time.Duration) error) *Service {
	s.sleep = f
	return s
}

func (i instrument) describe() string {
	if i.ProductID > 0 {
		return fmt.Sprintf("product_id=%d", i.ProductID)
	}
	return fmt.Sprintf("product_symbol=%s", i.ProductSymbol)
}
