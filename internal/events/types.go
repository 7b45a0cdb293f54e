package events

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventOrderPlaced    Event = "order.placed"
	EventOrderRejected  Event = "order.rejected"
	EventBracketOutcome Event = "order.bracket_outcome"
	EventStrategyStatus Event = "strategy.status"
	EventPriceTick      Event = "price_tick"
)

// OrderPlaced is published after every placement attempt, successful or not.
type OrderPlaced struct {
	OrderID       string `json:"order_id,omitempty"`
	ProductSymbol string `json:"product_symbol,omitempty"`
	ProductID     int    `json:"product_id,omitempty"`
	Side          string `json:"side"`
	Success       bool   `json:"success"`
	BracketStatus string `json:"bracket_status,omitempty"`
	Error         string `json:"error,omitempty"`
}

// StrategyStatus is published on every strategy lifecycle transition.
type StrategyStatus struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Symbol string         `json:"symbol"`
	Status string         `json:"status"`
	State  map[string]any `json:"state,omitempty"`
}
