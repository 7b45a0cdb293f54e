package delta

import (
	"encoding/json"
	"fmt"
)

// Order side / type / state string constants used on the wire.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeLimit  = "limit_order"
	OrderTypeMarket = "market_order"

	StopOrderTypeStopLoss = "stop_loss_order"

	TriggerLastTraded = "last_traded_price"

	OrderStateOpen    = "open"
	OrderStatePending = "pending"
	OrderStateClosed  = "closed"
)

// OrderRequest is the payload for POST /v2/orders.
// Delta expects prices and several flags as strings.
type OrderRequest struct {
	ProductID         int    `json:"product_id,omitempty"`
	ProductSymbol     string `json:"product_symbol,omitempty"`
	Size              int    `json:"size"`
	Side              string `json:"side"`
	OrderType         string `json:"order_type"`
	LimitPrice        string `json:"limit_price,omitempty"`
	StopOrderType     string `json:"stop_order_type,omitempty"`
	StopPrice         string `json:"stop_price,omitempty"`
	StopTriggerMethod string `json:"stop_trigger_method,omitempty"`
	TimeInForce       string `json:"time_in_force,omitempty"`
	ReduceOnly        string `json:"reduce_only,omitempty"`
	MMP               string `json:"mmp,omitempty"`
	ClientOrderID     string `json:"client_order_id,omitempty"`
}

// Order is the exchange order representation returned by order endpoints.
type Order struct {
	ID               int64   `json:"id"`
	ProductID        int     `json:"product_id"`
	ProductSymbol    string  `json:"product_symbol"`
	Side             string  `json:"side"`
	Size             int     `json:"size"`
	UnfilledSize     int     `json:"unfilled_size"`
	OrderType        string  `json:"order_type"`
	LimitPrice       string  `json:"limit_price"`
	StopPrice        string  `json:"stop_price"`
	State            string  `json:"state"`
	AverageFillPrice *string `json:"average_fill_price"`
	ClientOrderID    string  `json:"client_order_id"`
	CreatedAt        string  `json:"created_at"`
}

// BracketLeg is a stop-loss or take-profit leg of a bracket order.
type BracketLeg struct {
	OrderType  string `json:"order_type"`
	StopPrice  string `json:"stop_price"`
	LimitPrice string `json:"limit_price,omitempty"`
}

// BracketOrderRequest is the payload for POST /v2/orders/bracket.
type BracketOrderRequest struct {
	ProductID                int         `json:"product_id,omitempty"`
	ProductSymbol            string      `json:"product_symbol,omitempty"`
	StopLossOrder            *BracketLeg `json:"stop_loss_order,omitempty"`
	TakeProfitOrder          *BracketLeg `json:"take_profit_order,omitempty"`
	BracketStopTriggerMethod string      `json:"bracket_stop_trigger_method,omitempty"`
}

// Position is the single-product position view from GET /v2/positions.
type Position struct {
	Size       float64 `json:"size"`
	EntryPrice string  `json:"entry_price"`
}

// MarginedPosition is a row from GET /v2/positions/margined.
type MarginedPosition struct {
	ProductID        int     `json:"product_id"`
	ProductSymbol    string  `json:"product_symbol"`
	Size             float64 `json:"size"`
	EntryPrice       string  `json:"entry_price"`
	Margin           string  `json:"margin"`
	LiquidationPrice string  `json:"liquidation_price"`
	RealizedPnL      string  `json:"realized_pnl"`
	UnrealizedPnL    string  `json:"unrealized_pnl"`
}

// Ticker is the GET /v2/tickers/{symbol} view.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Close     float64 `json:"close"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Open      float64 `json:"open"`
	Volume    float64 `json:"volume"`
	MarkPrice string  `json:"mark_price"`
	SpotPrice string  `json:"spot_price"`
}

// Product is the GET /v2/products/{symbol} view (subset).
type Product struct {
	ID               int             `json:"id"`
	Symbol           string          `json:"symbol"`
	ContractType     string          `json:"contract_type"`
	TickSize         string          `json:"tick_size"`
	ContractValue    string          `json:"contract_value"`
	State            string          `json:"state"`
	UnderlyingAsset  json.RawMessage `json:"underlying_asset,omitempty"`
	QuotingAsset     json.RawMessage `json:"quoting_asset,omitempty"`
	SettlementTime   string          `json:"settlement_time,omitempty"`
	MaxLeverageLimit string          `json:"max_leverage_notional,omitempty"`
}

// Fill is a trade fill row from GET /v2/fills.
type Fill struct {
	ID            int64  `json:"id"`
	ProductID     int    `json:"product_id"`
	ProductSymbol string `json:"product_symbol"`
	OrderID       int64  `json:"order_id"`
	Side          string `json:"side"`
	Size          int    `json:"size"`
	Price         string `json:"price"`
	Role          string `json:"role"`
	Commission    string `json:"commission"`
	CreatedAt     string `json:"created_at"`
}

// PageQuery controls cursor pagination on history endpoints.
type PageQuery struct {
	PageSize int
	After    string
}

// APIError is an exchange rejection (HTTP error with a structured body).
type APIError struct {
	HTTPStatus int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("delta: %s (status %d)", e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("delta: status %d: %s", e.HTTPStatus, e.Body)
}

// envelope is the common Delta response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    string          `json:"code"`
		Context json.RawMessage `json:"context"`
	} `json:"error"`
	Meta *struct {
		After  string `json:"after"`
		Before string `json:"before"`
	} `json:"meta"`
}
