// Package account serves authenticated read views of exchange state:
// positions, PnL aggregates, order history and fills. Every read goes live to
// the exchange with the caller's own credentials; nothing is cached.
package account

import (
	"context"
	"fmt"
	"strconv"

	"delta-core/internal/trading"
	"delta-core/pkg/delta"
)

// Reader is the exchange read surface the account services depend on.
// *delta.Client satisfies it.
type Reader interface {
	GetAllPositions(ctx context.Context) ([]delta.MarginedPosition, error)
	GetOrderHistory(ctx context.Context, page delta.PageQuery) ([]delta.Order, string, error)
	GetFills(ctx context.Context, page delta.PageQuery) ([]delta.Fill, string, error)
	GetLiveOrders(ctx context.Context) ([]delta.Order, error)
}

// PnLSummary aggregates realized and unrealized PnL across all positions.
type PnLSummary struct {
	TotalPnL           float64        `json:"total_pnl"`
	TotalRealizedPnL   float64        `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64        `json:"total_unrealized_pnl"`
	PositionCount      int            `json:"position_count"`
	BySymbol           []SymbolPnL    `json:"pnl_by_symbol,omitempty"`
}

// SymbolPnL is the per-contract PnL breakdown.
type SymbolPnL struct {
	Symbol        string  `json:"symbol"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	PositionCount int     `json:"position_count"`
}

// OrderPage is one page of order history with its continuation cursor.
type OrderPage struct {
	Orders []delta.Order `json:"result"`
	After  string        `json:"after,omitempty"`
}

// FillPage is one page of trade fills with its continuation cursor.
type FillPage struct {
	Fills []delta.Fill `json:"result"`
	After string       `json:"after,omitempty"`
}

// Service builds a fresh exchange reader per call from the request's own
// credentials.
type Service struct {
	newReader func(trading.Credentials) Reader
}

// NewService creates the account read service.
func NewService() *Service {
	return &Service{
		newReader: func(c trading.Credentials) Reader {
			return delta.NewClient(c.BaseURL, c.APIKey, c.APISecret)
		},
	}
}

// WithReaderFactory overrides reader construction; used by tests.
func (s *Service) WithReaderFactory(f func(trading.Credentials) Reader) *Service {
	s.newReader = f
	return s
}

func validate(creds trading.Credentials) error {
	if creds.APIKey == "" || creds.APISecret == "" {
		return fmt.Errorf("api key and secret must be provided")
	}
	return nil
}

// Positions returns all open margined positions.
func (s *Service) Positions(ctx context.Context, creds trading.Credentials) ([]delta.MarginedPosition, error) {
	if err := validate(creds); err != nil {
		return nil, err
	}
	return s.newReader(creds).GetAllPositions(ctx)
}

// PnL computes the PnL summary, including the per-symbol breakdown, from the
// caller's open positions.
func (s *Service) PnL(ctx context.Context, creds trading.Credentials) (*PnLSummary, error) {
	positions, err := s.Positions(ctx, creds)
	if err != nil {
		return nil, err
	}

	summary := &PnLSummary{PositionCount: len(positions)}
	bySymbol := map[string]*SymbolPnL{}
	order := []string{}

	for _, p := range positions {
		realized := parseDecimal(p.RealizedPnL)
		unrealized := parseDecimal(p.UnrealizedPnL)
		summary.TotalRealizedPnL += realized
		summary.TotalUnrealizedPnL += unrealized

		symbol := p.ProductSymbol
		if symbol == "" {
			symbol = "UNKNOWN"
		}
		entry, ok := bySymbol[symbol]
		if !ok {
			entry = &SymbolPnL{Symbol: symbol}
			bySymbol[symbol] = entry
			order = append(order, symbol)
		}
		entry.RealizedPnL += realized
		entry.UnrealizedPnL += unrealized
		entry.PositionCount++
	}
	summary.TotalPnL = summary.TotalRealizedPnL + summary.TotalUnrealizedPnL

	for _, symbol := range order {
		summary.BySymbol = append(summary.BySymbol, *bySymbol[symbol])
	}
	return summary, nil
}

// OrderHistory returns one page of past orders.
func (s *Service) OrderHistory(ctx context.Context, creds trading.Credentials, pageSize int, after string) (*OrderPage, error) {
	if err := validate(creds); err != nil {
		return nil, err
	}
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}
	orders, next, err := s.newReader(creds).GetOrderHistory(ctx, delta.PageQuery{PageSize: pageSize, After: after})
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: orders, After: next}, nil
}

// Fills returns one page of trade fills.
func (s *Service) Fills(ctx context.Context, creds trading.Credentials, pageSize int, after string) (*FillPage, error) {
	if err := validate(creds); err != nil {
		return nil, err
	}
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}
	fills, next, err := s.newReader(creds).GetFills(ctx, delta.PageQuery{PageSize: pageSize, After: after})
	if err != nil {
		return nil, err
	}
	return &FillPage{Fills: fills, After: next}, nil
}

// LiveOrders returns currently open orders.
func (s *Service) LiveOrders(ctx context.Context, creds trading.Credentials) ([]delta.Order, error) {
	if err := validate(creds); err != nil {
		return nil, err
	}
	return s.newReader(creds).GetLiveOrders(ctx)
}

// parseDecimal reads the exchange's string-encoded decimals; malformed or
// empty values count as zero rather than failing the whole aggregate.
func parseDecimal(v string) float64 {
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
