package db

import (
	"database/sql"
	"time"
)

// PlacedOrder is the audit record for an order placement attempt.
type PlacedOrder struct {
	ID              string
	ExchangeOrderID string
	ProductID       int
	ProductSymbol   string
	Side            string
	Size            float64
	EntryPrice      float64
	StopLossPrice   sql.NullFloat64
	TakeProfitPrice sql.NullFloat64
	Success         bool
	BracketStatus   string // "attached", "failed", "skipped", ""
	BracketError    string
	BracketNote     string
	Message         string
	CreatedAt       time.Time
}

// StrategyRun is the audit record for a strategy instance lifecycle.
type StrategyRun struct {
	ID           string
	StrategyType string
	Symbol       string
	Timeframe    string
	Parameters   string // JSON
	Status       string
	LastError    string
	StartTime    sql.NullTime
	StopTime     sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
