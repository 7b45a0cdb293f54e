// Package db provides the SQLite-backed audit store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// Store provides audit queries over the database handle.
type Store struct {
	db *sql.DB
}

// NewStore creates a new Store instance.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ----------------------------------------
// Placed order audit
// ----------------------------------------

// InsertPlacedOrder records an order placement attempt.
func (s *Store) InsertPlacedOrder(ctx context.Context, o PlacedOrder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO placed_orders (
			id, exchange_order_id, product_id, product_symbol, side, size,
			entry_price, stop_loss_price, take_profit_price, success,
			bracket_status, bracket_error, bracket_note, message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.ExchangeOrderID, o.ProductID, o.ProductSymbol, o.Side, o.Size,
		o.EntryPrice, o.StopLossPrice, o.TakeProfitPrice, o.Success,
		o.BracketStatus, o.BracketError, o.BracketNote, o.Message)
	if err != nil {
		return fmt.Errorf("insert placed order: %w", err)
	}
	return nil
}

// ListPlacedOrders returns the most recent order placement records.
func (s *Store) ListPlacedOrders(ctx context.Context, limit int) ([]PlacedOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(exchange_order_id, ''), COALESCE(product_id, 0),
		       COALESCE(product_symbol, ''), side, size, entry_price,
		       stop_loss_price, take_profit_price, success,
		       COALESCE(bracket_status, ''), COALESCE(bracket_error, ''),
		       COALESCE(bracket_note, ''), COALESCE(message, ''), created_at
		FROM placed_orders
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query placed orders: %w", err)
	}
	defer rows.Close()

	var orders []PlacedOrder
	for rows.Next() {
		var o PlacedOrder
		if err := rows.Scan(&o.ID, &o.ExchangeOrderID, &o.ProductID, &o.ProductSymbol,
			&o.Side, &o.Size, &o.EntryPrice, &o.StopLossPrice, &o.TakeProfitPrice,
			&o.Success, &o.BracketStatus, &o.BracketError, &o.BracketNote,
			&o.Message, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan placed order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ----------------------------------------
// Strategy run audit
// ----------------------------------------

// InsertStrategyRun records a newly started strategy instance.
func (s *Store) InsertStrategyRun(ctx context.Context, r StrategyRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_runs (id, strategy_type, symbol, timeframe, parameters, status, start_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StrategyType, r.Symbol, r.Timeframe, r.Parameters, r.Status, r.StartTime)
	if err != nil {
		return fmt.Errorf("insert strategy run: %w", err)
	}
	return nil
}

// UpdateStrategyRunStatus updates run status; stop_time is written once when provided.
func (s *Store) UpdateStrategyRunStatus(ctx context.Context, id, status, lastError string, stopTime sql.NullTime) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE strategy_runs
		SET status = ?,
		    last_error = ?,
		    stop_time = COALESCE(stop_time, ?),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, lastError, stopTime, id)
	if err != nil {
		return fmt.Errorf("update strategy run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStrategyRun returns a single run record by id.
func (s *Store) GetStrategyRun(ctx context.Context, id string) (*StrategyRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_type, symbol, timeframe, parameters, status,
		       COALESCE(last_error, ''), start_time, stop_time, created_at, updated_at
		FROM strategy_runs
		WHERE id = ?
	`, id)

	var r StrategyRun
	err := row.Scan(&r.ID, &r.StrategyType, &r.Symbol, &r.Timeframe, &r.Parameters,
		&r.Status, &r.LastError, &r.StartTime, &r.StopTime, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan strategy run: %w", err)
	}
	return &r, nil
}

// ListStrategyRuns returns recent runs, newest first.
func (s *Store) ListStrategyRuns(ctx context.Context, limit int) ([]StrategyRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_type, symbol, timeframe, parameters, status,
		       COALESCE(last_error, ''), start_time, stop_time, created_at, updated_at
		FROM strategy_runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query strategy runs: %w", err)
	}
	defer rows.Close()

	var runs []StrategyRun
	for rows.Next() {
		var r StrategyRun
		if err := rows.Scan(&r.ID, &r.StrategyType, &r.Symbol, &r.Timeframe, &r.Parameters,
			&r.Status, &r.LastError, &r.StartTime, &r.StopTime, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpsertStrategyDefaults stores per-type default parameters (JSON).
func (s *Store) UpsertStrategyDefaults(ctx context.Context, strategyType, parametersJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_defaults (strategy_type, parameters, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_type) DO UPDATE SET
			parameters = excluded.parameters,
			updated_at = CURRENT_TIMESTAMP
	`, strategyType, parametersJSON)
	return err
}
