package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"delta-core/pkg/db"
)

// BreakoutDefaults are the per-type default parameters from the YAML file,
// applied under explicit request values.
type BreakoutDefaults struct {
	Timeframe              string  `yaml:"timeframe" json:"timeframe"`
	OrderSize              int     `yaml:"order_size" json:"order_size"`
	MaxPositionSize        int     `yaml:"max_position_size" json:"max_position_size"`
	StopLossPoints         float64 `yaml:"stop_loss_points" json:"stop_loss_points"`
	TakeProfitPoints       float64 `yaml:"take_profit_points" json:"take_profit_points"`
	BreakevenTriggerPoints float64 `yaml:"breakeven_trigger_points" json:"breakeven_trigger_points"`
	PositionCheckInterval  int     `yaml:"position_check_interval" json:"position_check_interval"`
	OrderCheckInterval     int     `yaml:"order_check_interval" json:"order_check_interval"`
}

// Defaults is the top-level structure of the strategy defaults file.
type Defaults struct {
	Breakout BreakoutDefaults `yaml:"breakout" json:"breakout"`
}

// builtinDefaults apply when no defaults file is present.
var builtinDefaults = Defaults{
	Breakout: BreakoutDefaults{
		Timeframe:             "1h",
		OrderSize:             1,
		StopLossPoints:        100,
		TakeProfitPoints:      200,
		PositionCheckInterval: 5,
		OrderCheckInterval:    10,
	},
}

// LoadDefaults reads the YAML defaults file. A missing file falls back to the
// built-in defaults; a malformed file is an error.
func LoadDefaults(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		d := builtinDefaults
		return &d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read strategy defaults: %w", err)
	}

	d := builtinDefaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse strategy defaults: %w", err)
	}
	return &d, nil
}

// ApplyBreakout fills zero-valued config fields from the defaults. Explicit
// request values always win.
func (d *Defaults) ApplyBreakout(cfg *Config) {
	if cfg.Timeframe == "" {
		cfg.Timeframe = d.Breakout.Timeframe
	}
	if cfg.OrderSize == 0 {
		cfg.OrderSize = d.Breakout.OrderSize
	}
	if cfg.MaxPositionSize == 0 {
		cfg.MaxPositionSize = d.Breakout.MaxPositionSize
	}
	if cfg.StopLossPoints == 0 {
		cfg.StopLossPoints = d.Breakout.StopLossPoints
	}
	if cfg.TakeProfitPoints == 0 {
		cfg.TakeProfitPoints = d.Breakout.TakeProfitPoints
	}
	if cfg.BreakevenTriggerPoints == 0 {
		cfg.BreakevenTriggerPoints = d.Breakout.BreakevenTriggerPoints
	}
	if cfg.PositionCheckInterval == 0 {
		cfg.PositionCheckInterval = d.Breakout.PositionCheckInterval
	}
	if cfg.OrderCheckInterval == 0 {
		cfg.OrderCheckInterval = d.Breakout.OrderCheckInterval
	}
}

// SyncDefaultsToStore upserts the loaded defaults into the audit database so
// the effective configuration is inspectable alongside the run records.
func SyncDefaultsToStore(ctx context.Context, store *db.Store, d *Defaults) error {
	if store == nil || d == nil {
		return nil
	}
	params, err := json.Marshal(d.Breakout)
	if err != nil {
		return fmt.Errorf("marshal breakout defaults: %w", err)
	}
	if err := store.UpsertStrategyDefaults(ctx, TypeBreakout, string(params)); err != nil {
		return fmt.Errorf("upsert breakout defaults: %w", err)
	}
	return nil
}
