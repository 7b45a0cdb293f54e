package strategy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"delta-core/internal/events"
	"delta-core/pkg/db"
)

// Factory constructs a strategy instance for one type tag. The set of
// factories is closed at startup; unknown tags are rejected before any side
// effect.
type Factory func(id string, cfg Config, deps Deps) (Runner, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		TypeBreakout: func(id string, cfg Config, deps Deps) (Runner, error) {
			return NewBreakout(id, cfg, deps)
		},
	}
)

// RegisterFactory adds a strategy type to the closed set. Call during
// initialization, before the manager serves requests.
func RegisterFactory(strategyType string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strategyType] = f
}

func lookupFactory(strategyType string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[strategyType]
	return f, ok
}

// Manager owns the registry of strategy instances. All registry access goes
// through its lock; instances themselves guard their own live state.
type Manager struct {
	mu        sync.Mutex
	instances map[string]Runner

	deps  Deps
	store *db.Store
	bus   *events.Bus
}

// NewManager creates the registry. store and bus may be nil.
func NewManager(deps Deps, store *db.Store, bus *events.Bus) *Manager {
	return &Manager{
		instances: make(map[string]Runner),
		deps:      deps,
		store:     store,
		bus:       bus,
	}
}

// Start creates, starts and registers a new instance of strategyType. The
// instance is registered only after its Start succeeds; a failed start
// leaves the registry untouched.
func (m *Manager) Start(strategyType string, cfg Config) (string, error) {
	factory, ok := lookupFactory(strategyType)
	if !ok {
		return "", fmt.Errorf("unknown strategy type: %s", strategyType)
	}

	id := uuid.NewString()
	deps := m.deps
	deps.OnTransition = func(st Status, errMsg string) {
		m.recordTransition(id, strategyType, cfg.Symbol, st, errMsg)
	}

	r, err := factory(id, cfg, deps)
	if err != nil {
		return "", err
	}
	if err := r.Start(); err != nil {
		return "", fmt.Errorf("failed to start strategy %s: %w", id, err)
	}

	m.mu.Lock()
	m.instances[id] = r
	m.mu.Unlock()

	m.auditStart(id, strategyType, cfg)
	log.Printf("[manager] strategy %s (%s) started", id, strategyType)
	return id, nil
}

// Stop stops a running instance cooperatively. The instance stays in the
// registry so status and log queries keep working until Remove is called.
// Returns false when the id is unknown.
func (m *Manager) Stop(id string) bool {
	r, ok := m.get(id)
	if !ok {
		log.Printf("[manager] stop: strategy %s not found", id)
		return false
	}
	stopped := r.Stop()
	if stopped {
		log.Printf("[manager] strategy %s stopped", id)
	}
	return stopped
}

// Status returns a snapshot for one instance, nil when unknown.
func (m *Manager) Status(id string) *StatusInfo {
	r, ok := m.get(id)
	if !ok {
		return nil
	}
	info := r.Status()
	return &info
}

// List returns snapshots of every registered instance, oldest first.
func (m *Manager) List() []StatusInfo {
	m.mu.Lock()
	runners := make([]Runner, 0, len(m.instances))
	for _, r := range m.instances {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	infos := make([]StatusInfo, 0, len(runners))
	for _, r := range runners {
		infos = append(infos, r.Status())
	}
	sort.Slice(infos, func(i, j int) bool {
		ti, tj := infos[i].StartTime, infos[j].StartTime
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		case !ti.Equal(*tj):
			return ti.Before(*tj)
		}
		return infos[i].StrategyID < infos[j].StrategyID
	})
	return infos
}

// Logs returns the most recent limit log lines for one instance. The second
// return is false when the id is unknown.
func (m *Manager) Logs(id string, limit int) (string, bool) {
	r, ok := m.get(id)
	if !ok {
		return "", false
	}
	return r.Logs(limit), true
}

// Remove stops the instance if it is still running, then drops it from the
// registry. Returns false when the id is unknown.
func (m *Manager) Remove(id string) bool {
	r, ok := m.get(id)
	if !ok {
		return false
	}
	if r.Status().Status == StatusRunning {
		log.Printf("[manager] removing running strategy %s, stopping first", id)
		r.Stop()
	}
	m.mu.Lock()
	delete(m.instances, id)
	m.mu.Unlock()
	log.Printf("[manager] strategy %s removed", id)
	return true
}

// StopAll stops every instance; used on shutdown.
func (m *Manager) StopAll() {
	for _, info := range m.List() {
		if info.Status == StatusRunning {
			m.Stop(info.StrategyID)
		}
	}
}

// Count reports the registry size.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

func (m *Manager) get(id string) (Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.instances[id]
	return r, ok
}

func (m *Manager) auditStart(id, strategyType string, cfg Config) {
	if m.store == nil {
		return
	}
	params, err := json.Marshal(cfg)
	if err != nil {
		params = []byte("{}")
	}
	rec := db.StrategyRun{
		ID:           id,
		StrategyType: strategyType,
		Symbol:       cfg.Symbol,
		Timeframe:    cfg.Timeframe,
		Parameters:   string(params),
		Status:       string(StatusRunning),
		StartTime:    sql.NullTime{Time: time.Now(), Valid: true},
	}
	if err := m.store.InsertStrategyRun(context.Background(), rec); err != nil {
		log.Printf("[manager] strategy run audit failed: %v", err)
	}
}

// recordTransition publishes lifecycle changes and mirrors them into the
// audit store. Fired from the instance's own worker.
func (m *Manager) recordTransition(id, strategyType, symbol string, st Status, errMsg string) {
	if m.bus != nil {
		m.bus.Publish(events.EventStrategyStatus, events.StrategyStatus{
			ID:     id,
			Type:   strategyType,
			Symbol: symbol,
			Status: string(st),
		})
	}
	if m.store == nil {
		return
	}
	var stopTime sql.NullTime
	if st == StatusStopped || st == StatusCompleted || st == StatusError {
		stopTime = sql.NullTime{Time: time.Now(), Valid: true}
	}
	err := m.store.UpdateStrategyRunStatus(context.Background(), id, string(st), errMsg, stopTime)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		log.Printf("[manager] strategy run update failed: %v", err)
	}
}
