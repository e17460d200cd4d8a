// Crash-safe Portfolio persistence. Adapted from the teacher's
// internal/store package: a single JSON file holding every venue/asset
// position, written via write-to-.tmp-then-rename so a crash mid-write never
// leaves a truncated file behind.
package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PersistedPosition is one (venue, asset) position as stored on disk.
type PersistedPosition struct {
	Venue       string          `json:"venue"`
	Asset       string          `json:"asset"`
	Qty         decimal.Decimal `json:"qty"`
	AvgEntry    decimal.Decimal `json:"avg_entry"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	OpenedAt    time.Time       `json:"opened_at"`
}

// PersistedState is the Portfolio state written on each save: positions
// and the daily-loss aggregate. Mark prices are not persisted.
type PersistedState struct {
	Positions []PersistedPosition `json:"positions"`
	DailyLoss decimal.Decimal     `json:"daily_loss"`
}

// ExportState captures the Portfolio's current positions and daily-loss
// aggregate for persistence.
func (p *Portfolio) ExportState() PersistedState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state := PersistedState{DailyLoss: p.dailyLoss}
	for key, pos := range p.positions {
		if pos.qty.IsZero() {
			continue
		}
		state.Positions = append(state.Positions, PersistedPosition{
			Venue:       key.venue,
			Asset:       key.asset,
			Qty:         pos.qty,
			AvgEntry:    pos.avgEntry,
			RealizedPnL: pos.realizedPnL,
			OpenedAt:    pos.openedAt,
		})
	}
	return state
}

// RestoreState replaces the Portfolio's positions and daily-loss
// aggregate with a previously persisted state. Called once at startup,
// before any subsystem starts trading.
func (p *Portfolio) RestoreState(state PersistedState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dailyLoss = state.DailyLoss
	for _, pp := range state.Positions {
		p.positions[positionKey{pp.Venue, pp.Asset}] = &position{
			qty:         pp.Qty,
			avgEntry:    pp.AvgEntry,
			realizedPnL: pp.RealizedPnL,
			openedAt:    pp.OpenedAt,
		}
	}
}

// Store persists Portfolio state to a single JSON file in a designated
// directory, matching the teacher's atomic write-then-rename technique.
type Store struct {
	path string
	mu   sync.Mutex
}

// OpenStore creates a Store backed by dir/portfolio.json, creating dir
// if it does not exist.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, "portfolio.json")}, nil
}

// Save atomically persists state, writing to a .tmp file first so a
// crash mid-write never corrupts the previous good state.
func (s *Store) Save(state PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal portfolio state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write portfolio state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load restores a previously saved state. Returns nil, nil if no state
// has been saved yet (fresh start).
func (s *Store) Load() (*PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read portfolio state: %w", err)
	}

	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal portfolio state: %w", err)
	}
	return &state, nil
}
