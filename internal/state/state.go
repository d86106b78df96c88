// Package state is the in-memory Repository used by backtests, with JSON
// checkpoints so a run can be resumed.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"mabot/internal/models"
	"mabot/internal/store"
)

type Snapshot struct {
	Accounts    map[string]models.Account `json:"accounts"`
	Holdings    map[string]models.Holding `json:"holdings"`
	Orders      map[string]models.Order   `json:"orders"`
	LastBarTime time.Time                 `json:"last_bar_time"`
}

func newSnapshot() Snapshot {
	return Snapshot{
		Accounts: map[string]models.Account{},
		Holdings: map[string]models.Holding{},
		Orders:   map[string]models.Order{},
	}
}

func (s Snapshot) clone() Snapshot {
	c := Snapshot{
		Accounts:    make(map[string]models.Account, len(s.Accounts)),
		Holdings:    make(map[string]models.Holding, len(s.Holdings)),
		Orders:      make(map[string]models.Order, len(s.Orders)),
		LastBarTime: s.LastBarTime,
	}
	for k, v := range s.Accounts {
		c.Accounts[k] = v
	}
	for k, v := range s.Holdings {
		c.Holdings[k] = v
	}
	for k, v := range s.Orders {
		c.Orders[k] = v
	}
	return c
}

func orderKey(k models.OrderKey) string {
	return k.TradeContext.String() + "/" + k.OrderID
}

// Store keeps every record in maps guarded by one lock.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

var _ store.Repository = (*Store)(nil)

func NewStore() *Store {
	return &Store{snapshot: newSnapshot()}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.clone()
}

func (s *Store) SetLastBarTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastBarTime = t
}

func (s *Store) GetAccount(_ context.Context, key models.TradeContext) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.snapshot.Accounts[key.String()]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", key, store.ErrNotFound)
	}
	return a, nil
}

func (s *Store) SaveAccount(_ context.Context, a models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Accounts[a.Context().String()] = a
	return nil
}

func (s *Store) GetHolding(_ context.Context, key models.HoldingKey) (models.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.snapshot.Holdings[key.String()]
	if !ok {
		return models.Holding{}, fmt.Errorf("holding %s: %w", key, store.ErrNotFound)
	}
	return h, nil
}

func (s *Store) SaveHolding(_ context.Context, h models.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Holdings[h.Key().String()] = h
	return nil
}

func (s *Store) ListHoldings(_ context.Context, tc models.TradeContext, instrument string, statuses ...models.HoldingStatus) ([]models.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Holding
	for _, h := range s.snapshot.Holdings {
		if h.Env != tc.Env || h.Market != tc.Market || h.Account != tc.Account || h.Instrument != instrument {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, h.Status) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].HoldingID < out[j].HoldingID
	})
	return out, nil
}

func hasStatus(statuses []models.HoldingStatus, status models.HoldingStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *Store) GetOrder(_ context.Context, key models.OrderKey) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.snapshot.Orders[orderKey(key)]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", orderKey(key), store.ErrNotFound)
	}
	return o, nil
}

func (s *Store) SaveOrder(_ context.Context, o models.Order) error {
	if o.OrderID == "" {
		return fmt.Errorf("save order for holding %s: empty order id", o.HoldingID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Orders[orderKey(o.Key())] = o
	return nil
}

// Atomic runs fn against a staged copy and publishes it only when fn
// succeeds. fn must use tx, not s, or it deadlocks.
func (s *Store) Atomic(_ context.Context, fn func(tx store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := &Store{snapshot: s.snapshot.clone()}
	if err := fn(staged); err != nil {
		return err
	}
	s.snapshot = staged.snapshot
	return nil
}

func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	snapshot := newSnapshot()
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if snapshot.Accounts == nil {
		snapshot.Accounts = map[string]models.Account{}
	}
	if snapshot.Holdings == nil {
		snapshot.Holdings = map[string]models.Holding{}
	}
	if snapshot.Orders == nil {
		snapshot.Orders = map[string]models.Order{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	return nil
}
