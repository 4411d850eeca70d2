package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"tradecore/internal/order"
	"tradecore/pkg/types"
)

// Memory is the in-process storage engine used by the tests. It keeps the full Storage contract — including nested
// transactions with rollback — by journaling writes and applying the
// journal on the outermost commit.
type Memory struct {
	mu        sync.Mutex
	vars      map[string]string
	orders    map[string][]byte
	fills     []types.Fill // (time, id) ascending
	journal   []func(*Memory)
	txLevel   int
	discarded bool
}

// NewMemory creates an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{
		vars:   make(map[string]string),
		orders: make(map[string][]byte),
	}
}

var _ Storage = (*Memory)(nil)

func (s *Memory) Close() error { return nil }

func (s *Memory) Begin() {
	s.mu.Lock()
	s.txLevel++
	s.mu.Unlock()
}

func (s *Memory) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txLevel--
	if s.txLevel > 0 {
		return nil
	}
	s.txLevel = 0
	if !s.discarded {
		for _, apply := range s.journal {
			apply(s)
		}
	}
	s.journal = nil
	s.discarded = false
	return nil
}

func (s *Memory) Rollback() {
	s.mu.Lock()
	s.discarded = true
	s.mu.Unlock()
	s.Commit() //nolint:errcheck // memory commit cannot fail
}

// store journals the write inside a transaction, or applies it right away.
func (s *Memory) store(apply func(*Memory)) {
	if s.txLevel > 0 {
		s.journal = append(s.journal, apply)
	} else {
		apply(s)
	}
}

func (s *Memory) PutVar(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(func(m *Memory) { m.vars[name] = value })
	return nil
}

func (s *Memory) EraseVar(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(func(m *Memory) { delete(m.vars, name) })
	return nil
}

func (s *Memory) GetVar(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars[name], nil
}

func (s *Memory) EnumVars(prefix string, fn func(name, value string) bool) error {
	for _, kv := range s.sortedVars() {
		if !strings.HasPrefix(kv[0], prefix) {
			continue
		}
		if !fn(kv[0], kv[1]) {
			break
		}
	}
	return nil
}

func (s *Memory) EnumVarsRange(start, end string, fn func(name, value string) bool) error {
	for _, kv := range s.sortedVars() {
		if kv[0] < start || kv[0] > end {
			continue
		}
		if !fn(kv[0], kv[1]) {
			break
		}
	}
	return nil
}

func (s *Memory) sortedVars() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]string, 0, len(s.vars))
	for k, v := range s.vars {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func (s *Memory) PutOrder(o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Done() {
		id := o.ID()
		s.store(func(m *Memory) { delete(m.orders, id) })
		return nil
	}
	env := o.Serialize()
	s.store(func(m *Memory) { m.orders[env.ID] = env.Body })
	return nil
}

func (s *Memory) LoadOpenOrders() ([]order.SerializedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.SerializedOrder, 0, len(s.orders))
	for id, body := range s.orders {
		out = append(out, order.SerializedOrder{ID: id, Body: body})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) PutFill(f types.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(func(m *Memory) {
		idx := m.fillIndex(f)
		if idx < len(m.fills) && m.fills[idx].Time.Equal(f.Time) && m.fills[idx].ID == f.ID {
			return // duplicate (time, id), dropped
		}
		m.fills = append(m.fills, types.Fill{})
		copy(m.fills[idx+1:], m.fills[idx:])
		m.fills[idx] = f
	})
	return nil
}

// fillIndex returns the insertion point of f in the (time, id) ordering.
func (s *Memory) fillIndex(f types.Fill) int {
	return sort.Search(len(s.fills), func(i int) bool {
		if s.fills[i].Time.Equal(f.Time) {
			return s.fills[i].ID >= f.ID
		}
		return s.fills[i].Time.After(f.Time)
	})
}

func (s *Memory) IsDuplicateFill(f types.Fill) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.fillIndex(f)
	return idx < len(s.fills) && s.fills[idx].Time.Equal(f.Time) && s.fills[idx].ID == f.ID, nil
}

func (s *Memory) LoadFills(limit int, filter string) ([]types.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Fill
	for i := len(s.fills) - 1; i >= 0 && len(out) < limit; i-- {
		f := s.fills[i]
		if filter != "" && !strings.HasPrefix(f.Label, filter) {
			continue
		}
		out = append(out, f)
	}
	// Collected newest-first; flip to (time, id) ascending.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Memory) LoadFillsSince(ts time.Time, filter string) ([]types.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Fill
	for _, f := range s.fills {
		if !f.Time.After(ts) {
			continue
		}
		if filter != "" && !strings.HasPrefix(f.Label, filter) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Memory) LoadPositions(filter string) ([]PositionEntry, error) {
	s.mu.Lock()
	fills := append([]types.Fill(nil), s.fills...)
	s.mu.Unlock()
	return foldPositions(fills, filter), nil
}
