package store

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rulstack/rulstack/internal/dataset"
	"github.com/rulstack/rulstack/internal/health"
	"github.com/rulstack/rulstack/pkg/types"
)

// ErrNotFound is returned when a table, unit or cycle is not held.
var ErrNotFound = errors.New("not found")

// Entry is a featurized table together with the time it was stored.
type Entry struct {
	Name  string
	Table *types.Table

	// Columns are the model input columns of Table.
	Columns []string

	// Summaries holds one health summary per unit, in table order.
	Summaries []health.UnitSummary

	UpdatedAt time.Time
}

// Store is the runtime context shared by the pipeline and its consumers: one
// immutable FittedTransform plus named feature tables built from it.
// Writers replace whole entries; readers never see a partially built table.
type Store struct {
	transform *types.FittedTransform
	window    int

	mu   sync.RWMutex
	data map[string]*Entry
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store around tr. window is the sequence length served by
// Sequence.
func New(tr *types.FittedTransform, window int) *Store {
	return &Store{
		transform: tr,
		window:    window,
		data:      make(map[string]*Entry),
		now:       time.Now,
	}
}

// Transform returns the fitted transform. Callers must not modify it.
func (s *Store) Transform() *types.FittedTransform { return s.transform }

// Window returns the sequence length served by Sequence.
func (s *Store) Window() int { return s.window }

// Put stores or replaces the table under name. The table's schema must match
// the transform's schema. Callers must not modify t after calling Put.
func (s *Store) Put(name string, t *types.Table) error {
	if got := t.Schema(); !slices.Equal(got, s.transform.Schema) {
		return fmt.Errorf("store: table %q schema differs from the fitted schema: %w", name, types.ErrSchema)
	}
	sums, err := health.Summarize(t, s.transform.MaxRUL)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	e := &Entry{
		Name:      name,
		Table:     t,
		Columns:   dataset.Columns(t),
		Summaries: sums,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e.UpdatedAt = s.now()
	s.data[name] = e
	return nil
}

// Get returns the Entry for name and whether it was found.
func (s *Store) Get(name string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[name]
	return e, ok
}

// List returns every entry sorted by name.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of tables held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Units returns the unit ids of table name in table order.
func (s *Store) Units(name string) ([]int, error) {
	e, err := s.entry(name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(e.Summaries))
	for i, u := range e.Summaries {
		out[i] = u.Unit
	}
	return out, nil
}

// Sequence returns the window of unit ending at cycle (0 = latest cycle).
func (s *Store) Sequence(name string, unit, cycle int) (types.Window, error) {
	e, err := s.entry(name)
	if err != nil {
		return types.Window{}, err
	}
	w, ok, err := dataset.UnitWindow(e.Table, e.Columns, unit, cycle, s.window)
	if err != nil {
		return types.Window{}, fmt.Errorf("store: %w", err)
	}
	if !ok {
		return types.Window{}, fmt.Errorf("store: %d-cycle window for unit %d at cycle %d in %q: %w",
			s.window, unit, cycle, name, ErrNotFound)
	}
	return w, nil
}

// Row returns the tabular sample of unit at cycle (0 = latest cycle).
func (s *Store) Row(name string, unit, cycle int) (types.TabularSample, error) {
	e, err := s.entry(name)
	if err != nil {
		return types.TabularSample{}, err
	}
	r, ok, err := dataset.UnitRow(e.Table, e.Columns, unit, cycle)
	if err != nil {
		return types.TabularSample{}, fmt.Errorf("store: %w", err)
	}
	if !ok {
		return types.TabularSample{}, fmt.Errorf("store: unit %d cycle %d in %q: %w", unit, cycle, name, ErrNotFound)
	}
	return r, nil
}

// Summary returns the health summary of unit in table name.
func (s *Store) Summary(name string, unit int) (health.UnitSummary, error) {
	e, err := s.entry(name)
	if err != nil {
		return health.UnitSummary{}, err
	}
	for _, u := range e.Summaries {
		if u.Unit == unit {
			return u, nil
		}
	}
	return health.UnitSummary{}, fmt.Errorf("store: unit %d in %q: %w", unit, name, ErrNotFound)
}

func (s *Store) entry(name string) (*Entry, error) {
	e, ok := s.Get(name)
	if !ok {
		return nil, fmt.Errorf("store: table %q: %w", name, ErrNotFound)
	}
	return e, nil
}

// ParseUnitID accepts "engine-7", "unit-7" or "7" and returns 7.
func ParseUnitID(s string) (int, error) {
	id := strings.TrimSpace(s)
	for _, prefix := range []string{"engine-", "unit-"} {
		if rest, ok := strings.CutPrefix(strings.ToLower(id), prefix); ok {
			id = rest
			break
		}
	}
	n, err := strconv.Atoi(id)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("store: invalid unit id %q", s)
	}
	return n, nil
}
