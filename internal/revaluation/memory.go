package revaluation

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same claim rule as the
// database: a ledger can be held by one non-terminal run per period.
type MemoryStore struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]Run
	details map[uuid.UUID][]Detail
	nextID  int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]Run), details: make(map[uuid.UUID][]Detail)}
}

func (m *MemoryStore) CreateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var held []string
	for _, other := range m.runs {
		if other.Status.Terminal() || other.CompanyCode != run.CompanyCode ||
			other.FiscalYear != run.FiscalYear || other.FiscalPeriod != run.FiscalPeriod {
			continue
		}
		for _, a := range other.Ledgers {
			for _, b := range run.Ledgers {
				if a == b {
					held = append(held, b)
				}
			}
		}
	}
	if len(held) > 0 {
		sort.Strings(held)
		return &ConcurrentRunError{CompanyCode: run.CompanyCode, LedgerIDs: held, FiscalYear: run.FiscalYear, FiscalPeriod: run.FiscalPeriod}
	}
	run.Ledgers = append([]string(nil), run.Ledgers...)
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) TransitionRun(_ context.Context, id uuid.UUID, from, to RunStatus, patch RunPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status != from {
		return ErrInvalidTransition
	}
	run.Status = to
	if patch.StartedAt != nil {
		run.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		run.CompletedAt = patch.CompletedAt
	}
	if patch.Totals != nil {
		run.Totals = *patch.Totals
	}
	if patch.JournalDocuments != nil {
		run.JournalDocuments = append([]string(nil), patch.JournalDocuments...)
	}
	if patch.Errors != nil {
		run.Errors = append([]string(nil), patch.Errors...)
	}
	m.runs[id] = run
	return nil
}

func (m *MemoryStore) AppendDetail(_ context.Context, d Detail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[d.RunID]; !ok {
		return ErrRunNotFound
	}
	m.nextID++
	d.ID = m.nextID
	m.details[d.RunID] = append(m.details[d.RunID], d)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (m *MemoryStore) ListDetails(_ context.Context, id uuid.UUID) ([]Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return nil, ErrRunNotFound
	}
	return append([]Detail(nil), m.details[id]...), nil
}

func (m *MemoryStore) PurgeRun(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return 0, ErrRunNotFound
	}
	n := int64(len(m.details[id]))
	delete(m.details, id)
	run.JournalDocuments = nil
	m.runs[id] = run
	return n, nil
}
