package loan

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory loan store for demo/development mode.
type MemoryStore struct {
	loans map[string]*Loan
	order []string
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory loan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{loans: make(map[string]*Loan)}
}

func (m *MemoryStore) Create(ctx context.Context, loan *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Mirrors the partial unique index the Postgres store relies on
	if loan.Outstanding() {
		for _, existing := range m.loans {
			if existing.OwnerID == loan.OwnerID && existing.Outstanding() {
				return ErrActiveLoanExists
			}
		}
	}

	cp := *loan
	m.loans[loan.LoanID] = &cp
	m.order = append(m.order, loan.LoanID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, loanID string) (*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[loanID]
	if !ok {
		return nil, ErrLoanNotFound
	}
	cp := *loan
	return &cp, nil
}

func (m *MemoryStore) GetOutstandingByOwner(ctx context.Context, ownerID string) (*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, loan := range m.loans {
		if loan.OwnerID == ownerID && loan.Outstanding() {
			cp := *loan
			return &cp, nil
		}
	}
	return nil, ErrLoanNotFound
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Loan
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		loan := m.loans[m.order[i]]
		if loan.OwnerID == ownerID {
			cp := *loan
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) MarkRepaid(ctx context.Context, loanID string, repaidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loan, ok := m.loans[loanID]
	if !ok {
		return ErrLoanNotFound
	}
	loan.Status = StatusRepaid
	loan.RepaidAt = &repaidAt
	loan.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkOverdue(ctx context.Context, loanID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loan, ok := m.loans[loanID]
	if !ok {
		return ErrLoanNotFound
	}
	loan.Status = StatusOverdue
	loan.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListActiveDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Loan
	for _, id := range m.order {
		if len(result) >= limit {
			break
		}
		loan := m.loans[id]
		if loan.Status == StatusActive && loan.RepaymentDueAt.Before(cutoff) {
			cp := *loan
			result = append(result, &cp)
		}
	}
	return result, nil
}
