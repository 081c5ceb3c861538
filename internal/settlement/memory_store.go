package settlement

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory settlement store for demo/development mode.
type MemoryStore struct {
	transactions map[string]*Transaction
	byRef        map[string]string // external ref -> transaction ID
	order        []string          // creation order for listing
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory settlement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*Transaction),
		byRef:        make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tx
	m.transactions[tx.TransactionID] = &cp
	m.order = append(m.order, tx.TransactionID)
	if tx.ExternalRef != "" {
		m.byRef[tx.ExternalRef] = tx.TransactionID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, transactionID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) GetByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRef[externalRef]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *m.transactions[id]
	return &cp, nil
}

func (m *MemoryStore) SetExternalRef(ctx context.Context, transactionID, externalRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[transactionID]
	if !ok {
		return ErrTransactionNotFound
	}
	if existing, taken := m.byRef[externalRef]; taken && existing != transactionID {
		return ErrExternalRefTaken
	}

	tx.ExternalRef = externalRef
	tx.UpdatedAt = time.Now().UTC()
	m.byRef[externalRef] = transactionID
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, transactionID, status, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[transactionID]
	if !ok {
		return ErrTransactionNotFound
	}
	if !transitionAllowed(tx.Status, status) {
		return ErrStatusConflict
	}

	tx.Status = status
	if status == StatusFailed {
		tx.FailureReason = failureReason
	}
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

func transitionAllowed(from, to string) bool {
	for _, s := range allowedFrom(to) {
		if s == from {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID, kind string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		tx := m.transactions[m.order[i]]
		if tx.OwnerID == ownerID && (kind == "" || tx.Kind == kind) {
			cp := *tx
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, id := range m.order {
		if len(result) >= limit {
			break
		}
		tx := m.transactions[id]
		if tx.Status == StatusPending && tx.CreatedAt.Before(cutoff) {
			cp := *tx
			result = append(result, &cp)
		}
	}
	return result, nil
}
