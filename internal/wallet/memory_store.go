package wallet

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	wallets map[string]*Account // wallet ID -> account
	byOwner map[string]string   // owner ID -> wallet ID
	entries []*Entry
	audits  []*AuditRecord
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Account),
		byOwner: make(map[string]string),
		entries: make([]*Entry, 0),
	}
}

func (m *MemoryStore) CreateWallet(ctx context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byOwner[acct.OwnerID]; ok {
		return ErrWalletExists
	}

	cp := *acct
	m.wallets[acct.ID] = &cp
	m.byOwner[acct.OwnerID] = acct.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, walletID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) GetByOwner(ctx context.Context, ownerID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOwner[ownerID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *m.wallets[id]
	return &cp, nil
}

func (m *MemoryStore) ApplyMutation(ctx context.Context, mut Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.wallets[mut.WalletID]
	if !ok {
		return ErrWalletNotFound
	}
	if acct.Version != mut.ExpectedVersion {
		return ErrConcurrentModification
	}

	acct.Balance = mut.NewBalance
	acct.LockedBalance = mut.NewLockedBalance
	acct.Version++
	acct.UpdatedAt = time.Now().UTC()

	if mut.Entry != nil {
		cp := *mut.Entry
		m.entries = append(m.entries, &cp)
	}
	if mut.Audit != nil {
		cp := *mut.Audit
		m.audits = append(m.audits, &cp)
	}

	return nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].OwnerID == ownerID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) HasEntry(ctx context.Context, transactionID, kind string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if transactionID == "" {
		return false, nil
	}
	for _, e := range m.entries {
		if e.TransactionID == transactionID && e.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SaveAudit(ctx context.Context, audit *AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *audit
	m.audits = append(m.audits, &cp)
	return nil
}

func (m *MemoryStore) ListAudits(ctx context.Context, ownerID string, limit int) ([]*AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AuditRecord
	for i := len(m.audits) - 1; i >= 0 && len(result) < limit; i-- {
		if ownerID == "" || m.audits[i].OwnerID == ownerID {
			cp := *m.audits[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}
