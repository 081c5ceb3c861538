// Package wallet tracks owner balances and the append-only ledger behind them.
//
// Every balance change goes through a single mutation path:
//  1. Read the wallet (balance, locked balance, version)
//  2. Compute the new balances and the ledger entry describing the change
//  3. Apply both atomically, guarded by a compare-and-swap on the version
//
// A version mismatch means another writer got there first; the service
// retries the whole read-compute-apply cycle. Business failures such as
// insufficient funds never retry.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/rupeeflow/walletengine/internal/idgen"
	"github.com/rupeeflow/walletengine/internal/logging"
	"github.com/rupeeflow/walletengine/internal/money"
	"github.com/rupeeflow/walletengine/internal/retry"
)

var (
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrWalletExists           = errors.New("wallet already exists")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientLocked     = errors.New("insufficient locked funds")
	ErrConcurrentModification = errors.New("wallet modified concurrently")
	ErrDuplicateEntry         = errors.New("ledger entry already recorded")
)

// Entry kinds. Every ledger record is exactly one of these. Only CREDIT,
// REFUND, and DEBIT move the balance; LOCK and UNLOCK move funds between
// the spendable and locked portions of it.
const (
	KindCredit = "CREDIT" // funds added to the wallet
	KindDebit  = "DEBIT"  // funds leaving the wallet for good
	KindLock   = "LOCK"   // funds reserved against an in-flight settlement
	KindUnlock = "UNLOCK" // a reservation returned unspent
	KindRefund = "REFUND" // funds returned after a settled debit was reversed
)

// Account is an owner's wallet. Balance is the total funds the owner
// holds, including the locked portion; LockedBalance is the part of it
// reserved against in-flight settlements, so LockedBalance never exceeds
// Balance. Both are decimal strings with two fractional digits. Version
// increments on every mutation.
//
// AvailableBalance is derived (Balance minus LockedBalance); stores never
// persist it and the service fills it in on reads.
type Account struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	Balance          string    `json:"balance"`
	LockedBalance    string    `json:"lockedBalance"`
	AvailableBalance string    `json:"availableBalance"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Entry is one immutable ledger record. BalanceAfter snapshots the total
// balance as it stood after this entry was applied, so the balance is
// always re-derivable as the running sum of signed CREDIT/REFUND/DEBIT
// amounts.
type Entry struct {
	ID            string    `json:"id"`
	WalletID      string    `json:"walletId"`
	OwnerID       string    `json:"ownerId"`
	TransactionID string    `json:"transactionId,omitempty"`
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balanceAfter"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AuditRecord captures the operator action behind a balance change.
// PreviousBalance snapshots the total balance before the action ran.
// When attached to a Mutation it commits in the same atomic unit as the
// balance update and ledger entry.
type AuditRecord struct {
	ID              string    `json:"id"`
	ActorID         string    `json:"actorId"`
	Action          string    `json:"action"`
	OwnerID         string    `json:"ownerId"`
	TransactionID   string    `json:"transactionId,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	Reason          string    `json:"reason"`
	PreviousBalance string    `json:"previousBalance,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Mutation applies a new balance pair plus one ledger entry atomically.
// ExpectedVersion is the version the caller read; the store must reject
// the mutation with ErrConcurrentModification if it no longer matches.
// A non-nil Audit is persisted in the same atomic unit.
type Mutation struct {
	WalletID         string
	ExpectedVersion  int64
	NewBalance       string
	NewLockedBalance string
	Entry            *Entry
	Audit            *AuditRecord
}

// Store persists wallets, their ledger, and the operator audit trail.
type Store interface {
	CreateWallet(ctx context.Context, acct *Account) error
	Get(ctx context.Context, walletID string) (*Account, error)
	GetByOwner(ctx context.Context, ownerID string) (*Account, error)
	ApplyMutation(ctx context.Context, m Mutation) error
	ListEntries(ctx context.Context, ownerID string, limit int) ([]*Entry, error)
	HasEntry(ctx context.Context, transactionID, kind string) (bool, error)

	// SaveAudit persists an audit record outside a mutation, for operator
	// actions that move no funds.
	SaveAudit(ctx context.Context, audit *AuditRecord) error
	ListAudits(ctx context.Context, ownerID string, limit int) ([]*AuditRecord, error)
}

const (
	mutationAttempts  = 5
	mutationBaseDelay = 20 * time.Millisecond
)

// Service exposes balance operations on top of a Store.
type Service struct {
	store Store
}

// NewService creates a wallet service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateForOwner creates a zero-balance wallet for an owner.
func (s *Service) CreateForOwner(ctx context.Context, ownerID string) (*Account, error) {
	now := time.Now().UTC()
	acct := &Account{
		ID:            idgen.WithPrefix("wal"),
		OwnerID:       ownerID,
		Balance:       "0.00",
		LockedBalance: "0.00",
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateWallet(ctx, acct); err != nil {
		return nil, err
	}
	observeOp("create")()
	return withAvailable(acct), nil
}

// GetBalance returns the wallet for an owner with the available balance
// filled in.
func (s *Service) GetBalance(ctx context.Context, ownerID string) (*Account, error) {
	acct, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return withAvailable(acct), nil
}

// GetOrCreate returns the owner's wallet, creating it on first use.
func (s *Service) GetOrCreate(ctx context.Context, ownerID string) (*Account, error) {
	acct, err := s.GetBalance(ctx, ownerID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	acct, err = s.CreateForOwner(ctx, ownerID)
	if errors.Is(err, ErrWalletExists) {
		// Lost a creation race; the other writer's wallet is the one we want
		return s.GetBalance(ctx, ownerID)
	}
	return acct, err
}

// Reserve holds amount of the available balance against a settlement and
// records a LOCK entry tagged with the transaction ID. The balance itself
// does not change; the hold only shrinks what is available.
func (s *Service) Reserve(ctx context.Context, ownerID, amount, transactionID string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	defer observeOp("reserve")()

	return s.mutate(ctx, ownerID, nil, func(acct *Account) (*Entry, error) {
		available := money.Sub(acct.Balance, acct.LockedBalance)
		if money.Cmp(available, amount) < 0 {
			return nil, ErrInsufficientFunds
		}
		acct.LockedBalance = money.Add(acct.LockedBalance, amount)
		return s.newEntry(acct, transactionID, KindLock, amount, "funds reserved for settlement"), nil
	})
}

// ConfirmDebit consumes previously reserved funds after a settlement
// succeeded. Both the balance and the locked portion drop by amount; the
// DEBIT entry is the only way a settlement decreases the balance.
func (s *Service) ConfirmDebit(ctx context.Context, ownerID, amount, transactionID string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	defer observeOp("confirm_debit")()

	return s.mutate(ctx, ownerID, nil, func(acct *Account) (*Entry, error) {
		if money.Cmp(acct.LockedBalance, amount) < 0 {
			return nil, ErrInsufficientLocked
		}
		acct.Balance = money.Sub(acct.Balance, amount)
		acct.LockedBalance = money.Sub(acct.LockedBalance, amount)
		return s.newEntry(acct, transactionID, KindDebit, amount, "settlement confirmed"), nil
	})
}

// Release returns previously reserved funds to the available balance
// after a settlement failed, recording an UNLOCK entry. The balance is
// unchanged because the reservation never decremented it.
func (s *Service) Release(ctx context.Context, ownerID, amount, transactionID string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	defer observeOp("release")()

	return s.mutate(ctx, ownerID, nil, func(acct *Account) (*Entry, error) {
		if money.Cmp(acct.LockedBalance, amount) < 0 {
			return nil, ErrInsufficientLocked
		}
		acct.LockedBalance = money.Sub(acct.LockedBalance, amount)
		return s.newEntry(acct, transactionID, KindUnlock, amount, "reservation released"), nil
	})
}

// Credit adds funds to the wallet. Kind must be KindCredit for ordinary
// credits (top-ups, loan disbursals, adjustments) or KindRefund when
// reversing an already-settled debit.
func (s *Service) Credit(ctx context.Context, ownerID, amount, transactionID, kind, description string) error {
	return s.CreditAudited(ctx, ownerID, amount, transactionID, kind, description, nil)
}

// CreditAudited is Credit with an operator audit record committed in the
// same atomic unit as the ledger entry.
func (s *Service) CreditAudited(ctx context.Context, ownerID, amount, transactionID, kind, description string, audit *AuditRecord) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if kind != KindCredit && kind != KindRefund {
		return ErrInvalidAmount
	}
	defer observeOp("credit")()

	// Refunds are replayable from callbacks and admin retries; make the
	// second application a detectable no-op instead of double-crediting.
	if kind == KindRefund && transactionID != "" {
		exists, err := s.store.HasEntry(ctx, transactionID, KindRefund)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEntry
		}
	}

	return s.mutate(ctx, ownerID, audit, func(acct *Account) (*Entry, error) {
		acct.Balance = money.Add(acct.Balance, amount)
		return s.newEntry(acct, transactionID, kind, amount, description), nil
	})
}

// Debit removes funds directly from the available balance, bypassing the
// reserve cycle. Used only for operator adjustments and clawbacks;
// settlements must go through Reserve and ConfirmDebit.
func (s *Service) Debit(ctx context.Context, ownerID, amount, transactionID, description string) error {
	return s.DebitAudited(ctx, ownerID, amount, transactionID, description, nil)
}

// DebitAudited is Debit with an operator audit record committed in the
// same atomic unit as the ledger entry.
func (s *Service) DebitAudited(ctx context.Context, ownerID, amount, transactionID, description string, audit *AuditRecord) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	defer observeOp("debit")()

	return s.mutate(ctx, ownerID, audit, func(acct *Account) (*Entry, error) {
		available := money.Sub(acct.Balance, acct.LockedBalance)
		if money.Cmp(available, amount) < 0 {
			return nil, ErrInsufficientFunds
		}
		acct.Balance = money.Sub(acct.Balance, amount)
		return s.newEntry(acct, transactionID, KindDebit, amount, description), nil
	})
}

// RecordAudit persists an audit record for an operator action that moved
// no funds, such as a status-only refund. PreviousBalance is captured
// from the wallet when not already set.
func (s *Service) RecordAudit(ctx context.Context, audit *AuditRecord) error {
	if audit.PreviousBalance == "" {
		if acct, err := s.store.GetByOwner(ctx, audit.OwnerID); err == nil {
			audit.PreviousBalance = acct.Balance
		}
	}
	stampAudit(audit)
	return s.store.SaveAudit(ctx, audit)
}

// ListAudits returns the newest audit records, all owners when ownerID
// is empty.
func (s *Service) ListAudits(ctx context.Context, ownerID string, limit int) ([]*AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListAudits(ctx, ownerID, limit)
}

// Ledger returns the most recent ledger entries for an owner.
func (s *Service) Ledger(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListEntries(ctx, ownerID, limit)
}

// HasTransactionEntry reports whether a ledger entry of the given kind was
// recorded for a settlement transaction. The settlement engine uses this
// to tell live reservations from ones that never landed.
func (s *Service) HasTransactionEntry(ctx context.Context, transactionID, kind string) (bool, error) {
	return s.store.HasEntry(ctx, transactionID, kind)
}

// mutate runs one read-compute-apply cycle with bounded retries on
// version conflicts. apply may modify acct's balances in place and must
// return the ledger entry describing the change. A non-nil audit has its
// PreviousBalance captured from the same read the mutation is computed
// from, so the snapshot cannot race a concurrent writer.
func (s *Service) mutate(ctx context.Context, ownerID string, audit *AuditRecord, apply func(acct *Account) (*Entry, error)) error {
	if audit != nil {
		stampAudit(audit)
	}
	return retry.Do(ctx, mutationAttempts, mutationBaseDelay, func() error {
		acct, err := s.store.GetByOwner(ctx, ownerID)
		if err != nil {
			return retry.Permanent(err)
		}

		expected := acct.Version
		if audit != nil {
			audit.PreviousBalance = acct.Balance
		}
		entry, err := apply(acct)
		if err != nil {
			return retry.Permanent(err)
		}

		err = s.store.ApplyMutation(ctx, Mutation{
			WalletID:         acct.ID,
			ExpectedVersion:  expected,
			NewBalance:       acct.Balance,
			NewLockedBalance: acct.LockedBalance,
			Entry:            entry,
			Audit:            audit,
		})
		if errors.Is(err, ErrConcurrentModification) {
			MutationConflictsTotal.Inc()
			logging.L(ctx).Debug("wallet mutation conflict, retrying",
				"walletId", acct.ID, "version", expected)
			return err
		}
		if err != nil {
			return retry.Permanent(err)
		}
		return nil
	})
}

func (s *Service) newEntry(acct *Account, transactionID, kind, amount, description string) *Entry {
	return &Entry{
		ID:            idgen.WithPrefix("ent"),
		WalletID:      acct.ID,
		OwnerID:       acct.OwnerID,
		TransactionID: transactionID,
		Kind:          kind,
		Amount:        amount,
		BalanceAfter:  acct.Balance,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
}

func withAvailable(acct *Account) *Account {
	acct.AvailableBalance = money.Sub(acct.Balance, acct.LockedBalance)
	return acct
}

func stampAudit(audit *AuditRecord) {
	if audit.ID == "" {
		audit.ID = idgen.WithPrefix("aud")
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
}
