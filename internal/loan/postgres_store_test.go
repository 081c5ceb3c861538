package loan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rupeeflow/walletengine/internal/idgen"
	"github.com/rupeeflow/walletengine/internal/testutil"
)

func pgLoan(ownerID string) *Loan {
	now := time.Now().UTC()
	return &Loan{
		LoanID:         idgen.WithPrefix("loan"),
		OwnerID:        ownerID,
		TransactionID:  idgen.WithPrefix("txn"),
		Amount:         "1000.00",
		Status:         StatusActive,
		LenderName:     "Test Capital",
		BounceCharge:   "150.00",
		RepaymentDueAt: now.AddDate(0, 0, 15),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPostgresStore_OneOutstandingPerOwner(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	first := pgLoan("pgborrower1")
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The partial unique index rejects a second outstanding loan
	if err := store.Create(ctx, pgLoan("pgborrower1")); !errors.Is(err, ErrActiveLoanExists) {
		t.Fatalf("expected ErrActiveLoanExists, got %v", err)
	}

	// OVERDUE still occupies the slot
	if err := store.MarkOverdue(ctx, first.LoanID); err != nil {
		t.Fatalf("MarkOverdue failed: %v", err)
	}
	if err := store.Create(ctx, pgLoan("pgborrower1")); !errors.Is(err, ErrActiveLoanExists) {
		t.Errorf("expected ErrActiveLoanExists against OVERDUE loan, got %v", err)
	}

	// Repayment frees it
	if err := store.MarkRepaid(ctx, first.LoanID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkRepaid failed: %v", err)
	}
	if err := store.Create(ctx, pgLoan("pgborrower1")); err != nil {
		t.Errorf("expected Create to succeed after repayment, got %v", err)
	}

	// Other owners are never blocked
	if err := store.Create(ctx, pgLoan("pgborrower2")); err != nil {
		t.Errorf("unrelated owner blocked: %v", err)
	}
}
