package loan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rupeeflow/walletengine/internal/gateway"
	"github.com/rupeeflow/walletengine/internal/settlement"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

func testConfig() Config {
	return Config{
		MinAmount:    "100.00",
		MaxAmount:    "5000.00",
		TermDays:     15,
		BounceCharge: "150.00",
		LenderName:   "Test Capital",
	}
}

type fixture struct {
	wallets *wallet.Service
	store   *MemoryStore
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	wallets := wallet.NewService(wallet.NewMemoryStore())
	settlements := settlement.NewService(
		settlement.NewMemoryStore(), wallets, gateway.NewRouter(gateway.NewMockGateway()))
	store := NewMemoryStore()

	return &fixture{
		wallets: wallets,
		store:   store,
		service: NewService(store, wallets, settlements, testConfig()),
	}
}

func TestApply_DisbursesIntoWallet(t *testing.T) {
	f := newFixture(t)

	loan, err := f.service.Apply(context.Background(), "owner-1", "1000.00")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if loan.Status != StatusActive {
		t.Errorf("expected ACTIVE, got %s", loan.Status)
	}
	if loan.TransactionID == "" {
		t.Error("expected disbursal transaction recorded")
	}

	wantDue := time.Now().UTC().AddDate(0, 0, 15)
	if loan.RepaymentDueAt.Before(wantDue.Add(-time.Minute)) || loan.RepaymentDueAt.After(wantDue.Add(time.Minute)) {
		t.Errorf("expected due date ~15 days out, got %v", loan.RepaymentDueAt)
	}

	acct, err := f.wallets.GetBalance(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if acct.Balance != "1000.00" {
		t.Errorf("expected disbursed balance 1000.00, got %s", acct.Balance)
	}
}

func TestApply_Bounds(t *testing.T) {
	f := newFixture(t)

	if _, err := f.service.Apply(context.Background(), "owner-1", "99.99"); !errors.Is(err, ErrLoanLimitExceeded) {
		t.Errorf("below minimum: expected ErrLoanLimitExceeded, got %v", err)
	}
	if _, err := f.service.Apply(context.Background(), "owner-1", "5000.01"); !errors.Is(err, ErrLoanLimitExceeded) {
		t.Errorf("above maximum: expected ErrLoanLimitExceeded, got %v", err)
	}

	// Boundary values are accepted
	if _, err := f.service.Apply(context.Background(), "owner-1", "100.00"); err != nil {
		t.Errorf("minimum amount rejected: %v", err)
	}
}

func TestApply_SingleOutstandingLoan(t *testing.T) {
	f := newFixture(t)

	if _, err := f.service.Apply(context.Background(), "owner-1", "500.00"); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	if _, err := f.service.Apply(context.Background(), "owner-1", "500.00"); !errors.Is(err, ErrActiveLoanExists) {
		t.Errorf("expected ErrActiveLoanExists, got %v", err)
	}

	// A different owner is unaffected
	if _, err := f.service.Apply(context.Background(), "owner-2", "500.00"); err != nil {
		t.Errorf("second owner blocked: %v", err)
	}
}

func TestMemoryStore_CreateRejectsSecondOutstanding(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &Loan{LoanID: "loan_1", OwnerID: "owner-1", Amount: "500.00", Status: StatusActive}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The store itself is the guard, not just the service pre-check
	second := &Loan{LoanID: "loan_2", OwnerID: "owner-1", Amount: "500.00", Status: StatusActive}
	if err := store.Create(ctx, second); !errors.Is(err, ErrActiveLoanExists) {
		t.Fatalf("expected ErrActiveLoanExists, got %v", err)
	}

	// OVERDUE still counts as outstanding
	if err := store.MarkOverdue(ctx, "loan_1"); err != nil {
		t.Fatalf("MarkOverdue failed: %v", err)
	}
	if err := store.Create(ctx, second); !errors.Is(err, ErrActiveLoanExists) {
		t.Errorf("expected ErrActiveLoanExists against OVERDUE loan, got %v", err)
	}

	// A settled loan frees the slot
	if err := store.MarkRepaid(ctx, "loan_1", time.Now().UTC()); err != nil {
		t.Fatalf("MarkRepaid failed: %v", err)
	}
	if err := store.Create(ctx, second); err != nil {
		t.Errorf("expected Create to succeed after repayment, got %v", err)
	}
}

// createRaceStore simulates losing the one-outstanding-loan race: the
// pre-check sees no loan, but the insert hits the uniqueness guard.
type createRaceStore struct {
	*MemoryStore
}

func (s *createRaceStore) Create(ctx context.Context, loan *Loan) error {
	return ErrActiveLoanExists
}

func TestApply_ReversesDisbursalWhenRecordLosesRace(t *testing.T) {
	wallets := wallet.NewService(wallet.NewMemoryStore())
	settlements := settlement.NewService(
		settlement.NewMemoryStore(), wallets, gateway.NewRouter(gateway.NewMockGateway()))
	service := NewService(&createRaceStore{NewMemoryStore()}, wallets, settlements, testConfig())

	_, err := service.Apply(context.Background(), "owner-1", "500.00")
	if !errors.Is(err, ErrActiveLoanExists) {
		t.Fatalf("expected ErrActiveLoanExists, got %v", err)
	}

	// The disbursal was clawed back; no unaccounted credit remains
	acct, err := wallets.GetBalance(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if acct.Balance != "0.00" {
		t.Errorf("expected disbursal reversed to 0.00, got %s", acct.Balance)
	}
}

func TestRepay_OnTime(t *testing.T) {
	f := newFixture(t)

	loan, err := f.service.Apply(context.Background(), "owner-1", "1000.00")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	repaid, err := f.service.Repay(context.Background(), loan.LoanID)
	if err != nil {
		t.Fatalf("Repay failed: %v", err)
	}

	if repaid.Status != StatusRepaid {
		t.Errorf("expected REPAID, got %s", repaid.Status)
	}
	if repaid.RepaidAt == nil {
		t.Error("expected RepaidAt stamped")
	}

	// Principal only, no bounce charge
	acct, _ := f.wallets.GetBalance(context.Background(), "owner-1")
	if acct.Balance != "0.00" {
		t.Errorf("expected balance 0.00 after repayment, got %s", acct.Balance)
	}

	// A repaid owner can borrow again
	if _, err := f.service.Apply(context.Background(), "owner-1", "500.00"); err != nil {
		t.Errorf("repaid owner blocked from new loan: %v", err)
	}
}

func TestRepay_OverdueAddsBounceCharge(t *testing.T) {
	f := newFixture(t)

	loan, err := f.service.Apply(context.Background(), "owner-1", "1000.00")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Extra funds to cover the bounce charge
	_ = f.wallets.Credit(context.Background(), "owner-1", "200.00", "", wallet.KindCredit, "top-up")

	if err := f.store.MarkOverdue(context.Background(), loan.LoanID); err != nil {
		t.Fatalf("MarkOverdue failed: %v", err)
	}

	if _, err := f.service.Repay(context.Background(), loan.LoanID); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}

	// 1200.00 funded, 1000.00 principal + 150.00 bounce charge repaid
	acct, _ := f.wallets.GetBalance(context.Background(), "owner-1")
	if acct.Balance != "50.00" {
		t.Errorf("expected balance 50.00 after overdue repayment, got %s", acct.Balance)
	}
}

func TestRepay_InsufficientFunds(t *testing.T) {
	f := newFixture(t)

	loan, err := f.service.Apply(context.Background(), "owner-1", "1000.00")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Spend most of the disbursed funds
	_ = f.wallets.Debit(context.Background(), "owner-1", "950.00", "", "spent elsewhere")

	_, err = f.service.Repay(context.Background(), loan.LoanID)
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// The loan stays outstanding and nothing is locked
	got, _ := f.service.Get(context.Background(), loan.LoanID)
	if !got.Outstanding() {
		t.Errorf("loan should remain outstanding, got %s", got.Status)
	}
	acct, _ := f.wallets.GetBalance(context.Background(), "owner-1")
	if acct.LockedBalance != "0.00" {
		t.Errorf("failed repayment left funds locked: %s", acct.LockedBalance)
	}
}

func TestRepay_NotOutstanding(t *testing.T) {
	f := newFixture(t)

	loan, _ := f.service.Apply(context.Background(), "owner-1", "1000.00")
	if _, err := f.service.Repay(context.Background(), loan.LoanID); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}

	if _, err := f.service.Repay(context.Background(), loan.LoanID); !errors.Is(err, ErrLoanNotOutstanding) {
		t.Errorf("expected ErrLoanNotOutstanding on double repayment, got %v", err)
	}
}

func TestMarkOverdueLoans(t *testing.T) {
	f := newFixture(t)

	loan, err := f.service.Apply(context.Background(), "owner-1", "1000.00")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Not yet due
	if marked := f.service.MarkOverdueLoans(context.Background()); marked != 0 {
		t.Errorf("expected 0 marked, got %d", marked)
	}

	// Force the due date into the past
	f.store.mu.Lock()
	f.store.loans[loan.LoanID].RepaymentDueAt = time.Now().UTC().Add(-24 * time.Hour)
	f.store.mu.Unlock()

	if marked := f.service.MarkOverdueLoans(context.Background()); marked != 1 {
		t.Errorf("expected 1 marked, got %d", marked)
	}

	got, _ := f.service.Get(context.Background(), loan.LoanID)
	if got.Status != StatusOverdue {
		t.Errorf("expected OVERDUE, got %s", got.Status)
	}

	// Idempotent: already-overdue loans are not re-marked
	if marked := f.service.MarkOverdueLoans(context.Background()); marked != 0 {
		t.Errorf("expected 0 on second sweep, got %d", marked)
	}
}

func TestLoanHistory(t *testing.T) {
	f := newFixture(t)

	first, _ := f.service.Apply(context.Background(), "owner-1", "500.00")
	if _, err := f.service.Repay(context.Background(), first.LoanID); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}
	second, _ := f.service.Apply(context.Background(), "owner-1", "800.00")

	loans, err := f.service.History(context.Background(), "owner-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(loans) != 2 {
		t.Fatalf("expected 2 loans, got %d", len(loans))
	}
	if loans[0].LoanID != second.LoanID {
		t.Errorf("expected newest loan first")
	}
}
