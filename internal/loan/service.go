package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rupeeflow/walletengine/internal/idgen"
	"github.com/rupeeflow/walletengine/internal/logging"
	"github.com/rupeeflow/walletengine/internal/metrics"
	"github.com/rupeeflow/walletengine/internal/money"
	"github.com/rupeeflow/walletengine/internal/settlement"
	"github.com/rupeeflow/walletengine/internal/traces"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

// Config bounds the loan product.
type Config struct {
	MinAmount    string
	MaxAmount    string
	TermDays     int
	BounceCharge string
	LenderName   string
}

// Service manages the loan lifecycle.
type Service struct {
	store       Store
	wallets     *wallet.Service
	settlements *settlement.Service
	cfg         Config
}

// NewService creates a loan service.
func NewService(store Store, wallets *wallet.Service, settlements *settlement.Service, cfg Config) *Service {
	return &Service{
		store:       store,
		wallets:     wallets,
		settlements: settlements,
		cfg:         cfg,
	}
}

// Apply disburses a loan into the owner's wallet. The disbursal runs as a
// LOAN_DISBURSAL settlement so the lender rail, callbacks, and the ledger
// trail all work exactly like any other credit settlement.
func (s *Service) Apply(ctx context.Context, ownerID, amount string) (*Loan, error) {
	ctx, span := traces.StartSpan(ctx, "loan.Apply",
		traces.OwnerID(ownerID), traces.Amount(amount))
	defer span.End()

	if !money.IsPositive(amount) {
		return nil, wallet.ErrInvalidAmount
	}
	if money.Cmp(amount, s.cfg.MinAmount) < 0 || money.Cmp(amount, s.cfg.MaxAmount) > 0 {
		return nil, ErrLoanLimitExceeded
	}

	if _, err := s.store.GetOutstandingByOwner(ctx, ownerID); err == nil {
		return nil, ErrActiveLoanExists
	} else if !errors.Is(err, ErrLoanNotFound) {
		return nil, err
	}

	tx, err := s.settlements.Submit(ctx, settlement.SubmitRequest{
		OwnerID: ownerID,
		Kind:    settlement.KindLoanDisbursal,
		Amount:  amount,
		Target:  s.cfg.LenderName,
	})
	if err != nil {
		return nil, fmt.Errorf("disbursal failed: %w", err)
	}
	if tx.Status == settlement.StatusFailed {
		return nil, fmt.Errorf("disbursal failed: %s", tx.FailureReason)
	}

	now := time.Now().UTC()
	loan := &Loan{
		LoanID:         idgen.WithPrefix("loan"),
		OwnerID:        ownerID,
		TransactionID:  tx.TransactionID,
		Amount:         amount,
		Status:         StatusActive,
		LenderName:     s.cfg.LenderName,
		BounceCharge:   s.cfg.BounceCharge,
		RepaymentDueAt: now.AddDate(0, 0, s.cfg.TermDays),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, loan); err != nil {
		// A racing Apply already holds the owner's one outstanding slot, or
		// the write failed outright. Either way the disbursal must not stand
		// without a loan record; claw it back through the refund path.
		logging.L(ctx).Error("loan record failed after disbursal",
			"transactionId", tx.TransactionID, "error", err)
		if _, rerr := s.settlements.Refund(ctx, tx.TransactionID, nil); rerr != nil {
			logging.L(ctx).Error("failed to reverse orphaned disbursal",
				"transactionId", tx.TransactionID, "error", rerr)
		}
		return nil, err
	}

	metrics.LoansTotal.WithLabelValues("disbursed").Inc()
	metrics.LoansActive.Inc()

	logging.L(ctx).Info("loan disbursed",
		"loanId", loan.LoanID,
		"ownerId", ownerID,
		"amount", amount,
		"dueAt", loan.RepaymentDueAt)

	return loan, nil
}

// Repay settles an outstanding loan from the owner's wallet. Overdue loans
// pay the bounce charge on top of the principal. The repayment runs through
// the reserve-and-confirm cycle so the ledger shows a LOCK then a DEBIT.
func (s *Service) Repay(ctx context.Context, loanID string) (*Loan, error) {
	ctx, span := traces.StartSpan(ctx, "loan.Repay", traces.LoanID(loanID))
	defer span.End()

	loan, err := s.store.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.Outstanding() {
		return nil, ErrLoanNotOutstanding
	}

	total := loan.Amount
	if loan.Status == StatusOverdue && money.IsPositive(loan.BounceCharge) {
		total = money.Add(total, loan.BounceCharge)
	}

	repayRef := idgen.WithPrefix("txn")
	if err := s.wallets.Reserve(ctx, loan.OwnerID, total, repayRef); err != nil {
		return nil, err
	}
	if err := s.wallets.ConfirmDebit(ctx, loan.OwnerID, total, repayRef); err != nil {
		// Funds are locked but not spent; put them back
		if rerr := s.wallets.Release(ctx, loan.OwnerID, total, repayRef); rerr != nil {
			logging.L(ctx).Error("failed to release repayment reservation", "error", rerr)
		}
		return nil, err
	}

	repaidAt := time.Now().UTC()
	if err := s.store.MarkRepaid(ctx, loanID, repaidAt); err != nil {
		return nil, err
	}

	metrics.LoansTotal.WithLabelValues("repaid").Inc()
	metrics.LoansActive.Dec()

	logging.L(ctx).Info("loan repaid",
		"loanId", loanID,
		"ownerId", loan.OwnerID,
		"total", total,
		"wasOverdue", loan.Status == StatusOverdue)

	return s.store.Get(ctx, loanID)
}

// Get returns one loan.
func (s *Service) Get(ctx context.Context, loanID string) (*Loan, error) {
	return s.store.Get(ctx, loanID)
}

// History returns an owner's loans, newest first.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]*Loan, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByOwner(ctx, ownerID, limit)
}

// MarkOverdueLoans flags ACTIVE loans past their due date. Called by the
// overdue timer; exported for a startup pass.
func (s *Service) MarkOverdueLoans(ctx context.Context) int {
	due, err := s.store.ListActiveDueBefore(ctx, time.Now().UTC(), 100)
	if err != nil {
		logging.L(ctx).Warn("failed to list due loans", "error", err)
		return 0
	}

	marked := 0
	for _, loan := range due {
		if err := s.store.MarkOverdue(ctx, loan.LoanID); err != nil {
			logging.L(ctx).Warn("failed to mark loan overdue", "loanId", loan.LoanID, "error", err)
			continue
		}
		marked++
		metrics.LoansTotal.WithLabelValues("overdue").Inc()
		logging.L(ctx).Info("loan marked overdue",
			"loanId", loan.LoanID,
			"ownerId", loan.OwnerID,
			"dueAt", loan.RepaymentDueAt)
	}
	return marked
}
