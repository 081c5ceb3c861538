// Package loan provides the short-term credit product on top of wallets.
//
// A loan disburses into the owner's wallet through the settlement engine
// and is repaid from the wallet before its due date. One outstanding loan
// per owner; an overdue repayment picks up a bounce charge.
package loan

import (
	"context"
	"errors"
	"time"
)

// Loan statuses.
const (
	StatusActive  = "ACTIVE"
	StatusRepaid  = "REPAID"
	StatusOverdue = "OVERDUE"
)

var (
	ErrLoanNotFound       = errors.New("loan not found")
	ErrActiveLoanExists   = errors.New("owner already has an outstanding loan")
	ErrLoanLimitExceeded  = errors.New("amount outside loan limits")
	ErrLoanNotOutstanding = errors.New("loan is not outstanding")
)

// Loan is one disbursed credit line.
type Loan struct {
	LoanID         string     `json:"loanId"`
	OwnerID        string     `json:"ownerId"`
	TransactionID  string     `json:"transactionId"` // disbursal settlement
	Amount         string     `json:"amount"`
	Status         string     `json:"status"`
	LenderName     string     `json:"lenderName"`
	BounceCharge   string     `json:"bounceCharge"`
	RepaymentDueAt time.Time  `json:"repaymentDueAt"`
	RepaidAt       *time.Time `json:"repaidAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Outstanding reports whether the loan still needs repayment.
func (l *Loan) Outstanding() bool {
	return l.Status == StatusActive || l.Status == StatusOverdue
}

// Store persists loans.
type Store interface {
	Create(ctx context.Context, loan *Loan) error
	Get(ctx context.Context, loanID string) (*Loan, error)

	// GetOutstandingByOwner returns the owner's ACTIVE or OVERDUE loan,
	// or ErrLoanNotFound when there is none.
	GetOutstandingByOwner(ctx context.Context, ownerID string) (*Loan, error)

	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Loan, error)

	// MarkRepaid moves a loan to REPAID and stamps the repayment time.
	MarkRepaid(ctx context.Context, loanID string, repaidAt time.Time) error

	// MarkOverdue moves a loan to OVERDUE.
	MarkOverdue(ctx context.Context, loanID string) error

	// ListActiveDueBefore returns ACTIVE loans whose due date has passed.
	ListActiveDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Loan, error)
}
