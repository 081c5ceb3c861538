// Package settlement orchestrates wallet-funded transactions against
// external rails.
//
// Lifecycle:
//
//	PENDING -> SUCCESS
//	PENDING -> FAILED
//	SUCCESS -> REFUNDED
//	FAILED  -> REFUNDED   (status correction only, no funds move)
//
// Debit kinds reserve wallet funds before the rail sees the transaction;
// the reservation is confirmed on SUCCESS and released on FAILED. Credit
// kinds skip the reservation and credit the wallet when the rail reports
// SUCCESS. Terminal statuses never change again except through Refund.
package settlement

import (
	"context"
	"errors"
	"time"
)

// Transaction kinds.
const (
	KindRecharge      = "RECHARGE"       // mobile/DTH recharge, debits the wallet
	KindBillPayment   = "BILL_PAYMENT"   // utility bill payment, debits the wallet
	KindPayout        = "PAYOUT"         // transfer to an external account, debits the wallet
	KindTopup         = "TOPUP"          // card-funded wallet load, credits the wallet
	KindLoanDisbursal = "LOAN_DISBURSAL" // lender-funded credit into the wallet
)

// Transaction statuses.
const (
	StatusPending  = "PENDING"
	StatusSuccess  = "SUCCESS"
	StatusFailed   = "FAILED"
	StatusRefunded = "REFUNDED"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidKind         = errors.New("invalid transaction kind")
	ErrInvalidAmount       = errors.New("invalid amount")

	// ErrInsufficientBalance rejects a debit submission whose amount
	// exceeds the available balance. The check runs before any transaction
	// record exists, so a rejected submission leaves no trace.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	ErrAlreadyRefunded  = errors.New("transaction already refunded")
	ErrNotRefundable    = errors.New("transaction is not refundable")
	ErrExternalRefTaken = errors.New("external reference already recorded")

	// ErrStatusConflict reports an UpdateStatus whose transition is not
	// allowed from the row's current status, typically because another
	// instance already resolved the transaction.
	ErrStatusConflict = errors.New("transaction status conflict")
)

// Transaction is one settlement moving through the lifecycle.
type Transaction struct {
	TransactionID string    `json:"transactionId"`
	OwnerID       string    `json:"ownerId"`
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	ExternalRef   string    `json:"externalRef,omitempty"`
	Target        string    `json:"target,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Terminal reports whether the transaction reached a final status.
func (t *Transaction) Terminal() bool {
	return t.Status != StatusPending
}

// CreditKind reports whether the kind adds funds to the wallet instead of
// spending them.
func CreditKind(kind string) bool {
	return kind == KindTopup || kind == KindLoanDisbursal
}

// ValidKind reports whether the kind is one we settle.
func ValidKind(kind string) bool {
	switch kind {
	case KindRecharge, KindBillPayment, KindPayout, KindTopup, KindLoanDisbursal:
		return true
	}
	return false
}

// Store persists settlement transactions.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, transactionID string) (*Transaction, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*Transaction, error)

	// SetExternalRef records the rail's reference on a PENDING transaction.
	SetExternalRef(ctx context.Context, transactionID, externalRef string) error

	// UpdateStatus moves a transaction to a new status, enforcing the
	// lifecycle: terminal statuses are reachable only from PENDING, and
	// REFUNDED only from SUCCESS or FAILED. A transition the current
	// status does not allow returns ErrStatusConflict, so two instances
	// resolving the same transaction converge instead of both writing.
	// failureReason is persisted only for FAILED.
	UpdateStatus(ctx context.Context, transactionID, status, failureReason string) error

	// ListByOwner returns an owner's newest transactions, filtered to one
	// kind when kind is non-empty.
	ListByOwner(ctx context.Context, ownerID, kind string, limit int) ([]*Transaction, error)

	// ListPendingOlderThan returns PENDING transactions created before the
	// cutoff, oldest first. The reconciler feeds on this.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
}
