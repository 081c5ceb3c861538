// Package admin provides operator-only balance corrections and refunds,
// each recorded in a durable audit trail.
package admin

import (
	"errors"

	"github.com/rupeeflow/walletengine/internal/wallet"
)

// Audit actions.
const (
	ActionAdjustCredit = "ADJUST_CREDIT"
	ActionAdjustDebit  = "ADJUST_DEBIT"
	ActionRefund       = "REFUND"
)

var ErrInvalidAdjustmentKind = errors.New("invalid adjustment kind")

// Audit is one immutable record of an administrative action.
// PreviousBalance snapshots the total balance before the action ran.
//
// Audits live in the wallet store so a record and the ledger mutation it
// describes commit in one atomic unit.
type Audit = wallet.AuditRecord
