package admin

import (
	"context"

	"github.com/rupeeflow/walletengine/internal/idgen"
	"github.com/rupeeflow/walletengine/internal/logging"
	"github.com/rupeeflow/walletengine/internal/metrics"
	"github.com/rupeeflow/walletengine/internal/settlement"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

// Adjustment kinds accepted by Adjust.
const (
	AdjustCredit = "CREDIT"
	AdjustDebit  = "DEBIT"
)

// Service performs administrative corrections against wallets and
// settlements. Every action carries an audit record that the wallet layer
// commits together with the ledger mutation, so the trail can never show
// a correction the ledger lacks or vice versa.
type Service struct {
	wallets     *wallet.Service
	settlements *settlement.Service
}

// NewService creates an admin service.
func NewService(wallets *wallet.Service, settlements *settlement.Service) *Service {
	return &Service{wallets: wallets, settlements: settlements}
}

// Adjust applies a manual balance correction. The adjustment lands in the
// wallet ledger under a generated adj_ transaction id; the audit record
// commits in the same transaction and captures the balance as it stood
// when the correction applied.
func (s *Service) Adjust(ctx context.Context, actorID, ownerID, kind, amount, reason string) (*Audit, error) {
	if kind != AdjustCredit && kind != AdjustDebit {
		return nil, ErrInvalidAdjustmentKind
	}

	action := ActionAdjustCredit
	if kind == AdjustDebit {
		action = ActionAdjustDebit
	}
	txnID := idgen.WithPrefix("adj")
	audit := &Audit{
		ActorID:       actorID,
		Action:        action,
		OwnerID:       ownerID,
		TransactionID: txnID,
		Amount:        amount,
		Reason:        reason,
	}

	var err error
	if kind == AdjustCredit {
		err = s.wallets.CreditAudited(ctx, ownerID, amount, txnID, wallet.KindCredit, reason, audit)
	} else {
		err = s.wallets.DebitAudited(ctx, ownerID, amount, txnID, reason, audit)
	}
	if err != nil {
		return nil, err
	}
	metrics.AdminAdjustmentsTotal.WithLabelValues(kind).Inc()

	logging.L(ctx).Info("admin adjustment applied",
		"actorId", actorID,
		"ownerId", ownerID,
		"kind", kind,
		"amount", amount,
		"transactionId", txnID)
	return audit, nil
}

// RefundTransaction reverses a settled transaction on an operator's behalf
// and audits who ordered the reversal and why. When the refund moves funds
// the audit commits atomically with the REFUND or clawback entry.
func (s *Service) RefundTransaction(ctx context.Context, actorID, transactionID, reason string) (*settlement.Transaction, error) {
	audit := &Audit{
		ActorID:       actorID,
		Action:        ActionRefund,
		TransactionID: transactionID,
		Reason:        reason,
	}
	if tx, err := s.settlements.Get(ctx, transactionID); err == nil {
		audit.OwnerID = tx.OwnerID
		audit.Amount = tx.Amount
	}

	tx, err := s.settlements.Refund(ctx, transactionID, audit)
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("admin refund applied",
		"actorId", actorID,
		"transactionId", transactionID,
		"ownerId", tx.OwnerID)
	return tx, nil
}

// ListAudits returns the newest audit records for an owner.
func (s *Service) ListAudits(ctx context.Context, ownerID string, limit int) ([]*Audit, error) {
	return s.wallets.ListAudits(ctx, ownerID, limit)
}
