package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rupeeflow/walletengine/internal/gateway"
	"github.com/rupeeflow/walletengine/internal/idgen"
	"github.com/rupeeflow/walletengine/internal/logging"
	"github.com/rupeeflow/walletengine/internal/metrics"
	"github.com/rupeeflow/walletengine/internal/money"
	"github.com/rupeeflow/walletengine/internal/syncutil"
	"github.com/rupeeflow/walletengine/internal/traces"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

// SubmitRequest describes one settlement to execute.
type SubmitRequest struct {
	OwnerID string `json:"ownerId" binding:"required"`
	Kind    string `json:"kind" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
	Target  string `json:"target"`
}

// Service orchestrates settlements: wallet reservation, rail submission,
// and terminal resolution. All status transitions funnel through resolve,
// whether triggered by a synchronous rail response, a vendor callback, or
// the reconciler.
type Service struct {
	store   Store
	wallets *wallet.Service
	router  *gateway.Router
	locks   syncutil.ShardedMutex
}

// NewService creates a settlement service.
func NewService(store Store, wallets *wallet.Service, router *gateway.Router) *Service {
	return &Service{
		store:   store,
		wallets: wallets,
		router:  router,
	}
}

// Submit runs one settlement end to end. For debit kinds the wallet funds
// are reserved before the rail sees anything; on a synchronous terminal
// answer the reservation is settled immediately, otherwise the transaction
// stays PENDING until a callback or the reconciler closes it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.Submit",
		traces.OwnerID(req.OwnerID),
		traces.TransactionKind(req.Kind),
		traces.Amount(req.Amount))
	defer span.End()

	if !ValidKind(req.Kind) {
		return nil, ErrInvalidKind
	}
	if !money.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}

	if !CreditKind(req.Kind) {
		// Reject obviously unfunded submissions before anything is
		// persisted, so an underfunded request leaves no transaction
		// record. The reservation below re-checks atomically; this
		// pre-flight only decides whether a record should exist at all.
		acct, err := s.wallets.GetBalance(ctx, req.OwnerID)
		if err != nil {
			return nil, err
		}
		if money.Cmp(acct.AvailableBalance, req.Amount) < 0 {
			return nil, ErrInsufficientBalance
		}
	}

	now := time.Now().UTC()
	tx := &Transaction{
		TransactionID: idgen.WithPrefix("txn"),
		OwnerID:       req.OwnerID,
		Kind:          req.Kind,
		Amount:        req.Amount,
		Status:        StatusPending,
		Target:        req.Target,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if CreditKind(req.Kind) {
		// The wallet must exist before the rail reports success
		if _, err := s.wallets.GetOrCreate(ctx, req.OwnerID); err != nil {
			return nil, err
		}
	}

	if err := s.store.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	log := logging.L(ctx).With("transactionId", tx.TransactionID, "kind", tx.Kind)

	if !CreditKind(req.Kind) {
		if err := s.wallets.Reserve(ctx, req.OwnerID, req.Amount, tx.TransactionID); err != nil {
			if uerr := s.store.UpdateStatus(ctx, tx.TransactionID, StatusFailed, err.Error()); uerr != nil {
				log.Error("failed to mark unfunded transaction FAILED", "error", uerr)
			}
			metrics.SettlementsTotal.WithLabelValues(tx.Kind, StatusFailed).Inc()
			return nil, err
		}
	}

	gw, err := s.router.For(req.Kind)
	if err != nil {
		s.compensate(ctx, tx, "no gateway configured")
		return nil, err
	}

	result, err := gw.Submit(ctx, gateway.Request{
		TransactionID: tx.TransactionID,
		OwnerID:       tx.OwnerID,
		Kind:          tx.Kind,
		Amount:        tx.Amount,
		Target:        tx.Target,
	})
	if err != nil {
		log.Warn("gateway submission failed", "error", err)
		s.compensate(ctx, tx, "gateway unavailable: "+err.Error())
		return nil, err
	}

	if serr := s.store.SetExternalRef(ctx, tx.TransactionID, result.ExternalRef); serr != nil {
		// The settlement is live at the vendor; losing the ref only hurts
		// callback matching, and the reconciler can still query by kind
		log.Error("failed to record external ref", "externalRef", result.ExternalRef, "error", serr)
	}
	tx.ExternalRef = result.ExternalRef

	if gateway.Terminal(result.Status) {
		return s.resolve(ctx, tx.TransactionID, result.Status, result.Message, "sync")
	}

	log.Info("settlement pending at vendor", "externalRef", result.ExternalRef)
	return s.store.Get(ctx, tx.TransactionID)
}

// compensate unwinds a reservation and fails the transaction after the
// rail could not take it. Best effort: a failed release is logged and left
// for the reconciler, which treats FAILED transactions with live locks as
// releasable.
func (s *Service) compensate(ctx context.Context, tx *Transaction, reason string) {
	log := logging.L(ctx).With("transactionId", tx.TransactionID)

	if !CreditKind(tx.Kind) {
		if err := s.wallets.Release(ctx, tx.OwnerID, tx.Amount, tx.TransactionID); err != nil {
			log.Error("failed to release reservation during compensation", "error", err)
		}
	}
	if err := s.store.UpdateStatus(ctx, tx.TransactionID, StatusFailed, reason); err != nil {
		log.Error("failed to mark transaction FAILED during compensation", "error", err)
	}
	metrics.SettlementsTotal.WithLabelValues(tx.Kind, StatusFailed).Inc()
}

// HandleCallback processes a vendor's asynchronous settlement result.
// Callbacks for transactions already terminal are acknowledged as no-ops;
// vendors retry callbacks aggressively.
func (s *Service) HandleCallback(ctx context.Context, externalRef, status, message string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.HandleCallback",
		traces.ExternalRef(externalRef))
	defer span.End()

	tx, err := s.store.GetByExternalRef(ctx, externalRef)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("unknown_ref").Inc()
		return nil, err
	}

	if !gateway.Terminal(status) {
		metrics.CallbacksTotal.WithLabelValues("non_terminal").Inc()
		return tx, nil
	}

	resolved, err := s.resolve(ctx, tx.TransactionID, status, message, "callback")
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.CallbacksTotal.WithLabelValues("applied").Inc()
	return resolved, nil
}

// resolve moves a PENDING transaction to a terminal status and settles the
// wallet side. Serialized per transaction ID; a transaction already
// terminal is returned unchanged, which makes duplicate callbacks, racing
// sync responses, and reconciler sweeps all converge on one outcome.
func (s *Service) resolve(ctx context.Context, transactionID, status, message, source string) (*Transaction, error) {
	unlock := s.locks.Lock(transactionID)
	defer unlock()

	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Terminal() {
		return tx, nil
	}

	log := logging.L(ctx).With(
		"transactionId", tx.TransactionID,
		"kind", tx.Kind,
		"status", status,
		"source", source)

	switch status {
	case gateway.StatusSuccess:
		if CreditKind(tx.Kind) {
			err = s.wallets.Credit(ctx, tx.OwnerID, tx.Amount, tx.TransactionID,
				wallet.KindCredit, creditDescription(tx.Kind))
		} else {
			err = s.wallets.ConfirmDebit(ctx, tx.OwnerID, tx.Amount, tx.TransactionID)
		}
		if err != nil {
			// Leave the transaction PENDING; the reconciler retries once
			// the wallet settles
			log.Error("failed to settle wallet side", "error", err)
			return nil, err
		}
		if err := s.store.UpdateStatus(ctx, tx.TransactionID, StatusSuccess, ""); err != nil && !errors.Is(err, ErrStatusConflict) {
			return nil, err
		}

	case gateway.StatusFailed:
		if !CreditKind(tx.Kind) {
			// Release only what this transaction itself reserved. The locked
			// balance pools every live reservation, so a transaction whose
			// LOCK never landed (or was already unwound) must not be allowed
			// to unlock funds held for someone else.
			held, err := s.reservationHeld(ctx, tx.TransactionID)
			if err != nil {
				return nil, err
			}
			if held {
				if err := s.wallets.Release(ctx, tx.OwnerID, tx.Amount, tx.TransactionID); err != nil {
					log.Error("failed to release reservation", "error", err)
					return nil, err
				}
			} else {
				log.Warn("no live reservation to release for failed settlement")
			}
		}
		if err := s.store.UpdateStatus(ctx, tx.TransactionID, StatusFailed, message); err != nil && !errors.Is(err, ErrStatusConflict) {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("cannot resolve to non-terminal status %q", status)
	}

	metrics.SettlementsTotal.WithLabelValues(tx.Kind, status).Inc()
	metrics.SettlementDuration.Observe(time.Since(tx.CreatedAt).Seconds())
	log.Info("settlement resolved", "amount", tx.Amount)

	return s.store.Get(ctx, tx.TransactionID)
}

// Refund reverses a terminal settlement. A successful debit settlement
// credits the amount back as a REFUND ledger entry; a successful credit
// settlement claws the funds back out of the wallet. Failed settlements
// already released their funds, so the refund is a status correction only.
// A non-nil audit commits together with the wallet movement; for
// status-only refunds it is persisted standalone.
func (s *Service) Refund(ctx context.Context, transactionID string, audit *wallet.AuditRecord) (*Transaction, error) {
	unlock := s.locks.Lock(transactionID)
	defer unlock()

	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	switch tx.Status {
	case StatusRefunded:
		return nil, ErrAlreadyRefunded
	case StatusPending:
		return nil, ErrNotRefundable
	case StatusSuccess:
		if CreditKind(tx.Kind) {
			err = s.wallets.DebitAudited(ctx, tx.OwnerID, tx.Amount, tx.TransactionID,
				"settlement reversed", audit)
		} else {
			err = s.wallets.CreditAudited(ctx, tx.OwnerID, tx.Amount, tx.TransactionID,
				wallet.KindRefund, "settlement refunded", audit)
		}
		if err != nil && !errors.Is(err, wallet.ErrDuplicateEntry) {
			return nil, err
		}
	case StatusFailed:
		// Funds already back in the wallet; only the status moves
		if audit != nil {
			if err := s.wallets.RecordAudit(ctx, audit); err != nil {
				logging.L(ctx).Error("failed to record refund audit",
					"transactionId", tx.TransactionID, "error", err)
			}
		}
	}

	if err := s.store.UpdateStatus(ctx, tx.TransactionID, StatusRefunded, ""); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrAlreadyRefunded
		}
		return nil, err
	}
	metrics.SettlementsTotal.WithLabelValues(tx.Kind, StatusRefunded).Inc()

	logging.L(ctx).Info("settlement refunded",
		"transactionId", tx.TransactionID, "previousStatus", tx.Status)

	return s.store.Get(ctx, tx.TransactionID)
}

// Get returns one transaction.
func (s *Service) Get(ctx context.Context, transactionID string) (*Transaction, error) {
	return s.store.Get(ctx, transactionID)
}

// History returns an owner's most recent transactions, restricted to one
// kind when kind is non-empty.
func (s *Service) History(ctx context.Context, ownerID, kind string, limit int) ([]*Transaction, error) {
	if kind != "" && !ValidKind(kind) {
		return nil, ErrInvalidKind
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByOwner(ctx, ownerID, kind, limit)
}

// reservationHeld reports whether transactionID has a LOCK entry that was
// not yet consumed or released.
func (s *Service) reservationHeld(ctx context.Context, transactionID string) (bool, error) {
	locked, err := s.wallets.HasTransactionEntry(ctx, transactionID, wallet.KindLock)
	if err != nil || !locked {
		return false, err
	}
	released, err := s.wallets.HasTransactionEntry(ctx, transactionID, wallet.KindUnlock)
	if err != nil {
		return false, err
	}
	if released {
		return false, nil
	}
	debited, err := s.wallets.HasTransactionEntry(ctx, transactionID, wallet.KindDebit)
	if err != nil {
		return false, err
	}
	return !debited, nil
}

func creditDescription(kind string) string {
	if kind == KindLoanDisbursal {
		return "loan disbursed"
	}
	return "wallet top-up"
}
