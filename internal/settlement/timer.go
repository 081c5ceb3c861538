package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rupeeflow/walletengine/internal/gateway"
	"github.com/rupeeflow/walletengine/internal/metrics"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

// Reconciler periodically sweeps PENDING settlements whose callback window
// has passed and forces them to a terminal status: by asking the rail, or
// by failing transactions the rail never heard of.
type Reconciler struct {
	service        *Service
	store          Store
	wallets        *wallet.Service
	router         *gateway.Router
	interval       time.Duration
	callbackWindow time.Duration
	logger         *slog.Logger
	stop           chan struct{}
	running        atomic.Bool
}

// NewReconciler creates a settlement reconciler.
func NewReconciler(service *Service, store Store, wallets *wallet.Service, router *gateway.Router,
	interval, callbackWindow time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		service:        service,
		store:          store,
		wallets:        wallets,
		router:         router,
		interval:       interval,
		callbackWindow: callbackWindow,
		logger:         logger,
		stop:           make(chan struct{}),
	}
}

// Running reports whether the reconciler loop is actively running.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// Start begins the reconciliation loop. Call in a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeSweep(ctx)
		}
	}
}

// Stop signals the reconciler to stop.
func (r *Reconciler) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Reconciler) safeSweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in settlement reconciler", "panic", fmt.Sprint(rec))
		}
	}()
	r.SweepOnce(ctx)
}

// SweepOnce runs a single reconciliation pass. Exported so the server can
// run a pass at startup to clean up settlements stranded by a crash.
func (r *Reconciler) SweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.callbackWindow)

	stale, err := r.store.ListPendingOlderThan(ctx, cutoff, 100)
	if err != nil {
		r.logger.Warn("failed to list stale settlements", "error", err)
		return
	}

	for _, tx := range stale {
		r.reconcile(ctx, tx)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, tx *Transaction) {
	log := r.logger.With("transactionId", tx.TransactionID, "kind", tx.Kind)

	// A debit settlement with no LOCK entry crashed between creating the
	// transaction and reserving funds. Nothing ever left the wallet.
	if !CreditKind(tx.Kind) {
		locked, err := r.wallets.HasTransactionEntry(ctx, tx.TransactionID, wallet.KindLock)
		if err != nil {
			log.Warn("failed to check for reservation", "error", err)
			return
		}
		if !locked {
			r.fail(ctx, tx, "reservation never recorded", "orphaned")
			return
		}
	}

	// Never submitted to a rail: no vendor will ever call back
	if tx.ExternalRef == "" {
		r.fail(ctx, tx, "never submitted to gateway", "unsubmitted")
		return
	}

	gw, err := r.router.For(tx.Kind)
	if err != nil {
		log.Warn("no gateway to query", "error", err)
		return
	}

	result, err := gw.QueryStatus(ctx, tx.ExternalRef)
	if errors.Is(err, gateway.ErrUnknownRef) {
		r.fail(ctx, tx, "unknown at vendor", "unknown_ref")
		return
	}
	if err != nil {
		log.Warn("status query failed, will retry next sweep", "error", err)
		return
	}

	if !gateway.Terminal(result.Status) {
		log.Debug("still pending at vendor", "externalRef", tx.ExternalRef)
		return
	}

	if _, err := r.service.resolve(ctx, tx.TransactionID, result.Status, result.Message, "reconciler"); err != nil {
		log.Warn("failed to resolve reconciled settlement", "error", err)
		return
	}

	metrics.ReconciledTotal.WithLabelValues("queried").Inc()
	log.Info("reconciled stale settlement", "status", result.Status)
}

func (r *Reconciler) fail(ctx context.Context, tx *Transaction, reason, outcome string) {
	if _, err := r.service.resolve(ctx, tx.TransactionID, gateway.StatusFailed, reason, "reconciler"); err != nil {
		r.logger.Warn("failed to fail stale settlement",
			"transactionId", tx.TransactionID, "error", err)
		return
	}
	metrics.ReconciledTotal.WithLabelValues(outcome).Inc()
	r.logger.Info("failed stale settlement",
		"transactionId", tx.TransactionID, "reason", reason)
}
