package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/rupeeflow/walletengine/internal/gateway"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

type fixture struct {
	wallets *wallet.Service
	mock    *gateway.MockGateway
	store   *MemoryStore
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	wallets := wallet.NewService(wallet.NewMemoryStore())
	mock := gateway.NewMockGateway()
	store := NewMemoryStore()
	service := NewService(store, wallets, gateway.NewRouter(mock))

	return &fixture{wallets: wallets, mock: mock, store: store, service: service}
}

func (f *fixture) fundWallet(t *testing.T, ownerID, amount string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.wallets.CreateForOwner(ctx, ownerID); err != nil {
		t.Fatalf("CreateForOwner failed: %v", err)
	}
	if err := f.wallets.Credit(ctx, ownerID, amount, "", wallet.KindCredit, "test funding"); err != nil {
		t.Fatalf("funding credit failed: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, ownerID string) (string, string) {
	t.Helper()
	acct, err := f.wallets.GetBalance(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	return acct.Balance, acct.LockedBalance
}

func TestSubmit_SyncSuccess(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	tx, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1",
		Kind:    KindRecharge,
		Amount:  "199.00",
		Target:  "9876543210",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if tx.Status != StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", tx.Status)
	}
	if tx.ExternalRef == "" {
		t.Error("expected external ref recorded")
	}

	bal, locked := f.balance(t, "owner-1")
	if bal != "301.00" {
		t.Errorf("expected balance 301.00, got %s", bal)
	}
	if locked != "0.00" {
		t.Errorf("expected nothing locked after confirmation, got %s", locked)
	}

	// Full ledger trail: funding credit, lock, debit
	entries, _ := f.wallets.Ledger(context.Background(), "owner-1", 10)
	if len(entries) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(entries))
	}
	if entries[0].Kind != wallet.KindDebit || entries[1].Kind != wallet.KindLock {
		t.Errorf("unexpected ledger kinds: %s, %s", entries[0].Kind, entries[1].Kind)
	}
}

func TestSubmit_InsufficientBalanceLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "50.00")

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1",
		Kind:    KindBillPayment,
		Amount:  "100.00",
		Target:  "MSEB-12345",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	bal, locked := f.balance(t, "owner-1")
	if bal != "50.00" || locked != "0.00" {
		t.Errorf("balances changed on rejected settlement: %s / %s", bal, locked)
	}

	// An underfunded submission is rejected before anything is persisted
	history, _ := f.service.History(context.Background(), "owner-1", "", 10)
	if len(history) != 0 {
		t.Errorf("expected no transaction records, got %+v", history)
	}
}

func TestSubmit_ReservedFundsNotSpendable(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "100.00")

	f.mock.SubmitFunc = func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
		return &gateway.Result{Status: gateway.StatusPending, ExternalRef: "vnd_hold"}, nil
	}

	if _, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1", Kind: KindRecharge, Amount: "80.00", Target: "9876543210",
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The balance still shows the full 100.00, but only 20.00 is available
	_, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1", Kind: KindBillPayment, Amount: "50.00", Target: "MSEB-12345",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance against locked funds, got %v", err)
	}
}

func TestSubmit_InvalidKind(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1",
		Kind:    "GAMBLING",
		Amount:  "10.00",
	})
	if !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}
}

func TestSubmit_GatewayOutageReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "300.00")

	f.mock.SubmitFunc = func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
		return nil, gateway.ErrUnavailable
	}

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1",
		Kind:    KindRecharge,
		Amount:  "100.00",
		Target:  "9876543210",
	})
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	// Compensation returned the reserved funds
	bal, locked := f.balance(t, "owner-1")
	if bal != "300.00" || locked != "0.00" {
		t.Errorf("compensation failed: balance %s, locked %s", bal, locked)
	}

	history, _ := f.service.History(context.Background(), "owner-1", "", 10)
	if len(history) != 1 || history[0].Status != StatusFailed {
		t.Errorf("expected FAILED transaction, got %+v", history)
	}
}

func TestSubmit_PendingThenSuccessCallback(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	f.mock.SubmitFunc = func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
		return &gateway.Result{Status: gateway.StatusPending, ExternalRef: "vnd_123"}, nil
	}

	tx, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1",
		Kind:    KindRecharge,
		Amount:  "200.00",
		Target:  "9876543210",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tx.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", tx.Status)
	}

	// The balance holds the full amount while pending; the lock only
	// shrinks what is available
	bal, locked := f.balance(t, "owner-1")
	if bal != "500.00" || locked != "200.00" {
		t.Errorf("expected 500.00/200.00 while pending, got %s/%s", bal, locked)
	}
	acct, _ := f.wallets.GetBalance(context.Background(), "owner-1")
	if acct.AvailableBalance != "300.00" {
		t.Errorf("expected 300.00 available while pending, got %s", acct.AvailableBalance)
	}

	resolved, err := f.service.HandleCallback(context.Background(), "vnd_123", gateway.StatusSuccess, "")
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if resolved.Status != StatusSuccess {
		t.Errorf("expected SUCCESS after callback, got %s", resolved.Status)
	}

	bal, locked = f.balance(t, "owner-1")
	if bal != "300.00" || locked != "0.00" {
		t.Errorf("expected 300.00/0.00 after success, got %s/%s", bal, locked)
	}
}

func TestSubmit_PendingThenFailureCallbackRefundsWallet(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	f.mock.SubmitFunc = func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
		return &gateway.Result{Status: gateway.StatusPending, ExternalRef: "vnd_456"}, nil
	}

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1",
		Kind:    KindBillPayment,
		Amount:  "200.00",
		Target:  "MSEB-12345",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resolved, err := f.service.HandleCallback(context.Background(), "vnd_456", gateway.StatusFailed, "biller timeout")
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if resolved.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", resolved.Status)
	}
	if resolved.FailureReason != "biller timeout" {
		t.Errorf("expected failure reason recorded, got %q", resolved.FailureReason)
	}

	bal, locked := f.balance(t, "owner-1")
	if bal != "500.00" || locked != "0.00" {
		t.Errorf("expected full restore after failure, got %s/%s", bal, locked)
	}
}

func TestHandleCallback_DuplicateIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	f.mock.SubmitFunc = func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
		return &gateway.Result{Status: gateway.StatusPending, ExternalRef: "vnd_789"}, nil
	}

	_, _ = f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1", Kind: KindRecharge, Amount: "100.00", Target: "9876543210",
	})

	first, err := f.service.HandleCallback(context.Background(), "vnd_789", gateway.StatusSuccess, "")
	if err != nil {
		t.Fatalf("first callback failed: %v", err)
	}

	// The vendor retries with a contradictory status; the transaction
	// must not move and no funds may change hands
	second, err := f.service.HandleCallback(context.Background(), "vnd_789", gateway.StatusFailed, "retry")
	if err != nil {
		t.Fatalf("duplicate callback errored: %v", err)
	}
	if second.Status != first.Status {
		t.Errorf("duplicate callback changed status: %s -> %s", first.Status, second.Status)
	}

	bal, locked := f.balance(t, "owner-1")
	if bal != "400.00" || locked != "0.00" {
		t.Errorf("duplicate callback moved funds: %s/%s", bal, locked)
	}
}

func TestHandleCallback_UnknownRef(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.HandleCallback(context.Background(), "vnd_nope", gateway.StatusSuccess, "")
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestSubmit_TopupCreditsWallet(t *testing.T) {
	f := newFixture(t)

	// No wallet exists yet; a top-up creates one
	tx, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-new",
		Kind:    KindTopup,
		Amount:  "250.00",
		Target:  "pm_card_visa",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tx.Status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", tx.Status)
	}

	bal, locked := f.balance(t, "owner-new")
	if bal != "250.00" || locked != "0.00" {
		t.Errorf("expected 250.00/0.00, got %s/%s", bal, locked)
	}

	// Credit kinds never reserve
	entries, _ := f.wallets.Ledger(context.Background(), "owner-new", 10)
	for _, e := range entries {
		if e.Kind == wallet.KindLock {
			t.Error("top-up should not create a LOCK entry")
		}
	}
}

func TestRefund_SuccessfulDebitSettlement(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	tx, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1", Kind: KindRecharge, Amount: "100.00", Target: "9876543210",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	refunded, err := f.service.Refund(context.Background(), tx.TransactionID, nil)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("expected REFUNDED, got %s", refunded.Status)
	}

	bal, _ := f.balance(t, "owner-1")
	if bal != "500.00" {
		t.Errorf("expected balance restored to 500.00, got %s", bal)
	}

	// Ledger shows the refund as its own entry
	entries, _ := f.wallets.Ledger(context.Background(), "owner-1", 10)
	if entries[0].Kind != wallet.KindRefund {
		t.Errorf("expected newest entry REFUND, got %s", entries[0].Kind)
	}

	// Second refund is rejected
	if _, err := f.service.Refund(context.Background(), tx.TransactionID, nil); !errors.Is(err, ErrAlreadyRefunded) {
		t.Errorf("expected ErrAlreadyRefunded, got %v", err)
	}
}

func TestRefund_FailedSettlementIsStatusOnly(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	f.mock.SubmitFunc = func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
		return &gateway.Result{Status: gateway.StatusFailed, ExternalRef: "vnd_f1", Message: "declined"}, nil
	}

	tx, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1", Kind: KindRecharge, Amount: "100.00", Target: "9876543210",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tx.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", tx.Status)
	}

	balBefore, _ := f.balance(t, "owner-1")

	refunded, err := f.service.Refund(context.Background(), tx.TransactionID, nil)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("expected REFUNDED, got %s", refunded.Status)
	}

	balAfter, _ := f.balance(t, "owner-1")
	if balBefore != balAfter {
		t.Errorf("refunding a failed settlement moved funds: %s -> %s", balBefore, balAfter)
	}
}

func TestRefund_PendingNotRefundable(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	f.mock.SubmitFunc = func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
		return &gateway.Result{Status: gateway.StatusPending, ExternalRef: "vnd_p1"}, nil
	}

	tx, _ := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1", Kind: KindRecharge, Amount: "100.00", Target: "9876543210",
	})

	if _, err := f.service.Refund(context.Background(), tx.TransactionID, nil); !errors.Is(err, ErrNotRefundable) {
		t.Errorf("expected ErrNotRefundable, got %v", err)
	}
}

func TestRefund_SuccessfulTopupClawsBack(t *testing.T) {
	f := newFixture(t)

	tx, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1", Kind: KindTopup, Amount: "250.00", Target: "pm_card_visa",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := f.service.Refund(context.Background(), tx.TransactionID, nil); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	bal, _ := f.balance(t, "owner-1")
	if bal != "0.00" {
		t.Errorf("expected clawback to 0.00, got %s", bal)
	}
}

func TestHistory_KindFilterAppliesBeforeLimit(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	if _, err := f.service.Submit(context.Background(), SubmitRequest{
		OwnerID: "owner-1", Kind: KindBillPayment, Amount: "60.00", Target: "MSEB-12345",
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.service.Submit(context.Background(), SubmitRequest{
			OwnerID: "owner-1", Kind: KindRecharge, Amount: "10.00", Target: "9876543210",
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	// The bill payment is the oldest record; a post-fetch filter with
	// limit 1 would only ever see the newest recharge and return nothing
	history, err := f.service.History(context.Background(), "owner-1", KindBillPayment, 1)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Kind != KindBillPayment {
		t.Fatalf("expected the one BILL_PAYMENT, got %+v", history)
	}

	if _, err := f.service.History(context.Background(), "owner-1", "GAMBLING", 10); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind for unknown kind filter, got %v", err)
	}
}

func TestMemoryStore_UpdateStatusEnforcesLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx := &Transaction{TransactionID: "txn_cas", OwnerID: "owner-1",
		Kind: KindRecharge, Amount: "10.00", Status: StatusPending}
	if err := store.Create(ctx, tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.UpdateStatus(ctx, "txn_cas", StatusRefunded, ""); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict refunding a PENDING row, got %v", err)
	}
	if err := store.UpdateStatus(ctx, "txn_cas", StatusSuccess, ""); err != nil {
		t.Fatalf("UpdateStatus to SUCCESS failed: %v", err)
	}

	// A second resolver loses the race instead of overwriting
	if err := store.UpdateStatus(ctx, "txn_cas", StatusFailed, "late"); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict on double resolve, got %v", err)
	}
	if err := store.UpdateStatus(ctx, "txn_cas", StatusRefunded, ""); err != nil {
		t.Fatalf("UpdateStatus to REFUNDED failed: %v", err)
	}
}
