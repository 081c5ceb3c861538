package admin

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rupeeflow/walletengine/internal/gateway"
	"github.com/rupeeflow/walletengine/internal/settlement"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

type fixture struct {
	wallets     *wallet.Service
	settlements *settlement.Service
	service     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	wallets := wallet.NewService(wallet.NewMemoryStore())
	settlements := settlement.NewService(
		settlement.NewMemoryStore(), wallets, gateway.NewRouter(gateway.NewMockGateway()))

	return &fixture{
		wallets:     wallets,
		settlements: settlements,
		service:     NewService(wallets, settlements),
	}
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

func TestAdjust_Credit(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "100.00")

	audit, err := f.service.Adjust(context.Background(), "ops-alice", "owner-1", AdjustCredit, "50.00", "goodwill credit")
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}

	if audit.Action != ActionAdjustCredit {
		t.Errorf("expected action %s, got %s", ActionAdjustCredit, audit.Action)
	}
	if audit.PreviousBalance != "100.00" {
		t.Errorf("expected previous balance 100.00, got %s", audit.PreviousBalance)
	}
	if !strings.HasPrefix(audit.TransactionID, "adj_") {
		t.Errorf("expected adj_ transaction id, got %s", audit.TransactionID)
	}

	acct, _ := f.wallets.GetBalance(context.Background(), "owner-1")
	if acct.Balance != "150.00" {
		t.Errorf("expected balance 150.00, got %s", acct.Balance)
	}

	// The correction lands in the owner's ledger under the adj_ id
	entries, _ := f.wallets.Ledger(context.Background(), "owner-1", 10)
	if len(entries) == 0 || entries[0].TransactionID != audit.TransactionID {
		t.Error("expected newest ledger entry tied to the adjustment")
	}
}

func TestAdjust_Debit(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "100.00")

	audit, err := f.service.Adjust(context.Background(), "ops-alice", "owner-1", AdjustDebit, "40.00", "duplicate top-up reversal")
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if audit.Action != ActionAdjustDebit {
		t.Errorf("expected action %s, got %s", ActionAdjustDebit, audit.Action)
	}

	acct, _ := f.wallets.GetBalance(context.Background(), "owner-1")
	if acct.Balance != "60.00" {
		t.Errorf("expected balance 60.00, got %s", acct.Balance)
	}
}

func TestAdjust_DebitInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "30.00")

	_, err := f.service.Adjust(context.Background(), "ops-alice", "owner-1", AdjustDebit, "100.00", "reversal")
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Failed adjustments leave no audit record
	audits, _ := f.service.ListAudits(context.Background(), "owner-1", 10)
	if len(audits) != 0 {
		t.Errorf("expected no audits, got %d", len(audits))
	}
}

func TestAdjust_InvalidKind(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "30.00")

	_, err := f.service.Adjust(context.Background(), "ops-alice", "owner-1", "TRANSFER", "10.00", "oops")
	if !errors.Is(err, ErrInvalidAdjustmentKind) {
		t.Fatalf("expected ErrInvalidAdjustmentKind, got %v", err)
	}
}

func TestAdjust_UnknownWallet(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Adjust(context.Background(), "ops-alice", "no-such-owner", AdjustCredit, "10.00", "credit")
	if !errors.Is(err, wallet.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestRefundTransaction(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	tx, err := f.settlements.Submit(context.Background(), settlement.SubmitRequest{
		OwnerID: "owner-1",
		Kind:    settlement.KindRecharge,
		Amount:  "199.00",
		Target:  "9876543210",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tx.Status != settlement.StatusSuccess {
		t.Fatalf("expected SUCCESS before refund, got %s", tx.Status)
	}

	refunded, err := f.service.RefundTransaction(context.Background(), "ops-alice", tx.TransactionID, "customer complaint")
	if err != nil {
		t.Fatalf("RefundTransaction failed: %v", err)
	}
	if refunded.Status != settlement.StatusRefunded {
		t.Errorf("expected REFUNDED, got %s", refunded.Status)
	}

	acct, _ := f.wallets.GetBalance(context.Background(), "owner-1")
	if acct.Balance != "500.00" {
		t.Errorf("expected balance restored to 500.00, got %s", acct.Balance)
	}

	audits, _ := f.service.ListAudits(context.Background(), "owner-1", 10)
	if len(audits) != 1 {
		t.Fatalf("expected 1 audit, got %d", len(audits))
	}
	if audits[0].Action != ActionRefund {
		t.Errorf("expected action %s, got %s", ActionRefund, audits[0].Action)
	}
	if audits[0].ActorID != "ops-alice" {
		t.Errorf("expected actor ops-alice, got %s", audits[0].ActorID)
	}
	if audits[0].PreviousBalance != "301.00" {
		t.Errorf("expected previous balance 301.00, got %s", audits[0].PreviousBalance)
	}
}

func TestRefundTransaction_AlreadyRefunded(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "500.00")

	tx, err := f.settlements.Submit(context.Background(), settlement.SubmitRequest{
		OwnerID: "owner-1",
		Kind:    settlement.KindRecharge,
		Amount:  "199.00",
		Target:  "9876543210",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.service.RefundTransaction(context.Background(), "ops-alice", tx.TransactionID, "first"); err != nil {
		t.Fatalf("first refund failed: %v", err)
	}

	_, err = f.service.RefundTransaction(context.Background(), "ops-bob", tx.TransactionID, "second")
	if !errors.Is(err, settlement.ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}

	// Only the successful refund is audited
	audits, _ := f.service.ListAudits(context.Background(), "owner-1", 10)
	if len(audits) != 1 {
		t.Errorf("expected 1 audit, got %d", len(audits))
	}
}

func TestListAudits_FilterAndOrder(t *testing.T) {
	f := newFixture(t)
	f.fundWallet(t, "owner-1", "100.00")
	f.fundWallet(t, "owner-2", "100.00")

	if _, err := f.service.Adjust(context.Background(), "ops-alice", "owner-1", AdjustCredit, "10.00", "first"); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if _, err := f.service.Adjust(context.Background(), "ops-alice", "owner-2", AdjustCredit, "10.00", "other owner"); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	second, err := f.service.Adjust(context.Background(), "ops-bob", "owner-1", AdjustDebit, "5.00", "second")
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}

	audits, err := f.service.ListAudits(context.Background(), "owner-1", 10)
	if err != nil {
		t.Fatalf("ListAudits failed: %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("expected 2 audits for owner-1, got %d", len(audits))
	}
	if audits[0].ID != second.ID {
		t.Errorf("expected newest audit first")
	}

	all, _ := f.service.ListAudits(context.Background(), "", 10)
	if len(all) != 3 {
		t.Errorf("expected 3 audits unfiltered, got %d", len(all))
	}
}
