package usecase_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/ledgertest"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
)

func seedPending(t *testing.T, h *ledgertest.Harness, txs ...*domain.Transaction) {
	t.Helper()
	ctx := context.Background()
	conn, err := h.Pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Release()

	now := time.Now().UTC()
	err = h.Store.RunInTx(ctx, conn, func(tx usecase.Tx) error {
		for _, tr := range txs {
			tr.Status = domain.TransactionStatusPending
			tr.CreatedAt, tr.UpdatedAt = now, now
			if _, err := tx.InsertTransaction(tr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed pending: %v", err)
	}
}

func TestRecoverPendingTransactions(t *testing.T) {
	h := ledgertest.New(t)
	n := &recordingNotifier{}
	e := h.Engine(usecase.WithNotifier(n))
	ctx := context.Background()
	openWithBalance(t, e, "A", "10")
	n.events = nil

	replayable := &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeDeposit, To: "A", Amount: d("5")}
	overdraw := &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeWithdraw, From: "A", Amount: d("1000")}
	noAmount := &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeDeposit, To: "A"}
	noSide := &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeTransfer, From: "A", Amount: d("1")}
	seedPending(t, h, replayable, overdraw, noAmount, noSide)

	report, err := e.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	want := usecase.RecoveryReport{Scanned: 4, Applied: 1, Rejected: 1, Unrecoverable: 2}
	if report != want {
		t.Fatalf("report = %+v, want %+v", report, want)
	}

	statuses := map[uuid.UUID]domain.TransactionStatus{
		replayable.ID: domain.TransactionStatusApplied,
		overdraw.ID:   domain.TransactionStatusRejected,
		noAmount.ID:   domain.TransactionStatusRejected,
		noSide.ID:     domain.TransactionStatusRejected,
	}
	for id, status := range statuses {
		got, err := h.Reader.GetTransaction(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != status {
			t.Errorf("%s status = %s, want %s", id, got.Status, status)
		}
	}
	got, _ := h.Reader.GetTransaction(ctx, noSide.ID)
	if got.Reason != domain.ReasonUnrecoverable {
		t.Errorf("reason = %q", got.Reason)
	}

	// 不會猜測金額，只有可重放的那筆影響餘額
	if !balanceOf(t, h, "A").Equal(d("15")) {
		t.Fatalf("balance = %s, want 15", balanceOf(t, h, "A"))
	}
	if len(n.events) != 4 {
		t.Errorf("events = %d, want 4", len(n.events))
	}

	again, err := e.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Scanned != 0 {
		t.Fatalf("second recovery scanned %d", again.Scanned)
	}
}

func TestRecoverKeepsExactAmount(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "0")

	pending := &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeDeposit, To: "A", Amount: d("1234567890123.4567")}
	seedPending(t, h, pending)

	report, err := e.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if report.Applied != 1 {
		t.Fatalf("report = %+v", report)
	}
	if got := balanceOf(t, h, "A").String(); got != "1234567890123.4567" {
		t.Fatalf("balance = %s", got)
	}
	stored, err := h.Reader.GetTransaction(ctx, pending.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.TransactionStatusApplied || !stored.Amount.Equal(pending.Amount) {
		t.Fatalf("stored = %+v", stored)
	}

	// 呼叫端重送同一筆，金額一致才算重放
	if _, err := e.Deposit(ctx, "A", d("1234567890123.4567"), pending.ID); err != nil {
		t.Fatalf("replay after recovery: %v", err)
	}
}

func TestRecoverLogsOneSummary(t *testing.T) {
	h := ledgertest.New(t)
	var buf bytes.Buffer
	e := h.Engine(usecase.WithLogger(zerolog.New(&buf)))
	openWithBalance(t, e, "A", "10")
	seedPending(t, h, &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeDeposit, To: "A", Amount: d("1")})
	buf.Reset()

	if _, err := e.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := bytes.Count(buf.Bytes(), []byte(`"message":"recovery finished"`)); n != 1 {
		t.Fatalf("summary lines = %d, want 1\n%s", n, buf.String())
	}

	// 沒有 pending 時不輸出摘要
	buf.Reset()
	if _, err := e.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(buf.Bytes(), []byte("recovery finished")) {
		t.Fatalf("summary logged with nothing to recover: %s", buf.String())
	}
}
