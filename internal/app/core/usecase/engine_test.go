package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/ledgertest"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-clients-ledger/pkg/pool"
	"github.com/JoeShih716/go-clients-ledger/pkg/retry"
)

var d = ledgertest.D

func openWithBalance(t *testing.T, e *usecase.Engine, id string, balance string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.OpenAccount(ctx, id, "owner-"+id); err != nil {
		t.Fatalf("open %s: %v", id, err)
	}
	if d(balance).IsZero() {
		return
	}
	if _, err := e.Deposit(ctx, id, d(balance), uuid.New()); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func balanceOf(t *testing.T, h *ledgertest.Harness, id string) decimal.Decimal {
	t.Helper()
	acc, err := h.Reader.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return acc.Balance
}

func auditCount(t *testing.T, h *ledgertest.Harness, id string) int {
	t.Helper()
	trail, err := h.Reader.AuditTrail(context.Background(), id)
	if err != nil {
		t.Fatalf("audit %s: %v", id, err)
	}
	return len(trail)
}

func TestTransferThenOverdraw(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "100")
	openWithBalance(t, e, "B", "50")

	tx1 := uuid.New()
	got, err := e.Transfer(ctx, "A", "B", d("30"), tx1)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got.Status != domain.TransactionStatusApplied || got.ID != tx1 {
		t.Fatalf("unexpected transaction: %+v", got)
	}
	if !balanceOf(t, h, "A").Equal(d("70")) || !balanceOf(t, h, "B").Equal(d("80")) {
		t.Fatalf("balances A=%s B=%s", balanceOf(t, h, "A"), balanceOf(t, h, "B"))
	}
	// 開戶存款各一筆，加上轉帳
	if auditCount(t, h, "A") != 2 || auditCount(t, h, "B") != 2 {
		t.Fatalf("audit entries A=%d B=%d", auditCount(t, h, "A"), auditCount(t, h, "B"))
	}

	tx2 := uuid.New()
	rejected, err := e.Withdraw(ctx, "A", d("200"), tx2)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("Withdraw err = %v, want ErrInsufficientFunds", err)
	}
	if rejected == nil || rejected.Status != domain.TransactionStatusRejected || rejected.Reason != domain.ReasonInsufficientFunds {
		t.Fatalf("rejected record: %+v", rejected)
	}
	if !balanceOf(t, h, "A").Equal(d("70")) {
		t.Fatalf("A changed after rejection: %s", balanceOf(t, h, "A"))
	}
	if auditCount(t, h, "A") != 2 {
		t.Fatal("rejected withdraw wrote an audit entry")
	}
}

func TestReplayReturnsOriginalResult(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "10")

	txID := uuid.New()
	first, err := e.Deposit(ctx, "A", d("5"), txID)
	if err != nil {
		t.Fatal(err)
	}
	entries := auditCount(t, h, "A")

	second, err := e.Deposit(ctx, "A", d("5"), txID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID || second.Status != domain.TransactionStatusApplied {
		t.Fatalf("replay returned %+v", second)
	}
	if !balanceOf(t, h, "A").Equal(d("15")) {
		t.Fatalf("balance = %s, deposit applied twice", balanceOf(t, h, "A"))
	}
	if auditCount(t, h, "A") != entries {
		t.Fatal("replay wrote audit entries")
	}

	// 被拒絕的交易重放時回傳相同的錯誤類別
	rejectID := uuid.New()
	if _, err := e.Withdraw(ctx, "A", d("100"), rejectID); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("first withdraw: %v", err)
	}
	if _, err := e.Deposit(ctx, "A", d("500"), uuid.New()); err != nil {
		t.Fatal(err)
	}
	again, err := e.Withdraw(ctx, "A", d("100"), rejectID)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("replayed rejection err = %v", err)
	}
	if again.Status != domain.TransactionStatusRejected {
		t.Fatalf("replayed rejection status = %s", again.Status)
	}
	if !balanceOf(t, h, "A").Equal(d("515")) {
		t.Fatalf("balance = %s", balanceOf(t, h, "A"))
	}
}

func TestReusedIDWithDifferentParameters(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "10")

	txID := uuid.New()
	if _, err := e.Deposit(ctx, "A", d("5"), txID); err != nil {
		t.Fatal(err)
	}
	_, err := e.Deposit(ctx, "A", d("6"), txID)
	if !errors.Is(err, domain.ErrIdempotencyMismatch) || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrIdempotencyMismatch", err)
	}
	if !balanceOf(t, h, "A").Equal(d("15")) {
		t.Fatalf("balance = %s", balanceOf(t, h, "A"))
	}
}

func TestValidationFailuresAreNotPersisted(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "10")

	cases := []struct {
		name string
		run  func(id uuid.UUID) error
		want error
	}{
		{"zero amount", func(id uuid.UUID) error { _, err := e.Deposit(ctx, "A", d("0"), id); return err }, domain.ErrInvalidAmount},
		{"negative amount", func(id uuid.UUID) error { _, err := e.Withdraw(ctx, "A", d("-1"), id); return err }, domain.ErrInvalidAmount},
		{"same account", func(id uuid.UUID) error { _, err := e.Transfer(ctx, "A", "A", d("1"), id); return err }, domain.ErrSameAccount},
		{"missing id", func(uuid.UUID) error { _, err := e.Deposit(ctx, "A", d("1"), uuid.Nil); return err }, domain.ErrInvalidTransaction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := uuid.New()
			if err := tc.run(id); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if _, err := h.Reader.GetTransaction(ctx, id); !errors.Is(err, domain.ErrTransactionNotFound) {
				t.Fatalf("transaction was persisted: %v", err)
			}
		})
	}
}

func TestFailedTransferLeavesAccountsUntouched(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "20")
	openWithBalance(t, e, "B", "5")

	before := map[string]*domain.Account{}
	for _, id := range []string{"A", "B"} {
		acc, err := h.Reader.GetAccount(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		before[id] = acc
	}

	if _, err := e.Transfer(ctx, "A", "B", d("20.01"), uuid.New()); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v", err)
	}
	if _, err := e.Transfer(ctx, "A", "missing", d("1"), uuid.New()); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("err = %v", err)
	}

	for _, id := range []string{"A", "B"} {
		acc, err := h.Reader.GetAccount(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !acc.Balance.Equal(before[id].Balance) || acc.Version != before[id].Version {
			t.Errorf("%s changed: %+v -> %+v", id, before[id], acc)
		}
	}
}

func TestConcurrentMixedOperationsConserveMoney(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()

	ids := []string{"acc-1", "acc-2", "acc-3", "acc-4"}
	for _, id := range ids {
		openWithBalance(t, e, id, "1000")
	}

	var (
		mu        sync.Mutex
		deposited = decimal.Zero
		withdrawn = decimal.Zero
		wg        sync.WaitGroup
	)
	for w := 0; w < 12; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 20; i++ {
				amount := decimal.NewFromInt(int64(rng.Intn(300) + 1))
				a := ids[rng.Intn(len(ids))]
				b := ids[rng.Intn(len(ids))]
				switch rng.Intn(3) {
				case 0:
					if _, err := e.Deposit(ctx, a, amount, uuid.New()); err == nil {
						mu.Lock()
						deposited = deposited.Add(amount)
						mu.Unlock()
					} else {
						t.Errorf("deposit: %v", err)
					}
				case 1:
					_, err := e.Withdraw(ctx, a, amount, uuid.New())
					if err == nil {
						mu.Lock()
						withdrawn = withdrawn.Add(amount)
						mu.Unlock()
					} else if !errors.Is(err, domain.ErrInsufficientFunds) {
						t.Errorf("withdraw: %v", err)
					}
				default:
					if a == b {
						continue
					}
					if _, err := e.Transfer(ctx, a, b, amount, uuid.New()); err != nil && !errors.Is(err, domain.ErrInsufficientFunds) {
						t.Errorf("transfer: %v", err)
					}
				}
			}
		}(int64(w))
	}
	wg.Wait()

	total := decimal.Zero
	for _, id := range ids {
		bal := balanceOf(t, h, id)
		if bal.IsNegative() {
			t.Errorf("%s is negative: %s", id, bal)
		}
		total = total.Add(bal)
	}
	want := d("4000").Add(deposited).Sub(withdrawn)
	if !total.Equal(want) {
		t.Fatalf("total = %s, want %s", total, want)
	}

	report, err := h.Reporter().Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("reconcile mismatches: %+v", report.Mismatches)
	}
}

func TestOpposingTransfersComplete(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "500")
	openWithBalance(t, e, "B", "500")

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.Transfer(ctx, "A", "B", d("3"), uuid.New())
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := e.Transfer(ctx, "B", "A", d("2"), uuid.New())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("transfer failed: %v", err)
		}
	}

	if !balanceOf(t, h, "A").Equal(d("480")) || !balanceOf(t, h, "B").Equal(d("520")) {
		t.Fatalf("A=%s B=%s", balanceOf(t, h, "A"), balanceOf(t, h, "B"))
	}
}

func TestReverse(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "100")
	openWithBalance(t, e, "B", "0")

	orig := uuid.New()
	if _, err := e.Transfer(ctx, "A", "B", d("40"), orig); err != nil {
		t.Fatal(err)
	}

	revID := uuid.New()
	rev, err := e.Reverse(ctx, orig, revID)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if rev.Type != domain.TransactionTypeReversal || rev.From != "B" || rev.To != "A" || rev.ReversalOf != orig {
		t.Fatalf("reversal record: %+v", rev)
	}
	if !balanceOf(t, h, "A").Equal(d("100")) || !balanceOf(t, h, "B").Equal(d("0")) {
		t.Fatalf("A=%s B=%s", balanceOf(t, h, "A"), balanceOf(t, h, "B"))
	}
	stored, err := h.Reader.GetTransaction(ctx, orig)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.TransactionStatusReversed {
		t.Fatalf("original status = %s", stored.Status)
	}

	// 同一個 id 重放
	again, err := e.Reverse(ctx, orig, revID)
	if err != nil || again.Status != domain.TransactionStatusApplied {
		t.Fatalf("replay reverse: %+v %v", again, err)
	}
	// 不同 id 再沖正一次
	if _, err := e.Reverse(ctx, orig, uuid.New()); !errors.Is(err, domain.ErrNotReversible) {
		t.Fatalf("second reversal err = %v", err)
	}
	// 沖正交易本身不可再沖正，拒絕結果要留下紀錄
	revRevID := uuid.New()
	revRev, err := e.Reverse(ctx, revID, revRevID)
	if !errors.Is(err, domain.ErrNotReversible) {
		t.Fatalf("reversal of reversal err = %v", err)
	}
	if revRev == nil || revRev.Status != domain.TransactionStatusRejected || revRev.Reason != domain.ReasonNotReversible {
		t.Fatalf("reversal of reversal record: %+v", revRev)
	}
	storedRevRev, err := h.Reader.GetTransaction(ctx, revRevID)
	if err != nil {
		t.Fatalf("rejected reversal not persisted: %v", err)
	}
	if storedRevRev.Status != domain.TransactionStatusRejected || storedRevRev.Reason != domain.ReasonNotReversible {
		t.Fatalf("stored reversal of reversal: %+v", storedRevRev)
	}
	if _, err := e.Reverse(ctx, revID, revRevID); !errors.Is(err, domain.ErrNotReversible) {
		t.Fatalf("replay rejected reversal err = %v", err)
	}
	if stored, _ := h.Reader.GetTransaction(ctx, revID); stored.Status != domain.TransactionStatusApplied {
		t.Fatalf("reversal status changed: %+v", stored)
	}
	if _, err := e.Reverse(ctx, uuid.New(), uuid.New()); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("unknown original err = %v", err)
	}

	report, err := h.Reporter().Reconcile(ctx)
	if err != nil || !report.OK() {
		t.Fatalf("reconcile: %v %+v", err, report)
	}
}

func TestAccountLifecycle(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()

	generated, err := e.OpenAccount(ctx, "", "Ana")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(generated.ID); err != nil {
		t.Fatalf("generated id %q is not a uuid", generated.ID)
	}

	if _, err := e.OpenAccount(ctx, "A", "Bea"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.OpenAccount(ctx, "A", "Bea"); !errors.Is(err, domain.ErrAccountExists) {
		t.Fatalf("duplicate open err = %v", err)
	}

	if _, err := e.Deposit(ctx, "A", d("10"), uuid.New()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CloseAccount(ctx, "A"); !errors.Is(err, domain.ErrAccountNotEmpty) {
		t.Fatalf("close with balance err = %v", err)
	}
	if _, err := e.Withdraw(ctx, "A", d("10"), uuid.New()); err != nil {
		t.Fatal(err)
	}
	closed, err := e.CloseAccount(ctx, "A")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Active {
		t.Fatal("account still active")
	}
	if _, err := e.CloseAccount(ctx, "A"); err != nil {
		t.Fatalf("closing twice: %v", err)
	}
	if _, err := e.CloseAccount(ctx, "missing"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("close missing err = %v", err)
	}

	_, err = e.Deposit(ctx, "A", d("1"), uuid.New())
	if !errors.Is(err, domain.ErrAccountClosed) {
		t.Fatalf("deposit into closed account err = %v", err)
	}
}

// staleStore 讓每次 SaveAccount 都回報版本衝突
type staleStore struct {
	usecase.Store
	saves atomic.Int32
}

func (s *staleStore) RunInTx(ctx context.Context, conn *pool.Conn, fn func(usecase.Tx) error) error {
	return s.Store.RunInTx(ctx, conn, func(tx usecase.Tx) error {
		return fn(staleTx{Tx: tx, s: s})
	})
}

type staleTx struct {
	usecase.Tx
	s *staleStore
}

func (t staleTx) SaveAccount(*domain.Account, int64) error {
	t.s.saves.Add(1)
	return domain.ErrStaleWrite
}

func TestConflictRetriesAreBounded(t *testing.T) {
	h := ledgertest.New(t)
	ctx := context.Background()
	openWithBalance(t, h.Engine(), "A", "10")

	store := &staleStore{Store: h.Store}
	policy := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	e := usecase.NewEngine(h.Pool, store, policy)

	txID := uuid.New()
	_, err := e.Deposit(ctx, "A", d("1"), txID)
	if !errors.Is(err, domain.ErrConflictExceeded) {
		t.Fatalf("err = %v, want ErrConflictExceeded", err)
	}
	if got := store.saves.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if !balanceOf(t, h, "A").Equal(d("10")) {
		t.Fatalf("balance changed: %s", balanceOf(t, h, "A"))
	}
	stored, err := h.Reader.GetTransaction(ctx, txID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.TransactionStatusPending {
		t.Fatalf("status = %s, want pending", stored.Status)
	}
}

// hookStore 在每次 SaveAccount 寫入後呼叫 after，用來模擬交易中途的失敗
type hookStore struct {
	usecase.Store
	saves atomic.Int32
	after func() error
}

func (s *hookStore) RunInTx(ctx context.Context, conn *pool.Conn, fn func(usecase.Tx) error) error {
	return s.Store.RunInTx(ctx, conn, func(tx usecase.Tx) error {
		return fn(hookTx{Tx: tx, s: s})
	})
}

type hookTx struct {
	usecase.Tx
	s *hookStore
}

func (t hookTx) SaveAccount(acc *domain.Account, expected int64) error {
	if err := t.Tx.SaveAccount(acc, expected); err != nil {
		return err
	}
	t.s.saves.Add(1)
	return t.s.after()
}

// assertUntouched 確認帳戶與稽核軌跡都停在 before 的狀態，交易仍為 pending
func assertUntouched(t *testing.T, h *ledgertest.Harness, before *domain.Account, audits int, txID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	after, err := h.Reader.GetAccount(ctx, before.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !after.Balance.Equal(before.Balance) || after.Version != before.Version {
		t.Fatalf("account changed: balance %s -> %s, version %d -> %d", before.Balance, after.Balance, before.Version, after.Version)
	}
	if got := auditCount(t, h, before.ID); got != audits {
		t.Fatalf("audit entries = %d, want %d", got, audits)
	}
	stored, err := h.Reader.GetTransaction(ctx, txID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.TransactionStatusPending {
		t.Fatalf("status = %s, want pending", stored.Status)
	}
}

func TestCancelBeforeCommitRollsBack(t *testing.T) {
	h := ledgertest.New(t)
	openWithBalance(t, h.Engine(), "A", "10")
	before, err := h.Reader.GetAccount(context.Background(), "A")
	if err != nil {
		t.Fatal(err)
	}
	audits := auditCount(t, h, "A")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &hookStore{Store: h.Store, after: func() error {
		cancel()
		return nil
	}}
	e := usecase.NewEngine(h.Pool, store, ledgertest.Policy())

	txID := uuid.New()
	if _, err := e.Deposit(ctx, "A", d("5"), txID); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := store.saves.Load(); got != 1 {
		t.Errorf("saves = %d, want 1", got)
	}
	assertUntouched(t, h, before, audits, txID)

	// 之後用正常的 context 重送同一筆，照常入帳
	if _, err := h.Engine().Deposit(context.Background(), "A", d("5"), txID); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !balanceOf(t, h, "A").Equal(d("15")) {
		t.Fatalf("balance = %s, want 15", balanceOf(t, h, "A"))
	}
}

func TestStoreUnavailableIsNotRetried(t *testing.T) {
	h := ledgertest.New(t)
	ctx := context.Background()
	openWithBalance(t, h.Engine(), "A", "10")
	before, err := h.Reader.GetAccount(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	audits := auditCount(t, h, "A")

	store := &hookStore{Store: h.Store, after: func() error {
		return fmt.Errorf("%w: connection reset by peer", domain.ErrStoreUnavailable)
	}}
	e := usecase.NewEngine(h.Pool, store, ledgertest.Policy())

	txID := uuid.New()
	got, err := e.Withdraw(ctx, "A", d("3"), txID)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if got != nil {
		t.Fatalf("unexpected result: %+v", got)
	}
	if n := store.saves.Load(); n != 1 {
		t.Errorf("saves = %d, want 1", n)
	}
	assertUntouched(t, h, before, audits, txID)
}

func TestAmountsKeepFullPrecision(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "0")

	amount := d("1234567890123.4567")
	txID := uuid.New()
	got, err := e.Deposit(ctx, "A", amount, txID)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if got.Amount.String() != "1234567890123.4567" {
		t.Fatalf("amount = %s", got.Amount)
	}
	if !balanceOf(t, h, "A").Equal(amount) {
		t.Fatalf("balance = %s, want %s", balanceOf(t, h, "A"), amount)
	}
	stored, err := h.Reader.GetTransaction(ctx, txID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Amount.Equal(amount) {
		t.Fatalf("stored amount = %s", stored.Amount)
	}
	// 讀回來的金額要和原本的 intent 一致，重放才不會被當成參數不同
	if _, err := e.Deposit(ctx, "A", amount, txID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if _, err := e.Withdraw(ctx, "A", d("0.0001"), uuid.New()); err != nil {
		t.Fatalf("smallest unit: %v", err)
	}
	if !balanceOf(t, h, "A").Equal(d("1234567890123.4566")) {
		t.Fatalf("balance = %s", balanceOf(t, h, "A"))
	}

	tooFine := uuid.New()
	if _, err := e.Deposit(ctx, "A", d("0.00001"), tooFine); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("five decimals err = %v", err)
	}
	tooLarge := uuid.New()
	if _, err := e.Deposit(ctx, "A", d("10000000000000000"), tooLarge); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("17 integer digits err = %v", err)
	}
	for _, id := range []uuid.UUID{tooFine, tooLarge} {
		if _, err := h.Reader.GetTransaction(ctx, id); !errors.Is(err, domain.ErrTransactionNotFound) {
			t.Fatalf("invalid amount persisted: %v", err)
		}
	}
}

func TestBalanceLimitIsRejected(t *testing.T) {
	h := ledgertest.New(t)
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "9999999999999999.9999")

	txID := uuid.New()
	got, err := e.Deposit(ctx, "A", d("0.0001"), txID)
	if !errors.Is(err, domain.ErrBalanceLimit) {
		t.Fatalf("err = %v, want ErrBalanceLimit", err)
	}
	if got == nil || got.Status != domain.TransactionStatusRejected || got.Reason != domain.ReasonBalanceLimit {
		t.Fatalf("record: %+v", got)
	}
	if !balanceOf(t, h, "A").Equal(d("9999999999999999.9999")) {
		t.Fatalf("balance = %s", balanceOf(t, h, "A"))
	}
	if _, err := e.Deposit(ctx, "A", d("0.0001"), txID); !errors.Is(err, domain.ErrBalanceLimit) {
		t.Fatalf("replay err = %v", err)
	}
}

func TestPoolExhaustionSurfaces(t *testing.T) {
	h := ledgertest.New(t, ledgertest.Options{PoolSize: 1, AcquireTimeout: 30 * time.Millisecond})
	e := h.Engine()
	ctx := context.Background()
	openWithBalance(t, e, "A", "1")

	held, err := h.Pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	if _, err := e.Deposit(ctx, "A", d("1"), uuid.New()); !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.TransactionEvent
}

func (n *recordingNotifier) Notify(evt domain.TransactionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Get(string) (decimal.Decimal, bool) { return decimal.Zero, false }
func (c *recordingCache) Set(string, decimal.Decimal, int64) {}
func (c *recordingCache) Invalidate(id string, _ int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, id)
}

func TestNotifiesOnceAfterCommit(t *testing.T) {
	h := ledgertest.New(t)
	n := &recordingNotifier{}
	cache := &recordingCache{}
	e := h.Engine(usecase.WithNotifier(n), usecase.WithBalanceCache(cache))
	ctx := context.Background()

	if _, err := e.OpenAccount(ctx, "A", "x"); err != nil {
		t.Fatal(err)
	}
	txID := uuid.New()
	if _, err := e.Deposit(ctx, "A", d("5"), txID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Deposit(ctx, "A", d("5"), txID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Withdraw(ctx, "A", d("50"), uuid.New()); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatal(err)
	}

	if len(n.events) != 2 {
		t.Fatalf("events = %d, want 2 (replay must not notify)", len(n.events))
	}
	if n.events[0].TransactionID != txID || n.events[0].Status != domain.TransactionStatusApplied {
		t.Errorf("first event: %+v", n.events[0])
	}
	if n.events[1].Status != domain.TransactionStatusRejected {
		t.Errorf("second event: %+v", n.events[1])
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "A" {
		t.Errorf("invalidated = %v", cache.invalidated)
	}
}
