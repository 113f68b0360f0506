package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/pkg/logger"
	"github.com/JoeShih716/go-clients-ledger/pkg/metrics"
	"github.com/JoeShih716/go-clients-ledger/pkg/pool"
	"github.com/JoeShih716/go-clients-ledger/pkg/retry"
)

// Engine 帳務引擎
//
// 每個操作分兩個 unit of work:
//  1. claim: 交易紀錄不存在時寫入 pending
//  2. apply: 鎖定交易紀錄與帳戶、異動餘額、寫稽核紀錄、標記 applied
//
// 業務拒絕時 apply 整個 rollback，再用另一個 unit of work 標記 rejected。
// Engine 本身不持有鎖，並發控制交給資料庫的列鎖與版本號。
type Engine struct {
	pool     ConnPool
	store    Store
	policy   retry.Policy
	notifier Notifier
	cache    BalanceCache
	metrics  *metrics.Ledger
	log      zerolog.Logger
	now      func() time.Time
}

// EngineOption Engine 選項
type EngineOption func(*Engine)

// WithNotifier 交易進入終態後通知
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithBalanceCache commit 之後讓受影響帳戶的快取失效
func WithBalanceCache(c BalanceCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

func WithMetrics(m *metrics.Ledger) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithClock 測試用
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine 建立帳務引擎
//
// 參數:
//
//	p: 連線池
//	store: 持久層
//	policy: 版本衝突時的重試策略
func NewEngine(p ConnPool, store Store, policy retry.Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		pool:   p,
		store:  store,
		policy: policy,
		log:    zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deposit 存款，以 txID 保證冪等
func (e *Engine) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, txID uuid.UUID) (*domain.Transaction, error) {
	return e.execute(ctx, &domain.Transaction{
		ID:     txID,
		Type:   domain.TransactionTypeDeposit,
		To:     accountID,
		Amount: amount,
	})
}

// Withdraw 提款，以 txID 保證冪等
func (e *Engine) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, txID uuid.UUID) (*domain.Transaction, error) {
	return e.execute(ctx, &domain.Transaction{
		ID:     txID,
		Type:   domain.TransactionTypeWithdraw,
		From:   accountID,
		Amount: amount,
	})
}

// Transfer 轉帳，扣款與入帳在同一個 unit of work 內
//
// 回傳:
//
//	*domain.Transaction: 交易紀錄；被拒絕時會連同錯誤一起回傳 rejected 的紀錄
//	error: domain 定義的錯誤
func (e *Engine) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, txID uuid.UUID) (*domain.Transaction, error) {
	return e.execute(ctx, &domain.Transaction{
		ID:     txID,
		Type:   domain.TransactionTypeTransfer,
		From:   from,
		To:     to,
		Amount: amount,
	})
}

// Reverse 沖正一筆已入帳的交易: 方向相反、金額相同，原交易標記為 reversed
func (e *Engine) Reverse(ctx context.Context, originalID, txID uuid.UUID) (*domain.Transaction, error) {
	if originalID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing original transaction id", domain.ErrInvalidTransaction)
	}
	if originalID == txID {
		return nil, fmt.Errorf("%w: reversal must use a new transaction id", domain.ErrInvalidTransaction)
	}

	var original *domain.Transaction
	err := e.withConn(ctx, func(conn *pool.Conn) error {
		return e.store.RunInTx(ctx, conn, func(tx Tx) error {
			t, err := tx.LockTransaction(originalID)
			original = t
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	// 沖正交易本身不可再沖正，由 apply 寫入 rejected 紀錄
	return e.execute(ctx, &domain.Transaction{
		ID:         txID,
		Type:       domain.TransactionTypeReversal,
		From:       original.To,
		To:         original.From,
		Amount:     original.Amount,
		ReversalOf: original.ID,
	})
}

// OpenAccount 開戶，id 為空時自動產生
func (e *Engine) OpenAccount(ctx context.Context, id, owner string) (*domain.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	acc := domain.NewAccount(id, strings.TrimSpace(owner), e.now())

	err := e.withConn(ctx, func(conn *pool.Conn) error {
		return e.store.RunInTx(ctx, conn, func(tx Tx) error {
			return tx.CreateAccount(acc)
		})
	})
	if err != nil {
		return nil, err
	}
	lg := logger.FromContext(ctx, e.log)
	lg.Info().Str("account_id", acc.ID).Msg("account opened")
	return acc, nil
}

// CloseAccount 停用帳戶，餘額必須為零；重複停用直接回傳目前狀態
func (e *Engine) CloseAccount(ctx context.Context, id string) (*domain.Account, error) {
	acc, _, err := retry.Do(ctx, e.policy, isStaleWrite, func(attempt int) (*domain.Account, error) {
		if attempt > 1 {
			e.metrics.IncRetry()
		}
		var acc *domain.Account
		err := e.withConn(ctx, func(conn *pool.Conn) error {
			return e.store.RunInTx(ctx, conn, func(tx Tx) error {
				locked, err := tx.LoadAccountsForUpdate([]string{id})
				if err != nil {
					return err
				}
				a, ok := locked[id]
				if !ok {
					return domain.ErrAccountNotFound
				}
				acc = a
				if !a.Active {
					return nil
				}
				expected := a.Version
				if err := a.Close(); err != nil {
					return err
				}
				// SaveAccount 成功後 a.Version 為新版本
				return tx.SaveAccount(a, expected)
			})
		})
		return acc, err
	})
	if err != nil {
		return nil, e.conflictError(err)
	}
	e.invalidate(id, acc.Version)
	lg := logger.FromContext(ctx, e.log)
	lg.Info().Str("account_id", id).Msg("account closed")
	return acc, nil
}

// execute 所有異動餘額的操作共用的流程
func (e *Engine) execute(ctx context.Context, intent *domain.Transaction) (*domain.Transaction, error) {
	start := time.Now()
	log := logger.FromContext(ctx, e.log).With().
		Str("tx_id", intent.ID.String()).
		Str("type", intent.Type.String()).
		Logger()

	if err := intent.Validate(); err != nil {
		e.metrics.ObserveOperation(intent.Type.String(), metrics.OutcomeRejected, time.Since(start))
		return nil, err
	}

	var (
		replayed  bool
		committed map[string]int64
	)
	result, attempts, err := retry.Do(ctx, e.policy, isStaleWrite, func(attempt int) (*domain.Transaction, error) {
		if attempt > 1 {
			e.metrics.IncRetry()
			log.Debug().Int("attempt", attempt).Msg("retrying after write conflict")
		}
		t, rep, versions, err := e.attempt(ctx, intent)
		replayed, committed = rep, versions
		return t, err
	})
	err = e.conflictError(err)

	switch {
	case err == nil:
		outcome := metrics.OutcomeApplied
		if replayed {
			outcome = metrics.OutcomeReplayed
		} else {
			log.Info().Int("attempts", attempts).Msg("transaction applied")
			e.afterCommit(result, committed)
		}
		e.metrics.ObserveOperation(intent.Type.String(), outcome, time.Since(start))
	case result != nil && result.Status == domain.TransactionStatusRejected:
		outcome := metrics.OutcomeRejected
		if replayed {
			outcome = metrics.OutcomeReplayed
		} else {
			log.Info().Str("reason", result.Reason).Msg("transaction rejected")
			e.afterCommit(result, nil)
		}
		e.metrics.ObserveOperation(intent.Type.String(), outcome, time.Since(start))
	default:
		log.Warn().Err(err).Int("attempts", attempts).Msg("transaction failed")
		e.metrics.ObserveOperation(intent.Type.String(), metrics.OutcomeFailed, time.Since(start))
	}
	return result, err
}

// attempt 一次完整的 claim + apply，回傳是否為重放，以及入帳成功時各帳戶 commit 後的版本
func (e *Engine) attempt(ctx context.Context, intent *domain.Transaction) (*domain.Transaction, bool, map[string]int64, error) {
	var (
		result   *domain.Transaction
		replayed bool
		versions map[string]int64
	)
	err := e.withConn(ctx, func(conn *pool.Conn) error {
		now := e.now()
		claim := *intent
		claim.Status = domain.TransactionStatusPending
		claim.CreatedAt = now
		claim.UpdatedAt = now
		if err := e.store.RunInTx(ctx, conn, func(tx Tx) error {
			_, err := tx.InsertTransaction(&claim)
			return err
		}); err != nil {
			return err
		}

		applyErr := e.store.RunInTx(ctx, conn, func(tx Tx) error {
			versions = make(map[string]int64, 2)
			t, rep, err := e.apply(tx, intent, versions)
			result, replayed = t, rep
			return err
		})
		if applyErr == nil {
			return nil
		}
		versions = nil
		if replayed {
			// 重放被拒絕的交易，沒有任何東西需要寫入
			return applyErr
		}

		reason := domain.RejectionReason(applyErr)
		if reason == "" {
			result = nil
			return applyErr
		}
		return e.reject(ctx, conn, intent.ID, reason, applyErr, &result, &replayed)
	})
	if err != nil {
		versions = nil
	}
	return result, replayed, versions, err
}

// apply 在已開啟的交易內套用 intent，寫入的帳戶新版本記到 committed
func (e *Engine) apply(tx Tx, intent *domain.Transaction, committed map[string]int64) (*domain.Transaction, bool, error) {
	stored, err := tx.LockTransaction(intent.ID)
	if err != nil {
		return nil, false, err
	}
	if !stored.SameIntent(intent) {
		return nil, false, domain.ErrIdempotencyMismatch
	}
	if stored.Status.IsTerminal() {
		if stored.Status == domain.TransactionStatusRejected {
			return stored, true, domain.ReasonError(stored.Reason)
		}
		return stored, true, nil
	}

	var original *domain.Transaction
	if intent.Type == domain.TransactionTypeReversal {
		original, err = tx.LockTransaction(intent.ReversalOf)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, false, domain.ErrNotReversible
		}
		if err != nil {
			return nil, false, err
		}
		if original.Type == domain.TransactionTypeReversal || original.Status != domain.TransactionStatusApplied {
			return nil, false, domain.ErrNotReversible
		}
	}

	accounts, err := tx.LoadAccountsForUpdate(intent.GetLockIDs())
	if err != nil {
		return nil, false, err
	}
	versions := make(map[string]int64, len(accounts))
	befores := make(map[string]decimal.Decimal, len(accounts))
	for id, acc := range accounts {
		versions[id] = acc.Version
		befores[id] = acc.Balance
	}

	// 先扣款再入帳
	if intent.From != "" {
		acc, ok := accounts[intent.From]
		if !ok {
			return nil, false, domain.ErrAccountNotFound
		}
		if err := acc.Withdraw(intent.Amount); err != nil {
			return nil, false, err
		}
	}
	if intent.To != "" {
		acc, ok := accounts[intent.To]
		if !ok {
			return nil, false, domain.ErrAccountNotFound
		}
		if err := acc.Deposit(intent.Amount); err != nil {
			return nil, false, err
		}
	}

	now := e.now()
	for _, id := range intent.GetLockIDs() {
		acc := accounts[id]
		if err := tx.SaveAccount(acc, versions[id]); err != nil {
			return nil, false, err
		}
		committed[id] = acc.Version
		if err := tx.AppendAuditEntry(&domain.AuditEntry{
			TransactionID: intent.ID,
			AccountID:     id,
			BalanceBefore: befores[id],
			BalanceAfter:  acc.Balance,
			CreatedAt:     now,
		}); err != nil {
			return nil, false, err
		}
	}

	if err := tx.UpdateTransactionStatus(intent.ID, domain.TransactionStatusPending, domain.TransactionStatusApplied, "", now); err != nil {
		return nil, false, err
	}
	if original != nil {
		if err := tx.UpdateTransactionStatus(original.ID, domain.TransactionStatusApplied, domain.TransactionStatusReversed, "", now); err != nil {
			return nil, false, err
		}
	}

	stored.Status = domain.TransactionStatusApplied
	stored.UpdatedAt = now
	return stored, false, nil
}

// reject 標記 rejected；其他人已經先把交易帶到終態時改為回傳該結果
func (e *Engine) reject(ctx context.Context, conn *pool.Conn, id uuid.UUID, reason string, cause error, result **domain.Transaction, replayed *bool) error {
	var outErr error
	err := e.store.RunInTx(ctx, conn, func(tx Tx) error {
		stored, err := tx.LockTransaction(id)
		if err != nil {
			return err
		}
		if stored.Status.IsTerminal() {
			*result, *replayed = stored, true
			if stored.Status == domain.TransactionStatusRejected {
				outErr = domain.ReasonError(stored.Reason)
			}
			return nil
		}
		now := e.now()
		if err := tx.UpdateTransactionStatus(id, domain.TransactionStatusPending, domain.TransactionStatusRejected, reason, now); err != nil {
			return err
		}
		stored.Status = domain.TransactionStatusRejected
		stored.Reason = reason
		stored.UpdatedAt = now
		*result = stored
		outErr = cause
		return nil
	})
	if err != nil {
		*result = nil
		return err
	}
	return outErr
}

// withConn 租借連線並轉換連線池的錯誤
func (e *Engine) withConn(ctx context.Context, fn func(conn *pool.Conn) error) error {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return translatePoolError(err)
	}
	defer conn.Release()
	return fn(conn)
}

func translatePoolError(err error) error {
	switch {
	case errors.Is(err, pool.ErrExhausted):
		return fmt.Errorf("%w: %v", domain.ErrPoolExhausted, err)
	case errors.Is(err, pool.ErrUnavailable):
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	default:
		return err
	}
}

// conflictError 重試用盡時改回報 ErrConflictExceeded
func (e *Engine) conflictError(err error) error {
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %v", domain.ErrConflictExceeded, err)
	}
	return err
}

// afterCommit committed 為入帳後各帳戶的版本，rejected 時為 nil
func (e *Engine) afterCommit(t *domain.Transaction, committed map[string]int64) {
	if t.Status == domain.TransactionStatusApplied {
		for id, version := range committed {
			e.invalidate(id, version)
		}
	}
	if e.notifier != nil {
		e.notifier.Notify(domain.NewTransactionEvent(t))
	}
}

func (e *Engine) invalidate(accountID string, version int64) {
	if e.cache != nil {
		e.cache.Invalidate(accountID, version)
	}
}

func isStaleWrite(err error) bool {
	return errors.Is(err, domain.ErrStaleWrite)
}
