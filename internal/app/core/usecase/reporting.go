package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
)

const (
	DefaultStatementLimit = 50
	MaxStatementLimit     = 500
	overviewRecentLines   = 10
	reconcileConcurrency  = 8
)

// Reporter 唯讀查詢，不經過連線池也不會阻塞寫入端
type Reporter struct {
	read  ReadModel
	cache BalanceCache
	log   zerolog.Logger
}

// ReporterOption Reporter 選項
type ReporterOption func(*Reporter)

// WithReporterCache 餘額查詢走快取
func WithReporterCache(c BalanceCache) ReporterOption {
	return func(r *Reporter) { r.cache = c }
}

func WithReporterLogger(l zerolog.Logger) ReporterOption {
	return func(r *Reporter) { r.log = l }
}

func NewReporter(read ReadModel, opts ...ReporterOption) *Reporter {
	r := &Reporter{read: read, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Account 帳戶資料
func (r *Reporter) Account(ctx context.Context, id string) (*domain.Account, error) {
	return r.read.GetAccount(ctx, id)
}

// Balance 帳戶餘額
//
// 寫回快取時帶上讀到的版本，讀取期間有新的 commit 時快取會忽略這筆舊值
func (r *Reporter) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	if r.cache != nil {
		if bal, ok := r.cache.Get(id); ok {
			return bal, nil
		}
	}
	acc, err := r.read.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if r.cache != nil {
		r.cache.Set(id, acc.Balance, acc.Version)
	}
	return acc.Balance, nil
}

// Transaction 單筆交易
func (r *Reporter) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.read.GetTransaction(ctx, id)
}

// Statement 對帳單，新到舊
//
// 參數:
//
//	limit: 0 時使用 DefaultStatementLimit，上限 MaxStatementLimit
//	offset: 略過的筆數
func (r *Reporter) Statement(ctx context.Context, id string, limit, offset int) ([]domain.StatementLine, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", domain.ErrValidation)
	}
	if limit == 0 {
		limit = DefaultStatementLimit
	}
	if limit > MaxStatementLimit {
		limit = MaxStatementLimit
	}
	if _, err := r.read.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return r.read.Statement(ctx, id, limit, offset)
}

// Accounts 所有帳戶，依 id 排序
func (r *Reporter) Accounts(ctx context.Context) ([]*domain.Account, error) {
	return r.read.ListAccounts(ctx)
}

// FullStatement 完整對帳單，新到舊，每次讀 MaxStatementLimit 筆直到讀完
//
// 讀取期間新增的異動會把舊的往後推，已經讀過的 entry 會被略過
func (r *Reporter) FullStatement(ctx context.Context, id string) ([]domain.StatementLine, error) {
	if _, err := r.read.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	var out []domain.StatementLine
	for offset := 0; ; offset += MaxStatementLimit {
		page, err := r.read.Statement(ctx, id, MaxStatementLimit, offset)
		if err != nil {
			return nil, err
		}
		for _, line := range page {
			if n := len(out); n > 0 && line.ID >= out[n-1].ID {
				continue
			}
			out = append(out, line)
		}
		if len(page) < MaxStatementLimit {
			return out, nil
		}
	}
}

// AccountOverview 帳戶摘要
type AccountOverview struct {
	Account *domain.Account
	Recent  []domain.StatementLine
}

// Overview 帳戶資料與最近的異動，兩個查詢並行
func (r *Reporter) Overview(ctx context.Context, id string) (*AccountOverview, error) {
	var out AccountOverview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acc, err := r.read.GetAccount(gctx, id)
		out.Account = acc
		return err
	})
	g.Go(func() error {
		lines, err := r.read.Statement(gctx, id, overviewRecentLines, 0)
		out.Recent = lines
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// TotalBalance 所有帳戶餘額總和
func (r *Reporter) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	accounts, err := r.read.ListAccounts(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, acc := range accounts {
		total = total.Add(acc.Balance)
	}
	return total, nil
}

// Mismatch 稽核紀錄與餘額對不起來的帳戶
type Mismatch struct {
	AccountID string
	Detail    string
}

// ReconcileReport 對帳結果
type ReconcileReport struct {
	Accounts     int
	TotalBalance decimal.Decimal
	Transactions map[domain.TransactionStatus]int64
	Mismatches   []Mismatch
}

// OK 沒有任何不一致
func (rep *ReconcileReport) OK() bool {
	return len(rep.Mismatches) == 0
}

// Reconcile 逐一帳戶檢查稽核紀錄是否首尾相接，且最後的餘額等於帳戶餘額
//
// 沒有 snapshot isolation，寫入進行中時可能回報暫時性的不一致
func (r *Reporter) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	accounts, err := r.read.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{Accounts: len(accounts), TotalBalance: decimal.Zero}
	for _, acc := range accounts {
		report.TotalBalance = report.TotalBalance.Add(acc.Balance)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)

	g.Go(func() error {
		counts, err := r.read.CountTransactions(gctx)
		report.Transactions = counts
		return err
	})
	for _, acc := range accounts {
		g.Go(func() error {
			trail, err := r.read.AuditTrail(gctx, acc.ID)
			if err != nil {
				return err
			}
			if detail := checkTrail(acc, trail); detail != "" {
				mu.Lock()
				report.Mismatches = append(report.Mismatches, Mismatch{AccountID: acc.ID, Detail: detail})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].AccountID < report.Mismatches[j].AccountID
	})
	if !report.OK() {
		r.log.Warn().Int("mismatches", len(report.Mismatches)).Msg("reconcile found mismatches")
	}
	return report, nil
}

func checkTrail(acc *domain.Account, trail []domain.AuditEntry) string {
	running := decimal.Zero
	for i, e := range trail {
		if !e.BalanceBefore.Equal(running) {
			return fmt.Sprintf("entry %d (tx %s) starts at %s, expected %s", i, e.TransactionID, e.BalanceBefore, running)
		}
		if e.BalanceAfter.IsNegative() {
			return fmt.Sprintf("entry %d (tx %s) leaves a negative balance", i, e.TransactionID)
		}
		running = e.BalanceAfter
	}
	if !running.Equal(acc.Balance) {
		return fmt.Sprintf("audit trail ends at %s but balance is %s", running, acc.Balance)
	}
	return ""
}
