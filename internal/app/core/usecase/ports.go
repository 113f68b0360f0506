package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/pkg/pool"
)

// ConnPool 租借資料庫連線，一個 unit of work 一條
type ConnPool interface {
	Acquire(ctx context.Context) (*pool.Conn, error)
}

// Store 在租來的連線上開交易，fn 回傳錯誤時 rollback
//
// 實作必須把資料庫特有的錯誤轉成 domain 的錯誤
type Store interface {
	RunInTx(ctx context.Context, conn *pool.Conn, fn func(Tx) error) error
}

// Tx 單一 unit of work 內可用的操作
type Tx interface {
	// LoadAccount 不上鎖讀取，找不到回傳 domain.ErrAccountNotFound
	LoadAccount(id string) (*domain.Account, error)
	// LoadAccountsForUpdate 依 id 遞增順序鎖定，不存在的 id 不會出現在結果中
	LoadAccountsForUpdate(ids []string) (map[string]*domain.Account, error)
	// CreateAccount id 重複回傳 domain.ErrAccountExists
	CreateAccount(acc *domain.Account) error
	// SaveAccount 只有版本等於 expectedVersion 時才寫入，否則 domain.ErrStaleWrite；成功後 acc.Version 加一
	SaveAccount(acc *domain.Account, expectedVersion int64) error

	// InsertTransaction 不存在時才寫入，回傳是否有寫入
	InsertTransaction(t *domain.Transaction) (bool, error)
	// LockTransaction 鎖定交易紀錄，找不到回傳 domain.ErrTransactionNotFound
	LockTransaction(id uuid.UUID) (*domain.Transaction, error)
	// UpdateTransactionStatus 只有目前狀態等於 from 時才更新，否則 domain.ErrStaleWrite
	UpdateTransactionStatus(id uuid.UUID, from, to domain.TransactionStatus, reason string, at time.Time) error
	// ListPendingTransactions 依建立時間排序
	ListPendingTransactions(limit int) ([]*domain.Transaction, error)

	AppendAuditEntry(e *domain.AuditEntry) error
}

// ReadModel 查詢端，不經過連線池也不上鎖，可能讀到稍舊的資料
type ReadModel interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// Statement 新到舊
	Statement(ctx context.Context, accountID string, limit, offset int) ([]domain.StatementLine, error)
	// AuditTrail 舊到新
	AuditTrail(ctx context.Context, accountID string) ([]domain.AuditEntry, error)
	CountTransactions(ctx context.Context) (map[domain.TransactionStatus]int64, error)
}

// BalanceCache 餘額快取，值帶帳戶版本
//
// Invalidate 記下剛 commit 的版本，之後版本較舊的 Set 必須忽略，
// 避免讀到舊資料的查詢在失效之後又把舊餘額寫回去
type BalanceCache interface {
	Get(accountID string) (decimal.Decimal, bool)
	Set(accountID string, balance decimal.Decimal, version int64)
	Invalidate(accountID string, version int64)
}

// Notifier 交易進入終態後的通知，必須不阻塞
type Notifier interface {
	Notify(evt domain.TransactionEvent)
}
