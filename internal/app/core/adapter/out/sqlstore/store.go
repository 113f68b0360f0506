// Package sqlstore 以 GORM 實作帳務的持久層，支援 mysql、postgres、sqlite
package sqlstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-clients-ledger/pkg/pool"
)

// Store 持久層，交易一律開在呼叫端租來的連線上
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate 建立或更新資料表
func (s *Store) Migrate(ctx context.Context) error {
	return translateError(s.db.WithContext(ctx).AutoMigrate(&accountRow{}, &transactionRow{}, &auditRow{}))
}

// RunInTx 在 conn 上開啟交易執行 fn，fn 回傳錯誤或 ctx 結束時 rollback
//
// 參數:
//
//	ctx: 交易期間的 context
//	conn: 由連線池租借的連線，RunInTx 不會歸還它
//	fn: 交易內的操作
//
// 回傳:
//
//	error: fn 的錯誤原樣回傳；begin/commit 的錯誤轉換成 domain 分類
func (s *Store) RunInTx(ctx context.Context, conn *pool.Conn, fn func(usecase.Tx) error) error {
	if conn == nil || conn.SQL() == nil {
		return errors.New("sqlstore: nil connection")
	}
	session := s.db.WithContext(ctx)
	session.Statement.ConnPool = conn.SQL()

	var fnErr error
	err := session.Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&unitOfWork{db: tx})
		return fnErr
	})
	if err != nil && err == fnErr {
		// unitOfWork 已經轉換過，其餘是呼叫端自己的錯誤
		return err
	}
	return translateError(err)
}

var _ usecase.Store = (*Store)(nil)
