package sqlstore

import (
	"context"
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
)

// errDuplicate 並發寫入同一個 key，重試時會讀到對方寫入的資料
var errDuplicate = fmt.Errorf("%w: duplicate key", domain.ErrStaleWrite)

var domainErrors = []error{
	domain.ErrValidation,
	domain.ErrInsufficientFunds,
	domain.ErrStaleWrite,
	domain.ErrConflictExceeded,
	domain.ErrPoolExhausted,
	domain.ErrStoreUnavailable,
}

// translateError 把各資料庫 driver 的錯誤轉成 domain 的錯誤分類
//
//	衝突 (序列化失敗、死鎖、鎖等待逾時、SQLITE_BUSY) -> ErrStaleWrite
//	唯一鍵衝突 -> ErrStaleWrite
//	餘額 check constraint -> ErrInsufficientFunds
//	其他 (連線中斷等) -> ErrStoreUnavailable
func translateError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %v", domain.ErrStaleWrite, err)
		case "23505":
			return fmt.Errorf("%w: %v", errDuplicate, err)
		case "23514":
			return fmt.Errorf("%w: %v", domain.ErrInsufficientFunds, err)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1213, 1205:
			return fmt.Errorf("%w: %v", domain.ErrStaleWrite, err)
		case 1062:
			return fmt.Errorf("%w: %v", errDuplicate, err)
		case 3819:
			return fmt.Errorf("%w: %v", domain.ErrInsufficientFunds, err)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", domain.ErrStaleWrite, err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique, liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", errDuplicate, err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %v", domain.ErrInsufficientFunds, err)
		}
	}

	// driver.ErrBadConn、sql.ErrConnDone、網路錯誤以及無法分類的錯誤
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
