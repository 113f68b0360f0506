package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 輸入或業務前置條件不成立，不可重試
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStaleWrite 樂觀鎖版本不符或序列化衝突，引擎內部重試
	ErrStaleWrite = errors.New("stale write")

	// ErrConflictExceeded 衝突重試次數用盡
	ErrConflictExceeded = errors.New("conflict retries exceeded")

	// ErrPoolExhausted 等待連線逾時，呼叫端可退避後重試
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrStoreUnavailable 資料庫連線中斷
	ErrStoreUnavailable = errors.New("store unavailable")
)

// 以下皆屬於 ErrValidation
var (
	ErrInvalidAmount       = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrBalanceLimit        = fmt.Errorf("%w: balance would exceed the storable range", ErrValidation)
	ErrInvalidTransaction  = fmt.Errorf("%w: malformed transaction", ErrValidation)
	ErrSameAccount         = fmt.Errorf("%w: source and destination are the same account", ErrValidation)
	ErrAccountNotFound     = fmt.Errorf("%w: account not found", ErrValidation)
	ErrAccountClosed       = fmt.Errorf("%w: account closed", ErrValidation)
	ErrAccountExists       = fmt.Errorf("%w: account already exists", ErrValidation)
	ErrAccountNotEmpty     = fmt.Errorf("%w: account balance is not zero", ErrValidation)
	ErrIdempotencyMismatch = fmt.Errorf("%w: transaction id reused with different parameters", ErrValidation)
	ErrNotReversible       = fmt.Errorf("%w: transaction cannot be reversed", ErrValidation)
	ErrTransactionNotFound = fmt.Errorf("%w: transaction not found", ErrValidation)
)

// 被拒絕交易寫入 transactions.reason 的代碼
const (
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonAccountNotFound   = "account_not_found"
	ReasonAccountClosed     = "account_closed"
	ReasonNotReversible     = "not_reversible"
	ReasonBalanceLimit      = "balance_limit"
	ReasonUnrecoverable     = "unrecoverable"
)

// RejectionReason 將業務錯誤轉成可持久化的代碼，非業務拒絕回傳空字串
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrAccountNotFound):
		return ReasonAccountNotFound
	case errors.Is(err, ErrAccountClosed):
		return ReasonAccountClosed
	case errors.Is(err, ErrNotReversible):
		return ReasonNotReversible
	case errors.Is(err, ErrBalanceLimit):
		return ReasonBalanceLimit
	default:
		return ""
	}
}

// ReasonError 是 RejectionReason 的反向，重放被拒絕的交易時回傳原本的錯誤類別
func ReasonError(reason string) error {
	switch reason {
	case ReasonInsufficientFunds:
		return ErrInsufficientFunds
	case ReasonAccountNotFound:
		return ErrAccountNotFound
	case ReasonAccountClosed:
		return ErrAccountClosed
	case ReasonNotReversible:
		return ErrNotReversible
	case ReasonBalanceLimit:
		return ErrBalanceLimit
	default:
		return fmt.Errorf("%w: rejected (%s)", ErrValidation, reason)
	}
}
