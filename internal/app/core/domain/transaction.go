package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType 交易類型
type TransactionType uint8

const (
	// 存款
	TransactionTypeDeposit TransactionType = 1
	// 提款
	TransactionTypeWithdraw TransactionType = 2
	// 轉帳
	TransactionTypeTransfer TransactionType = 3
	// 沖正: 對一筆已入帳交易的反向補償
	TransactionTypeReversal TransactionType = 4
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeDeposit:
		return "deposit"
	case TransactionTypeWithdraw:
		return "withdraw"
	case TransactionTypeTransfer:
		return "transfer"
	case TransactionTypeReversal:
		return "reversal"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseTransactionType 由資料庫字串轉回類型
func ParseTransactionType(s string) (TransactionType, error) {
	switch s {
	case "deposit":
		return TransactionTypeDeposit, nil
	case "withdraw":
		return TransactionTypeWithdraw, nil
	case "transfer":
		return TransactionTypeTransfer, nil
	case "reversal":
		return TransactionTypeReversal, nil
	}
	return 0, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidTransaction, s)
}

// TransactionStatus 交易狀態
//
//	pending -> applied | rejected
//	applied -> reversed (只能透過沖正交易)
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusApplied  TransactionStatus = "applied"
	TransactionStatusRejected TransactionStatus = "rejected"
	TransactionStatusReversed TransactionStatus = "reversed"
)

// IsTerminal pending 以外都是終態
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusApplied || s == TransactionStatusRejected || s == TransactionStatusReversed
}

// Transaction 交易
type Transaction struct {
	// ID: 外部追蹤號，同一個 ID 最多處理一次
	ID   uuid.UUID
	Type TransactionType
	// From, To: 帳戶 ID，存款沒有 From，提款沒有 To
	From   string
	To     string
	Amount decimal.Decimal
	Status TransactionStatus
	// Reason: 被拒絕時的代碼
	Reason string
	// ReversalOf: 沖正交易指向被沖正的原交易
	ReversalOf uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate 檢查交易本身的欄位，不需要存取資料庫
func (t *Transaction) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: missing transaction id", ErrInvalidTransaction)
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	switch t.Type {
	case TransactionTypeDeposit:
		if t.To == "" || t.From != "" {
			return fmt.Errorf("%w: deposit needs a destination only", ErrInvalidTransaction)
		}
	case TransactionTypeWithdraw:
		if t.From == "" || t.To != "" {
			return fmt.Errorf("%w: withdraw needs a source only", ErrInvalidTransaction)
		}
	case TransactionTypeTransfer:
		if t.From == "" || t.To == "" {
			return fmt.Errorf("%w: transfer needs both accounts", ErrInvalidTransaction)
		}
	case TransactionTypeReversal:
		if t.ReversalOf == uuid.Nil || (t.From == "" && t.To == "") {
			return fmt.Errorf("%w: reversal needs the original transaction", ErrInvalidTransaction)
		}
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidTransaction, t.Type)
	}
	if t.From != "" && t.From == t.To {
		return ErrSameAccount
	}
	return nil
}

// GetLockIDs 回傳需要鎖定的帳號 ID，遞增排序以避免死鎖
func (t *Transaction) GetLockIDs() []string {
	ids := make([]string, 0, 2)
	if t.From != "" {
		ids = append(ids, t.From)
	}
	if t.To != "" && t.To != t.From {
		ids = append(ids, t.To)
	}
	sort.Strings(ids)
	return ids
}

// SameIntent 重放時比對參數是否與第一次送出的一致
func (t *Transaction) SameIntent(o *Transaction) bool {
	return t.ID == o.ID &&
		t.Type == o.Type &&
		t.From == o.From &&
		t.To == o.To &&
		t.Amount.Equal(o.Amount) &&
		t.ReversalOf == o.ReversalOf
}
