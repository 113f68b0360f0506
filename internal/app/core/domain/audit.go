package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditEntry 帳務稽核紀錄，只寫入一次
type AuditEntry struct {
	ID            int64
	TransactionID uuid.UUID
	AccountID     string
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

// Delta 這筆紀錄對餘額的變動量
func (e *AuditEntry) Delta() decimal.Decimal {
	return e.BalanceAfter.Sub(e.BalanceBefore)
}

// StatementLine 對帳單的一行，稽核紀錄加上交易類型
type StatementLine struct {
	AuditEntry
	Type TransactionType
}
