package sqlstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
)

// money 金額欄位
// mysql/postgres 用 decimal(20,4)；sqlite 的 NUMERIC 會轉成 REAL 失去精度，改存 TEXT
type money struct {
	decimal.Decimal
}

func (money) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "text"
	}
	return "decimal(20,4)"
}

// accountRow 對應資料庫的 accounts 表
// sqlite 的 TEXT 以字串比較 balance >= 0，負號排在數字之前，結果一樣
type accountRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Owner     string `gorm:"size:255;not null"`
	Balance   money  `gorm:"not null;check:chk_accounts_balance,balance >= 0"`
	Version   int64  `gorm:"not null"`
	Active    bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (*accountRow) TableName() string {
	return "accounts"
}

// transactionRow 對應資料庫的 transactions 表，uuid 以字串保存以相容三種資料庫
type transactionRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Kind       string    `gorm:"size:16;not null"`
	FromID     *string   `gorm:"size:64"`
	ToID       *string   `gorm:"size:64"`
	Amount     money     `gorm:"not null"`
	Status     string    `gorm:"size:16;not null;index:idx_transactions_status_created,priority:1"`
	Reason     string    `gorm:"size:64;not null"`
	ReversalOf *string   `gorm:"size:36;index"`
	CreatedAt  time.Time `gorm:"index:idx_transactions_status_created,priority:2"`
	UpdatedAt  time.Time
}

func (*transactionRow) TableName() string {
	return "transactions"
}

// auditRow 對應資料庫的 audit_entries 表，每筆交易對每個帳戶最多一筆
type auditRow struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	TransactionID string `gorm:"size:36;not null;uniqueIndex:idx_audit_tx_account,priority:1"`
	AccountID     string `gorm:"size:64;not null;uniqueIndex:idx_audit_tx_account,priority:2;index"`
	BalanceBefore money  `gorm:"not null"`
	BalanceAfter  money  `gorm:"not null"`
	CreatedAt     time.Time
}

func (*auditRow) TableName() string {
	return "audit_entries"
}

// statementRow 稽核紀錄 join 交易類型
type statementRow struct {
	Entry auditRow `gorm:"embedded"`
	Kind  string
}

func toAccountRow(a *domain.Account) *accountRow {
	return &accountRow{
		ID:        a.ID,
		Owner:     a.Owner,
		Balance:   money{a.Balance},
		Version:   a.Version,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.CreatedAt,
	}
}

func (r *accountRow) toDomain() *domain.Account {
	return &domain.Account{
		ID:        r.ID,
		Owner:     r.Owner,
		Balance:   r.Balance.Decimal,
		Version:   r.Version,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}

func toTransactionRow(t *domain.Transaction) *transactionRow {
	row := &transactionRow{
		ID:        t.ID.String(),
		Kind:      t.Type.String(),
		FromID:    optional(t.From),
		ToID:      optional(t.To),
		Amount:    money{t.Amount},
		Status:    string(t.Status),
		Reason:    t.Reason,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.ReversalOf != uuid.Nil {
		row.ReversalOf = optional(t.ReversalOf.String())
	}
	return row
}

// toDomain 無法解析的欄位保留零值，交給 Validate 判斷
func (r *transactionRow) toDomain() *domain.Transaction {
	t := &domain.Transaction{
		Amount:    r.Amount.Decimal,
		Status:    domain.TransactionStatus(r.Status),
		Reason:    r.Reason,
		From:      deref(r.FromID),
		To:        deref(r.ToID),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	t.ID, _ = uuid.Parse(r.ID)
	t.Type, _ = domain.ParseTransactionType(r.Kind)
	if r.ReversalOf != nil {
		t.ReversalOf, _ = uuid.Parse(*r.ReversalOf)
	}
	return t
}

func toAuditRow(e *domain.AuditEntry) *auditRow {
	return &auditRow{
		TransactionID: e.TransactionID.String(),
		AccountID:     e.AccountID,
		BalanceBefore: money{e.BalanceBefore},
		BalanceAfter:  money{e.BalanceAfter},
		CreatedAt:     e.CreatedAt,
	}
}

func (r *auditRow) toDomain() domain.AuditEntry {
	e := domain.AuditEntry{
		ID:            r.ID,
		AccountID:     r.AccountID,
		BalanceBefore: r.BalanceBefore.Decimal,
		BalanceAfter:  r.BalanceAfter.Decimal,
		CreatedAt:     r.CreatedAt,
	}
	e.TransactionID, _ = uuid.Parse(r.TransactionID)
	return e
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
