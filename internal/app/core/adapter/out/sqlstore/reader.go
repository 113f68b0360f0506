package sqlstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
)

// Reader 查詢端，直接使用共用的 *gorm.DB，不經過連線池也不上鎖
type Reader struct {
	db *gorm.DB
}

func NewReader(db *gorm.DB) *Reader {
	return &Reader{db: db}
}

func (r *Reader) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var row accountRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return row.toDomain(), nil
}

func (r *Reader) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	var rows []accountRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (r *Reader) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var row transactionRow
	err := r.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return row.toDomain(), nil
}

// Statement 新到舊，帶上交易類型
func (r *Reader) Statement(ctx context.Context, accountID string, limit, offset int) ([]domain.StatementLine, error) {
	var rows []statementRow
	err := r.db.WithContext(ctx).
		Table("audit_entries AS a").
		Select("a.id, a.transaction_id, a.account_id, a.balance_before, a.balance_after, a.created_at, t.kind").
		Joins("JOIN transactions t ON t.id = a.transaction_id").
		Where("a.account_id = ?", accountID).
		Order("a.id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.StatementLine, 0, len(rows))
	for i := range rows {
		typ, _ := domain.ParseTransactionType(rows[i].Kind)
		out = append(out, domain.StatementLine{AuditEntry: rows[i].Entry.toDomain(), Type: typ})
	}
	return out, nil
}

// AuditTrail 舊到新
func (r *Reader) AuditTrail(ctx context.Context, accountID string) ([]domain.AuditEntry, error) {
	var rows []auditRow
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (r *Reader) CountTransactions(ctx context.Context) (map[domain.TransactionStatus]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Model(&transactionRow{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make(map[domain.TransactionStatus]int64, len(rows))
	for _, row := range rows {
		out[domain.TransactionStatus(row.Status)] = row.Total
	}
	return out, nil
}

var _ usecase.ReadModel = (*Reader)(nil)
