package sqlstore

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
)

// unitOfWork 綁定在單一資料庫交易上的操作
type unitOfWork struct {
	db *gorm.DB
}

func (u *unitOfWork) LoadAccount(id string) (*domain.Account, error) {
	var row accountRow
	err := u.db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return row.toDomain(), nil
}

// LoadAccountsForUpdate 悲觀鎖，依 id 遞增順序上鎖避免死鎖
// sqlite 沒有列鎖，靠 BEGIN IMMEDIATE 整個資料庫序列化
func (u *unitOfWork) LoadAccountsForUpdate(ids []string) (map[string]*domain.Account, error) {
	out := make(map[string]*domain.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []accountRow
	if err := u.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	for i := range rows {
		out[rows[i].ID] = rows[i].toDomain()
	}
	return out, nil
}

func (u *unitOfWork) CreateAccount(acc *domain.Account) error {
	res := u.db.Clauses(clause.OnConflict{DoNothing: true}).Create(toAccountRow(acc))
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountExists
	}
	return nil
}

// SaveAccount 樂觀鎖: WHERE version = expectedVersion
func (u *unitOfWork) SaveAccount(acc *domain.Account, expectedVersion int64) error {
	res := u.db.Model(&accountRow{}).
		Where("id = ? AND version = ?", acc.ID, expectedVersion).
		Updates(map[string]any{
			"balance":    acc.Balance,
			"active":     acc.Active,
			"version":    expectedVersion + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleWrite
	}
	acc.Version = expectedVersion + 1
	return nil
}

func (u *unitOfWork) InsertTransaction(t *domain.Transaction) (bool, error) {
	res := u.db.Clauses(clause.OnConflict{DoNothing: true}).Create(toTransactionRow(t))
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (u *unitOfWork) LockTransaction(id uuid.UUID) (*domain.Transaction, error) {
	var row transactionRow
	err := u.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return row.toDomain(), nil
}

// UpdateTransactionStatus 狀態轉換以目前狀態為條件，被別人搶先時回傳 ErrStaleWrite
func (u *unitOfWork) UpdateTransactionStatus(id uuid.UUID, from, to domain.TransactionStatus, reason string, at time.Time) error {
	res := u.db.Model(&transactionRow{}).
		Where("id = ? AND status = ?", id.String(), string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"reason":     reason,
			"updated_at": at,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}

func (u *unitOfWork) ListPendingTransactions(limit int) ([]*domain.Transaction, error) {
	q := u.db.Where("status = ?", string(domain.TransactionStatusPending)).Order("created_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []transactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (u *unitOfWork) AppendAuditEntry(e *domain.AuditEntry) error {
	row := toAuditRow(e)
	if err := u.db.Create(row).Error; err != nil {
		return translateError(err)
	}
	e.ID = row.ID
	return nil
}

var _ usecase.Tx = (*unitOfWork)(nil)
