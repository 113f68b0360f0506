package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 帳戶
// Version 為樂觀鎖版本，每次成功寫入加一；帳戶只會停用不會刪除
type Account struct {
	ID        string
	Owner     string
	Balance   decimal.Decimal
	Version   int64
	Active    bool
	CreatedAt time.Time
}

func NewAccount(id, owner string, now time.Time) *Account {
	return &Account{
		ID:        id,
		Owner:     owner,
		Balance:   decimal.Zero,
		Active:    true,
		CreatedAt: now,
	}
}

// Deposit 存款
func (a *Account) Deposit(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if !a.Active {
		return ErrAccountClosed
	}

	next := a.Balance.Add(amount)
	if next.GreaterThanOrEqual(MaxAmount) {
		return ErrBalanceLimit
	}
	a.Balance = next
	return nil
}

// Withdraw 提款
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if !a.Active {
		return ErrAccountClosed
	}

	if a.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}

	a.Balance = a.Balance.Sub(amount)
	return nil
}

// Close 停用帳戶，餘額必須為零；已停用時不做事
func (a *Account) Close() error {
	if !a.Active {
		return nil
	}
	if !a.Balance.IsZero() {
		return ErrAccountNotEmpty
	}
	a.Active = false
	return nil
}
