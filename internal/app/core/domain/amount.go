package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// 金額與餘額欄位為 decimal(20,4)
const (
	AmountScale         = 4
	AmountIntegerDigits = 16
)

// MaxAmount 可保存的上限 (不含)
var MaxAmount = decimal.New(1, AmountIntegerDigits)

// ValidateAmount 金額必須為正，且能不經捨入地存進資料庫
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, AmountScale)
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: more than %d integer digits", ErrInvalidAmount, AmountIntegerDigits)
	}
	return nil
}
