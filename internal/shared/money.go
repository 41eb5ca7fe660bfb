package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places amounts are stored with.
const MoneyScale = 2

// maxAmount is the first value that no longer fits NUMERIC(14,2).
var maxAmount = decimal.New(1, 12)

// CheckAmountScale rejects amounts that storage would round or cannot hold.
// Sign checks stay with the caller.
func CheckAmountScale(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(MoneyScale)) {
		return fmt.Errorf("%w: %s must have at most %d decimal places", ErrValidation, field, MoneyScale)
	}
	if amount.Abs().GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: %s is too large", ErrValidation, field)
	}
	return nil
}
