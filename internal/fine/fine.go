// internal/fine/fine.go
package fine

import (
	"time"

	"github.com/shopspring/decimal"
)

const Day = 24 * time.Hour

// DefaultRate is the per-day penalty charged when no rate is configured.
var DefaultRate = decimal.NewFromInt(1)

// OverdueDays returns the number of started days between due and now.
// A partial day counts as a whole day; now at or before due yields zero.
func OverdueDays(due, now time.Time) int64 {
	late := now.Sub(due)
	if late <= 0 {
		return 0
	}
	days := int64(late / Day)
	if late%Day != 0 {
		days++
	}
	return days
}

// Compute returns the fine accrued by now for an item due at due.
// The same formula is used for previews and for the amount settled at return.
func Compute(due, now time.Time, ratePerDay decimal.Decimal) decimal.Decimal {
	if ratePerDay.IsNegative() {
		ratePerDay = decimal.Zero
	}
	return ratePerDay.Mul(decimal.NewFromInt(OverdueDays(due, now)))
}

// Calculator binds a daily rate to Compute.
type Calculator struct {
	RatePerDay decimal.Decimal
}

func NewCalculator(rate decimal.Decimal) Calculator {
	return Calculator{RatePerDay: rate}
}

func (c Calculator) Compute(due, now time.Time) decimal.Decimal {
	return Compute(due, now, c.RatePerDay)
}
