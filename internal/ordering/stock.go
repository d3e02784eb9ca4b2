package ordering

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// QuickAdjustReason is recorded for small one-tap adjustments made without a note.
const QuickAdjustReason = "quick adjustment"

// QuickAdjustLimit is the largest absolute delta accepted without an explicit reason.
const QuickAdjustLimit = 1.0

var (
	ErrInvalidDelta   = errors.New("delta must be a non-zero multiple of 0.5")
	ErrReasonRequired = errors.New("reason is required")
)

var half = decimal.NewFromFloat(0.5)

// ClampStock applies delta to current and floors the result at zero.
func ClampStock(current float64, delta float64) float64 {
	next := decimal.NewFromFloat(current).Add(decimal.NewFromFloat(delta))
	if next.IsNegative() {
		return 0
	}
	return next.InexactFloat64()
}

// IsHalfStep reports whether q is a whole multiple of 0.5.
func IsHalfStep(q float64) bool {
	return decimal.NewFromFloat(q).Mod(half).IsZero()
}

// StockReason validates a stock delta and resolves the reason recorded for it.
func StockReason(delta float64, reason string) (string, error) {
	if delta == 0 || !IsHalfStep(delta) {
		return "", ErrInvalidDelta
	}
	reason = strings.TrimSpace(reason)
	if reason != "" {
		return reason, nil
	}
	if decimal.NewFromFloat(delta).Abs().GreaterThan(decimal.NewFromFloat(QuickAdjustLimit)) {
		return "", ErrReasonRequired
	}
	return QuickAdjustReason, nil
}

// SumQuantities adds quantities exactly.
func SumQuantities(values ...float64) float64 {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	return sum.InexactFloat64()
}
