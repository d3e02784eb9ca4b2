package ordering

import (
	"math"

	"stocky/backend/internal/domain"
)

// HalfUnitThreshold is the fractional remainder at which a line is charged a
// half unit. It sits below 0.5 so that float drift from repeated 0.5 steps
// still counts as a half.
const HalfUnitThreshold = 0.4

// LineTotal prices a quantity of dozens: whole dozens at fullPrice plus one
// halfPrice when the remainder reaches HalfUnitThreshold.
func LineTotal(quantity float64, fullPrice int64, halfPrice int64) int64 {
	if quantity <= 0 {
		return 0
	}
	whole := math.Floor(quantity)
	total := int64(whole) * fullPrice
	if quantity-whole >= HalfUnitThreshold {
		total += halfPrice
	}
	return total
}

// Total sums lines using the price snapshots stored on each line.
func Total(lines []domain.OrderLine) int64 {
	total := int64(0)
	for _, line := range lines {
		total += LineTotal(line.Quantity, line.FullPrice, line.HalfPrice)
	}
	return total
}

// TotalFromCatalog prefers the live catalog price for every line and falls back
// to the line snapshot when the entry is no longer in the catalog.
func TotalFromCatalog(lines []domain.OrderLine, catalog map[string]domain.CatalogEntry) int64 {
	total := int64(0)
	for _, line := range lines {
		full, half := line.FullPrice, line.HalfPrice
		if entry, ok := catalog[line.EntryID]; ok {
			full, half = entry.FullPrice, entry.HalfPrice
		}
		total += LineTotal(line.Quantity, full, half)
	}
	return total
}

// DefaultHalfPrice is used when an entry is created without an explicit half price.
func DefaultHalfPrice(fullPrice int64) int64 {
	return fullPrice/2 + 500
}
