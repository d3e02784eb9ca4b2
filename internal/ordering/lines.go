package ordering

import (
	"stocky/backend/internal/domain"
)

// Prune drops lines whose quantity fell to zero or below.
func Prune(lines []domain.OrderLine) []domain.OrderLine {
	kept := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

// AdjustLine adds delta to the line for entryID, creating it from snapshot when
// absent, and prunes the result.
func AdjustLine(lines []domain.OrderLine, entryID string, delta float64, snapshot domain.OrderLine) []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(lines)+1)
	found := false
	for _, line := range lines {
		if line.EntryID == entryID {
			line.Quantity = SumQuantities(line.Quantity, delta)
			found = true
		}
		out = append(out, line)
	}
	if !found && delta > 0 {
		snapshot.EntryID = entryID
		snapshot.Quantity = delta
		out = append(out, snapshot)
	}
	return Prune(out)
}

// Merge folds repeated entries into a single input, keeping first-seen order.
func Merge(inputs []domain.OrderLineInput) []domain.OrderLineInput {
	index := make(map[string]int, len(inputs))
	merged := make([]domain.OrderLineInput, 0, len(inputs))
	for _, in := range inputs {
		if pos, ok := index[in.EntryID]; ok {
			merged[pos].Quantity = SumQuantities(merged[pos].Quantity, in.Quantity)
			continue
		}
		index[in.EntryID] = len(merged)
		merged = append(merged, in)
	}
	return merged
}

// Snapshot captures the catalog data an order line keeps.
func Snapshot(entry domain.CatalogEntry, quantity float64) domain.OrderLine {
	return domain.OrderLine{
		EntryID:   entry.ID,
		Name:      entry.Name,
		Quantity:  quantity,
		FullPrice: entry.FullPrice,
		HalfPrice: entry.HalfPrice,
	}
}
