package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocky/backend/internal/domain"
)

func TestLineTotalHalfThreshold(t *testing.T) {
	cases := []struct {
		name     string
		quantity float64
		want     int64
	}{
		{"whole dozen", 1, 8500},
		{"remainder below threshold", 1.3, 8500},
		{"remainder at threshold", 1.4, 13000},
		{"half dozen only", 0.5, 4500},
		{"dozen and a half", 1.5, 13000},
		{"two and a half", 2.5, 21500},
		{"zero", 0, 0},
		{"negative", -1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LineTotal(tc.quantity, 8500, 4500))
		})
	}
}

func TestLineTotalToleratesRepeatedHalfSteps(t *testing.T) {
	q := 0.0
	for i := 0; i < 7; i++ {
		q += 0.1
	}
	q += 0.8
	// 1.5 reached through float steps that do not land exactly on 1.5
	assert.Equal(t, int64(13000), LineTotal(q, 8500, 4500))
}

func TestTotalForSingleLineCart(t *testing.T) {
	lines := []domain.OrderLine{{EntryID: "jyq", Name: "Jamón y Queso", Quantity: 1.5, FullPrice: 8500, HalfPrice: 4500}}
	assert.Equal(t, int64(13000), Total(lines))
}

func TestTotalIsStable(t *testing.T) {
	lines := []domain.OrderLine{
		{EntryID: "a", Quantity: 2, FullPrice: 9000, HalfPrice: 5000},
		{EntryID: "b", Quantity: 0.5, FullPrice: 8000, HalfPrice: 4500},
	}
	first := Total(lines)
	second := Total(lines)
	require.Equal(t, first, second)
	assert.Equal(t, int64(22500), first)
}

func TestTotalFromCatalogPrefersLivePrices(t *testing.T) {
	lines := []domain.OrderLine{
		{EntryID: "a", Quantity: 1, FullPrice: 8000, HalfPrice: 4000},
		{EntryID: "gone", Quantity: 1.5, FullPrice: 7000, HalfPrice: 3500},
	}
	catalog := map[string]domain.CatalogEntry{
		"a": {ID: "a", FullPrice: 9000, HalfPrice: 5000},
	}
	assert.Equal(t, int64(9000+7000+3500), TotalFromCatalog(lines, catalog))
}

func TestDefaultHalfPrice(t *testing.T) {
	assert.Equal(t, int64(4750), DefaultHalfPrice(8500))
}
