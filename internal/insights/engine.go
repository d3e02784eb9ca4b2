package insights

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stocky/backend/internal/cache"
	"stocky/backend/internal/domain"
	"stocky/backend/internal/ordering"
)

const (
	CriticalStockLevel = 2.0
	SlowMoverMinStock  = 3.0
	TopClientsLimit    = 5
)

var ErrUnknownPeriod = errors.New("unknown report period")

// Engine computes the back-office dashboard from a tenant's catalog and orders.
// Results are cached under a fingerprint of the inputs, so any write produces a
// fresh report while repeated dashboard polls hit the cache.
type Engine struct {
	cache    cache.Cache
	cacheTTL time.Duration
	location *time.Location
}

func NewEngine(cacheStore cache.Cache, cacheTTL time.Duration, location *time.Location) *Engine {
	if cacheStore == nil {
		cacheStore = cache.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}
	if location == nil {
		location = time.UTC
	}
	return &Engine{cache: cacheStore, cacheTTL: cacheTTL, location: location}
}

func (e *Engine) Location() *time.Location {
	return e.location
}

// PeriodStart returns the inclusive lower bound of period at now. Weeks start
// on Sunday. PeriodAll has no lower bound.
func (e *Engine) PeriodStart(period string, now time.Time) (time.Time, error) {
	local := now.In(e.location)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.location)
	switch period {
	case domain.PeriodToday, "":
		return startOfDay, nil
	case domain.PeriodWeek:
		return startOfDay.AddDate(0, 0, -int(startOfDay.Weekday())), nil
	case domain.PeriodMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, e.location), nil
	case domain.PeriodAll:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
}

func (e *Engine) Build(ctx context.Context, tenantID string, period string, now time.Time, catalog []domain.CatalogEntry, orders []domain.Order) (domain.Report, error) {
	if period == "" {
		period = domain.PeriodToday
	}
	from, err := e.PeriodStart(period, now)
	if err != nil {
		return domain.Report{}, err
	}

	cacheKey := cache.ReportKey(tenantID, fingerprint(period, from, now, catalog, orders))
	var cached domain.Report
	if ok, err := e.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		return cached, nil
	}

	report := e.compute(tenantID, period, from, now, catalog, orders)
	_ = e.cache.Set(ctx, cacheKey, report, e.cacheTTL)
	return report, nil
}

func (e *Engine) compute(tenantID string, period string, from time.Time, now time.Time, catalog []domain.CatalogEntry, orders []domain.Order) domain.Report {
	report := domain.Report{
		TenantID:      tenantID,
		Period:        period,
		From:          from,
		To:            now,
		CriticalStock: []domain.StockAlert{},
		SlowMovers:    []domain.StockAlert{},
		PeakHours:     []domain.HourCount{},
		TopClients:    []domain.ClientStat{},
		EntryRanking:  []domain.EntrySales{},
		GeneratedAt:   now.UTC(),
	}

	inPeriod := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if !from.IsZero() && order.CreatedAt.Before(from) {
			continue
		}
		inPeriod = append(inPeriod, order)
	}

	soldByName := map[string]decimal.Decimal{}
	rankingByName := map[string]decimal.Decimal{}
	hours := map[int]int{}
	clients := map[string]*domain.ClientStat{}
	clientOrder := make([]string, 0, 16)

	for _, order := range inPeriod {
		for _, line := range order.Lines {
			rankingByName[line.Name] = rankingByName[line.Name].Add(decimal.NewFromFloat(line.Quantity))
		}
		if !ordering.IsPaid(order.Status) {
			continue
		}

		report.PaidOrders++
		if order.Status == domain.StatusPaidCash {
			report.CashTotal += order.Total
		} else {
			report.TransferTotal += order.Total
		}
		for _, line := range order.Lines {
			soldByName[line.Name] = soldByName[line.Name].Add(decimal.NewFromFloat(line.Quantity))
		}
		hours[order.CreatedAt.In(e.location).Hour()]++

		key := order.CustomerPhone
		if key == "" {
			key = order.CustomerName
		}
		stat, ok := clients[key]
		if !ok {
			stat = &domain.ClientStat{Key: key, Name: order.CustomerName}
			clients[key] = stat
			clientOrder = append(clientOrder, key)
		}
		stat.Orders++
		stat.Spent += order.Total
	}

	report.PaidTotal = report.CashTotal + report.TransferTotal
	if report.PaidOrders > 0 {
		report.AverageTicket = int64(math.Round(float64(report.PaidTotal) / float64(report.PaidOrders)))
	}

	one := decimal.NewFromInt(1)
	value := decimal.Zero
	for _, entry := range catalog {
		value = value.Add(decimal.NewFromFloat(entry.Stock).Mul(decimal.NewFromInt(entry.FullPrice)))
		if entry.Available && entry.Stock <= CriticalStockLevel {
			report.CriticalStock = append(report.CriticalStock, alert(entry))
		}
		if entry.Available && entry.Stock > SlowMoverMinStock && soldByName[entry.Name].LessThan(one) {
			report.SlowMovers = append(report.SlowMovers, alert(entry))
		}
	}
	report.InventoryValue = value.Round(0).IntPart()

	for hour, count := range hours {
		report.PeakHours = append(report.PeakHours, domain.HourCount{Hour: hour, Orders: count})
	}
	sort.Slice(report.PeakHours, func(i, j int) bool {
		return report.PeakHours[i].Hour < report.PeakHours[j].Hour
	})

	for _, key := range clientOrder {
		report.TopClients = append(report.TopClients, *clients[key])
	}
	sort.SliceStable(report.TopClients, func(i, j int) bool {
		return report.TopClients[i].Orders > report.TopClients[j].Orders
	})
	if len(report.TopClients) > TopClientsLimit {
		report.TopClients = report.TopClients[:TopClientsLimit]
	}

	report.EntryRanking = rank(rankingByName)
	report.MonthlyTop = e.monthlyTop(orders, now)
	return report
}

// monthlyTop picks the best-selling entry of each month of now's year from paid
// orders. Months without sales keep an empty name.
func (e *Engine) monthlyTop(orders []domain.Order, now time.Time) []domain.MonthlyTopEntry {
	year := now.In(e.location).Year()
	perMonth := make([]map[string]decimal.Decimal, 12)
	for _, order := range orders {
		if !ordering.IsPaid(order.Status) {
			continue
		}
		created := order.CreatedAt.In(e.location)
		if created.Year() != year {
			continue
		}
		idx := int(created.Month()) - 1
		if perMonth[idx] == nil {
			perMonth[idx] = map[string]decimal.Decimal{}
		}
		for _, line := range order.Lines {
			perMonth[idx][line.Name] = perMonth[idx][line.Name].Add(decimal.NewFromFloat(line.Quantity))
		}
	}

	result := make([]domain.MonthlyTopEntry, 12)
	for i := range result {
		result[i].Month = i + 1
		ranked := rank(perMonth[i])
		if len(ranked) > 0 {
			result[i].Name = ranked[0].Name
			result[i].Quantity = ranked[0].Quantity
		}
	}
	return result
}

func rank(totals map[string]decimal.Decimal) []domain.EntrySales {
	ranked := make([]domain.EntrySales, 0, len(totals))
	for name, qty := range totals {
		ranked = append(ranked, domain.EntrySales{Name: name, Quantity: qty.InexactFloat64()})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Quantity == ranked[j].Quantity {
			return ranked[i].Name < ranked[j].Name
		}
		return ranked[i].Quantity > ranked[j].Quantity
	})
	return ranked
}

func alert(entry domain.CatalogEntry) domain.StockAlert {
	return domain.StockAlert{EntryID: entry.ID, Name: entry.Name, Stock: entry.Stock}
}

func fingerprint(period string, from time.Time, now time.Time, catalog []domain.CatalogEntry, orders []domain.Order) string {
	latest := time.Time{}
	for _, entry := range catalog {
		if entry.UpdatedAt.After(latest) {
			latest = entry.UpdatedAt
		}
	}
	for _, order := range orders {
		if order.UpdatedAt.After(latest) {
			latest = order.UpdatedAt
		}
	}
	raw := fmt.Sprintf("%s|%d|%d|%d|%d|%d", period, from.Unix(), now.Truncate(time.Hour).Unix(), len(catalog), len(orders), latest.UnixNano())
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:8])
}
