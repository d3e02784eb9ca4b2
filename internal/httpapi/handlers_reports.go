package httpapi

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stocky/backend/internal/domain"
)

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.Report(r.Context(), chi.URLParam(r, "tenantID"), r.URL.Query().Get("period"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handlePaidOrdersCSV(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	orders, err := a.service.PaidOrders(r.Context(), chi.URLParam(r, "tenantID"), period)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	body, err := paidOrdersToCSV(orders, a.service.Location())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if period == "" {
		period = domain.PeriodToday
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"paid-orders-%s.csv\"", period))
	_, _ = w.Write(body)
}

func paidOrdersToCSV(orders []domain.Order, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"date", "code", "customer", "phone", "method", "total", "detail"}); err != nil {
		return nil, err
	}
	for _, order := range orders {
		details := make([]string, 0, len(order.Lines))
		for _, line := range order.Lines {
			details = append(details, strconv.FormatFloat(line.Quantity, 'f', -1, 64)+" x "+line.Name)
		}
		record := []string{
			order.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			order.Code,
			order.CustomerName,
			order.CustomerPhone,
			paymentMethod(order.Status),
			strconv.FormatInt(order.Total, 10),
			strings.Join(details, " | "),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func paymentMethod(status string) string {
	switch status {
	case domain.StatusPaidCash:
		return "cash"
	case domain.StatusPaidTransfer:
		return "transfer"
	default:
		return status
	}
}
