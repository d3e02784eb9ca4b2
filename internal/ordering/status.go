package ordering

import (
	"errors"
	"fmt"
	"strings"

	"stocky/backend/internal/domain"
)

var (
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoteRequired      = errors.New("cancellation note is required")
	ErrOrderNotEditable  = errors.New("cancelled orders cannot be edited")
)

// EditPrefix marks the audit note of an order changed after checkout.
const EditPrefix = "edited: "

var transitions = map[string][]string{
	domain.StatusPending:      {domain.StatusPaidCash, domain.StatusPaidTransfer, domain.StatusCancelled},
	domain.StatusPaidCash:     {domain.StatusPending, domain.StatusPaidTransfer, domain.StatusCancelled},
	domain.StatusPaidTransfer: {domain.StatusPending, domain.StatusPaidCash, domain.StatusCancelled},
	domain.StatusCancelled:    {domain.StatusPending, domain.StatusCancelled},
}

func KnownStatus(status string) bool {
	_, ok := transitions[status]
	return ok
}

func IsPaid(status string) bool {
	return status == domain.StatusPaidCash || status == domain.StatusPaidTransfer
}

func CanTransition(from string, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks a status change before anything is written.
// Entering cancelled needs a non-blank note; cancelled to cancelled replaces it.
func ValidateTransition(from string, to string, note string) error {
	if !KnownStatus(to) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == domain.StatusCancelled && strings.TrimSpace(note) == "" {
		return ErrNoteRequired
	}
	return nil
}

func Editable(status string) bool {
	return KnownStatus(status) && status != domain.StatusCancelled
}

func EditNote(reason string) string {
	return EditPrefix + strings.TrimSpace(reason)
}

// SortPriority ranks orders for the back-office list: pending first, then
// cancelled, then paid.
func SortPriority(status string) int {
	switch status {
	case domain.StatusPending:
		return 3
	case domain.StatusCancelled:
		return 2
	case domain.StatusPaidCash, domain.StatusPaidTransfer:
		return 1
	}
	return 0
}
