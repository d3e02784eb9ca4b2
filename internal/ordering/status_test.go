package ordering

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocky/backend/internal/domain"
)

func TestValidateTransitionCancellationNeedsNote(t *testing.T) {
	err := ValidateTransition(domain.StatusPending, domain.StatusCancelled, "   ")
	require.ErrorIs(t, err, ErrNoteRequired)

	require.NoError(t, ValidateTransition(domain.StatusPending, domain.StatusCancelled, "customer called"))
}

func TestValidateTransitionMatrix(t *testing.T) {
	ok := [][2]string{
		{domain.StatusPending, domain.StatusPaidCash},
		{domain.StatusPending, domain.StatusPaidTransfer},
		{domain.StatusPaidCash, domain.StatusPaidTransfer},
		{domain.StatusPaidTransfer, domain.StatusPending},
		{domain.StatusCancelled, domain.StatusPending},
	}
	for _, pair := range ok {
		assert.NoError(t, ValidateTransition(pair[0], pair[1], ""), "%s -> %s", pair[0], pair[1])
	}
	require.NoError(t, ValidateTransition(domain.StatusCancelled, domain.StatusCancelled, "new reason"))
	require.ErrorIs(t, ValidateTransition(domain.StatusCancelled, domain.StatusCancelled, ""), ErrNoteRequired)

	rejected := [][2]string{
		{domain.StatusCancelled, domain.StatusPaidCash},
		{domain.StatusCancelled, domain.StatusPaidTransfer},
		{domain.StatusPending, domain.StatusPending},
	}
	for _, pair := range rejected {
		assert.ErrorIs(t, ValidateTransition(pair[0], pair[1], "note"), ErrInvalidTransition, "%s -> %s", pair[0], pair[1])
	}

	assert.ErrorIs(t, ValidateTransition(domain.StatusPending, "shipped", ""), ErrUnknownStatus)
}

func TestEditable(t *testing.T) {
	assert.True(t, Editable(domain.StatusPending))
	assert.True(t, Editable(domain.StatusPaidCash))
	assert.False(t, Editable(domain.StatusCancelled))
	assert.Equal(t, "edited: wrong flavour", EditNote("  wrong flavour "))
}

func TestSortPriority(t *testing.T) {
	assert.Greater(t, SortPriority(domain.StatusPending), SortPriority(domain.StatusCancelled))
	assert.Greater(t, SortPriority(domain.StatusCancelled), SortPriority(domain.StatusPaidCash))
	assert.Equal(t, SortPriority(domain.StatusPaidCash), SortPriority(domain.StatusPaidTransfer))
}

func TestNewCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z]{2}-[1-9][0-9]{2}$`)
	for i := 0; i < 200; i++ {
		assert.Regexp(t, pattern, NewCode())
	}
}
