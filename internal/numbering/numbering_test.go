package numbering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderNumber_Format(t *testing.T) {
	n := OrderNumber()
	assert.Regexp(t, `^ORD-[0-9A-F]{8}$`, n)
}

func TestDisputeID_Format(t *testing.T) {
	assert.Regexp(t, `^DSP-[0-9A-F]{8}$`, DisputeID())
}

func TestOrderNumber_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		n := OrderNumber()
		_, dup := seen[n]
		require.False(t, dup, "duplicate order number %s", n)
		seen[n] = struct{}{}
	}
}

func TestSequence_SequentialWithinDay(t *testing.T) {
	seq := NewSequence()
	day := time.Date(2025, 8, 23, 10, 0, 0, 0, time.UTC)

	first, err := seq.NextInvoiceNumber(day)
	require.NoError(t, err)
	second, err := seq.NextInvoiceNumber(day)
	require.NoError(t, err)

	assert.Equal(t, "INV-20250823-0001", first)
	assert.Equal(t, "INV-20250823-0002", second)
}

func TestSequence_ResetsAcrossDays(t *testing.T) {
	seq := NewSequence()

	_, err := seq.NextInvoiceNumber(time.Date(2025, 8, 23, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	next, err := seq.NextInvoiceNumber(time.Date(2025, 8, 24, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "INV-20250824-0001", next)
}

func TestSequence_SkipsReservedNumbers(t *testing.T) {
	seq := NewSequence()
	seq.Reserve("INV-20250823-0001")

	n, err := seq.NextInvoiceNumber(time.Date(2025, 8, 23, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "INV-20250823-0002", n)
}

func TestSequence_Exhaustion(t *testing.T) {
	seq := NewSequence()
	day := time.Date(2025, 8, 23, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxDailySequence; i++ {
		_, err := seq.NextInvoiceNumber(day)
		require.NoError(t, err)
	}

	_, err := seq.NextInvoiceNumber(day)
	assert.ErrorIs(t, err, ErrSequenceExhausted)
}
