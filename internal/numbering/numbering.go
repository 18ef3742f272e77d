// Package numbering issues the human-facing identifiers: order numbers,
// dispute ids, and sequential invoice numbers. Identifiers are globally
// unique and never reused; voiding an invoice keeps its number.
package numbering

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSequenceExhausted is returned when a day's invoice sequence overflows.
var ErrSequenceExhausted = errors.New("invoice sequence exhausted for day")

const maxDailySequence = 9999

// OrderNumber returns a new order number, e.g. "ORD-3F2A91BC".
func OrderNumber() string { return "ORD-" + randomSuffix() }

// DisputeID returns a new dispute identifier, e.g. "DSP-7C01E4AA".
func DisputeID() string { return "DSP-" + randomSuffix() }

func randomSuffix() string {
	return strings.ToUpper(uuid.New().String()[:8])
}

// InvoiceNumberer hands out invoice numbers. Implementations must never
// return the same number twice, even across voided invoices.
type InvoiceNumberer interface {
	NextInvoiceNumber(now time.Time) (string, error)
}

// Sequence issues invoice numbers of the form INV-20250823-0001. The counter
// resets per day; issued numbers are remembered so a collision (clock skew,
// restart against a warm store) is an error rather than a silent reuse.
type Sequence struct {
	mu     sync.Mutex
	day    string
	next   int
	issued map[string]struct{}
}

func NewSequence() *Sequence {
	return &Sequence{issued: make(map[string]struct{})}
}

// NextInvoiceNumber returns the next number for the given day.
func (s *Sequence) NextInvoiceNumber(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := now.UTC().Format("20060102")
	if day != s.day {
		s.day = day
		s.next = 1
	}

	for s.next <= maxDailySequence {
		n := fmt.Sprintf("INV-%s-%04d", day, s.next)
		s.next++
		if _, dup := s.issued[n]; dup {
			continue
		}
		s.issued[n] = struct{}{}
		return n, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSequenceExhausted, day)
}

// Reserve marks an already-persisted number as taken, used when warming the
// sequence from existing invoices at startup.
func (s *Sequence) Reserve(number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[number] = struct{}{}
}
