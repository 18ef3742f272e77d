// Package billing runs the recurring-billing loop: it scans for due
// subscriptions and renews each one through the command layer.
package billing

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/example/settlement-core/internal/command"
	"github.com/example/settlement-core/internal/query"
)

const defaultScanInterval = time.Minute

// Renewer is the slice of the command layer the scheduler drives.
type Renewer interface {
	RenewSubscription(ctx context.Context, subID string) error
	ExpireSubscription(ctx context.Context, subID string) error
}

// Scheduler periodically bills due subscriptions. Multiple schedulers may
// run against the same store: the renewal's conditional period claim and the
// gateway idempotency key make a doubly picked subscription bill once.
type Scheduler struct {
	queries      *query.Handler
	renewer      Renewer
	scanInterval time.Duration
	now          func() time.Time
	logger       *log.Logger

	locks sync.Map // subscription id -> *sync.Mutex
}

func NewScheduler(queries *query.Handler, renewer Renewer, scanInterval time.Duration) *Scheduler {
	if scanInterval <= 0 {
		scanInterval = defaultScanInterval
	}
	return &Scheduler{
		queries:      queries,
		renewer:      renewer,
		scanInterval: scanInterval,
		now:          time.Now,
		logger:       log.New(log.Writer(), "[Billing] ", log.LstdFlags),
	}
}

// Run scans until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	s.logger.Printf("billing scheduler started, scanning every %s", s.scanInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("billing scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Printf("billing scan failed: %v", err)
			}
		}
	}
}

// RunOnce bills everything currently due and returns how many subscriptions
// renewed. Due subscriptions past their end date are expired instead of
// billed. Declined payments are counted by the command layer and do not stop
// the scan.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	scanTime := s.now().UTC()
	due, err := s.queries.ListDueSubscriptions(scanTime)
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, sub := range due {
		if sub.EndDate != nil && !sub.EndDate.After(scanTime) {
			if err := s.withLock(sub.ID, func() error { return s.renewer.ExpireSubscription(ctx, sub.ID) }); err != nil {
				s.logger.Printf("expiry failed for subscription %s: %v", sub.ID, err)
				continue
			}
			s.logger.Printf("expired subscription %s at its end date", sub.ID)
			continue
		}
		if err := s.withLock(sub.ID, func() error { return s.renewer.RenewSubscription(ctx, sub.ID) }); err != nil {
			if errors.Is(err, command.ErrPaymentDeclined) {
				s.logger.Printf("renewal declined for subscription %s: %v", sub.ID, err)
				continue
			}
			s.logger.Printf("renewal failed for subscription %s: %v", sub.ID, err)
			continue
		}
		renewed++
	}
	if len(due) > 0 {
		s.logger.Printf("billed %d/%d due subscriptions", renewed, len(due))
	}
	return renewed, nil
}

func (s *Scheduler) withLock(subID string, fn func() error) error {
	mu, _ := s.locks.LoadOrStore(subID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	defer m.Unlock()
	return fn()
}
