// Package sweeper runs the periodic background pass that expires due
// holds and drains pending payment webhooks. It is not required for
// correctness — every invariant holds without it — but it bounds how
// long an expired hold or an out-of-order webhook stays unresolved
// (SPEC_FULL.md §4.6).
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/flashsale/checkout-engine/internal/engine"
	"github.com/flashsale/checkout-engine/internal/lock"
)

// Sweeper drives HoldEngine.ExpireDue and WebhookEngine.DrainPending on
// a fixed period. Each tick first tries the shared sweeper lock, waiting
// up to one period, and holds it until the tick ends; the lock's lease
// is the NamedLock's TTL, not the period. A tick whose lock attempt
// fails (Redis disabled or unreachable, or the wait runs out) still
// sweeps, so instances are not guaranteed to be mutually exclusive.
type Sweeper struct {
	holds     *engine.HoldEngine
	webhooks  *engine.WebhookEngine
	admission *lock.NamedLock
	period    time.Duration
	healthy   atomic.Bool
}

// New constructs a Sweeper. It reports healthy until a tick actually
// fails, so a fresh instance that hasn't ticked yet is not flagged down.
func New(holds *engine.HoldEngine, webhooks *engine.WebhookEngine, admission *lock.NamedLock, period time.Duration) *Sweeper {
	if period <= 0 {
		period = time.Minute
	}
	s := &Sweeper{holds: holds, webhooks: webhooks, admission: admission, period: period}
	s.healthy.Store(true)
	return s
}

// Healthy reports whether the most recently completed tick ran both
// ExpireDue and DrainPending without error. /healthz surfaces this so
// an orchestrator can catch a sweeper that is silently failing.
func (s *Sweeper) Healthy() bool {
	return s.healthy.Load()
}

// Run starts the ticker loop and blocks until ctx is cancelled,
// following the reference's queue.StartBookingConsumer reconnect-loop
// shape: catch panics and errors per tick, log, and continue.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sweeper: recovered from panic in tick: %v", r)
		}
	}()

	release, acquired, lockErr := s.admission.AcquireSweeperLock(ctx, s.period)
	defer release(ctx)
	if !acquired {
		log.Printf("sweeper: lock not acquired this tick (%v), proceeding anyway (another instance may run the same pass, which is harmless since every transition below is a conditional compare-and-swap)", lockErr)
	}

	var errs *multierror.Error

	expired, err := s.holds.ExpireDue(ctx)
	if err != nil {
		errs = multierror.Append(errs, err)
	} else if expired > 0 {
		log.Printf("sweeper: expired %d due holds", expired)
	}

	drained, err := s.webhooks.DrainPending(ctx)
	if err != nil {
		errs = multierror.Append(errs, err)
	} else if drained > 0 {
		log.Printf("sweeper: drained %d pending webhooks", drained)
	}

	if errs.ErrorOrNil() != nil {
		s.healthy.Store(false)
		log.Printf("sweeper: tick failed: %v", errs)
		return
	}
	s.healthy.Store(true)
}
