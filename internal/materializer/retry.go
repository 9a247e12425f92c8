package materializer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/imrishuroy/go-checkout-pipeline/internal/paymentlog"
)

var (
	// ErrRetriesExhausted is returned when every attempt failed.
	ErrRetriesExhausted = errors.New("materialization retries exhausted")
	// ErrPendingOrderNotFound is joined onto ErrRetriesExhausted when the last attempt found no pending order.
	ErrPendingOrderNotFound = errors.New("pending order not found")
)

// Defaults for the retry loop.
const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Retrier wraps a Materializer with a bounded retry loop and logs every step.
type Retrier struct {
	m        *Materializer
	events   EventLog
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier making at most attempts tries spaced by delay.
func NewRetrier(m *Materializer, attempts int, delay time.Duration) *Retrier {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	return &Retrier{m: m, events: m.events, attempts: attempts, delay: delay, sleep: sleepCtx}
}

// Run materializes req, retrying NotFound outcomes and store errors.
// A successful run records processing_completed; exhaustion records processing_failed.
func (r *Retrier) Run(ctx context.Context, req Request) (Result, error) {
	var (
		res     Result
		lastErr error
	)
	for attempt := 1; attempt <= r.attempts; attempt++ {
		res, lastErr = r.m.Materialize(ctx, req)
		if lastErr == nil && res.Outcome != NotFound {
			r.events.Record(ctx, r.m.completed(req, res, attempt))
			return res, nil
		}

		reason := ErrPendingOrderNotFound.Error()
		if lastErr != nil {
			reason = lastErr.Error()
		}
		log.Printf("[materializer] attempt %d/%d for order=%s failed: %s", attempt, r.attempts, req.OrderNumber, reason)
		r.events.Record(ctx, r.m.event(req, paymentlog.RetryAttempted, map[string]string{
			"attempt":      strconv.Itoa(attempt),
			"max_attempts": strconv.Itoa(r.attempts),
		}, reason))

		if attempt < r.attempts {
			if err := r.sleep(ctx, r.delay); err != nil {
				lastErr = err
				break
			}
		}
	}

	cause := lastErr
	if cause == nil {
		cause = ErrPendingOrderNotFound
	}
	r.events.Record(ctx, r.m.event(req, paymentlog.ProcessingFailed, map[string]string{
		"attempts": strconv.Itoa(r.attempts),
	}, cause.Error()))
	log.Printf("[materializer] giving up on order=%s: %v", req.OrderNumber, cause)
	return res, fmt.Errorf("%w: %w", ErrRetriesExhausted, cause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
