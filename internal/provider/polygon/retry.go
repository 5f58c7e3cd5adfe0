package polygon

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is an explicit retry value object: attempt budget, backoff
// bounds and the retryable-error predicate, with injectable sleep and
// jitter for tests.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration

	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	// Sleep defaults to a context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a uniform value in [0, 1).
	Jitter func() float64
}

// DefaultRetryPolicy mirrors the provider contract: 5 attempts, backoff
// starting at 0.4s doubling up to a 3s cap, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		InitialWait: 400 * time.Millisecond,
		MaxWait:     3 * time.Second,
		Retryable:   IsRetryable,
	}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p RetryPolicy) jitter() float64 {
	if p.Jitter != nil {
		return p.Jitter()
	}
	return rand.Float64()
}

// backoffFor returns the wait before the given retry (1-based attempt that
// just failed): exponential growth from InitialWait capped at MaxWait, plus
// up to 50% random jitter so concurrent requests do not retry in lockstep.
func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	wait := p.InitialWait << (attempt - 1)
	if wait > p.MaxWait || wait <= 0 {
		wait = p.MaxWait
	}
	return wait + time.Duration(p.jitter()*float64(wait)/2)
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. A rate-limited attempt sleeps a small extra jitter before the
// regular backoff.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == p.MaxAttempts {
			return err
		}
		if isRateLimited(err) {
			if serr := p.sleep(ctx, time.Duration((0.1+p.jitter()*0.1)*float64(time.Second))); serr != nil {
				return err
			}
		}
		if serr := p.sleep(ctx, p.backoffFor(attempt)); serr != nil {
			return err
		}
	}
	return err
}
