package review

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy controls retry pacing for transient executor errors.
type BackoffPolicy struct {
	Base        time.Duration
	Factor      float64
	MaxAttempts int
	Jitter      float64 // fraction of the delay, applied as ± spread
}

// DefaultBackoff matches the review dispatch contract: 1s base,
// doubling, three attempts, ±20% jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Second,
		Factor:      2,
		MaxAttempts: 3,
		Jitter:      0.2,
	}
}

// delay returns the sleep before the given retry (attempt is 1-based;
// the delay precedes attempt+1).
func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

// RetryWithBackoff runs fn until it succeeds, fails permanently, or the
// attempt budget is spent. Permanent errors and review verdicts stop
// immediately; a parse error gets exactly one retry; transient errors
// retry up to MaxAttempts. The context is consulted before every sleep.
func RetryWithBackoff(ctx context.Context, policy BackoffPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	parseRetried := false
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		t := Classify(lastErr)
		switch {
		case t.Permanent() || t == ErrorReviewFailed:
			return lastErr
		case t == ErrorParse:
			if parseRetried {
				return lastErr
			}
			parseRetried = true
		case t.Transient():
			if attempt >= policy.MaxAttempts {
				return lastErr
			}
		default:
			return lastErr
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(policy.delay(attempt)):
		}
	}
}
