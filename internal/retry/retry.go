// Package retry implements the RetryHarness (spec §4.1): bounded exponential
// backoff with jitter, filtered to the distinguished concurrent-modification
// error. Modeled on the teacher's internal/storage.S3Storage.retryWithBackoff,
// generalized to an arbitrary fallible action and a caller-supplied policy
// instead of a fixed S3-upload-specific loop.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/arkilian/cdcflow/internal/cdcerrors"
)

// Policy configures bounded exponential backoff with jitter. Constructed
// once per job and shared read-only across supervisors, per spec §9's
// "Retry policy construction" design note.
type Policy struct {
	MinWait      time.Duration
	MaxWait      time.Duration
	JitterFactor float64 // in [0,1]
	MaxAttempts  int     // >= 1; 1 disables retry
}

// DefaultPolicy mirrors dataStorage.retry.* defaults from spec §6.
func DefaultPolicy() Policy {
	return Policy{
		MinWait:      100 * time.Millisecond,
		MaxWait:      10 * time.Second,
		JitterFactor: 0.25,
		MaxAttempts:  5,
	}
}

// Outcome records what happened across all attempts, for trace-level
// observability per spec §4.1 ("attempts, cumulative elapsed time, and
// terminal outcome are emitted as trace-level events").
type Outcome struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// Harness wraps a fallible action in the configured retry policy.
type Harness struct {
	policy Policy
	rand   *rand.Rand
}

// New creates a Harness with the given policy.
func New(policy Policy) *Harness {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Harness{
		policy: policy,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs action, retrying only on cdcerrors.CategoryConcurrentModification
// failures, up to policy.MaxAttempts. Any other error propagates immediately
// on its first occurrence. On exhaustion, returns a RetriesExhausted error
// carrying the last cause.
func (h *Harness) Do(ctx context.Context, action func(ctx context.Context) error) Outcome {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= h.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Attempts: attempt, Elapsed: time.Since(start), Err: err}
		}

		err := action(ctx)
		if err == nil {
			return Outcome{Attempts: attempt, Elapsed: time.Since(start), Err: nil}
		}

		if !cdcerrors.IsRetryable(err) {
			return Outcome{Attempts: attempt, Elapsed: time.Since(start), Err: err}
		}

		lastErr = err
		if attempt == h.policy.MaxAttempts {
			break
		}

		wait := h.backoff(attempt)
		select {
		case <-ctx.Done():
			return Outcome{Attempts: attempt, Elapsed: time.Since(start), Err: ctx.Err()}
		case <-time.After(wait):
		}
	}

	exhausted := cdcerrors.NewRetriesExhausted(h.policy.MaxAttempts, lastErr)
	return Outcome{Attempts: h.policy.MaxAttempts, Elapsed: time.Since(start), Err: exhausted}
}

// backoff computes minWait * 2^(attempt-1), capped at maxWait, adds a random
// jitter of up to JitterFactor times that value, and caps the sum at maxWait.
func (h *Harness) backoff(attempt int) time.Duration {
	base := float64(h.policy.MinWait) * math.Pow(2, float64(attempt-1))
	if base > float64(h.policy.MaxWait) {
		base = float64(h.policy.MaxWait)
	}
	jitter := base * h.policy.JitterFactor * h.rand.Float64()
	d := time.Duration(base + jitter)
	if d > h.policy.MaxWait {
		d = h.policy.MaxWait
	}
	return d
}
