// Package retry implements randomized exponential backoff for outbound API
// calls (LLM generation, embeddings, message sending).
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Policy bounds the retry behavior: at most MaxAttempts calls, with a
// randomized wait between attempts whose window widens exponentially from
// MinWait up to MaxWait.
type Policy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
}

// DefaultPolicy mirrors the configured defaults (3 attempts, 1s..30s wait).
var DefaultPolicy = Policy{MaxAttempts: 3, MinWait: time.Second, MaxWait: 30 * time.Second}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.MinWait <= 0 {
		p.MinWait = DefaultPolicy.MinWait
	}
	if p.MaxWait < p.MinWait {
		p.MaxWait = p.MinWait
	}
	return p
}

// wait returns a random duration in [MinWait, min(MaxWait, MinWait<<attempt)].
func (p Policy) wait(attempt int) time.Duration {
	ceiling := p.MinWait << uint(attempt)
	if ceiling > p.MaxWait || ceiling <= 0 {
		ceiling = p.MaxWait
	}
	if ceiling <= p.MinWait {
		return p.MinWait
	}
	return p.MinWait + rand.N(ceiling-p.MinWait)
}

// Do invokes fn until it succeeds or the attempt ceiling is reached, sleeping
// a randomized exponential backoff between attempts. The context cancels the
// wait; the final error wraps the last failure.
func Do(ctx context.Context, log *slog.Logger, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.wait(attempt)
		if log != nil {
			log.WarnContext(ctx, "Operation failed, retrying",
				"operation", op, "attempt", attempt, "max_attempts", p.MaxAttempts,
				"delay", delay, "error", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during retry wait: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, err)
}
