// Package ratelimit paces outbound LLM requests.
//
// The pipeline rate-limits by spacing, not by token bucket: every worker
// sleeps a fixed delay before each call, and the orchestrator doubles that
// delay between batches. A Pacer owns that delay and makes the sleeps
// context-aware so cancellation is never stuck behind a timer.
package ratelimit

import (
	"context"
	"time"
)

// Pacer spaces calls by a fixed delay.
type Pacer struct {
	delay time.Duration
}

// NewPacer returns a pacer with the given per-call delay. Non-positive
// delays disable pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay < 0 {
		delay = 0
	}
	return &Pacer{delay: delay}
}

// Delay returns the configured per-call delay.
func (p *Pacer) Delay() time.Duration {
	return p.delay
}

// Wait sleeps the per-call delay, returning early with ctx.Err() if the
// context is done first.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.sleep(ctx, p.delay)
}

// WaitAttempt sleeps delay*(attempt) before retry number attempt (1-based),
// so a second attempt waits one delay, a third waits two.
func (p *Pacer) WaitAttempt(ctx context.Context, attempt int) error {
	if attempt < 1 {
		attempt = 1
	}
	return p.sleep(ctx, p.delay*time.Duration(attempt))
}

// BatchPause sleeps twice the per-call delay. The orchestrator calls it
// between batches.
func (p *Pacer) BatchPause(ctx context.Context) error {
	return p.sleep(ctx, 2*p.delay)
}

func (p *Pacer) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
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
