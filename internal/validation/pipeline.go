// Package validation decides whether a submitted event may be accepted.
//
// Checks run in a fixed order and stop at the first failure:
//
//  1. created_at is inside the configured acceptance window
//  2. id is the hash of the event's canonical serialization
//  3. sig is a valid schnorr signature over id by pubkey
//  4. a delegation tag, when present, carries a valid NIP-26 proof
//
// Only the first check produces a reason the client may see. The crypto
// checks run on a pool bounded by GOMAXPROCS so that a burst of submissions
// cannot starve the goroutines serving I/O.
package validation

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/brianly1003/nrelay/internal/config"
	"github.com/brianly1003/nrelay/internal/domain"
	"golang.org/x/sync/semaphore"
)

// Pipeline validates events. It never touches storage.
type Pipeline struct {
	limits func() config.CreatedAtLimits
	now    func() time.Time
	pool   *semaphore.Weighted
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithWorkers bounds the number of concurrent signature verifications.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.pool = semaphore.NewWeighted(int64(n))
		}
	}
}

// New creates a Pipeline reading the acceptance window from limits on every call,
// so settings reloads take effect without rebuilding it.
func New(limits func() config.CreatedAtLimits, opts ...Option) *Pipeline {
	p := &Pipeline{
		limits: limits,
		now:    time.Now,
		pool:   semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Validate runs every check against ev. On success a delegated event has its
// Delegator annotation set. Failures are *domain.RejectionError unless ctx
// ends while waiting for a verification slot.
func (p *Pipeline) Validate(ctx context.Context, ev *domain.Event) error {
	if err := p.CheckCreatedAt(ev); err != nil {
		return err
	}

	if err := p.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.pool.Release(1)

	if err := CheckID(ev); err != nil {
		return err
	}

	if err := CheckSignature(ev); err != nil {
		return err
	}

	if ev.IsDelegated() {
		delegator, err := VerifyDelegation(ev)
		if err != nil {
			return err
		}
		ev.Delegator = delegator
	}

	return nil
}

// CheckCreatedAt enforces the temporal acceptance window.
func (p *Pipeline) CheckCreatedAt(ev *domain.Event) error {
	now := p.now().Unix()
	limits := p.limits()
	createdAt := int64(ev.CreatedAt)

	if limits.MaxPositiveDelta > 0 && createdAt > now+limits.MaxPositiveDelta {
		return domain.NewEchoedRejection(domain.ErrEventTooNew,
			fmt.Sprintf("created_at is more than %d seconds in the future", limits.MaxPositiveDelta))
	}

	if limits.MaxNegativeDelta > 0 && createdAt < now-limits.MaxNegativeDelta {
		return domain.NewEchoedRejection(domain.ErrEventTooOld,
			fmt.Sprintf("created_at is more than %d seconds in the past", limits.MaxNegativeDelta))
	}

	return nil
}

// CheckID verifies the event id against its recomputed hash.
func CheckID(ev *domain.Event) error {
	if ev.GetID() != ev.ID {
		return domain.NewRejection(domain.ErrInvalidEventID, "id does not match the event hash")
	}
	return nil
}

// CheckSignature verifies sig over id under pubkey.
func CheckSignature(ev *domain.Event) error {
	ok, err := ev.CheckSignature()
	if err != nil {
		return domain.NewRejection(fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err), "malformed signature or pubkey")
	}
	if !ok {
		return domain.NewRejection(domain.ErrInvalidSignature, "signature does not verify")
	}
	return nil
}
