package handler

import (
	"context"
	"testing"
	"time"

	"github.com/brianly1003/nrelay/internal/config"
	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/strategy"
	"github.com/brianly1003/nrelay/internal/testutil"
	"github.com/brianly1003/nrelay/internal/validation"
)

var testNow = time.Unix(1_700_000_000, 0)

type fixture struct {
	repo        *testutil.MockRepository
	broadcaster *testutil.MockBroadcaster
	events      *EventHandler
	subs        *SubscriptionHandler
	dispatcher  *Dispatcher
	limits      config.SubscriptionLimits
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:        testutil.NewMockRepository(),
		broadcaster: testutil.NewMockBroadcaster(),
		limits:      config.SubscriptionLimits{MaxSubscriptions: 2, MaxFilters: 2},
	}

	pipeline := validation.New(
		func() config.CreatedAtLimits {
			return config.CreatedAtLimits{MaxPositiveDelta: 900, MaxNegativeDelta: 3600}
		},
		validation.WithClock(func() time.Time { return testNow }),
	)

	f.events = NewEventHandler(pipeline, strategy.NewFactory(f.repo, f.broadcaster), nil)
	f.subs = NewSubscriptionHandler(f.repo, func() config.SubscriptionLimits { return f.limits })
	f.dispatcher = NewDispatcher(f.events, f.subs, nil)

	return f
}

type stubValidator struct{ err error }

func (s stubValidator) Validate(context.Context, *domain.Event) error { return s.err }
