package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/strategy"
	"github.com/brianly1003/nrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHandler_Accepts(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConnection("c1")
	ev := testutil.NewIdentity(t).SignedEvent(t, 1, "hello", testNow)

	require.NoError(t, f.events.Handle(context.Background(), conn, ev))

	assert.Equal(t, 1, f.repo.Count())
	assert.Equal(t, 1, f.broadcaster.Count())
	assert.Equal(t, [][]any{{"OK", ev.ID, true, ""}}, conn.Frames())
}

func TestEventHandler_DuplicateIsAcknowledgedWithoutBroadcast(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConnection("c1")
	ev := testutil.NewIdentity(t).SignedEvent(t, 1, "hello", testNow)

	require.NoError(t, f.events.Handle(context.Background(), conn, ev))
	require.NoError(t, f.events.Handle(context.Background(), conn, ev))

	assert.Equal(t, 1, f.repo.Count())
	assert.Equal(t, 2, f.repo.CreateCalls())
	assert.Equal(t, 1, f.broadcaster.Count())

	oks := conn.FramesOfType("OK")
	require.Len(t, oks, 2)
	assert.Equal(t, []any{"OK", ev.ID, true, "duplicate: already have this event"}, oks[1])
}

func TestEventHandler_TemporalRejectionIsEchoed(t *testing.T) {
	tests := []struct {
		name      string
		createdAt time.Time
		notice    string
	}{
		{
			name:      "too far in the future",
			createdAt: testNow.Add(901 * time.Second),
			notice:    "Event rejected: created_at is more than 900 seconds in the future",
		},
		{
			name:      "too far in the past",
			createdAt: testNow.Add(-3601 * time.Second),
			notice:    "Event rejected: created_at is more than 3600 seconds in the past",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			conn := testutil.NewMockConnection("c1")
			ev := testutil.NewIdentity(t).SignedEvent(t, 1, "late", tt.createdAt)

			err := f.events.Handle(context.Background(), conn, ev)

			var rejection *domain.RejectionError
			require.ErrorAs(t, err, &rejection)
			assert.Equal(t, [][]any{{"NOTICE", tt.notice}}, conn.Frames())
			assert.Equal(t, 0, f.repo.CreateCalls())
			assert.Equal(t, 0, f.broadcaster.Count())
		})
	}
}

func TestEventHandler_InvalidEventsAreDroppedSilently(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ev *domain.Event)
		want   error
	}{
		{
			name:   "tampered content",
			mutate: func(ev *domain.Event) { ev.Content = "tampered" },
			want:   domain.ErrInvalidEventID,
		},
		{
			name: "foreign signature",
			mutate: func(ev *domain.Event) {
				other := testutil.NewIdentity(t).SignedEvent(t, 1, "other", testNow)
				ev.Sig = other.Sig
			},
			want: domain.ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			conn := testutil.NewMockConnection("c1")
			ev := testutil.NewIdentity(t).SignedEvent(t, 1, "original", testNow)
			tt.mutate(ev)

			err := f.events.Handle(context.Background(), conn, ev)

			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, conn.Frames())
			assert.Equal(t, 0, f.repo.CreateCalls())
			assert.Equal(t, 0, f.broadcaster.Count())
		})
	}
}

func TestEventHandler_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.SetCreateError(errors.New("disk full"))
	conn := testutil.NewMockConnection("c1")
	ev := testutil.NewIdentity(t).SignedEvent(t, 1, "hello", testNow)

	err := f.events.Handle(context.Background(), conn, ev)

	assert.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.Equal(t, 1, f.repo.CreateCalls())
	assert.Equal(t, 0, f.broadcaster.Count())
	assert.Equal(t, [][]any{{"OK", ev.ID, false, "error: unable to save event"}}, conn.Frames())
}

func TestEventHandler_EphemeralEvent(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConnection("c1")
	ev := testutil.NewIdentity(t).SignedEvent(t, 20001, "typing", testNow)

	require.NoError(t, f.events.Handle(context.Background(), conn, ev))

	assert.Equal(t, 0, f.repo.Count())
	assert.Equal(t, 1, f.broadcaster.Count())
	assert.Equal(t, [][]any{{"OK", ev.ID, true, ""}}, conn.Frames())
}

func TestEventHandler_ValidatorError(t *testing.T) {
	repo := testutil.NewMockRepository()
	broadcaster := testutil.NewMockBroadcaster()
	h := NewEventHandler(stubValidator{err: context.Canceled}, strategy.NewFactory(repo, broadcaster), nil)
	conn := testutil.NewMockConnection("c1")

	err := h.Handle(context.Background(), conn, testutil.NewIdentity(t).TextNote(t, "x"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, conn.Frames())
	assert.Equal(t, 0, repo.CreateCalls())
}
