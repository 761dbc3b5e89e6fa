package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/message"
	"github.com/brianly1003/nrelay/internal/testutil"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Resolve(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConnection("c1")

	messages := []message.Message{
		&message.EventMessage{Event: testutil.NewIdentity(t).TextNote(t, "x")},
		&message.ReqMessage{SubscriptionID: "s", Filters: nostr.Filters{{}}},
		&message.CloseMessage{SubscriptionID: "s"},
	}

	for _, msg := range messages {
		t.Run(string(msg.Type()), func(t *testing.T) {
			h, err := f.dispatcher.Resolve(msg, conn)
			require.NoError(t, err)
			assert.NotNil(t, h)
		})
	}
}

func TestDispatcher_ResolveUnknown(t *testing.T) {
	f := newFixture(t)

	h, err := f.dispatcher.Resolve(&message.UnknownMessage{Discriminator: "AUTH"}, testutil.NewMockConnection("c1"))

	assert.Nil(t, h)
	assert.ErrorIs(t, err, domain.ErrUnknownMessageType)
	assert.Contains(t, err.Error(), "AUTH")
}

func TestDispatcher_HandleFrameProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		notice string
	}{
		{"not json", `hello`, "invalid: not a JSON array"},
		{"empty array", `[]`, "invalid: empty array"},
		{"unknown type", `["AUTH","challenge"]`, "invalid: unknown message type"},
		{"close without id", `["CLOSE"]`, "invalid: CLOSE expects 1 argument, got 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			conn := testutil.NewMockConnection("c1")

			f.dispatcher.HandleFrame(context.Background(), conn, []byte(tt.frame))

			assert.Equal(t, [][]any{{"NOTICE", tt.notice}}, conn.Frames())
		})
	}
}

func TestDispatcher_HandleFrameRoutesMessages(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConnection("c1")
	ev := testutil.NewIdentity(t).SignedEvent(t, 1, "routed", testNow)

	raw, err := json.Marshal([]any{"EVENT", ev})
	require.NoError(t, err)

	f.dispatcher.HandleFrame(context.Background(), conn, raw)
	f.dispatcher.HandleFrame(context.Background(), conn, []byte(`["REQ","feed",{"kinds":[1]}]`))
	require.True(t, conn.HasSubscription("feed"))
	f.dispatcher.HandleFrame(context.Background(), conn, []byte(`["CLOSE","feed"]`))

	assert.False(t, conn.HasSubscription("feed"))
	assert.Equal(t, 1, f.repo.Count())

	frames := conn.Frames()
	require.Len(t, frames, 3)
	assert.Equal(t, []any{"OK", ev.ID, true, ""}, frames[0])
	assert.Equal(t, "EVENT", frames[1][0])
	assert.Equal(t, "feed", frames[1][1])
	assert.Equal(t, []any{"EOSE", "feed"}, frames[2])
}

func TestReason(t *testing.T) {
	_, err := message.Parse([]byte(`{}`))
	require.Error(t, err)

	assert.Equal(t, "not a JSON array", reason(err, domain.ErrInvalidMessage))
	assert.Equal(t, "plain", reason(errors.New("plain"), domain.ErrInvalidMessage))
}
