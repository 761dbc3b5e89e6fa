package domain

import (
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_IsEphemeral(t *testing.T) {
	tests := []struct {
		kind int
		want bool
	}{
		{1, false},
		{19999, false},
		{20000, true},
		{25000, true},
		{29999, true},
		{30000, false},
	}

	for _, tt := range tests {
		ev := NewEvent(nostr.Event{Kind: tt.kind})
		assert.Equal(t, tt.want, ev.IsEphemeral(), "kind %d", tt.kind)
	}
}

func TestEvent_DelegationTag(t *testing.T) {
	ev := NewEvent(nostr.Event{Tags: nostr.Tags{
		{"p", "abc"},
		{"delegation", "delegator", "kind=1"},
	}})
	assert.False(t, ev.IsDelegated(), "three-element tag is not a delegation")

	ev.Tags = append(ev.Tags, nostr.Tag{"delegation", "delegator", "kind=1", "sig"})
	require.True(t, ev.IsDelegated())
	assert.Equal(t, "delegator", ev.DelegationTag()[1])
}

func TestEvent_EffectiveAuthor(t *testing.T) {
	ev := NewEvent(nostr.Event{PubKey: "author"})
	assert.Equal(t, "author", ev.EffectiveAuthor())

	ev.Delegator = "delegator"
	assert.Equal(t, "delegator", ev.EffectiveAuthor())
}

func TestEvent_DelegatorNotSerialized(t *testing.T) {
	ev := NewEvent(nostr.Event{ID: "id", PubKey: "author", Kind: 1, Content: "hi"})
	ev.Delegator = "delegator"

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "delegator")
	assert.Contains(t, string(data), `"content":"hi"`)
}
