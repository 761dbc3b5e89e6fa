package message

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Event(t *testing.T) {
	ev := testutil.NewIdentity(t).TextNote(t, "hello")
	data, err := json.Marshal([]any{"EVENT", ev})
	require.NoError(t, err)

	msg, err := Parse(data)
	require.NoError(t, err)

	em, ok := msg.(*EventMessage)
	require.True(t, ok)
	assert.Equal(t, TypeEvent, em.Type())
	assert.Equal(t, ev.ID, em.Event.ID)
	assert.Equal(t, ev.Sig, em.Event.Sig)
	assert.Equal(t, "hello", em.Event.Content)
	assert.Empty(t, em.Event.Delegator)
}

func TestParse_Req(t *testing.T) {
	msg, err := Parse([]byte(`["REQ","sub1",{"kinds":[1],"limit":5},{"authors":["abc"],"#e":["x"]}]`))
	require.NoError(t, err)

	req, ok := msg.(*ReqMessage)
	require.True(t, ok)
	assert.Equal(t, "sub1", req.SubscriptionID)
	require.Len(t, req.Filters, 2)
	assert.Equal(t, []int{1}, req.Filters[0].Kinds)
	assert.Equal(t, 5, req.Filters[0].Limit)
	assert.Equal(t, []string{"abc"}, req.Filters[1].Authors)
	assert.Equal(t, []string{"x"}, req.Filters[1].Tags["e"])
}

func TestParse_Close(t *testing.T) {
	msg, err := Parse([]byte(`["CLOSE","sub1"]`))
	require.NoError(t, err)

	cm, ok := msg.(*CloseMessage)
	require.True(t, ok)
	assert.Equal(t, "sub1", cm.SubscriptionID)
	assert.Equal(t, TypeClose, cm.Type())
}

func TestParse_Unknown(t *testing.T) {
	msg, err := Parse([]byte(`["AUTH","challenge"]`))
	require.NoError(t, err)

	um, ok := msg.(*UnknownMessage)
	require.True(t, ok)
	assert.Equal(t, Type("AUTH"), um.Type())
}

func TestParse_Invalid(t *testing.T) {
	long := strings.Repeat("a", MaxSubscriptionIDLength+1)

	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `EVENT`, "not a JSON array"},
		{"object", `{"type":"EVENT"}`, "not a JSON array"},
		{"empty array", `[]`, "empty array"},
		{"numeric type", `[1,2]`, "message type must be a string"},
		{"event without payload", `["EVENT"]`, "EVENT expects 1 argument"},
		{"event with extra args", `["EVENT",{},{}]`, "EVENT expects 1 argument"},
		{"event not an object", `["EVENT","x"]`, "malformed event"},
		{"event missing sig", `["EVENT",{"id":"a","pubkey":"b"}]`, "missing id, pubkey or sig"},
		{"req without filters", `["REQ","sub"]`, "at least one filter"},
		{"req with bad filter", `["REQ","sub",5]`, "malformed filter"},
		{"req with numeric id", `["REQ",1,{}]`, "subscription id must be a string"},
		{"req with empty id", `["REQ","",{}]`, "subscription id must be 1 to 64"},
		{"req with long id", `["REQ","` + long + `",{}]`, "subscription id must be 1 to 64"},
		{"close without id", `["CLOSE"]`, "CLOSE expects 1 argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.data))
			assert.Nil(t, msg)
			require.ErrorIs(t, err, domain.ErrInvalidMessage)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEncode(t *testing.T) {
	ev := testutil.NewIdentity(t).TextNote(t, "out")

	data, err := EncodeEvent("sub", ev)
	require.NoError(t, err)
	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Len(t, frame, 3)
	assert.JSONEq(t, `"EVENT"`, string(frame[0]))
	assert.JSONEq(t, `"sub"`, string(frame[1]))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame[2], &decoded))
	assert.Equal(t, ev.ID, decoded["id"])
	assert.NotContains(t, decoded, "Delegator")

	data, err = EncodeEOSE("sub")
	require.NoError(t, err)
	assert.JSONEq(t, `["EOSE","sub"]`, string(data))

	data, err = EncodeNotice("slow down")
	require.NoError(t, err)
	assert.JSONEq(t, `["NOTICE","slow down"]`, string(data))

	data, err = EncodeOK("abc", false, "error: unable to save event")
	require.NoError(t, err)
	assert.JSONEq(t, `["OK","abc",false,"error: unable to save event"]`, string(data))
}
