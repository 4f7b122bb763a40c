package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_DecodeRevision(t *testing.T) {
	testCases := []struct {
		name  string
		input any
		rev   Revision
		err   bool
	}{
		{name: "string", input: "102", rev: "102"},
		{name: "json.Number", input: json.Number("102"), rev: "102"},
		{name: "float64", input: float64(102), rev: "102"},
		{name: "int", input: 102, rev: "102"},
		{name: "opaque string", input: "a7f:3", rev: "a7f:3"},
		{name: "fraction", input: json.Number("1.5"), err: true},
		{name: "float fraction", input: 1.5, err: true},
		{name: "bool", input: true, err: true},
		{name: "object", input: map[string]any{}, err: true},
		{name: "empty", input: "", err: true},
		{name: "nil", input: nil, err: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rev, err := DecodeRevision(tc.input)
			if tc.err {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.rev, rev)
		})
	}
}

// Test checks that integer and string revisions normalize to the same cursor.
func Test_DecodeDeltaResponse_RevisionNormalization(t *testing.T) {
	respInt, err := DecodeDeltaResponse([]byte(`{"revision":102}`))
	require.NoError(t, err)

	respStr, err := DecodeDeltaResponse([]byte(`{"revision":"102"}`))
	require.NoError(t, err)

	require.Equal(t, Revision("102"), respInt.Revision)
	require.Equal(t, respStr.Revision, respInt.Revision)
}

func Test_DecodeDeltaResponse_Envelope(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{"revision":`},
		{name: "null", raw: `null`},
		{name: "array", raw: `[1,2]`},
		{name: "missing revision", raw: `{"deltaList":[]}`},
		{name: "null revision", raw: `{"revision":null}`},
		{name: "bool revision", raw: `{"revision":true}`},
		{name: "deltaList object", raw: `{"revision":"1","deltaList":{}}`},
		{name: "fullUpdate string", raw: `{"revision":"1","fullUpdate":"x"}`},
		{name: "fullUpdate bad chat", raw: `{"revision":"1","fullUpdate":{"chat":[1]}}`},
		{name: "fullUpdate bad historyRevision", raw: `{"revision":"1","fullUpdate":{"historyRevision":"abc"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeDeltaResponse([]byte(tc.raw))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

// Test checks that malformed items are skipped while the envelope stays valid.
func Test_DecodeDeltaResponse_ItemTolerance(t *testing.T) {
	raw := `{
		"revision": "101",
		"deltaList": [
			{"event":"add","id":"m1","objectType":"CHAT_MESSAGE","data":{"text":"hi"}},
			{"event":"add","objectType":"CHAT_MESSAGE"},
			{"id":"m2","objectType":"CHAT_MESSAGE"},
			{"event":"mutate","id":"m3"},
			"garbage",
			{"event":"upd","id":"x","objectType":"SOMETHING_NEW","data":1},
			{"event":"del","id":7}
		]
	}`

	resp, err := DecodeDeltaResponse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, Revision("101"), resp.Revision)
	require.Nil(t, resp.FullUpdate)
	require.Equal(t, 4, resp.Skipped)
	require.Len(t, resp.DeltaList, 3)

	require.Equal(t, EventAdd, resp.DeltaList[0].Event)
	require.Equal(t, ObjectTypeChatMessage, resp.DeltaList[0].ObjectType)
	require.Equal(t, "m1", resp.DeltaList[0].ID)
	require.JSONEq(t, `{"text":"hi"}`, string(resp.DeltaList[0].Data))
	require.True(t, resp.DeltaList[0].Known())

	require.Equal(t, ObjectTypeNone, resp.DeltaList[1].ObjectType)
	require.False(t, resp.DeltaList[1].Known())

	require.Equal(t, "7", resp.DeltaList[2].ID)
	require.Nil(t, resp.DeltaList[2].Data)
	require.False(t, resp.DeltaList[2].HasData())
}

func Test_DecodeFullUpdate(t *testing.T) {
	raw := `{
		"revision": 5,
		"fullUpdate": {
			"authToken": "tok",
			"pageId": "p1",
			"visitSessionId": "s1",
			"state": "chat",
			"onlineStatus": "online",
			"historyRevision": 1700000000,
			"departments": [{"key":"sales","name":"Sales","order":1}],
			"visitor": {"id":"v1","fields":{"name":"Bob"}},
			"chat": {
				"id": 42,
				"state": "chatting",
				"operator": {"id": 9, "fullname": "Alice"},
				"messages": [
					{"id":"m1","kind":"visitor","text":"hi","ts":1.5},
					{"id":2,"kind":"operator","text":"hello","ts":2.5}
				]
			}
		}
	}`

	resp, err := DecodeDeltaResponse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, Revision("5"), resp.Revision)

	fu := resp.FullUpdate
	require.NotNil(t, fu)
	require.Equal(t, "tok", fu.AuthToken)
	require.Equal(t, "p1", fu.PageID)
	require.Equal(t, "s1", fu.SessionID)
	require.Equal(t, VisitSessionStateChat, fu.State)
	require.Equal(t, "online", fu.OnlineStatus)
	require.False(t, fu.HintsEnabled)
	require.NotNil(t, fu.HistoryRevision)
	require.EqualValues(t, 1700000000, *fu.HistoryRevision)
	require.Equal(t, []Department{{Key: "sales", Name: "Sales", Order: 1}}, fu.Departments)
	require.JSONEq(t, `{"id":"v1","fields":{"name":"Bob"}}`, fu.VisitorJSON)

	require.NotNil(t, fu.Chat)
	require.Equal(t, FlexString("42"), fu.Chat.ID)
	require.Equal(t, ChatStateChatting, fu.Chat.State)
	require.Equal(t, FlexString("9"), fu.Chat.Operator.ID)
	require.Len(t, fu.Chat.Messages, 2)
	require.Equal(t, FlexString("2"), fu.Chat.Messages[1].ID)
}

func Test_DecodeFullUpdate_Minimal(t *testing.T) {
	fu, err := DecodeFullUpdate(map[string]any{"hintsEnabled": true})
	require.NoError(t, err)
	require.True(t, fu.HintsEnabled)
	require.Nil(t, fu.Chat)
	require.Nil(t, fu.Departments)
	require.Nil(t, fu.HistoryRevision)
	require.Empty(t, fu.VisitorJSON)
}

func Test_DecodeHistoryResponse(t *testing.T) {
	raw := `{"data":{"messages":[{"id":"m1","text":"a","ts":1},{"text":"no id"},{"id":"m2","text":"b","ts":2}],"hasMore":true,"revision":77}}`

	page, err := DecodeHistoryResponse([]byte(raw))
	require.NoError(t, err)
	require.True(t, page.HasMore)
	require.Equal(t, Revision("77"), page.Revision)
	require.Equal(t, 1, page.Skipped)
	require.Len(t, page.Messages, 2)
	require.Equal(t, FlexString("m2"), page.Messages[1].ID)

	_, err = DecodeHistoryResponse([]byte(`{"messages":[]}`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeHistoryResponse([]byte(`{"data":{"hasMore":"yes"}}`))
	require.ErrorIs(t, err, ErrMalformed)
}

// Test checks that encoding a response and decoding it back keeps the applied content.
func Test_DeltaResponse_WireForm(t *testing.T) {
	rev := int64(3)
	resp := DeltaResponse{
		Revision: "9",
		FullUpdate: &FullUpdate{
			AuthToken:       "tok",
			HintsEnabled:    true,
			HistoryRevision: &rev,
			Chat:            &Chat{ID: "c1", State: ChatStateQueue},
		},
		DeltaList: []DeltaItem{
			{Event: EventUpdate, ObjectType: ObjectTypeChatOperatorTyping, ID: "c1", Data: json.RawMessage(`true`)},
		},
	}

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	decoded, err := DecodeDeltaResponse(raw)
	require.NoError(t, err)
	require.Equal(t, resp.Revision, decoded.Revision)
	require.Equal(t, resp.FullUpdate.AuthToken, decoded.FullUpdate.AuthToken)
	require.True(t, decoded.FullUpdate.HintsEnabled)
	require.Equal(t, resp.FullUpdate.Chat.ID, decoded.FullUpdate.Chat.ID)
	require.Equal(t, resp.DeltaList[0].ObjectType, decoded.DeltaList[0].ObjectType)
	require.JSONEq(t, `true`, string(decoded.DeltaList[0].Data))
}

func Test_PatchJSON(t *testing.T) {
	msg := Message{ID: "m1", Kind: MessageKindVisitor, Text: "hi", Timestamp: 1}

	patched, err := PatchJSON(msg, json.RawMessage(`{"text":"hi there"}`))
	require.NoError(t, err)
	require.Equal(t, "hi there", patched.Text)
	require.Equal(t, MessageKindVisitor, patched.Kind)
	require.Equal(t, float64(1), patched.Timestamp)
	require.Equal(t, "hi", msg.Text)

	_, err = PatchJSON(msg, json.RawMessage(`[1]`))
	require.ErrorIs(t, err, ErrMalformed)
}
