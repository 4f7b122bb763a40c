package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/itiky/chatsync/model"
)

func decodeResponse(t *testing.T, raw string) model.DeltaResponse {
	resp, err := model.DecodeDeltaResponse([]byte(raw))
	require.NoError(t, err)

	return resp
}

// Test follows the add then update example: the message is updated in place and the cursor follows the responses.
func Test_Tracker_MessageAddUpdate(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordRevision("100")

	res := tracker.ApplyResponse(decodeResponse(t,
		`{"revision":"101","deltaList":[{"event":"add","id":"m1","objectType":"CHAT_MESSAGE","data":{"text":"hi"}}]}`,
	))
	require.Equal(t, 1, res.Applied)
	require.Equal(t, []ChangeKind{ChangeMessageAdded, ChangeRevision}, eventKinds(res.Events))

	cursor, ok := tracker.CurrentCursor()
	require.True(t, ok)
	require.Equal(t, model.Revision("101"), cursor)

	msg, found := tracker.Snapshot().Message("m1")
	require.True(t, found)
	require.Equal(t, "hi", msg.Text)

	tracker.ApplyResponse(decodeResponse(t,
		`{"revision":"102","deltaList":[{"event":"upd","id":"m1","objectType":"CHAT_MESSAGE","data":{"text":"hi there"}}]}`,
	))

	snapshot := tracker.Snapshot()
	require.Equal(t, 1, snapshot.MessagesCount())
	msg, _ = snapshot.Message("m1")
	require.Equal(t, "hi there", msg.Text)

	cursor, _ = tracker.CurrentCursor()
	require.Equal(t, model.Revision("102"), cursor)
}

// Test checks that applying the same add twice results in the same snapshot.
func Test_Tracker_IdempotentAdd(t *testing.T) {
	tracker := NewTracker()
	raw := `{"revision":"5","deltaList":[{"event":"add","id":"m1","objectType":"CHAT_MESSAGE","data":{"text":"hi","ts":1}}]}`

	tracker.ApplyResponse(decodeResponse(t, raw))
	first := tracker.Snapshot()

	res := tracker.ApplyResponse(decodeResponse(t, raw))
	require.Empty(t, res.Events)
	require.Equal(t, first, tracker.Snapshot())
}

// Test checks that a full update leaves no stale fields and is applied before the delta list.
func Test_Tracker_FullUpdateReplaces(t *testing.T) {
	tracker := NewTracker()
	tracker.ApplyResponse(decodeResponse(t, `{
		"revision": "1",
		"fullUpdate": {
			"authToken": "tok",
			"hintsEnabled": true,
			"onlineStatus": "online",
			"departments": [{"key":"sales"}],
			"historyRevision": 10,
			"visitor": {"id":"v1"},
			"chat": {"id":"c1","state":"chatting","operatorTyping":true,"messages":[{"id":"m1","text":"old","ts":1}]}
		},
		"deltaList": [{"event":"upd","id":"c1","objectType":"CHAT_UNREAD_BY_OPERATOR_SINCE_TS","data":3}]
	}`))
	require.NotNil(t, tracker.Snapshot().Chat.UnreadByOperatorSinceTs)

	res := tracker.ApplyResponse(decodeResponse(t, `{
		"revision": "2",
		"fullUpdate": {"pageId": "p2"},
		"deltaList": [{"event":"add","id":"m2","objectType":"CHAT_MESSAGE","data":{"text":"new","ts":2}}]
	}`))
	require.True(t, res.Reset)
	require.Equal(t, []ChangeKind{ChangeSessionReset, ChangeMessageAdded, ChangeRevision}, eventKinds(res.Events))

	snapshot := tracker.Snapshot()
	require.Equal(t, "p2", snapshot.PageID)
	require.Empty(t, snapshot.AuthToken)
	require.False(t, snapshot.HintsEnabled)
	require.Empty(t, snapshot.OnlineStatus)
	require.Nil(t, snapshot.Departments)
	require.Nil(t, snapshot.HistoryRevision)
	require.Empty(t, snapshot.VisitorJSON)
	require.False(t, snapshot.HasMessage("m1"))
	require.True(t, snapshot.HasMessage("m2"))
	// the message delta is chat-scoped only through the message store
	require.False(t, snapshot.HasChat())
}

// Test checks that a FullUpdate exported from the state rebuilds an equal state.
func Test_Tracker_ExportFullUpdate(t *testing.T) {
	tracker := NewTracker()
	tracker.ApplyResponse(decodeResponse(t, `{
		"revision": "1",
		"fullUpdate": {
			"authToken": "tok",
			"departments": [{"key":"sales"}],
			"historyRevision": 10,
			"visitor": {"id":"v1"},
			"chat": {"id":"c1","state":"chatting","messages":[{"id":"m1","text":"a","ts":1}]}
		},
		"deltaList": [{"event":"add","id":"m2","objectType":"CHAT_MESSAGE","data":{"text":"b","ts":2}}]
	}`))
	snapshot := tracker.Snapshot()

	rebuilt := NewTracker()
	rebuilt.ApplyFullUpdate(snapshot.ExportFullUpdate())
	require.Equal(t, snapshot, rebuilt.Snapshot())

	// messages outlive a closed chat
	tracker.ApplyResponse(decodeResponse(t, `{
		"revision": "2",
		"deltaList": [{"event":"del","id":"c1","objectType":"CHAT"}]
	}`))
	snapshot = tracker.Snapshot()
	require.False(t, snapshot.HasChat())
	require.Equal(t, 2, snapshot.MessagesCount())

	fu := snapshot.ExportFullUpdate()
	require.Nil(t, fu.Chat)
	require.Len(t, fu.Messages, 2)

	rebuilt = NewTracker()
	rebuilt.ApplyFullUpdate(fu)
	require.Equal(t, snapshot, rebuilt.Snapshot())

	// the same through the wire form
	raw, err := json.Marshal(fu)
	require.NoError(t, err)
	decoded, err := model.DecodeFullUpdateJSON(raw)
	require.NoError(t, err)
	rebuilt = NewTracker()
	rebuilt.ApplyFullUpdate(decoded)
	require.Equal(t, snapshot.Messages(), rebuilt.Snapshot().Messages())
}

// Test checks that a revision is recorded without any session context.
func Test_Tracker_RevisionWithoutSession(t *testing.T) {
	tracker := NewTracker()

	_, ok := tracker.CurrentCursor()
	require.False(t, ok)

	res := tracker.ApplyResponse(decodeResponse(t,
		`{"revision":7,"deltaList":[{"event":"upd","id":"c1","objectType":"SOMETHING_NEW","data":true}]}`,
	))
	require.Equal(t, []ChangeKind{ChangeRevision}, eventKinds(res.Events))
	require.Equal(t, model.Revision("7"), res.Revision)

	cursor, ok := tracker.CurrentCursor()
	require.True(t, ok)
	require.Equal(t, model.Revision("7"), cursor)
	require.Equal(t, NewSnapshot(), tracker.Snapshot())

	// an "older" looking revision still overwrites the cursor
	tracker.RecordRevision("10")
	tracker.RecordRevision("9")
	cursor, _ = tracker.CurrentCursor()
	require.Equal(t, model.Revision("9"), cursor)
}

// Test checks that malformed items are skipped while the rest of the list and the revision are applied.
func Test_Tracker_SkippedItems(t *testing.T) {
	tracker := NewTracker()

	res := tracker.ApplyResponse(decodeResponse(t, `{
		"revision": "3",
		"deltaList": [
			{"event":"add","id":"m1","objectType":"CHAT_MESSAGE","data":{"text":"a","ts":1}},
			{"event":"add","objectType":"CHAT_MESSAGE","data":{"text":"no id"}},
			{"event":"upd","id":"c1","objectType":"CHAT_STATE","data":{"bad":1}},
			{"event":"add","id":"m2","objectType":"CHAT_MESSAGE","data":{"text":"b","ts":2}}
		]
	}`))
	require.Equal(t, 2, res.Applied)
	require.Equal(t, 2, res.Skipped)

	snapshot := tracker.Snapshot()
	require.Equal(t, 2, snapshot.MessagesCount())
	cursor, _ := tracker.CurrentCursor()
	require.Equal(t, model.Revision("3"), cursor)
}

// Test checks that readers get copies.
func Test_Tracker_SnapshotIsolation(t *testing.T) {
	tracker := NewTracker()
	tracker.ApplyResponse(decodeResponse(t,
		`{"revision":"1","fullUpdate":{"chat":{"id":"c1","operator":{"id":1,"fullname":"Alice"}}}}`,
	))

	snapshot := tracker.Snapshot()
	snapshot.Chat.Operator.Name = "Bob"
	snapshot.Chat = nil

	require.Equal(t, "Alice", tracker.Snapshot().Chat.Operator.Name)

	rev, restored := tracker.State()
	other := NewTracker()
	other.Restore(rev, restored)
	require.Equal(t, tracker.Snapshot(), other.Snapshot())
	cursor, _ := other.CurrentCursor()
	require.Equal(t, model.Revision("1"), cursor)
}
