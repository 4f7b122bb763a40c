package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ApplyListOperations(t *testing.T) {
	m1 := Message{ID: "m1", Timestamp: 1}
	m2 := Message{ID: "m2", Timestamp: 2}
	m3 := Message{ID: "m3", Timestamp: 3}

	list, err := ApplyListOperations(nil,
		ListOperation{Type: InsertOperationType, Index: 0, Message: m2},
		ListOperation{Type: InsertOperationType, Index: 0, Message: m1},
		ListOperation{Type: InsertOperationType, Index: 2, Message: m3},
	)
	require.NoError(t, err)
	require.Equal(t, MessageList{m1, m2, m3}, list)

	// move m1 to the end
	m1.Timestamp = 4
	list, err = ApplyListOperations(list, ListOperation{Type: UpdateOperationType, Index: 0, NewIndex: 2, Message: m1})
	require.NoError(t, err)
	require.Equal(t, MessageList{m2, m3, m1}, list)

	list, err = ApplyListOperations(list, ListOperation{Type: DeleteOperationType, Index: 1})
	require.NoError(t, err)
	require.Equal(t, MessageList{m2, m1}, list)
	t.Logf("list:\n%s", list)
}

func Test_ApplyListOperations_Invalid(t *testing.T) {
	list := MessageList{{ID: "m1"}}

	testCases := []ListOperation{
		{Type: InsertOperationType, Index: -1},
		{Type: InsertOperationType, Index: 2},
		{Type: UpdateOperationType, Index: 1},
		{Type: UpdateOperationType, Index: 0, NewIndex: 1},
		{Type: DeleteOperationType, Index: 1},
		{Type: "move", Index: 0},
	}

	for _, op := range testCases {
		_, err := ApplyListOperations(append(MessageList(nil), list...), op)
		require.Error(t, err, "op: %+v", op)
	}
}
