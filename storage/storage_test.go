package storage

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/itiky/chatsync/model"
)

const BenchHistorySize = 1000000

// Test adds/removes messages to/from the store and checks data integrity.
func Test_MessageStore_Sorting(t *testing.T) {
	store := NewMessageStore()

	isSorted := func(comment string) {
		t.Logf("%s:\n%s", comment, store.String())

		require.Len(t, store.idDataMatch, len(store.list), "list/dataMap length mismatch")
		for i := 1; i < len(store.list); i++ {
			require.False(t, store.list[i].Less(*store.list[i-1]), "item[%d] order", i)
		}
	}

	// add a few messages
	for _, ts := range []float64{5, 1, 10, 8, -1} {
		store.Set(model.Message{ID: model.FlexString(uuid.NewString()), Timestamp: ts})
		isSorted(fmt.Sprintf("Adding %v", ts))
	}

	// equal timestamps are ordered by id
	store.Set(model.Message{ID: "b", Timestamp: 3})
	store.Set(model.Message{ID: "a", Timestamp: 3})
	isSorted("Adding a/b")
	require.Equal(t, model.FlexString("a"), store.list[2].ID)
	require.Equal(t, model.FlexString("b"), store.list[3].ID)

	// unchanged message
	require.Nil(t, store.Set(model.Message{ID: "a", Timestamp: 3}))

	// move the message to the end
	op := store.Set(model.Message{ID: "a", Timestamp: 11})
	require.NotNil(t, op)
	require.Equal(t, model.UpdateOperationType, op.Type)
	require.Equal(t, 2, op.Index)
	require.Equal(t, 6, op.NewIndex)
	isSorted("Moving a")

	// remove a few messages
	for _, idx := range []int{0, 3, 1, 1, 0} {
		store.Delete(store.list[idx].ID.String())
		isSorted(fmt.Sprintf("Removing [%d]", idx))
	}
	require.Equal(t, 2, store.Len())

	// unknown id
	require.Nil(t, store.Delete("unknown"))
}

// Test sets / deletes messages and checks that returned model.ListOperation objects can build an equal model.MessageList.
func Test_MessageStore_ModelList(t *testing.T) {
	store := NewMessageStore()
	var modelList model.MessageList

	ids := make([]string, 0)
	newMsg := func(id string) model.Message {
		return model.Message{
			ID:        model.FlexString(id),
			Text:      uuid.NewString(),
			Timestamp: float64(rand.Intn(100)),
		}
	}

	checkLists := func(comment string, listOps []model.ListOperation) {
		list, err := model.ApplyListOperations(modelList, listOps...)
		require.NoError(t, err)

		t.Log(comment)
		t.Logf("Store:\n%s", store)
		t.Logf("ModelList:\n%s", list)

		require.Equal(t, store.Export(), list)
		modelList = list
	}

	apply := func(ops ...*model.ListOperation) []model.ListOperation {
		listOps := make([]model.ListOperation, 0, len(ops))
		for _, op := range ops {
			if op != nil {
				listOps = append(listOps, *op)
			}
		}
		return listOps
	}

	// initial inserts
	{
		ops := make([]*model.ListOperation, 0)
		for i := 0; i < 5; i++ {
			id := uuid.NewString()
			ids = append(ids, id)
			ops = append(ops, store.Set(newMsg(id)))
		}
		checkLists("inserts", apply(ops...))
	}

	// insert, update, delete
	{
		id := uuid.NewString()
		ops := apply(
			store.Set(newMsg(id)),
			store.Set(newMsg(ids[0])),
			store.Delete(ids[4]),
		)
		ids = append(ids, id)
		checkLists("insert, update, delete", ops)
	}

	// update twice
	checkLists("update twice", apply(
		store.Set(newMsg(ids[1])),
		store.Set(newMsg(ids[1])),
	))

	// delete twice
	checkLists("delete twice", apply(
		store.Delete(ids[5]),
		store.Delete(ids[5]),
	))

	require.Equal(t, 4, store.Len())
}

func Test_MessageStore_ExportTail(t *testing.T) {
	store := newMessageStoreFromMessages(newMockMessages(10, time.Now(), 0.5))

	require.Len(t, store.ExportTail(0), 10)
	require.Len(t, store.ExportTail(20), 10)

	tail := store.ExportTail(3)
	require.Len(t, tail, 3)
	require.Equal(t, store.list[9].ID, tail[2].ID)
	require.Equal(t, store.list[7].ID, tail[0].ID)
}

// Test checks that the store returns copies.
func Test_MessageStore_Copies(t *testing.T) {
	store := NewMessageStore()
	store.Set(model.Message{ID: "m1", Text: "hi", Data: []byte(`{"a":1}`)})

	msg, found := store.Get("m1")
	require.True(t, found)
	msg.Text = "changed"
	msg.Data[0] = '['

	stored, _ := store.Get("m1")
	require.Equal(t, "hi", stored.Text)
	require.JSONEq(t, `{"a":1}`, string(stored.Data))

	clone := store.Clone()
	clone.Set(model.Message{ID: "m2"})
	require.Equal(t, 1, store.Len())
	require.Equal(t, 2, clone.Len())
}

func Benchmark_MessageStore_Insert(b *testing.B) {
	now := time.Now()
	s := newMessageStoreFromMessages(newMockMessages(BenchHistorySize, now, 0.5))
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		s.Set(newMockMessage(now.Add(-time.Duration(rand.Intn(BenchHistorySize))*time.Second), 0.5))
	}
}

func Benchmark_MessageStore_Update(b *testing.B) {
	now := time.Now()
	s := newMessageStoreFromMessages(newMockMessages(BenchHistorySize, now, 0.5))
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		msg := *s.list[rand.Intn(BenchHistorySize)]
		msg.Timestamp = float64(now.Add(-time.Duration(rand.Intn(BenchHistorySize))*time.Second).UnixMicro()) / 1e6
		s.Set(msg)
	}
}

func Benchmark_MessageStore_Delete(b *testing.B) {
	now := time.Now()
	s := newMessageStoreFromMessages(newMockMessages(BenchHistorySize, now, 0.5))
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		if len(s.list) == 0 {
			return
		}
		msg := s.list[rand.Intn(len(s.list))]
		s.Delete(msg.ID.String())
	}
}
