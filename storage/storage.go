package storage

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/itiky/chatsync/model"
)

type (
	// MessageStore keeps chat messages alongside the sorted (timestamp, id) list view.
	MessageStore struct {
		list        []*model.Message
		idDataMatch map[string]*model.Message
	}
)

// String implements stringer interface.
func (s *MessageStore) String() string {
	str := strings.Builder{}
	for i, msg := range s.list {
		str.WriteString(fmt.Sprintf("- [%d] %s\n", i, msg))
	}

	return str.String()
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	return len(s.list)
}

// Get returns a copy of the message by id.
func (s *MessageStore) Get(id string) (model.Message, bool) {
	msg, found := s.idDataMatch[id]
	if !found {
		return model.Message{}, false
	}

	return msg.Clone(), true
}

// Has checks if the message exists.
func (s *MessageStore) Has(id string) bool {
	_, found := s.idDataMatch[id]
	return found
}

// Export builds a model.MessageList slice (snapshot).
func (s *MessageStore) Export() model.MessageList {
	list := make(model.MessageList, 0, len(s.list))
	for _, msg := range s.list {
		list = append(list, msg.Clone())
	}

	return list
}

// ExportTail builds a model.MessageList of up to n latest messages (n LTE 0 means all).
func (s *MessageStore) ExportTail(n int) model.MessageList {
	if n <= 0 || n >= len(s.list) {
		return s.Export()
	}

	list := make(model.MessageList, 0, n)
	for _, msg := range s.list[len(s.list)-n:] {
		list = append(list, msg.Clone())
	}

	return list
}

// Clone returns a deep copy.
func (s *MessageStore) Clone() *MessageStore {
	c := &MessageStore{
		list:        make([]*model.Message, 0, len(s.list)),
		idDataMatch: make(map[string]*model.Message, len(s.idDataMatch)),
	}
	for _, msg := range s.list {
		msgCopy := msg.Clone()
		c.list = append(c.list, &msgCopy)
		c.idDataMatch[msgCopy.ID.String()] = &msgCopy
	}

	return c
}

// Set creates a new / updates an existing message while updating the sorted list index state.
// Returns nil if an existing message is unchanged.
func (s *MessageStore) Set(msg model.Message) *model.ListOperation {
	msg = msg.Clone()
	msgId := msg.ID.String()

	item, found := s.idDataMatch[msgId]
	if !found {
		// Add a new message
		item = &msg
		s.idDataMatch[msgId] = item

		// Insert
		itemIdxToInsert := s.findItemIdxLTTarget(item)
		s.list = append(s.list, nil)
		copy(s.list[itemIdxToInsert+1:], s.list[itemIdxToInsert:])
		s.list[itemIdxToInsert] = item

		return &model.ListOperation{
			Type:    model.InsertOperationType,
			Index:   itemIdxToInsert,
			Message: msg.Clone(),
		}
	}

	if reflect.DeepEqual(*item, msg) {
		return nil
	}

	// Update an existing message (timestamp change breaks the sorting, so we have to cut/insert)
	// Cut
	itemIdxToCut := s.findItemIdx(item)
	s.list = append(s.list[:itemIdxToCut], s.list[itemIdxToCut+1:]...)

	// Update
	*item = msg

	// Insert
	itemIdxToInsert := s.findItemIdxLTTarget(item)
	s.list = append(s.list, nil)
	copy(s.list[itemIdxToInsert+1:], s.list[itemIdxToInsert:])
	s.list[itemIdxToInsert] = item

	return &model.ListOperation{
		Type:     model.UpdateOperationType,
		Index:    itemIdxToCut,
		NewIndex: itemIdxToInsert,
		Message:  msg.Clone(),
	}
}

// Delete removes an existing message while updating the sorted list index state.
func (s *MessageStore) Delete(id string) *model.ListOperation {
	item, found := s.idDataMatch[id]
	if !found {
		return nil
	}

	// Cut
	itemIdx := s.findItemIdx(item)
	s.list = append(s.list[:itemIdx], s.list[itemIdx+1:]...)
	delete(s.idDataMatch, id)

	return &model.ListOperation{
		Type:    model.DeleteOperationType,
		Index:   itemIdx,
		Message: item.Clone(),
	}
}

// findItemIdxLTTarget used by Set/Delete funcs: returns the leftmost index with item GTE target.
func (s *MessageStore) findItemIdxLTTarget(item *model.Message) int {
	return sort.Search(len(s.list), func(i int) bool {
		return !s.list[i].Less(*item)
	})
}

// findItemIdx used by Set/Delete funcs: returns the specified item index.
// Panics on failure (should not happen).
func (s *MessageStore) findItemIdx(item *model.Message) int {
	itemIdxPrev := s.findItemIdxLTTarget(item)
	if itemIdxPrev == len(s.list) {
		panic("message not found: LT target")
	}

	for i := itemIdxPrev; i < len(s.list); i++ {
		if s.list[i].ID == item.ID {
			return i
		}
	}
	panic("message not found: by id")
}

// NewMessageStore creates a new MessageStore object.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		list:        make([]*model.Message, 0),
		idDataMatch: make(map[string]*model.Message),
	}
}
