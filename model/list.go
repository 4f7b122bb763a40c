package model

import (
	"fmt"
	"strings"
)

// OperationType is an index based list change.
type OperationType string

const (
	InsertOperationType OperationType = "insert"
	UpdateOperationType OperationType = "update"
	DeleteOperationType OperationType = "delete"
)

type (
	// MessageList is the ordered message view used by UI listeners.
	MessageList []Message

	// ListOperation is an operation performed on MessageList to follow the session message store.
	ListOperation struct {
		Type     OperationType
		Index    int
		NewIndex int
		Message  Message
	}
)

// String implements the stringer interface.
func (l MessageList) String() string {
	str := strings.Builder{}
	for i, msg := range l {
		str.WriteString(fmt.Sprintf("- [%d] %s\n", i, msg))
	}

	return str.String()
}

// ApplyListOperations upgrades the input MessageList to a new version using ListOperation objects.
func ApplyListOperations(l MessageList, ops ...ListOperation) (MessageList, error) {
	for i, op := range ops {
		switch op.Type {

		case InsertOperationType:
			if op.Index < 0 {
				return nil, fmt.Errorf("op[%d] (%s): index: must be GTE 0", i, op.Type)
			}
			if op.Index > len(l) {
				return nil, fmt.Errorf("op[%d] (%s): index: must be LTE than MessageList length", i, op.Type)
			}

			// Insert
			l = append(l, Message{})
			copy(l[op.Index+1:], l[op.Index:])
			l[op.Index] = op.Message.Clone()

		case UpdateOperationType:
			if op.Index < 0 || op.Index >= len(l) {
				return nil, fmt.Errorf("op[%d] (%s): index: must be in [0, %d)", i, op.Type, len(l))
			}
			if op.NewIndex < 0 || op.NewIndex >= len(l) {
				return nil, fmt.Errorf("op[%d] (%s): newIndex: must be in [0, %d)", i, op.Type, len(l))
			}

			// Cut and insert
			l = append(l[:op.Index], l[op.Index+1:]...)
			l = append(l, Message{})
			copy(l[op.NewIndex+1:], l[op.NewIndex:])
			l[op.NewIndex] = op.Message.Clone()

		case DeleteOperationType:
			if op.Index < 0 || op.Index >= len(l) {
				return nil, fmt.Errorf("op[%d] (%s): index: must be in [0, %d)", i, op.Type, len(l))
			}

			// Cut
			l = append(l[:op.Index], l[op.Index+1:]...)

		default:
			return nil, fmt.Errorf("op[%d] (%s): unknown type", i, op.Type)

		}
	}

	return l, nil
}
