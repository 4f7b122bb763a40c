package storage

import (
	"github.com/itiky/chatsync/model"
)

// ChangeKind identifies an externally observable snapshot change.
type ChangeKind string

const (
	ChangeSessionReset      ChangeKind = "session-reset"
	ChangeChat              ChangeKind = "chat-changed"
	ChangeChatRemoved       ChangeKind = "chat-removed"
	ChangeMessageAdded      ChangeKind = "message-added"
	ChangeMessageChanged    ChangeKind = "message-changed"
	ChangeMessageRemoved    ChangeKind = "message-removed"
	ChangeMessagesMerged    ChangeKind = "messages-merged"
	ChangeOperator          ChangeKind = "operator-changed"
	ChangeOperatorTyping    ChangeKind = "typing-changed"
	ChangeChatState         ChangeKind = "chat-state-changed"
	ChangeUnreadByOperator  ChangeKind = "unread-changed"
	ChangeReadByVisitor     ChangeKind = "read-by-visitor-changed"
	ChangeOperatorRated     ChangeKind = "operator-rated"
	ChangeDepartments       ChangeKind = "departments-changed"
	ChangeVisitSessionState ChangeKind = "visit-session-changed"
	ChangeRevision          ChangeKind = "revision-changed"
)

// ChangeEvent is a single change notification. All payloads are copies.
type ChangeEvent struct {
	Kind ChangeKind `json:"kind"`
	// Affected entity id (if any)
	ID string `json:"id,omitempty"`
	// Message list operations to mirror the ordered message view
	ListOps []model.ListOperation `json:"listOps,omitempty"`
	// Full message list for ChangeSessionReset
	Messages model.MessageList `json:"messages,omitempty"`
	//
	Chat              *model.Chat             `json:"chat,omitempty"`
	Operator          *model.Operator         `json:"operator,omitempty"`
	OperatorTyping    bool                    `json:"operatorTyping,omitempty"`
	ChatState         model.ChatState         `json:"chatState,omitempty"`
	UnreadSinceTs     *float64                `json:"unreadSinceTs,omitempty"`
	ReadByVisitor     bool                    `json:"readByVisitor,omitempty"`
	Rate              *model.OperatorRate     `json:"rate,omitempty"`
	Departments       []model.Department      `json:"departments,omitempty"`
	VisitSessionState model.VisitSessionState `json:"visitSessionState,omitempty"`
	Revision          model.Revision          `json:"revision,omitempty"`
}

// listOpEvent converts a message store operation into a ChangeEvent.
func listOpEvent(op *model.ListOperation) []ChangeEvent {
	if op == nil {
		return nil
	}

	kind := ChangeMessageChanged
	switch op.Type {
	case model.InsertOperationType:
		kind = ChangeMessageAdded
	case model.DeleteOperationType:
		kind = ChangeMessageRemoved
	}

	return []ChangeEvent{{
		Kind:    kind,
		ID:      op.Message.ID.String(),
		ListOps: []model.ListOperation{*op},
	}}
}
