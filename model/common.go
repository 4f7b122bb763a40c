package model

import "errors"

// ErrMalformed marks wire input that can not be decoded into a typed record.
var ErrMalformed = errors.New("malformed")

type (
	// Revision is an opaque server cursor echoed back on the next poll.
	// Revisions must never be compared or sorted.
	Revision string

	// EventType is a DeltaItem event kind.
	EventType string

	// ObjectType is a DeltaItem target kind.
	ObjectType string
)

const (
	EventAdd    EventType = "add"
	EventDelete EventType = "del"
	EventUpdate EventType = "upd"
)

const (
	ObjectTypeNone                          ObjectType = ""
	ObjectTypeChat                          ObjectType = "CHAT"
	ObjectTypeChatMessage                   ObjectType = "CHAT_MESSAGE"
	ObjectTypeChatOperator                  ObjectType = "CHAT_OPERATOR"
	ObjectTypeChatOperatorTyping            ObjectType = "CHAT_OPERATOR_TYPING"
	ObjectTypeChatReadByVisitor             ObjectType = "CHAT_READ_BY_VISITOR"
	ObjectTypeChatState                     ObjectType = "CHAT_STATE"
	ObjectTypeChatUnreadByOperatorTimestamp ObjectType = "CHAT_UNREAD_BY_OPERATOR_SINCE_TS"
	ObjectTypeDepartmentList                ObjectType = "DEPARTMENT_LIST"
	ObjectTypeOfflineChatMessage            ObjectType = "OFFLINE_CHAT_MESSAGE"
	ObjectTypeOperatorRate                  ObjectType = "OPERATOR_RATE"
	ObjectTypeVisitSession                  ObjectType = "VISIT_SESSION"
	ObjectTypeVisitSessionState             ObjectType = "VISIT_SESSION_STATE"
)

var knownObjectTypes = map[ObjectType]bool{
	ObjectTypeChat:                          true,
	ObjectTypeChatMessage:                   true,
	ObjectTypeChatOperator:                  true,
	ObjectTypeChatOperatorTyping:            true,
	ObjectTypeChatReadByVisitor:             true,
	ObjectTypeChatState:                     true,
	ObjectTypeChatUnreadByOperatorTimestamp: true,
	ObjectTypeDepartmentList:                true,
	ObjectTypeOfflineChatMessage:            true,
	ObjectTypeOperatorRate:                  true,
	ObjectTypeVisitSession:                  true,
	ObjectTypeVisitSessionState:             true,
}

// ParseEventType converts the wire value into EventType.
func ParseEventType(raw string) (EventType, bool) {
	switch EventType(raw) {
	case EventAdd, EventDelete, EventUpdate:
		return EventType(raw), true
	}

	return "", false
}

// ParseObjectType converts the wire value into ObjectType, unknown values yield ObjectTypeNone.
func ParseObjectType(raw string) ObjectType {
	if knownObjectTypes[ObjectType(raw)] {
		return ObjectType(raw)
	}

	return ObjectTypeNone
}

// String implements the stringer interface.
func (r Revision) String() string {
	return string(r)
}

// IsZero reports whether no cursor is set.
func (r Revision) IsZero() bool {
	return r == ""
}
