package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type (
	// FlexString is an identifier the server sends either as a JSON string or a JSON number.
	FlexString string

	// MessageKind is a chat message type.
	MessageKind string

	// ChatState is a chat lifecycle state.
	ChatState string

	// VisitSessionState is a visitor session level state.
	VisitSessionState string
)

const (
	MessageKindVisitor          MessageKind = "visitor"
	MessageKindOperator         MessageKind = "operator"
	MessageKindInfo             MessageKind = "info"
	MessageKindFileFromVisitor  MessageKind = "file_visitor"
	MessageKindFileFromOperator MessageKind = "file_operator"
	MessageKindOperatorBusy     MessageKind = "operator_busy"
)

const (
	ChatStateQueue            ChatState = "queue"
	ChatStateChatting         ChatState = "chatting"
	ChatStateClosedByOperator ChatState = "closed_by_operator"
	ChatStateClosedByVisitor  ChatState = "closed_by_visitor"
	ChatStateInvitation       ChatState = "invitation"
	ChatStateClosed           ChatState = "closed"
)

const (
	VisitSessionStateChat                VisitSessionState = "chat"
	VisitSessionStateDepartmentSelection VisitSessionState = "department-selection"
	VisitSessionStateIdle                VisitSessionState = "idle"
	VisitSessionStateIdleAfterChat       VisitSessionState = "idle-after-chat"
	VisitSessionStateOfflineMessage      VisitSessionState = "offline-message"
)

type (
	// Message is a single chat message.
	Message struct {
		ID           FlexString      `json:"id"`
		ClientSideID string          `json:"clientSideId,omitempty"`
		Kind         MessageKind     `json:"kind,omitempty"`
		Text         string          `json:"text,omitempty"`
		SenderName   string          `json:"name,omitempty"`
		AuthorID     FlexString      `json:"authorId,omitempty"`
		Timestamp    float64         `json:"ts,omitempty"`
		Read         bool            `json:"read,omitempty"`
		Data         json.RawMessage `json:"data,omitempty"`
	}

	// Operator is the operator assigned to a chat.
	Operator struct {
		ID             FlexString `json:"id"`
		Name           string     `json:"fullname,omitempty"`
		AvatarURL      string     `json:"avatar,omitempty"`
		DepartmentKeys []string   `json:"departmentKeys,omitempty"`
	}

	// OperatorRate is a visitor rating of an operator.
	OperatorRate struct {
		OperatorID FlexString `json:"operatorId"`
		Rating     int        `json:"rating"`
	}

	// Department is a department descriptor the visitor can start a chat with.
	Department struct {
		Key     string `json:"key"`
		Name    string `json:"name,omitempty"`
		Order   int    `json:"order,omitempty"`
		Online  string `json:"online,omitempty"`
		LogoURL string `json:"logo,omitempty"`
	}

	// Chat is the chat context of a session.
	// Messages are only used on the wire: the session keeps them in a separate store.
	Chat struct {
		ID                      FlexString              `json:"id"`
		State                   ChatState               `json:"state,omitempty"`
		Operator                *Operator               `json:"operator,omitempty"`
		OperatorTyping          bool                    `json:"operatorTyping,omitempty"`
		ReadByVisitor           bool                    `json:"readByVisitor,omitempty"`
		UnreadByOperatorSinceTs *float64                `json:"unreadByOperatorSinceTs,omitempty"`
		UnreadByVisitorSinceTs  *float64                `json:"unreadByVisitorSinceTs,omitempty"`
		OperatorIDToRate        map[string]OperatorRate `json:"operatorIdToRate,omitempty"`
		Messages                []Message               `json:"messages,omitempty"`
	}
)

// UnmarshalJSON accepts a string, a number or null.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return fmt.Errorf("string or number expected: %s", data)
		}
		*s = FlexString(num.String())
	}

	return nil
}

// String implements the stringer interface.
func (s FlexString) String() string {
	return string(s)
}

// Less defines the message list order: by timestamp, then by id.
func (m Message) Less(other Message) bool {
	if m.Timestamp != other.Timestamp {
		return m.Timestamp < other.Timestamp
	}

	return m.ID < other.ID
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	if m.Data != nil {
		m.Data = append(json.RawMessage(nil), m.Data...)
	}

	return m
}

// String implements the stringer interface.
func (m Message) String() string {
	return fmt.Sprintf("%s [%s] %s: %q", strconv.FormatFloat(m.Timestamp, 'f', 3, 64), m.ID, m.Kind, m.Text)
}

// Clone returns a deep copy.
func (o *Operator) Clone() *Operator {
	if o == nil {
		return nil
	}
	c := *o
	c.DepartmentKeys = append([]string(nil), o.DepartmentKeys...)

	return &c
}

// Clone returns a deep copy.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}

	cp := *c
	cp.Operator = c.Operator.Clone()
	if c.UnreadByOperatorSinceTs != nil {
		v := *c.UnreadByOperatorSinceTs
		cp.UnreadByOperatorSinceTs = &v
	}
	if c.UnreadByVisitorSinceTs != nil {
		v := *c.UnreadByVisitorSinceTs
		cp.UnreadByVisitorSinceTs = &v
	}
	if c.OperatorIDToRate != nil {
		cp.OperatorIDToRate = make(map[string]OperatorRate, len(c.OperatorIDToRate))
		for k, v := range c.OperatorIDToRate {
			cp.OperatorIDToRate[k] = v
		}
	}
	if c.Messages != nil {
		cp.Messages = make([]Message, 0, len(c.Messages))
		for _, msg := range c.Messages {
			cp.Messages = append(cp.Messages, msg.Clone())
		}
	}

	return &cp
}

// CloneDepartments returns a deep copy of the list (nil stays nil).
func CloneDepartments(deps []Department) []Department {
	if deps == nil {
		return nil
	}

	return append(make([]Department, 0, len(deps)), deps...)
}
