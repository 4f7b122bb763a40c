package model

import (
	"encoding/json"
)

type (
	// DeltaItem is one incremental change unit.
	DeltaItem struct {
		Event      EventType
		ObjectType ObjectType
		// Object instance id (unique per ObjectType only)
		ID string
		// Opaque payload, decoded by the consumer that knows ObjectType
		Data json.RawMessage
	}

	// FullUpdate is an authoritative session snapshot replacing any prior state.
	FullUpdate struct {
		AuthToken       string
		Chat            *Chat
		Departments     []Department
		HintsEnabled    bool
		HistoryRevision *int64
		// Messages kept without a chat context (the chat is closed or has not been created)
		Messages     []Message
		OnlineStatus string
		PageID       string
		SessionID    string
		State        VisitSessionState
		// Re-serialized visitor payload (not interpreted)
		VisitorJSON string
	}

	// DeltaResponse is the envelope of a single polling cycle.
	DeltaResponse struct {
		Revision   Revision
		FullUpdate *FullUpdate
		// Application order
		DeltaList []DeltaItem
		// Number of deltaList elements dropped as malformed
		Skipped int
	}
)

// Known reports whether the item targets an object type this client understands.
// Unknown items are skipped by the applier.
func (i DeltaItem) Known() bool {
	return i.ObjectType != ObjectTypeNone
}

// HasData reports whether a non-null payload is attached.
func (i DeltaItem) HasData() bool {
	return len(i.Data) > 0 && string(i.Data) != "null"
}

// MarshalJSON encodes the item back into the wire form.
func (i DeltaItem) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"event": i.Event,
		"id":    i.ID,
	}
	if i.ObjectType != ObjectTypeNone {
		out["objectType"] = i.ObjectType
	}
	if i.Data != nil {
		out["data"] = i.Data
	}

	return json.Marshal(out)
}

// Clone returns a deep copy.
func (u *FullUpdate) Clone() *FullUpdate {
	if u == nil {
		return nil
	}

	c := *u
	c.Chat = u.Chat.Clone()
	c.Departments = CloneDepartments(u.Departments)
	if u.Messages != nil {
		c.Messages = make([]Message, 0, len(u.Messages))
		for _, msg := range u.Messages {
			c.Messages = append(c.Messages, msg.Clone())
		}
	}
	if u.HistoryRevision != nil {
		v := *u.HistoryRevision
		c.HistoryRevision = &v
	}

	return &c
}

// MarshalJSON encodes the full update back into the wire form.
func (u FullUpdate) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"hintsEnabled": u.HintsEnabled,
	}
	setStr := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	setStr("authToken", u.AuthToken)
	setStr("onlineStatus", u.OnlineStatus)
	setStr("pageId", u.PageID)
	setStr("visitSessionId", u.SessionID)
	setStr("state", string(u.State))
	if u.Chat != nil {
		out["chat"] = u.Chat
	}
	if u.Departments != nil {
		out["departments"] = u.Departments
	}
	if len(u.Messages) > 0 {
		out["messages"] = u.Messages
	}
	if u.HistoryRevision != nil {
		out["historyRevision"] = *u.HistoryRevision
	}
	if u.VisitorJSON != "" {
		out["visitor"] = json.RawMessage(u.VisitorJSON)
	}

	return json.Marshal(out)
}

// MarshalJSON encodes the response back into the wire form.
func (r DeltaResponse) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"revision": r.Revision,
	}
	if r.FullUpdate != nil {
		out["fullUpdate"] = r.FullUpdate
	}
	if r.DeltaList != nil {
		out["deltaList"] = r.DeltaList
	}

	return json.Marshal(out)
}
