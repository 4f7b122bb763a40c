package storage

import (
	"github.com/itiky/chatsync/model"
)

type (
	// Snapshot is the in-memory session state reconstructed from full updates and deltas.
	// A nil Chat means the session has no active chat.
	Snapshot struct {
		AuthToken         string
		Chat              *model.Chat
		Departments       []model.Department
		HintsEnabled      bool
		HistoryRevision   *int64
		OnlineStatus      string
		PageID            string
		SessionID         string
		VisitSessionState model.VisitSessionState
		VisitorJSON       string
		//
		messages *MessageStore
	}
)

// Messages returns the ordered message list copy.
func (s *Snapshot) Messages() model.MessageList {
	return s.messages.Export()
}

// Message returns a message copy by id.
func (s *Snapshot) Message(id string) (model.Message, bool) {
	return s.messages.Get(id)
}

// HasMessage checks if the message is known to the live state.
func (s *Snapshot) HasMessage(id string) bool {
	return s.messages.Has(id)
}

// MessagesCount returns the number of messages.
func (s *Snapshot) MessagesCount() int {
	return s.messages.Len()
}

// HasChat reports whether a chat context exists.
func (s *Snapshot) HasChat() bool {
	return s.Chat != nil
}

// Clone returns a deep copy sharing nothing with the source.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Chat = s.Chat.Clone()
	c.Departments = model.CloneDepartments(s.Departments)
	if s.HistoryRevision != nil {
		v := *s.HistoryRevision
		c.HistoryRevision = &v
	}
	c.messages = s.messages.Clone()

	return &c
}

// ensureChat returns the chat context creating an empty one if the session has none.
func (s *Snapshot) ensureChat() *model.Chat {
	if s.Chat == nil {
		s.Chat = &model.Chat{}
	}

	return s.Chat
}

// NewSnapshot creates an empty ("no session") Snapshot object.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		messages: NewMessageStore(),
	}
}

// NewSnapshotFromFullUpdate builds a Snapshot from scratch: nothing is inherited from a previous state.
func NewSnapshotFromFullUpdate(fu model.FullUpdate) *Snapshot {
	s := NewSnapshot()
	s.AuthToken = fu.AuthToken
	s.Departments = model.CloneDepartments(fu.Departments)
	s.HintsEnabled = fu.HintsEnabled
	s.OnlineStatus = fu.OnlineStatus
	s.PageID = fu.PageID
	s.SessionID = fu.SessionID
	s.VisitSessionState = fu.State
	s.VisitorJSON = fu.VisitorJSON
	if fu.HistoryRevision != nil {
		v := *fu.HistoryRevision
		s.HistoryRevision = &v
	}

	if fu.Chat != nil {
		chat := fu.Chat.Clone()
		for _, msg := range chat.Messages {
			if msg.ID == "" {
				continue
			}
			s.messages.Set(msg)
		}
		chat.Messages = nil
		s.Chat = chat
	}
	for _, msg := range fu.Messages {
		if msg.ID == "" {
			continue
		}
		s.messages.Set(msg)
	}

	return s
}

// ExportFullUpdate converts the state back into an authoritative FullUpdate (messages included).
// Without a chat the messages are carried by FullUpdate.Messages.
func (s *Snapshot) ExportFullUpdate() model.FullUpdate {
	return s.exportFullUpdate(0)
}

// exportFullUpdate converts the state into a FullUpdate with up to msgLimit latest messages (0 means all).
func (s *Snapshot) exportFullUpdate(msgLimit int) model.FullUpdate {
	fu := model.FullUpdate{
		AuthToken:    s.AuthToken,
		Departments:  model.CloneDepartments(s.Departments),
		HintsEnabled: s.HintsEnabled,
		OnlineStatus: s.OnlineStatus,
		PageID:       s.PageID,
		SessionID:    s.SessionID,
		State:        s.VisitSessionState,
		VisitorJSON:  s.VisitorJSON,
	}
	if s.HistoryRevision != nil {
		v := *s.HistoryRevision
		fu.HistoryRevision = &v
	}
	msgs := s.messages.ExportTail(msgLimit)
	if s.Chat != nil {
		fu.Chat = s.Chat.Clone()
		fu.Chat.Messages = msgs
	} else if len(msgs) > 0 {
		fu.Messages = msgs
	}

	return fu
}
