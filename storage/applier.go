package storage

import (
	"encoding/json"
	"fmt"

	"github.com/itiky/chatsync/model"
)

type (
	// deltaHandler applies a single DeltaItem of a known object type to the Snapshot.
	// Returning an error means the item is skipped, the Snapshot must stay untouched in that case.
	deltaHandler func(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error)

	// Applier applies DeltaItem objects to a Snapshot using the object type dispatch table.
	Applier struct {
		handlers map[model.ObjectType]deltaHandler
	}
)

// Apply applies a single item.
// Unknown object types and events without a dispatch entry are a silent no-op.
func (a *Applier) Apply(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	if !item.Known() {
		return nil, nil
	}

	handler, found := a.handlers[item.ObjectType]
	if !found {
		return nil, nil
	}

	events, err := handler(s, item)
	if err != nil {
		return nil, fmt.Errorf("%s %s (%s): %w", item.Event, item.ObjectType, item.ID, err)
	}

	return events, nil
}

// ApplyAll applies items in list order and returns the events in application order.
// Items failing to apply are skipped and counted.
func (a *Applier) ApplyAll(s *Snapshot, items ...model.DeltaItem) ([]ChangeEvent, int) {
	events := make([]ChangeEvent, 0, len(items))
	skipped := 0
	for _, item := range items {
		itemEvents, err := a.Apply(s, item)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, itemEvents...)
	}

	return events, skipped
}

// applyChat handles CHAT: add creates, upd patches the fields present, del clears.
// Messages embedded into the chat payload are merged into the message store.
func applyChat(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	switch item.Event {
	case model.EventDelete:
		if s.Chat == nil {
			return nil, nil
		}
		s.Chat = nil
		return []ChangeEvent{{Kind: ChangeChatRemoved, ID: item.ID}}, nil

	case model.EventAdd, model.EventUpdate:
		if !item.HasData() {
			return nil, fmt.Errorf("%w: data: missing", model.ErrMalformed)
		}

		base := model.Chat{}
		if item.Event == model.EventUpdate && s.Chat != nil {
			base = *s.Chat.Clone()
		}
		chat, err := model.PatchJSON(base, item.Data)
		if err != nil {
			return nil, err
		}

		msgs := chat.Messages
		chat.Messages = nil
		s.Chat = &chat

		events := []ChangeEvent{{Kind: ChangeChat, ID: item.ID, Chat: chat.Clone()}}
		if listOps := mergeMessages(s, msgs); len(listOps) > 0 {
			events = append(events, ChangeEvent{Kind: ChangeMessagesMerged, ID: item.ID, ListOps: listOps})
		}
		return events, nil
	}

	return nil, nil
}

// applyChatMessage handles CHAT_MESSAGE keyed by the item id: add on an existing id is an update.
func applyChatMessage(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	switch item.Event {
	case model.EventDelete:
		return listOpEvent(s.messages.Delete(item.ID)), nil

	case model.EventAdd, model.EventUpdate:
		if !item.HasData() {
			return nil, fmt.Errorf("%w: data: missing", model.ErrMalformed)
		}

		base, _ := s.messages.Get(item.ID)
		msg, err := model.PatchJSON(base, item.Data)
		if err != nil {
			return nil, err
		}
		msg.ID = model.FlexString(item.ID)

		return listOpEvent(s.messages.Set(msg)), nil
	}

	return nil, nil
}

// applyChatOperator handles CHAT_OPERATOR: add replaces, upd patches, del or null payload clears.
func applyChatOperator(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	var op *model.Operator

	switch item.Event {
	case model.EventDelete:
	case model.EventAdd, model.EventUpdate:
		if item.HasData() {
			base := model.Operator{}
			if item.Event == model.EventUpdate && s.Chat != nil && s.Chat.Operator != nil {
				base = *s.Chat.Operator.Clone()
			}
			patched, err := model.PatchJSON(base, item.Data)
			if err != nil {
				return nil, err
			}
			op = &patched
		}
	default:
		return nil, nil
	}

	if op == nil && (s.Chat == nil || s.Chat.Operator == nil) {
		return nil, nil
	}
	s.ensureChat().Operator = op

	return []ChangeEvent{{Kind: ChangeOperator, ID: item.ID, Operator: op.Clone()}}, nil
}

// applyOperatorTyping handles CHAT_OPERATOR_TYPING: the payload is the flag, del resets it.
func applyOperatorTyping(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	if item.Event == model.EventAdd {
		return nil, nil
	}

	typing := false
	if item.Event != model.EventDelete && item.HasData() {
		if err := decodeData(item, &typing); err != nil {
			return nil, err
		}
	}

	if s.Chat != nil && s.Chat.OperatorTyping == typing {
		return nil, nil
	}
	if s.Chat == nil && !typing {
		return nil, nil
	}
	s.ensureChat().OperatorTyping = typing

	return []ChangeEvent{{Kind: ChangeOperatorTyping, ID: item.ID, OperatorTyping: typing}}, nil
}

// applyReadByVisitor handles CHAT_READ_BY_VISITOR updates.
func applyReadByVisitor(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	if item.Event != model.EventUpdate {
		return nil, nil
	}

	read := false
	if item.HasData() {
		if err := decodeData(item, &read); err != nil {
			return nil, err
		}
	}
	if s.Chat != nil && s.Chat.ReadByVisitor == read {
		return nil, nil
	}
	s.ensureChat().ReadByVisitor = read

	return []ChangeEvent{{Kind: ChangeReadByVisitor, ID: item.ID, ReadByVisitor: read}}, nil
}

// applyChatState handles CHAT_STATE updates.
func applyChatState(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	if item.Event != model.EventUpdate {
		return nil, nil
	}

	var state model.ChatState
	if err := decodeData(item, &state); err != nil {
		return nil, err
	}
	if s.Chat != nil && s.Chat.State == state {
		return nil, nil
	}
	s.ensureChat().State = state

	return []ChangeEvent{{Kind: ChangeChatState, ID: item.ID, ChatState: state}}, nil
}

// applyUnreadByOperator handles CHAT_UNREAD_BY_OPERATOR_SINCE_TS updates, null clears the watermark.
func applyUnreadByOperator(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	if item.Event != model.EventUpdate {
		return nil, nil
	}

	var ts *float64
	if item.HasData() {
		var v float64
		if err := decodeData(item, &v); err != nil {
			return nil, err
		}
		ts = &v
	}
	var prev *float64
	if s.Chat != nil {
		prev = s.Chat.UnreadByOperatorSinceTs
	}
	if (ts == nil && prev == nil) || (ts != nil && prev != nil && *ts == *prev) {
		return nil, nil
	}
	s.ensureChat().UnreadByOperatorSinceTs = ts

	event := ChangeEvent{Kind: ChangeUnreadByOperator, ID: item.ID}
	if ts != nil {
		v := *ts
		event.UnreadSinceTs = &v
	}

	return []ChangeEvent{event}, nil
}

// applyDepartmentList handles DEPARTMENT_LIST: add / upd replace the list, del clears it.
func applyDepartmentList(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	var deps []model.Department

	switch item.Event {
	case model.EventDelete:
		if s.Departments == nil {
			return nil, nil
		}
	default:
		if !item.HasData() {
			return nil, fmt.Errorf("%w: data: missing", model.ErrMalformed)
		}
		decoded, err := model.DecodeDepartments(item.Data)
		if err != nil {
			return nil, err
		}
		deps = decoded
	}
	s.Departments = deps

	return []ChangeEvent{{Kind: ChangeDepartments, ID: item.ID, Departments: model.CloneDepartments(deps)}}, nil
}

// applyOperatorRate handles OPERATOR_RATE updates: records the rating for the operator id.
func applyOperatorRate(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	if item.Event != model.EventUpdate {
		return nil, nil
	}

	rate, err := model.DecodeOperatorRate(item.Data)
	if err != nil {
		return nil, err
	}
	if rate.OperatorID == "" {
		rate.OperatorID = model.FlexString(item.ID)
	}

	chat := s.ensureChat()
	if chat.OperatorIDToRate == nil {
		chat.OperatorIDToRate = make(map[string]model.OperatorRate)
	}
	chat.OperatorIDToRate[rate.OperatorID.String()] = rate

	return []ChangeEvent{{Kind: ChangeOperatorRated, ID: rate.OperatorID.String(), Rate: &rate}}, nil
}

// applyVisitSession handles VISIT_SESSION and VISIT_SESSION_STATE updates.
// The payload is either the state string or an object with a "state" field.
func applyVisitSession(s *Snapshot, item model.DeltaItem) ([]ChangeEvent, error) {
	if item.Event != model.EventUpdate {
		return nil, nil
	}

	var state model.VisitSessionState
	if err := decodeData(item, &state); err != nil {
		obj := struct {
			State model.VisitSessionState `json:"state"`
		}{}
		if errObj := decodeData(item, &obj); errObj != nil {
			return nil, err
		}
		state = obj.State
	}
	if state == "" || s.VisitSessionState == state {
		return nil, nil
	}
	s.VisitSessionState = state

	return []ChangeEvent{{Kind: ChangeVisitSessionState, ID: item.ID, VisitSessionState: state}}, nil
}

// mergeMessages upserts messages embedded into a chat payload.
func mergeMessages(s *Snapshot, msgs []model.Message) []model.ListOperation {
	listOps := make([]model.ListOperation, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		if op := s.messages.Set(msg); op != nil {
			listOps = append(listOps, *op)
		}
	}

	return listOps
}

// decodeData decodes the item payload into a typed value.
func decodeData(item model.DeltaItem, v any) error {
	if !item.HasData() {
		return fmt.Errorf("%w: data: missing", model.ErrMalformed)
	}
	if err := json.Unmarshal(item.Data, v); err != nil {
		return fmt.Errorf("%w: data: %v", model.ErrMalformed, err)
	}

	return nil
}

// NewApplier creates a new Applier with the default dispatch table.
func NewApplier() *Applier {
	return &Applier{
		handlers: map[model.ObjectType]deltaHandler{
			model.ObjectTypeChat:                          applyChat,
			model.ObjectTypeChatMessage:                   applyChatMessage,
			model.ObjectTypeChatOperator:                  applyChatOperator,
			model.ObjectTypeChatOperatorTyping:            applyOperatorTyping,
			model.ObjectTypeChatReadByVisitor:             applyReadByVisitor,
			model.ObjectTypeChatState:                     applyChatState,
			model.ObjectTypeChatUnreadByOperatorTimestamp: applyUnreadByOperator,
			model.ObjectTypeDepartmentList:                applyDepartmentList,
			model.ObjectTypeOperatorRate:                  applyOperatorRate,
			model.ObjectTypeVisitSession:                  applyVisitSession,
			model.ObjectTypeVisitSessionState:             applyVisitSession,
		},
	}
}
