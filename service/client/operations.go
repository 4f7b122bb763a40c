package client

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/itiky/chatsync/model"
	"github.com/itiky/chatsync/storage"
)

var mockPhrases = []string{
	"Hello!",
	"Is anyone there?",
	"I have a question about my order",
	"Thanks, that helps",
	"Could you check the delivery date?",
	"Bye",
}

// SendMessage sends a visitor message and returns its client-side id.
// The message is pending until it is received back with a delta.
func (s *Session) SendMessage(ctx context.Context, text string) (string, error) {
	req := model.ActionRequest{
		Action:       model.ActionSendMessage,
		ClientSideID: uuid.New().String(),
		Message:      text,
	}
	if err := s.sendAction(ctx, req); err != nil {
		return "", err
	}

	return req.ClientSideID, nil
}

// SendRandomMessage sends a random visitor phrase (load generation).
func (s *Session) SendRandomMessage(ctx context.Context) (string, error) {
	return s.SendMessage(ctx, mockPhrases[rand.Intn(len(mockPhrases))])
}

// CloseChat closes the current chat.
func (s *Session) CloseChat(ctx context.Context) error {
	return s.sendAction(ctx, model.ActionRequest{
		Action: model.ActionCloseChat,
	})
}

// RateOperator rates the operator, rating must be in [-2, 2].
func (s *Session) RateOperator(ctx context.Context, operatorID string, rating int) error {
	return s.sendAction(ctx, model.ActionRequest{
		Action:     model.ActionRateOperator,
		OperatorID: operatorID,
		Rating:     rating,
	})
}

// PendingMessages returns the number of sent messages not yet received back.
func (s *Session) PendingMessages() int {
	s.Lock()
	defer s.Unlock()

	return len(s.pending)
}

// sendAction fills in the session credentials and sends the action.
func (s *Session) sendAction(ctx context.Context, req model.ActionRequest) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	sender, ok := s.transport.(ActionSender)
	if !ok {
		return ErrActionsNotSupported
	}

	req.AuthToken, req.PageID = s.tracker.Credentials()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("request validation: %w", err)
	}

	if req.ClientSideID != "" {
		s.addPending(req.ClientSideID)
	}

	opStart := time.Now()
	if err := sender.Action(ctx, req); err != nil {
		if req.ClientSideID != "" {
			s.removePending(req.ClientSideID)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RetryableError{Op: "action", Err: err}
	}
	log.Printf("%s: [%v] action send: %s", s.String(), time.Since(opStart), req.Action)

	return nil
}

// addPending registers a sent message.
func (s *Session) addPending(clientSideID string) {
	s.Lock()
	defer s.Unlock()

	if len(s.pending) == 0 {
		monitor.ConsistencyReset(time.Now())
	}
	s.pending[clientSideID] = true
}

// removePending unregisters a message which has failed to be sent.
func (s *Session) removePending(clientSideID string) {
	s.Lock()
	defer s.Unlock()

	delete(s.pending, clientSideID)
}

// matchPending removes pending messages received with the events.
func (s *Session) matchPending(events []storage.ChangeEvent) {
	s.Lock()
	defer s.Unlock()

	if len(s.pending) == 0 {
		return
	}

	matched := 0
	match := func(msg model.Message) {
		if msg.ClientSideID != "" && s.pending[msg.ClientSideID] {
			delete(s.pending, msg.ClientSideID)
			matched++
		}
	}
	for _, event := range events {
		for _, op := range event.ListOps {
			if op.Type == model.DeleteOperationType {
				continue
			}
			match(op.Message)
		}
		for _, msg := range event.Messages {
			match(msg)
		}
	}
	if matched == 0 {
		return
	}

	log.Printf("%s: %d sent messages received (%d pending)", s.String(), matched, len(s.pending))
	if len(s.pending) == 0 {
		monitor.ConsistencyAchieved(time.Now())
	}
}
