package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/itiky/chatsync/model"
	"github.com/itiky/chatsync/storage"
)

// ErrForbidden is returned for requests with unknown session credentials.
var ErrForbidden = errors.New("unknown session credentials")

type (
	// ChatService serves a single visitor chat session from the revision log.
	// Visitor actions are queued and added to the log as a revision once per batch period.
	ChatService struct {
		// Config
		batchPeriod  time.Duration
		pollTimeout  time.Duration
		echoOperator bool
		authToken    string
		pageID       string
		chatID       string
		// State
		deltaLog *storage.DeltaLog
		itemsCh  chan []model.DeltaItem
		//
		stopCh chan struct{}
	}

	// ChatServiceOptions keeps optional ChatService settings.
	ChatServiceOptions struct {
		// Actions queue size
		QueueSize int
		// Max duration of the delta long-poll wait
		PollTimeout time.Duration
		// Reply to every visitor message on behalf of the operator
		EchoOperator bool
	}
)

// Credentials returns the session credentials sent to the visitor with a full update.
func (s *ChatService) Credentials() (authToken, pageID string) {
	return s.authToken, s.pageID
}

// Delta returns the response for the visitor revision waiting for a change up to the poll timeout.
// Requests with foreign credentials get a full update.
func (s *ChatService) Delta(ctx context.Context, req model.DeltaRequest) model.DeltaResponse {
	start := time.Now()

	since := req.Since
	if req.AuthToken != s.authToken {
		since = ""
	}

	timer := time.NewTimer(s.pollTimeout)
	defer timer.Stop()

	for {
		// Channel must be taken before the state is read
		changedCh := s.deltaLog.Changed()

		resp, ok := s.deltaLog.DeltaSince(since)
		if ok {
			result := "delta"
			if resp.FullUpdate != nil {
				result = "full_update"
			}
			monitor.DeltaRequestServed(result, time.Since(start))
			return resp
		}

		select {
		case <-changedCh:
		case <-timer.C:
			monitor.DeltaRequestServed("timeout", time.Since(start))
			return resp
		case <-ctx.Done():
			return resp
		}
	}
}

// History returns a history page.
func (s *ChatService) History(req model.HistoryRequest) (model.HistoryResponseData, error) {
	if err := s.authorize(req.AuthToken, req.PageID); err != nil {
		return model.HistoryResponseData{}, err
	}
	if err := req.Validate(); err != nil {
		return model.HistoryResponseData{}, err
	}

	defer monitor.HistoryRequestServed()

	if req.Direction == model.HistoryForward {
		return s.deltaLog.HistorySince(req.Since, req.Limit), nil
	}

	return s.deltaLog.HistoryBefore(req.BeforeTs, req.Limit), nil
}

// Action converts the visitor action into delta items and pushes them to the queue.
func (s *ChatService) Action(ctx context.Context, req model.ActionRequest) error {
	if err := s.authorize(req.AuthToken, req.PageID); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	now := time.Now()
	items := make([]model.DeltaItem, 0, 2)
	switch req.Action {
	case model.ActionSendMessage:
		msg := model.Message{
			ID:           model.FlexString(uuid.NewString()),
			ClientSideID: req.ClientSideID,
			Kind:         model.MessageKindVisitor,
			Text:         req.Message,
			Timestamp:    float64(now.UnixMicro()) / 1e6,
		}
		item, err := newDeltaItem(model.EventAdd, model.ObjectTypeChatMessage, msg.ID.String(), msg)
		if err != nil {
			return err
		}
		items = append(items, item)

		if s.echoOperator {
			reply := model.Message{
				ID:         model.FlexString(uuid.NewString()),
				Kind:       model.MessageKindOperator,
				Text:       fmt.Sprintf("Re: %s", req.Message),
				SenderName: "Operator",
				AuthorID:   "1",
				Timestamp:  float64(now.Add(time.Millisecond).UnixMicro()) / 1e6,
			}
			item, err := newDeltaItem(model.EventAdd, model.ObjectTypeChatMessage, reply.ID.String(), reply)
			if err != nil {
				return err
			}
			items = append(items, item)
		}

	case model.ActionCloseChat:
		item, err := newDeltaItem(model.EventUpdate, model.ObjectTypeChatState, s.chatID, model.ChatStateClosedByVisitor)
		if err != nil {
			return err
		}
		items = append(items, item)

	case model.ActionRateOperator:
		rate := model.OperatorRate{
			OperatorID: model.FlexString(req.OperatorID),
			Rating:     req.Rating,
		}
		item, err := newDeltaItem(model.EventUpdate, model.ObjectTypeOperatorRate, req.OperatorID, rate)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	select {
	case s.itemsCh <- items:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the service worker.
func (s *ChatService) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	monitor.Start()
	go s.worker(s.stopCh)
}

// Stop stops the service worker.
func (s *ChatService) Stop() {
	if s.stopCh == nil {
		return
	}

	close(s.stopCh)
	s.stopCh = nil
	monitor.Stop()
}

// worker does the actual job.
func (s *ChatService) worker(stopCh <-chan struct{}) {
	log.Println("ChatService: start")

	itemsQueue := make([]model.DeltaItem, 0)

	ticker := time.NewTicker(s.batchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			// Service stop
			log.Println("ChatService: stop")
			return
		case items := <-s.itemsCh:
			// Push delta items to the queue
			itemsQueue = append(itemsQueue, items...)
		case <-ticker.C:
			// Add the queued items as a single revision
			if len(itemsQueue) == 0 {
				continue
			}

			rev := s.deltaLog.AddRevision(itemsQueue...)
			monitor.ItemsHandled(len(itemsQueue))
			log.Printf("ChatService: revision %s: %d items", rev, len(itemsQueue))

			itemsQueue = make([]model.DeltaItem, 0)
		}
	}
}

// authorize checks the request credentials.
func (s *ChatService) authorize(authToken, pageID string) error {
	if authToken != s.authToken || pageID != s.pageID {
		return ErrForbidden
	}

	return nil
}

// newDeltaItem builds a DeltaItem with the JSON encoded payload.
func newDeltaItem(event model.EventType, objType model.ObjectType, id string, data any) (model.DeltaItem, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return model.DeltaItem{}, fmt.Errorf("%s data marshal: %w", objType, err)
	}

	return model.DeltaItem{
		Event:      event,
		ObjectType: objType,
		ID:         id,
		Data:       raw,
	}, nil
}

// NewChatService creates a new ChatService object.
func NewChatService(deltaLog *storage.DeltaLog, batchPeriod time.Duration, opts ChatServiceOptions) (*ChatService, error) {
	const defPollTimeout = 30 * time.Second

	if deltaLog == nil {
		return nil, fmt.Errorf("%s: nil", "deltaLog")
	}
	if batchPeriod <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "batchPeriod")
	}
	if opts.QueueSize < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "QueueSize")
	}
	if opts.PollTimeout < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "PollTimeout")
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = defPollTimeout
	}

	_, fu := deltaLog.FullUpdate()
	chatID := uuid.NewString()
	if fu.Chat != nil && fu.Chat.ID != "" {
		chatID = fu.Chat.ID.String()
	}

	return &ChatService{
		batchPeriod:  batchPeriod,
		pollTimeout:  opts.PollTimeout,
		echoOperator: opts.EchoOperator,
		authToken:    fu.AuthToken,
		pageID:       fu.PageID,
		chatID:       chatID,
		deltaLog:     deltaLog,
		itemsCh:      make(chan []model.DeltaItem, opts.QueueSize),
	}, nil
}
