package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/itiky/chatsync/model"
	"github.com/itiky/chatsync/service/client"
	"github.com/itiky/chatsync/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T, historySize int, opts ChatServiceOptions) *ChatService {
	msgs := make([]model.Message, 0, historySize)
	for i := 0; i < historySize; i++ {
		msgs = append(msgs, model.Message{
			ID:        model.FlexString(fmt.Sprintf("h%03d", i)),
			Kind:      model.MessageKindVisitor,
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: float64(i + 1),
		})
	}

	deltaLog := storage.NewDeltaLog(0, storage.NewMockSnapshot(msgs), 5)
	s, err := NewChatService(deltaLog, 5*time.Millisecond, opts)
	require.NoError(t, err)

	return s
}

func Test_ChatService_Delta(t *testing.T) {
	s := newTestService(t, 10, ChatServiceOptions{PollTimeout: 50 * time.Millisecond})
	authToken, pageID := s.Credentials()
	ctx := context.Background()

	resp := s.Delta(ctx, model.DeltaRequest{})
	require.NotNil(t, resp.FullUpdate)
	require.Equal(t, model.Revision("0"), resp.Revision)
	require.Len(t, resp.FullUpdate.Chat.Messages, 5)
	require.Equal(t, authToken, resp.FullUpdate.AuthToken)

	// Nothing new: the wait times out
	start := time.Now()
	resp = s.Delta(ctx, model.DeltaRequest{Since: "0", AuthToken: authToken, PageID: pageID})
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Nil(t, resp.FullUpdate)
	require.Empty(t, resp.DeltaList)
	require.Equal(t, model.Revision("0"), resp.Revision)

	// Foreign credentials get a full update
	resp = s.Delta(ctx, model.DeltaRequest{Since: "0", AuthToken: "other"})
	require.NotNil(t, resp.FullUpdate)

	// Woken up by a new revision
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.deltaLog.AddRevision(model.DeltaItem{
			Event:      model.EventAdd,
			ObjectType: model.ObjectTypeChatMessage,
			ID:         "new",
			Data:       []byte(`{"text":"new","ts":100}`),
		})
	}()
	s.pollTimeout = time.Second
	resp = s.Delta(ctx, model.DeltaRequest{Since: "0", AuthToken: authToken, PageID: pageID})
	require.Equal(t, model.Revision("1"), resp.Revision)
	require.Len(t, resp.DeltaList, 1)
}

func Test_ChatService_Action(t *testing.T) {
	s := newTestService(t, 3, ChatServiceOptions{EchoOperator: true})
	authToken, pageID := s.Credentials()
	ctx := context.Background()

	s.Start()
	defer s.Stop()

	err := s.Action(ctx, model.ActionRequest{
		Action:       model.ActionSendMessage,
		ClientSideID: "cs1",
		Message:      "hello",
		AuthToken:    authToken,
		PageID:       pageID,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.deltaLog.Latest() == "1"
	}, time.Second, time.Millisecond)

	resp, ok := s.deltaLog.DeltaSince("0")
	require.True(t, ok)
	require.Len(t, resp.DeltaList, 2)

	msg, err := model.DecodeMessage(resp.DeltaList[0].Data)
	require.NoError(t, err)
	require.Equal(t, "cs1", msg.ClientSideID)
	require.Equal(t, "hello", msg.Text)

	reply, err := model.DecodeMessage(resp.DeltaList[1].Data)
	require.NoError(t, err)
	require.Equal(t, model.MessageKindOperator, reply.Kind)

	err = s.Action(ctx, model.ActionRequest{Action: model.ActionCloseChat, AuthToken: "other", PageID: pageID})
	require.ErrorIs(t, err, ErrForbidden)

	err = s.Action(ctx, model.ActionRequest{Action: model.ActionRateOperator, OperatorID: "1", Rating: 3, AuthToken: authToken, PageID: pageID})
	require.Error(t, err)

	_, err = s.History(model.HistoryRequest{Direction: model.HistoryBackward})
	require.ErrorIs(t, err, ErrForbidden)
}

func Test_Router(t *testing.T) {
	s := newTestService(t, 20, ChatServiceOptions{PollTimeout: 100 * time.Millisecond, EchoOperator: true})
	s.Start()
	defer s.Stop()

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	transport, err := client.NewHTTPTransport(srv.URL, time.Second)
	require.NoError(t, err)
	session, err := client.NewSession(uuid.NewString(), transport, client.SessionOptions{HistoryPageLimit: 10})
	require.NoError(t, err)
	ctx := context.Background()

	// Full update with the latest messages
	require.NoError(t, session.Sync(ctx))
	snapshot := session.CurrentSnapshot()
	require.Equal(t, 5, snapshot.MessagesCount())
	require.Equal(t, model.ChatStateChatting, snapshot.Chat.State)

	// Sent message is received back
	_, err = session.SendMessage(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, 1, session.PendingMessages())

	require.Eventually(t, func() bool {
		if err := session.Sync(ctx); err != nil {
			return false
		}
		return session.PendingMessages() == 0
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, 7, session.CurrentSnapshot().MessagesCount())

	// Older messages: 15 left beyond the full update, in pages of 10
	cursor := client.HistoryCursor{BeforeTs: snapshot.Messages()[0].Timestamp}
	page, err := session.RequestHistoryPage(ctx, cursor, model.HistoryBackward)
	require.NoError(t, err)
	require.Len(t, page.Messages, 10)
	require.True(t, page.HasMore)

	page, err = session.RequestHistoryPage(ctx, page.NextCursor(cursor), model.HistoryBackward)
	require.NoError(t, err)
	require.Len(t, page.Messages, 5)
	require.False(t, page.HasMore)

	_, err = session.RequestHistoryPage(ctx, cursor, model.HistoryBackward)
	require.ErrorIs(t, err, client.ErrHistoryExhausted)

	// Closing the chat
	require.NoError(t, session.CloseChat(ctx))
	require.Eventually(t, func() bool {
		if err := session.Sync(ctx); err != nil {
			return false
		}
		return session.CurrentSnapshot().Chat.State == model.ChatStateClosedByVisitor
	}, 2*time.Second, time.Millisecond)
}

func Test_Router_BadRequests(t *testing.T) {
	s := newTestService(t, 1, ChatServiceOptions{})
	router := NewRouter(s)
	authToken, pageID := s.Credentials()

	testCases := []struct {
		method string
		url    string
		status int
	}{
		{http.MethodGet, model.HistoryPath + "?limit=abc", http.StatusBadRequest},
		{http.MethodGet, model.HistoryPath + "?limit=5", http.StatusForbidden},
		{http.MethodGet, model.HistoryPath + "?limit=5&auth-token=" + authToken + "&page-id=" + pageID, http.StatusOK},
		{http.MethodPost, model.ActionPath + "?action=unknown", http.StatusBadRequest},
		{http.MethodGet, "/healthz", http.StatusOK},
	}

	for _, tc := range testCases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.url, nil)
		router.ServeHTTP(w, req)
		require.Equal(t, tc.status, w.Code, "%s %s: %s", tc.method, tc.url, w.Body.String())
	}
}

func Test_NewChatService(t *testing.T) {
	deltaLog := storage.NewDeltaLog(0, nil, 0)

	_, err := NewChatService(nil, time.Second, ChatServiceOptions{})
	require.Error(t, err)

	_, err = NewChatService(deltaLog, 0, ChatServiceOptions{})
	require.Error(t, err)

	_, err = NewChatService(deltaLog, time.Second, ChatServiceOptions{QueueSize: -1})
	require.Error(t, err)
}
