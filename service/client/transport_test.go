package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/chatsync/model"
)

func Test_HTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case model.DeltaPath:
			if r.URL.Query().Get("since") == "" {
				w.Write([]byte(testFullUpdate))
				return
			}
			w.Write([]byte(testDelta))
		case model.HistoryPath:
			req, err := model.ParseHistoryRequest(r.URL.Query())
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if req.Direction != model.HistoryBackward || req.BeforeTs != 10 || req.Limit != 5 {
				http.Error(w, "unexpected request", http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"data":{"messages":[{"id":"m0","ts":5}],"hasMore":false}}`))
		case model.ActionPath:
			if r.Method != http.MethodPost {
				http.Error(w, "POST expected", http.StatusMethodNotAllowed)
				return
			}
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if _, err := model.ParseActionRequest(r.PostForm); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"result":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	transport, err := NewHTTPTransport(srv.URL+"/", time.Second)
	require.NoError(t, err)

	s := newTestSession(t, transport, SessionOptions{})
	ctx := context.Background()
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Sync(ctx))
	require.Equal(t, 2, s.CurrentSnapshot().MessagesCount())

	page, err := transport.History(ctx, model.HistoryRequest{Direction: model.HistoryBackward, BeforeTs: 10, Limit: 5})
	require.NoError(t, err)
	data, err := model.DecodeHistoryResponse(page)
	require.NoError(t, err)
	require.Len(t, data.Messages, 1)

	_, err = s.SendMessage(ctx, "hello")
	require.NoError(t, err)

	_, err = transport.History(ctx, model.HistoryRequest{Direction: model.HistoryBackward, Limit: 1})
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	require.Equal(t, "unexpected request", statusErr.Body)
}

func Test_HTTPTransport_Errors(t *testing.T) {
	_, err := NewHTTPTransport("tcp://localhost:1", time.Second)
	require.Error(t, err)

	_, err = NewHTTPTransport("http://localhost", 0)
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	transport, err := NewHTTPTransport(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	s := newTestSession(t, transport, SessionOptions{})
	err = s.Sync(context.Background())
	require.True(t, IsRetryable(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Sync(ctx), context.Canceled)
}
