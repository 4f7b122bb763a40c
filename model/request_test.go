package model

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_HistoryRequest_Query(t *testing.T) {
	backward := HistoryRequest{Direction: HistoryBackward, BeforeTs: 1700000000.25, Limit: 20, PageID: "p1"}
	parsed, err := ParseHistoryRequest(backward.Query())
	require.NoError(t, err)
	require.Equal(t, backward, parsed)

	forward := HistoryRequest{Direction: HistoryForward, Since: "42", Limit: 5}
	parsed, err = ParseHistoryRequest(forward.Query())
	require.NoError(t, err)
	require.Equal(t, forward, parsed)

	_, err = ParseHistoryRequest(url.Values{"limit": {"-1"}})
	require.Error(t, err)
	_, err = ParseHistoryRequest(url.Values{"before-ts": {"x"}})
	require.Error(t, err)
	require.Error(t, HistoryRequest{Direction: "sideways"}.Validate())
}

func Test_DeltaRequest_Query(t *testing.T) {
	require.Empty(t, DeltaRequest{}.Query().Encode())
	require.Equal(t, "auth-token=tok&since=102", DeltaRequest{Since: "102", AuthToken: "tok"}.Query().Encode())
}

func Test_ActionRequest(t *testing.T) {
	req := ActionRequest{Action: ActionSendMessage, ClientSideID: "c1", Message: "hi", AuthToken: "tok"}
	parsed, err := ParseActionRequest(req.Form())
	require.NoError(t, err)
	require.Equal(t, req, parsed)

	rate := ActionRequest{Action: ActionRateOperator, OperatorID: "7", Rating: 2}
	parsed, err = ParseActionRequest(rate.Form())
	require.NoError(t, err)
	require.Equal(t, rate, parsed)

	testCases := []ActionRequest{
		{Action: "chat.unknown"},
		{Action: ActionSendMessage, ClientSideID: "c1"},
		{Action: ActionSendMessage, Message: "hi"},
		{Action: ActionRateOperator, OperatorID: "7", Rating: 3},
		{Action: ActionRateOperator, Rating: 1},
	}
	for _, tc := range testCases {
		_, err := ParseActionRequest(tc.Form())
		require.Error(t, err, "req: %+v", tc)
	}
}
