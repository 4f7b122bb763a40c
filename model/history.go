package model

import "encoding/json"

// HistoryDirection selects which side of the known history a page extends.
type HistoryDirection string

const (
	// HistoryBackward requests older messages by timestamp.
	HistoryBackward HistoryDirection = "backward"
	// HistoryForward requests newer messages by history revision.
	HistoryForward HistoryDirection = "forward"
)

// HistoryResponseData is a page of historical messages.
// The order of Messages follows the request direction which is tracked by the caller.
type HistoryResponseData struct {
	Messages []Message
	HasMore  bool
	// Pagination cursor of this page (not the live delta revision)
	Revision Revision
	// Number of messages dropped as malformed
	Skipped int
}

// MarshalJSON encodes the page into the HistorySinceResponse wire form.
func (h HistoryResponseData) MarshalJSON() ([]byte, error) {
	data := map[string]any{
		"messages": h.Messages,
		"hasMore":  h.HasMore,
	}
	if h.Messages == nil {
		data["messages"] = []Message{}
	}
	if !h.Revision.IsZero() {
		data["revision"] = h.Revision
	}

	return json.Marshal(map[string]any{"data": data})
}

// Valid checks the direction value.
func (d HistoryDirection) Valid() bool {
	return d == HistoryBackward || d == HistoryForward
}
