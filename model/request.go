package model

import (
	"fmt"
	"net/url"
	"strconv"
)

// Long-poll delta request.
type DeltaRequest struct {
	// Last known revision (empty for the initial full update)
	Since Revision
	// Opaque session credential received with a full update
	AuthToken string
	// Page id received with a full update
	PageID string
}

// History page request.
type HistoryRequest struct {
	Direction HistoryDirection
	// Upper timestamp bound (exclusive) for HistoryBackward, zero means "latest"
	BeforeTs float64
	// Last known history revision for HistoryForward
	Since Revision
	// Max number of messages
	Limit int
	//
	AuthToken string
	PageID    string
}

// Query builds the delta request URL query.
func (r DeltaRequest) Query() url.Values {
	q := url.Values{}
	if !r.Since.IsZero() {
		q.Set("since", r.Since.String())
	}
	if r.AuthToken != "" {
		q.Set("auth-token", r.AuthToken)
	}
	if r.PageID != "" {
		q.Set("page-id", r.PageID)
	}

	return q
}

// Validate checks the request fields.
func (r HistoryRequest) Validate() error {
	if !r.Direction.Valid() {
		return fmt.Errorf("%s: unknown (%s)", "Direction", r.Direction)
	}
	if r.Limit < 0 {
		return fmt.Errorf("%s: must be GTE 0", "Limit")
	}
	if r.BeforeTs < 0 {
		return fmt.Errorf("%s: must be GTE 0", "BeforeTs")
	}

	return nil
}

// Query builds the history request URL query.
func (r HistoryRequest) Query() url.Values {
	q := url.Values{}
	switch r.Direction {
	case HistoryBackward:
		if r.BeforeTs > 0 {
			q.Set("before-ts", strconv.FormatFloat(r.BeforeTs, 'f', -1, 64))
		}
	case HistoryForward:
		if !r.Since.IsZero() {
			q.Set("since", r.Since.String())
		}
	}
	if r.Limit > 0 {
		q.Set("limit", strconv.Itoa(r.Limit))
	}
	if r.AuthToken != "" {
		q.Set("auth-token", r.AuthToken)
	}
	if r.PageID != "" {
		q.Set("page-id", r.PageID)
	}

	return q
}

// Server endpoints.
const (
	DeltaPath   = "/l/v/m/delta"
	HistoryPath = "/l/v/m/history"
	ActionPath  = "/l/v/m/action"
)

// ActionType is a visitor action name.
type ActionType string

const (
	ActionSendMessage  ActionType = "chat.message"
	ActionCloseChat    ActionType = "chat.close"
	ActionRateOperator ActionType = "chat.operator_rate_select"
)

// Visitor action request.
type ActionRequest struct {
	Action ActionType
	// Client generated message id used to match the echoed message
	ClientSideID string
	Message      string
	OperatorID   string
	Rating       int
	//
	AuthToken string
	PageID    string
}

// Validate checks the request fields.
func (r ActionRequest) Validate() error {
	switch r.Action {
	case ActionSendMessage:
		if r.Message == "" {
			return fmt.Errorf("%s: empty", "Message")
		}
		if r.ClientSideID == "" {
			return fmt.Errorf("%s: empty", "ClientSideID")
		}
	case ActionCloseChat:
	case ActionRateOperator:
		if r.OperatorID == "" {
			return fmt.Errorf("%s: empty", "OperatorID")
		}
		if r.Rating < -2 || r.Rating > 2 {
			return fmt.Errorf("%s: must be in [-2, 2]", "Rating")
		}
	default:
		return fmt.Errorf("%s: unknown (%s)", "Action", r.Action)
	}

	return nil
}

// Form builds the action request form.
func (r ActionRequest) Form() url.Values {
	form := url.Values{}
	form.Set("action", string(r.Action))
	switch r.Action {
	case ActionSendMessage:
		form.Set("message", r.Message)
		form.Set("client-side-id", r.ClientSideID)
	case ActionRateOperator:
		form.Set("operator_id", r.OperatorID)
		form.Set("rate", strconv.Itoa(r.Rating))
	}
	if r.AuthToken != "" {
		form.Set("auth-token", r.AuthToken)
	}
	if r.PageID != "" {
		form.Set("page-id", r.PageID)
	}

	return form
}

// ParseActionRequest builds the ActionRequest from the form and validates it.
func ParseActionRequest(form url.Values) (ActionRequest, error) {
	r := ActionRequest{
		Action:       ActionType(form.Get("action")),
		ClientSideID: form.Get("client-side-id"),
		Message:      form.Get("message"),
		OperatorID:   form.Get("operator_id"),
		AuthToken:    form.Get("auth-token"),
		PageID:       form.Get("page-id"),
	}
	if rate := form.Get("rate"); rate != "" {
		v, err := strconv.Atoi(rate)
		if err != nil {
			return r, fmt.Errorf("%s: %w", "rate", err)
		}
		r.Rating = v
	}

	return r, r.Validate()
}

// ParseHistoryRequest builds the HistoryRequest from the URL query: "since" selects HistoryForward.
func ParseHistoryRequest(q url.Values) (HistoryRequest, error) {
	r := HistoryRequest{
		Direction: HistoryBackward,
		AuthToken: q.Get("auth-token"),
		PageID:    q.Get("page-id"),
	}
	if q.Has("since") {
		r.Direction = HistoryForward
		r.Since = Revision(q.Get("since"))
	}
	if beforeTs := q.Get("before-ts"); beforeTs != "" {
		v, err := strconv.ParseFloat(beforeTs, 64)
		if err != nil {
			return r, fmt.Errorf("%s: %w", "before-ts", err)
		}
		r.BeforeTs = v
	}
	if limit := q.Get("limit"); limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil {
			return r, fmt.Errorf("%s: %w", "limit", err)
		}
		r.Limit = v
	}

	return r, r.Validate()
}
