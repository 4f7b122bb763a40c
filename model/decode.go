package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DecodeRevision normalizes a string or integer wire revision into Revision.
func DecodeRevision(v any) (Revision, error) {
	str, err := decodeScalarID(v)
	if err != nil {
		return "", fmt.Errorf("revision: %w", err)
	}

	return Revision(str), nil
}

// DecodeDeltaResponse decodes a raw polling response.
// Only envelope level problems fail the decode, malformed deltaList elements are dropped and counted.
func DecodeDeltaResponse(raw []byte) (DeltaResponse, error) {
	m, err := decodeObject(raw)
	if err != nil {
		return DeltaResponse{}, err
	}

	return DecodeDeltaResponseMap(m)
}

// DecodeDeltaResponseMap decodes an already parsed polling response.
func DecodeDeltaResponseMap(m map[string]any) (DeltaResponse, error) {
	if m == nil {
		return DeltaResponse{}, fmt.Errorf("%w: response: nil", ErrMalformed)
	}

	revRaw, found := m["revision"]
	if !found || revRaw == nil {
		return DeltaResponse{}, fmt.Errorf("%w: revision: missing", ErrMalformed)
	}
	rev, err := DecodeRevision(revRaw)
	if err != nil {
		return DeltaResponse{}, err
	}
	resp := DeltaResponse{Revision: rev}

	if fuRaw, found := m["fullUpdate"]; found && fuRaw != nil {
		fuMap, ok := fuRaw.(map[string]any)
		if !ok {
			return DeltaResponse{}, fmt.Errorf("%w: fullUpdate: object expected", ErrMalformed)
		}
		fu, err := DecodeFullUpdate(fuMap)
		if err != nil {
			return DeltaResponse{}, fmt.Errorf("fullUpdate: %w", err)
		}
		resp.FullUpdate = &fu
	}

	if listRaw, found := m["deltaList"]; found && listRaw != nil {
		list, ok := listRaw.([]any)
		if !ok {
			return DeltaResponse{}, fmt.Errorf("%w: deltaList: array expected", ErrMalformed)
		}

		resp.DeltaList = make([]DeltaItem, 0, len(list))
		for _, elem := range list {
			itemMap, ok := elem.(map[string]any)
			if !ok {
				resp.Skipped++
				continue
			}
			item, err := DecodeDeltaItem(itemMap)
			if err != nil {
				resp.Skipped++
				continue
			}
			resp.DeltaList = append(resp.DeltaList, item)
		}
	}

	return resp, nil
}

// DecodeDeltaItem decodes a single deltaList element.
// Unknown objectType values are tolerated (ObjectTypeNone), missing event or id are not.
func DecodeDeltaItem(m map[string]any) (DeltaItem, error) {
	eventRaw, _ := m["event"].(string)
	event, ok := ParseEventType(eventRaw)
	if !ok {
		return DeltaItem{}, fmt.Errorf("%w: event: missing or unknown (%v)", ErrMalformed, m["event"])
	}

	id, err := decodeScalarID(m["id"])
	if err != nil {
		return DeltaItem{}, fmt.Errorf("id: %w", err)
	}

	item := DeltaItem{
		Event: event,
		ID:    id,
	}
	if objType, ok := m["objectType"].(string); ok {
		item.ObjectType = ParseObjectType(objType)
	}
	if dataRaw, found := m["data"]; found {
		data, err := json.Marshal(dataRaw)
		if err != nil {
			return DeltaItem{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
		item.Data = data
	}

	return item, nil
}

// DecodeFullUpdate decodes a fullUpdate object.
// Absent fields stay zero: hintsEnabled defaults to false.
func DecodeFullUpdate(m map[string]any) (FullUpdate, error) {
	fu := FullUpdate{
		AuthToken:    optString(m, "authToken"),
		OnlineStatus: optString(m, "onlineStatus"),
		PageID:       optString(m, "pageId"),
		SessionID:    optString(m, "visitSessionId"),
		State:        VisitSessionState(optString(m, "state")),
	}

	if v, ok := m["hintsEnabled"].(bool); ok {
		fu.HintsEnabled = v
	}

	if v, found := m["historyRevision"]; found && v != nil {
		rev, err := decodeInt64(v)
		if err != nil {
			return FullUpdate{}, fmt.Errorf("historyRevision: %w", err)
		}
		fu.HistoryRevision = &rev
	}

	if v, found := m["chat"]; found && v != nil {
		if _, ok := v.(map[string]any); !ok {
			return FullUpdate{}, fmt.Errorf("%w: chat: object expected", ErrMalformed)
		}
		chat, err := DecodeChat(remarshal(v))
		if err != nil {
			return FullUpdate{}, fmt.Errorf("chat: %w", err)
		}
		fu.Chat = &chat
	}

	if v, found := m["messages"]; found && v != nil {
		list, ok := v.([]any)
		if !ok {
			return FullUpdate{}, fmt.Errorf("%w: messages: array expected", ErrMalformed)
		}
		fu.Messages = make([]Message, 0, len(list))
		for _, elem := range list {
			msg, err := DecodeMessage(remarshal(elem))
			if err != nil || msg.ID == "" {
				continue
			}
			fu.Messages = append(fu.Messages, msg)
		}
	}

	if v, found := m["departments"]; found && v != nil {
		deps, err := DecodeDepartments(remarshal(v))
		if err != nil {
			return FullUpdate{}, fmt.Errorf("departments: %w", err)
		}
		fu.Departments = deps
	}

	if v, found := m["visitor"]; found && v != nil {
		fu.VisitorJSON = string(remarshal(v))
	}

	return fu, nil
}

// DecodeFullUpdateJSON decodes a raw fullUpdate object.
func DecodeFullUpdateJSON(raw []byte) (FullUpdate, error) {
	m, err := decodeObject(raw)
	if err != nil {
		return FullUpdate{}, err
	}

	return DecodeFullUpdate(m)
}

// DecodeHistoryResponse decodes a HistorySinceResponse / HistoryBeforeResponse payload.
func DecodeHistoryResponse(raw []byte) (HistoryResponseData, error) {
	m, err := decodeObject(raw)
	if err != nil {
		return HistoryResponseData{}, err
	}

	data, ok := m["data"].(map[string]any)
	if !ok {
		return HistoryResponseData{}, fmt.Errorf("%w: data: object expected", ErrMalformed)
	}

	page := HistoryResponseData{}
	if v, found := data["hasMore"]; found && v != nil {
		hasMore, ok := v.(bool)
		if !ok {
			return HistoryResponseData{}, fmt.Errorf("%w: hasMore: bool expected", ErrMalformed)
		}
		page.HasMore = hasMore
	}

	if v, found := data["revision"]; found && v != nil {
		rev, err := DecodeRevision(v)
		if err != nil {
			return HistoryResponseData{}, err
		}
		page.Revision = rev
	}

	if v, found := data["messages"]; found && v != nil {
		list, ok := v.([]any)
		if !ok {
			return HistoryResponseData{}, fmt.Errorf("%w: messages: array expected", ErrMalformed)
		}
		page.Messages = make([]Message, 0, len(list))
		for _, elem := range list {
			msg, err := DecodeMessage(remarshal(elem))
			if err != nil || msg.ID == "" {
				page.Skipped++
				continue
			}
			page.Messages = append(page.Messages, msg)
		}
	}

	return page, nil
}

// DecodeMessage decodes a CHAT_MESSAGE payload.
func DecodeMessage(data json.RawMessage) (Message, error) {
	return decodeJSON[Message](data)
}

// DecodeChat decodes a CHAT payload.
func DecodeChat(data json.RawMessage) (Chat, error) {
	return decodeJSON[Chat](data)
}

// DecodeOperator decodes a CHAT_OPERATOR payload.
func DecodeOperator(data json.RawMessage) (Operator, error) {
	return decodeJSON[Operator](data)
}

// DecodeOperatorRate decodes an OPERATOR_RATE payload.
func DecodeOperatorRate(data json.RawMessage) (OperatorRate, error) {
	return decodeJSON[OperatorRate](data)
}

// DecodeDepartments decodes a DEPARTMENT_LIST payload.
func DecodeDepartments(data json.RawMessage) ([]Department, error) {
	deps, err := decodeJSON[[]Department](data)
	if err != nil {
		return nil, err
	}
	if deps == nil {
		deps = []Department{}
	}

	return deps, nil
}

// PatchJSON overwrites the fields of dst present in data.
// dst must not share references with live state (Clone it first).
func PatchJSON[T any](dst T, data json.RawMessage) (T, error) {
	if err := json.Unmarshal(data, &dst); err != nil {
		return dst, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return dst, nil
}

// decodeJSON decodes a lazily kept payload.
func decodeJSON[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: payload: missing", ErrMalformed)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return v, nil
}

// decodeObject parses raw JSON into a map keeping numbers as json.Number.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: json: object expected", ErrMalformed)
	}

	return m, nil
}

// decodeScalarID accepts a non-empty string or an integer and returns its canonical string form.
func decodeScalarID(v any) (string, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return "", fmt.Errorf("%w: empty", ErrMalformed)
		}
		return val, nil
	case nil:
		return "", fmt.Errorf("%w: missing", ErrMalformed)
	default:
		n, err := decodeInt64(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	}
}

// decodeInt64 accepts the integer shapes produced by JSON decoders.
func decodeInt64(v any) (int64, error) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: integer expected (%s)", ErrMalformed, val)
		}
		return n, nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.Abs(val) > 1<<53 {
			return 0, fmt.Errorf("%w: integer expected (%v)", ErrMalformed, val)
		}
		return int64(val), nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint32:
		return int64(val), nil
	}

	return 0, fmt.Errorf("%w: integer expected (%T)", ErrMalformed, v)
}

// optString returns a string field, numbers are converted and other shapes are treated as absent.
func optString(m map[string]any, key string) string {
	switch val := m[key].(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	}

	return ""
}

// remarshal converts a parsed JSON value back into raw bytes.
func remarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	return raw
}
