package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/itiky/chatsync/model"
)

type (
	// Transport delivers raw server payloads.
	Transport interface {
		// Poll performs a single (long) poll returning the raw DeltaResponse.
		Poll(ctx context.Context, req model.DeltaRequest) ([]byte, error)
		// History requests a raw history page.
		History(ctx context.Context, req model.HistoryRequest) ([]byte, error)
	}

	// ActionSender is implemented by Transport objects able to send visitor actions.
	ActionSender interface {
		Action(ctx context.Context, req model.ActionRequest) error
	}

	// HTTPTransport implements Transport and ActionSender over HTTP long-poll.
	HTTPTransport struct {
		baseURL    string
		httpClient *http.Client
	}

	// HTTPStatusError is a non-OK server response.
	HTTPStatusError struct {
		StatusCode int
		Body       string
	}
)

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Poll implements the Transport interface.
func (t *HTTPTransport) Poll(ctx context.Context, req model.DeltaRequest) ([]byte, error) {
	return t.do(ctx, http.MethodGet, model.DeltaPath, req.Query(), nil)
}

// History implements the Transport interface.
func (t *HTTPTransport) History(ctx context.Context, req model.HistoryRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("request validation: %w", err)
	}

	return t.do(ctx, http.MethodGet, model.HistoryPath, req.Query(), nil)
}

// Action implements the ActionSender interface.
func (t *HTTPTransport) Action(ctx context.Context, req model.ActionRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("request validation: %w", err)
	}

	_, err := t.do(ctx, http.MethodPost, model.ActionPath, nil, req.Form())

	return err
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, query, form url.Values) ([]byte, error) {
	reqURL := t.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{
			StatusCode: httpResp.StatusCode,
			Body:       string(bytes.TrimSpace(raw)),
		}
	}

	return raw, nil
}

// NewHTTPTransport creates a new HTTPTransport object.
// The request timeout must exceed the server long-poll timeout.
func NewHTTPTransport(serverURL string, requestTimeout time.Duration) (*HTTPTransport, error) {
	if requestTimeout <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "requestTimeout")
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", "serverURL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s: http(s) scheme expected (%s)", "serverURL", serverURL)
	}

	return &HTTPTransport{
		baseURL: strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}, nil
}
