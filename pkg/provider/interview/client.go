package interview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultTimeout = 15 * time.Second

// Compile-time assertions that Client satisfies both contracts.
var (
	_ Source    = (*Client)(nil)
	_ Submitter = (*Client)(nil)
)

// APIError is a non-auth, non-validation failure reported by the backend.
type APIError struct {
	// StatusCode is the HTTP status the backend answered with.
	StatusCode int

	// Detail is the backend's human-readable failure description.
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("interview: api error (status %d): %s", e.StatusCode, e.Detail)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. The default has a 15 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// Client talks to the interview backend over HTTP, authenticating every
// request with a bearer token. It implements [Source] and [Submitter] and is
// safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

// New creates a Client for the backend at baseURL (e.g.
// "http://localhost:8000") using token for Authorization.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("interview: invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL: baseURL,
		token:   token,
		hc:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ResolveAudioRef resolves a question's audio reference (a server-relative
// path such as "/static/tts/abc.mp3") against the backend base URL.
func (c *Client) ResolveAudioRef(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err == nil && u.IsAbs() {
		return ref
	}
	return c.baseURL + ref
}

// currentResponse mirrors the backend's /interview/{id}/current payload.
type currentResponse struct {
	Done     bool `json:"done"`
	Index    int  `json:"index"`
	Total    int  `json:"total"`
	Question *struct {
		ID         int    `json:"id"`
		Text       string `json:"text"`
		Topic      string `json:"topic"`
		Difficulty string `json:"difficulty"`
		AudioURL   string `json:"audio_url"`
	} `json:"question"`
}

// Current implements [Source].
func (c *Client) Current(ctx context.Context, sessionID string) (Current, error) {
	endpoint := fmt.Sprintf("%s/interview/%s/current", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Current{}, fmt.Errorf("interview: build request: %w", err)
	}

	var body currentResponse
	if err := c.do(req, &body); err != nil {
		return Current{}, err
	}

	cur := Current{Done: body.Done, Index: body.Index, Total: body.Total}
	if body.Question != nil {
		cur.Question = &Question{
			ID:         body.Question.ID,
			Text:       body.Question.Text,
			Topic:      body.Question.Topic,
			Difficulty: body.Question.Difficulty,
			AudioRef:   body.Question.AudioURL,
		}
	}
	if !cur.Done && cur.Question == nil {
		return Current{}, &APIError{StatusCode: http.StatusOK, Detail: "response carries neither done nor a question"}
	}
	return cur, nil
}

// SubmitAnswer implements [Submitter].
func (c *Client) SubmitAnswer(ctx context.Context, sessionID, transcript string) (SubmitResult, error) {
	payload, err := json.Marshal(map[string]string{"transcript": transcript})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("interview: encode answer: %w", err)
	}

	endpoint := fmt.Sprintf("%s/interview/%s/answer", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("interview: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		OK        bool `json:"ok"`
		Completed bool `json:"completed"`
	}
	if err := c.do(req, &body); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Completed: body.Completed}, nil
}

// Health probes the backend's /health endpoint. Used by readiness checks.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("interview: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("interview: health probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Detail: "health probe failed"}
	}
	return nil
}

// do executes req with auth, maps error statuses, and decodes a 200 body
// into out.
func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("interview: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := decodeDetail(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuthExpired, detail)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &ValidationError{Detail: detail}
		default:
			return &APIError{StatusCode: resp.StatusCode, Detail: detail}
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("interview: decode response: %w", err)
	}
	return nil
}

// decodeDetail extracts the backend's "detail" field, which is either a
// plain string or a list of {"msg": ...} objects.
func decodeDetail(r io.Reader) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil || len(body.Detail) == 0 {
		return "unknown error"
	}

	var s string
	if json.Unmarshal(body.Detail, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(body.Detail, &items) == nil && len(items) > 0 && items[0].Msg != "" {
		return items[0].Msg
	}
	return "status " + strconv.Quote(string(body.Detail))
}
