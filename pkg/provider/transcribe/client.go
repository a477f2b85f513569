package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultFilename = "answer.wav"
)

// Compile-time assertion that Client implements Provider.
var _ Provider = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. The default has a 60 s timeout —
// batch recognition of a long answer can be slow.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithToken sets a bearer token sent with every upload. Empty means
// unauthenticated.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// Client implements [Provider] against an HTTP transcription endpoint that
// accepts a multipart file upload and answers {"text": ...}. Safe for
// concurrent use.
type Client struct {
	endpoint string
	token    string
	hc       *http.Client
}

// New creates a Client for the given transcription endpoint (e.g.
// "http://localhost:8000/stt/transcribe").
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("transcribe: endpoint is required")
	}
	c := &Client{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe implements [Provider]. The clip is uploaded as the multipart
// field "file".
func (c *Client) Transcribe(ctx context.Context, clip *Clip) (string, error) {
	if clip == nil || len(clip.Data) == 0 {
		return "", ErrEmptyAudio
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := clip.Filename
	if filename == "" {
		filename = defaultFilename
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if clip.MIMEType != "" {
		hdr.Set("Content-Type", clip.MIMEType)
	}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("transcribe: build upload: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return "", fmt.Errorf("transcribe: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("transcribe: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("transcribe: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", &ServiceError{Kind: "network", Detail: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &ServiceError{Kind: "auth", StatusCode: resp.StatusCode, Detail: readDetail(resp.Body)}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		// The service rejects clips it cannot decode as empty audio.
		return "", fmt.Errorf("%w: %s", ErrEmptyAudio, readDetail(resp.Body))
	default:
		return "", &ServiceError{Kind: "server", StatusCode: resp.StatusCode, Detail: readDetail(resp.Body)}
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &ServiceError{Kind: "server", StatusCode: resp.StatusCode, Detail: "undecodable response: " + err.Error()}
	}
	return body.Text, nil
}

// readDetail pulls a short failure description out of an error response
// body, tolerating both JSON {"detail": ...} and plain text.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return string(raw)
}
