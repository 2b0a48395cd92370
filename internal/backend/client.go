// Package backend is the HTTP client for the document, graph and test
// generation services. It adds no retries: every call is one request.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phuslu/log"
)

type Client struct {
	documentsURL  string
	generationURL string
	httpClient    *http.Client
}

// New returns a client for the documents API at documentsURL and the
// generation API at generationURL.
func New(documentsURL, generationURL string, timeout time.Duration) *Client {
	return &Client{
		documentsURL:  strings.TrimRight(documentsURL, "/"),
		generationURL: strings.TrimRight(generationURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response. Detail holds the backend's "detail"
// field when one was sent.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// UserMessage returns the text shown to the user for err: the backend
// detail verbatim when present, fallback otherwise.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

type request struct {
	method      string
	url         string
	body        io.Reader
	contentType string
}

func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.url, err)
	}
	log.Debug().
		Str("method", r.method).
		Str("url", r.url).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: parseDetail(body)}
	}
	return resp, nil
}

// do sends r and decodes a JSON response into out. An empty body leaves
// out untouched.
func (c *Client) do(ctx context.Context, r request, out any) error {
	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding %s response: %w", r.url, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		url:         url,
		body:        bytes.NewReader(data),
		contentType: "application/json",
	}, out)
}

func (c *Client) postForm(ctx context.Context, url string, form *formBody, out any) error {
	body, contentType, err := form.finish()
	if err != nil {
		return err
	}
	return c.do(ctx, request{method: http.MethodPost, url: url, body: body, contentType: contentType}, out)
}

// parseDetail extracts the "detail" field of an error body. FastAPI sends
// either a string or a list of validation errors carrying "msg".
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &list); err == nil {
		var msgs []string
		for _, item := range list {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
