// Package backend provides the HTTP client for the NE-AI learning backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/felixgeelhaar/neai/internal/memory"
	"github.com/felixgeelhaar/neai/internal/observe"
)

// Endpoint paths served by the backend.
const (
	PathMemory        = "/memory"
	PathUploadText    = "/upload_text"
	PathUploadFile    = "/upload_file"
	PathExecuteIntent = "/execute_intent"
	PathFeedback      = "/feedback"
)

const maxErrorBody = 200

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// RetryPolicy controls retries of the idempotent memory fetch.
// Mutating requests are never retried.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Client talks to the backend over HTTP.
type Client struct {
	BaseURL    string
	httpClient *http.Client
	token      string
	retry      RetryPolicy
	obs        *observe.Observer
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithRetry sets the retry policy for the memory fetch.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithObserver sets the observer used for logs and spans.
func WithObserver(o *observe.Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.obs = o
		}
	}
}

// New creates a backend client. A base URL without scheme gets "http://".
func New(baseURL string, opts ...Option) *Client {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: DefaultRetryPolicy(),
		obs:   observe.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List fetches the current memory items. Network errors and 5xx answers are
// retried with exponential backoff.
func (c *Client) List(ctx context.Context) ([]memory.Item, error) {
	ctx, span := c.obs.StartSpan(ctx, "backend.List")
	defer span.End()

	b := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		b.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		b.MaxInterval = c.retry.MaxInterval
	}

	attempt := 0
	operation := func() ([]memory.Item, error) {
		attempt++
		items, err := c.fetchMemory(ctx)
		if err == nil {
			return items, nil
		}
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		c.obs.Log().Debug().Int("attempt", attempt).Err(err).Msg("memory fetch failed, retrying")
		return nil, err
	}

	tries := c.retry.MaxTries
	if tries == 0 {
		tries = 1
	}
	items, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
	)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return items, nil
}

func (c *Client) fetchMemory(ctx context.Context) ([]memory.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+PathMemory, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, PathMemory)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var items []memory.Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, &decodeError{err: err}
	}
	return items, nil
}

// UploadText submits text to the learning endpoint.
func (c *Client) UploadText(ctx context.Context, text string) error {
	return c.postForm(ctx, PathUploadText, url.Values{"text": {text}})
}

// ExecuteIntent submits a command text for interpretation by the backend.
func (c *Client) ExecuteIntent(ctx context.Context, text string) error {
	return c.postForm(ctx, PathExecuteIntent, url.Values{"text": {text}})
}

// SendFeedback submits a positive or negative judgment for a memory item.
func (c *Client) SendFeedback(ctx context.Context, id string, positive bool) error {
	return c.postForm(ctx, PathFeedback, url.Values{
		"id":       {id},
		"positive": {strconv.FormatBool(positive)},
	})
}

// UploadFile submits file content as multipart form data under field "file".
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader) error {
	ctx, span := c.obs.StartSpan(ctx, "backend.UploadFile")
	defer span.End()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+PathUploadFile, &body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req, PathUploadFile)
	if err != nil {
		span.RecordError(err)
		return err
	}
	drain(resp)
	return nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) error {
	ctx, span := c.obs.StartSpan(ctx, "backend.POST "+endpoint)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, endpoint)
	if err != nil {
		span.RecordError(err)
		return err
	}
	drain(resp)
	return nil
}

// do sends the request and turns non-2xx answers into *StatusError.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: HTTP request failed: %w", endpoint, err)
	}

	c.obs.Log().Debug().
		Str("method", req.Method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("elapsed", time.Since(start).String()).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &StatusError{
			Endpoint: endpoint,
			Code:     resp.StatusCode,
			Body:     strings.TrimSpace(string(excerpt)),
		}
	}
	return resp, nil
}

// decodeError marks a response body that is not a memory item list.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("failed to decode memory list: %v", e.err)
}

func (e *decodeError) Unwrap() error {
	return e.err
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var de *decodeError
	if errors.As(err, &de) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
