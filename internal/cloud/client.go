// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Configuration constants for the chat-completions API.
const (
	// DefaultEndpoint is the DeepSeek chat-completions URL.
	DefaultEndpoint = "https://api.deepseek.com/v1/chat/completions"

	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed non-streamed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "deepchat/1.0"
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// No client timeout; every request is bounded by its context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Error variables for common API errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientBalance indicates the account ran out of credit.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTimeout indicates the request outlived its timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrEmptyResponse indicates a response without choices.
	ErrEmptyResponse = errors.New("empty response")
)

// APIError is an error body returned by the service.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// TransportError wraps every failure of a round trip. Status is zero when no
// response was received.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body sent to the chat-completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatResponse is a non-streamed chat-completions response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Request describes one round trip. Zero Timeout means DefaultTimeout; empty
// Endpoint means the client's endpoint.
type Request struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	Stream      bool
	Timeout     time.Duration
	Endpoint    string
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	mu     sync.RWMutex
	apiKey string

	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a client with the given API key. An empty key is allowed;
// requests then fail with ErrNotConfigured until SetAPIKey is called.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		endpoint:   DefaultEndpoint,
		httpClient: sharedHTTPClient,
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		logger:     zap.NewNop(),
	}
}

// WithEndpoint sets the default endpoint.
func (c *Client) WithEndpoint(url string) *Client {
	c.endpoint = url
	return c
}

// WithHTTPClient replaces the shared HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLimiter sets the client-side pacing. Nil disables it.
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// SetAPIKey replaces the API key.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = strings.TrimSpace(key)
}

// IsConfigured returns true if an API key is set.
func (c *Client) IsConfigured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// APIKeyMasked returns a display form that exposes no key fragment.
func (c *Client) APIKeyMasked() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.apiKey == "" {
		return "[not set]"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), hex.EncodeToString(h[:4]))
}

func (c *Client) key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Complete runs one round trip. The request races the timeout until the
// response is in hand: for a stream that is when the headers arrive, for a
// plain reply when the body has been read. Whichever finishes first decides
// the outcome, and callbacks from the losing side are dropped.
func (c *Client) Complete(ctx context.Context, req Request, h Handler) (Result, error) {
	if !c.IsConfigured() {
		return Result{}, &TransportError{Op: "complete", Err: ErrNotConfigured}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, &TransportError{Op: "wait", Err: err}
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer timer.Stop()
	settle := func() { timer.Stop() }

	g := &gate{}
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.roundTrip(ctx, req, g.wrap(h), settle)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		g.close()
		if out.err != nil && timedOut.Load() {
			return Result{}, &TransportError{Op: "complete", Err: ErrTimeout}
		}
		if out.err != nil && ctx.Err() != nil {
			return Result{}, &TransportError{Op: "complete", Err: context.Cause(ctx)}
		}
		return out.res, out.err
	case <-ctx.Done():
		g.close()
		if timedOut.Load() {
			c.logger.Warn("request abandoned", zap.Duration("timeout", timeout))
			return Result{}, &TransportError{Op: "complete", Err: ErrTimeout}
		}
		err := context.Cause(ctx)
		c.logger.Warn("request abandoned", zap.Error(err))
		return Result{}, &TransportError{Op: "complete", Err: err}
	}
}

// roundTrip sends the request and decodes the response. settle is called
// once the response is in hand and the timeout no longer applies.
func (c *Client) roundTrip(ctx context.Context, req Request, h Handler, settle func()) (Result, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = c.endpoint
	}

	bodyBytes, err := json.Marshal(ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	})
	if err != nil {
		return Result{}, &TransportError{Op: "encode", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Result{}, &TransportError{Op: "request", Err: err}
	}
	requestID := uuid.NewString()
	c.setHeaders(httpReq, req.Stream)
	httpReq.Header.Set("X-Request-Id", requestID)

	logger := c.logger.With(zap.String("request_id", requestID))
	logger.Debug("api request",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Bool("stream", req.Stream))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()
	logger.Info("api response", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readResponse(resp)
		return Result{}, &TransportError{
			Op:     "request",
			Status: resp.StatusCode,
			Err:    handleErrorResponse(resp.StatusCode, body),
		}
	}

	if req.Stream {
		settle()
		res, err := DecodeStream(ctx, resp.Body, h, logger)
		if err != nil {
			return Result{}, &TransportError{Op: "stream", Status: resp.StatusCode, Err: err}
		}
		logger.Debug("stream complete", zap.Duration("elapsed", time.Since(start)))
		return res, nil
	}

	body, err := readResponse(resp)
	if err != nil {
		return Result{}, &TransportError{Op: "read", Status: resp.StatusCode, Err: err}
	}
	settle()
	if h.OnFirstByte != nil {
		h.OnFirstByte()
	}
	res, err := DecodeCompletion(body)
	if err != nil {
		return Result{}, &TransportError{Op: "decode", Status: resp.StatusCode, Err: err}
	}
	return res, nil
}

// setHeaders sets authentication and content headers. The key is never logged.
func (c *Client) setHeaders(req *http.Request, stream bool) {
	req.Header.Set("Authorization", "Bearer "+c.key())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}
}

func readResponse(resp *http.Response) ([]byte, error) {
	// SECURITY: Limit response size to prevent memory exhaustion
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		switch statusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthFailed, apiErr.Error.Message)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, apiErr.Error.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Error.Message)
		default:
			return &APIError{Code: apiErr.Error.Code, Message: apiErr.Error.Message, Status: statusCode}
		}
	}

	// Fallback for unparseable error responses
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientBalance
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &APIError{Message: strings.TrimSpace(string(body)), Status: statusCode}
	}
}

// =============================================================================
// CALLBACK GATE
// =============================================================================

// gate forwards handler callbacks until closed. close waits for an in-flight
// callback, so nothing fires after Complete returns.
type gate struct {
	mu     sync.Mutex
	closed bool
}

func (g *gate) do(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		fn()
	}
}

func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *gate) wrap(h Handler) Handler {
	var out Handler
	if h.OnFirstByte != nil {
		out.OnFirstByte = func() { g.do(h.OnFirstByte) }
	}
	if h.OnDelta != nil {
		out.OnDelta = func(d Delta) { g.do(func() { h.OnDelta(d) }) }
	}
	return out
}
