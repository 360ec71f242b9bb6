// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// ReasoningMarker flags a delta that belongs to the reasoning channel.
const ReasoningMarker = "**思考过程**"

// doneSentinel is the payload that terminates an SSE stream.
const doneSentinel = "[DONE]"

// MaxLineSize bounds a single unterminated SSE line (1MB).
const MaxLineSize = 1 << 20

// readChunkSize is the buffer used when pumping a response body.
const readChunkSize = 32 * 1024

// ErrLineTooLong is returned when a line exceeds MaxLineSize without a newline.
var ErrLineTooLong = errors.New("stream line exceeds maximum size")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// streamChunk is one SSE payload of a chat-completions stream.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Delta is one increment of decoded output.
type Delta struct {
	Text      string
	Reasoning bool
}

// Handler receives decoder events. Both callbacks are optional.
type Handler struct {
	// OnFirstByte fires once per request, before any OnDelta.
	OnFirstByte func()

	// OnDelta receives deltas in arrival order.
	OnDelta func(Delta)
}

// Result is the accumulated output of one request.
type Result struct {
	Content   string
	Reasoning string
}

// StreamError is returned when a stream fails after it started. The partial
// output is discarded; Received tells how much had arrived.
type StreamError struct {
	Received int
	Err      error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("stream interrupted after %d bytes: %v", e.Received, e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder reassembles SSE lines from arbitrarily fragmented chunks and splits
// the deltas into content and reasoning. One decoder serves one request.
type Decoder struct {
	h      Handler
	logger *zap.Logger

	partial   []byte
	content   strings.Builder
	reasoning strings.Builder

	firstByte   bool
	done        bool
	parseErrors int
	received    int
}

// NewDecoder creates a decoder reporting to h. A nil logger discards.
func NewDecoder(h Handler, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{h: h, logger: logger}
}

// Write consumes one raw chunk. Complete lines are processed immediately;
// the remainder is kept for the next call.
func (d *Decoder) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	d.received += len(p)
	if !d.firstByte {
		d.firstByte = true
		if d.h.OnFirstByte != nil {
			d.h.OnFirstByte()
		}
	}

	d.partial = append(d.partial, p...)
	consumed := 0
	for {
		i := bytes.IndexByte(d.partial[consumed:], '\n')
		if i < 0 {
			break
		}
		d.handleLine(d.partial[consumed : consumed+i])
		consumed += i + 1
	}
	if consumed > 0 {
		d.partial = append(d.partial[:0], d.partial[consumed:]...)
	}
	if len(d.partial) > MaxLineSize {
		return len(p), ErrLineTooLong
	}
	return len(p), nil
}

// Close processes a trailing unterminated line.
func (d *Decoder) Close() error {
	if len(d.partial) > 0 {
		d.handleLine(d.partial)
		d.partial = nil
	}
	return nil
}

// Result returns everything decoded so far.
func (d *Decoder) Result() Result {
	return Result{Content: d.content.String(), Reasoning: d.reasoning.String()}
}

// Done reports whether the [DONE] sentinel was seen.
func (d *Decoder) Done() bool { return d.done }

// ParseErrors returns the number of payloads skipped as malformed.
func (d *Decoder) ParseErrors() int { return d.parseErrors }

// Received returns the number of raw bytes written.
func (d *Decoder) Received() int { return d.received }

func (d *Decoder) handleLine(raw []byte) {
	line := strings.TrimSpace(string(bytes.TrimSuffix(raw, []byte("\r"))))
	if line == "" {
		return
	}
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// event:, id:, retry: and comments carry nothing we use.
		return
	}
	payload = strings.TrimSpace(payload)
	if payload == doneSentinel {
		d.done = true
		return
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		d.parseErrors++
		d.logger.Warn("skipping malformed stream payload",
			zap.Error(err),
			zap.Int("bytes", len(payload)),
			zap.Int("parse_errors", d.parseErrors))
		return
	}
	if len(chunk.Choices) == 0 {
		return
	}

	delta := chunk.Choices[0].Delta
	if delta.ReasoningContent != "" {
		d.emit(delta.ReasoningContent, true)
	}
	if strings.Contains(delta.Content, ReasoningMarker) {
		d.emit(strings.TrimSpace(strings.ReplaceAll(delta.Content, ReasoningMarker, "")), true)
		return
	}
	d.emit(delta.Content, false)
}

func (d *Decoder) emit(text string, reasoning bool) {
	if text == "" {
		return
	}
	if reasoning {
		d.reasoning.WriteString(text)
	} else {
		d.content.WriteString(text)
	}
	if d.h.OnDelta != nil {
		d.h.OnDelta(Delta{Text: text, Reasoning: reasoning})
	}
}

// =============================================================================
// STREAM PUMP
// =============================================================================

// DecodeStream pumps r through a decoder until EOF. A read error or context
// cancellation yields a *StreamError and no partial result.
func DecodeStream(ctx context.Context, r io.Reader, h Handler, logger *zap.Logger) (Result, error) {
	d := NewDecoder(h, logger)
	buf := make([]byte, readChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, &StreamError{Received: d.Received(), Err: err}
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := d.Write(buf[:n]); werr != nil {
				return Result{}, &StreamError{Received: d.Received(), Err: werr}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, &StreamError{Received: d.Received(), Err: err}
		}
	}

	d.Close()
	return d.Result(), nil
}

// DecodeCompletion parses a non-streamed chat-completions body.
func DecodeCompletion(body []byte) (Result, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, ErrEmptyResponse
	}
	return Result{Content: resp.GetContent()}, nil
}
