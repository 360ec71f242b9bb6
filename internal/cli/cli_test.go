// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/XueChenNyaCl/deepchat/internal/cloud"
	"github.com/XueChenNyaCl/deepchat/internal/config"
	"github.com/XueChenNyaCl/deepchat/internal/session"
	"github.com/XueChenNyaCl/deepchat/internal/storage"
)

// =============================================================================
// COMMAND PARSING
// =============================================================================

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantRest string
	}{
		{"/help", "help", ""},
		{"/SET Temperature 1.2", "set", "Temperature 1.2"},
		{"  /upload   My File.txt  ", "upload", "My File.txt"},
		{"/m\tr1", "m", "r1"},
		{"/", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, rest := splitCommand(tt.input)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestCompleteLine(t *testing.T) {
	assert.Equal(t, []string{"/update api", "/update web", "/upload "}, completeLine("/up"))
	assert.Equal(t, []string{"/m v3", "/m r1"}, completeLine("/M"))
	assert.Equal(t, []string{"/set temperature ", "/set timeout_ms ", "/set truncate_length "}, completeLine("/set t"))
	assert.Equal(t, []string{"/reset all ", "/reset app_name ", "/reset api_endpoint "}, completeLine("/reset a"))
	assert.Nil(t, completeLine("/set temperature 1"))
	assert.Nil(t, completeLine("hello"))
}

func TestTrimHistory(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "line-%d\n", i)
	}
	data := []byte(b.String())

	assert.Equal(t, data, trimHistory(data, 10))
	assert.Equal(t, "line-3\nline-4\n", string(trimHistory(data, 2)))
}

// =============================================================================
// TABLES
// =============================================================================

func TestFormatTable_AlignsWideCharacters(t *testing.T) {
	header, rule, lines := formatTable(
		[]string{"序号", "文件"},
		[][]string{{"1", "summary_1_旅行.txt"}, {"10", "summary_2_plan.txt"}},
	)

	assert.Equal(t, "序号  文件", header)
	assert.Equal(t, strings.Repeat("-", 4+len(columnGap)+18), rule)
	require.Len(t, lines, 2)

	// The second column starts at the same display offset on every line.
	col := runewidth.StringWidth("序号") + len(columnGap)
	want := []string{"文件", "summary_1_旅行.txt", "summary_2_plan.txt"}
	for i, line := range append([]string{header}, lines...) {
		prefix := runewidth.Truncate(line, col, "")
		assert.Equal(t, col, runewidth.StringWidth(prefix), line)
		assert.Equal(t, want[i], strings.TrimPrefix(line, prefix))
	}
}

// =============================================================================
// ERROR DESCRIPTIONS
// =============================================================================

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantMsg  string
		wantHint string
	}{
		{
			name:     "auth failure",
			err:      &cloud.TransportError{Op: "request", Status: 401, Err: cloud.ErrAuthFailed},
			wantMsg:  "API 密钥无效",
			wantHint: hintUpdateAPI,
		},
		{
			name:     "missing key",
			err:      cloud.ErrNotConfigured,
			wantMsg:  "尚未配置",
			wantHint: hintUpdateAPI,
		},
		{
			name:     "timeout",
			err:      fmt.Errorf("round trip: %w", cloud.ErrTimeout),
			wantMsg:  "请求超时",
			wantHint: hintTimeout,
		},
		{
			name:    "server error",
			err:     &cloud.TransportError{Op: "request", Status: 500, Err: &cloud.APIError{Status: 500, Message: "boom"}},
			wantMsg: "HTTP 500",
		},
		{
			name:    "index",
			err:     &storage.IndexError{Index: 3, Count: 1},
			wantMsg: "序号 3 超出范围（共 1 个文件）",
		},
		{
			name:    "malformed summary",
			err:     fmt.Errorf("%w: no title line", storage.ErrMalformedSummary),
			wantMsg: "缺少标题或主旨",
		},
		{
			name:    "file not found",
			err:     &session.FileNotFoundError{Path: "a.txt"},
			wantMsg: "文件不存在：a.txt",
		},
		{
			name:    "validation",
			err:     &config.ValidationError{Field: "max_tokens", Value: "x", Reason: "must be an integer"},
			wantMsg: `max_tokens 的值 "x" 无效`,
		},
		{
			name:    "usage",
			err:     &UsageError{Command: "/del", Usage: "/del <序号>"},
			wantMsg: "用法：/del <序号>",
		},
		{
			name:    "anything else",
			err:     errors.New("disk on fire"),
			wantMsg: "出错了：disk on fire",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, hint := describeError(tt.err)
			assert.Contains(t, msg, tt.wantMsg)
			assert.Equal(t, tt.wantHint, hint)
		})
	}
}

// =============================================================================
// CONSOLE
// =============================================================================

func TestConsole_PlainOffTerminal(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, false)

	assert.False(t, c.tty)
	assert.False(t, c.color)

	c.Warn("注意 %d", 1)
	c.Error(cloud.ErrAuthFailed)
	assert.Equal(t, "注意 1\n错误：API 密钥无效或已过期。\n"+hintUpdateAPI+"\n", out.String())

	src := "package main\n"
	assert.Equal(t, src, c.highlight("main.go", src))
	assert.Equal(t, "# 标题", c.renderMarkdown("# 标题"))
}

func TestTurnView_ReasoningOnlyAfterSuccess(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, true)

	v := c.beginTurn("DeepSeek", false)
	h := v.handler()
	h.OnFirstByte()
	h.OnDelta(cloud.Delta{Text: "ignored when not streaming"})
	v.finish(cloud.Result{Content: "正文\n", Reasoning: "想法\n"}, nil, true)

	assert.Equal(t, "正文\n\n"+reasoningHeader+"\n想法\n", out.String())
}

func TestTurnView_QuietFinish(t *testing.T) {
	var out bytes.Buffer
	v := NewConsole(&out, true).beginTurn("DeepSeek", false)
	v.finish(cloud.Result{Content: "标题：x"}, nil, false)
	assert.Empty(t, out.String())
}

// =============================================================================
// SPINNER
// =============================================================================

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_DrawsAndClears(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out syncBuffer
	s := startSpinnerWith(&out, "DeepSeek "+thinkingSuffix, spinner.Spinner{
		Frames: spinner.Line.Frames,
		FPS:    time.Millisecond,
	})

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "/ DeepSeek 正在思考...")
	}, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "\r| DeepSeek 正在思考..."))
	assert.True(t, strings.HasSuffix(got, "\r"), "line is cleared on stop")
}

func TestSpinner_NilStop(t *testing.T) {
	var s *Spinner
	assert.NotPanics(t, s.Stop)
}
