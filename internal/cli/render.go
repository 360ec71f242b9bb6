// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Console output: status lines, tables, markdown replies,
// highlighted file previews and the live view of one round trip.

package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/XueChenNyaCl/deepchat/internal/cloud"
)

const (
	// InterruptMarker follows partial output of a failed stream.
	InterruptMarker = "[响应中断]"

	reasoningHeader = "思考过程："
	thinkingSuffix  = "正在思考..."
)

// Console writes everything the user sees. Styling, spinners and markdown
// are only used when the output is a terminal.
type Console struct {
	out   io.Writer
	tty   bool
	color bool
	width int

	mdOnce sync.Once
	md     *glamour.TermRenderer
}

// NewConsole creates a console on out.
func NewConsole(out io.Writer, noColor bool) *Console {
	tty := isTerminalWriter(out)
	return &Console{
		out:   out,
		tty:   tty,
		color: tty && !noColor && ColorsEnabled(),
		width: terminalWidth(out),
	}
}

func (c *Console) paint(style lipgloss.Style, s string) string {
	if !c.color {
		return s
	}
	return style.Render(s)
}

// Println writes a plain line.
func (c *Console) Println(a ...any) {
	fmt.Fprintln(c.out, a...)
}

// Info writes a neutral line.
func (c *Console) Info(format string, a ...any) {
	fmt.Fprintln(c.out, c.paint(InfoStyle, fmt.Sprintf(format, a...)))
}

// Success writes a confirmation line.
func (c *Console) Success(format string, a ...any) {
	fmt.Fprintln(c.out, c.paint(SuccessStyle, fmt.Sprintf(format, a...)))
}

// Warn writes a warning line.
func (c *Console) Warn(format string, a ...any) {
	fmt.Fprintln(c.out, c.paint(WarningStyle, fmt.Sprintf(format, a...)))
}

// Error writes the description of err and its hint, if any.
func (c *Console) Error(err error) {
	msg, hint := describeError(err)
	fmt.Fprintln(c.out, c.paint(ErrorStyle, "错误：")+msg)
	if hint != "" {
		fmt.Fprintln(c.out, c.paint(DimStyle, hint))
	}
}

// Table writes a padded table.
func (c *Console) Table(headers []string, rows [][]string) {
	header, rule, lines := formatTable(headers, rows)
	fmt.Fprintln(c.out, c.paint(TitleStyle, header))
	fmt.Fprintln(c.out, c.paint(SeparatorStyle, rule))
	for _, line := range lines {
		fmt.Fprintln(c.out, line)
	}
}

// Rule writes a separator across the terminal.
func (c *Console) Rule() {
	fmt.Fprintln(c.out, c.paint(SeparatorStyle, separator(c.width-4)))
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

func (c *Console) renderer() *glamour.TermRenderer {
	c.mdOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(c.width-4),
		)
		if err == nil {
			c.md = r
		}
	})
	return c.md
}

// renderMarkdown renders content on a terminal and returns it unchanged
// otherwise or on failure.
func (c *Console) renderMarkdown(content string) string {
	if !c.tty {
		return content
	}
	r := c.renderer()
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// SYNTAX HIGHLIGHTING
// =============================================================================

// highlight colors source for terminal output. The lexer is picked from the
// file name first, then from the content.
func (c *Console) highlight(path, source string) string {
	if !c.color {
		return source
	}

	lexer := lexers.Match(filepath.Base(path))
	if lexer == nil {
		lexer = lexers.Analyse(source)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return source
	}
	var b strings.Builder
	if err := formatter.Format(&b, style, iterator); err != nil {
		return source
	}
	return b.String()
}

// =============================================================================
// ROUND-TRIP VIEW
// =============================================================================

// turnView shows one round trip: a spinner until the first byte, then either
// live content deltas or the finished reply.
type turnView struct {
	c      *Console
	label  string
	stream bool

	mu      sync.Mutex
	spin    *Spinner
	shown   bool
	lastNL  bool
	stopped bool
}

func (c *Console) beginTurn(appName string, stream bool) *turnView {
	v := &turnView{c: c, label: appName + " " + thinkingSuffix, stream: stream}
	v.resume()
	return v
}

// handler wires the view to the decoder callbacks.
func (v *turnView) handler() cloud.Handler {
	return cloud.Handler{
		OnFirstByte: v.firstByte,
		OnDelta:     v.delta,
	}
}

func (v *turnView) firstByte() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
	v.spin.Stop()
	v.spin = nil
}

func (v *turnView) delta(d cloud.Delta) {
	if !v.stream || d.Reasoning || d.Text == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprint(v.c.out, d.Text)
	v.shown = true
	v.lastNL = strings.HasSuffix(d.Text, "\n")
}

// pause stops the spinner so the caller can write.
func (v *turnView) pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.spin.Stop()
	v.spin = nil
}

// resume restarts the spinner unless the first byte already arrived.
func (v *turnView) resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped || !v.c.tty || v.spin != nil {
		return
	}
	v.spin = startSpinner(v.c.out, v.label)
}

// finish prints the outcome. Streamed content is already on screen; a failed
// stream keeps it and adds the interrupt marker. With printReply false only
// the marker is ever written.
func (v *turnView) finish(res cloud.Result, err error, printReply bool) {
	v.mu.Lock()
	v.stopped = true
	v.spin.Stop()
	v.spin = nil
	shown, lastNL := v.shown, v.lastNL
	v.mu.Unlock()

	out := v.c.out
	if err != nil {
		if shown {
			if !lastNL {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, v.c.paint(WarningStyle, InterruptMarker))
		}
		return
	}
	if !printReply {
		return
	}

	if shown {
		if !lastNL {
			fmt.Fprintln(out)
		}
	} else if res.Content != "" {
		reply := v.c.renderMarkdown(res.Content)
		fmt.Fprint(out, reply)
		if !strings.HasSuffix(reply, "\n") {
			fmt.Fprintln(out)
		}
	}

	if res.Reasoning != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, v.c.paint(DimStyle, reasoningHeader))
		fmt.Fprintln(out, v.c.paint(DimStyle, strings.TrimRight(res.Reasoning, "\n")))
	}
}
