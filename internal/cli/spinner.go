// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/mattn/go-runewidth"
)

// Spinner redraws one status line until stopped. It owns the writer while
// running; nothing else may write to it until Stop returns.
type Spinner struct {
	out      io.Writer
	label    string
	frames   []string
	interval time.Duration

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// startSpinner draws "<frame> <label>" using the bubbles Line frames.
func startSpinner(out io.Writer, label string) *Spinner {
	return startSpinnerWith(out, label, spinner.Line)
}

func startSpinnerWith(out io.Writer, label string, def spinner.Spinner) *Spinner {
	interval := def.FPS
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	s := &Spinner{
		out:      out,
		label:    label,
		frames:   def.Frames,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Spinner) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	width := 0
	for i := 0; ; i++ {
		line := s.frames[i%len(s.frames)] + " " + s.label
		width = runewidth.StringWidth(line)
		fmt.Fprint(s.out, "\r"+line)

		select {
		case <-s.stop:
			fmt.Fprint(s.out, "\r"+strings.Repeat(" ", width)+"\r")
			return
		case <-ticker.C:
		}
	}
}

// Stop clears the line and waits for the drawing goroutine. Safe to call
// more than once and on a nil spinner.
func (s *Spinner) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
