// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/XueChenNyaCl/deepchat/internal/model"
	"github.com/XueChenNyaCl/deepchat/internal/util"
)

// =============================================================================
// FORMAT CONSTANTS
// =============================================================================

const (
	titleLabel    = "标题："
	synopsisLabel = "主旨："
	historyLabel  = "对话历史："

	userLabel      = "用户"
	assistantLabel = "AI"

	// TimeLayout is the per-turn timestamp format, in local time.
	TimeLayout = "2006/1/2 15:04:05"

	// Placeholder replaces turns longer than the truncate length.
	Placeholder = "[**]"

	// MaxTitleRunes bounds the title part of a file name.
	MaxTitleRunes = 50

	filePrefix = "summary_"
	fileExt    = ".txt"
)

var (
	// Labels may be bolded as **标题**： or **标题：**.
	titlePattern    = regexp.MustCompile(`标题(?:\*\*)?[：:](?:\*\*)?(.*)`)
	synopsisPattern = regexp.MustCompile(`主旨(?:\*\*)?[：:](?:\*\*)?(.*)`)
	illegalChars    = regexp.MustCompile(`[:/\\*?"<>|]`)
)

// =============================================================================
// ERRORS
// =============================================================================

// SummaryError is a summary-store error comparable with errors.Is.
type SummaryError struct {
	Message string
}

// Error implements the error interface.
func (e *SummaryError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing summary errors.
func (e *SummaryError) Is(target error) bool {
	t, ok := target.(*SummaryError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrMalformedSummary means the model reply lacks the title or synopsis line.
	ErrMalformedSummary = &SummaryError{Message: "malformed summary"}

	// ErrIndexOutOfRange means a 1-based file index does not exist.
	ErrIndexOutOfRange = &SummaryError{Message: "index out of range"}
)

// IndexError reports a bad 1-based index together with the file count.
type IndexError struct {
	Index int
	Count int
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("summary index %d out of range (have %d)", e.Index, e.Count)
}

// Is matches ErrIndexOutOfRange.
func (e *IndexError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// ParseSummary extracts the title and synopsis from a model reply.
func ParseSummary(text string) (title, synopsis string, err error) {
	tm := titlePattern.FindStringSubmatch(text)
	if tm == nil {
		return "", "", fmt.Errorf("%w: no title line", ErrMalformedSummary)
	}
	sm := synopsisPattern.FindStringSubmatch(text)
	if sm == nil {
		return "", "", fmt.Errorf("%w: no synopsis line", ErrMalformedSummary)
	}
	return strings.TrimSpace(tm[1]), strings.TrimSpace(sm[1]), nil
}

// SanitizeTitle turns a title into a file-name fragment.
func SanitizeTitle(title string) string {
	s := norm.NFKC.String(title)
	s = illegalChars.ReplaceAllString(s, "")
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), "_")
	if runes := []rune(s); len(runes) > MaxTitleRunes {
		s = string(runes[:MaxTitleRunes])
	}
	if s == "" {
		return "untitled"
	}
	return s
}

func roleLabel(r model.Role) string {
	if r == model.RoleUser {
		return userLabel
	}
	return assistantLabel
}

func labelRole(label string) (model.Role, bool) {
	switch strings.TrimSpace(label) {
	case userLabel:
		return model.RoleUser, true
	case assistantLabel:
		return model.RoleAssistant, true
	}
	return "", false
}

// parseTurnLine reads "<timestamp> - <label>: <content>". An unparsable
// timestamp keeps the turn with a zero time.
func parseTurnLine(line string) (model.Turn, bool) {
	stamp, rest, ok := strings.Cut(line, " - ")
	if !ok {
		return model.Turn{}, false
	}
	label, content, ok := strings.Cut(rest, ":")
	if !ok {
		return model.Turn{}, false
	}
	role, ok := labelRole(label)
	if !ok {
		return model.Turn{}, false
	}

	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(stamp), time.Local)
	if err != nil {
		ts = time.Time{}
	}
	content = util.UnescapeLine(strings.TrimPrefix(content, " "))
	return model.NewTurn(role, content, ts), true
}

// =============================================================================
// SUMMARY STORE
// =============================================================================

// Summary is a loaded summary file.
type Summary struct {
	Path     string
	Title    string
	Synopsis string
	Turns    []model.Turn
	// Skipped counts history lines that could not be parsed.
	Skipped int
}

// SummaryStore reads and writes summary files in one directory. Files are
// addressed by their 1-based position in the directory listing.
type SummaryStore struct {
	dir            string
	truncateLength int
	logger         *zap.Logger

	// Now supplies the file-name timestamp.
	Now func() time.Time
}

// NewSummaryStore creates the directory if needed.
func NewSummaryStore(dir string, truncateLength int) (*SummaryStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}
	return &SummaryStore{
		dir:            dir,
		truncateLength: truncateLength,
		logger:         zap.NewNop(),
		Now:            time.Now,
	}, nil
}

// WithLogger sets the logger used for skipped lines.
func (s *SummaryStore) WithLogger(logger *zap.Logger) *SummaryStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Dir returns the summary directory.
func (s *SummaryStore) Dir() string { return s.dir }

// Save writes a summary file for turns. Nothing is written when summaryText
// lacks the title or synopsis.
func (s *SummaryStore) Save(turns []model.Turn, summaryText string) (string, error) {
	title, synopsis, err := ParseSummary(summaryText)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(titleLabel + title + "\n")
	b.WriteString(synopsisLabel + synopsis + "\n\n")
	b.WriteString(historyLabel + "\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s - %s: %s\n",
			t.Timestamp.Local().Format(TimeLayout), roleLabel(t.Role), s.renderContent(t.Content))
	}

	path := s.uniquePath(SanitizeTitle(title))
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	s.logger.Info("summary saved", zap.String("path", path), zap.Int("turns", len(turns)))
	return path, nil
}

func (s *SummaryStore) renderContent(content string) string {
	if s.truncateLength > 0 && util.RuneLen(content) > s.truncateLength {
		return Placeholder
	}
	return util.EscapeLine(content)
}

// uniquePath bumps the millisecond stamp until the name is free.
func (s *SummaryStore) uniquePath(title string) string {
	ms := s.Now().UnixMilli()
	for {
		path := filepath.Join(s.dir, fmt.Sprintf("%s%d_%s%s", filePrefix, ms, title, fileExt))
		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		ms++
	}
}

// List returns the file names in directory order. Sub-directories and
// dot-files are not listed.
func (s *SummaryStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *SummaryStore) resolve(index int) (string, error) {
	names, err := s.List()
	if err != nil {
		return "", err
	}
	if index < 1 || index > len(names) {
		return "", &IndexError{Index: index, Count: len(names)}
	}
	return filepath.Join(s.dir, names[index-1]), nil
}

// Load reads the file at the 1-based index and returns its title, synopsis
// and the most recent turns.
func (s *SummaryStore) Load(index int) (*Summary, error) {
	path, err := s.resolve(index)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}

	sum := parseSummaryFile(string(data))
	sum.Path = path
	if sum.Skipped > 0 {
		s.logger.Warn("skipped malformed summary lines",
			zap.String("path", path), zap.Int("skipped", sum.Skipped))
	}
	return sum, nil
}

func parseSummaryFile(text string) *Summary {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	sum := &Summary{}
	if len(lines) > 0 {
		sum.Title = strings.TrimSpace(strings.TrimPrefix(lines[0], titleLabel))
	}
	if len(lines) > 1 {
		sum.Synopsis = strings.TrimSpace(strings.TrimPrefix(lines[1], synopsisLabel))
	}

	var turns []model.Turn
	inHistory := false
	for _, line := range lines {
		if !inHistory {
			inHistory = strings.HasPrefix(line, historyLabel)
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		turn, ok := parseTurnLine(line)
		if !ok {
			sum.Skipped++
			continue
		}
		turns = append(turns, turn)
	}

	if len(turns) > model.MaxOutboundTurns {
		turns = turns[len(turns)-model.MaxOutboundTurns:]
	}
	sum.Turns = turns
	return sum
}

// Delete removes the file at the 1-based index and returns its path.
func (s *SummaryStore) Delete(index int) (string, error) {
	path, err := s.resolve(index)
	if err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to delete summary: %w", err)
	}
	s.logger.Info("summary deleted", zap.String("path", path))
	return path, nil
}
