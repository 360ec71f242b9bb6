// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/XueChenNyaCl/deepchat/internal/cloud"
	"github.com/XueChenNyaCl/deepchat/internal/config"
	"github.com/XueChenNyaCl/deepchat/internal/model"
	"github.com/XueChenNyaCl/deepchat/internal/storage"
)

// UploadPrefix is prepended to uploaded file content.
const UploadPrefix = "请分析以下文件内容：\n"

// MaxUploadSize bounds /upload files (1MB).
const MaxUploadSize = 1 << 20

const summaryPrompt = `请总结以下对话的主旨信息，并生成一个简短的小标题（不超过 10 个字）。
回复格式必须严格遵循以下格式：
标题：<标题内容>
主旨：<主旨内容>

对话内容：
%s
`

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrFileNotFound is matched by FileNotFoundError.
	ErrFileNotFound = errors.New("file not found")

	// ErrEmptyHistory means there is nothing to summarize.
	ErrEmptyHistory = errors.New("conversation history is empty")

	// ErrFileTooLarge means an upload exceeds MaxUploadSize.
	ErrFileTooLarge = errors.New("file too large")
)

// FileNotFoundError names an upload path that does not exist.
type FileNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

// Is matches ErrFileNotFound.
func (e *FileNotFoundError) Is(target error) bool {
	return target == ErrFileNotFound
}

// =============================================================================
// SESSION
// =============================================================================

// Completer runs one round trip. *cloud.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req cloud.Request, h cloud.Handler) (cloud.Result, error)
}

// Session is used from the interpreter goroutine only.
type Session struct {
	store   *config.Store
	client  Completer
	history *model.History
	logger  *zap.Logger

	// Now stamps new turns.
	Now func() time.Time

	// OnUpload, when set, sees an upload's content before it is sent.
	OnUpload func(path, content string)
}

// New creates a session with an empty history.
func New(store *config.Store, client Completer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		store:   store,
		client:  client,
		history: model.NewHistory(),
		logger:  logger,
		Now:     time.Now,
	}
}

// History returns the live history.
func (s *Session) History() *model.History { return s.history }

// Config returns the current config.
func (s *Session) Config() config.Config { return s.store.Config() }

// ClearHistory empties the history.
func (s *Session) ClearHistory() {
	s.history.Clear()
	s.logger.Debug("history cleared")
}

func buildRequest(cfg config.Config, turns []model.Turn, stream bool) cloud.Request {
	msgs := make([]cloud.ChatMessage, len(turns))
	for i, t := range turns {
		msgs[i] = cloud.ChatMessage{Role: t.Role.String(), Content: t.Content}
	}
	return cloud.Request{
		Model:       cfg.CurrentModel,
		Messages:    msgs,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      stream,
		Timeout:     cfg.Timeout(),
		Endpoint:    cfg.APIEndpoint,
	}
}

// SendTurn appends the user turn, sends the most recent turns and, on
// success, appends the reply. A failed round trip leaves the user turn in
// history and adds nothing else.
func (s *Session) SendTurn(ctx context.Context, text string, h cloud.Handler) (cloud.Result, error) {
	cfg := s.store.Config()
	s.history.Append(model.NewTurn(model.RoleUser, text, s.Now()))

	req := buildRequest(cfg, s.history.Outbound(model.MaxOutboundTurns), cfg.EnableStream)
	res, err := s.client.Complete(ctx, req, h)
	if err != nil {
		s.logger.Warn("turn failed", zap.Error(err), zap.Int("history", s.history.Len()))
		return cloud.Result{}, err
	}

	s.history.Append(model.NewTurn(model.RoleAssistant, res.Content, s.Now()))
	s.logger.Debug("turn complete",
		zap.String("model", cfg.CurrentModel),
		zap.Int("history", s.history.Len()),
		zap.Int("content_runes", len([]rune(res.Content))),
		zap.Int("reasoning_runes", len([]rune(res.Reasoning))))
	return res, nil
}

// Summarize asks the model for a title and synopsis of the whole history in
// one non-streamed round trip. The history itself is not changed.
func (s *Session) Summarize(ctx context.Context, h cloud.Handler) (string, error) {
	if s.history.IsEmpty() {
		return "", ErrEmptyHistory
	}

	var b strings.Builder
	for i, t := range s.history.Turns() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", t.Role, t.Content)
	}
	prompt := fmt.Sprintf(summaryPrompt, b.String())

	cfg := s.store.Config()
	req := buildRequest(cfg, []model.Turn{model.NewTurn(model.RoleUser, prompt, s.Now())}, false)
	res, err := s.client.Complete(ctx, req, h)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// Summaries opens the summary store configured right now.
func (s *Session) Summaries() (*storage.SummaryStore, error) {
	cfg := s.store.Config()
	store, err := storage.NewSummaryStore(cfg.SummaryDir, cfg.TruncateLength)
	if err != nil {
		return nil, err
	}
	return store.WithLogger(s.logger), nil
}

// SaveSummary summarizes the history and writes it to the summary store.
func (s *Session) SaveSummary(ctx context.Context, h cloud.Handler) (string, error) {
	reply, err := s.Summarize(ctx, h)
	if err != nil {
		return "", err
	}
	store, err := s.Summaries()
	if err != nil {
		return "", err
	}
	return store.Save(s.history.Turns(), reply)
}

// LoadSummary replaces the history with the turns of the file at index.
func (s *Session) LoadSummary(store *storage.SummaryStore, index int) (*storage.Summary, error) {
	sum, err := store.Load(index)
	if err != nil {
		return nil, err
	}
	s.history.Replace(sum.Turns)
	s.logger.Info("summary loaded", zap.String("path", sum.Path), zap.Int("turns", len(sum.Turns)))
	return sum, nil
}

// ReadUpload reads a file for /upload.
func ReadUpload(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &FileNotFoundError{Path: path}
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxUploadSize {
		return "", fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// Upload sends the file content as a synthetic user turn.
func (s *Session) Upload(ctx context.Context, path string, h cloud.Handler) (cloud.Result, error) {
	content, err := ReadUpload(path)
	if err != nil {
		return cloud.Result{}, err
	}
	if s.OnUpload != nil {
		s.OnUpload(path, content)
	}
	s.logger.Info("uploading file", zap.String("path", path), zap.Int("bytes", len(content)))
	return s.SendTurn(ctx, UploadPrefix+content, h)
}
