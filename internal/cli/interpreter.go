// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// interpreter.go - The prompt loop.
//
// The interpreter owns a queue of pending prompts. Handlers push follow-up
// prompts (a confirmation, a file index, a new key) instead of reading input
// themselves, and an empty queue means the top-level prompt. Any input that
// starts with "/" inside a follow-up prompt drops the rest of that flow and
// is dispatched as a command.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/XueChenNyaCl/deepchat/internal/cloud"
	"github.com/XueChenNyaCl/deepchat/internal/config"
	"github.com/XueChenNyaCl/deepchat/internal/session"
	"github.com/XueChenNyaCl/deepchat/internal/util"
)

// Outcome tells main what to do after Run returns.
type Outcome int

const (
	// OutcomeExit ends the process.
	OutcomeExit Outcome = iota
	// OutcomeRestart re-executes the process so a new API key takes effect.
	OutcomeRestart
)

func (o Outcome) String() string {
	if o == OutcomeRestart {
		return "restart"
	}
	return "exit"
}

// Credentials holds the live API key. *cloud.Client satisfies it.
type Credentials interface {
	SetAPIKey(key string)
	IsConfigured() bool
}

type promptKind int

const (
	promptTop promptKind = iota
	promptSaveConfirm
	promptLoadSelect
	promptAPIKey
	promptAPIKeyConfirm
	promptEndpoint
	promptFirstRunKey
)

// promptState is one pending prompt. value carries data between steps of a
// flow, such as the key awaiting confirmation.
type promptState struct {
	kind  promptKind
	value string
}

func (p promptState) text() string {
	switch p.kind {
	case promptSaveConfirm:
		return "是否清空当前对话记录？输入 yes 确认："
	case promptLoadSelect:
		return "输入序号加载总结（/del <序号> 删除，/r 返回）："
	case promptAPIKey:
		return "请输入新的 API 密钥："
	case promptAPIKeyConfirm:
		return "保存新密钥并重启？输入 yes 确认："
	case promptEndpoint:
		return "请输入新的 API 地址："
	case promptFirstRunKey:
		return "未找到 API 密钥，请输入 DeepSeek API 密钥："
	}
	return "你> "
}

// Options configures an Interpreter.
type Options struct {
	Reader      LineReader
	Console     *Console
	Session     *session.Session
	Store       *config.Store
	Credentials Credentials

	// EnvPath is the .env file that receives new API keys.
	EnvPath string

	// Changes signals external edits of the config file. May be nil.
	Changes <-chan struct{}

	Logger *zap.Logger
}

// Interpreter runs the command loop. It is not safe for concurrent use.
type Interpreter struct {
	reader  LineReader
	console *Console
	session *session.Session
	store   *config.Store
	creds   Credentials
	envPath string
	changes <-chan struct{}
	logger  *zap.Logger

	queue    []promptState
	view     *turnView
	finished bool
	outcome  Outcome
}

// NewInterpreter creates an interpreter. Without a configured key the first
// prompt asks for one.
func NewInterpreter(opts Options) *Interpreter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	it := &Interpreter{
		reader:  opts.Reader,
		console: opts.Console,
		session: opts.Session,
		store:   opts.Store,
		creds:   opts.Credentials,
		envPath: opts.EnvPath,
		changes: opts.Changes,
		logger:  logger,
	}
	if it.creds != nil && !it.creds.IsConfigured() {
		it.push(promptState{kind: promptFirstRunKey})
	}
	it.session.OnUpload = it.previewUpload
	return it
}

func (it *Interpreter) push(states ...promptState) {
	it.queue = append(it.queue, states...)
}

func (it *Interpreter) next() promptState {
	if len(it.queue) == 0 {
		return promptState{kind: promptTop}
	}
	p := it.queue[0]
	it.queue = it.queue[1:]
	return p
}

func (it *Interpreter) finish(o Outcome) {
	it.finished = true
	it.outcome = o
}

// Run prompts until /exit, end of input, a confirmed key update or ctx is
// done. Command and round-trip errors are printed and never end the loop.
func (it *Interpreter) Run(ctx context.Context) (Outcome, error) {
	it.banner()

	for !it.finished {
		if err := ctx.Err(); err != nil {
			return OutcomeExit, err
		}
		it.applyConfigChanges()

		state := it.next()
		line, err := it.reader.Prompt(state.text())
		if errors.Is(err, io.EOF) {
			it.console.Println()
			return OutcomeExit, nil
		}
		if err != nil {
			return OutcomeExit, fmt.Errorf("failed to read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if state.kind != promptTop && strings.HasPrefix(input, "/") {
			it.logger.Debug("prompt flow aborted", zap.Int("pending", len(it.queue)))
			it.queue = it.queue[:0]
			state = promptState{kind: promptTop}
		}

		if err := it.step(ctx, state, input); err != nil {
			it.logger.Debug("command failed", zap.Error(err))
			it.console.Error(err)
		}
	}

	it.logger.Info("interpreter finished", zap.Stringer("outcome", it.outcome))
	return it.outcome, nil
}

func (it *Interpreter) banner() {
	cfg := it.session.Config()
	it.console.Info("欢迎使用 %s！当前模型：%s", cfg.AppName, cfg.CurrentModel)
	it.console.Info("直接输入内容开始对话，输入 /help 查看命令。")
}

// applyConfigChanges reloads the store when the file changed on disk.
func (it *Interpreter) applyConfigChanges() {
	if it.changes == nil {
		return
	}
	pending := false
	for drained := false; !drained; {
		select {
		case <-it.changes:
			pending = true
		default:
			drained = true
		}
	}
	if !pending {
		return
	}

	changed, err := it.store.Reload()
	if err != nil {
		it.logger.Warn("config reload failed", zap.Error(err))
		it.console.Warn("配置文件无法解析，继续使用当前配置。")
		return
	}
	if changed {
		it.logger.Info("config reloaded", zap.String("path", it.store.Path()))
		it.console.Info("配置文件已更新。")
	}
}

// step handles the input of one prompt.
func (it *Interpreter) step(ctx context.Context, state promptState, input string) error {
	switch state.kind {
	case promptSaveConfirm:
		return it.confirmClear(input)
	case promptLoadSelect:
		return it.selectSummary(input)
	case promptAPIKey:
		return it.enterAPIKey(input)
	case promptAPIKeyConfirm:
		return it.confirmAPIKey(state.value, input)
	case promptEndpoint:
		return it.enterEndpoint(input)
	case promptFirstRunKey:
		return it.enterFirstRunKey(input)
	}

	switch {
	case input == "":
		it.console.Warn("输入不能为空。")
		return nil
	case strings.HasPrefix(input, "/"):
		return it.dispatch(ctx, input)
	}
	return it.chat(ctx, input)
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

// roundTrip runs send under a turn view. With printReply false the reply is
// not shown; the caller reports the result.
func (it *Interpreter) roundTrip(send func(cloud.Handler) (cloud.Result, error), printReply bool) error {
	cfg := it.session.Config()
	view := it.console.beginTurn(cfg.AppName, cfg.EnableStream && printReply)
	it.view = view
	defer func() { it.view = nil }()

	res, err := send(view.handler())
	view.finish(res, err, printReply)
	return err
}

func (it *Interpreter) chat(ctx context.Context, text string) error {
	return it.roundTrip(func(h cloud.Handler) (cloud.Result, error) {
		return it.session.SendTurn(ctx, text, h)
	}, true)
}

// previewPrefixRunes bounds the upload preview.
const previewPrefixRunes = 2000

func (it *Interpreter) previewUpload(path, content string) {
	if it.view != nil {
		it.view.pause()
		defer it.view.resume()
	}
	preview := util.TruncateRunes(content, previewPrefixRunes)
	it.console.Info("文件预览：%s", path)
	it.console.Rule()
	out := it.console.highlight(path, preview)
	it.console.Println(strings.TrimRight(out, "\n"))
	it.console.Rule()
}
