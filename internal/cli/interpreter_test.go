// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XueChenNyaCl/deepchat/internal/cloud"
	"github.com/XueChenNyaCl/deepchat/internal/config"
	"github.com/XueChenNyaCl/deepchat/internal/model"
	"github.com/XueChenNyaCl/deepchat/internal/session"
	"github.com/XueChenNyaCl/deepchat/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

// scriptedReader replays lines and records the prompts it was shown.
type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Prompt(prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

// fakeCompleter replays results. Streamed requests deliver the content as a
// delta and partial, when set, before failing with the scripted error.
type fakeCompleter struct {
	requests []cloud.Request
	replies  []cloud.Result
	errs     []error
	partial  string
}

func (f *fakeCompleter) Complete(_ context.Context, req cloud.Request, h cloud.Handler) (cloud.Result, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1

	if i < len(f.errs) && f.errs[i] != nil {
		if f.partial != "" {
			h.OnFirstByte()
			h.OnDelta(cloud.Delta{Text: f.partial})
		}
		return cloud.Result{}, f.errs[i]
	}

	res := cloud.Result{Content: fmt.Sprintf("reply-%d", i)}
	if i < len(f.replies) {
		res = f.replies[i]
	}
	h.OnFirstByte()
	if req.Stream {
		if res.Reasoning != "" {
			h.OnDelta(cloud.Delta{Text: res.Reasoning, Reasoning: true})
		}
		h.OnDelta(cloud.Delta{Text: res.Content})
	}
	return res, nil
}

type fakeCredentials struct {
	key string
}

func (f *fakeCredentials) SetAPIKey(key string) { f.key = key }
func (f *fakeCredentials) IsConfigured() bool   { return f.key != "" }

const validKey = "sk-0123456789abcdef0123"

type harness struct {
	it      *Interpreter
	out     *bytes.Buffer
	reader  *scriptedReader
	fc      *fakeCompleter
	store   *config.Store
	sess    *session.Session
	creds   *fakeCredentials
	envPath string
	dir     string
}

func newHarness(t *testing.T, fc *fakeCompleter, lines ...string) *harness {
	t.Helper()
	cfg := *config.Default()
	cfg.SummaryDir = t.TempDir()
	return newHarnessWithStore(t, config.NewMemoryStore(cfg), fc, lines...)
}

func newHarnessWithStore(t *testing.T, store *config.Store, fc *fakeCompleter, lines ...string) *harness {
	t.Helper()
	h := &harness{
		out:     &bytes.Buffer{},
		reader:  &scriptedReader{lines: lines},
		fc:      fc,
		store:   store,
		creds:   &fakeCredentials{key: validKey},
		envPath: filepath.Join(t.TempDir(), ".env"),
		dir:     store.Config().SummaryDir,
	}
	h.sess = session.New(store, fc, nil)
	h.it = NewInterpreter(Options{
		Reader:      h.reader,
		Console:     NewConsole(h.out, true),
		Session:     h.sess,
		Store:       store,
		Credentials: h.creds,
		EnvPath:     h.envPath,
	})
	return h
}

func (h *harness) run(t *testing.T) Outcome {
	t.Helper()
	outcome, err := h.it.Run(context.Background())
	require.NoError(t, err)
	return outcome
}

// =============================================================================
// LOOP
// =============================================================================

func TestInterpreter_ExitStopsPrompting(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/exit", "never read")

	assert.Equal(t, OutcomeExit, h.run(t))
	assert.Equal(t, []string{"never read"}, h.reader.lines)
	assert.Contains(t, h.out.String(), "再见")
}

func TestInterpreter_EndOfInputExits(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	assert.Equal(t, OutcomeExit, h.run(t))
	assert.Len(t, h.reader.prompts, 1)
}

func TestInterpreter_CancelledContext(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "hello")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.it.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.reader.prompts)
}

func TestInterpreter_EmptyInputWarns(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "   ", "/exit")
	h.run(t)
	assert.Contains(t, h.out.String(), "输入不能为空")
	assert.Empty(t, h.fc.requests)
}

func TestInterpreter_UnknownCommandWarns(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/frobnicate now", "/exit")
	assert.Equal(t, OutcomeExit, h.run(t))
	assert.Contains(t, h.out.String(), "未知命令：/frobnicate")
}

func TestInterpreter_CommandNamesAreCaseInsensitive(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/M r1", "/EXIT")
	assert.Equal(t, OutcomeExit, h.run(t))
	assert.Equal(t, model.ModelReasoner, h.store.Config().CurrentModel)
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestInterpreter_ChatTurnStreamsContentThenReasoning(t *testing.T) {
	fc := &fakeCompleter{replies: []cloud.Result{{Content: "答案", Reasoning: "推理"}}}
	h := newHarness(t, fc, "问题", "/exit")
	h.run(t)

	out := h.out.String()
	require.Len(t, fc.requests, 1)
	assert.True(t, fc.requests[0].Stream)
	assert.Equal(t, 1, strings.Count(out, "答案"), "streamed content is written once")
	assert.Less(t, strings.Index(out, "答案"), strings.Index(out, reasoningHeader))
	assert.Contains(t, out, "推理")
	assert.Equal(t, 2, h.sess.History().Len())
}

func TestInterpreter_NonStreamedReplyPrintedPlain(t *testing.T) {
	fc := &fakeCompleter{replies: []cloud.Result{{Content: "**粗体**"}}}
	h := newHarness(t, fc, "/set enable_stream false", "问题", "/exit")
	h.run(t)

	require.Len(t, fc.requests, 1)
	assert.False(t, fc.requests[0].Stream)
	assert.Contains(t, h.out.String(), "**粗体**\n", "no markdown rendering off a terminal")
}

func TestInterpreter_MidStreamFailureKeepsPartialAndMarks(t *testing.T) {
	fc := &fakeCompleter{
		errs:    []error{&cloud.StreamError{Received: 10, Err: io.ErrUnexpectedEOF}},
		partial: "半句",
	}
	h := newHarness(t, fc, "问题", "/exit")
	h.run(t)

	out := h.out.String()
	assert.Contains(t, out, "半句\n"+InterruptMarker+"\n")
	assert.Less(t, strings.Index(out, InterruptMarker), strings.Index(out, "错误："))
	require.Equal(t, 1, h.sess.History().Len(), "failed turn leaves only the user turn")
}

func TestInterpreter_AuthFailureShowsHint(t *testing.T) {
	fc := &fakeCompleter{errs: []error{
		&cloud.TransportError{Op: "request", Status: 401, Err: cloud.ErrAuthFailed},
	}}
	h := newHarness(t, fc, "hi", "/exit")

	assert.Equal(t, OutcomeExit, h.run(t))
	out := h.out.String()
	assert.Contains(t, out, "API 密钥无效")
	assert.Contains(t, out, "输入 /update api 手动更新 API 密钥。")
	assert.NotContains(t, out, InterruptMarker)
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func TestInterpreter_SetInvalidLeavesConfig(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/set temperature abc", "/exit")
	h.run(t)

	assert.Equal(t, 0.7, h.store.Config().Temperature)
	assert.Contains(t, h.out.String(), `temperature 的值 "abc" 无效`)
}

func TestInterpreter_SetAndAdvisoryWarning(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/set temperature 2.5", "/set app_name Deep Seek", "/exit")
	h.run(t)

	cfg := h.store.Config()
	assert.Equal(t, 2.5, cfg.Temperature)
	assert.Equal(t, "Deep Seek", cfg.AppName, "values keep their spaces")
	assert.Contains(t, h.out.String(), "注意：")
}

func TestInterpreter_SetUsageAndUnknownKey(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/set temperature", "/set colour red", "/exit")
	h.run(t)

	out := h.out.String()
	assert.Contains(t, out, "用法：/set <键> <值>")
	assert.Contains(t, out, "未知的配置项")
}

func TestInterpreter_ResetAllRestoresDefaults(t *testing.T) {
	h := newHarness(t, &fakeCompleter{},
		"/set temperature 1.5", "/set max_tokens 42", "/m r1", "/reset all", "/exit")
	h.run(t)

	assert.Equal(t, *config.Default(), h.store.Config())
	assert.Equal(t, *config.Default(), h.sess.Config(), "session reads the restored values")
}

func TestInterpreter_ResetOneKey(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/set max_tokens 42", "/set timeout 500", "/reset max_tokens", "/exit")
	h.run(t)

	cfg := h.store.Config()
	assert.Equal(t, 1000, cfg.MaxTokens)
	assert.Equal(t, 500, cfg.TimeoutMs)
}

func TestInterpreter_ModelSwitch(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/m gpt", "/m", "/m r1", "hi", "/exit")
	h.run(t)

	out := h.out.String()
	assert.Contains(t, out, "未知模型：gpt")
	assert.Contains(t, out, "用法：/m v3|r1")
	require.Len(t, h.fc.requests, 1)
	assert.Equal(t, model.ModelReasoner, h.fc.requests[0].Model)
	assert.Equal(t, model.ModelReasoner, h.store.Config().CurrentModel)
}

func TestInterpreter_ConfigTable(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/config", "/exit")
	h.run(t)

	out := h.out.String()
	for _, key := range config.Keys() {
		assert.Contains(t, out, key)
	}
	assert.Contains(t, out, "0.7")
}

func TestInterpreter_Help(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/help", "/exit")
	h.run(t)

	out := h.out.String()
	assert.Contains(t, out, "/upload <路径>")
	assert.Contains(t, out, Version)
	assert.Contains(t, out, Author)
}

// =============================================================================
// SUMMARY COMMANDS
// =============================================================================

func TestInterpreter_DeleteOnEmptyDirectory(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/del 1", "/exit")
	h.run(t)

	assert.Contains(t, h.out.String(), "序号 1 超出范围（共 0 个文件）")
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInterpreter_SaveConfirmClearsHistory(t *testing.T) {
	fc := &fakeCompleter{replies: []cloud.Result{
		{Content: "a1"},
		{Content: "标题：测试\n主旨：一次对话"},
	}}
	h := newHarness(t, fc, "q1", "/save", "yes", "/exit")
	h.run(t)

	assert.True(t, h.sess.History().IsEmpty())
	assert.Contains(t, h.reader.prompts, promptState{kind: promptSaveConfirm}.text())

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "测试")
}

func TestInterpreter_SaveDeclineKeepsHistory(t *testing.T) {
	fc := &fakeCompleter{replies: []cloud.Result{
		{Content: "a1"},
		{Content: "标题：测试\n主旨：一次对话"},
	}}
	h := newHarness(t, fc, "q1", "/save", "y", "/exit")
	h.run(t)

	assert.Equal(t, 2, h.sess.History().Len(), "only a literal yes clears")
}

func TestInterpreter_SaveMalformedWritesNothing(t *testing.T) {
	fc := &fakeCompleter{replies: []cloud.Result{{Content: "a1"}, {Content: "没有标题"}}}
	h := newHarness(t, fc, "q1", "/save", "/exit")
	h.run(t)

	assert.Contains(t, h.out.String(), "缺少标题或主旨")
	assert.NotContains(t, h.reader.prompts, promptState{kind: promptSaveConfirm}.text())
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInterpreter_CommandAbortsNestedFlow(t *testing.T) {
	fc := &fakeCompleter{replies: []cloud.Result{
		{Content: "a1"},
		{Content: "标题：测试\n主旨：一次对话"},
	}}
	h := newHarness(t, fc, "q1", "/save", "/m r1", "yes", "/exit")
	h.run(t)

	assert.Equal(t, model.ModelReasoner, h.store.Config().CurrentModel)
	// "yes" after the abort is an ordinary chat turn, so nothing was cleared.
	assert.Equal(t, 4, h.sess.History().Len())
	require.Len(t, fc.requests, 3)
	last := fc.requests[2].Messages
	assert.Equal(t, "yes", last[len(last)-1].Content)
}

func saveFixture(t *testing.T, dir string, turns int) {
	t.Helper()
	store, err := storage.NewSummaryStore(dir, 300)
	require.NoError(t, err)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	var ts []model.Turn
	for i := 0; i < turns; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		ts = append(ts, model.NewTurn(role, fmt.Sprintf("turn-%d", i), at))
	}
	_, err = store.Save(ts, "标题：旧对话\n主旨：以前聊过")
	require.NoError(t, err)
}

func TestInterpreter_LoadSelectReplacesHistory(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/load", "1", "/exit")
	saveFixture(t, h.dir, 4)
	h.run(t)

	out := h.out.String()
	assert.Contains(t, out, "已加载：旧对话")
	assert.Contains(t, out, "主旨：以前聊过")
	turns := h.sess.History().Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, "turn-3", turns[3].Content)
}

func TestInterpreter_LoadBadIndexReprompts(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/load", "7", "abc", "/r", "/exit")
	saveFixture(t, h.dir, 2)
	h.run(t)

	selectPrompt := promptState{kind: promptLoadSelect}.text()
	count := 0
	for _, p := range h.reader.prompts {
		if p == selectPrompt {
			count++
		}
	}
	assert.Equal(t, 3, count)
	assert.Contains(t, h.out.String(), "序号 7 超出范围（共 1 个文件）")
	assert.True(t, h.sess.History().IsEmpty())
}

func TestInterpreter_DeleteFromLoadPrompt(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/load", "/del 1", "/exit")
	saveFixture(t, h.dir, 2)
	h.run(t)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, h.out.String(), "已删除")
}

func TestInterpreter_LoadEmptyDirectory(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/load", "/exit")
	h.run(t)

	assert.Contains(t, h.out.String(), "还没有保存的对话")
	assert.NotContains(t, h.reader.prompts, promptState{kind: promptLoadSelect}.text())
}

// =============================================================================
// CREDENTIALS AND ENDPOINT
// =============================================================================

func TestInterpreter_UpdateAPIRequestsRestart(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/update api", "too-short", validKey, "yes", "never read")

	assert.Equal(t, OutcomeRestart, h.run(t))
	assert.Equal(t, []string{"never read"}, h.reader.lines)

	data, err := os.ReadFile(h.envPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), config.APIKeyEnv+"="+validKey)
	assert.Contains(t, h.out.String(), "api_key 无效")
}

func TestInterpreter_UpdateAPIDeclined(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/update api", validKey, "no", "/exit")

	assert.Equal(t, OutcomeExit, h.run(t))
	_, err := os.Stat(h.envPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "declined key is not written")
}

func TestInterpreter_UpdateWeb(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/update web", "not a url!", "api.example.com/v1/chat", "/exit")
	h.run(t)

	assert.Equal(t, "https://api.example.com/v1/chat", h.store.Config().APIEndpoint)
	endpointPrompt := promptState{kind: promptEndpoint}.text()
	assert.Equal(t, endpointPrompt, h.reader.prompts[1])
	assert.Equal(t, endpointPrompt, h.reader.prompts[2])
}

func TestInterpreter_UpdateUsage(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/update", "/exit")
	h.run(t)
	assert.Contains(t, h.out.String(), "用法：/update api|web")
}

func TestInterpreter_FirstRunAsksForKey(t *testing.T) {
	cfg := *config.Default()
	cfg.SummaryDir = t.TempDir()
	store := config.NewMemoryStore(cfg)
	fc := &fakeCompleter{}

	reader := &scriptedReader{lines: []string{"short", validKey, "hi", "/exit"}}
	creds := &fakeCredentials{}
	envPath := filepath.Join(t.TempDir(), ".env")
	it := NewInterpreter(Options{
		Reader:      reader,
		Console:     NewConsole(&bytes.Buffer{}, true),
		Session:     session.New(store, fc, nil),
		Store:       store,
		Credentials: creds,
		EnvPath:     envPath,
	})

	outcome, err := it.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExit, outcome)

	firstRun := promptState{kind: promptFirstRunKey}.text()
	assert.Equal(t, []string{firstRun, firstRun}, reader.prompts[:2])
	assert.Equal(t, validKey, creds.key)
	assert.Len(t, fc.requests, 1, "the new key is used without a restart")

	key, err := config.LoadAPIKey(envPath)
	require.NoError(t, err)
	if os.Getenv(config.APIKeyEnv) == "" {
		assert.Equal(t, validKey, key)
	}
}

// =============================================================================
// UPLOAD
// =============================================================================

func TestInterpreter_UploadMissingFile(t *testing.T) {
	h := newHarness(t, &fakeCompleter{}, "/upload "+filepath.Join(t.TempDir(), "missing.txt"), "/exit")
	h.run(t)

	assert.Contains(t, h.out.String(), "文件不存在")
	assert.Empty(t, h.fc.requests)
	assert.True(t, h.sess.History().IsEmpty())
}

func TestInterpreter_UploadPreviewsAndSends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0644))

	h := newHarness(t, &fakeCompleter{}, `/upload "`+path+`"`, "/exit")
	h.run(t)

	out := h.out.String()
	assert.Contains(t, out, "文件预览")
	assert.Contains(t, out, "package main")
	require.Len(t, h.fc.requests, 1)
	msgs := h.fc.requests[0].Messages
	assert.Equal(t, session.UploadPrefix+"package main\n", msgs[len(msgs)-1].Content)
}

// =============================================================================
// CONFIG RELOAD
// =============================================================================

func TestInterpreter_ReloadsConfigOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	store, err := config.Open(path)
	require.NoError(t, err)

	changes := make(chan struct{}, 1)
	h := newHarnessWithStore(t, store, &fakeCompleter{}, "/exit")
	h.it.changes = changes

	edited := store.Config()
	edited.Temperature = 1.3
	require.NoError(t, config.SaveTOML(&edited, path))
	changes <- struct{}{}

	h.run(t)
	assert.Equal(t, 1.3, store.Config().Temperature)
	assert.Contains(t, h.out.String(), "配置文件已更新")
}

func TestInterpreter_BrokenConfigKeepsLiveValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	store, err := config.Open(path)
	require.NoError(t, err)

	changes := make(chan struct{}, 1)
	h := newHarnessWithStore(t, store, &fakeCompleter{}, "/exit")
	h.it.changes = changes

	require.NoError(t, os.WriteFile(path, []byte("temperature = [broken"), 0600))
	changes <- struct{}{}

	h.run(t)
	assert.Equal(t, 0.7, store.Config().Temperature)
	assert.Contains(t, h.out.String(), "配置文件无法解析")
}
