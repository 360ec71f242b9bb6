// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Slash command handlers and the follow-up prompt steps.

package cli

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/XueChenNyaCl/deepchat/internal/cloud"
	"github.com/XueChenNyaCl/deepchat/internal/config"
	"github.com/XueChenNyaCl/deepchat/internal/model"
)

// Build information, set via -ldflags.
var (
	Version = "dev"
	Author  = "XueChenNyaCl"
)

type commandInfo struct {
	usage   string
	summary string
}

// commandHelp is the /help table, in display order.
var commandHelp = []commandInfo{
	{"/help", "显示帮助"},
	{"/exit", "退出程序"},
	{"/save", "总结并保存当前对话"},
	{"/load", "列出并加载已保存的对话"},
	{"/del <序号>", "删除已保存的对话"},
	{"/r", "返回主输入"},
	{"/m v3|r1", "切换模型（deepseek-chat / deepseek-reasoner）"},
	{"/config", "查看当前配置"},
	{"/set <键> <值>", "修改配置项"},
	{"/reset [all|<键>]", "恢复默认配置"},
	{"/update api|web", "更新 API 密钥或 API 地址"},
	{"/upload <路径>", "上传文件并请求分析"},
}

// completions is the fixed Tab completion list.
var completions = []string{
	"/help", "/exit", "/save", "/load", "/del ", "/r",
	"/m v3", "/m r1", "/config", "/set ", "/reset all", "/reset ",
	"/update api", "/update web", "/upload ",
}

// splitCommand returns the lower-cased command name and the untouched rest.
func splitCommand(input string) (name, rest string) {
	input = strings.TrimSpace(input)
	head := input
	if i := strings.IndexFunc(input, unicode.IsSpace); i >= 0 {
		head, rest = input[:i], input[i:]
	}
	return strings.ToLower(strings.TrimPrefix(head, "/")), strings.TrimSpace(rest)
}

// dispatch runs one slash command.
func (it *Interpreter) dispatch(ctx context.Context, input string) error {
	name, rest := splitCommand(input)
	it.logger.Debug("command", zap.String("name", name))

	switch name {
	case "help":
		it.cmdHelp()
		return nil
	case "exit":
		it.console.Info("再见！")
		it.finish(OutcomeExit)
		return nil
	case "save":
		return it.cmdSave(ctx)
	case "load":
		return it.cmdLoad()
	case "r":
		return nil
	case "m":
		return it.cmdModel(rest)
	case "update":
		return it.cmdUpdate(rest)
	case "set":
		return it.cmdSet(rest)
	case "reset":
		return it.cmdReset(rest)
	case "del":
		return it.cmdDelete(rest)
	case "config":
		it.cmdConfig()
		return nil
	case "upload":
		return it.cmdUpload(ctx, rest)
	}
	it.console.Warn("未知命令：/%s，%s", name, hintHelp)
	return nil
}

func (it *Interpreter) cmdHelp() {
	rows := make([][]string, len(commandHelp))
	for i, c := range commandHelp {
		rows[i] = []string{c.usage, c.summary}
	}
	it.console.Table([]string{"命令", "说明"}, rows)
	it.console.Println()
	it.console.Info("deepchat %s  作者：%s", Version, Author)
}

// =============================================================================
// SUMMARIES
// =============================================================================

func (it *Interpreter) cmdSave(ctx context.Context) error {
	var path string
	err := it.roundTrip(func(h cloud.Handler) (cloud.Result, error) {
		var err error
		path, err = it.session.SaveSummary(ctx, h)
		return cloud.Result{}, err
	}, false)
	if err != nil {
		return err
	}
	it.console.Success("对话总结已保存：%s", path)
	it.push(promptState{kind: promptSaveConfirm})
	return nil
}

func (it *Interpreter) confirmClear(input string) error {
	if input != "yes" {
		it.console.Info("已保留当前对话记录。")
		return nil
	}
	it.session.ClearHistory()
	it.console.Success("对话记录已清空。")
	return nil
}

func (it *Interpreter) cmdLoad() error {
	store, err := it.session.Summaries()
	if err != nil {
		return err
	}
	names, err := store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		it.console.Info("还没有保存的对话。")
		return nil
	}

	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{strconv.Itoa(i + 1), name}
	}
	it.console.Table([]string{"序号", "文件"}, rows)
	it.push(promptState{kind: promptLoadSelect})
	return nil
}

func (it *Interpreter) selectSummary(input string) error {
	if input == "" {
		return nil
	}
	index, err := strconv.Atoi(input)
	if err != nil {
		it.push(promptState{kind: promptLoadSelect})
		return &UsageError{Command: "/load", Usage: "请输入列表中的序号"}
	}

	store, err := it.session.Summaries()
	if err != nil {
		return err
	}
	sum, err := it.session.LoadSummary(store, index)
	if err != nil {
		it.push(promptState{kind: promptLoadSelect})
		return err
	}

	it.console.Success("已加载：%s（%d 条对话）", sum.Title, len(sum.Turns))
	if sum.Synopsis != "" {
		it.console.Info("主旨：%s", sum.Synopsis)
	}
	if sum.Skipped > 0 {
		it.console.Warn("有 %d 行无法解析，已跳过。", sum.Skipped)
	}
	return nil
}

func (it *Interpreter) cmdDelete(rest string) error {
	index, err := strconv.Atoi(rest)
	if err != nil {
		return &UsageError{Command: "/del", Usage: "/del <序号>"}
	}
	store, err := it.session.Summaries()
	if err != nil {
		return err
	}
	path, err := store.Delete(index)
	if err != nil {
		return err
	}
	it.console.Success("已删除：%s", path)
	return nil
}

// =============================================================================
// CONFIG
// =============================================================================

func (it *Interpreter) cmdModel(rest string) error {
	cfg := it.session.Config()
	if rest == "" {
		return &UsageError{Command: "/m", Usage: "/m v3|r1（当前：" + cfg.CurrentModel + "）"}
	}
	info, ok := model.ResolveModel(rest)
	if !ok {
		it.console.Warn("未知模型：%s，可选 v3、r1。", rest)
		return nil
	}
	if _, err := it.store.Set(config.KeyCurrentModel, info.ID); err != nil {
		return err
	}
	it.console.Success("已切换到 %s（%s）", info.Name, info.ID)
	return nil
}

func (it *Interpreter) cmdSet(rest string) error {
	key, value, _ := strings.Cut(rest, " ")
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return &UsageError{Command: "/set", Usage: "/set <键> <值>"}
	}
	change, err := it.store.Set(key, value)
	if err != nil {
		return err
	}
	if change.Warning != "" {
		it.console.Warn("注意：%s", change.Warning)
	}
	it.console.Success("%s：%s → %s", change.Key, change.Old, change.New)
	return nil
}

func (it *Interpreter) cmdReset(rest string) error {
	if rest == "" || strings.EqualFold(rest, "all") {
		if err := it.store.ResetAll(); err != nil {
			return err
		}
		it.console.Success("已恢复全部默认配置。")
		return nil
	}
	change, err := it.store.Reset(rest)
	if err != nil {
		return err
	}
	it.console.Success("%s 已恢复默认值：%s", change.Key, change.New)
	return nil
}

func (it *Interpreter) cmdConfig() {
	entries := it.store.Entries()
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.Key, e.Value}
	}
	it.console.Table([]string{"配置项", "值"}, rows)
	if path := it.store.Path(); path != "" {
		it.console.Info("配置文件：%s", path)
	}
}

// =============================================================================
// CREDENTIALS AND ENDPOINT
// =============================================================================

func (it *Interpreter) cmdUpdate(rest string) error {
	switch strings.ToLower(rest) {
	case "api":
		it.push(promptState{kind: promptAPIKey})
		return nil
	case "web":
		it.push(promptState{kind: promptEndpoint})
		return nil
	}
	return &UsageError{Command: "/update", Usage: "/update api|web"}
}

func (it *Interpreter) enterAPIKey(input string) error {
	if err := config.ValidateAPIKey(input); err != nil {
		it.push(promptState{kind: promptAPIKey})
		return err
	}
	it.push(promptState{kind: promptAPIKeyConfirm, value: input})
	return nil
}

func (it *Interpreter) confirmAPIKey(key, input string) error {
	if input != "yes" {
		it.console.Info("已取消，密钥未修改。")
		return nil
	}
	if err := config.SaveAPIKey(it.envPath, key); err != nil {
		return err
	}
	it.logger.Info("api key updated, restarting", zap.String("env", it.envPath))
	it.console.Success("API 密钥已保存，正在重启...")
	it.finish(OutcomeRestart)
	return nil
}

func (it *Interpreter) enterFirstRunKey(input string) error {
	if err := config.ValidateAPIKey(input); err != nil {
		it.push(promptState{kind: promptFirstRunKey})
		return err
	}
	key := strings.TrimSpace(input)
	if err := config.SaveAPIKey(it.envPath, key); err != nil {
		return err
	}
	it.creds.SetAPIKey(key)
	it.console.Success("API 密钥已保存。")
	return nil
}

func (it *Interpreter) enterEndpoint(input string) error {
	endpoint, err := config.ValidateEndpoint(input)
	if err != nil {
		it.push(promptState{kind: promptEndpoint})
		return err
	}
	if _, err := it.store.Set(config.KeyAPIEndpoint, endpoint); err != nil {
		return err
	}
	it.console.Success("API 地址已更新：%s", endpoint)
	return nil
}

// =============================================================================
// UPLOAD
// =============================================================================

func (it *Interpreter) cmdUpload(ctx context.Context, rest string) error {
	path := strings.Trim(rest, `"'`)
	if path == "" {
		return &UsageError{Command: "/upload", Usage: "/upload <路径>"}
	}
	return it.roundTrip(func(h cloud.Handler) (cloud.Result, error) {
		return it.session.Upload(ctx, path, h)
	}, true)
}
